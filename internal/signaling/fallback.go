package signaling

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/diagnostics"
	"github.com/aura-webinar/meshmeet/internal/models"
)

// PrimaryDialer opens the preferred backend. It must give up within its own
// connect timeout.
type PrimaryDialer func(ctx context.Context) (*RelayTransport, error)

// FallbackDialer opens the backend used once the primary is unavailable.
type FallbackDialer func(ctx context.Context) (Transport, error)

// FallbackTransport prefers the relay and switches to the fallback backend
// for good when the relay cannot be reached or stops reconnecting.
// Subscribers registered on it survive the switch.
type FallbackTransport struct {
	subs        *subscribers
	reconnected callbacks
	fallback    FallbackDialer
	logger      *zap.Logger
	rec         diagnostics.Recorder

	mu       sync.Mutex
	active   Transport
	unsub    func()
	switched bool
	closed   bool
}

// Connect tries primary, then fallback. It fails only when both fail.
func Connect(ctx context.Context, primary PrimaryDialer, fallback FallbackDialer, logger *zap.Logger, rec diagnostics.Recorder) (*FallbackTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = diagnostics.Nop{}
	}
	f := &FallbackTransport{
		subs:     newSubscribers(logger),
		fallback: fallback,
		logger:   logger,
		rec:      rec,
	}

	if primary != nil {
		relay, err := primary(ctx)
		if err == nil {
			f.mu.Lock()
			f.use(relay)
			f.mu.Unlock()
			relay.OnExhausted(func() { f.switchToFallback(context.Background(), "relay reconnect attempts exhausted") })
			relay.OnReconnect(f.reconnected.fire)
			return f, nil
		}
		logger.Warn("websocket not available, using broadcast fallback", zap.Error(err))
		rec.Record(diagnostics.KindNetwork, diagnostics.SeverityHigh, "relay unreachable, falling back to broadcast",
			map[string]string{"error": err.Error()})
	}

	t, err := fallback(ctx)
	if err != nil {
		return nil, fmt.Errorf("fallback transport: %w", err)
	}
	f.mu.Lock()
	f.use(t)
	f.switched = true
	f.mu.Unlock()
	return f, nil
}

// use must be called with f.mu held.
func (f *FallbackTransport) use(t Transport) {
	if f.unsub != nil {
		f.unsub()
	}
	f.active = t
	f.unsub = t.Subscribe(f.subs.dispatch)
}

func (f *FallbackTransport) switchToFallback(ctx context.Context, reason string) {
	f.mu.Lock()
	if f.switched || f.closed {
		f.mu.Unlock()
		return
	}
	f.switched = true
	old := f.active
	f.mu.Unlock()

	f.logger.Warn("switching signaling to broadcast", zap.String("reason", reason))
	t, err := f.fallback(ctx)
	if err != nil {
		f.logger.Error("broadcast fallback failed", zap.Error(err))
		f.rec.Record(diagnostics.KindNetwork, diagnostics.SeverityCritical, "broadcast fallback failed",
			map[string]string{"error": err.Error()})
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = t.Close()
		return
	}
	f.use(t)
	f.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	f.logger.Info("signaling switched to broadcast")
	f.reconnected.fire()
}

// OnReconnect registers f to run after the relay redials and after the
// switch to the fallback backend.
func (f *FallbackTransport) OnReconnect(fn func()) func() { return f.reconnected.add(fn) }

func (f *FallbackTransport) current() Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *FallbackTransport) Send(msg models.SignalingMessage) {
	t := f.current()
	if t == nil {
		f.logger.Warn("signaling not connected, message not sent", zap.String("type", string(msg.Type)))
		return
	}
	t.Send(msg)
}

func (f *FallbackTransport) Subscribe(h Handler) func() { return f.subs.add(h) }

func (f *FallbackTransport) IsConnected() bool {
	t := f.current()
	return t != nil && t.IsConnected()
}

func (f *FallbackTransport) Kind() Kind {
	t := f.current()
	if t == nil {
		return KindNone
	}
	return t.Kind()
}

// FellBack reports whether the fallback backend is in use.
func (f *FallbackTransport) FellBack() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.switched
}

func (f *FallbackTransport) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	t, unsub := f.active, f.unsub
	f.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if t == nil {
		return nil
	}
	return t.Close()
}
