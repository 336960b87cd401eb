package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/diagnostics"
	"github.com/aura-webinar/meshmeet/internal/models"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 65536
	sendBuffer     = 256
)

// RelayConfig configures the WebSocket relay backend.
type RelayConfig struct {
	URL            string
	Token          string
	ConnectTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int
	PingInterval   time.Duration
	PongWait       time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	return c
}

// Backoff returns the delay before reconnect attempt n (1-based): base
// doubled per attempt, capped at max.
func (c RelayConfig) Backoff(n int) time.Duration {
	d := c.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}

// RelayTransport is a persistent WebSocket connection to a signaling relay.
// Unexpected closes are retried with exponential backoff; once the attempts
// run out the registered exhaustion callback fires and the transport stays
// disconnected.
type RelayTransport struct {
	cfg    RelayConfig
	dialer *websocket.Dialer
	subs   *subscribers
	logger *zap.Logger
	rec    diagnostics.Recorder

	reconnected callbacks

	mu          sync.Mutex
	conn        *websocket.Conn
	out         chan []byte
	connected   bool
	closed      bool
	onExhausted func()
	done        chan struct{}
}

// DialRelay connects to cfg.URL and fails if the socket does not open
// within cfg.ConnectTimeout.
func DialRelay(ctx context.Context, cfg RelayConfig, logger *zap.Logger, rec diagnostics.Recorder) (*RelayTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = diagnostics.Nop{}
	}
	cfg = cfg.withDefaults()
	t := &RelayTransport{
		cfg:    cfg,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.ConnectTimeout},
		subs:   newSubscribers(logger),
		logger: logger,
		rec:    rec,
		done:   make(chan struct{}),
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	t.attach(conn)
	t.logger.Info("websocket signaling connected", zap.String("url", cfg.URL))
	return t, nil
}

func (t *RelayTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	if t.cfg.Token != "" {
		q := u.Query()
		q.Set("token", t.cfg.Token)
		u.RawQuery = q.Encode()
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	conn, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return conn, nil
}

func (t *RelayTransport) attach(conn *websocket.Conn) {
	out := make(chan []byte, sendBuffer)
	t.mu.Lock()
	t.conn = conn
	t.out = out
	t.connected = true
	t.mu.Unlock()
	go t.serve(conn, out)
}

// OnExhausted registers f to run once reconnection attempts are used up.
func (t *RelayTransport) OnExhausted(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExhausted = f
}

// OnReconnect registers f to run after each successful redial.
func (t *RelayTransport) OnReconnect(f func()) func() { return t.reconnected.add(f) }

func (t *RelayTransport) Kind() Kind { return KindWebSocket }

func (t *RelayTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *RelayTransport) Subscribe(h Handler) func() { return t.subs.add(h) }

func (t *RelayTransport) Send(msg models.SignalingMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		t.logger.Error("encode signaling message", zap.Error(err))
		return
	}

	t.mu.Lock()
	connected, out := t.connected, t.out
	if !connected {
		t.mu.Unlock()
		t.logger.Warn("signaling not connected, message not sent", zap.String("type", string(msg.Type)))
		t.rec.Record(diagnostics.KindNetwork, diagnostics.SeverityMedium, "send on disconnected relay",
			map[string]string{"type": string(msg.Type), "meeting_id": msg.MeetingID})
		return
	}
	select {
	case out <- body:
	default:
		t.logger.Warn("relay send buffer full, message dropped", zap.String("type", string(msg.Type)))
	}
	t.mu.Unlock()
}

func (t *RelayTransport) serve(conn *websocket.Conn, out chan []byte) {
	stop := make(chan struct{})
	go t.writePump(conn, out, stop)
	err := t.readPump(conn)
	close(stop)
	_ = conn.Close()

	t.mu.Lock()
	if t.conn == conn {
		t.connected = false
	}
	closed := t.closed
	t.mu.Unlock()

	if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.logger.Info("relay connection closed")
		return
	}
	t.logger.Warn("relay connection lost", zap.Error(err))
	t.rec.Record(diagnostics.KindNetwork, diagnostics.SeverityHigh, "relay connection lost",
		map[string]string{"error": errString(err)})
	t.reconnect()
}

func (t *RelayTransport) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})
	for {
		var msg models.SignalingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				t.logger.Warn("dropping malformed relay frame", zap.Error(err))
				t.rec.Record(diagnostics.KindSignaling, diagnostics.SeverityLow, "malformed relay frame",
					map[string]string{"error": err.Error()})
				continue
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
		t.subs.dispatch(msg)
	}
}

func (t *RelayTransport) writePump(conn *websocket.Conn, out <-chan []byte, stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case body := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (t *RelayTransport) reconnect() {
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		delay := t.cfg.Backoff(attempt)
		t.logger.Info("relay reconnect scheduled",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", t.cfg.MaxAttempts),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-t.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := t.dial(context.Background())
		if err != nil {
			t.logger.Warn("relay reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.mu.Unlock()
		t.attach(conn)
		t.logger.Info("relay reconnected", zap.Int("attempt", attempt))
		t.reconnected.fire()
		return
	}

	t.logger.Warn("relay reconnect attempts exhausted", zap.Int("attempts", t.cfg.MaxAttempts))
	t.rec.Record(diagnostics.KindNetwork, diagnostics.SeverityCritical, "relay reconnect attempts exhausted", nil)
	t.mu.Lock()
	f := t.onExhausted
	t.mu.Unlock()
	if f != nil {
		f()
	}
}

// Close sends a normal closure frame and stops reconnecting.
func (t *RelayTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	close(t.done)
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return conn.Close()
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
