package signaling

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("bus closed")

// Bus is a publish/subscribe channel shared by the broadcast transports of
// one device. Every subscriber, the publisher's own included, receives every
// published payload.
type Bus interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, fn func(payload []byte)) (cancel func(), err error)
}

// MemoryBus is an in-process Bus. Each subscriber gets its own delivery
// goroutine, so payloads arrive in publish order and a slow subscriber never
// blocks the publisher.
type MemoryBus struct {
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	subs    map[*memorySub]struct{}
	pending int
	idle    *sync.Cond
	closed  bool
}

type memorySub struct {
	fn    func([]byte)
	mu    sync.Mutex
	queue [][]byte
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewMemoryBus creates an empty bus. name only appears in logs.
func NewMemoryBus(name string, logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &MemoryBus{name: name, logger: logger, subs: make(map[*memorySub]struct{})}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// Publish queues payload for every current subscriber.
func (b *MemoryBus) Publish(_ context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	for s := range b.subs {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		s.mu.Lock()
		s.queue = append(s.queue, cp)
		s.mu.Unlock()
		b.pending++
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe registers fn. The subscription ends when cancel is called or
// ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, fn func([]byte)) (func(), error) {
	s := &memorySub{fn: fn, wake: make(chan struct{}, 1), done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go b.deliver(ctx, s)

	cancel := func() { b.remove(s) }
	return cancel, nil
}

func (b *MemoryBus) deliver(ctx context.Context, s *memorySub) {
	for {
		select {
		case <-ctx.Done():
			b.remove(s)
			return
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			payload := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
			default:
				b.call(s, payload)
			}
			b.done(1)
		}
	}
}

func (b *MemoryBus) call(s *memorySub, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus subscriber panicked", zap.String("bus", b.name), zap.Any("panic", r))
		}
	}()
	s.fn(payload)
}

func (b *MemoryBus) remove(s *memorySub) {
	s.once.Do(func() {
		close(s.done)
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()

		s.mu.Lock()
		dropped := len(s.queue)
		s.queue = nil
		s.mu.Unlock()
		b.done(dropped)
	})
}

func (b *MemoryBus) done(n int) {
	if n == 0 {
		return
	}
	b.mu.Lock()
	b.pending -= n
	if b.pending <= 0 {
		b.pending = 0
		b.idle.Broadcast()
	}
	b.mu.Unlock()
}

// Wait blocks until every published payload has been handled, including
// payloads published by handlers while Wait is blocked.
func (b *MemoryBus) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending > 0 {
		b.idle.Wait()
	}
}

// Close drops every subscriber. Later Publish and Subscribe calls fail.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*memorySub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		b.remove(s)
	}
	return nil
}
