// Package events fans orchestration events out to observers such as the UI.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/models"
)

// Listener receives events. It runs on the emitting goroutine and must not
// block for long.
type Listener func(models.Event)

// Emitter is the publishing side of the bus.
type Emitter interface {
	Emit(models.Event)
}

// Bus delivers each event synchronously to every listener in subscription
// order. A panicking listener is logged and skipped.
type Bus struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	order     []uint64
	next      uint64
	logger    *zap.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{listeners: make(map[uint64]Listener), logger: logger}
}

// Subscribe registers l and returns a func that removes it. Calling the
// returned func more than once is harmless.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = l
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit delivers e to a snapshot of the current listeners. Listeners may
// subscribe or unsubscribe from inside a callback.
func (b *Bus) Emit(e models.Event) {
	b.mu.RLock()
	targets := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		targets = append(targets, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, l := range targets {
		b.deliver(l, e)
	}
}

func (b *Bus) deliver(l Listener, e models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				zap.String("type", string(e.Type)),
				zap.String("meeting_id", e.MeetingID),
				zap.Any("panic", r))
		}
	}()
	l(e)
}

// Len returns the number of listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
