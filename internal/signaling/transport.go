// Package signaling delivers SignalingMessages between participants over a
// WebSocket relay or a same-device publish/subscribe bus.
package signaling

import (
	"sync"

	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/models"
)

// Kind names the active backend of a transport.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindBroadcast Kind = "broadcast"
	KindNone      Kind = "none"
)

// Handler is invoked for every received message. Broadcast backends deliver
// a process's own messages back to it, so handlers filter by meeting and
// recipient.
type Handler func(models.SignalingMessage)

// Transport is best-effort, at-most-once message delivery. Send never blocks
// on the network and never reports delivery; sending while disconnected is
// logged and dropped.
type Transport interface {
	Send(msg models.SignalingMessage)
	Subscribe(h Handler) (unsubscribe func())
	IsConnected() bool
	Kind() Kind
	Close() error
}

// Reconnector is implemented by transports that can replace their connection
// while in use. Callbacks run once the new connection accepts sends. Relays
// and rendezvous forget who was on the old connection, so meeting members
// announce themselves again from a callback.
type Reconnector interface {
	OnReconnect(f func()) (cancel func())
}

// callbacks is an ordered, cancellable list of notifications.
type callbacks struct {
	mu    sync.Mutex
	next  uint64
	order []uint64
	funcs map[uint64]func()
}

func (c *callbacks) add(f func()) func() {
	c.mu.Lock()
	if c.funcs == nil {
		c.funcs = make(map[uint64]func())
	}
	id := c.next
	c.next++
	c.funcs[id] = f
	c.order = append(c.order, id)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.funcs[id]; !ok {
			return
		}
		delete(c.funcs, id)
		for i, v := range c.order {
			if v == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

func (c *callbacks) fire() {
	c.mu.Lock()
	fs := make([]func(), 0, len(c.order))
	for _, id := range c.order {
		fs = append(fs, c.funcs[id])
	}
	c.mu.Unlock()
	for _, f := range fs {
		f()
	}
}

// subscribers is the handler registry shared by the transports.
type subscribers struct {
	mu     sync.RWMutex
	next   uint64
	order  []uint64
	byID   map[uint64]Handler
	logger *zap.Logger
}

func newSubscribers(logger *zap.Logger) *subscribers {
	return &subscribers{byID: make(map[uint64]Handler), logger: logger}
}

func (s *subscribers) add(h Handler) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.byID[id] = h
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.byID, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *subscribers) dispatch(msg models.SignalingMessage) {
	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.order))
	for _, id := range s.order {
		handlers = append(handlers, s.byID[id])
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		s.call(h, msg)
	}
}

func (s *subscribers) call(h Handler, msg models.SignalingMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("signaling handler panicked",
				zap.String("type", string(msg.Type)),
				zap.String("meeting_id", msg.MeetingID),
				zap.String("from", msg.From),
				zap.Any("panic", r))
		}
	}()
	h(msg)
}
