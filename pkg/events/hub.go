package events

import (
	"context"
	"sync"
	"time"

	"github.com/diagnosis/slotgrid/pkg/logger"
)

// Subscription receives messages for one event on C. C is closed when the
// subscription is removed, either by Unsubscribe or because it fell behind.
type Subscription struct {
	EventID string
	C       <-chan Message

	ch   chan Message
	once sync.Once
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub is the in-process Broadcaster.
type Hub struct {
	mu        sync.Mutex
	subs      map[string]map[*Subscription]struct{}
	buffer    int
	keepAlive time.Duration
	closed    bool
}

func NewHub(buffer int, keepAlive time.Duration) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:      make(map[string]map[*Subscription]struct{}),
		buffer:    buffer,
		keepAlive: keepAlive,
	}
}

func (h *Hub) Subscribe(eventID string) *Subscription {
	ch := make(chan Message, h.buffer)
	sub := &Subscription{EventID: eventID, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return sub
	}
	set, ok := h.subs[eventID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[eventID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(sub *Subscription) {
	if set, ok := h.subs[sub.EventID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.EventID)
		}
	}
	sub.close()
}

// Publish never blocks. A subscriber whose buffer is full is dropped.
func (h *Hub) Publish(ctx context.Context, eventID string, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[eventID] {
		select {
		case sub.ch <- msg:
		default:
			logger.WarnContext(ctx, "dropping slow subscriber", "event_id", eventID)
			h.removeLocked(sub)
		}
	}
	return nil
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, set := range h.subs {
		for sub := range set {
			select {
			case sub.ch <- msg:
			default:
				h.removeLocked(sub)
			}
		}
	}
}

// Run sends a ping to every subscriber each keep-alive interval.
func (h *Hub) Run(ctx context.Context) error {
	if h.keepAlive <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.broadcast(Message{Type: TypePing, At: time.Now().UTC()})
		}
	}
}

// Subscribers reports the live subscriber count for an event.
func (h *Hub) Subscribers(eventID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[eventID])
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, set := range h.subs {
		for sub := range set {
			sub.close()
		}
		delete(h.subs, id)
	}
	return nil
}
