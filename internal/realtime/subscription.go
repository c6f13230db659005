package realtime

import (
	"sync"

	"github.com/odlemon/khaya-portal-sub001/internal/domain"
)

// Subscription receives new-message events until Close is called.
// C is never closed; consumers select on Done as well.
type Subscription struct {
	C <-chan domain.NewMessageEvent

	ch     chan domain.NewMessageEvent
	done   chan struct{}
	once   sync.Once
	id     uint64
	client *Client
}

// Subscribe registers a typed event subscription with the given buffer.
func (c *Client) Subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan domain.NewMessageEvent, buffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	s := &Subscription{
		C:      ch,
		ch:     ch,
		done:   make(chan struct{}),
		id:     c.nextID,
		client: c,
	}
	c.subs[s.id] = s
	return s
}

// Done is closed once the subscription has been closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subs, s.id)
		s.client.mu.Unlock()
		close(s.done)
	})
}

// deliver blocks until the consumer takes the event or the subscription closes.
func (s *Subscription) deliver(ev domain.NewMessageEvent) {
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

// Events subscribes and returns the event channel together with its
// cancel function.
func (c *Client) Events(buffer int) (<-chan domain.NewMessageEvent, func()) {
	s := c.Subscribe(buffer)
	return s.C, s.Close
}
