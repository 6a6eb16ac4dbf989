// Package stream fans live match events out to connected subscribers.
package stream

import (
	"sync"

	"github.com/louisbranch/worldbuild.space/internal/storage"
)

const subscriberQueueSize = 256

// Subscription is one live event feed for a single match.
type Subscription struct {
	events chan storage.Event
	once   sync.Once
}

// Events returns the subscriber's event channel. The channel is closed when
// the subscription is cancelled or dropped.
func (s *Subscription) Events() <-chan storage.Event {
	return s.events
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}

// Hub tracks live subscribers per match and delivers published events
// without blocking the publisher.
type Hub struct {
	mu      sync.Mutex
	matches map[string]map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{matches: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a live feed for one match.
func (h *Hub) Subscribe(matchID string) *Subscription {
	sub := &Subscription{events: make(chan storage.Event, subscriberQueueSize)}
	h.mu.Lock()
	subs, ok := h.matches[matchID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.matches[matchID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(matchID string, sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if subs, ok := h.matches[matchID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.matches, matchID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish delivers an event to every live subscriber of its match. A
// subscriber whose queue is full is dropped rather than stalling the match.
func (h *Hub) Publish(event storage.Event) {
	h.mu.Lock()
	subs, ok := h.matches[event.MatchID]
	if !ok {
		h.mu.Unlock()
		return
	}
	var dropped []*Subscription
	for sub := range subs {
		select {
		case sub.events <- event:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(subs, sub)
	}
	if len(subs) == 0 {
		delete(h.matches, event.MatchID)
	}
	h.mu.Unlock()
	for _, sub := range dropped {
		sub.close()
	}
}
