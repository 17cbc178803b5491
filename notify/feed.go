// Copyright 2025 The darve-server Authors
// This file is part of darve-server.
//
// darve-server is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// darve-server is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with darve-server. If not, see <http://www.gnu.org/licenses/>.

package notify

import (
	"encoding/json"
	"sync"

	"github.com/darve-social/darve-server/metrics"
)

// Event is one live broadcast frame. Subscribers filter on their own user
// ID being listed in Receivers; persisted notification records remain the
// source of truth when a frame is missed.
type Event struct {
	UserID    string          `json:"user_id"`
	Event     string          `json:"event"`
	Receivers []string        `json:"receivers"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// For reports whether the event addresses the given user. An event with no
// receivers is a broadcast and addresses everyone.
func (e *Event) For(user string) bool {
	if len(e.Receivers) == 0 {
		return true
	}
	for _, r := range e.Receivers {
		if r == user {
			return true
		}
	}
	return false
}

// Feed implements one-to-many event delivery with per-subscriber buffers.
// Unlike a blocking fan-out, Send never waits: a subscriber whose buffer is
// full loses the frame, and only that subscriber. The zero value is ready
// to use.
type Feed struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[*Subscription]struct{})}
}

// Subscription is one attached receiver. Events arrive on Chan until
// Unsubscribe is called, after which the channel is closed.
type Subscription struct {
	feed *Feed
	ch   chan Event
	once sync.Once
}

// Chan returns the receive channel of the subscription.
func (s *Subscription) Chan() <-chan Event { return s.ch }

// Unsubscribe detaches the receiver and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
		close(s.ch)
		metrics.LiveSubscribers.Dec()
	})
}

// Subscribe attaches a receiver with the given buffer capacity. Buffer
// space is the subscriber's loss budget; slow consumers drop frames once
// it is spent.
func (f *Feed) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscription{feed: f, ch: make(chan Event, buffer)}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		// Dead subscription: the closed channel ends any range loop at
		// once. Consuming the once here keeps the gauge untouched by a
		// later Unsubscribe.
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	if f.subs == nil {
		f.subs = make(map[*Subscription]struct{})
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	metrics.LiveSubscribers.Inc()
	return sub
}

// Send delivers ev to every subscriber that has buffer space and returns
// the number of deliveries.
func (f *Feed) Send(ev Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delivered := 0
	for sub := range f.subs {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			metrics.LiveDropped.Inc()
		}
	}
	return delivered
}

// Close detaches all subscribers and closes their channels. Subsequent
// Subscribe calls return dead subscriptions; Send becomes a no-op.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.subs = nil
	f.mu.Unlock()

	// The once bodies must not run under f.mu: a concurrent Unsubscribe
	// holds its once while waiting for the lock.
	for _, sub := range subs {
		sub.once.Do(func() {
			close(sub.ch)
			metrics.LiveSubscribers.Dec()
		})
	}
}
