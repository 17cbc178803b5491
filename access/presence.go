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

package access

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/darve-social/darve-server/notify"
)

// DefaultLinger is how long a user must stay at zero connections before an
// offline event is emitted. The linger absorbs quick reconnects.
const DefaultLinger = 10 * time.Second

// PresenceTracker maintains a per-user live connection count. Each open
// connection holds a PresenceGuard; dropping the last guard starts the
// linger timer, and only if no connection returns within the linger does
// the tracker broadcast the user going offline.
type PresenceTracker struct {
	mu     sync.Mutex
	counts map[string]int
	timers map[string]*time.Timer
	linger time.Duration
	feed   *notify.Feed
	closed bool
}

// NewPresenceTracker creates a tracker broadcasting status changes on feed.
// A non-positive linger falls back to DefaultLinger.
func NewPresenceTracker(feed *notify.Feed, linger time.Duration) *PresenceTracker {
	if linger <= 0 {
		linger = DefaultLinger
	}
	return &PresenceTracker{
		counts: make(map[string]int),
		timers: make(map[string]*time.Timer),
		linger: linger,
		feed:   feed,
	}
}

// PresenceGuard represents one live connection. Release is idempotent.
type PresenceGuard struct {
	tracker *PresenceTracker
	user    string
	once    sync.Once
}

// Connect registers one connection of user and returns its guard.
func (t *PresenceTracker) Connect(user string) *PresenceGuard {
	t.mu.Lock()
	t.counts[user]++
	first := t.counts[user] == 1
	if timer, ok := t.timers[user]; ok {
		timer.Stop()
		delete(t.timers, user)
		first = false // reconnect within the linger, no transition
	}
	t.mu.Unlock()

	if first {
		t.broadcast(user, true)
	}
	return &PresenceGuard{tracker: t, user: user}
}

// Release drops the connection held by the guard.
func (g *PresenceGuard) Release() {
	g.once.Do(func() { g.tracker.drop(g.user) })
}

func (t *PresenceTracker) drop(user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[user] == 0 {
		return
	}
	t.counts[user]--
	if t.counts[user] > 0 || t.closed {
		return
	}
	delete(t.counts, user)
	if timer, ok := t.timers[user]; ok {
		timer.Stop()
	}
	t.timers[user] = time.AfterFunc(t.linger, func() {
		t.mu.Lock()
		_, online := t.counts[user]
		delete(t.timers, user)
		closed := t.closed
		t.mu.Unlock()
		if !online && !closed {
			t.broadcast(user, false)
		}
	})
}

// Online reports whether user currently holds at least one connection.
func (t *PresenceTracker) Online(user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[user] > 0
}

// Statuses resolves the online flag for a batch of users.
func (t *PresenceTracker) Statuses(users []string) map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(users))
	for _, u := range users {
		out[u] = t.counts[u] > 0
	}
	return out
}

// Close stops pending linger timers. No further events are emitted.
func (t *PresenceTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for user, timer := range t.timers {
		timer.Stop()
		delete(t.timers, user)
	}
}

func (t *PresenceTracker) broadcast(user string, online bool) {
	content, _ := json.Marshal(map[string]any{"user_id": user, "online": online})
	t.feed.Send(notify.Event{
		UserID:  user,
		Event:   notify.EvUserStatus,
		Content: content,
	})
}
