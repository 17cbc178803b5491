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
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/darve-social/darve-server/store"
	"github.com/darve-social/darve-server/store/memorydb"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := memorydb.New()
	t.Cleanup(func() { db.Close() })
	return NewService(db, NewFeed())
}

func TestNotifyFanOut(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	n, err := s.Notify(ctx, "alice", EvUserFollowAdded, "alice followed you", nil,
		[]string{"bob", "carol", "bob", ""})
	require.NoError(t, err)

	// Duplicate and empty recipients collapse; each remaining recipient
	// gets exactly one unread edge.
	for _, user := range []string{"bob", "carol"} {
		items, err := s.List(ctx, user, false, 0, 0)
		require.NoError(t, err)
		require.Len(t, items, 1)
		require.Equal(t, n.ID, items[0].ID)
		require.False(t, items[0].IsRead)
	}
	items, err := s.List(ctx, "alice", false, 0, 0)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestNotifyValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Notify(ctx, "alice", "Bogus", "t", nil, []string{"bob"})
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = s.Notify(ctx, "alice", EvUserChatMessage, "t", nil, nil)
	require.ErrorIs(t, err, ErrNoRecipients)
}

func TestReadAndReadAll(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	n1, err := s.Notify(ctx, "alice", EvUserChatMessage, "hi", nil, []string{"bob"})
	require.NoError(t, err)
	_, err = s.Notify(ctx, "alice", EvUserChatMessage, "hi again", nil, []string{"bob"})
	require.NoError(t, err)

	require.NoError(t, s.Read(ctx, n1.ID, "bob"))
	unread, err := s.CountUnread(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, 1, unread)

	// Re-reading is a no-op; reading someone else's edge is not found.
	require.NoError(t, s.Read(ctx, n1.ID, "bob"))
	require.ErrorIs(t, s.Read(ctx, n1.ID, "carol"), store.ErrNotFound)

	flipped, err := s.ReadAll(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, 1, flipped)
	unread, err = s.CountUnread(ctx, "bob")
	require.NoError(t, err)
	require.Zero(t, unread)
}

func TestListOrderingAndFilter(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		n, err := s.Notify(ctx, "alice", EvUserChatMessage, "m", nil, []string{"bob"})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	require.NoError(t, s.Read(ctx, ids[1], "bob"))

	all, err := s.List(ctx, "bob", false, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	require.Equal(t, ids[2], all[0].ID)
	require.Equal(t, ids[0], all[2].ID)

	unread, err := s.List(ctx, "bob", true, 0, 0)
	require.NoError(t, err)
	require.Len(t, unread, 2)
	for _, item := range unread {
		require.NotEqual(t, ids[1], item.ID)
	}
}

func TestFeedDelivery(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	sub := s.Feed().Subscribe(4)
	defer sub.Unsubscribe()

	_, err := s.Notify(ctx, "alice", EvUserLikePost, "like", nil, []string{"bob"})
	require.NoError(t, err)

	ev := <-sub.Chan()
	require.Equal(t, EvUserLikePost, ev.Event)
	require.Equal(t, "alice", ev.UserID)
	require.True(t, ev.For("bob"))
	require.False(t, ev.For("carol"))
}

func TestFeedDropsSlowSubscriber(t *testing.T) {
	f := NewFeed()
	slow := f.Subscribe(1)
	fast := f.Subscribe(8)
	defer slow.Unsubscribe()
	defer fast.Unsubscribe()

	for i := 0; i < 3; i++ {
		f.Send(Event{Event: EvUserStatus, Receivers: []string{"bob"}})
	}

	// The slow subscriber keeps only its buffer worth of frames; the fast
	// one sees all three.
	require.Len(t, slow.ch, 1)
	require.Len(t, fast.ch, 3)
}

func TestFeedUnsubscribe(t *testing.T) {
	f := NewFeed()
	sub := f.Subscribe(1)
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	_, open := <-sub.Chan()
	require.False(t, open)
	require.Zero(t, f.Send(Event{Event: EvUserStatus}))
}

func TestFeedCloseRacesUnsubscribe(t *testing.T) {
	// Close and a subscriber's Unsubscribe may run at the same instant on
	// the shutdown path; neither call may block on the other.
	for i := 0; i < 10000; i++ {
		f := NewFeed()
		sub := f.Subscribe(1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub.Unsubscribe()
		}()
		go func() {
			defer wg.Done()
			f.Close()
		}()
		wg.Wait()

		_, open := <-sub.Chan()
		require.False(t, open)
	}
}

func TestFeedSubscribeAfterClose(t *testing.T) {
	f := NewFeed()
	f.Close()

	sub := f.Subscribe(4)
	_, open := <-sub.Chan()
	require.False(t, open)

	sub.Unsubscribe() // still safe
	require.Zero(t, f.Send(Event{Event: EvUserStatus}))
}

func TestFeedCloseIdempotent(t *testing.T) {
	f := NewFeed()
	sub := f.Subscribe(1)
	f.Close()
	f.Close()

	_, open := <-sub.Chan()
	require.False(t, open)
}
