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

// Package notify materializes notifications once per event with one edge
// per recipient, and pushes a live frame to attached subscribers. The
// persisted records are the source of truth; the live feed is lossy for
// slow consumers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/metrics"
	"github.com/darve-social/darve-server/store"
)

var (
	// ErrUnknownEvent is returned for event kinds outside the closed set.
	ErrUnknownEvent = errors.New("notify: unknown event kind")

	// ErrNoRecipients is returned when a fan-out addresses nobody.
	ErrNoRecipients = errors.New("notify: no recipients")
)

// Service persists notifications and publishes live frames.
type Service struct {
	db   store.DB
	feed *Feed
	log  *logrus.Entry
	now  func() time.Time
}

// NewService creates a notification service publishing on feed.
func NewService(db store.DB, feed *Feed) *Service {
	return &Service{
		db:   db,
		feed: feed,
		log:  logrus.WithField("component", "notify"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Feed returns the live broadcast feed.
func (s *Service) Feed() *Feed { return s.feed }

// Notify inserts one notification record, relates it to each distinct
// recipient unread, and publishes a live frame. The record and its edges
// commit atomically; the live frame is only sent after the commit.
func (s *Service) Notify(ctx context.Context, creator, event, title string, metadata json.RawMessage, recipients []string) (*store.Notification, error) {
	if !KnownEvent(event) {
		return nil, ErrUnknownEvent
	}
	targets := mapset.NewSet[string]()
	for _, r := range recipients {
		if r != "" {
			targets.Add(r)
		}
	}
	if targets.Cardinality() == 0 {
		return nil, ErrNoRecipients
	}

	n := &store.Notification{
		ID:        uuid.NewString(),
		CreatedBy: creator,
		Event:     event,
		Title:     title,
		Metadata:  metadata,
		CreatedAt: s.now(),
	}
	err := s.db.Update(ctx, func(tx store.Tx) error {
		if err := tx.Notifications().Put(n); err != nil {
			return err
		}
		for _, r := range targets.ToSlice() {
			if err := tx.Notifications().AddRecipient(n.ID, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.NotificationsSent.Inc()

	s.feed.Send(Event{
		UserID:    creator,
		Event:     event,
		Receivers: targets.ToSlice(),
		Content:   metadata,
	})
	s.log.WithFields(logrus.Fields{
		"event": event, "recipients": targets.Cardinality(),
	}).Debug("notification fanned out")
	return n, nil
}

// Read flips one recipient edge to read.
func (s *Service) Read(ctx context.Context, notificationID, user string) error {
	return s.db.Update(ctx, func(tx store.Tx) error {
		return tx.Notifications().MarkRead(notificationID, user)
	})
}

// ReadAll flips every unread edge of user, returning the count flipped.
func (s *Service) ReadAll(ctx context.Context, user string) (int, error) {
	var n int
	err := s.db.Update(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.Notifications().MarkAllRead(user)
		return err
	})
	return n, err
}

// List returns the user's inbox, newest first.
func (s *Service) List(ctx context.Context, user string, unreadOnly bool, limit, offset int) ([]*store.InboxItem, error) {
	var out []*store.InboxItem
	err := s.db.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Notifications().ListByUser(user, unreadOnly, limit, offset)
		return err
	})
	return out, err
}

// CountUnread returns the number of unread edges of user.
func (s *Service) CountUnread(ctx context.Context, user string) (int, error) {
	var n int
	err := s.db.View(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.Notifications().CountUnread(user)
		return err
	})
	return n, err
}
