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

// Package store defines the durable storage contract the rest of the system
// is written against. A DB hands out transactions as closures: everything a
// closure does through the Tx either commits as a unit or leaves the store
// untouched. Backends live in store/pgdb (production, Postgres) and
// store/memorydb (tests).
package store

import (
	"context"
	"time"
)

// DB is a transactional record store. Ledger correctness depends on Update
// being all-or-nothing; a backend that cannot provide multi-statement
// atomicity must not implement this interface.
type DB interface {
	// View runs fn in a read-only transaction. Writes performed through
	// the Tx are rejected or discarded by the backend.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Update runs fn in a read-write transaction. If fn returns an error
	// the transaction is rolled back and the error is returned verbatim,
	// so sentinel errors raised inside fn survive classification by the
	// caller.
	Update(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx exposes the per-aggregate buckets of one open transaction. A Tx must
// not be retained after the closure it was handed to returns.
type Tx interface {
	Wallets() WalletBucket
	Ledger() LedgerBucket
	Gateway() GatewayBucket
	Tasks() TaskBucket
	Notifications() NotificationBucket
	Access() AccessBucket
	Users() UserBucket
}

// WalletBucket persists wallet rows and their per-currency head pointers.
type WalletBucket interface {
	Get(id string) (*Wallet, error)
	Put(w *Wallet) error

	// SetHead advances the head pointer of (wallet, currency) from prev to
	// next. It fails with ErrConflict when the stored head is no longer
	// prev, which is the serialization point for concurrent transfers.
	SetHead(walletID string, cur Currency, next, prev string) error

	// SetLock installs or clears (nil) the advisory lock on a wallet.
	SetLock(walletID string, lock *WalletLock) error

	// All returns every wallet. Used by invariant checks and bootstrap.
	All() ([]*Wallet, error)
}

// LedgerBucket persists balance transactions. Records are immutable once
// written; there is deliberately no update or delete.
type LedgerBucket interface {
	PutTx(btx *BalanceTx) error
	GetTx(id string) (*BalanceTx, error)

	// History lists transactions of a wallet, newest first. cur narrows to
	// one currency when non-empty.
	History(walletID string, cur Currency, limit, offset int) ([]*BalanceTx, error)

	// ByIdent returns the legs sharing one transfer ident.
	ByIdent(ident string) ([]*BalanceTx, error)
}

// GatewayBucket persists gateway transactions.
type GatewayBucket interface {
	Put(gtx *GatewayTx) error
	Get(id string) (*GatewayTx, error)
	ListByUser(user string, limit, offset int) ([]*GatewayTx, error)
}

// TaskBucket persists tasks and their donor/participant/delivery relations.
type TaskBucket interface {
	Put(t *Task) error
	Get(id string) (*Task, error)
	ListByBelongsTo(belongsTo string) ([]*Task, error)
	ListByCreator(user string) ([]*Task, error)

	// ListDue returns at most limit unfinished tasks whose due time and
	// sweep backoff window have both passed, oldest due first.
	ListDue(now time.Time, limit int) ([]*Task, error)

	PutDonor(d *TaskDonor) error
	GetDonor(taskID, user string) (*TaskDonor, error)
	ListDonors(taskID string) ([]*TaskDonor, error)

	PutParticipant(p *TaskParticipant) error
	GetParticipant(taskID, user string) (*TaskParticipant, error)
	ListParticipants(taskID string) ([]*TaskParticipant, error)
	ListParticipations(user string) ([]*TaskParticipant, error)

	PutDelivery(d *Delivery) error
	ListDeliveries(taskID string) ([]*Delivery, error)
}

// NotificationBucket persists notifications and their recipient edges.
type NotificationBucket interface {
	Put(n *Notification) error
	Get(id string) (*Notification, error)

	// AddRecipient relates a notification to a recipient. At most one edge
	// exists per (notification, user); adding a duplicate is a no-op.
	AddRecipient(notificationID, user string) error

	// MarkRead flips one edge's read flag. Flipping an already-read edge
	// is a no-op.
	MarkRead(notificationID, user string) error

	// MarkAllRead flips every unread edge of user, returning the count.
	MarkAllRead(user string) (int, error)

	// ListByUser returns the user's inbox, newest first. unreadOnly
	// restricts to edges with IsRead == false.
	ListByUser(user string, unreadOnly bool, limit, offset int) ([]*InboxItem, error)

	CountUnread(user string) (int, error)
}

// AccessBucket persists per-resource role grants.
type AccessBucket interface {
	SetRole(user string, res ResourceID, role Role) error

	// GetRole returns the role granted to user on exactly the given
	// resource, RoleNone (and no error) when nothing is granted.
	GetRole(user string, res ResourceID) (Role, error)
}

// UserBucket persists the minimal user records the core needs.
type UserBucket interface {
	Put(u *User) error
	Get(id string) (*User, error)
	GetByEmail(email string) (*User, error)
}
