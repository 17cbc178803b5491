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

// Package memorydb is the map-backed store backend used by tests. It is not
// persisted and must not be used in production. Update transactions run
// against a deep copy of the whole state and swap it in on success, so a
// failed closure leaves the store byte-identical to before.
package memorydb

import (
	"context"
	"sync"

	"github.com/darve-social/darve-server/store"
)

// DB implements store.DB in memory. Transactions are serialized by a single
// mutex; the head-pointer CAS path still behaves like the production
// backend, it just never loses a race.
type DB struct {
	mu     sync.Mutex
	closed bool
	st     *state
}

// New creates an empty memory store.
func New() *DB {
	return &DB{st: newState()}
}

// View implements store.DB.
func (db *DB) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return store.ErrClosed
	}
	return fn(&memTx{st: db.st, readOnly: true})
}

// Update implements store.DB. The closure runs against a snapshot; the
// snapshot replaces the live state only when the closure returns nil.
func (db *DB) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return store.ErrClosed
	}
	snapshot := db.st.clone()
	if err := fn(&memTx{st: snapshot}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db.st = snapshot
	return nil
}

// Close implements store.DB.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// state holds every table. All access goes through the DB mutex.
type state struct {
	seq uint64 // insertion order tiebreaker for equal timestamps

	wallets       map[string]*store.Wallet
	balanceTxs    map[string]*store.BalanceTx
	txSeq         map[string]uint64
	gatewayTxs    map[string]*store.GatewayTx
	tasks         map[string]*store.Task
	donors        map[string]*store.TaskDonor       // task|user
	participants  map[string]*store.TaskParticipant // task|user
	deliveries    map[string][]*store.Delivery      // by task
	notifications map[string]*store.Notification
	notifSeq      map[string]uint64
	edges         map[string]map[string]bool // notification -> user -> isRead
	roles         map[string]store.Role      // user|kind|id
	users         map[string]*store.User
}

func newState() *state {
	return &state{
		wallets:       make(map[string]*store.Wallet),
		balanceTxs:    make(map[string]*store.BalanceTx),
		txSeq:         make(map[string]uint64),
		gatewayTxs:    make(map[string]*store.GatewayTx),
		tasks:         make(map[string]*store.Task),
		donors:        make(map[string]*store.TaskDonor),
		participants:  make(map[string]*store.TaskParticipant),
		deliveries:    make(map[string][]*store.Delivery),
		notifications: make(map[string]*store.Notification),
		notifSeq:      make(map[string]uint64),
		edges:         make(map[string]map[string]bool),
		roles:         make(map[string]store.Role),
		users:         make(map[string]*store.User),
	}
}

func (s *state) clone() *state {
	cp := newState()
	cp.seq = s.seq
	for k, v := range s.wallets {
		cp.wallets[k] = v.Copy()
	}
	for k, v := range s.balanceTxs {
		cp.balanceTxs[k] = v.Copy()
	}
	for k, v := range s.txSeq {
		cp.txSeq[k] = v
	}
	for k, v := range s.gatewayTxs {
		cp.gatewayTxs[k] = v.Copy()
	}
	for k, v := range s.tasks {
		cp.tasks[k] = v.Copy()
	}
	for k, v := range s.donors {
		cp.donors[k] = v.Copy()
	}
	for k, v := range s.participants {
		cp.participants[k] = v.Copy()
	}
	for k, list := range s.deliveries {
		dst := make([]*store.Delivery, len(list))
		for i, d := range list {
			dst[i] = d.Copy()
		}
		cp.deliveries[k] = dst
	}
	for k, v := range s.notifications {
		cp.notifications[k] = v.Copy()
	}
	for k, v := range s.notifSeq {
		cp.notifSeq[k] = v
	}
	for k, users := range s.edges {
		dst := make(map[string]bool, len(users))
		for u, read := range users {
			dst[u] = read
		}
		cp.edges[k] = dst
	}
	for k, v := range s.roles {
		cp.roles[k] = v
	}
	for k, v := range s.users {
		cp.users[k] = v.Copy()
	}
	return cp
}

func (s *state) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// memTx hands out bucket views over one state snapshot.
type memTx struct {
	st       *state
	readOnly bool
}

func (tx *memTx) Wallets() store.WalletBucket             { return &walletBucket{tx} }
func (tx *memTx) Ledger() store.LedgerBucket              { return &ledgerBucket{tx} }
func (tx *memTx) Gateway() store.GatewayBucket            { return &gatewayBucket{tx} }
func (tx *memTx) Tasks() store.TaskBucket                 { return &taskBucket{tx} }
func (tx *memTx) Notifications() store.NotificationBucket { return &notificationBucket{tx} }
func (tx *memTx) Access() store.AccessBucket              { return &accessBucket{tx} }
func (tx *memTx) Users() store.UserBucket                 { return &userBucket{tx} }

func (tx *memTx) writable() error {
	if tx.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func relKey(a, b string) string { return a + "|" + b }
