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

package memorydb

import (
	"sort"
	"strings"
	"time"

	"github.com/darve-social/darve-server/store"
)

type walletBucket struct{ tx *memTx }

func (b *walletBucket) Get(id string) (*store.Wallet, error) {
	w, ok := b.tx.st.wallets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return w.Copy(), nil
}

func (b *walletBucket) Put(w *store.Wallet) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	b.tx.st.wallets[w.ID] = w.Copy()
	return nil
}

func (b *walletBucket) SetHead(walletID string, cur store.Currency, next, prev string) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	w, ok := b.tx.st.wallets[walletID]
	if !ok {
		return store.ErrNotFound
	}
	if w.Heads[cur] != prev {
		return store.ErrConflict
	}
	w.Heads[cur] = next
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (b *walletBucket) SetLock(walletID string, lock *store.WalletLock) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	w, ok := b.tx.st.wallets[walletID]
	if !ok {
		return store.ErrNotFound
	}
	if lock != nil {
		l := *lock
		w.Lock = &l
	} else {
		w.Lock = nil
	}
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (b *walletBucket) All() ([]*store.Wallet, error) {
	out := make([]*store.Wallet, 0, len(b.tx.st.wallets))
	for _, w := range b.tx.st.wallets {
		out = append(out, w.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type ledgerBucket struct{ tx *memTx }

func (b *ledgerBucket) PutTx(btx *store.BalanceTx) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	if _, ok := b.tx.st.balanceTxs[btx.ID]; ok {
		return store.ErrConflict
	}
	b.tx.st.balanceTxs[btx.ID] = btx.Copy()
	b.tx.st.txSeq[btx.ID] = b.tx.st.nextSeq()
	return nil
}

func (b *ledgerBucket) GetTx(id string) (*store.BalanceTx, error) {
	t, ok := b.tx.st.balanceTxs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.Copy(), nil
}

func (b *ledgerBucket) History(walletID string, cur store.Currency, limit, offset int) ([]*store.BalanceTx, error) {
	var out []*store.BalanceTx
	for _, t := range b.tx.st.balanceTxs {
		if t.Wallet != walletID {
			continue
		}
		if cur != "" && t.Currency != cur {
			continue
		}
		out = append(out, t.Copy())
	}
	st := b.tx.st
	sort.Slice(out, func(i, j int) bool {
		return st.txSeq[out[i].ID] > st.txSeq[out[j].ID]
	})
	return window(out, limit, offset), nil
}

func (b *ledgerBucket) ByIdent(ident string) ([]*store.BalanceTx, error) {
	var out []*store.BalanceTx
	for _, t := range b.tx.st.balanceTxs {
		if t.Ident == ident {
			out = append(out, t.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type gatewayBucket struct{ tx *memTx }

func (b *gatewayBucket) Put(gtx *store.GatewayTx) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	b.tx.st.gatewayTxs[gtx.ID] = gtx.Copy()
	return nil
}

func (b *gatewayBucket) Get(id string) (*store.GatewayTx, error) {
	g, ok := b.tx.st.gatewayTxs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g.Copy(), nil
}

func (b *gatewayBucket) ListByUser(user string, limit, offset int) ([]*store.GatewayTx, error) {
	var out []*store.GatewayTx
	for _, g := range b.tx.st.gatewayTxs {
		if g.User == user {
			out = append(out, g.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return window(out, limit, offset), nil
}

type taskBucket struct{ tx *memTx }

func (b *taskBucket) Put(t *store.Task) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	b.tx.st.tasks[t.ID] = t.Copy()
	return nil
}

func (b *taskBucket) Get(id string) (*store.Task, error) {
	t, ok := b.tx.st.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.Copy(), nil
}

func (b *taskBucket) ListByBelongsTo(belongsTo string) ([]*store.Task, error) {
	return b.list(func(t *store.Task) bool { return t.BelongsTo == belongsTo })
}

func (b *taskBucket) ListByCreator(user string) ([]*store.Task, error) {
	return b.list(func(t *store.Task) bool { return t.CreatedBy == user })
}

func (b *taskBucket) ListDue(now time.Time, limit int) ([]*store.Task, error) {
	due, err := b.list(func(t *store.Task) bool {
		if t.Status == store.TaskCompleted {
			return false
		}
		if now.Before(t.DueAt) {
			return false
		}
		return !now.Before(t.NextSweepAt)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (b *taskBucket) list(keep func(*store.Task) bool) ([]*store.Task, error) {
	var out []*store.Task
	for _, t := range b.tx.st.tasks {
		if keep(t) {
			out = append(out, t.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (b *taskBucket) PutDonor(d *store.TaskDonor) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	b.tx.st.donors[relKey(d.TaskID, d.User)] = d.Copy()
	return nil
}

func (b *taskBucket) GetDonor(taskID, user string) (*store.TaskDonor, error) {
	d, ok := b.tx.st.donors[relKey(taskID, user)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d.Copy(), nil
}

func (b *taskBucket) ListDonors(taskID string) ([]*store.TaskDonor, error) {
	var out []*store.TaskDonor
	for key, d := range b.tx.st.donors {
		if strings.HasPrefix(key, taskID+"|") {
			out = append(out, d.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out, nil
}

func (b *taskBucket) PutParticipant(p *store.TaskParticipant) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	b.tx.st.participants[relKey(p.TaskID, p.User)] = p.Copy()
	return nil
}

func (b *taskBucket) GetParticipant(taskID, user string) (*store.TaskParticipant, error) {
	p, ok := b.tx.st.participants[relKey(taskID, user)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p.Copy(), nil
}

func (b *taskBucket) ListParticipants(taskID string) ([]*store.TaskParticipant, error) {
	var out []*store.TaskParticipant
	for key, p := range b.tx.st.participants {
		if strings.HasPrefix(key, taskID+"|") {
			out = append(out, p.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out, nil
}

func (b *taskBucket) ListParticipations(user string) ([]*store.TaskParticipant, error) {
	var out []*store.TaskParticipant
	for _, p := range b.tx.st.participants {
		if p.User == user {
			out = append(out, p.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (b *taskBucket) PutDelivery(d *store.Delivery) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	list := b.tx.st.deliveries[d.TaskID]
	for i, existing := range list {
		if existing.User == d.User && existing.PostID == d.PostID {
			list[i] = d.Copy()
			return nil
		}
	}
	b.tx.st.deliveries[d.TaskID] = append(list, d.Copy())
	return nil
}

func (b *taskBucket) ListDeliveries(taskID string) ([]*store.Delivery, error) {
	list := b.tx.st.deliveries[taskID]
	out := make([]*store.Delivery, len(list))
	for i, d := range list {
		out[i] = d.Copy()
	}
	return out, nil
}

type notificationBucket struct{ tx *memTx }

func (b *notificationBucket) Put(n *store.Notification) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	b.tx.st.notifications[n.ID] = n.Copy()
	if _, ok := b.tx.st.notifSeq[n.ID]; !ok {
		b.tx.st.notifSeq[n.ID] = b.tx.st.nextSeq()
	}
	return nil
}

func (b *notificationBucket) Get(id string) (*store.Notification, error) {
	n, ok := b.tx.st.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return n.Copy(), nil
}

func (b *notificationBucket) AddRecipient(notificationID, user string) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	if _, ok := b.tx.st.notifications[notificationID]; !ok {
		return store.ErrNotFound
	}
	users := b.tx.st.edges[notificationID]
	if users == nil {
		users = make(map[string]bool)
		b.tx.st.edges[notificationID] = users
	}
	if _, ok := users[user]; ok {
		return nil
	}
	users[user] = false
	return nil
}

func (b *notificationBucket) MarkRead(notificationID, user string) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	users, ok := b.tx.st.edges[notificationID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := users[user]; !ok {
		return store.ErrNotFound
	}
	users[user] = true
	return nil
}

func (b *notificationBucket) MarkAllRead(user string) (int, error) {
	if err := b.tx.writable(); err != nil {
		return 0, err
	}
	n := 0
	for _, users := range b.tx.st.edges {
		if read, ok := users[user]; ok && !read {
			users[user] = true
			n++
		}
	}
	return n, nil
}

func (b *notificationBucket) ListByUser(user string, unreadOnly bool, limit, offset int) ([]*store.InboxItem, error) {
	var out []*store.InboxItem
	for id, users := range b.tx.st.edges {
		read, ok := users[user]
		if !ok || (unreadOnly && read) {
			continue
		}
		n, ok := b.tx.st.notifications[id]
		if !ok {
			continue
		}
		out = append(out, &store.InboxItem{Notification: n.Copy(), IsRead: read})
	}
	st := b.tx.st
	sort.Slice(out, func(i, j int) bool {
		return st.notifSeq[out[i].ID] > st.notifSeq[out[j].ID]
	})
	return window(out, limit, offset), nil
}

func (b *notificationBucket) CountUnread(user string) (int, error) {
	n := 0
	for _, users := range b.tx.st.edges {
		if read, ok := users[user]; ok && !read {
			n++
		}
	}
	return n, nil
}

type accessBucket struct{ tx *memTx }

func roleKey(user string, res store.ResourceID) string {
	return user + "|" + string(res.Kind) + "|" + res.ID
}

func (b *accessBucket) SetRole(user string, res store.ResourceID, role store.Role) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	b.tx.st.roles[roleKey(user, res)] = role
	return nil
}

func (b *accessBucket) GetRole(user string, res store.ResourceID) (store.Role, error) {
	return b.tx.st.roles[roleKey(user, res)], nil
}

type userBucket struct{ tx *memTx }

func (b *userBucket) Put(u *store.User) error {
	if err := b.tx.writable(); err != nil {
		return err
	}
	b.tx.st.users[u.ID] = u.Copy()
	return nil
}

func (b *userBucket) Get(id string) (*store.User, error) {
	u, ok := b.tx.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u.Copy(), nil
}

func (b *userBucket) GetByEmail(email string) (*store.User, error) {
	for _, u := range b.tx.st.users {
		if u.Email == email {
			return u.Copy(), nil
		}
	}
	return nil, store.ErrNotFound
}

// window applies limit/offset pagination to an already sorted slice.
func window[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
