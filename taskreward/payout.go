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

package taskreward

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/ledger"
	"github.com/darve-social/darve-server/notify"
	"github.com/darve-social/darve-server/store"
)

// distribute allocates donor money over on-time deliverables. idents maps
// a vote's deliverable reference (post ID or participant user) to the
// delivering user. A donor whose vote vector covers only on-time
// deliverables with points summing exactly to their amount is honored
// verbatim; every other donor splits evenly, floor division, with the
// remainder reported separately. With no recipients everything lands in
// the remainder.
func distribute(donors []*store.TaskDonor, recipients []string, idents map[string]string) (map[string]int64, int64) {
	payouts := make(map[string]int64, len(recipients))
	for _, r := range recipients {
		payouts[r] = 0
	}
	var remainder int64
	for _, d := range donors {
		if len(recipients) == 0 {
			remainder += d.Amount
			continue
		}
		if alloc, ok := votedAllocation(d, payouts, idents); ok {
			for user, amount := range alloc {
				payouts[user] += amount
			}
			continue
		}
		share := d.Amount / int64(len(recipients))
		for _, r := range recipients {
			payouts[r] += share
		}
		remainder += d.Amount - share*int64(len(recipients))
	}
	return payouts, remainder
}

// votedAllocation resolves one donor's vote vector. It reports false when
// the vector references unknown or late deliverables, or does not sum to
// the donation amount.
func votedAllocation(d *store.TaskDonor, payouts map[string]int64, idents map[string]string) (map[string]int64, bool) {
	if len(d.Votes) == 0 {
		return nil, false
	}
	alloc := make(map[string]int64, len(d.Votes))
	var total int64
	for _, v := range d.Votes {
		user, ok := idents[v.Deliverable]
		if !ok {
			return nil, false
		}
		if _, ok := payouts[user]; !ok {
			return nil, false
		}
		alloc[user] += v.Points
		total += v.Points
	}
	if total != d.Amount {
		return nil, false
	}
	return alloc, true
}

// Finalize settles one due task: on-time deliverables are paid from the
// escrow wallet according to the donors' votes, or the donors are refunded
// when nothing was delivered in time. The whole settlement commits
// atomically and leaves the escrow wallet empty. Finalizing a completed
// task is a no-op.
func (e *Engine) Finalize(ctx context.Context, taskID string) error {
	var settled *store.Task
	var paid []string
	err := e.db.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Tasks().Get(taskID)
		if err != nil {
			return err
		}
		if t.Status == store.TaskCompleted {
			return nil
		}
		now := e.now()

		donors, err := tx.Tasks().ListDonors(taskID)
		if err != nil {
			return err
		}
		deliveries, err := tx.Tasks().ListDeliveries(taskID)
		if err != nil {
			return err
		}

		// Votes may reference a deliverable by post ID or by the
		// delivering user; both resolve to the user being paid.
		idents := make(map[string]string)
		var recipients []string
		for _, del := range deliveries {
			if del.Late {
				continue
			}
			if _, seen := idents[del.User]; !seen {
				recipients = append(recipients, del.User)
			}
			idents[del.User] = del.User
			idents[del.PostID] = del.User
		}
		sort.Strings(recipients)

		payouts, remainder := distribute(donors, recipients, idents)
		if len(recipients) == 0 {
			// Nothing delivered in time; everyone gets their money back.
			for _, d := range donors {
				if d.Amount <= 0 {
					continue
				}
				if _, err := e.ledger.TransferTx(tx, ledger.TransferReq{
					From:     t.WalletID,
					To:       ledger.UserWallet(d.User),
					Amount:   d.Amount,
					Currency: t.Currency,
					Type:     store.TxRefund,
					TaskID:   t.ID,
				}); err != nil {
					return err
				}
			}
		} else {
			for _, user := range recipients {
				amount := payouts[user]
				if amount <= 0 {
					continue
				}
				res, err := e.ledger.TransferTx(tx, ledger.TransferReq{
					From:     t.WalletID,
					To:       ledger.UserWallet(user),
					Amount:   amount,
					Currency: t.Currency,
					Type:     store.TxReward,
					TaskID:   t.ID,
				})
				if err != nil {
					return err
				}
				p, err := tx.Tasks().GetParticipant(taskID, user)
				if err != nil {
					return err
				}
				p.Status = store.ParticipantPaid
				p.Timelines = append(p.Timelines, store.StatusChange{Status: store.ParticipantPaid, At: now})
				p.RewardTxID = res.CreditID
				p.UpdatedAt = now
				if err := tx.Tasks().PutParticipant(p); err != nil {
					return err
				}
				paid = append(paid, user)
			}
			if remainder > 0 {
				if _, err := e.ledger.TransferTx(tx, ledger.TransferReq{
					From:     t.WalletID,
					To:       ledger.FeeWalletID,
					Amount:   remainder,
					Currency: t.Currency,
					Type:     store.TxFee,
					TaskID:   t.ID,
				}); err != nil {
					return err
				}
			}
		}

		if err := assertEmptyEscrow(tx, t); err != nil {
			return err
		}
		t.Status = store.TaskCompleted
		t.UpdatedAt = now
		if err := tx.Tasks().Put(t); err != nil {
			return err
		}
		settled = t
		return nil
	})
	if err != nil || settled == nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"task": settled.ID, "paid": len(paid),
	}).Info("task settled")
	for _, user := range paid {
		e.emit(ctx, settled.CreatedBy, notify.EvUserBalanceUpdate, settled, []string{user})
	}
	return nil
}

// assertEmptyEscrow fails the settlement when money would be left behind
// in the task wallet, rolling the whole transaction back.
func assertEmptyEscrow(tx store.Tx, t *store.Task) error {
	w, err := tx.Wallets().Get(t.WalletID)
	if err == store.ErrNotFound {
		return nil // no donation ever touched the wallet
	}
	if err != nil {
		return err
	}
	headID := w.Heads[t.Currency]
	if headID == "" {
		return nil
	}
	head, err := tx.Ledger().GetTx(headID)
	if err != nil {
		return err
	}
	if head.Balance != 0 {
		return fmt.Errorf("taskreward: escrow of task %s left with %d %s", t.ID, head.Balance, t.Currency)
	}
	return nil
}

// recordSweepFailure pushes the task's next sweep attempt out with
// exponential backoff so one poisoned task cannot hog the sweeper.
func (e *Engine) recordSweepFailure(ctx context.Context, taskID string, now time.Time) error {
	return e.db.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Tasks().Get(taskID)
		if err != nil {
			return err
		}
		t.SweepAttempts++
		backoff := sweepBackoffBase << uint(t.SweepAttempts-1)
		if backoff > sweepBackoffMax {
			backoff = sweepBackoffMax
		}
		t.NextSweepAt = now.Add(backoff)
		return tx.Tasks().Put(t)
	})
}
