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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darve-social/darve-server/gateway"
	"github.com/darve-social/darve-server/ledger"
	"github.com/darve-social/darve-server/store"
	"github.com/darve-social/darve-server/store/memorydb"
)

type fixture struct {
	engine  *Engine
	ledger  *ledger.Ledger
	gateway *gateway.Service
	db      store.DB
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memorydb.New()
	t.Cleanup(func() { db.Close() })
	l := ledger.New(db)
	require.NoError(t, l.Bootstrap(context.Background()))
	f := &fixture{
		engine:  New(db, l, nil),
		ledger:  l,
		gateway: gateway.NewService(db, l, nil, nil, gateway.Config{}),
		db:      db,
		now:     time.Now().UTC(),
	}
	l.SetClock(func() time.Time { return f.now })
	f.engine.SetClock(func() time.Time { return f.now })
	return f
}

// credit funds a user's spendable wallet through the deposit flow.
func (f *fixture) credit(t *testing.T, user string, amount int64) {
	t.Helper()
	ctx := context.Background()
	g, err := f.gateway.InitDeposit(ctx, user, amount, store.USD)
	require.NoError(t, err)
	require.NoError(t, f.gateway.CompleteDeposit(ctx, g.ID, "ext-"+g.ID, 0))
}

func (f *fixture) task(t *testing.T, req CreateReq) *store.Task {
	t.Helper()
	if req.CreatedBy == "" {
		req.CreatedBy = "creator"
	}
	if req.Request == "" {
		req.Request = "paint the fence"
	}
	if req.Currency == "" {
		req.Currency = store.USD
	}
	if req.DueAt.IsZero() {
		req.DueAt = f.now.Add(time.Hour)
	}
	task, err := f.engine.Create(context.Background(), req)
	require.NoError(t, err)
	return task
}

func (f *fixture) balance(t *testing.T, wallet string) int64 {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), wallet)
	require.NoError(t, err)
	return bal[store.USD]
}

func TestCreateWithInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna", "ben"}})
	require.Equal(t, store.TaskInit, task.Status)
	require.Equal(t, ledger.TaskWallet(task.ID), task.WalletID)

	parts, err := f.engine.Participants(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	for _, p := range parts {
		require.Equal(t, store.ParticipantRequested, p.Status)
		require.Len(t, p.Timelines, 1)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, CreateReq{CreatedBy: "x", Currency: store.USD})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.engine.Create(ctx, CreateReq{CreatedBy: "x", Request: "r", Currency: "DOGE"})
	require.ErrorIs(t, err, ledger.ErrCurrencyMismatch)
}

func TestOfferIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{})
	p1, err := f.engine.Offer(ctx, task.ID, "anna")
	require.NoError(t, err)
	p2, err := f.engine.Offer(ctx, task.ID, "anna")
	require.NoError(t, err)
	require.Equal(t, p1.CreatedAt, p2.CreatedAt)

	parts, err := f.engine.Participants(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
}

func TestAcceptRejectTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna", "ben"}})

	require.NoError(t, f.engine.Accept(ctx, task.ID, "anna"))
	require.NoError(t, f.engine.Reject(ctx, task.ID, "ben"))
	require.ErrorIs(t, f.engine.Accept(ctx, task.ID, "anna"), ErrForbidden)
	require.ErrorIs(t, f.engine.Accept(ctx, task.ID, "ben"), ErrForbidden)
	require.ErrorIs(t, f.engine.Accept(ctx, task.ID, "stranger"), ErrNotParticipant)

	p, err := f.engine.Participants(ctx, task.ID)
	require.NoError(t, err)
	byUser := map[string]*store.TaskParticipant{}
	for _, row := range p {
		byUser[row.User] = row
	}
	require.Equal(t, store.ParticipantAccepted, byUser["anna"].Status)
	require.Equal(t, store.ParticipantRejected, byUser["ben"].Status)
	require.Len(t, byUser["anna"].Timelines, 2)
}

func TestDonateMovesToEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{})
	f.credit(t, "d1", 500)

	d, err := f.engine.Donate(ctx, task.ID, "d1", 300, store.USD)
	require.NoError(t, err)
	require.Equal(t, int64(300), d.Amount)
	require.Equal(t, int64(300), f.balance(t, task.WalletID))
	require.Equal(t, int64(200), f.balance(t, ledger.UserWallet("d1")))
}

func TestDonateIncreaseOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{})
	f.credit(t, "d1", 500)

	_, err := f.engine.Donate(ctx, task.ID, "d1", 300, store.USD)
	require.NoError(t, err)

	// Same or smaller totals are rejected without moving money.
	_, err = f.engine.Donate(ctx, task.ID, "d1", 300, store.USD)
	require.ErrorIs(t, err, ErrDonationNotIncreasing)
	_, err = f.engine.Donate(ctx, task.ID, "d1", 100, store.USD)
	require.ErrorIs(t, err, ErrDonationNotIncreasing)
	require.Equal(t, int64(300), f.balance(t, task.WalletID))

	// A raise transfers only the delta.
	d, err := f.engine.Donate(ctx, task.ID, "d1", 450, store.USD)
	require.NoError(t, err)
	require.Equal(t, int64(450), d.Amount)
	require.Equal(t, int64(450), f.balance(t, task.WalletID))
	require.Equal(t, int64(50), f.balance(t, ledger.UserWallet("d1")))
}

func TestDonateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{})
	_, err := f.engine.Donate(ctx, task.ID, "d1", 0, store.USD)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = f.engine.Donate(ctx, task.ID, "d1", 10, store.REEF)
	require.ErrorIs(t, err, ledger.ErrCurrencyMismatch)

	// Broke donors leave no partial state behind.
	_, err = f.engine.Donate(ctx, task.ID, "d1", 10, store.USD)
	require.ErrorIs(t, err, ledger.ErrBalanceTooLow)
	donors, err := f.engine.Donors(ctx, task.ID)
	require.NoError(t, err)
	require.Empty(t, donors)
}

func TestTaskStartsOnDonationAndAcceptance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna"}})
	f.credit(t, "d1", 100)

	// A donation alone does not start the task.
	_, err := f.engine.Donate(ctx, task.ID, "d1", 50, store.USD)
	require.NoError(t, err)
	got, err := f.engine.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskInit, got.Status)

	// Acceptance completes the pair, regardless of order.
	require.NoError(t, f.engine.Accept(ctx, task.ID, "anna"))
	got, err = f.engine.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskInProgress, got.Status)
}

func TestDeliverRequiresAcceptance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna"}})
	_, err := f.engine.Deliver(ctx, task.ID, "anna", "post-1")
	require.ErrorIs(t, err, ErrNotAccepted)
	_, err = f.engine.Deliver(ctx, task.ID, "stranger", "post-1")
	require.ErrorIs(t, err, ErrNotParticipant)

	require.NoError(t, f.engine.Accept(ctx, task.ID, "anna"))
	del, err := f.engine.Deliver(ctx, task.ID, "anna", "post-1")
	require.NoError(t, err)
	require.False(t, del.Late)

	parts, err := f.engine.Participants(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.ParticipantDelivered, parts[0].Status)
	require.Equal(t, "post-1", parts[0].DeliveryPost)
}

func TestDeliverAfterDueIsLate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna"}})
	require.NoError(t, f.engine.Accept(ctx, task.ID, "anna"))

	f.now = task.DueAt.Add(time.Minute)
	del, err := f.engine.Deliver(ctx, task.ID, "anna", "post-1")
	require.NoError(t, err)
	require.True(t, del.Late)
}

func TestVoteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{})
	f.credit(t, "d1", 100)
	_, err := f.engine.Donate(ctx, task.ID, "d1", 100, store.USD)
	require.NoError(t, err)

	require.ErrorIs(t, f.engine.Vote(ctx, task.ID, "d1",
		[]store.DeliverableVote{{Deliverable: "p", Points: -1}}), ErrInvalidVote)
	require.ErrorIs(t, f.engine.Vote(ctx, task.ID, "stranger",
		[]store.DeliverableVote{{Deliverable: "p", Points: 1}}), ErrForbidden)
	require.NoError(t, f.engine.Vote(ctx, task.ID, "d1",
		[]store.DeliverableVote{{Deliverable: "p", Points: 100}}))
}

// Scenario: two donors fund a task, one participant delivers in time, the
// whole escrow goes to them.
func TestFinalizePaysDeliverer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna"}})
	f.credit(t, "d1", 40)
	f.credit(t, "d2", 60)
	require.NoError(t, f.engine.Accept(ctx, task.ID, "anna"))
	_, err := f.engine.Donate(ctx, task.ID, "d1", 40, store.USD)
	require.NoError(t, err)
	_, err = f.engine.Donate(ctx, task.ID, "d2", 60, store.USD)
	require.NoError(t, err)
	_, err = f.engine.Deliver(ctx, task.ID, "anna", "post-1")
	require.NoError(t, err)

	f.now = task.DueAt.Add(time.Minute)
	require.NoError(t, f.engine.Finalize(ctx, task.ID))

	require.Equal(t, int64(100), f.balance(t, ledger.UserWallet("anna")))
	require.Zero(t, f.balance(t, task.WalletID))

	got, err := f.engine.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskCompleted, got.Status)
	parts, err := f.engine.Participants(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.ParticipantPaid, parts[0].Status)
	require.NotEmpty(t, parts[0].RewardTxID)
}

// Scenario: a funded task nobody delivered refunds its donors.
func TestFinalizeRefundsWithoutDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{})
	f.credit(t, "d1", 100)
	_, err := f.engine.Donate(ctx, task.ID, "d1", 100, store.USD)
	require.NoError(t, err)

	f.now = task.DueAt.Add(time.Minute)
	require.NoError(t, f.engine.Finalize(ctx, task.ID))

	require.Equal(t, int64(100), f.balance(t, ledger.UserWallet("d1")))
	require.Zero(t, f.balance(t, task.WalletID))
	got, err := f.engine.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskCompleted, got.Status)
}

// Scenario: one donor votes 70/30 over two deliverables, the other donor
// abstains and splits evenly.
func TestFinalizeSplitVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna", "ben"}})
	f.credit(t, "d1", 100)
	f.credit(t, "d2", 100)
	require.NoError(t, f.engine.Accept(ctx, task.ID, "anna"))
	require.NoError(t, f.engine.Accept(ctx, task.ID, "ben"))
	_, err := f.engine.Donate(ctx, task.ID, "d1", 100, store.USD)
	require.NoError(t, err)
	_, err = f.engine.Donate(ctx, task.ID, "d2", 100, store.USD)
	require.NoError(t, err)
	_, err = f.engine.Deliver(ctx, task.ID, "anna", "post-a")
	require.NoError(t, err)
	_, err = f.engine.Deliver(ctx, task.ID, "ben", "post-b")
	require.NoError(t, err)
	require.NoError(t, f.engine.Vote(ctx, task.ID, "d1", []store.DeliverableVote{
		{Deliverable: "post-a", Points: 70},
		{Deliverable: "post-b", Points: 30},
	}))

	f.now = task.DueAt.Add(time.Minute)
	require.NoError(t, f.engine.Finalize(ctx, task.ID))

	require.Equal(t, int64(120), f.balance(t, ledger.UserWallet("anna")))
	require.Equal(t, int64(80), f.balance(t, ledger.UserWallet("ben")))
	require.Zero(t, f.balance(t, task.WalletID))
}

// Uneven splits floor per recipient and sweep the remainder to the fee
// wallet so the escrow still closes at zero.
func TestFinalizeRemainderToFeeWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna", "ben", "cleo"}})
	f.credit(t, "d1", 100)
	for _, u := range []string{"anna", "ben", "cleo"} {
		require.NoError(t, f.engine.Accept(ctx, task.ID, u))
	}
	_, err := f.engine.Donate(ctx, task.ID, "d1", 100, store.USD)
	require.NoError(t, err)
	for _, u := range []string{"anna", "ben", "cleo"} {
		_, err = f.engine.Deliver(ctx, task.ID, u, "post-"+u)
		require.NoError(t, err)
	}

	f.now = task.DueAt.Add(time.Minute)
	require.NoError(t, f.engine.Finalize(ctx, task.ID))

	for _, u := range []string{"anna", "ben", "cleo"} {
		require.Equal(t, int64(33), f.balance(t, ledger.UserWallet(u)))
	}
	require.Equal(t, int64(1), f.balance(t, ledger.FeeWalletID))
	require.Zero(t, f.balance(t, task.WalletID))
}

func TestFinalizeExcludesLateDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna", "ben"}})
	f.credit(t, "d1", 100)
	require.NoError(t, f.engine.Accept(ctx, task.ID, "anna"))
	require.NoError(t, f.engine.Accept(ctx, task.ID, "ben"))
	_, err := f.engine.Donate(ctx, task.ID, "d1", 100, store.USD)
	require.NoError(t, err)
	_, err = f.engine.Deliver(ctx, task.ID, "anna", "post-a")
	require.NoError(t, err)

	f.now = task.DueAt.Add(time.Minute)
	_, err = f.engine.Deliver(ctx, task.ID, "ben", "post-b")
	require.NoError(t, err)

	require.NoError(t, f.engine.Finalize(ctx, task.ID))
	require.Equal(t, int64(100), f.balance(t, ledger.UserWallet("anna")))
	require.Zero(t, f.balance(t, ledger.UserWallet("ben")))
}

// A vote naming a late deliverable is discarded and the donor degrades to
// an even split over the on-time set.
func TestFinalizeInvalidVoteDegradesToSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna", "ben"}})
	f.credit(t, "d1", 100)
	require.NoError(t, f.engine.Accept(ctx, task.ID, "anna"))
	require.NoError(t, f.engine.Accept(ctx, task.ID, "ben"))
	_, err := f.engine.Donate(ctx, task.ID, "d1", 100, store.USD)
	require.NoError(t, err)
	_, err = f.engine.Deliver(ctx, task.ID, "anna", "post-a")
	require.NoError(t, err)
	_, err = f.engine.Deliver(ctx, task.ID, "ben", "post-b")
	require.NoError(t, err)

	// Points do not sum to the donation; vector is void at payout.
	require.NoError(t, f.engine.Vote(ctx, task.ID, "d1", []store.DeliverableVote{
		{Deliverable: "post-a", Points: 10},
	}))

	f.now = task.DueAt.Add(time.Minute)
	require.NoError(t, f.engine.Finalize(ctx, task.ID))
	require.Equal(t, int64(50), f.balance(t, ledger.UserWallet("anna")))
	require.Equal(t, int64(50), f.balance(t, ledger.UserWallet("ben")))
}

func TestFinalizeIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, CreateReq{Participants: []string{"anna"}})
	f.credit(t, "d1", 100)
	require.NoError(t, f.engine.Accept(ctx, task.ID, "anna"))
	_, err := f.engine.Donate(ctx, task.ID, "d1", 100, store.USD)
	require.NoError(t, err)
	_, err = f.engine.Deliver(ctx, task.ID, "anna", "post-a")
	require.NoError(t, err)

	f.now = task.DueAt.Add(time.Minute)
	require.NoError(t, f.engine.Finalize(ctx, task.ID))
	require.NoError(t, f.engine.Finalize(ctx, task.ID))
	require.Equal(t, int64(100), f.balance(t, ledger.UserWallet("anna")))

	// A completed task rejects further mutation.
	_, err = f.engine.Donate(ctx, task.ID, "d1", 200, store.USD)
	require.ErrorIs(t, err, ErrTaskCompleted)
	require.ErrorIs(t, f.engine.Accept(ctx, task.ID, "anna"), ErrTaskCompleted)
}

func TestDistribute(t *testing.T) {
	idents := map[string]string{"pa": "a", "pb": "b", "a": "a", "b": "b"}

	// Exact votes are honored verbatim.
	payouts, rem := distribute([]*store.TaskDonor{
		{User: "d1", Amount: 100, Votes: []store.DeliverableVote{{Deliverable: "pa", Points: 70}, {Deliverable: "pb", Points: 30}}},
		{User: "d2", Amount: 100},
	}, []string{"a", "b"}, idents)
	require.Equal(t, int64(120), payouts["a"])
	require.Equal(t, int64(80), payouts["b"])
	require.Zero(t, rem)

	// No recipients pushes everything into the remainder.
	payouts, rem = distribute([]*store.TaskDonor{{User: "d1", Amount: 55}}, nil, nil)
	require.Empty(t, payouts)
	require.Equal(t, int64(55), rem)

	// Floor division remainder.
	payouts, rem = distribute([]*store.TaskDonor{{User: "d1", Amount: 10}}, []string{"a", "b", "c"},
		map[string]string{"a": "a", "b": "b", "c": "c"})
	require.Equal(t, int64(3), payouts["a"])
	require.Equal(t, int64(1), rem)
}

// totalAcrossWallets sums every head balance of every wallet in every
// currency. Transfers only move money between internal wallets, with
// external inflow showing up as the gateway wallet going negative, so the
// sum is zero at every point in time.
func (f *fixture) totalAcrossWallets(t *testing.T) int64 {
	t.Helper()
	var total int64
	err := f.db.View(context.Background(), func(tx store.Tx) error {
		wallets, err := tx.Wallets().All()
		if err != nil {
			return err
		}
		for _, w := range wallets {
			for _, headID := range w.Heads {
				head, err := tx.Ledger().GetTx(headID)
				if err != nil {
					return err
				}
				total += head.Balance
			}
		}
		return nil
	})
	require.NoError(t, err)
	return total
}

func TestMoneyConservationAcrossLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Zero(t, f.totalAcrossWallets(t))

	f.credit(t, "donor", 100000)
	require.Zero(t, f.totalAcrossWallets(t))

	task := f.task(t, CreateReq{Participants: []string{"anna"}})
	require.NoError(t, f.engine.Accept(ctx, task.ID, "anna"))
	_, err := f.engine.Donate(ctx, task.ID, "donor", 99999, store.USD)
	require.NoError(t, err)
	require.Zero(t, f.totalAcrossWallets(t))

	_, err = f.engine.Deliver(ctx, task.ID, "anna", "post-1")
	require.NoError(t, err)
	require.NoError(t, f.engine.Finalize(ctx, task.ID))
	require.Zero(t, f.totalAcrossWallets(t))
	require.Equal(t, int64(99999), f.balance(t, ledger.UserWallet("anna")))

	g, err := f.gateway.StartWithdraw(ctx, "anna", 99999, store.USD, "anna@example.com")
	require.NoError(t, err)
	require.Zero(t, f.totalAcrossWallets(t))
	require.NoError(t, f.gateway.CompleteWithdraw(ctx, g.ID, "payout-1"))
	require.Zero(t, f.totalAcrossWallets(t))

	// A reverted withdrawal conserves as well: refund and retained fee both
	// book against the gateway wallet.
	g2, err := f.gateway.StartWithdraw(ctx, "donor", 1, store.USD, "donor@example.com")
	require.NoError(t, err)
	require.NoError(t, f.gateway.RevertWithdraw(ctx, g2.ID, "rail rejected"))
	require.Zero(t, f.totalAcrossWallets(t))
}
