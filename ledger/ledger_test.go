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

package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/darve-social/darve-server/store"
	"github.com/darve-social/darve-server/store/memorydb"
)

func newTestLedger(t *testing.T) (*Ledger, store.DB) {
	t.Helper()
	db := memorydb.New()
	t.Cleanup(func() { db.Close() })
	l := New(db)
	require.NoError(t, l.Bootstrap(context.Background()))
	return l, db
}

// fund credits a wallet from the gateway wallet, seeding the gateway wallet
// first so the debit side never runs dry.
func fund(t *testing.T, l *Ledger, wallet string, amount int64, cur store.Currency) {
	t.Helper()
	seedTestWallet(t, l, GatewayWalletID, amount, cur)
	_, err := l.Transfer(context.Background(), TransferReq{
		From: GatewayWalletID, To: wallet, Amount: amount, Currency: cur, Type: store.TxDeposit,
	})
	require.NoError(t, err)
}

// seedTestWallet force-appends a credit with no matching debit. Only the
// test harness may do this; it stands in for external inflow.
func seedTestWallet(t *testing.T, l *Ledger, wallet string, amount int64, cur store.Currency) {
	t.Helper()
	err := l.db.Update(context.Background(), func(tx store.Tx) error {
		now := l.now()
		w, err := ensureWallet(tx, wallet, now)
		if err != nil {
			return err
		}
		head, err := chainHead(tx, w, cur, now)
		if err != nil {
			return err
		}
		credit := &store.BalanceTx{
			ID: "seed-" + uuid.NewString(),
			Wallet: wallet, Ident: "seed-" + uuid.NewString(), Currency: cur,
			Prev: head.ID, AmountIn: amount, Balance: head.Balance + amount,
			Type: store.TxDeposit, CreatedAt: now,
		}
		if err := tx.Ledger().PutTx(credit); err != nil {
			return err
		}
		return tx.Wallets().SetHead(wallet, cur, credit.ID, head.ID)
	})
	require.NoError(t, err)
}

func TestTransferBasic(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	fund(t, l, UserWallet("alice"), 1000, store.USD)

	res, err := l.Transfer(ctx, TransferReq{
		From: UserWallet("alice"), To: UserWallet("bob"),
		Amount: 300, Currency: store.USD, Type: store.TxTransfer,
	})
	require.NoError(t, err)
	require.Equal(t, int64(700), res.FromBalance)
	require.Equal(t, int64(300), res.ToBalance)

	bal, err := l.Balance(ctx, UserWallet("bob"))
	require.NoError(t, err)
	require.Equal(t, int64(300), bal[store.USD])
}

func TestTransferPairsLegs(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	fund(t, l, UserWallet("alice"), 500, store.USD)
	res, err := l.Transfer(ctx, TransferReq{
		From: UserWallet("alice"), To: UserWallet("bob"),
		Amount: 500, Currency: store.USD, Type: store.TxTransfer,
	})
	require.NoError(t, err)

	var legs []*store.BalanceTx
	require.NoError(t, db.View(ctx, func(tx store.Tx) error {
		var err error
		legs, err = tx.Ledger().ByIdent(res.Ident)
		return err
	}))
	require.Len(t, legs, 2)

	var in, out *store.BalanceTx
	for _, leg := range legs {
		if leg.AmountIn > 0 {
			in = leg
		} else {
			out = leg
		}
	}
	require.NotNil(t, in)
	require.NotNil(t, out)
	require.Equal(t, in.AmountIn, out.AmountOut)
	require.Equal(t, in.Currency, out.Currency)
	require.Zero(t, in.AmountOut)
	require.Zero(t, out.AmountIn)
}

func TestChainIntegrity(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	fund(t, l, UserWallet("alice"), 1000, store.USD)
	for i := 0; i < 4; i++ {
		_, err := l.Transfer(ctx, TransferReq{
			From: UserWallet("alice"), To: UserWallet("bob"),
			Amount: 100, Currency: store.USD, Type: store.TxTransfer,
		})
		require.NoError(t, err)
	}

	// Walking prev from the head must reach the genesis record, with the
	// running balance consistent at every step.
	require.NoError(t, db.View(ctx, func(tx store.Tx) error {
		w, err := tx.Wallets().Get(UserWallet("alice"))
		require.NoError(t, err)
		id := w.Heads[store.USD]
		steps := 0
		for id != "" {
			rec, err := tx.Ledger().GetTx(id)
			require.NoError(t, err)
			require.GreaterOrEqual(t, rec.Balance, int64(0))
			if rec.Prev == "" {
				require.Equal(t, store.TxInit, rec.Type)
				require.Zero(t, rec.AmountIn)
				require.Zero(t, rec.AmountOut)
			} else {
				prev, err := tx.Ledger().GetTx(rec.Prev)
				require.NoError(t, err)
				require.Equal(t, prev.Balance+rec.AmountIn-rec.AmountOut, rec.Balance)
			}
			id = rec.Prev
			steps++
			require.Less(t, steps, 100, "chain does not terminate")
		}
		return nil
	}))
}

func TestTransferBalanceTooLow(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	fund(t, l, UserWallet("alice"), 100, store.USD)
	_, err := l.Transfer(ctx, TransferReq{
		From: UserWallet("alice"), To: UserWallet("bob"),
		Amount: 101, Currency: store.USD, Type: store.TxTransfer,
	})
	require.ErrorIs(t, err, ErrBalanceTooLow)

	// A failed transfer must leave the store unchanged.
	bal, err := l.Balance(ctx, UserWallet("alice"))
	require.NoError(t, err)
	require.Equal(t, int64(100), bal[store.USD])
	bal, err = l.Balance(ctx, UserWallet("bob"))
	require.NoError(t, err)
	require.Zero(t, bal[store.USD])
}

func TestTransferValidation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Transfer(ctx, TransferReq{
		From: UserWallet("a"), To: UserWallet("b"), Amount: 0,
		Currency: store.USD, Type: store.TxTransfer,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.Transfer(ctx, TransferReq{
		From: UserWallet("a"), To: UserWallet("b"), Amount: 10,
		Currency: "DOGE", Type: store.TxTransfer,
	})
	require.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = l.Transfer(ctx, TransferReq{
		From: UserWallet("a"), To: UserWallet("a"), Amount: 10,
		Currency: store.USD, Type: store.TxTransfer,
	})
	require.ErrorIs(t, err, ErrSelfTransfer)
}

func TestLockBlocksTransfer(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	fund(t, l, UserWallet("alice"), 100, store.USD)
	lockID, err := l.TryLock(ctx, UserWallet("alice"), time.Minute)
	require.NoError(t, err)

	_, err = l.Transfer(ctx, TransferReq{
		From: UserWallet("alice"), To: UserWallet("bob"),
		Amount: 10, Currency: store.USD, Type: store.TxTransfer,
	})
	require.ErrorIs(t, err, ErrWalletLocked)

	// The lock owner keeps write access by presenting the lock ID.
	_, err = l.Transfer(ctx, TransferReq{
		From: UserWallet("alice"), To: UserWallet("bob"),
		Amount: 10, Currency: store.USD, Type: store.TxTransfer,
		LockID: lockID,
	})
	require.NoError(t, err)
}

func TestLockGuardsEscrowWallet(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	fund(t, l, UserWallet("carol"), 100, store.USD)
	seedTestWallet(t, l, GatewayWalletID, 100, store.USD)
	_, err := l.TryLock(ctx, UserWallet("carol"), time.Minute)
	require.NoError(t, err)

	// The owner's spendable lock also guards the escrow wallet...
	_, err = l.Transfer(ctx, TransferReq{
		From: GatewayWalletID, To: UserLockedWallet("carol"),
		Amount: 50, Currency: store.USD, Type: store.TxTransfer,
	})
	require.ErrorIs(t, err, ErrWalletLocked)

	// ...unless the caller asks for the locked target explicitly.
	_, err = l.Transfer(ctx, TransferReq{
		From: GatewayWalletID, To: UserLockedWallet("carol"),
		Amount: 50, Currency: store.USD, Type: store.TxTransfer,
		AllowLocked: true,
	})
	require.NoError(t, err)
}

func TestLockExpiry(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	now := time.Now().UTC()
	l.SetClock(func() time.Time { return now })

	_, err := l.TryLock(ctx, UserWallet("alice"), time.Second)
	require.NoError(t, err)
	_, err = l.TryLock(ctx, UserWallet("alice"), time.Second)
	require.ErrorIs(t, err, ErrWalletLocked)

	// An expired lock is treated as absent.
	now = now.Add(2 * time.Second)
	_, err = l.TryLock(ctx, UserWallet("alice"), time.Second)
	require.NoError(t, err)
}

func TestUnlockIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	lockID, err := l.TryLock(ctx, UserWallet("alice"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Unlock(ctx, UserWallet("alice"), lockID))
	require.NoError(t, l.Unlock(ctx, UserWallet("alice"), lockID))
	require.NoError(t, l.Unlock(ctx, UserWallet("missing"), lockID))
}

func TestHistoryPagination(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	fund(t, l, UserWallet("alice"), 100, store.USD)
	for i := 0; i < 5; i++ {
		_, err := l.Transfer(ctx, TransferReq{
			From: UserWallet("alice"), To: UserWallet("bob"),
			Amount: 10, Currency: store.USD, Type: store.TxTransfer,
		})
		require.NoError(t, err)
	}

	// genesis + deposit credit + 5 debits
	all, err := l.History(ctx, UserWallet("alice"), "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 7)

	// Newest first, descending running balance on the debit run.
	require.Equal(t, int64(50), all[0].Balance)

	page, err := l.History(ctx, UserWallet("alice"), store.USD, 3, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	next, err := l.History(ctx, UserWallet("alice"), store.USD, 3, 3)
	require.NoError(t, err)
	require.Len(t, next, 3)
	require.NotEqual(t, page[0].ID, next[0].ID)
}

func TestUserBalancesView(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	fund(t, l, UserWallet("alice"), 120, store.USD)
	seedTestWallet(t, l, UserLockedWallet("alice"), 30, store.USD)
	seedTestWallet(t, l, UserWallet("alice"), 7, store.REEF)

	got, err := l.UserBalances(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(120), got.Spendable[store.USD])
	require.Equal(t, int64(7), got.Spendable[store.REEF])
	require.Equal(t, int64(30), got.Locked[store.USD])
}

func TestConcurrentTransfersOneWinner(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	fund(t, l, UserWallet("u"), 15, store.USD)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Transfer(ctx, TransferReq{
				From: UserWallet("u"), To: UserWallet("x"),
				Amount: 10, Currency: store.USD, Type: store.TxTransfer,
			})
		}(i)
	}
	wg.Wait()

	var ok, tooLow int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case err == ErrBalanceTooLow:
			tooLow++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, tooLow)

	bal, err := l.Balance(ctx, UserWallet("u"))
	require.NoError(t, err)
	require.Equal(t, int64(5), bal[store.USD])
}

func TestWalletDerivation(t *testing.T) {
	require.Equal(t, "wallet:user:42", UserWallet("42"))
	require.Equal(t, "wallet:user:42_locked", UserLockedWallet("42"))
	require.True(t, IsLockedWallet(UserLockedWallet("42")))
	require.False(t, IsLockedWallet(UserWallet("42")))
	require.Equal(t, UserWallet("42"), SpendableOf(UserLockedWallet("42")))
}
