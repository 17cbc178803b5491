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

// Package ledger implements the append-only wallet ledger. Every wallet
// holds one transaction chain per currency; the chain head doubles as the
// wallet's balance and as the serialization point for concurrent writers.
// A transfer appends exactly two records, one debit and one credit, sharing
// a transfer ident, and advances both heads in one store transaction.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/metrics"
	"github.com/darve-social/darve-server/store"
)

// maxTransferAttempts bounds retries after losing the head-pointer race.
const maxTransferAttempts = 5

// Ledger provides the atomic transfer primitive and balance views.
type Ledger struct {
	db  store.DB
	log *logrus.Entry
	now func() time.Time
}

// New creates a Ledger on top of db.
func New(db store.DB) *Ledger {
	return &Ledger{
		db:  db,
		log: logrus.WithField("component", "ledger"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// TransferReq describes one two-leg transfer.
type TransferReq struct {
	From     string
	To       string
	Amount   int64
	Currency store.Currency
	Type     store.BalanceTxType

	// Correlation references stamped on both legs.
	GatewayTx string
	TaskID    string

	// LockID marks the caller as owner of an advisory lock; a wallet
	// locked with exactly this ID stays writable for this transfer.
	LockID string

	// AllowLocked permits the target to be a *_locked escrow wallet even
	// while the owner's spendable wallet is locked.
	AllowLocked bool
}

// TransferResult reports the created legs and resulting balances.
type TransferResult struct {
	Ident       string
	DebitID     string
	CreditID    string
	FromBalance int64
	ToBalance   int64
}

// Transfer atomically moves Amount from req.From to req.To, retrying a
// bounded number of times when a concurrent transfer advanced one of the
// heads first.
func (l *Ledger) Transfer(ctx context.Context, req TransferReq) (*TransferResult, error) {
	var res *TransferResult
	for attempt := 0; attempt < maxTransferAttempts; attempt++ {
		err := l.db.Update(ctx, func(tx store.Tx) error {
			var err error
			res, err = l.TransferTx(tx, req)
			return err
		})
		if err == nil {
			metrics.TransfersTotal.WithLabelValues(string(req.Type)).Inc()
			l.log.WithFields(logrus.Fields{
				"from": req.From, "to": req.To,
				"amount": req.Amount, "currency": req.Currency,
				"ident": res.Ident,
			}).Debug("transfer committed")
			return res, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		metrics.TransferRetries.Inc()
	}
	return nil, ErrConflict
}

// TransferTx performs one transfer inside the caller's open transaction.
// It is the building block for flows that bundle several legs (withdrawal
// init, task payout) into a single atomic unit.
func (l *Ledger) TransferTx(tx store.Tx, req TransferReq) (*TransferResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !req.Currency.Valid() {
		return nil, ErrCurrencyMismatch
	}
	if req.From == req.To {
		return nil, ErrSelfTransfer
	}
	now := l.now()

	// Wallet rows are loaded in lexical order so concurrent transfers
	// acquire their row locks in the same order on backends that lock
	// pessimistically.
	ids := []string{req.From, req.To}
	sort.Strings(ids)
	wallets := make(map[string]*store.Wallet, 2)
	for _, id := range ids {
		w, err := ensureWallet(tx, id, now)
		if err != nil {
			return nil, err
		}
		wallets[id] = w
	}
	for _, id := range ids {
		if err := l.checkLock(tx, wallets[id], req, now); err != nil {
			return nil, err
		}
	}

	from, to := wallets[req.From], wallets[req.To]
	fromHead, err := chainHead(tx, from, req.Currency, now)
	if err != nil {
		return nil, err
	}
	toHead, err := chainHead(tx, to, req.Currency, now)
	if err != nil {
		return nil, err
	}
	// The gateway wallet is the system boundary: external inflow shows up
	// as its negative balance, so it is the one wallet allowed to owe.
	if fromHead.Balance < req.Amount && from.ID != GatewayWalletID {
		return nil, ErrBalanceTooLow
	}

	ident := uuid.NewString()
	debit := &store.BalanceTx{
		ID:         uuid.NewString(),
		Wallet:     from.ID,
		WithWallet: to.ID,
		Ident:      ident,
		Currency:   req.Currency,
		Prev:       fromHead.ID,
		AmountOut:  req.Amount,
		Balance:    fromHead.Balance - req.Amount,
		Type:       req.Type,
		GatewayTx:  req.GatewayTx,
		TaskID:     req.TaskID,
		CreatedAt:  now,
	}
	credit := &store.BalanceTx{
		ID:         uuid.NewString(),
		Wallet:     to.ID,
		WithWallet: from.ID,
		Ident:      ident,
		Currency:   req.Currency,
		Prev:       toHead.ID,
		AmountIn:   req.Amount,
		Balance:    toHead.Balance + req.Amount,
		Type:       req.Type,
		GatewayTx:  req.GatewayTx,
		TaskID:     req.TaskID,
		CreatedAt:  now,
	}
	if err := tx.Ledger().PutTx(debit); err != nil {
		return nil, err
	}
	if err := tx.Ledger().PutTx(credit); err != nil {
		return nil, err
	}
	if err := tx.Wallets().SetHead(from.ID, req.Currency, debit.ID, fromHead.ID); err != nil {
		return nil, err
	}
	if err := tx.Wallets().SetHead(to.ID, req.Currency, credit.ID, toHead.ID); err != nil {
		return nil, err
	}
	return &TransferResult{
		Ident:       ident,
		DebitID:     debit.ID,
		CreditID:    credit.ID,
		FromBalance: debit.Balance,
		ToBalance:   credit.Balance,
	}, nil
}

// checkLock enforces the advisory lock rules for one wallet touched by a
// transfer. A *_locked escrow wallet is also guarded by its owner's
// spendable wallet lock.
func (l *Ledger) checkLock(tx store.Tx, w *store.Wallet, req TransferReq, now time.Time) error {
	locked := w.LockedAt(now) && (req.LockID == "" || w.Lock.ID != req.LockID)
	if !locked && IsLockedWallet(w.ID) {
		owner, err := tx.Wallets().Get(SpendableOf(w.ID))
		if err == nil && owner.LockedAt(now) && (req.LockID == "" || owner.Lock.ID != req.LockID) {
			locked = true
		} else if err != nil && err != store.ErrNotFound {
			return err
		}
	}
	if !locked {
		return nil
	}
	if req.AllowLocked && w.ID == req.To && IsLockedWallet(w.ID) {
		return nil
	}
	return ErrWalletLocked
}

// chainHead returns the newest record of (wallet, currency), creating the
// genesis record the first time the pair is touched.
func chainHead(tx store.Tx, w *store.Wallet, cur store.Currency, now time.Time) (*store.BalanceTx, error) {
	if headID := w.Heads[cur]; headID != "" {
		return tx.Ledger().GetTx(headID)
	}
	genesis := &store.BalanceTx{
		ID:        uuid.NewString(),
		Wallet:    w.ID,
		Ident:     uuid.NewString(),
		Currency:  cur,
		Type:      store.TxInit,
		CreatedAt: now,
	}
	if err := tx.Ledger().PutTx(genesis); err != nil {
		return nil, err
	}
	if err := tx.Wallets().SetHead(w.ID, cur, genesis.ID, ""); err != nil {
		return nil, err
	}
	w.Heads[cur] = genesis.ID
	return genesis, nil
}

// Balance returns the per-currency balances of one wallet. Reading the head
// record per currency makes this O(1) per currency.
func (l *Ledger) Balance(ctx context.Context, walletID string) (map[store.Currency]int64, error) {
	out := make(map[store.Currency]int64, len(store.Currencies))
	err := l.db.View(ctx, func(tx store.Tx) error {
		w, err := tx.Wallets().Get(walletID)
		if err == store.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return headBalances(tx, w, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Balances is the combined spendable/locked view of one user.
type Balances struct {
	Spendable map[store.Currency]int64 `json:"spendable"`
	Locked    map[store.Currency]int64 `json:"locked"`
}

// UserBalances returns the spendable and escrow balances of one user.
func (l *Ledger) UserBalances(ctx context.Context, uid string) (*Balances, error) {
	res := &Balances{
		Spendable: make(map[store.Currency]int64),
		Locked:    make(map[store.Currency]int64),
	}
	err := l.db.View(ctx, func(tx store.Tx) error {
		for id, dst := range map[string]map[store.Currency]int64{
			UserWallet(uid):       res.Spendable,
			UserLockedWallet(uid): res.Locked,
		} {
			w, err := tx.Wallets().Get(id)
			if err == store.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if err := headBalances(tx, w, dst); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func headBalances(tx store.Tx, w *store.Wallet, dst map[store.Currency]int64) error {
	for cur, headID := range w.Heads {
		head, err := tx.Ledger().GetTx(headID)
		if err != nil {
			return err
		}
		dst[cur] = head.Balance
	}
	return nil
}

// History lists a wallet's balance transactions, newest first. cur narrows
// to one currency when non-empty.
func (l *Ledger) History(ctx context.Context, walletID string, cur store.Currency, limit, offset int) ([]*store.BalanceTx, error) {
	if cur != "" && !cur.Valid() {
		return nil, ErrCurrencyMismatch
	}
	var out []*store.BalanceTx
	err := l.db.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Ledger().History(walletID, cur, limit, offset)
		return err
	})
	return out, err
}
