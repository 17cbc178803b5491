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

// Package gateway coordinates money crossing the trust boundary. A gateway
// transaction is created before the external rail is touched and its ID is
// the idempotency key the rail echoes back; the webhook outcome is then
// reconciled with the internal ledger in one store transaction.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/ledger"
	"github.com/darve-social/darve-server/notify"
	"github.com/darve-social/darve-server/store"
)

var (
	// ErrAlreadyFinalized is returned when a webhook reports an outcome
	// conflicting with a terminal state already reached.
	ErrAlreadyFinalized = errors.New("gateway: transaction already finalized")

	// ErrUnknownExternalID is returned when a webhook references no
	// gateway record.
	ErrUnknownExternalID = errors.New("gateway: unknown external reference")

	// ErrExternalRail wraps failures of the external payment rail.
	ErrExternalRail = errors.New("gateway: external rail failure")
)

// DefaultFeeRate is the withdrawal fee rate applied when none is set.
const DefaultFeeRate = 0.05

// DefaultLockTTL guards a withdrawal while the rail settles. It must
// exceed the rail's worst-case settlement time.
const DefaultLockTTL = 24 * time.Hour

// PayoutSubmitter hands a withdrawal to the external rail. batchID is the
// gateway transaction ID and doubles as the rail-side idempotency key.
type PayoutSubmitter interface {
	SubmitPayout(ctx context.Context, batchID, receiver string, amount int64, cur store.Currency) error
}

// Config carries the tunables of the gateway service.
type Config struct {
	FeeRate float64
	LockTTL time.Duration
}

// Service owns the gateway transaction lifecycle.
type Service struct {
	db       store.DB
	ledger   *ledger.Ledger
	notifier *notify.Service
	payouts  PayoutSubmitter
	feeRate  decimal.Decimal
	lockTTL  time.Duration
	log      *logrus.Entry
	now      func() time.Time
}

// NewService creates a gateway service. payouts may be nil, in which case
// withdrawals stay Pending until an operator-driven webhook resolves them.
func NewService(db store.DB, l *ledger.Ledger, n *notify.Service, payouts PayoutSubmitter, cfg Config) *Service {
	rate := cfg.FeeRate
	if rate <= 0 {
		rate = DefaultFeeRate
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Service{
		db:       db,
		ledger:   l,
		notifier: n,
		payouts:  payouts,
		feeRate:  decimal.NewFromFloat(rate),
		lockTTL:  ttl,
		log:      logrus.WithField("component", "gateway"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Fee returns floor(amount × fee rate) in the amount's smallest unit.
func (s *Service) Fee(amount int64) int64 {
	return s.feeRate.Mul(decimal.NewFromInt(amount)).Floor().IntPart()
}

// Get returns one gateway transaction.
func (s *Service) Get(ctx context.Context, id string) (*store.GatewayTx, error) {
	var g *store.GatewayTx
	err := s.db.View(ctx, func(tx store.Tx) error {
		var err error
		g, err = tx.Gateway().Get(id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownExternalID
	}
	return g, err
}

// InitDeposit records a user's intent to deposit. The returned record's ID
// must ride in the rail's metadata so the confirmation webhook can find it.
// No ledger movement happens until the rail confirms receipt.
func (s *Service) InitDeposit(ctx context.Context, user string, amount int64, cur store.Currency) (*store.GatewayTx, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if !cur.Valid() {
		return nil, ledger.ErrCurrencyMismatch
	}
	now := s.now()
	g := &store.GatewayTx{
		ID:        uuid.NewString(),
		User:      user,
		Type:      store.GatewayDeposit,
		Status:    store.GatewayPending,
		Amount:    amount,
		Currency:  cur,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.Update(ctx, func(tx store.Tx) error {
		return tx.Gateway().Put(g)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"tx": g.ID, "user": user, "amount": amount}).Info("deposit initiated")
	return g, nil
}

// CompleteDeposit credits the user wallet from the gateway wallet after
// the rail confirmed receipt. amountReceived overrides the recorded amount
// when positive (partial funding). Replaying a completed deposit is a
// no-op; completing a failed one is rejected.
func (s *Service) CompleteDeposit(ctx context.Context, id, externalTxID string, amountReceived int64) error {
	var credited *store.GatewayTx
	err := s.db.Update(ctx, func(tx store.Tx) error {
		g, err := tx.Gateway().Get(id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownExternalID
		}
		if err != nil {
			return err
		}
		if g.Type != store.GatewayDeposit {
			return ErrUnknownExternalID
		}
		switch g.Status {
		case store.GatewayCompleted:
			return nil // idempotent replay
		case store.GatewayFailed:
			return ErrAlreadyFinalized
		}
		amount := g.Amount
		if amountReceived > 0 {
			amount = amountReceived
		}
		if _, err := s.ledger.TransferTx(tx, ledger.TransferReq{
			From:      ledger.GatewayWalletID,
			To:        ledger.UserWallet(g.User),
			Amount:    amount,
			Currency:  g.Currency,
			Type:      store.TxDeposit,
			GatewayTx: g.ID,
		}); err != nil {
			return err
		}
		g.Status = store.GatewayCompleted
		g.Amount = amount
		g.ExternalTxID = externalTxID
		g.UpdatedAt = s.now()
		if err := tx.Gateway().Put(g); err != nil {
			return err
		}
		credited = g
		return nil
	})
	if err != nil || credited == nil {
		return err
	}
	s.notifyBalance(ctx, credited.User, credited)
	s.log.WithFields(logrus.Fields{"tx": credited.ID, "user": credited.User}).Info("deposit completed")
	return nil
}

// FailDeposit marks a pending deposit failed. No ledger movement. Failing
// a failed deposit again is a no-op.
func (s *Service) FailDeposit(ctx context.Context, id, reason string) error {
	return s.db.Update(ctx, func(tx store.Tx) error {
		g, err := tx.Gateway().Get(id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownExternalID
		}
		if err != nil {
			return err
		}
		switch g.Status {
		case store.GatewayFailed:
			return nil
		case store.GatewayCompleted:
			return ErrAlreadyFinalized
		}
		g.Status = store.GatewayFailed
		g.RevertReason = reason
		g.UpdatedAt = s.now()
		return tx.Gateway().Put(g)
	})
}

// History lists a user's gateway transactions, newest first.
func (s *Service) History(ctx context.Context, user string, limit, offset int) ([]*store.GatewayTx, error) {
	var out []*store.GatewayTx
	err := s.db.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Gateway().ListByUser(user, limit, offset)
		return err
	})
	return out, err
}

func (s *Service) notifyBalance(ctx context.Context, user string, g *store.GatewayTx) {
	if s.notifier == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"gateway_tx": g.ID,
		"type":       g.Type,
		"status":     g.Status,
		"amount":     g.Amount,
		"currency":   g.Currency,
	})
	if _, err := s.notifier.Notify(ctx, user, notify.EvUserBalanceUpdate, "balance updated", meta, []string{user}); err != nil {
		s.log.WithError(err).Warn("balance notification failed")
	}
}
