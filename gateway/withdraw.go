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

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/ledger"
	"github.com/darve-social/darve-server/store"
)

// StartWithdraw begins a withdrawal. In one atomic unit it locks the user's
// spendable wallet for the settlement window, moves the full amount to the
// gateway wallet and carves the fee out to the fee wallet, leaving the
// gateway record Pending. The payout is then handed to the external rail;
// a submission failure reverts the withdrawal immediately.
func (s *Service) StartWithdraw(ctx context.Context, user string, amount int64, cur store.Currency, externalAccount string) (*store.GatewayTx, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if !cur.Valid() {
		return nil, ledger.ErrCurrencyMismatch
	}
	now := s.now()
	g := &store.GatewayTx{
		ID:              uuid.NewString(),
		User:            user,
		Type:            store.GatewayWithdraw,
		Status:          store.GatewayPending,
		Amount:          amount,
		Currency:        cur,
		ExternalAccount: externalAccount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.db.Update(ctx, func(tx store.Tx) error {
		lockID, err := s.ledger.TryLockTx(tx, ledger.UserWallet(user), s.lockTTL)
		if err != nil {
			return err
		}
		g.LockID = lockID
		if _, err := s.ledger.TransferTx(tx, ledger.TransferReq{
			From:      ledger.UserWallet(user),
			To:        ledger.GatewayWalletID,
			Amount:    amount,
			Currency:  cur,
			Type:      store.TxWithdraw,
			GatewayTx: g.ID,
			LockID:    lockID,
		}); err != nil {
			return err
		}
		if fee := s.Fee(amount); fee > 0 {
			res, err := s.ledger.TransferTx(tx, ledger.TransferReq{
				From:      ledger.GatewayWalletID,
				To:        ledger.FeeWalletID,
				Amount:    fee,
				Currency:  cur,
				Type:      store.TxFee,
				GatewayTx: g.ID,
			})
			if err != nil {
				return err
			}
			g.FeeTx = res.CreditID
		}
		return tx.Gateway().Put(g)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tx": g.ID, "user": user, "amount": amount, "currency": cur,
	}).Info("withdrawal initiated")

	if s.payouts != nil {
		if err := s.payouts.SubmitPayout(ctx, g.ID, externalAccount, amount-s.Fee(amount), cur); err != nil {
			s.log.WithError(err).WithField("tx", g.ID).Error("payout submission failed, reverting")
			if rerr := s.RevertWithdraw(ctx, g.ID, "payout submission failed"); rerr != nil {
				s.log.WithError(rerr).WithField("tx", g.ID).Error("revert after failed submission also failed")
			}
			return nil, fmt.Errorf("%w: %v", ErrExternalRail, err)
		}
	}
	s.notifyBalance(ctx, user, g)
	return g, nil
}

// CompleteWithdraw finalizes a withdrawal after the rail acknowledged
// delivery. No further ledger movement; the wallet lock is released.
func (s *Service) CompleteWithdraw(ctx context.Context, id, externalTxID string) error {
	var done *store.GatewayTx
	err := s.db.Update(ctx, func(tx store.Tx) error {
		g, err := tx.Gateway().Get(id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownExternalID
		}
		if err != nil {
			return err
		}
		if g.Type != store.GatewayWithdraw {
			return ErrUnknownExternalID
		}
		switch g.Status {
		case store.GatewayCompleted:
			return nil // idempotent replay
		case store.GatewayFailed:
			return ErrAlreadyFinalized
		}
		g.Status = store.GatewayCompleted
		g.ExternalTxID = externalTxID
		g.UpdatedAt = s.now()
		if err := tx.Gateway().Put(g); err != nil {
			return err
		}
		if err := s.ledger.UnlockTx(tx, ledger.UserWallet(g.User), g.LockID); err != nil {
			return err
		}
		done = g
		return nil
	})
	if err != nil || done == nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"tx": done.ID, "user": done.User}).Info("withdrawal completed")
	s.notifyBalance(ctx, done.User, done)
	return nil
}

// RevertWithdraw rolls a pending withdrawal back: the amount minus the
// already-written fee leg returns to the user wallet, the record flips to
// Failed and the lock is released. The fee is retained by policy.
// Reverting a completed withdrawal is rejected; reverting a failed one is
// a no-op.
func (s *Service) RevertWithdraw(ctx context.Context, id, reason string) error {
	var reverted *store.GatewayTx
	err := s.db.Update(ctx, func(tx store.Tx) error {
		g, err := tx.Gateway().Get(id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownExternalID
		}
		if err != nil {
			return err
		}
		if g.Type != store.GatewayWithdraw {
			return ErrUnknownExternalID
		}
		switch g.Status {
		case store.GatewayFailed:
			return nil // idempotent replay
		case store.GatewayCompleted:
			return ErrAlreadyFinalized
		}
		refund := g.Amount
		if g.FeeTx != "" {
			refund -= s.Fee(g.Amount)
		}
		if refund > 0 {
			if _, err := s.ledger.TransferTx(tx, ledger.TransferReq{
				From:      ledger.GatewayWalletID,
				To:        ledger.UserWallet(g.User),
				Amount:    refund,
				Currency:  g.Currency,
				Type:      store.TxRefund,
				GatewayTx: g.ID,
				LockID:    g.LockID,
			}); err != nil {
				return err
			}
		}
		g.Status = store.GatewayFailed
		g.RevertReason = reason
		g.UpdatedAt = s.now()
		if err := tx.Gateway().Put(g); err != nil {
			return err
		}
		if err := s.ledger.UnlockTx(tx, ledger.UserWallet(g.User), g.LockID); err != nil {
			return err
		}
		reverted = g
		return nil
	})
	if err != nil || reverted == nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"tx": reverted.ID, "user": reverted.User, "reason": reason,
	}).Warn("withdrawal reverted")
	s.notifyBalance(ctx, reverted.User, reverted)
	return nil
}
