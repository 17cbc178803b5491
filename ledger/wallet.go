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
	"strings"
	"time"

	"github.com/darve-social/darve-server/store"
)

// Well-known wallets, created once at bootstrap. GatewayWalletID is the
// source of deposits and the sink of withdrawal holds; FeeWalletID collects
// fees and payout rounding remainders.
const (
	GatewayWalletID = "wallet:app_gateway"
	FeeWalletID     = "wallet:darve"

	walletPrefix = "wallet:user:"
	lockedSuffix = "_locked"
)

// UserWallet derives the spendable wallet ID of a user.
func UserWallet(uid string) string {
	return walletPrefix + uid
}

// UserLockedWallet derives the escrow wallet ID of a user.
func UserLockedWallet(uid string) string {
	return UserWallet(uid) + lockedSuffix
}

// TaskWallet derives the escrow wallet unique to one task.
func TaskWallet(taskID string) string {
	return "wallet:task:" + taskID
}

// IsLockedWallet reports whether id names a *_locked escrow wallet.
func IsLockedWallet(id string) bool {
	return strings.HasSuffix(id, lockedSuffix)
}

// SpendableOf maps a *_locked wallet to its owner's spendable wallet. For
// any other wallet it returns the input unchanged.
func SpendableOf(id string) string {
	return strings.TrimSuffix(id, lockedSuffix)
}

// Bootstrap makes sure the process-wide wallets exist. It is idempotent and
// safe to run on every start.
func (l *Ledger) Bootstrap(ctx context.Context) error {
	return l.db.Update(ctx, func(tx store.Tx) error {
		for _, id := range []string{GatewayWalletID, FeeWalletID} {
			if _, err := ensureWallet(tx, id, l.now()); err != nil {
				return err
			}
		}
		return nil
	})
}

// ensureWallet loads a wallet, creating an empty one when it does not exist
// yet. Wallets are created lazily on first touch.
func ensureWallet(tx store.Tx, id string, now time.Time) (*store.Wallet, error) {
	w, err := tx.Wallets().Get(id)
	if err == nil {
		return w, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}
	w = &store.Wallet{
		ID:        id,
		Heads:     make(map[store.Currency]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Wallets().Put(w); err != nil {
		return nil, err
	}
	return w, nil
}
