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
	"time"

	"github.com/google/uuid"

	"github.com/darve-social/darve-server/store"
)

// TryLock installs an advisory lock on a wallet for ttl. It fails with
// ErrWalletLocked while another unexpired lock is in place; an expired lock
// is treated as absent.
func (l *Ledger) TryLock(ctx context.Context, walletID string, ttl time.Duration) (string, error) {
	var lockID string
	err := l.db.Update(ctx, func(tx store.Tx) error {
		var err error
		lockID, err = l.TryLockTx(tx, walletID, ttl)
		return err
	})
	return lockID, err
}

// TryLockTx is TryLock inside the caller's open transaction.
func (l *Ledger) TryLockTx(tx store.Tx, walletID string, ttl time.Duration) (string, error) {
	now := l.now()
	w, err := ensureWallet(tx, walletID, now)
	if err != nil {
		return "", err
	}
	if w.LockedAt(now) {
		return "", ErrWalletLocked
	}
	lock := &store.WalletLock{ID: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	if err := tx.Wallets().SetLock(walletID, lock); err != nil {
		return "", err
	}
	return lock.ID, nil
}

// Unlock releases the lock identified by lockID. Releasing a lock that is
// gone, expired or replaced is a no-op, so callers can unlock blindly.
func (l *Ledger) Unlock(ctx context.Context, walletID, lockID string) error {
	return l.db.Update(ctx, func(tx store.Tx) error {
		return l.UnlockTx(tx, walletID, lockID)
	})
}

// UnlockTx is Unlock inside the caller's open transaction.
func (l *Ledger) UnlockTx(tx store.Tx, walletID, lockID string) error {
	w, err := tx.Wallets().Get(walletID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if w.Lock == nil || w.Lock.ID != lockID {
		return nil
	}
	return tx.Wallets().SetLock(walletID, nil)
}
