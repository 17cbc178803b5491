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

import "errors"

var (
	// ErrBalanceTooLow is returned when a debit would push the source
	// wallet's balance below zero.
	ErrBalanceTooLow = errors.New("ledger: balance too low")

	// ErrWalletLocked is returned when a transfer touches a wallet that
	// carries an unexpired advisory lock the caller does not own.
	ErrWalletLocked = errors.New("ledger: wallet locked")

	// ErrCurrencyMismatch is returned for unrecognized currency symbols.
	ErrCurrencyMismatch = errors.New("ledger: unknown currency")

	// ErrInvalidAmount is returned for zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrConflict is returned when a transfer kept losing the head-pointer
	// race after the retry budget was spent.
	ErrConflict = errors.New("ledger: concurrent head update")

	// ErrSelfTransfer is returned when source and target are the same
	// wallet.
	ErrSelfTransfer = errors.New("ledger: source and target are identical")
)
