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

package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an optimistic update lost against a
	// concurrent writer, or a unique constraint was violated. The caller
	// decides whether to retry.
	ErrConflict = errors.New("store: conflict")

	// ErrReadOnly is returned for writes attempted through a View
	// transaction.
	ErrReadOnly = errors.New("store: read-only transaction")

	// ErrClosed is returned for operations on a closed DB.
	ErrClosed = errors.New("store: database closed")
)
