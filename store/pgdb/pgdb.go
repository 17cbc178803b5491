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

// Package pgdb is the Postgres backend of the store contract. One store
// transaction maps to one Postgres transaction; the head-pointer CAS of
// the wallet bucket is an UPDATE guarded by the expected previous value,
// so two concurrent transfers on the same chain cannot both commit.
package pgdb

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// psql builds queries with Postgres placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DB is a Postgres-backed store.DB.
type DB struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// Open connects to Postgres and runs pending migrations.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("pgdb: migrate: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgdb: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgdb: ping: %w", err)
	}
	return &DB{
		pool: pool,
		log:  logrus.WithField("component", "pgdb"),
	}, nil
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}
	// The migrate pgx/v5 driver registers the pgx5 scheme.
	url := dsn
	if strings.HasPrefix(url, "postgres://") {
		url = "pgx5://" + strings.TrimPrefix(url, "postgres://")
	} else if strings.HasPrefix(url, "postgresql://") {
		url = "pgx5://" + strings.TrimPrefix(url, "postgresql://")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// View implements store.DB.
func (db *DB) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return db.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

// Update implements store.DB.
func (db *DB) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return db.run(ctx, pgx.TxOptions{}, fn)
}

func (db *DB) run(ctx context.Context, opts pgx.TxOptions, fn func(tx store.Tx) error) error {
	ptx, err := db.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	t := &pgTx{ctx: ctx, tx: ptx, readOnly: opts.AccessMode == pgx.ReadOnly}
	if err := fn(t); err != nil {
		if rerr := ptx.Rollback(ctx); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
			db.log.WithError(rerr).Error("rollback failed")
		}
		return err
	}
	if t.readOnly {
		return ptx.Rollback(ctx)
	}
	return ptx.Commit(ctx)
}

// Close releases the connection pool.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// pgTx adapts one pgx transaction to the bucket interfaces.
type pgTx struct {
	ctx      context.Context
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) Wallets() store.WalletBucket             { return &walletBucket{t} }
func (t *pgTx) Ledger() store.LedgerBucket              { return &ledgerBucket{t} }
func (t *pgTx) Gateway() store.GatewayBucket            { return &gatewayBucket{t} }
func (t *pgTx) Tasks() store.TaskBucket                 { return &taskBucket{t} }
func (t *pgTx) Notifications() store.NotificationBucket { return &notificationBucket{t} }
func (t *pgTx) Access() store.AccessBucket              { return &accessBucket{t} }
func (t *pgTx) Users() store.UserBucket                 { return &userBucket{t} }

func (t *pgTx) writable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

// translate folds pgx errors into the store's sentinel taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return store.ErrConflict
		case "40001": // serialization_failure
			return store.ErrConflict
		}
	}
	return err
}
