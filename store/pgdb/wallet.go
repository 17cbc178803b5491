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

package pgdb

import (
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/darve-social/darve-server/store"
)

type walletBucket struct{ t *pgTx }

func (b *walletBucket) Get(id string) (*store.Wallet, error) {
	row := b.t.tx.QueryRow(b.t.ctx,
		`SELECT id, lock_id, lock_expires_at, created_at, updated_at FROM wallets WHERE id = $1`, id)
	w, err := scanWallet(row)
	if err != nil {
		return nil, translate(err)
	}
	if err := b.loadHeads(w); err != nil {
		return nil, translate(err)
	}
	return w, nil
}

func (b *walletBucket) loadHeads(w *store.Wallet) error {
	rows, err := b.t.tx.Query(b.t.ctx,
		`SELECT currency, head FROM wallet_heads WHERE wallet_id = $1`, w.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cur, head string
		if err := rows.Scan(&cur, &head); err != nil {
			return err
		}
		w.Heads[store.Currency(cur)] = head
	}
	return rows.Err()
}

func (b *walletBucket) Put(w *store.Wallet) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	var lockID *string
	var lockExp *time.Time
	if w.Lock != nil {
		lockID, lockExp = &w.Lock.ID, &w.Lock.ExpiresAt
	}
	_, err := b.t.tx.Exec(b.t.ctx, `
		INSERT INTO wallets (id, lock_id, lock_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			lock_id = EXCLUDED.lock_id,
			lock_expires_at = EXCLUDED.lock_expires_at,
			updated_at = EXCLUDED.updated_at`,
		w.ID, lockID, lockExp, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	for cur, head := range w.Heads {
		if _, err := b.t.tx.Exec(b.t.ctx, `
			INSERT INTO wallet_heads (wallet_id, currency, head) VALUES ($1, $2, $3)
			ON CONFLICT (wallet_id, currency) DO UPDATE SET head = EXCLUDED.head`,
			w.ID, string(cur), head); err != nil {
			return translate(err)
		}
	}
	return nil
}

func (b *walletBucket) SetHead(walletID string, cur store.Currency, next, prev string) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	if prev == "" {
		tag, err := b.t.tx.Exec(b.t.ctx, `
			INSERT INTO wallet_heads (wallet_id, currency, head) VALUES ($1, $2, $3)
			ON CONFLICT (wallet_id, currency) DO NOTHING`,
			walletID, string(cur), next)
		if err != nil {
			return translate(err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrConflict
		}
		return nil
	}
	tag, err := b.t.tx.Exec(b.t.ctx, `
		UPDATE wallet_heads SET head = $1
		WHERE wallet_id = $2 AND currency = $3 AND head = $4`,
		next, walletID, string(cur), prev)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (b *walletBucket) SetLock(walletID string, lock *store.WalletLock) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	var lockID *string
	var lockExp *time.Time
	if lock != nil {
		lockID, lockExp = &lock.ID, &lock.ExpiresAt
	}
	tag, err := b.t.tx.Exec(b.t.ctx,
		`UPDATE wallets SET lock_id = $1, lock_expires_at = $2, updated_at = now() WHERE id = $3`,
		lockID, lockExp, walletID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *walletBucket) All() ([]*store.Wallet, error) {
	rows, err := b.t.tx.Query(b.t.ctx,
		`SELECT id, lock_id, lock_expires_at, created_at, updated_at FROM wallets ORDER BY id`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []*store.Wallet
	byID := make(map[string]*store.Wallet)
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, w)
		byID[w.ID] = w
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	heads, err := b.t.tx.Query(b.t.ctx, `SELECT wallet_id, currency, head FROM wallet_heads`)
	if err != nil {
		return nil, translate(err)
	}
	defer heads.Close()
	for heads.Next() {
		var id, cur, head string
		if err := heads.Scan(&id, &cur, &head); err != nil {
			return nil, translate(err)
		}
		if w, ok := byID[id]; ok {
			w.Heads[store.Currency(cur)] = head
		}
	}
	return out, translate(heads.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*store.Wallet, error) {
	w := &store.Wallet{Heads: make(map[store.Currency]string)}
	var lockID *string
	var lockExp *time.Time
	if err := row.Scan(&w.ID, &lockID, &lockExp, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if lockID != nil && lockExp != nil {
		w.Lock = &store.WalletLock{ID: *lockID, ExpiresAt: *lockExp}
	}
	return w, nil
}

type ledgerBucket struct{ t *pgTx }

const balanceTxCols = `id, wallet, with_wallet, ident, currency, prev, amount_in, amount_out, balance, type, gateway_tx, task_id, created_at`

func (b *ledgerBucket) PutTx(btx *store.BalanceTx) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	_, err := b.t.tx.Exec(b.t.ctx, `
		INSERT INTO balance_transactions (`+balanceTxCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		btx.ID, btx.Wallet, btx.WithWallet, btx.Ident, string(btx.Currency), btx.Prev,
		btx.AmountIn, btx.AmountOut, btx.Balance, string(btx.Type),
		btx.GatewayTx, btx.TaskID, btx.CreatedAt)
	return translate(err)
}

func (b *ledgerBucket) GetTx(id string) (*store.BalanceTx, error) {
	row := b.t.tx.QueryRow(b.t.ctx,
		`SELECT `+balanceTxCols+` FROM balance_transactions WHERE id = $1`, id)
	btx, err := scanBalanceTx(row)
	return btx, translate(err)
}

func (b *ledgerBucket) History(walletID string, cur store.Currency, limit, offset int) ([]*store.BalanceTx, error) {
	q := psql.Select(balanceTxCols).
		From("balance_transactions").
		Where(sq.Eq{"wallet": walletID}).
		OrderBy("seq DESC")
	if cur != "" {
		q = q.Where(sq.Eq{"currency": string(cur)})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return b.queryTxs(sql, args...)
}

func (b *ledgerBucket) ByIdent(ident string) ([]*store.BalanceTx, error) {
	return b.queryTxs(
		`SELECT `+balanceTxCols+` FROM balance_transactions WHERE ident = $1 ORDER BY seq`, ident)
}

func (b *ledgerBucket) queryTxs(sql string, args ...any) ([]*store.BalanceTx, error) {
	rows, err := b.t.tx.Query(b.t.ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []*store.BalanceTx
	for rows.Next() {
		btx, err := scanBalanceTx(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, btx)
	}
	return out, translate(rows.Err())
}

func scanBalanceTx(row rowScanner) (*store.BalanceTx, error) {
	btx := &store.BalanceTx{}
	var cur, typ string
	if err := row.Scan(&btx.ID, &btx.Wallet, &btx.WithWallet, &btx.Ident, &cur, &btx.Prev,
		&btx.AmountIn, &btx.AmountOut, &btx.Balance, &typ,
		&btx.GatewayTx, &btx.TaskID, &btx.CreatedAt); err != nil {
		return nil, err
	}
	btx.Currency = store.Currency(cur)
	btx.Type = store.BalanceTxType(typ)
	return btx, nil
}

type gatewayBucket struct{ t *pgTx }

const gatewayTxCols = `id, usr, type, status, amount, currency, external_tx_id, external_account, fee_tx, lock_id, revert_reason, created_at, updated_at`

func (b *gatewayBucket) Put(gtx *store.GatewayTx) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	_, err := b.t.tx.Exec(b.t.ctx, `
		INSERT INTO gateway_transactions (`+gatewayTxCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			external_tx_id = EXCLUDED.external_tx_id,
			fee_tx = EXCLUDED.fee_tx,
			lock_id = EXCLUDED.lock_id,
			revert_reason = EXCLUDED.revert_reason,
			updated_at = EXCLUDED.updated_at`,
		gtx.ID, gtx.User, string(gtx.Type), string(gtx.Status), gtx.Amount, string(gtx.Currency),
		gtx.ExternalTxID, gtx.ExternalAccount, gtx.FeeTx, gtx.LockID, gtx.RevertReason,
		gtx.CreatedAt, gtx.UpdatedAt)
	return translate(err)
}

func (b *gatewayBucket) Get(id string) (*store.GatewayTx, error) {
	row := b.t.tx.QueryRow(b.t.ctx,
		`SELECT `+gatewayTxCols+` FROM gateway_transactions WHERE id = $1`, id)
	gtx, err := scanGatewayTx(row)
	return gtx, translate(err)
}

func (b *gatewayBucket) ListByUser(user string, limit, offset int) ([]*store.GatewayTx, error) {
	q := psql.Select(gatewayTxCols).
		From("gateway_transactions").
		Where(sq.Eq{"usr": user}).
		OrderBy("seq DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := b.t.tx.Query(b.t.ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []*store.GatewayTx
	for rows.Next() {
		gtx, err := scanGatewayTx(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, gtx)
	}
	return out, translate(rows.Err())
}

func scanGatewayTx(row rowScanner) (*store.GatewayTx, error) {
	gtx := &store.GatewayTx{}
	var typ, status, cur string
	if err := row.Scan(&gtx.ID, &gtx.User, &typ, &status, &gtx.Amount, &cur,
		&gtx.ExternalTxID, &gtx.ExternalAccount, &gtx.FeeTx, &gtx.LockID,
		&gtx.RevertReason, &gtx.CreatedAt, &gtx.UpdatedAt); err != nil {
		return nil, err
	}
	gtx.Type = store.GatewayTxType(typ)
	gtx.Status = store.GatewayStatus(status)
	gtx.Currency = store.Currency(cur)
	return gtx, nil
}
