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
	sq "github.com/Masterminds/squirrel"

	"github.com/darve-social/darve-server/store"
)

type notificationBucket struct{ t *pgTx }

func (b *notificationBucket) Put(n *store.Notification) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	_, err := b.t.tx.Exec(b.t.ctx, `
		INSERT INTO notifications (id, created_by, event, title, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.CreatedBy, n.Event, n.Title, []byte(n.Metadata), n.CreatedAt)
	return translate(err)
}

func (b *notificationBucket) Get(id string) (*store.Notification, error) {
	row := b.t.tx.QueryRow(b.t.ctx, `
		SELECT id, created_by, event, title, metadata, created_at
		FROM notifications WHERE id = $1`, id)
	n := &store.Notification{}
	var meta []byte
	if err := row.Scan(&n.ID, &n.CreatedBy, &n.Event, &n.Title, &meta, &n.CreatedAt); err != nil {
		return nil, translate(err)
	}
	n.Metadata = meta
	return n, nil
}

func (b *notificationBucket) AddRecipient(notificationID, user string) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	// The primary key keeps the edge unique; re-adding is a no-op.
	_, err := b.t.tx.Exec(b.t.ctx, `
		INSERT INTO notification_recipients (notification_id, usr, is_read)
		VALUES ($1, $2, FALSE)
		ON CONFLICT (notification_id, usr) DO NOTHING`,
		notificationID, user)
	return translate(err)
}

func (b *notificationBucket) MarkRead(notificationID, user string) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	tag, err := b.t.tx.Exec(b.t.ctx, `
		UPDATE notification_recipients SET is_read = TRUE
		WHERE notification_id = $1 AND usr = $2`,
		notificationID, user)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *notificationBucket) MarkAllRead(user string) (int, error) {
	if err := b.t.writable(); err != nil {
		return 0, err
	}
	tag, err := b.t.tx.Exec(b.t.ctx, `
		UPDATE notification_recipients SET is_read = TRUE
		WHERE usr = $1 AND NOT is_read`, user)
	if err != nil {
		return 0, translate(err)
	}
	return int(tag.RowsAffected()), nil
}

func (b *notificationBucket) ListByUser(user string, unreadOnly bool, limit, offset int) ([]*store.InboxItem, error) {
	q := psql.Select("n.id", "n.created_by", "n.event", "n.title", "n.metadata", "n.created_at", "r.is_read").
		From("notifications n").
		Join("notification_recipients r ON r.notification_id = n.id").
		Where(sq.Eq{"r.usr": user}).
		OrderBy("n.seq DESC")
	if unreadOnly {
		q = q.Where(sq.Eq{"r.is_read": false})
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
	rows, err := b.t.tx.Query(b.t.ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []*store.InboxItem
	for rows.Next() {
		n := &store.Notification{}
		var meta []byte
		var isRead bool
		if err := rows.Scan(&n.ID, &n.CreatedBy, &n.Event, &n.Title, &meta, &n.CreatedAt, &isRead); err != nil {
			return nil, translate(err)
		}
		n.Metadata = meta
		out = append(out, &store.InboxItem{Notification: n, IsRead: isRead})
	}
	return out, translate(rows.Err())
}

func (b *notificationBucket) CountUnread(user string) (int, error) {
	var n int
	err := b.t.tx.QueryRow(b.t.ctx, `
		SELECT count(*) FROM notification_recipients
		WHERE usr = $1 AND NOT is_read`, user).Scan(&n)
	return n, translate(err)
}

type accessBucket struct{ t *pgTx }

func (b *accessBucket) SetRole(user string, res store.ResourceID, role store.Role) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	_, err := b.t.tx.Exec(b.t.ctx, `
		INSERT INTO access_roles (usr, kind, res_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (usr, kind, res_id) DO UPDATE SET role = EXCLUDED.role`,
		user, string(res.Kind), res.ID, int16(role))
	return translate(err)
}

func (b *accessBucket) GetRole(user string, res store.ResourceID) (store.Role, error) {
	var role int16
	err := b.t.tx.QueryRow(b.t.ctx, `
		SELECT role FROM access_roles WHERE usr = $1 AND kind = $2 AND res_id = $3`,
		user, string(res.Kind), res.ID).Scan(&role)
	if err := translate(err); err != nil {
		if err == store.ErrNotFound {
			return store.RoleNone, nil
		}
		return store.RoleNone, err
	}
	return store.Role(role), nil
}

type userBucket struct{ t *pgTx }

func (b *userBucket) Put(u *store.User) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	_, err := b.t.tx.Exec(b.t.ctx, `
		INSERT INTO users (id, email, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.CreatedAt)
	return translate(err)
}

func (b *userBucket) Get(id string) (*store.User, error) {
	return b.scanOne(`SELECT id, email, username, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (b *userBucket) GetByEmail(email string) (*store.User, error) {
	return b.scanOne(`SELECT id, email, username, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (b *userBucket) scanOne(sql string, arg any) (*store.User, error) {
	u := &store.User{}
	err := b.t.tx.QueryRow(b.t.ctx, sql, arg).
		Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}
