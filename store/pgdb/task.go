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
	"encoding/json"
	"time"

	"github.com/darve-social/darve-server/store"
)

type taskBucket struct{ t *pgTx }

const taskCols = `id, belongs_to, created_by, request_text, deliverable_type, visibility, reward_type, currency, acceptance_period, delivery_period, wallet_id, status, due_at, sweep_attempts, next_sweep_at, created_at, updated_at`

func (b *taskBucket) Put(task *store.Task) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	_, err := b.t.tx.Exec(b.t.ctx, `
		INSERT INTO tasks (`+taskCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			due_at = EXCLUDED.due_at,
			sweep_attempts = EXCLUDED.sweep_attempts,
			next_sweep_at = EXCLUDED.next_sweep_at,
			updated_at = EXCLUDED.updated_at`,
		task.ID, task.BelongsTo, task.CreatedBy, task.Request, task.DeliverableType,
		string(task.Visibility), task.RewardType, string(task.Currency),
		int64(task.AcceptancePeriod), int64(task.DeliveryPeriod), task.WalletID,
		string(task.Status), task.DueAt, task.SweepAttempts, task.NextSweepAt,
		task.CreatedAt, task.UpdatedAt)
	return translate(err)
}

func (b *taskBucket) Get(id string) (*store.Task, error) {
	row := b.t.tx.QueryRow(b.t.ctx, `SELECT `+taskCols+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	return task, translate(err)
}

func (b *taskBucket) ListByBelongsTo(belongsTo string) ([]*store.Task, error) {
	return b.queryTasks(
		`SELECT `+taskCols+` FROM tasks WHERE belongs_to = $1 ORDER BY created_at DESC`, belongsTo)
}

func (b *taskBucket) ListByCreator(user string) ([]*store.Task, error) {
	return b.queryTasks(
		`SELECT `+taskCols+` FROM tasks WHERE created_by = $1 ORDER BY created_at DESC`, user)
}

func (b *taskBucket) ListDue(now time.Time, limit int) ([]*store.Task, error) {
	return b.queryTasks(`
		SELECT `+taskCols+` FROM tasks
		WHERE status <> 'Completed' AND due_at <= $1 AND next_sweep_at <= $1
		ORDER BY due_at
		LIMIT $2`, now, limit)
}

func (b *taskBucket) queryTasks(sql string, args ...any) ([]*store.Task, error) {
	rows, err := b.t.tx.Query(b.t.ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []*store.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, task)
	}
	return out, translate(rows.Err())
}

func scanTask(row rowScanner) (*store.Task, error) {
	t := &store.Task{}
	var vis, cur, status string
	var accept, deliver int64
	if err := row.Scan(&t.ID, &t.BelongsTo, &t.CreatedBy, &t.Request, &t.DeliverableType,
		&vis, &t.RewardType, &cur, &accept, &deliver, &t.WalletID, &status,
		&t.DueAt, &t.SweepAttempts, &t.NextSweepAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Visibility = store.TaskVisibility(vis)
	t.Currency = store.Currency(cur)
	t.Status = store.TaskStatus(status)
	t.AcceptancePeriod = time.Duration(accept)
	t.DeliveryPeriod = time.Duration(deliver)
	return t, nil
}

func (b *taskBucket) PutDonor(d *store.TaskDonor) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	votes, err := json.Marshal(d.Votes)
	if err != nil {
		return err
	}
	_, err = b.t.tx.Exec(b.t.ctx, `
		INSERT INTO task_donors (task_id, usr, amount, tx_id, currency, votes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id, usr) DO UPDATE SET
			amount = EXCLUDED.amount,
			tx_id = EXCLUDED.tx_id,
			votes = EXCLUDED.votes,
			updated_at = EXCLUDED.updated_at`,
		d.TaskID, d.User, d.Amount, d.TxID, string(d.Currency), votes, d.CreatedAt, d.UpdatedAt)
	return translate(err)
}

func (b *taskBucket) GetDonor(taskID, user string) (*store.TaskDonor, error) {
	row := b.t.tx.QueryRow(b.t.ctx, `
		SELECT task_id, usr, amount, tx_id, currency, votes, created_at, updated_at
		FROM task_donors WHERE task_id = $1 AND usr = $2`, taskID, user)
	d, err := scanDonor(row)
	return d, translate(err)
}

func (b *taskBucket) ListDonors(taskID string) ([]*store.TaskDonor, error) {
	rows, err := b.t.tx.Query(b.t.ctx, `
		SELECT task_id, usr, amount, tx_id, currency, votes, created_at, updated_at
		FROM task_donors WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []*store.TaskDonor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, d)
	}
	return out, translate(rows.Err())
}

func scanDonor(row rowScanner) (*store.TaskDonor, error) {
	d := &store.TaskDonor{}
	var cur string
	var votes []byte
	if err := row.Scan(&d.TaskID, &d.User, &d.Amount, &d.TxID, &cur, &votes,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Currency = store.Currency(cur)
	if len(votes) > 0 {
		if err := json.Unmarshal(votes, &d.Votes); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (b *taskBucket) PutParticipant(p *store.TaskParticipant) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	timelines, err := json.Marshal(p.Timelines)
	if err != nil {
		return err
	}
	_, err = b.t.tx.Exec(b.t.ctx, `
		INSERT INTO task_participants (task_id, usr, status, timelines, reward_tx, delivery_post, late, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id, usr) DO UPDATE SET
			status = EXCLUDED.status,
			timelines = EXCLUDED.timelines,
			reward_tx = EXCLUDED.reward_tx,
			delivery_post = EXCLUDED.delivery_post,
			late = EXCLUDED.late,
			updated_at = EXCLUDED.updated_at`,
		p.TaskID, p.User, string(p.Status), timelines, p.RewardTxID, p.DeliveryPost,
		p.Late, p.CreatedAt, p.UpdatedAt)
	return translate(err)
}

func (b *taskBucket) GetParticipant(taskID, user string) (*store.TaskParticipant, error) {
	row := b.t.tx.QueryRow(b.t.ctx, `
		SELECT task_id, usr, status, timelines, reward_tx, delivery_post, late, created_at, updated_at
		FROM task_participants WHERE task_id = $1 AND usr = $2`, taskID, user)
	p, err := scanParticipant(row)
	return p, translate(err)
}

func (b *taskBucket) ListParticipants(taskID string) ([]*store.TaskParticipant, error) {
	return b.queryParticipants(`
		SELECT task_id, usr, status, timelines, reward_tx, delivery_post, late, created_at, updated_at
		FROM task_participants WHERE task_id = $1 ORDER BY created_at`, taskID)
}

func (b *taskBucket) ListParticipations(user string) ([]*store.TaskParticipant, error) {
	return b.queryParticipants(`
		SELECT task_id, usr, status, timelines, reward_tx, delivery_post, late, created_at, updated_at
		FROM task_participants WHERE usr = $1 ORDER BY created_at DESC`, user)
}

func (b *taskBucket) queryParticipants(sql string, args ...any) ([]*store.TaskParticipant, error) {
	rows, err := b.t.tx.Query(b.t.ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []*store.TaskParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, p)
	}
	return out, translate(rows.Err())
}

func scanParticipant(row rowScanner) (*store.TaskParticipant, error) {
	p := &store.TaskParticipant{}
	var status string
	var timelines []byte
	if err := row.Scan(&p.TaskID, &p.User, &status, &timelines, &p.RewardTxID,
		&p.DeliveryPost, &p.Late, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = store.ParticipantStatus(status)
	if len(timelines) > 0 {
		if err := json.Unmarshal(timelines, &p.Timelines); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (b *taskBucket) PutDelivery(d *store.Delivery) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	_, err := b.t.tx.Exec(b.t.ctx, `
		INSERT INTO task_deliveries (task_id, usr, post_id, reward_tx, late, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id, usr, post_id) DO UPDATE SET
			reward_tx = EXCLUDED.reward_tx,
			late = EXCLUDED.late`,
		d.TaskID, d.User, d.PostID, d.RewardTxID, d.Late, d.CreatedAt)
	return translate(err)
}

func (b *taskBucket) ListDeliveries(taskID string) ([]*store.Delivery, error) {
	rows, err := b.t.tx.Query(b.t.ctx, `
		SELECT task_id, usr, post_id, reward_tx, late, created_at
		FROM task_deliveries WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []*store.Delivery
	for rows.Next() {
		d := &store.Delivery{}
		if err := rows.Scan(&d.TaskID, &d.User, &d.PostID, &d.RewardTxID, &d.Late, &d.CreatedAt); err != nil {
			return nil, translate(err)
		}
		out = append(out, d)
	}
	return out, translate(rows.Err())
}
