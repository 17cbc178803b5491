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

// Package taskreward coordinates reward-bearing tasks from creation to
// payout. Donations accumulate in a per-task escrow wallet; on the due
// date the engine pays out on-time deliverables or refunds the donors,
// always in one store transaction so a task can never be half paid.
package taskreward

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/ledger"
	"github.com/darve-social/darve-server/notify"
	"github.com/darve-social/darve-server/store"
)

var (
	// ErrDonationNotIncreasing is returned when a repeat donation does not
	// raise the donor's cumulative total.
	ErrDonationNotIncreasing = errors.New("taskreward: donation must increase")

	// ErrTaskCompleted is returned for mutations of a finished task.
	ErrTaskCompleted = errors.New("taskreward: task already completed")

	// ErrNotParticipant is returned when no participant row exists for the
	// acting user.
	ErrNotParticipant = errors.New("taskreward: not a participant")

	// ErrNotAccepted is returned when a delivery arrives from a participant
	// who never accepted.
	ErrNotAccepted = errors.New("taskreward: participant not accepted")

	// ErrForbidden is returned when the acting user may not perform the
	// transition on this row.
	ErrForbidden = errors.New("taskreward: forbidden")

	// ErrInvalidVote is returned for malformed vote vectors.
	ErrInvalidVote = errors.New("taskreward: invalid vote")

	// ErrValidation is returned for malformed task parameters.
	ErrValidation = errors.New("taskreward: invalid task")
)

// Engine owns the task lifecycle.
type Engine struct {
	db       store.DB
	ledger   *ledger.Ledger
	notifier *notify.Service
	log      *logrus.Entry
	now      func() time.Time
}

// New creates a task engine. notifier may be nil.
func New(db store.DB, l *ledger.Ledger, n *notify.Service) *Engine {
	return &Engine{
		db:       db,
		ledger:   l,
		notifier: n,
		log:      logrus.WithField("component", "taskreward"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// CreateReq carries the parameters of a new task.
type CreateReq struct {
	BelongsTo        string
	CreatedBy        string
	Request          string
	DeliverableType  string
	Visibility       store.TaskVisibility
	RewardType       string
	Currency         store.Currency
	AcceptancePeriod time.Duration
	DeliveryPeriod   time.Duration

	// DueAt overrides the computed deadline when set.
	DueAt time.Time

	// Participants are invited at creation; each gets a Requested row.
	Participants []string
}

// Create opens a new task with its own escrow wallet.
func (e *Engine) Create(ctx context.Context, req CreateReq) (*store.Task, error) {
	if req.CreatedBy == "" || req.Request == "" {
		return nil, ErrValidation
	}
	if !req.Currency.Valid() {
		return nil, ledger.ErrCurrencyMismatch
	}
	if req.Visibility == "" {
		req.Visibility = store.TaskPublic
	}
	now := e.now()
	due := req.DueAt
	if due.IsZero() {
		due = now.Add(req.AcceptancePeriod + req.DeliveryPeriod)
	}
	t := &store.Task{
		ID:               uuid.NewString(),
		BelongsTo:        req.BelongsTo,
		CreatedBy:        req.CreatedBy,
		Request:          req.Request,
		DeliverableType:  req.DeliverableType,
		Visibility:       req.Visibility,
		RewardType:       req.RewardType,
		Currency:         req.Currency,
		AcceptancePeriod: req.AcceptancePeriod,
		DeliveryPeriod:   req.DeliveryPeriod,
		Status:           store.TaskInit,
		DueAt:            due,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	t.WalletID = ledger.TaskWallet(t.ID)

	err := e.db.Update(ctx, func(tx store.Tx) error {
		if err := tx.Tasks().Put(t); err != nil {
			return err
		}
		for _, user := range req.Participants {
			if user == "" {
				continue
			}
			p := &store.TaskParticipant{
				TaskID:    t.ID,
				User:      user,
				Status:    store.ParticipantRequested,
				Timelines: []store.StatusChange{{Status: store.ParticipantRequested, At: now}},
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Tasks().PutParticipant(p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"task": t.ID, "creator": t.CreatedBy}).Info("task created")

	e.emit(ctx, t.CreatedBy, notify.EvUserTaskRequestCreated, t, []string{t.CreatedBy})
	if len(req.Participants) > 0 {
		e.emit(ctx, t.CreatedBy, notify.EvUserTaskRequestReceived, t, req.Participants)
	}
	return t, nil
}

// Get returns one task.
func (e *Engine) Get(ctx context.Context, id string) (*store.Task, error) {
	var t *store.Task
	err := e.db.View(ctx, func(tx store.Tx) error {
		var err error
		t, err = tx.Tasks().Get(id)
		return err
	})
	return t, err
}

// ListByBelongsTo lists the tasks attached to one parent resource.
func (e *Engine) ListByBelongsTo(ctx context.Context, belongsTo string) ([]*store.Task, error) {
	var out []*store.Task
	err := e.db.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Tasks().ListByBelongsTo(belongsTo)
		return err
	})
	return out, err
}

// ListByCreator lists the tasks a user created.
func (e *Engine) ListByCreator(ctx context.Context, user string) ([]*store.Task, error) {
	var out []*store.Task
	err := e.db.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Tasks().ListByCreator(user)
		return err
	})
	return out, err
}

// Offer registers a self-offer on a task; the participant starts at
// Requested. Offering twice is a no-op returning the existing row.
func (e *Engine) Offer(ctx context.Context, taskID, user string) (*store.TaskParticipant, error) {
	var p *store.TaskParticipant
	err := e.db.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Tasks().Get(taskID)
		if err != nil {
			return err
		}
		if t.Status == store.TaskCompleted {
			return ErrTaskCompleted
		}
		if existing, err := tx.Tasks().GetParticipant(taskID, user); err == nil {
			p = existing
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		now := e.now()
		p = &store.TaskParticipant{
			TaskID:    taskID,
			User:      user,
			Status:    store.ParticipantRequested,
			Timelines: []store.StatusChange{{Status: store.ParticipantRequested, At: now}},
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Tasks().PutParticipant(p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Accept moves the caller's own participant row to Accepted and advances
// the task to InProgress when a donation is already in escrow.
func (e *Engine) Accept(ctx context.Context, taskID, user string) error {
	return e.setParticipantStatus(ctx, taskID, user, store.ParticipantAccepted)
}

// Reject moves the caller's own participant row to Rejected.
func (e *Engine) Reject(ctx context.Context, taskID, user string) error {
	return e.setParticipantStatus(ctx, taskID, user, store.ParticipantRejected)
}

func (e *Engine) setParticipantStatus(ctx context.Context, taskID, user string, next store.ParticipantStatus) error {
	return e.db.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Tasks().Get(taskID)
		if err != nil {
			return err
		}
		if t.Status == store.TaskCompleted {
			return ErrTaskCompleted
		}
		p, err := tx.Tasks().GetParticipant(taskID, user)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotParticipant
		}
		if err != nil {
			return err
		}
		if p.Status != store.ParticipantRequested {
			return ErrForbidden
		}
		now := e.now()
		p.Status = next
		p.Timelines = append(p.Timelines, store.StatusChange{Status: next, At: now})
		p.UpdatedAt = now
		if err := tx.Tasks().PutParticipant(p); err != nil {
			return err
		}
		if next == store.ParticipantAccepted {
			return e.maybeStart(tx, t, now)
		}
		return nil
	})
}

// maybeStart advances an Init task to InProgress once it has both an
// accepted participant and at least one donation.
func (e *Engine) maybeStart(tx store.Tx, t *store.Task, now time.Time) error {
	if t.Status != store.TaskInit {
		return nil
	}
	donors, err := tx.Tasks().ListDonors(t.ID)
	if err != nil {
		return err
	}
	if len(donors) == 0 {
		return nil
	}
	parts, err := tx.Tasks().ListParticipants(t.ID)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if p.Status == store.ParticipantAccepted {
			t.Status = store.TaskInProgress
			t.UpdatedAt = now
			return tx.Tasks().Put(t)
		}
	}
	return nil
}

// Donate moves amount from the donor's spendable wallet into the task's
// escrow wallet. A repeat donation must raise the cumulative total; only
// the delta is transferred.
func (e *Engine) Donate(ctx context.Context, taskID, user string, amount int64, cur store.Currency) (*store.TaskDonor, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	var d *store.TaskDonor
	err := e.db.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Tasks().Get(taskID)
		if err != nil {
			return err
		}
		if t.Status == store.TaskCompleted {
			return ErrTaskCompleted
		}
		if cur != t.Currency {
			return ledger.ErrCurrencyMismatch
		}
		now := e.now()

		delta := amount
		d, err = tx.Tasks().GetDonor(taskID, user)
		switch {
		case err == nil:
			delta = amount - d.Amount
			if delta <= 0 {
				return ErrDonationNotIncreasing
			}
		case errors.Is(err, store.ErrNotFound):
			d = &store.TaskDonor{
				TaskID:    taskID,
				User:      user,
				Currency:  cur,
				CreatedAt: now,
			}
		default:
			return err
		}

		res, err := e.ledger.TransferTx(tx, ledger.TransferReq{
			From:     ledger.UserWallet(user),
			To:       t.WalletID,
			Amount:   delta,
			Currency: cur,
			Type:     store.TxDonation,
			TaskID:   taskID,
		})
		if err != nil {
			return err
		}
		d.Amount = amount
		d.TxID = res.CreditID
		d.UpdatedAt = now
		if err := tx.Tasks().PutDonor(d); err != nil {
			return err
		}
		return e.maybeStart(tx, t, now)
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"task": taskID, "donor": user, "total": d.Amount}).Info("donation recorded")
	return d, nil
}

// Vote attaches a donor's point allocation over deliverables. Points are
// validated for shape here; the sum-equals-amount rule is enforced at
// payout time, where an invalid vector degrades to an even split.
func (e *Engine) Vote(ctx context.Context, taskID, user string, votes []store.DeliverableVote) error {
	for _, v := range votes {
		if v.Points < 0 || v.Deliverable == "" {
			return ErrInvalidVote
		}
	}
	return e.db.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Tasks().Get(taskID)
		if err != nil {
			return err
		}
		if t.Status == store.TaskCompleted {
			return ErrTaskCompleted
		}
		d, err := tx.Tasks().GetDonor(taskID, user)
		if errors.Is(err, store.ErrNotFound) {
			return ErrForbidden
		}
		if err != nil {
			return err
		}
		d.Votes = append([]store.DeliverableVote(nil), votes...)
		d.UpdatedAt = e.now()
		return tx.Tasks().PutDonor(d)
	})
}

// Deliver records a participant's deliverable post. Deliveries after the
// due date are kept but marked late, which excludes them from automatic
// payout.
func (e *Engine) Deliver(ctx context.Context, taskID, user, postID string) (*store.Delivery, error) {
	if postID == "" {
		return nil, ErrValidation
	}
	var (
		del     *store.Delivery
		creator string
	)
	err := e.db.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Tasks().Get(taskID)
		if err != nil {
			return err
		}
		if t.Status == store.TaskCompleted {
			return ErrTaskCompleted
		}
		p, err := tx.Tasks().GetParticipant(taskID, user)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotParticipant
		}
		if err != nil {
			return err
		}
		if p.Status != store.ParticipantAccepted && p.Status != store.ParticipantDelivered {
			return ErrNotAccepted
		}
		now := e.now()
		late := now.After(t.DueAt)
		del = &store.Delivery{
			TaskID:    taskID,
			User:      user,
			PostID:    postID,
			Late:      late,
			CreatedAt: now,
		}
		if err := tx.Tasks().PutDelivery(del); err != nil {
			return err
		}
		p.Status = store.ParticipantDelivered
		p.Timelines = append(p.Timelines, store.StatusChange{Status: store.ParticipantDelivered, At: now})
		p.DeliveryPost = postID
		p.Late = late
		p.UpdatedAt = now
		if err := tx.Tasks().PutParticipant(p); err != nil {
			return err
		}
		creator = t.CreatedBy
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, user, notify.EvUserTaskRequestDelivered, &store.Task{ID: taskID}, []string{creator})
	return del, nil
}

// Participants lists the participant rows of a task.
func (e *Engine) Participants(ctx context.Context, taskID string) ([]*store.TaskParticipant, error) {
	var out []*store.TaskParticipant
	err := e.db.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Tasks().ListParticipants(taskID)
		return err
	})
	return out, err
}

// Donors lists the donor rows of a task.
func (e *Engine) Donors(ctx context.Context, taskID string) ([]*store.TaskDonor, error) {
	var out []*store.TaskDonor
	err := e.db.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Tasks().ListDonors(taskID)
		return err
	})
	return out, err
}

func (e *Engine) emit(ctx context.Context, actor, event string, t *store.Task, recipients []string) {
	if e.notifier == nil {
		return
	}
	meta, _ := json.Marshal(map[string]string{"task_id": t.ID})
	if _, err := e.notifier.Notify(ctx, actor, event, t.Request, meta, recipients); err != nil {
		e.log.WithError(err).WithField("task", t.ID).Warn("task notification failed")
	}
}
