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

import (
	"encoding/json"
	"fmt"
	"time"
)

// Currency identifies one independently tracked balance. Amounts are
// integers at the currency's fixed decimals; there is no conversion.
type Currency string

const (
	USD  Currency = "USD"
	REEF Currency = "REEF"
	ETH  Currency = "ETH"
)

// Currencies lists every currency the ledger tracks.
var Currencies = []Currency{USD, REEF, ETH}

// Valid reports whether c is a known currency.
func (c Currency) Valid() bool {
	switch c {
	case USD, REEF, ETH:
		return true
	}
	return false
}

// Decimals returns the number of fixed decimals amounts of c carry.
func (c Currency) Decimals() int {
	switch c {
	case USD:
		return 2
	case REEF:
		return 0
	case ETH:
		return 18
	}
	return 0
}

// ParseCurrency converts a wire symbol to a Currency.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return c, nil
}

// WalletLock is the advisory lock stored on a wallet row. An expired lock
// is treated as absent everywhere.
type WalletLock struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Wallet is a named container of per-currency balance chains. Heads maps a
// currency to the ID of the newest balance transaction of that chain.
type Wallet struct {
	ID        string              `json:"id"`
	Heads     map[Currency]string `json:"transaction_head"`
	Lock      *WalletLock         `json:"lock,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// LockedAt reports whether the wallet carries an unexpired lock at now.
func (w *Wallet) LockedAt(now time.Time) bool {
	return w.Lock != nil && now.Before(w.Lock.ExpiresAt)
}

// Copy returns a deep copy of the wallet.
func (w *Wallet) Copy() *Wallet {
	cp := *w
	cp.Heads = make(map[Currency]string, len(w.Heads))
	for k, v := range w.Heads {
		cp.Heads[k] = v
	}
	if w.Lock != nil {
		l := *w.Lock
		cp.Lock = &l
	}
	return &cp
}

// BalanceTxType tags the business meaning of a balance transaction leg.
type BalanceTxType string

const (
	TxInit     BalanceTxType = "Init"
	TxTransfer BalanceTxType = "Transfer"
	TxDeposit  BalanceTxType = "Deposit"
	TxWithdraw BalanceTxType = "Withdraw"
	TxFee      BalanceTxType = "Fee"
	TxDonation BalanceTxType = "Donation"
	TxReward   BalanceTxType = "Reward"
	TxRefund   BalanceTxType = "Refund"
)

// BalanceTx is one leg of a transfer. Two legs sharing an Ident form a
// complete transfer: one with AmountOut on the source wallet, one with
// AmountIn on the target. The genesis record of a chain has type Init and
// both amounts zero. Records are immutable once written.
type BalanceTx struct {
	ID         string        `json:"id"`
	Wallet     string        `json:"wallet"`
	WithWallet string        `json:"with_wallet,omitempty"`
	Ident      string        `json:"tx_ident"`
	Currency   Currency      `json:"currency"`
	Prev       string        `json:"prev_transaction,omitempty"`
	AmountIn   int64         `json:"amount_in,omitempty"`
	AmountOut  int64         `json:"amount_out,omitempty"`
	Balance    int64         `json:"balance"`
	Type       BalanceTxType `json:"type"`
	GatewayTx  string        `json:"gateway_tx,omitempty"`
	TaskID     string        `json:"task_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Copy returns a copy of the record.
func (t *BalanceTx) Copy() *BalanceTx {
	cp := *t
	return &cp
}

// GatewayTxType distinguishes the direction of money across the boundary.
// Withdrawal fees are not a third type: the fee is a TxFee ledger leg
// referenced by GatewayTx.FeeTx.
type GatewayTxType string

const (
	GatewayDeposit  GatewayTxType = "Deposit"
	GatewayWithdraw GatewayTxType = "Withdraw"
)

// GatewayStatus is the forward-only lifecycle state of a gateway
// transaction. The only non-terminal state is Pending.
type GatewayStatus string

const (
	GatewayPending   GatewayStatus = "Pending"
	GatewayCompleted GatewayStatus = "Completed"
	GatewayFailed    GatewayStatus = "Failed"
)

// Terminal reports whether s is a final state.
func (s GatewayStatus) Terminal() bool {
	return s == GatewayCompleted || s == GatewayFailed
}

// GatewayTx records money crossing the external rail. Its ID doubles as the
// idempotency key handed to the rail (Stripe metadata, PayPal batch id).
type GatewayTx struct {
	ID              string        `json:"id"`
	User            string        `json:"user"`
	Type            GatewayTxType `json:"type"`
	Status          GatewayStatus `json:"status"`
	Amount          int64         `json:"amount"`
	Currency        Currency      `json:"currency"`
	ExternalTxID    string        `json:"external_tx_id,omitempty"`
	ExternalAccount string        `json:"external_account_id,omitempty"`
	FeeTx           string        `json:"fee_tx,omitempty"`
	LockID          string        `json:"-"`
	RevertReason    string        `json:"revert_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Copy returns a copy of the record.
func (g *GatewayTx) Copy() *GatewayTx {
	cp := *g
	return &cp
}

// TaskStatus is the one-way lifecycle of a reward task.
type TaskStatus string

const (
	TaskInit       TaskStatus = "Init"
	TaskInProgress TaskStatus = "InProgress"
	TaskCompleted  TaskStatus = "Completed"
)

// TaskVisibility controls who may participate.
type TaskVisibility string

const (
	TaskPublic  TaskVisibility = "Public"
	TaskPrivate TaskVisibility = "Private"
)

// Task is a reward-bearing request with its own escrow wallet.
type Task struct {
	ID               string         `json:"id"`
	BelongsTo        string         `json:"belongs_to"`
	CreatedBy        string         `json:"created_by"`
	Request          string         `json:"request_text"`
	DeliverableType  string         `json:"deliverable_type"`
	Visibility       TaskVisibility `json:"type"`
	RewardType       string         `json:"reward_type"`
	Currency         Currency       `json:"currency"`
	AcceptancePeriod time.Duration  `json:"acceptance_period"`
	DeliveryPeriod   time.Duration  `json:"delivery_period"`
	WalletID         string         `json:"wallet_id"`
	Status           TaskStatus     `json:"status"`
	DueAt            time.Time      `json:"due_at"`
	SweepAttempts    int            `json:"-"`
	NextSweepAt      time.Time      `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Copy returns a copy of the task.
func (t *Task) Copy() *Task {
	cp := *t
	return &cp
}

// DeliverableVote allocates a donor's points to one deliverable.
type DeliverableVote struct {
	Deliverable string `json:"deliverable_ident"`
	Points      int64  `json:"points"`
}

// TaskDonor is the task→user donation relation, unique per (task, user).
// Amount is the donor's cumulative total; TxID references the latest
// donation leg.
type TaskDonor struct {
	TaskID    string            `json:"task_id"`
	User      string            `json:"user"`
	Amount    int64             `json:"amount"`
	TxID      string            `json:"transaction"`
	Currency  Currency          `json:"currency"`
	Votes     []DeliverableVote `json:"votes,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Copy returns a deep copy of the donor relation.
func (d *TaskDonor) Copy() *TaskDonor {
	cp := *d
	cp.Votes = append([]DeliverableVote(nil), d.Votes...)
	return &cp
}

// ParticipantStatus is the lifecycle of one participant row.
type ParticipantStatus string

const (
	ParticipantRequested ParticipantStatus = "Requested"
	ParticipantAccepted  ParticipantStatus = "Accepted"
	ParticipantRejected  ParticipantStatus = "Rejected"
	ParticipantDelivered ParticipantStatus = "Delivered"
	ParticipantPaid      ParticipantStatus = "Paid"
)

// StatusChange is one entry of a participant's timeline.
type StatusChange struct {
	Status ParticipantStatus `json:"status"`
	At     time.Time         `json:"date"`
}

// TaskParticipant is the task→user participation relation.
type TaskParticipant struct {
	TaskID       string            `json:"task_id"`
	User         string            `json:"user"`
	Status       ParticipantStatus `json:"status"`
	Timelines    []StatusChange    `json:"timelines"`
	RewardTxID   string            `json:"reward_tx,omitempty"`
	DeliveryPost string            `json:"delivery_post,omitempty"`
	Late         bool              `json:"late,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Copy returns a deep copy of the participant relation.
func (p *TaskParticipant) Copy() *TaskParticipant {
	cp := *p
	cp.Timelines = append([]StatusChange(nil), p.Timelines...)
	return &cp
}

// Delivery is the participant→post deliverable relation.
type Delivery struct {
	TaskID     string    `json:"task_id"`
	User       string    `json:"user"`
	PostID     string    `json:"post_id"`
	RewardTxID string    `json:"reward_tx,omitempty"`
	Late       bool      `json:"late,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Copy returns a copy of the delivery.
func (d *Delivery) Copy() *Delivery {
	cp := *d
	return &cp
}

// Notification is the single materialized record of one fan-out. Recipient
// edges carry the per-user read flag.
type Notification struct {
	ID        string          `json:"id"`
	CreatedBy string          `json:"created_by"`
	Event     string          `json:"event_type"`
	Title     string          `json:"title"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Copy returns a deep copy of the notification.
func (n *Notification) Copy() *Notification {
	cp := *n
	cp.Metadata = append(json.RawMessage(nil), n.Metadata...)
	return &cp
}

// InboxItem is a notification joined with one recipient edge.
type InboxItem struct {
	*Notification
	IsRead bool `json:"is_read"`
}

// ResourceKind names a level of the access hierarchy.
type ResourceKind string

const (
	ResourceApp        ResourceKind = "App"
	ResourceDiscussion ResourceKind = "Discussion"
	ResourcePost       ResourceKind = "Post"
	ResourceTask       ResourceKind = "Task"
)

// ResourceID identifies one resource for role grants.
type ResourceID struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id"`
}

// Role is a monotone access level; higher values dominate lower ones.
type Role uint8

const (
	RoleNone Role = iota
	RoleChat
	RoleMember
	RoleEditor
	RoleOwner
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleChat:
		return "Chat"
	case RoleMember:
		return "Member"
	case RoleEditor:
		return "Editor"
	case RoleOwner:
		return "Owner"
	}
	return "None"
}

// User is the minimal identity record the core depends on.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Copy returns a deep copy of the user.
func (u *User) Copy() *User {
	cp := *u
	cp.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return &cp
}
