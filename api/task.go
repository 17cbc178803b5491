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

package api

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/darve-social/darve-server/access"
	"github.com/darve-social/darve-server/store"
	"github.com/darve-social/darve-server/taskreward"
)

type taskCreateReq struct {
	BelongsTo        string   `json:"belongs_to"`
	Request          string   `json:"request_text"`
	DeliverableType  string   `json:"deliverable_type"`
	Visibility       string   `json:"type"`
	RewardType       string   `json:"reward_type"`
	Currency         string   `json:"currency"`
	AcceptancePeriod int64    `json:"acceptance_period_hours"`
	DeliveryPeriod   int64    `json:"delivery_period_hours"`
	Participants     []string `json:"participants"`
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	uid := userFrom(r.Context())
	var req taskCreateReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cur, err := store.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, r, ErrBadRequest)
		return
	}
	task, err := s.tasks.Create(r.Context(), taskreward.CreateReq{
		BelongsTo:        req.BelongsTo,
		CreatedBy:        uid,
		Request:          req.Request,
		DeliverableType:  req.DeliverableType,
		Visibility:       store.TaskVisibility(req.Visibility),
		RewardType:       req.RewardType,
		Currency:         cur,
		AcceptancePeriod: time.Duration(req.AcceptancePeriod) * time.Hour,
		DeliveryPeriod:   time.Duration(req.DeliveryPeriod) * time.Hour,
		Participants:     req.Participants,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	// The creator owns the task node in the access hierarchy.
	res := store.ResourceID{Kind: store.ResourceTask, ID: task.ID}
	if err := s.acl.Grant(r.Context(), uid, res, store.RoleOwner); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// handleTaskList lists tasks attached to a discussion when `belongs_to` is
// given, otherwise the caller's own tasks.
func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []*store.Task
		err   error
	)
	if belongsTo := r.URL.Query().Get("belongs_to"); belongsTo != "" {
		tasks, err = s.tasks.ListByBelongsTo(r.Context(), belongsTo)
	} else {
		tasks, err = s.tasks.ListByCreator(r.Context(), userFrom(r.Context()))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// taskResource builds the access node of a task for permission checks.
func taskResource(t *store.Task) *access.Resource {
	res := &access.Resource{
		Kind:   store.ResourceTask,
		ID:     t.ID,
		Public: t.Visibility == store.TaskPublic,
	}
	if t.BelongsTo != "" {
		res.Parent = &access.Resource{Kind: store.ResourceDiscussion, ID: t.BelongsTo}
	}
	return res
}

// loadTaskChecked fetches the task and verifies perm for the caller.
func (s *Server) loadTaskChecked(r *http.Request, id string, perm access.Permission) (*store.Task, error) {
	task, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	ok, err := s.acl.Can(r.Context(), userFrom(r.Context()), taskResource(task), perm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return task, nil
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	task, err := s.loadTaskChecked(r, ps.ByName("id"), access.PermView)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type donateReq struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (s *Server) handleTaskDonate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	task, err := s.loadTaskChecked(r, ps.ByName("id"), access.PermDonate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req donateReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cur, err := store.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, r, ErrBadRequest)
		return
	}
	d, err := s.tasks.Donate(r.Context(), task.ID, userFrom(r.Context()), req.Amount, cur)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTaskOffer(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	task, err := s.loadTaskChecked(r, ps.ByName("id"), access.PermAcceptTask)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.tasks.Offer(r.Context(), task.ID, userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTaskAccept(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.tasks.Accept(r.Context(), ps.ByName("id"), userFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(store.ParticipantAccepted)})
}

func (s *Server) handleTaskReject(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.tasks.Reject(r.Context(), ps.ByName("id"), userFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(store.ParticipantRejected)})
}

type deliverReq struct {
	PostID string `json:"post_id"`
}

func (s *Server) handleTaskDeliver(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	task, err := s.loadTaskChecked(r, ps.ByName("id"), access.PermDeliverTask)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req deliverReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	del, err := s.tasks.Deliver(r.Context(), task.ID, userFrom(r.Context()), req.PostID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, del)
}

type voteReq struct {
	Votes []store.DeliverableVote `json:"votes"`
}

func (s *Server) handleTaskVote(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req voteReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.tasks.Vote(r.Context(), ps.ByName("id"), userFrom(r.Context()), req.Votes); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": req.Votes})
}

func (s *Server) handleTaskParticipants(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	task, err := s.loadTaskChecked(r, ps.ByName("id"), access.PermView)
	if err != nil {
		writeError(w, r, err)
		return
	}
	parts, err := s.tasks.Participants(r.Context(), task.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": parts})
}
