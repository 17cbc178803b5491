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

	"github.com/darve-social/darve-server/ledger"
	"github.com/darve-social/darve-server/store"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	uid := userFrom(r.Context())
	balances, err := s.ledger.UserBalances(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	uid := userFrom(r.Context())
	limit, offset := pageParams(r)
	var cur store.Currency
	if raw := r.URL.Query().Get("currency"); raw != "" {
		parsed, err := store.ParseCurrency(raw)
		if err != nil {
			writeError(w, r, ErrBadRequest)
			return
		}
		cur = parsed
	}
	txs, err := s.ledger.History(r.Context(), ledger.UserWallet(uid), cur, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type depositReq struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	uid := userFrom(r.Context())
	var req depositReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cur, err := store.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, r, ErrBadRequest)
		return
	}
	g, err := s.gateway.InitDeposit(r.Context(), uid, req.Amount, cur)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

type withdrawReq struct {
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	ExternalAccount string `json:"external_account"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	uid := userFrom(r.Context())
	var req withdrawReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cur, err := store.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, r, ErrBadRequest)
		return
	}
	if req.ExternalAccount == "" {
		writeError(w, r, ErrBadRequest)
		return
	}
	g, err := s.gateway.StartWithdraw(r.Context(), uid, req.Amount, cur, req.ExternalAccount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGatewayHistory(w http.ResponseWriter, r *http.Request) {
	uid := userFrom(r.Context())
	limit, offset := pageParams(r)
	list, err := s.gateway.History(r.Context(), uid, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": list})
}
