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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/darve-social/darve-server/gateway"
	"github.com/darve-social/darve-server/ledger"
	"github.com/darve-social/darve-server/notify"
	"github.com/darve-social/darve-server/store"
	"github.com/darve-social/darve-server/taskreward"
)

var (
	// ErrUnauthorized is returned when no valid identity accompanies a
	// request.
	ErrUnauthorized = errors.New("api: unauthorized")

	// ErrForbidden is returned when the identity lacks the permission.
	ErrForbidden = errors.New("api: forbidden")

	// ErrBadRequest is returned for malformed request bodies.
	ErrBadRequest = errors.New("api: bad request")
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error string `json:"error"`
	ReqID string `json:"req_id,omitempty"`
}

// statusOf maps the library error taxonomy to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden),
		errors.Is(err, taskreward.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrBalanceTooLow):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrWalletLocked),
		errors.Is(err, ledger.ErrConflict),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, gateway.ErrAlreadyFinalized),
		errors.Is(err, taskreward.ErrDonationNotIncreasing),
		errors.Is(err, taskreward.ErrTaskCompleted):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, gateway.ErrUnknownExternalID),
		errors.Is(err, taskreward.ErrNotParticipant):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrCurrencyMismatch),
		errors.Is(err, ledger.ErrSelfTransfer),
		errors.Is(err, taskreward.ErrValidation),
		errors.Is(err, taskreward.ErrInvalidVote),
		errors.Is(err, taskreward.ErrNotAccepted),
		errors.Is(err, notify.ErrUnknownEvent),
		errors.Is(err, notify.ErrNoRecipients):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrExternalRail):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, ReqID: requestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ErrBadRequest
	}
	return nil
}
