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
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/darve-social/darve-server/gateway"
)

// webhookBodyLimit bounds rail payload size.
const webhookBodyLimit = 1 << 20

// handleStripeWebhook verifies and dispatches Stripe events. Per rail
// contract: 4xx only for signature failure or a malformed body; replayed
// or unmatched events answer 2xx so the rail stops retrying; transient
// internal failures answer 5xx to trigger a retry.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var event stripe.Event
	if s.cfg.StripeWebhookSecret != "" {
		event, err = webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.cfg.StripeWebhookSecret)
		if err != nil {
			s.log.WithError(err).Warn("stripe signature rejected")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else if err := json.Unmarshal(payload, &event); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	err = s.gateway.HandleStripeEvent(r.Context(), &event)
	s.answerWebhook(w, "stripe", string(event.Type), err)
}

// handlePayPalWebhook dispatches PayPal payout events.
func (s *Server) handlePayPalWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var event gateway.PayPalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	err = s.gateway.HandlePayPalEvent(r.Context(), &event)
	s.answerWebhook(w, "paypal", event.EventType, err)
}

func (s *Server) answerWebhook(w http.ResponseWriter, rail, eventType string, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
	case errors.Is(err, gateway.ErrAlreadyFinalized), errors.Is(err, gateway.ErrUnknownExternalID):
		// Terminal from the rail's point of view; stop the retries.
		s.log.WithError(err).WithField("event", eventType).Warn(rail + " event not applicable")
		writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
	default:
		s.log.WithError(err).WithField("event", eventType).Error(rail + " event failed")
		w.WriteHeader(http.StatusInternalServerError)
	}
}
