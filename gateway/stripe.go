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

package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"

	"github.com/darve-social/darve-server/metrics"
)

// Stripe metadata key carrying the gateway transaction ID on the payment
// intent. The webhook reads it back to find the record to reconcile.
const StripeMetaTxID = "tx_id"

// HandleStripeEvent reconciles one verified Stripe event with the deposit
// lifecycle. Unrecognized event types are ignored so the webhook endpoint
// can subscribe broadly.
func (s *Service) HandleStripeEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.partially_funded":
		pi, err := paymentIntent(event)
		if err != nil {
			return err
		}
		txID := pi.Metadata[StripeMetaTxID]
		if txID == "" {
			metrics.WebhookEvents.WithLabelValues("stripe", "unmatched").Inc()
			return ErrUnknownExternalID
		}
		if err := s.CompleteDeposit(ctx, txID, pi.ID, pi.AmountReceived); err != nil {
			metrics.WebhookEvents.WithLabelValues("stripe", "error").Inc()
			return err
		}
		metrics.WebhookEvents.WithLabelValues("stripe", "completed").Inc()
		return nil

	case "payment_intent.payment_failed", "payment_intent.canceled":
		pi, err := paymentIntent(event)
		if err != nil {
			return err
		}
		txID := pi.Metadata[StripeMetaTxID]
		if txID == "" {
			metrics.WebhookEvents.WithLabelValues("stripe", "unmatched").Inc()
			return ErrUnknownExternalID
		}
		if err := s.FailDeposit(ctx, txID, string(event.Type)); err != nil {
			metrics.WebhookEvents.WithLabelValues("stripe", "error").Inc()
			return err
		}
		metrics.WebhookEvents.WithLabelValues("stripe", "failed").Inc()
		return nil
	}
	metrics.WebhookEvents.WithLabelValues("stripe", "ignored").Inc()
	return nil
}

func paymentIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("gateway: malformed payment intent payload: %w", err)
	}
	return &pi, nil
}
