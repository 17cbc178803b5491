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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/metrics"
	"github.com/darve-social/darve-server/store"
)

// PayPal payouts-item webhook event types.
const (
	PayPalItemSucceeded = "PAYMENT.PAYOUTS-ITEM.SUCCEEDED"
	PayPalItemFailed    = "PAYMENT.PAYOUTS-ITEM.FAILED"
	PayPalItemReturned  = "PAYMENT.PAYOUTS-ITEM.RETURNED"
	PayPalItemDenied    = "PAYMENT.PAYOUTS-ITEM.DENIED"
	PayPalItemBlocked   = "PAYMENT.PAYOUTS-ITEM.BLOCKED"
	PayPalItemCanceled  = "PAYMENT.PAYOUTS-ITEM.CANCELED"
)

// PayPalEvent is the slice of the payouts-item webhook envelope the
// lifecycle needs. The sender batch ID carries the gateway transaction ID.
type PayPalEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		PayoutItemID  string `json:"payout_item_id"`
		TransactionID string `json:"transaction_id"`
		SenderBatchID string `json:"sender_batch_id"`
		PayoutItem    struct {
			SenderItemID string `json:"sender_item_id"`
		} `json:"payout_item"`
	} `json:"resource"`
}

// BatchID returns the gateway transaction ID the event references.
func (e *PayPalEvent) BatchID() string {
	if e.Resource.SenderBatchID != "" {
		return e.Resource.SenderBatchID
	}
	return e.Resource.PayoutItem.SenderItemID
}

// HandlePayPalEvent reconciles one verified PayPal payouts-item event with
// the withdrawal lifecycle. A SUCCEEDED item completes the withdrawal;
// every other item outcome reverts it.
func (s *Service) HandlePayPalEvent(ctx context.Context, event *PayPalEvent) error {
	id := event.BatchID()
	if id == "" {
		metrics.WebhookEvents.WithLabelValues("paypal", "unmatched").Inc()
		return ErrUnknownExternalID
	}
	switch event.EventType {
	case PayPalItemSucceeded:
		if err := s.CompleteWithdraw(ctx, id, event.Resource.TransactionID); err != nil {
			metrics.WebhookEvents.WithLabelValues("paypal", "error").Inc()
			return err
		}
		metrics.WebhookEvents.WithLabelValues("paypal", "completed").Inc()
		return nil
	case PayPalItemFailed, PayPalItemReturned, PayPalItemDenied, PayPalItemBlocked, PayPalItemCanceled:
		if err := s.RevertWithdraw(ctx, id, event.EventType); err != nil {
			metrics.WebhookEvents.WithLabelValues("paypal", "error").Inc()
			return err
		}
		metrics.WebhookEvents.WithLabelValues("paypal", "reverted").Inc()
		return nil
	}
	metrics.WebhookEvents.WithLabelValues("paypal", "ignored").Inc()
	return nil
}

// PayPalConfig configures the payouts client.
type PayPalConfig struct {
	BaseURL      string // e.g. https://api-m.paypal.com
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// PayPalClient submits payout batches to PayPal. It implements
// PayoutSubmitter. OAuth tokens are fetched lazily and cached until
// shortly before expiry.
type PayPalClient struct {
	cfg  PayPalConfig
	http *http.Client
	log  *logrus.Entry

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewPayPalClient creates a payouts client.
func NewPayPalClient(cfg PayPalConfig) *PayPalClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PayPalClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  logrus.WithField("component", "paypal"),
	}
}

// SubmitPayout implements PayoutSubmitter. The batchID doubles as PayPal's
// sender_batch_id, making resubmission of the same withdrawal a rail-side
// no-op. Transient failures are retried with exponential backoff.
func (c *PayPalClient) SubmitPayout(ctx context.Context, batchID, receiver string, amount int64, cur store.Currency) error {
	body := map[string]any{
		"sender_batch_header": map[string]any{
			"sender_batch_id": batchID,
			"email_subject":   "You have a payout",
		},
		"items": []map[string]any{{
			"recipient_type": "EMAIL",
			"receiver":       receiver,
			"sender_item_id": batchID,
			"amount": map[string]string{
				"value":    formatAmount(amount, cur),
				"currency": string(cur),
			},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	op := func() error {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/v1/payments/payouts", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("paypal: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("paypal: status %d: %s", resp.StatusCode, msg))
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("%w: %v", ErrExternalRail, err)
	}
	c.log.WithFields(logrus.Fields{"batch": batchID, "amount": amount, "currency": cur}).Info("payout submitted")
	return nil
}

func (c *PayPalClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.token, nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal: token status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	c.token = out.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return c.token, nil
}

// formatAmount renders an integer minor-unit amount at the currency's
// fixed decimals, as PayPal expects decimal strings.
func formatAmount(amount int64, cur store.Currency) string {
	dec := cur.Decimals()
	if dec == 0 {
		return strconv.FormatInt(amount, 10)
	}
	div := int64(1)
	for i := 0; i < dec; i++ {
		div *= 10
	}
	return fmt.Sprintf("%d.%0*d", amount/div, dec, amount%div)
}
