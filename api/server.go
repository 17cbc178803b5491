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

// Package api exposes the HTTP surface: authentication, wallet and task
// operations, payment-rail webhooks and live notification streams. It is
// a thin layer; every decision of consequence happens in the services it
// delegates to.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/access"
	"github.com/darve-social/darve-server/gateway"
	"github.com/darve-social/darve-server/ledger"
	"github.com/darve-social/darve-server/notify"
	"github.com/darve-social/darve-server/store"
	"github.com/darve-social/darve-server/taskreward"
)

// Config carries the HTTP-surface tunables.
type Config struct {
	// JWTSecret signs session tokens.
	JWTSecret []byte

	// TokenTTL bounds session token validity.
	TokenTTL time.Duration

	// StripeWebhookSecret verifies Stripe signatures. Empty disables
	// verification (tests only).
	StripeWebhookSecret string

	// AllowedOrigins configures CORS. Empty allows none.
	AllowedOrigins []string
}

// Server wires the services to routes.
type Server struct {
	cfg      Config
	db       store.DB
	ledger   *ledger.Ledger
	gateway  *gateway.Service
	tasks    *taskreward.Engine
	notifier *notify.Service
	acl      *access.Controller
	presence *access.PresenceTracker
	log      *logrus.Entry
	handler  http.Handler
}

// NewServer builds the router over the given services.
func NewServer(cfg Config, db store.DB, l *ledger.Ledger, g *gateway.Service,
	t *taskreward.Engine, n *notify.Service, acl *access.Controller,
	p *access.PresenceTracker) *Server {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	s := &Server{
		cfg:      cfg,
		db:       db,
		ledger:   l,
		gateway:  g,
		tasks:    t,
		notifier: n,
		acl:      acl,
		presence: p,
		log:      logrus.WithField("component", "api"),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := httprouter.New()

	r.HandlerFunc(http.MethodPost, "/api/register", s.handleRegister)
	r.HandlerFunc(http.MethodPost, "/api/login", s.handleLogin)

	r.HandlerFunc(http.MethodGet, "/api/user/wallet/balance", s.auth(s.handleBalance))
	r.HandlerFunc(http.MethodGet, "/api/user/wallet/history", s.auth(s.handleHistory))
	r.HandlerFunc(http.MethodPost, "/api/user/wallet/deposit", s.auth(s.handleDeposit))
	r.HandlerFunc(http.MethodPost, "/api/user/wallet/withdraw", s.auth(s.handleWithdraw))
	r.HandlerFunc(http.MethodGet, "/api/user/wallet/gateway", s.auth(s.handleGatewayHistory))

	r.HandlerFunc(http.MethodPost, "/api/task_request", s.auth(s.handleTaskCreate))
	r.HandlerFunc(http.MethodGet, "/api/task_request", s.auth(s.handleTaskList))
	r.Handle(http.MethodGet, "/api/task_request/:id", s.authP(s.handleTaskGet))
	r.Handle(http.MethodPost, "/api/task_request/:id/donate", s.authP(s.handleTaskDonate))
	r.Handle(http.MethodPost, "/api/task_request/:id/offer", s.authP(s.handleTaskOffer))
	r.Handle(http.MethodPost, "/api/task_request/:id/accept", s.authP(s.handleTaskAccept))
	r.Handle(http.MethodPost, "/api/task_request/:id/reject", s.authP(s.handleTaskReject))
	r.Handle(http.MethodPost, "/api/task_request/:id/deliver", s.authP(s.handleTaskDeliver))
	r.Handle(http.MethodPost, "/api/task_request/:id/vote", s.authP(s.handleTaskVote))
	r.Handle(http.MethodGet, "/api/task_request/:id/participants", s.authP(s.handleTaskParticipants))

	r.HandlerFunc(http.MethodGet, "/api/notifications", s.auth(s.handleNotificationsList))
	r.HandlerFunc(http.MethodGet, "/api/notifications/unread_count", s.auth(s.handleUnreadCount))
	r.Handle(http.MethodPost, "/api/notifications/read/:id", s.authP(s.handleNotificationRead))
	r.HandlerFunc(http.MethodPost, "/api/notifications/read_all", s.auth(s.handleNotificationsReadAll))
	r.HandlerFunc(http.MethodGet, "/api/notifications/sse", s.auth(s.handleSSE))
	r.HandlerFunc(http.MethodGet, "/api/notifications/ws", s.auth(s.handleWebsocket))

	r.HandlerFunc(http.MethodGet, "/api/users/status", s.auth(s.handleUserStatuses))

	r.HandlerFunc(http.MethodPost, "/webhooks/stripe", s.handleStripeWebhook)
	r.HandlerFunc(http.MethodPost, "/webhooks/paypal", s.handlePayPalWebhook)

	r.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	r.HandlerFunc(http.MethodGet, "/healthz", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return s.withRequestID(c.Handler(r))
}

type ctxKey int

const (
	ctxKeyUser ctxKey = iota
	ctxKeyReqID
)

// withRequestID stamps each request with an ID carried through logs and
// error envelopes.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := context.WithValue(r.Context(), ctxKeyReqID, id)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyReqID).(string)
	return id
}

// userFrom returns the authenticated user ID of the request.
func userFrom(ctx context.Context) string {
	uid, _ := ctx.Value(ctxKeyUser).(string)
	return uid
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	err := s.db.View(r.Context(), func(tx store.Tx) error { return nil })
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pageParams reads limit/offset query parameters with sane caps.
func pageParams(r *http.Request) (limit, offset int) {
	limit = intParam(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset = intParam(r, "offset", 0)
	return limit, offset
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}
