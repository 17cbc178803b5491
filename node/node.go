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

// Package node assembles the services into one runnable process: store,
// ledger, gateway, task engine, notifier, presence and the HTTP surface,
// with a managed start/stop lifecycle.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/darve-social/darve-server/access"
	"github.com/darve-social/darve-server/api"
	"github.com/darve-social/darve-server/gateway"
	"github.com/darve-social/darve-server/ledger"
	"github.com/darve-social/darve-server/notify"
	"github.com/darve-social/darve-server/store"
	"github.com/darve-social/darve-server/store/memorydb"
	"github.com/darve-social/darve-server/store/pgdb"
	"github.com/darve-social/darve-server/taskreward"
)

const shutdownTimeout = 15 * time.Second

// Node is a fully wired darve server.
type Node struct {
	cfg Config
	log *logrus.Entry

	db       store.DB
	ledger   *ledger.Ledger
	feed     *notify.Feed
	notifier *notify.Service
	acl      *access.Controller
	presence *access.PresenceTracker
	gateway  *gateway.Service
	tasks    *taskreward.Engine
	sweeper  *taskreward.Sweeper
	httpSrv  *http.Server

	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
}

// New wires a node from the config. The store is opened and the ledger
// system wallets are bootstrapped; nothing serves until Start.
func New(ctx context.Context, cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogging(cfg)
	log := logrus.WithField("component", "node")

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	l := ledger.New(db)
	if err := l.Bootstrap(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("node: ledger bootstrap: %w", err)
	}

	feed := notify.NewFeed()
	notifier := notify.NewService(db, feed)
	acl := access.NewController(db)
	presence := access.NewPresenceTracker(feed, cfg.PresenceLinger)

	var payouts gateway.PayoutSubmitter
	if cfg.PayPalClientID != "" {
		payouts = gateway.NewPayPalClient(gateway.PayPalConfig{
			BaseURL:      cfg.PayPalBaseURL,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
		})
	}
	gw := gateway.NewService(db, l, notifier, payouts, gateway.Config{
		FeeRate: cfg.WithdrawFeeRate,
	})
	engine := taskreward.New(db, l, notifier)
	sweeper := taskreward.NewSweeper(engine, db, cfg.SweepInterval, taskreward.DefaultSweepBatch)

	srv := api.NewServer(api.Config{
		JWTSecret:           []byte(cfg.JWTSecret),
		TokenTTL:            cfg.TokenTTL,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		AllowedOrigins:      cfg.AllowedOrigins,
	}, db, l, gw, engine, notifier, acl, presence)

	return &Node{
		cfg:      cfg,
		log:      log,
		db:       db,
		ledger:   l,
		feed:     feed,
		notifier: notifier,
		acl:      acl,
		presence: presence,
		gateway:  gw,
		tasks:    engine,
		sweeper:  sweeper,
		httpSrv: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func openStore(ctx context.Context, cfg Config) (store.DB, error) {
	if cfg.DatabaseURL == "" {
		logrus.Warn("no database configured, using the in-memory store")
		return memorydb.New(), nil
	}
	return pgdb.Open(ctx, cfg.DatabaseURL)
}

func setupLogging(cfg Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogFile != "" {
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
}

// Start brings the sweeper and the HTTP listener up. It returns once both
// are running; ListenAndServe failures surface through Wait.
func (n *Node) Start() error {
	n.startOnce.Do(func() {
		n.sweeper.Start()
		go func() {
			n.log.WithField("addr", n.cfg.HTTPAddr).Info("http server listening")
			if err := n.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.log.WithError(err).Error("http server failed")
			}
		}()
	})
	return nil
}

// Stop tears the node down in reverse order: listener, sweeper, presence,
// feed, store. Safe to call more than once.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var g errgroup.Group
		g.Go(func() error { return n.httpSrv.Shutdown(ctx) })
		g.Go(func() error { n.sweeper.Stop(); return nil })
		n.stopErr = g.Wait()

		n.presence.Close()
		n.feed.Close()
		if err := n.db.Close(); err != nil && n.stopErr == nil {
			n.stopErr = err
		}
		n.log.Info("node stopped")
	})
	return n.stopErr
}

// DB exposes the backing store, for tests and tooling.
func (n *Node) DB() store.DB { return n.db }
