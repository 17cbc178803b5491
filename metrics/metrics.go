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

// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts committed ledger transfers by type.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "darve",
		Subsystem: "ledger",
		Name:      "transfers_total",
		Help:      "Committed two-leg transfers by balance transaction type.",
	}, []string{"type"})

	// TransferRetries counts head-pointer CAS retries.
	TransferRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darve",
		Subsystem: "ledger",
		Name:      "transfer_retries_total",
		Help:      "Transfers retried after losing the head-pointer race.",
	})

	// WebhookEvents counts processed webhook events by rail and outcome.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "darve",
		Subsystem: "gateway",
		Name:      "webhook_events_total",
		Help:      "Processed webhook events by rail and outcome.",
	}, []string{"rail", "outcome"})

	// SweepRuns counts sweeper ticks.
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darve",
		Subsystem: "taskreward",
		Name:      "sweep_runs_total",
		Help:      "Task sweeper ticks.",
	})

	// SweepFailures counts per-task finalize failures.
	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darve",
		Subsystem: "taskreward",
		Name:      "sweep_failures_total",
		Help:      "Tasks whose finalize attempt failed and was backed off.",
	})

	// NotificationsSent counts persisted notification fan-outs.
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darve",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Notification records fanned out.",
	})

	// LiveSubscribers gauges currently attached live-event subscribers.
	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "darve",
		Subsystem: "notify",
		Name:      "live_subscribers",
		Help:      "Currently attached live-event subscribers.",
	})

	// LiveDropped counts events dropped for slow subscribers.
	LiveDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darve",
		Subsystem: "notify",
		Name:      "live_dropped_total",
		Help:      "Live events dropped because a subscriber buffer was full.",
	})
)
