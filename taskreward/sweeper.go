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

package taskreward

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/metrics"
	"github.com/darve-social/darve-server/store"
)

const (
	// DefaultSweepInterval is the tick between sweep rounds.
	DefaultSweepInterval = 30 * time.Second

	// DefaultSweepBatch caps the tasks settled per round.
	DefaultSweepBatch = 32

	sweepBackoffBase = 30 * time.Second
	sweepBackoffMax  = 30 * time.Minute
)

// Sweeper drives due tasks through settlement in the background. Failures
// are logged and retried with per-task backoff; the loop itself never
// stops on error.
type Sweeper struct {
	engine   *Engine
	db       store.DB
	interval time.Duration
	batch    int
	log      *logrus.Entry

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewSweeper creates a sweeper for engine. Zero interval or batch fall
// back to the defaults.
func NewSweeper(engine *Engine, db store.DB, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Sweeper{
		engine:   engine,
		db:       db,
		interval: interval,
		batch:    batch,
		log:      logrus.WithField("component", "sweeper"),
		quit:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop terminates the loop and waits for the in-flight round to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()
	timer := time.NewTimer(s.nextTick())
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			s.Sweep(context.Background())
			timer.Reset(s.nextTick())
		case <-s.quit:
			return
		}
	}
}

// nextTick jitters the interval by up to ±10% so replicas sharing a store
// do not sweep in lockstep.
func (s *Sweeper) nextTick() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(s.interval)/5+1)) - s.interval/10
	return s.interval + jitter
}

// Sweep settles one batch of due tasks serially and reports how many were
// completed. It is safe to call concurrently with the background loop;
// settlement is idempotent per task.
func (s *Sweeper) Sweep(ctx context.Context) int {
	metrics.SweepRuns.Inc()
	now := s.engine.now()

	var due []*store.Task
	err := s.db.View(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.Tasks().ListDue(now, s.batch)
		return err
	})
	if err != nil {
		s.log.WithError(err).Error("due-task query failed")
		return 0
	}

	settled := 0
	for _, t := range due {
		select {
		case <-s.quit:
			return settled
		default:
		}
		if err := s.engine.Finalize(ctx, t.ID); err != nil {
			metrics.SweepFailures.Inc()
			s.log.WithError(err).WithField("task", t.ID).Error("settlement failed")
			if berr := s.engine.recordSweepFailure(ctx, t.ID, now); berr != nil {
				s.log.WithError(berr).WithField("task", t.ID).Error("backoff update failed")
			}
			continue
		}
		settled++
	}
	if settled > 0 {
		s.log.WithFields(logrus.Fields{"settled": settled, "due": len(due)}).Info("sweep round done")
	}
	return settled
}
