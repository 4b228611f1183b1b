// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package driver wires the collector's startup sequence and its steady-state run loop:
// logging, cache, tracing, database connect and schema bootstrap, calendar preload, a
// periodic calendar refresh, and the health server, followed by the collect-sleep loop that
// runs until a signal requests shutdown.
package driver

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/tickvault/collector/calendar"
	"github.com/tickvault/collector/collector"
	"github.com/tickvault/collector/common"
	"github.com/tickvault/collector/health"
	"github.com/tickvault/collector/marketclock"
	"github.com/tickvault/collector/massive"
	"github.com/tickvault/collector/observability/opentelemetry"
	"github.com/tickvault/collector/repository"
	"github.com/tickvault/collector/universe"
)

// backoffOnError is how long the run loop sleeps after an unexpected error before retrying,
// so a transient database or vendor outage doesn't spin the process.
const backoffOnError = 10 * time.Second

// maxSleep caps how long the loop ever sleeps waiting for the next open, so a restart or a
// calendar refresh is noticed within an hour even deep in an overnight closed period.
const maxSleep = time.Hour

// PipelineDriver owns the full collector lifecycle: startup, the run loop, and shutdown.
type PipelineDriver struct {
	cfg    *common.Config
	tz     *time.Location
	pool   *pgxpool.Pool
	clock  *marketclock.Clock
	coll   *collector.Collector
	health *health.Server
	sched  *gocron.Scheduler
}

// New constructs a PipelineDriver from cfg. It does not perform any I/O; call Run to start.
func New(cfg *common.Config) *PipelineDriver {
	return &PipelineDriver{cfg: cfg}
}

// Run executes the full startup sequence, then blocks in the run loop until SIGINT/SIGTERM,
// then shuts down gracefully.
func (d *PipelineDriver) Run() error {
	common.SetupLogging()
	common.SetupCache()
	log.Info("initialized logging and cache")

	shutdownTracing, err := opentelemetry.Setup()
	if err != nil {
		log.WithError(err).Warn("opentelemetry setup failed, continuing with no-op tracer")
		shutdownTracing = func(context.Context) error { return nil }
	} else {
		log.Info("initialized tracing")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d.tz = common.GetTimezone()

	pool, err := pgxpool.Connect(ctx, d.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connect failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	d.pool = pool
	log.Info("connected to database")

	bootstrapTx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("schema bootstrap: begin failed: %w", err)
	}
	if err := repository.Bootstrap(ctx, bootstrapTx); err != nil {
		_ = bootstrapTx.Rollback(ctx)
		return fmt.Errorf("schema bootstrap failed: %w", err)
	}
	if err := bootstrapTx.Commit(ctx); err != nil {
		return fmt.Errorf("schema bootstrap: commit failed: %w", err)
	}
	log.Info("schema bootstrap complete")

	calStore := calendar.NewStore(pool, d.tz)
	d.clock = marketclock.New(d.cfg.MarketHours, d.tz, calStore)

	now := time.Now().In(d.tz)
	d.clock.PreloadCalendar(ctx, now.AddDate(0, 0, -7), now.AddDate(1, 0, 0))
	log.Info("preloaded market calendar")

	uni, err := universe.Load(d.cfg.TickersFile)
	if err != nil {
		return fmt.Errorf("ticker universe load failed: %w", err)
	}
	log.WithField("tickers", len(uni.Tickers)).WithField("hash", uni.Hash).Info("loaded ticker universe")

	repo := repository.New()
	d.coll = collector.New(d.clock, d.cfg.MarketHours, d.tz, pool, repo, func() collector.MassiveClient {
		return massive.New(d.cfg.MassiveBaseURL, d.cfg.MassiveAPIKey)
	}, uni.Tickers)

	d.health = health.New(d.coll)
	go func() {
		addr := fmt.Sprintf(":%d", d.cfg.HealthPort)
		if err := d.health.Listen(addr); err != nil {
			log.WithError(err).Error("health server stopped")
		}
	}()

	d.sched = gocron.NewScheduler(d.tz)
	if _, err := d.sched.Every(1).Hours().Do(func() {
		from := time.Now().In(d.tz).AddDate(0, 0, -7)
		to := time.Now().In(d.tz).AddDate(1, 0, 0)
		d.clock.PreloadCalendar(context.Background(), from, to)
		log.Info("refreshed market calendar")
	}); err != nil {
		log.WithError(err).Warn("could not schedule calendar refresh")
	}
	d.sched.StartAsync()

	d.health.MarkReady()
	log.Info("startup complete, entering run loop")

	d.loop(ctx)

	log.Info("stopped gracefully")
	return d.shutdown(shutdownTracing)
}

// loop runs cycles until ctx is cancelled by a shutdown signal. A cycle error backs off
// briefly rather than escalating; the next iteration's sleep is capped so the loop always
// wakes up to re-evaluate the market clock within an hour.
func (d *PipelineDriver) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		panicked := false
		func() {
			defer func() {
				if r := recover(); r != nil {
					panicked = true
					log.WithField("panic", r).Error("cycle panicked, backing off")
				}
			}()
			d.coll.RunCycle(ctx)
		}()

		sleep := backoffOnError
		if !panicked {
			sleep = d.nextSleep()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// nextSleep returns how long to sleep before the next cycle: the configured interval while
// the market is open or within the grace window, otherwise the time until the market next
// opens, capped at maxSleep so a calendar refresh or restart is noticed within the hour.
func (d *PipelineDriver) nextSleep() time.Duration {
	now := time.Now()
	if d.coll.ShouldRun(now) {
		return time.Duration(d.cfg.CollectIntervalSeconds) * time.Second
	}

	until := d.clock.TimeUntilNextOpenFrom(now)
	if until < time.Second {
		return time.Second
	}
	if until > maxSleep {
		return maxSleep
	}
	return until
}

// shutdown stops the scheduler, the health server, tracing, and the database pool, in that
// order, logging but not failing on any individual step's error.
func (d *PipelineDriver) shutdown(shutdownTracing func(context.Context) error) error {
	if d.sched != nil {
		d.sched.Stop()
	}
	if d.health != nil {
		if err := d.health.Shutdown(); err != nil {
			log.WithError(err).Warn("health server shutdown failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		log.WithError(err).Warn("tracing shutdown failed")
	}

	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}
