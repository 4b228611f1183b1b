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

// Package collector runs one cycle over the ticker universe: for every symbol it fetches
// today's trades and quotes from the vendor and writes them idempotently to the store. A
// failed ticker is logged and skipped; it never prevents the rest of the cycle from running.
package collector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tickvault/collector/common"
	"github.com/tickvault/collector/marketclock"
	"github.com/tickvault/collector/massive"
	"github.com/tickvault/collector/repository"
)

var tracer = otel.Tracer("github.com/tickvault/collector/collector")

// perTickerCap bounds how many trade (or quote) records collectTicker buffers before it
// stops consuming further pages, per spec's per-ticker cap.
const perTickerCap = 2000

// Clock is the subset of marketclock.Clock the collector needs to decide whether to run.
type Clock interface {
	IsOpen(instant time.Time, includeExtended bool) bool
	PhaseAt(instant time.Time) marketclock.Phase
}

// MassiveClient is the subset of massive.Client the collector drives. A single instance is
// built per cycle and closed when the cycle finishes.
type MassiveClient interface {
	ListTrades(ctx context.Context, ticker string, params massive.ListParams, yield func(map[string]interface{}) error) error
	ListQuotes(ctx context.Context, ticker string, params massive.ListParams, yield func(map[string]interface{}) error) error
	Close()
}

// Pool is the subset of a pgxpool.Pool the collector needs to acquire one scoped
// transaction per ticker per resource.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repo is the subset of repository.Repository the collector writes through.
type Repo interface {
	SaveTrades(ctx context.Context, tx repository.Tx, ticker string, records []map[string]interface{}) (int64, error)
	SaveQuotes(ctx context.Context, tx repository.Tx, ticker string, records []map[string]interface{}) (int64, error)
}

// CycleStat is an in-memory, non-persisted record of one finished cycle's outcome. It backs
// the status CLI command and the health endpoint; it is never used for analytics on the
// collected ticks themselves.
type CycleStat struct {
	RunID            string
	StartedAt        time.Time
	Duration         time.Duration
	TickersProcessed int
	TickersFailed    int
	TradesWritten    int64
	QuotesWritten    int64
	Skipped          bool
}

const historyCap = 50

// Collector runs cycles over a ticker universe, writing through repo and acquiring one
// fresh transactional scope per ticker per resource via pool.
type Collector struct {
	clock      Clock
	hours      common.MarketHours
	tz         *time.Location
	pool       Pool
	repo       Repo
	newClient  func() MassiveClient
	tickers    []string

	history []CycleStat
}

// New builds a Collector. newClient is invoked once per cycle to build a scoped
// massive.Client; it is closed when the cycle finishes.
func New(clock Clock, hours common.MarketHours, tz *time.Location, pool Pool, repo Repo, newClient func() MassiveClient, tickers []string) *Collector {
	return &Collector{
		clock:     clock,
		hours:     hours,
		tz:        tz,
		pool:      pool,
		repo:      repo,
		newClient: newClient,
		tickers:   tickers,
	}
}

// ShouldRun reports whether a cycle should execute at instant: either the market is open
// (including pre-market/after-hours), or we're in the 15-minute grace window following a
// weekday's after-hours close, which exists to catch late-reported trades.
func (c *Collector) ShouldRun(instant time.Time) bool {
	if c.clock.IsOpen(instant, true) {
		return true
	}
	return c.inGraceWindow(instant)
}

func (c *Collector) inGraceWindow(instant time.Time) bool {
	local := instant.In(c.tz)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	if c.clock.PhaseAt(instant) != marketclock.Closed {
		return false
	}
	minuteOfDay := local.Hour()*60 + local.Minute()
	graceEnd := c.hours.AfClose + marketclock.GraceWindowMinutes
	return c.hours.AfClose <= minuteOfDay && minuteOfDay < graceEnd
}

// RunCycle runs ShouldRun(now); if true, it builds one client, iterates tickers in order
// calling collectTicker, then closes the client. The outcome is appended to the bounded
// in-memory history regardless of whether the cycle ran.
func (c *Collector) RunCycle(ctx context.Context) CycleStat {
	now := time.Now()
	runID := uuid.NewString()
	started := time.Now()

	if !c.ShouldRun(now) {
		log.WithField("run_id", runID).Info("skipping cycle: market closed and outside grace window")
		stat := CycleStat{RunID: runID, StartedAt: started, Skipped: true}
		c.appendHistory(stat)
		return stat
	}

	ctx, span := tracer.Start(ctx, "collector.run_cycle")
	span.SetAttributes(attribute.String("run_id", runID))
	defer span.End()

	client := c.newClient()
	defer client.Close()

	stat := CycleStat{RunID: runID, StartedAt: started}
	for _, ticker := range c.tickers {
		trades, quotes, err := c.collectTicker(ctx, client, ticker)
		if err != nil {
			stat.TickersFailed++
			log.WithField("run_id", runID).WithField("ticker", ticker).WithError(err).Error("ticker collection failed")
			continue
		}
		stat.TickersProcessed++
		stat.TradesWritten += trades
		stat.QuotesWritten += quotes
	}
	stat.Duration = time.Since(started)

	log.WithField("run_id", runID).
		WithField("duration", stat.Duration).
		WithField("tickers_processed", stat.TickersProcessed).
		WithField("tickers_failed", stat.TickersFailed).
		Info("cycle complete")

	c.appendHistory(stat)
	return stat
}

// collectTicker fetches today's trades then quotes for ticker, each capped at perTickerCap
// records, and writes each non-empty buffer in its own transactional scope. Any error from
// any step is returned to the caller, which logs it and moves on to the next ticker — a
// failed ticker never aborts the cycle.
func (c *Collector) collectTicker(ctx context.Context, client MassiveClient, ticker string) (tradesWritten, quotesWritten int64, err error) {
	ctx, span := tracer.Start(ctx, "collector.collect_ticker")
	span.SetAttributes(attribute.String("ticker", ticker))
	defer span.End()

	today := time.Now().In(c.tz)

	tradeRecords, err := fetchBounded(ctx, func(yield func(map[string]interface{}) error) error {
		return client.ListTrades(ctx, ticker, massive.ListParams{Date: today, Order: "desc"}, yield)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, 0, err
	}

	if len(tradeRecords) > 0 {
		tradesWritten, err = c.saveInScope(ctx, func(tx repository.Tx) (int64, error) {
			return c.repo.SaveTrades(ctx, tx, ticker, tradeRecords)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, 0, err
		}
	}

	quoteRecords, err := fetchBounded(ctx, func(yield func(map[string]interface{}) error) error {
		return client.ListQuotes(ctx, ticker, massive.ListParams{Date: today, Order: "desc"}, yield)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return tradesWritten, 0, err
	}

	if len(quoteRecords) > 0 {
		quotesWritten, err = c.saveInScope(ctx, func(tx repository.Tx) (int64, error) {
			return c.repo.SaveQuotes(ctx, tx, ticker, quoteRecords)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return tradesWritten, 0, err
		}
	}

	return tradesWritten, quotesWritten, nil
}

// fetchBounded drains a paginated resource into a buffer until either the sequence ends or
// the buffer reaches perTickerCap, at which point it stops consuming further pages by
// returning massive.ErrStopIteration from the yield callback.
func fetchBounded(ctx context.Context, list func(yield func(map[string]interface{}) error) error) ([]map[string]interface{}, error) {
	buf := make([]map[string]interface{}, 0, perTickerCap)
	err := list(func(record map[string]interface{}) error {
		buf = append(buf, record)
		if len(buf) >= perTickerCap {
			return massive.ErrStopIteration
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// saveInScope acquires a fresh transaction, runs fn, and commits on success or rolls back
// and re-raises on any error — the scoped-session pattern applied per ticker per resource.
func (c *Collector) saveInScope(ctx context.Context, fn func(tx repository.Tx) (int64, error)) (int64, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}

	n, err := fn(tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Collector) appendHistory(stat CycleStat) {
	c.history = append(c.history, stat)
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}
}

// History returns a copy of the bounded in-memory cycle history, most recent last.
func (c *Collector) History() []CycleStat {
	out := make([]CycleStat, len(c.history))
	copy(out, c.history)
	return out
}
