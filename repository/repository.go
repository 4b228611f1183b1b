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

// Package repository maps Massive's wire-form trade/quote records onto the tickvault
// schema and performs conflict-ignoring batch inserts within a caller-supplied
// transactional scope.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	log "github.com/sirupsen/logrus"
)

// Tx is the subset of a pgx transaction the Repository needs. Satisfied by pgx.Tx and by
// pgxmock's mocked connection/tx in tests.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriteError wraps any failure encountered while building or flushing a batch insert. The
// Repository does not roll back; the caller that owns the transaction rolls it back.
type WriteError struct {
	Table string
	Err   error
}

func (e *WriteError) Error() string { return fmt.Sprintf("repository: write to %s failed: %v", e.Table, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Repository performs the field mapping and bulk insert described in the mapping/insert
// rules: missing sip_timestamp drops the record, the ticker is always caller-supplied
// (never trusted from the payload), and ON CONFLICT ... DO NOTHING makes reinsertion of a
// previously seen record a no-op.
type Repository struct{}

// New builds a Repository. It holds no state: every call takes its db scope explicitly so a
// fresh scope can be acquired per ticker per spec's "session per ticker" pattern.
func New() *Repository {
	return &Repository{}
}

// nanosToUTC converts a nanosecond Unix epoch timestamp into a UTC instant, retaining
// sub-second precision (invariant 9).
func nanosToUTC(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// tradeRow is one mapped row destined for the trades table.
type tradeRow struct {
	Time            time.Time
	Ticker          string
	VendorTradeID   *string
	Price           *float64
	Size            *float64
	Exchange        *int64
	Conditions      []int64
	Correction      *int64
	Tape            *int64
	TrfID           *int64
	TrfTimestamp    *time.Time
	ParticipantTime *time.Time
	SequenceNumber  *int64
}

// quoteRow is one mapped row destined for the quotes table.
type quoteRow struct {
	Time            time.Time
	Ticker          string
	BidPrice        *float64
	BidSize         *float64
	BidExchange     *int64
	AskPrice        *float64
	AskSize         *float64
	AskExchange     *int64
	Conditions      []int64
	Indicators      []int64
	ParticipantTime *time.Time
	SequenceNumber  *int64
	Tape            *int64
}

func intSlice(v interface{}) []int64 {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(arr))
	for _, item := range arr {
		if n, ok := asInt64(item); ok {
			out = append(out, n)
		}
	}
	return out
}

// mapTrade converts one wire-form trade record into a tradeRow. It returns ok=false when
// sip_timestamp is absent, per the mapping rule that such records are silently dropped.
func mapTrade(ticker string, record map[string]interface{}) (tradeRow, bool) {
	ts, ok := asInt64(record["sip_timestamp"])
	if !ok {
		return tradeRow{}, false
	}

	row := tradeRow{
		Time:       nanosToUTC(ts),
		Ticker:     ticker,
		Conditions: intSlice(record["conditions"]),
	}

	if id, ok := asString(record["id"]); ok {
		row.VendorTradeID = &id
	} else if id, ok := asInt64(record["id"]); ok {
		s := fmt.Sprintf("%d", id)
		row.VendorTradeID = &s
	}
	if v, ok := asFloat64(record["price"]); ok {
		row.Price = &v
	}
	if v, ok := asFloat64(record["size"]); ok {
		row.Size = &v
	}
	if v, ok := asInt64(record["exchange"]); ok {
		row.Exchange = &v
	}
	if v, ok := asInt64(record["correction"]); ok {
		row.Correction = &v
	}
	if v, ok := asInt64(record["tape"]); ok {
		row.Tape = &v
	}
	if v, ok := asInt64(record["trf_id"]); ok {
		row.TrfID = &v
	}
	if v, ok := asInt64(record["trf_timestamp"]); ok {
		t := nanosToUTC(v)
		row.TrfTimestamp = &t
	}
	if v, ok := asInt64(record["participant_timestamp"]); ok {
		t := nanosToUTC(v)
		row.ParticipantTime = &t
	}
	if v, ok := asInt64(record["sequence_number"]); ok {
		row.SequenceNumber = &v
	}

	return row, true
}

// mapQuote is mapTrade's analogue for NBBO quote records.
func mapQuote(ticker string, record map[string]interface{}) (quoteRow, bool) {
	ts, ok := asInt64(record["sip_timestamp"])
	if !ok {
		return quoteRow{}, false
	}

	row := quoteRow{
		Time:       nanosToUTC(ts),
		Ticker:     ticker,
		Conditions: intSlice(record["conditions"]),
		Indicators: intSlice(record["indicators"]),
	}

	if v, ok := asFloat64(record["bid_price"]); ok {
		row.BidPrice = &v
	}
	if v, ok := asFloat64(record["bid_size"]); ok {
		row.BidSize = &v
	}
	if v, ok := asInt64(record["bid_exchange"]); ok {
		row.BidExchange = &v
	}
	if v, ok := asFloat64(record["ask_price"]); ok {
		row.AskPrice = &v
	}
	if v, ok := asFloat64(record["ask_size"]); ok {
		row.AskSize = &v
	}
	if v, ok := asInt64(record["ask_exchange"]); ok {
		row.AskExchange = &v
	}
	if v, ok := asInt64(record["tape"]); ok {
		row.Tape = &v
	}
	if v, ok := asInt64(record["participant_timestamp"]); ok {
		t := nanosToUTC(v)
		row.ParticipantTime = &t
	}
	if v, ok := asInt64(record["sequence_number"]); ok {
		row.SequenceNumber = &v
	}

	return row, true
}

const insertTradeSQL = `INSERT INTO trades
	(time, ticker, vendor_trade_id, price, size, exchange, conditions, correction, tape,
	 trf_id, trf_timestamp, participant_timestamp, sequence_number)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT ON CONSTRAINT uq_trades_unique_trade DO NOTHING`

const insertQuoteSQL = `INSERT INTO quotes
	(time, ticker, bid_price, bid_size, bid_exchange, ask_price, ask_size, ask_exchange,
	 conditions, indicators, participant_timestamp, sequence_number, tape)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT ON CONSTRAINT uq_quotes_unique_quote DO NOTHING`

// SaveTrades maps records to rows tagged with ticker and flushes them as one batch insert
// within tx. Records lacking sip_timestamp are dropped before the batch is built. The
// returned count is the store's affected-row total and is metrics-only per spec — callers
// must not assert an exact value against it, since conflict-ignore rowcounts are
// store-dependent.
func (r *Repository) SaveTrades(ctx context.Context, tx Tx, ticker string, records []map[string]interface{}) (int64, error) {
	batch := &pgx.Batch{}
	queued := 0
	for _, rec := range records {
		row, ok := mapTrade(ticker, rec)
		if !ok {
			continue
		}
		batch.Queue(insertTradeSQL,
			row.Time, row.Ticker, row.VendorTradeID, row.Price, row.Size, row.Exchange,
			row.Conditions, row.Correction, row.Tape, row.TrfID, row.TrfTimestamp,
			row.ParticipantTime, row.SequenceNumber)
		queued++
	}
	return r.flush(ctx, tx, "trades", batch, queued)
}

// SaveQuotes is SaveTrades's analogue for quote records, uniquely identified by
// (time, ticker, sequence_number).
func (r *Repository) SaveQuotes(ctx context.Context, tx Tx, ticker string, records []map[string]interface{}) (int64, error) {
	batch := &pgx.Batch{}
	queued := 0
	for _, rec := range records {
		row, ok := mapQuote(ticker, rec)
		if !ok {
			continue
		}
		batch.Queue(insertQuoteSQL,
			row.Time, row.Ticker, row.BidPrice, row.BidSize, row.BidExchange, row.AskPrice,
			row.AskSize, row.AskExchange, row.Conditions, row.Indicators, row.ParticipantTime,
			row.SequenceNumber, row.Tape)
		queued++
	}
	return r.flush(ctx, tx, "quotes", batch, queued)
}

// flush sends batch as a single round trip and consumes every queued result in order, as
// pgx.BatchResults requires. Any failure is logged and re-raised as a *WriteError; flush does
// not roll back, since the caller owns tx's rollback.
func (r *Repository) flush(ctx context.Context, tx Tx, table string, batch *pgx.Batch, queued int) (int64, error) {
	if queued == 0 {
		return 0, nil
	}

	br := tx.SendBatch(ctx, batch)
	var total int64
	for i := 0; i < queued; i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			log.WithField("table", table).WithError(err).Error("batch insert failed")
			return 0, &WriteError{Table: table, Err: err}
		}
		total += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		log.WithField("table", table).WithError(err).Error("batch close failed")
		return 0, &WriteError{Table: table, Err: err}
	}

	return total, nil
}

// Bootstrap issues the idempotent CREATE TABLE IF NOT EXISTS DDL for the three base tables
// and adds their named uniqueness constraints (wrapped so a rerun against an already
// bootstrapped database is a no-op, since Postgres has no ADD CONSTRAINT IF NOT EXISTS).
// The insert statements reference these constraints by name via ON CONFLICT ON CONSTRAINT,
// which requires a real pg_constraint entry, not just an index. Bootstrap never calls
// TimescaleDB's create_hypertable or configures partitioning/retention, which stays an
// out-of-band operator concern.
func Bootstrap(ctx context.Context, tx Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			time TIMESTAMPTZ NOT NULL,
			ticker TEXT NOT NULL,
			vendor_trade_id TEXT,
			price DOUBLE PRECISION,
			size DOUBLE PRECISION,
			exchange BIGINT,
			conditions BIGINT[],
			correction BIGINT,
			tape BIGINT,
			trf_id BIGINT,
			trf_timestamp TIMESTAMPTZ,
			participant_timestamp TIMESTAMPTZ,
			sequence_number BIGINT
		)`,
		`DO $$ BEGIN
			ALTER TABLE trades ADD CONSTRAINT uq_trades_unique_trade UNIQUE (time, ticker, vendor_trade_id);
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$`,
		`CREATE TABLE IF NOT EXISTS quotes (
			time TIMESTAMPTZ NOT NULL,
			ticker TEXT NOT NULL,
			bid_price DOUBLE PRECISION,
			bid_size DOUBLE PRECISION,
			bid_exchange BIGINT,
			ask_price DOUBLE PRECISION,
			ask_size DOUBLE PRECISION,
			ask_exchange BIGINT,
			conditions BIGINT[],
			indicators BIGINT[],
			participant_timestamp TIMESTAMPTZ,
			sequence_number BIGINT,
			tape BIGINT
		)`,
		`DO $$ BEGIN
			ALTER TABLE quotes ADD CONSTRAINT uq_quotes_unique_quote UNIQUE (time, ticker, sequence_number);
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$`,
		`CREATE TABLE IF NOT EXISTS market_calendar (
			event_date DATE PRIMARY KEY,
			status TEXT NOT NULL,
			open_time INT,
			close_time INT,
			description TEXT
		)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("repository: bootstrap DDL failed: %w", err)
		}
	}
	return nil
}
