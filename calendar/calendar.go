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

// Package calendar provides read-only access to the persisted market_calendar table: the
// special-day records (holidays, early closes) that MarketClock overlays on top of the
// ordinary weekday/weekend rules.
package calendar

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"

	"github.com/tickvault/collector/common"
)

// Status is the trading-day status recorded for a calendar entry.
type Status string

const (
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusEarlyClose Status = "early_close"
)

// Entry is one row of the market_calendar table, keyed externally by Date.
type Entry struct {
	Date        time.Time `json:"date"`
	Status      Status    `json:"status"`
	OpenTime    *int      `json:"open_time,omitempty"`  // minutes since local midnight
	CloseTime   *int      `json:"close_time,omitempty"` // minutes since local midnight
	Description string    `json:"description,omitempty"`
}

// Querier is the subset of a pgx connection/transaction CalendarStore needs. It is
// satisfied by *pgxpool.Pool, pgx.Tx, and pgxmock's mocked connection in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Store reads CalendarEntry rows out of the market_calendar table.
type Store struct {
	db Querier
	tz *time.Location
}

// NewStore builds a CalendarStore bound to db (a pool, or a scoped transaction) and tz (the
// market timezone, used to normalize the stored date column to local midnight).
func NewStore(db Querier, tz *time.Location) *Store {
	return &Store{db: db, tz: tz}
}

// Load returns every calendar entry in [from, to], inclusive, keyed by local date at
// midnight. It never returns a partially-populated map on error — either a full map or an
// error.
func (s *Store) Load(ctx context.Context, from, to time.Time) (map[time.Time]Entry, error) {
	const q = `SELECT event_date, status, open_time, close_time, description
	           FROM market_calendar
	           WHERE event_date BETWEEN $1 AND $2
	           ORDER BY event_date ASC`

	rows, err := s.db.Query(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[time.Time]Entry)
	for rows.Next() {
		var e Entry
		var status string
		var openTime, closeTime *int
		var description *string
		var eventDate time.Time

		if err := rows.Scan(&eventDate, &status, &openTime, &closeTime, &description); err != nil {
			return nil, err
		}

		e.Date = time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day(), 0, 0, 0, 0, s.tz)
		e.Status = Status(status)
		e.OpenTime = openTime
		e.CloseTime = closeTime
		if description != nil {
			e.Description = *description
		}

		out[e.Date] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Debug().Int("entries", len(out)).Time("from", from).Time("to", to).Msg("loaded market calendar")
	return out, nil
}

// Marshal/Unmarshal exist so the calendar preload path can round-trip a loaded map through
// the lz4-compressed two-tier cache in common.CacheSet/CacheGet.

func Marshal(entries map[time.Time]Entry) ([]byte, error) {
	list := make([]Entry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	return json.Marshal(list)
}

func Unmarshal(data []byte) (map[time.Time]Entry, error) {
	var list []Entry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	out := make(map[time.Time]Entry, len(list))
	for _, e := range list {
		out[e.Date] = e
	}
	return out, nil
}

// LoadCached is Load fronted by the process two-tier cache (common.CacheGet/CacheSet),
// keyed on the requested window. A cache miss or decode failure falls through to a direct
// Load and repopulates the cache; it never surfaces a cache-tier error to the caller.
func (s *Store) LoadCached(ctx context.Context, from, to time.Time) (map[time.Time]Entry, error) {
	key := cacheKey(s.tz, from, to)

	if raw, ok := common.CacheGet(key); ok {
		if plain, err := common.Decompress(raw); err == nil {
			if entries, err := Unmarshal(plain); err == nil {
				// Re-key on local midnight in s.tz, as Load does; decoded dates carry a fixed
				// offset zone, which would never equal a lookup key built in s.tz.
				rekeyed := make(map[time.Time]Entry, len(entries))
				for _, e := range entries {
					e.Date = time.Date(e.Date.Year(), e.Date.Month(), e.Date.Day(), 0, 0, 0, 0, s.tz)
					rekeyed[e.Date] = e
				}
				log.Debug().Str("key", key).Msg("calendar cache hit")
				return rekeyed, nil
			}
		}
	}

	entries, err := s.Load(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if plain, err := Marshal(entries); err == nil {
		if compressed, err := common.Compress(plain); err == nil {
			if err := common.CacheSet(key, compressed); err != nil {
				log.Debug().Err(err).Str("key", key).Msg("could not populate calendar cache")
			}
		}
	}

	return entries, nil
}

func cacheKey(tz *time.Location, from, to time.Time) string {
	return "calendar:" + tz.String() + ":" + from.Format("2006-01-02") + ":" + to.Format("2006-01-02")
}
