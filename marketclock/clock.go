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

package marketclock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/tickvault/collector/calendar"
	"github.com/tickvault/collector/common"
)

// CalendarLoader is the subset of calendar.Store the clock needs, so tests can substitute a
// stub without a database.
type CalendarLoader interface {
	LoadCached(ctx context.Context, from, to time.Time) (map[time.Time]calendar.Entry, error)
}

// Clock classifies instants into MarketPhase values using a PhaseSchedule and an
// in-memory, preloaded calendar overlay.
type Clock struct {
	hours common.MarketHours
	tz    *time.Location
	store CalendarLoader

	mu       sync.RWMutex
	calendar map[time.Time]calendar.Entry
}

// New builds a Clock. store may be nil, in which case the clock always runs in degraded
// mode (no calendar overrides) — useful for unit tests of the pure phase arithmetic.
func New(hours common.MarketHours, tz *time.Location, store CalendarLoader) *Clock {
	return &Clock{
		hours:    hours,
		tz:       tz,
		store:    store,
		calendar: map[time.Time]calendar.Entry{},
	}
}

// PreloadCalendar populates the in-memory date→entry map from the store over [from, to].
// Failure to load is logged and ignored — the clock then behaves as if no entries existed
// (degraded mode). A zero from/to selects the default window: today through January 1 of
// next year.
func (c *Clock) PreloadCalendar(ctx context.Context, from, to time.Time) {
	if c.store == nil {
		return
	}

	now := time.Now().In(c.tz)
	if from.IsZero() {
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.tz)
	}
	if to.IsZero() {
		to = time.Date(now.Year()+1, time.January, 1, 0, 0, 0, 0, c.tz)
	}

	entries, err := c.store.LoadCached(ctx, from, to)
	if err != nil {
		log.Error().Err(err).Msg("could not preload market calendar, running in degraded mode")
		return
	}

	c.mu.Lock()
	c.calendar = entries
	c.mu.Unlock()
}

func (c *Clock) entryFor(d time.Time) (calendar.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.calendar[d]
	return e, ok
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func localDate(t time.Time, tz *time.Location) time.Time {
	t = t.In(tz)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tz)
}

// PhaseAt converts instant to ET, looks up any calendar override for its local date, and
// returns the single MarketPhase that holds. Per spec's ambiguous-instant policy, callers
// should supply zoned instants; a caller building one from a naive wall-clock string should
// attach time.UTC before calling, since In() is how that UTC assumption gets honored here.
func (c *Clock) PhaseAt(instant time.Time) Phase {
	local := instant.In(c.tz)
	d := localDate(local, c.tz)
	t := minutesOfDay(local)

	if entry, ok := c.entryFor(d); ok {
		switch entry.Status {
		case calendar.StatusClosed:
			return Closed
		case calendar.StatusEarlyClose:
			if entry.CloseTime == nil {
				// Open question resolved: a closeTime-less early_close falls through to
				// the ordinary weekday rules below.
				break
			}
			rc := *entry.CloseTime
			switch {
			case c.hours.PreOpen <= t && t < c.hours.RegOpen:
				return PreMarket
			case c.hours.RegOpen <= t && t < rc:
				return Regular
			default:
				return Closed
			}
		case calendar.StatusOpen:
			// no-op override, falls through to weekday/weekend rules
		}
	}

	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return Closed
	}

	switch {
	case c.hours.PreOpen <= t && t < c.hours.RegOpen:
		return PreMarket
	case c.hours.RegOpen <= t && t < c.hours.RegClose:
		return Regular
	case c.hours.AfOpen <= t && t < c.hours.AfClose:
		return AfterHours
	default:
		return Closed
	}
}

// IsOpen reports whether instant falls in a phase the caller considers "open".
// includeExtended=true accepts PreMarket/Regular/AfterHours; false accepts only Regular.
func (c *Clock) IsOpen(instant time.Time, includeExtended bool) bool {
	phase := c.PhaseAt(instant)
	if includeExtended {
		return phase == PreMarket || phase == Regular || phase == AfterHours
	}
	return phase == Regular
}

func (c *Clock) isClosedOverride(d time.Time) bool {
	entry, ok := c.entryFor(d)
	return ok && entry.Status == calendar.StatusClosed
}

// TimeUntilNextOpen returns the duration from now until the next PreMarket open, skipping
// weekends and calendar-closed days. Early-close days still count as a valid "next open"
// day.
func (c *Clock) TimeUntilNextOpen() time.Duration {
	return c.TimeUntilNextOpenFrom(time.Now())
}

// TimeUntilNextOpenFrom is TimeUntilNextOpen with the current instant supplied explicitly,
// so scheduling decisions can be tested without depending on wall-clock time.
func (c *Clock) TimeUntilNextOpenFrom(instant time.Time) time.Duration {
	now := instant.In(c.tz)
	today := localDate(now, c.tz)
	todayPreOpen := today.Add(time.Duration(c.hours.PreOpen) * time.Minute)

	if now.Before(todayPreOpen) && today.Weekday() != time.Saturday && today.Weekday() != time.Sunday && !c.isClosedOverride(today) {
		return todayPreOpen.Sub(now)
	}

	d := today
	for i := 0; i < 3660; i++ { // generous bound; a year has < 366 closed days in a row
		d = d.AddDate(0, 0, 1)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if c.isClosedOverride(d) {
			continue
		}
		break
	}

	nextPreOpen := d.Add(time.Duration(c.hours.PreOpen) * time.Minute)
	return nextPreOpen.Sub(now)
}

// Describe renders the configured phase schedule as cron-like strings for diagnostics; no
// command or log line in this module calls it. Scheduling decisions always go through
// PhaseAt/TimeUntilNextOpen, never through this parsed representation.
func (c *Clock) Describe() []string {
	specParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	describe := func(label string, minutes int) string {
		spec := fmt.Sprintf("%d %d * * 1-5", minutes%60, minutes/60)
		if _, err := specParser.Parse(spec); err != nil {
			return fmt.Sprintf("%s: invalid(%s)", label, spec)
		}
		return fmt.Sprintf("%s: %s", label, spec)
	}
	return []string{
		describe("pre-market open", c.hours.PreOpen),
		describe("regular open", c.hours.RegOpen),
		describe("regular close", c.hours.RegClose),
		describe("after-hours close", c.hours.AfClose),
	}
}
