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

package marketclock_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tickvault/collector/calendar"
	"github.com/tickvault/collector/common"
	"github.com/tickvault/collector/marketclock"
)

// stubLoader returns a fixed calendar map regardless of the requested window.
type stubLoader struct {
	entries map[time.Time]calendar.Entry
	err     error
}

func (s *stubLoader) LoadCached(_ context.Context, _, _ time.Time) (map[time.Time]calendar.Entry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.entries, nil
}

var regularHours = common.MarketHours{
	PreOpen:  4 * 60,
	PreClose: 9*60 + 30,
	RegOpen:  9*60 + 30,
	RegClose: 16 * 60,
	AfOpen:   16 * 60,
	AfClose:  20 * 60,
}

func et(y int, m time.Month, d, hh, mm int, tz *time.Location) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, tz)
}

var _ = Describe("Clock", func() {
	tz := common.GetTimezone()

	Describe("PhaseAt", func() {
		clock := marketclock.New(regularHours, tz, &stubLoader{entries: map[time.Time]calendar.Entry{}})

		// 2024-01-10 is a Wednesday.
		It("classifies every half-open interval on an ordinary weekday (invariant 1)", func() {
			Expect(clock.PhaseAt(et(2024, 1, 10, 3, 59, tz))).To(Equal(marketclock.Closed))
			Expect(clock.PhaseAt(et(2024, 1, 10, 4, 0, tz))).To(Equal(marketclock.PreMarket))
			Expect(clock.PhaseAt(et(2024, 1, 10, 9, 29, tz))).To(Equal(marketclock.PreMarket))
			Expect(clock.PhaseAt(et(2024, 1, 10, 9, 30, tz))).To(Equal(marketclock.Regular))
			Expect(clock.PhaseAt(et(2024, 1, 10, 15, 59, tz))).To(Equal(marketclock.Regular))
			Expect(clock.PhaseAt(et(2024, 1, 10, 16, 0, tz))).To(Equal(marketclock.AfterHours))
			Expect(clock.PhaseAt(et(2024, 1, 10, 19, 59, tz))).To(Equal(marketclock.AfterHours))
			Expect(clock.PhaseAt(et(2024, 1, 10, 20, 0, tz))).To(Equal(marketclock.Closed))
			Expect(clock.PhaseAt(et(2024, 1, 10, 23, 0, tz))).To(Equal(marketclock.Closed))
		})

		It("treats any weekend day as fully closed with no override (invariant 4)", func() {
			// 2024-01-13 is a Saturday, 2024-01-14 a Sunday.
			for _, hh := range []int{0, 9, 12, 16, 23} {
				Expect(clock.PhaseAt(et(2024, 1, 13, hh, 0, tz))).To(Equal(marketclock.Closed))
				Expect(clock.PhaseAt(et(2024, 1, 14, hh, 0, tz))).To(Equal(marketclock.Closed))
			}
		})
	})

	Describe("calendar override", func() {
		It("forces Closed all day when status=closed (invariant 2)", func() {
			d := et(2024, 7, 4, 0, 0, tz)
			loader := &stubLoader{entries: map[time.Time]calendar.Entry{
				d: {Date: d, Status: calendar.StatusClosed},
			}}
			clock := marketclock.New(regularHours, tz, loader)
			clock.PreloadCalendar(context.Background(), time.Time{}, time.Time{})

			Expect(clock.PhaseAt(et(2024, 7, 4, 10, 0, tz))).To(Equal(marketclock.Closed))
			Expect(clock.PhaseAt(et(2024, 7, 4, 17, 0, tz))).To(Equal(marketclock.Closed))
		})

		It("shortens the regular session and drops after-hours on early_close (invariant 3)", func() {
			d := et(2024, 11, 29, 0, 0, tz)
			closeAt := 13 * 60 // 13:00
			loader := &stubLoader{entries: map[time.Time]calendar.Entry{
				d: {Date: d, Status: calendar.StatusEarlyClose, CloseTime: &closeAt},
			}}
			clock := marketclock.New(regularHours, tz, loader)
			clock.PreloadCalendar(context.Background(), time.Time{}, time.Time{})

			Expect(clock.PhaseAt(et(2024, 11, 29, 9, 0, tz))).To(Equal(marketclock.PreMarket))
			Expect(clock.PhaseAt(et(2024, 11, 29, 12, 59, tz))).To(Equal(marketclock.Regular))
			Expect(clock.PhaseAt(et(2024, 11, 29, 13, 0, tz))).To(Equal(marketclock.Closed))
			Expect(clock.PhaseAt(et(2024, 11, 29, 17, 0, tz))).To(Equal(marketclock.Closed))
		})

		It("falls through to ordinary weekday rules when early_close has no closeTime", func() {
			d := et(2024, 11, 29, 0, 0, tz)
			loader := &stubLoader{entries: map[time.Time]calendar.Entry{
				d: {Date: d, Status: calendar.StatusEarlyClose, CloseTime: nil},
			}}
			clock := marketclock.New(regularHours, tz, loader)
			clock.PreloadCalendar(context.Background(), time.Time{}, time.Time{})

			Expect(clock.PhaseAt(et(2024, 11, 29, 17, 0, tz))).To(Equal(marketclock.AfterHours))
		})

		It("treats status=open as a no-op", func() {
			d := et(2024, 1, 10, 0, 0, tz)
			loader := &stubLoader{entries: map[time.Time]calendar.Entry{
				d: {Date: d, Status: calendar.StatusOpen},
			}}
			clock := marketclock.New(regularHours, tz, loader)
			clock.PreloadCalendar(context.Background(), time.Time{}, time.Time{})

			Expect(clock.PhaseAt(et(2024, 1, 10, 10, 0, tz))).To(Equal(marketclock.Regular))
		})
	})

	Describe("TimeUntilNextOpenFrom", func() {
		It("skips a closed Monday and lands on Tuesday's pre-open (invariant 10)", func() {
			monday := et(2024, 1, 15, 0, 0, tz)
			loader := &stubLoader{entries: map[time.Time]calendar.Entry{
				monday: {Date: monday, Status: calendar.StatusClosed},
			}}
			clock := marketclock.New(regularHours, tz, loader)
			clock.PreloadCalendar(context.Background(), time.Time{}, time.Time{})

			now := et(2024, 1, 12, 21, 0, tz) // Friday 21:00 ET
			until := clock.TimeUntilNextOpenFrom(now)
			expected := et(2024, 1, 16, 4, 0, tz) // Tuesday pre-open
			Expect(now.Add(until)).To(Equal(expected))
		})

		It("lands on July 5th's pre-open when July 4th is a calendar holiday (S6)", func() {
			holiday := et(2024, 7, 4, 0, 0, tz)
			loader := &stubLoader{entries: map[time.Time]calendar.Entry{
				holiday: {Date: holiday, Status: calendar.StatusClosed},
			}}
			clock := marketclock.New(regularHours, tz, loader)
			clock.PreloadCalendar(context.Background(), time.Time{}, time.Time{})

			for _, hh := range []int{0, 9, 15, 23} {
				now := et(2024, 7, 4, hh, 0, tz)
				Expect(clock.PhaseAt(now)).To(Equal(marketclock.Closed))
				until := clock.TimeUntilNextOpenFrom(now)
				expected := et(2024, 7, 5, 4, 0, tz)
				Expect(now.Add(until)).To(Equal(expected))
			}
		})
	})

	Describe("PreloadCalendar degraded mode", func() {
		It("logs and continues with no entries when the loader errors", func() {
			loader := &stubLoader{err: context.DeadlineExceeded}
			clock := marketclock.New(regularHours, tz, loader)
			clock.PreloadCalendar(context.Background(), time.Time{}, time.Time{})
			Expect(clock.PhaseAt(et(2024, 1, 10, 10, 0, tz))).To(Equal(marketclock.Regular))
		})
	})
})
