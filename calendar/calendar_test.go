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

package calendar_test

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tickvault/collector/calendar"
	"github.com/tickvault/collector/pgxmockhelper"
)

func TestCalendar(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Calendar Suite")
}

var _ = Describe("Store.Load", func() {
	var (
		dbPool pgxmock.PgxConnIface
		store  *calendar.Store
		tz     *time.Location
	)

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())

		tz, err = time.LoadLocation("America/New_York")
		Expect(err).To(BeNil())

		store = calendar.NewStore(dbPool, tz)
	})

	It("maps an early close row and a fully-closed row with no open/close times", func() {
		rows, err := pgxmockhelper.RowsFromCSV("testdata/market_calendar.csv", map[string]string{
			"event_date": "date",
			"open_time":  "nullint",
			"close_time": "nullint",
			"description": "nullstring",
		})
		Expect(err).To(BeNil())

		dbPool.ExpectQuery("SELECT event_date, status, open_time, close_time, description").WillReturnRows(rows)

		from := time.Date(2022, 11, 1, 0, 0, 0, 0, tz)
		to := time.Date(2022, 12, 31, 0, 0, 0, 0, tz)
		entries, err := store.Load(context.Background(), from, to)
		Expect(err).To(BeNil())
		Expect(entries).To(HaveLen(2))

		thanksgiving := time.Date(2022, 11, 24, 0, 0, 0, 0, tz)
		entry, ok := entries[thanksgiving]
		Expect(ok).To(BeTrue())
		Expect(entry.Status).To(Equal(calendar.StatusEarlyClose))
		Expect(*entry.OpenTime).To(Equal(570))
		Expect(*entry.CloseTime).To(Equal(780))
		Expect(entry.Description).To(Equal("Day after Thanksgiving"))

		christmas := time.Date(2022, 12, 25, 0, 0, 0, 0, tz)
		closedEntry, ok := entries[christmas]
		Expect(ok).To(BeTrue())
		Expect(closedEntry.Status).To(Equal(calendar.StatusClosed))
		Expect(closedEntry.OpenTime).To(BeNil())
		Expect(closedEntry.CloseTime).To(BeNil())
		Expect(closedEntry.Description).To(Equal("Christmas Day"))

		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})
})
