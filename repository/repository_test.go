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

package repository_test

import (
	"context"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/pashagolub/pgxmock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tickvault/collector/repository"
)

func TestRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Repository Suite")
}

var _ = Describe("Repository", func() {
	var (
		dbPool pgxmock.PgxConnIface
		repo   *repository.Repository
		err    error
	)

	BeforeEach(func() {
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		repo = repository.New()
	})

	Describe("mapping (invariant 9)", func() {
		It("drops records lacking sip_timestamp and maps the rest", func() {
			dbPool.ExpectExec("INSERT INTO trades").WillReturnResult(pgconn.CommandTag("INSERT 0 1"))

			records := []map[string]interface{}{
				{"id": "t1", "sip_timestamp": 1_700_000_000_123_456_789.0, "price": 190.12, "size": 10.0},
				{"id": "t2", "price": 9.99, "size": 1.0}, // no sip_timestamp, must be dropped
			}

			n, err := repo.SaveTrades(context.Background(), dbPool, "AAPL", records)
			Expect(err).To(BeNil())
			Expect(n).To(Equal(int64(1)))
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})

	Describe("conflict-ignore insert", func() {
		It("issues one ON CONFLICT ... DO NOTHING statement per trade row, in one batch", func() {
			dbPool.ExpectExec("ON CONFLICT ON CONSTRAINT uq_trades_unique_trade DO NOTHING").
				WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
			dbPool.ExpectExec("ON CONFLICT ON CONSTRAINT uq_trades_unique_trade DO NOTHING").
				WillReturnResult(pgconn.CommandTag("INSERT 0 0")) // second call: already present, no-op

			records := []map[string]interface{}{
				{"id": "t1", "sip_timestamp": 1_700_000_000_000_000_000.0, "price": 1.0, "size": 1.0},
				{"id": "t2", "sip_timestamp": 1_700_000_001_000_000_000.0, "price": 2.0, "size": 2.0},
			}

			_, err := repo.SaveTrades(context.Background(), dbPool, "AAPL", records)
			Expect(err).To(BeNil())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("issues one ON CONFLICT ... DO NOTHING statement per quote row, keyed on sequence_number", func() {
			dbPool.ExpectExec("ON CONFLICT ON CONSTRAINT uq_quotes_unique_quote DO NOTHING").
				WillReturnResult(pgconn.CommandTag("INSERT 0 1"))

			records := []map[string]interface{}{
				{"sip_timestamp": 1_700_000_000_000_000_000.0, "bid_price": 1.0, "ask_price": 1.01, "sequence_number": 7.0},
			}

			_, err := repo.SaveQuotes(context.Background(), dbPool, "AAPL", records)
			Expect(err).To(BeNil())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})

	Describe("empty batch", func() {
		It("is a no-op that issues no statements", func() {
			n, err := repo.SaveTrades(context.Background(), dbPool, "AAPL", nil)
			Expect(err).To(BeNil())
			Expect(n).To(Equal(int64(0)))
		})
	})
})
