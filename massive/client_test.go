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

package massive

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMassive(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Massive Client Suite")
}

var errConnRefused = errors.New("connection refused")

var _ = Describe("Client", func() {
	var client *Client

	BeforeEach(func() {
		client = New("https://api.massive.test", "test-key")
		httpmock.ActivateNonDefault(client.http)
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
	})

	Describe("pagination termination (invariant 7)", func() {
		It("yields zero items and performs exactly one GET when results is empty with no next_url", func() {
			calls := 0
			httpmock.RegisterResponder("GET", "https://api.massive.test/trades/AAPL",
				func(req *http.Request) (*http.Response, error) {
					calls++
					return httpmock.NewJsonResponse(200, map[string]interface{}{"results": []interface{}{}})
				})

			items := 0
			err := client.Paginate(context.Background(), "/trades/AAPL", url.Values{}, func(record map[string]interface{}) error {
				items++
				return nil
			})

			Expect(err).To(BeNil())
			Expect(items).To(Equal(0))
			Expect(calls).To(Equal(1))
		})
	})

	Describe("retry termination (invariant 8)", func() {
		It("performs exactly 3 attempts and then propagates a network error", func() {
			attempts := 0
			httpmock.RegisterResponder("GET", "https://api.massive.test/trades/AAPL",
				func(req *http.Request) (*http.Response, error) {
					attempts++
					return nil, errConnRefused
				})

			_, err := client.get(context.Background(), "/trades/AAPL", url.Values{})

			Expect(err).ToNot(BeNil())
			Expect(attempts).To(Equal(3))
		})
	})

	Describe("retry then success (S5)", func() {
		It("recovers from one 503 and follows one absolute next_url", func() {
			calls := 0
			httpmock.RegisterResponder("GET", "https://api.massive.test/trades/AAPL",
				func(req *http.Request) (*http.Response, error) {
					calls++
					if calls == 1 {
						return httpmock.NewStringResponse(503, "service unavailable"), nil
					}
					return httpmock.NewJsonResponse(200, map[string]interface{}{
						"results":  []interface{}{map[string]interface{}{"id": "t1", "sip_timestamp": 1700000000000000000.0}},
						"next_url": "https://api.massive.test/trades/AAPL?cursor=2",
					})
				})

			httpmock.RegisterResponder("GET", "https://api.massive.test/trades/AAPL?apiKey=test-key&cursor=2",
				func(req *http.Request) (*http.Response, error) {
					calls++
					return httpmock.NewJsonResponse(200, map[string]interface{}{"results": []interface{}{}})
				})

			var records []map[string]interface{}
			err := client.Paginate(context.Background(), "/trades/AAPL", url.Values{}, func(record map[string]interface{}) error {
				records = append(records, record)
				return nil
			})

			Expect(err).To(BeNil())
			Expect(records).To(HaveLen(1))
			Expect(calls).To(Equal(3))
		})
	})
})
