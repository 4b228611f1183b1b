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

package health_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tickvault/collector/collector"
	"github.com/tickvault/collector/health"
)

func TestHealth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Health Suite")
}

type fakeHistory struct{ stats []collector.CycleStat }

func (f fakeHistory) History() []collector.CycleStat { return f.stats }

var _ = Describe("Server", func() {
	It("reports 503 on /healthz before MarkReady and 200 after", func() {
		s := health.New(fakeHistory{})

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		resp, err := s.App().Test(req)
		Expect(err).To(BeNil())
		Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))

		s.MarkReady()
		resp, err = s.App().Test(req)
		Expect(err).To(BeNil())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("renders /status as JSON by default and as a table for text/plain", func() {
		stats := []collector.CycleStat{
			{RunID: "abc", StartedAt: time.Date(2022, 1, 1, 9, 30, 0, 0, time.UTC), TickersProcessed: 3},
		}
		s := health.New(fakeHistory{stats: stats})

		jsonReq := httptest.NewRequest(http.MethodGet, "/status", nil)
		resp, err := s.App().Test(jsonReq)
		Expect(err).To(BeNil())
		Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("application/json"))

		textReq := httptest.NewRequest(http.MethodGet, "/status", nil)
		textReq.Header.Set("Accept", "text/plain")
		resp, err = s.App().Test(textReq)
		Expect(err).To(BeNil())
		Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("text/plain"))
	})
})
