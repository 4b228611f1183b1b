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

// Package health serves the pipeline's liveness/status surface: a readiness probe and a
// small view of recent cycle history, for operators and orchestrators alike.
package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/olekukonko/tablewriter"
	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/tickvault/collector/collector"
)

// History is the subset of collector.Collector the health server reads from.
type History interface {
	History() []collector.CycleStat
}

// Server is a minimal fiber app exposing /healthz and /status.
type Server struct {
	app   *fiber.App
	ready bool
	hist  History
}

// New builds a Server. It reports not-ready until MarkReady is called, which the driver
// does once startup (DB connect, schema bootstrap, calendar preload) has completed.
func New(hist History) *Server {
	s := &Server{app: fiber.New(fiber.Config{DisableStartupMessage: true}), hist: hist}

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		if !s.ready {
			return c.SendStatus(fiber.StatusServiceUnavailable)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	s.app.Get("/status", func(c *fiber.Ctx) error {
		stats := s.hist.History()
		if strings.Contains(c.Get(fiber.HeaderAccept), "text/plain") {
			c.Set(fiber.HeaderContentType, "text/plain")
			return c.SendString(renderTable(stats))
		}
		return c.JSON(stats)
	})

	return s
}

// MarkReady flips the server into the ready state, making /healthz return 200.
func (s *Server) MarkReady() { s.ready = true }

// App returns the underlying fiber app, for in-process testing via app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts serving on addr (e.g. ":8090"). It blocks until Shutdown is called.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// renderTable builds a small in-memory frame over recent cycle stats, then renders it as an
// ASCII table, most recent last.
func renderTable(stats []collector.CycleStat) string {
	if len(stats) == 0 {
		return "no cycles recorded yet\n"
	}

	n := len(stats)
	runIDs := make([]interface{}, n)
	starteds := make([]interface{}, n)
	durations := make([]interface{}, n)
	processeds := make([]interface{}, n)
	faileds := make([]interface{}, n)
	trades := make([]interface{}, n)
	quotes := make([]interface{}, n)
	skippeds := make([]interface{}, n)

	for i, s := range stats {
		runIDs[i] = s.RunID
		starteds[i] = s.StartedAt
		durations[i] = s.Duration.String()
		processeds[i] = int64(s.TickersProcessed)
		faileds[i] = int64(s.TickersFailed)
		trades[i] = s.TradesWritten
		quotes[i] = s.QuotesWritten
		skippeds[i] = fmt.Sprintf("%t", s.Skipped)
	}

	frame := dataframe.NewDataFrame(
		dataframe.NewSeriesString("Run ID", &dataframe.SeriesInit{Size: n}, runIDs...),
		dataframe.NewSeriesTime("Started", &dataframe.SeriesInit{Size: n}, starteds...),
		dataframe.NewSeriesString("Duration", &dataframe.SeriesInit{Size: n}, durations...),
		dataframe.NewSeriesMixed("Processed", &dataframe.SeriesInit{Size: n}, processeds...),
		dataframe.NewSeriesMixed("Failed", &dataframe.SeriesInit{Size: n}, faileds...),
		dataframe.NewSeriesMixed("Trades", &dataframe.SeriesInit{Size: n}, trades...),
		dataframe.NewSeriesMixed("Quotes", &dataframe.SeriesInit{Size: n}, quotes...),
		dataframe.NewSeriesString("Skipped", &dataframe.SeriesInit{Size: n}, skippeds...),
	)

	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"Run ID", "Started", "Duration", "Processed", "Failed", "Trades", "Quotes", "Skipped"})
	table.SetBorder(false)

	for i := 0; i < frame.NRows(); i++ {
		row := frame.Row(i, true, dataframe.SeriesName)
		table.Append([]string{
			fmt.Sprint(row["Run ID"]),
			row["Started"].(time.Time).Format("2006-01-02T15:04:05Z07:00"),
			fmt.Sprint(row["Duration"]),
			fmt.Sprint(row["Processed"]),
			fmt.Sprint(row["Failed"]),
			fmt.Sprint(row["Trades"]),
			fmt.Sprint(row["Quotes"]),
			fmt.Sprint(row["Skipped"]),
		})
	}
	table.Render()
	return sb.String()
}
