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

// Package massive is a paginating, retrying REST client for the Massive tick-data vendor.
package massive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultTimeout = 30 * time.Second
	maxAttempts    = 3
	backoffFloor   = 1 * time.Second
	backoffCeiling = 10 * time.Second
)

var tracer = otel.Tracer("github.com/tickvault/collector/massive")

// page is the vendor's response envelope: a slice of record mappings and an optional
// absolute continuation URL.
type page struct {
	Results   []map[string]interface{} `json:"results"`
	Status    string                   `json:"status"`
	RequestID string                   `json:"request_id"`
	NextURL   string                   `json:"next_url"`
}

// TransportError wraps a non-2xx response or network/timeout failure. RESTClient makes up
// to maxAttempts attempts in total before letting it escape to the Collector.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("massive: transport error, status=%d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("massive: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is a scoped REST client for the Massive API: one instance is built per ingest
// cycle and reused across every ticker, then closed (its idle connections released) when
// the cycle finishes.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client against baseURL, injecting apiKey as the "apiKey" query parameter on
// every request.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Close releases the client's idle HTTP connections. Safe to call even if no request was
// ever made.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// buildURL resolves path against the client's base URL unless path is already absolute (a
// vendor-returned next_url), and attaches apiKey plus any caller params.
func (c *Client) buildURL(path string, params url.Values) (string, error) {
	var u *url.URL
	var err error

	if parsed, perr := url.Parse(path); perr == nil && parsed.IsAbs() {
		u = parsed
	} else {
		u, err = url.Parse(c.baseURL)
		if err != nil {
			return "", err
		}
		u.Path = u.Path + path
	}

	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	q.Set("apiKey", c.apiKey)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// get performs one authenticated GET, making up to maxAttempts attempts in total on network
// errors, timeouts, and HTTP status >= 400, using an exponential backoff (1s floor, 10s
// ceiling) between attempts.
func (c *Client) get(ctx context.Context, path string, params url.Values) (*page, error) {
	ctx, span := tracer.Start(ctx, "massive.get")
	defer span.End()
	span.SetAttributes(attribute.String("http.path", path))

	target, err := c.buildURL(path, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var result page
	attempt := 0

	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("massive: request failed")
			return &TransportError{Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransportError{Err: err}
		}

		if resp.StatusCode >= 400 {
			log.WithFields(log.Fields{"attempt": attempt, "status": resp.StatusCode}).Warn("massive: non-2xx response")
			return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
		}

		if err := json.Unmarshal(body, &result); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffFloor
	bo.MaxInterval = backoffCeiling
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	retryPolicy := backoff.WithMaxRetries(bo, maxAttempts-1)

	if err := backoff.Retry(operation, retryPolicy); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("massive.results", len(result.Results)))
	return &result, nil
}
