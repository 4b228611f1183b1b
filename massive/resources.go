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
	"net/url"
	"strconv"
	"time"
)

// ListParams configures one of the paginated list resources below. A zero Date means
// "don't restrict to a single trading day".
type ListParams struct {
	Date  time.Time
	Limit int
	Sort  string
	Order string
}

func (p ListParams) withDefaults() ListParams {
	if p.Limit <= 0 {
		p.Limit = 1000
	}
	if p.Sort == "" {
		p.Sort = "timestamp"
	}
	if p.Order == "" {
		p.Order = "asc"
	}
	return p
}

func (p ListParams) values() url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(p.Limit))
	v.Set("sort", p.Sort)
	v.Set("order", p.Order)
	if !p.Date.IsZero() {
		v.Set("timestamp", p.Date.Format("2006-01-02"))
	}
	return v
}

// ListTrades walks every page of trade records reported for ticker, invoking yield once per
// record. Returning massive.ErrStopIteration from yield stops the walk early without
// surfacing an error.
func (c *Client) ListTrades(ctx context.Context, ticker string, params ListParams, yield func(record map[string]interface{}) error) error {
	params = params.withDefaults()
	return c.Paginate(ctx, "/trades/"+ticker, params.values(), yield)
}

// ListQuotes is ListTrades's analogue for NBBO quote records.
func (c *Client) ListQuotes(ctx context.Context, ticker string, params ListParams, yield func(record map[string]interface{}) error) error {
	params = params.withDefaults()
	return c.Paginate(ctx, "/quotes/"+ticker, params.values(), yield)
}
