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

	"go.opentelemetry.io/otel/attribute"
)

// ErrStopIteration is returned by a yield callback to stop Paginate early without that
// being treated as a failure.
var ErrStopIteration = errStopIteration{}

type errStopIteration struct{}

func (errStopIteration) Error() string { return "massive: iteration stopped by caller" }

// Paginate walks the cursor-linked pages starting at path/params, invoking yield once per
// record. Each GET completes fully before its records are yielded — there is no background
// goroutine and no connection is held open between pages, so a caller that returns
// ErrStopIteration from yield leaves nothing to clean up.
//
// An empty results page with no next_url ends the sequence; so does any page with no
// next_url regardless of whether results was empty.
func (c *Client) Paginate(ctx context.Context, path string, params url.Values, yield func(record map[string]interface{}) error) error {
	ctx, span := tracer.Start(ctx, "massive.paginate")
	defer span.End()

	nextPath := path
	nextParams := params
	pageNum := 0

	for nextPath != "" {
		pageNum++
		span.SetAttributes(attribute.Int("massive.page", pageNum))

		p, err := c.get(ctx, nextPath, nextParams)
		if err != nil {
			return err
		}

		for _, record := range p.Results {
			if err := yield(record); err != nil {
				if err == ErrStopIteration {
					return nil
				}
				return err
			}
		}

		if p.NextURL == "" {
			return nil
		}
		nextPath = p.NextURL
		nextParams = nil // the continuation URL is self-contained
	}

	return nil
}
