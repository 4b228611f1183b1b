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

// Package marketclock classifies wall-clock instants into trading phases, honoring holiday
// and early-close overrides from the calendar store, and computes how long the driver
// should sleep until the next phase worth waking up for.
package marketclock

// Phase is one of the four mutually exclusive trading phases. Exactly one holds at any
// instant.
type Phase int

const (
	Closed Phase = iota
	PreMarket
	Regular
	AfterHours
)

func (p Phase) String() string {
	switch p {
	case PreMarket:
		return "pre_market"
	case Regular:
		return "regular"
	case AfterHours:
		return "after_hours"
	default:
		return "closed"
	}
}

// GraceWindowMinutes is the post-close window during which a weekday cycle still runs to
// catch late-reported trades, even though phaseAt already reports Closed.
const GraceWindowMinutes = 15
