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

// Package universe loads the ordered ticker symbol list the collector fans out over at the
// start of every cycle.
package universe

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrEmptyUniverse is returned when a tickers file parses successfully but yields zero
// symbols — a fail-fast condition per spec, since an empty universe means the collector
// would silently do nothing forever.
var ErrEmptyUniverse = fmt.Errorf("universe: tickers file yielded zero symbols")

// Universe is the ordered, deduplication-free sequence of symbols the collector iterates
// every cycle, plus a diagnostic hash of its contents.
type Universe struct {
	Tickers []string
	Hash    string // hex-encoded blake3 digest, logged at startup; never used as a key
}

// Load reads path as a tickers file: one symbol per line, blank lines and #-comments
// skipped, a trailing comma stripped, symbols uppercased. It fails fast (os.Open error, or
// ErrEmptyUniverse) rather than starting a pipeline with nothing to collect.
func Load(path string) (*Universe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("universe: could not open tickers file %q: %w", path, err)
	}
	defer f.Close()

	var tickers []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSuffix(line, ",")
		tickers = append(tickers, strings.ToUpper(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("universe: could not read tickers file %q: %w", path, err)
	}

	if len(tickers) == 0 {
		return nil, ErrEmptyUniverse
	}

	return &Universe{Tickers: tickers, Hash: hashTickers(tickers)}, nil
}

// hashTickers blake3-hashes the ordered ticker list, one write per symbol, so a restart can
// log whether the universe changed since the previous run. The hash is pure observability:
// it is never used as a collection key or stored alongside tick data.
func hashTickers(tickers []string) string {
	h := blake3.New()
	for _, t := range tickers {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	digest := h.Digest()
	buf := make([]byte, 16)
	digest.Read(buf)
	return hex.EncodeToString(buf)
}
