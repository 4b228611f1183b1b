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

package common

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// SetupLogging configures the process-wide zerolog logger used by the calendar, marketclock,
// common and main packages, and applies the same level/output settings to logrus, which the
// massive, repository, collector, driver and cmd packages log through; both loggers write to
// the same output stream so operators see one interleaved stream regardless of which library
// emitted a given line.
func SetupLogging() {
	level := strings.ToLower(viper.GetString("log.level"))

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		logrus.SetLevel(logrus.ErrorLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		logrus.SetLevel(logrus.InfoLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		logrus.SetLevel(logrus.InfoLevel)
	}

	pretty := strings.ToLower(viper.GetString("log.format")) != "json"

	var out *os.File = os.Stdout
	if viper.GetString("log.output") == "stderr" {
		out = os.Stderr
	}

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logrus.SetOutput(out)
	} else {
		log.Logger = log.Output(out)
		logrus.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetOutput(out)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
}

// GetTimezone loads the configured market timezone, falling back to America/New_York.
func GetTimezone() *time.Location {
	name := viper.GetString("market.timezone")
	if name == "" {
		name = "America/New_York"
	}

	tz, err := time.LoadLocation(name)
	if err != nil {
		log.Panic().Err(err).Str("timezone", name).Msg("could not load market timezone")
	}
	return tz
}
