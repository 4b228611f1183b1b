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
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ConfigError marks a fatal, startup-time configuration problem: a missing secret or an
// invalid setting. LoadConfig returns it and the collect command exits on it. Tickers-file
// problems are reported by universe.Load with its own errors, not as a ConfigError.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

// MarketHours holds the six local times of day that divide a regular trading day into
// phases. Each is expressed as minutes-since-midnight in the configured market timezone.
type MarketHours struct {
	PreOpen  int
	PreClose int
	RegOpen  int
	RegClose int
	AfOpen   int
	AfClose  int
}

// Config is the immutable, process-wide configuration handle. It is built once at startup
// from environment/.env and passed explicitly into the driver. Not every setting flows
// through it: SetupLogging, SetupCache, GetTimezone, opentelemetry.Setup and the status
// command read their settings from viper directly.
type Config struct {
	MassiveAPIKey          string
	MassiveBaseURL         string
	DatabaseURL            string
	TickersFile            string
	CollectIntervalSeconds int
	MarketTimezone         string
	MarketHours            MarketHours

	LogLevel  string
	LogFormat string
	LogOutput string

	CacheRedis      bool
	CacheRedisURL   string
	CacheLocalSize  int
	CacheTTLSeconds int

	OtelEnabled      bool
	OtelEndpoint     string
	OtelProtocolHTTP bool

	HealthPort int
}

func bindDefaults() {
	viper.SetDefault("massive_base_url", "https://api.massive.example.com")
	viper.SetDefault("tickers_file", "tickers/nasdaq100.txt")
	viper.SetDefault("collect_interval_seconds", 60)
	viper.SetDefault("market.timezone", "America/New_York")

	viper.SetDefault("market_hours.pre_open", "04:00")
	viper.SetDefault("market_hours.pre_close", "09:30")
	viper.SetDefault("market_hours.reg_open", "09:30")
	viper.SetDefault("market_hours.reg_close", "16:00")
	viper.SetDefault("market_hours.af_open", "16:00")
	viper.SetDefault("market_hours.af_close", "20:00")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")

	viper.SetDefault("cache.redis", false)
	viper.SetDefault("cache.local_size", 128)
	viper.SetDefault("cache.ttl_seconds", 3600)

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.protocol_http", false)

	viper.SetDefault("health.port", 8090)

	viper.BindEnv("massive_api_key", "MASSIVE_API_KEY")
	viper.BindEnv("massive_base_url", "MASSIVE_BASE_URL")
	viper.BindEnv("database_url", "DATABASE_URL")
	viper.BindEnv("tickers_file", "TICKERS_FILE")
	viper.BindEnv("collect_interval_seconds", "COLLECT_INTERVAL_SECONDS")
	viper.BindEnv("market.timezone", "MARKET_TIMEZONE")

	viper.BindEnv("market_hours.pre_open", "MARKET_HOURS_PRE_OPEN")
	viper.BindEnv("market_hours.pre_close", "MARKET_HOURS_PRE_CLOSE")
	viper.BindEnv("market_hours.reg_open", "MARKET_HOURS_REG_OPEN")
	viper.BindEnv("market_hours.reg_close", "MARKET_HOURS_REG_CLOSE")
	viper.BindEnv("market_hours.af_open", "MARKET_HOURS_AF_OPEN")
	viper.BindEnv("market_hours.af_close", "MARKET_HOURS_AF_CLOSE")

	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.format", "LOG_FORMAT")
	viper.BindEnv("log.output", "LOG_OUTPUT")

	viper.BindEnv("cache.redis", "CACHE_REDIS")
	viper.BindEnv("cache.redis_url", "CACHE_REDIS_URL")
	viper.BindEnv("cache.local_size", "CACHE_LOCAL_SIZE")
	viper.BindEnv("cache.ttl_seconds", "CACHE_TTL_SECONDS")

	viper.BindEnv("otel.enabled", "OTEL_ENABLED")
	viper.BindEnv("otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	viper.BindEnv("otel.protocol_http", "OTEL_EXPORTER_OTLP_PROTOCOL")

	viper.BindEnv("health.port", "HEALTH_PORT")

	viper.AutomaticEnv()
}

func parseClock(hhmm string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid HH:MM time %q: %w", hhmm, err)
	}
	return h*60 + m, nil
}

// LoadConfig reads configuration bound through viper (environment wins over a .env file
// loaded earlier by the caller) and validates the required fields. It returns *ConfigError
// on any problem that should be fatal at startup.
func LoadConfig() (*Config, error) {
	bindDefaults()

	cfg := &Config{
		MassiveAPIKey:          viper.GetString("massive_api_key"),
		MassiveBaseURL:         viper.GetString("massive_base_url"),
		DatabaseURL:            viper.GetString("database_url"),
		TickersFile:            viper.GetString("tickers_file"),
		CollectIntervalSeconds: viper.GetInt("collect_interval_seconds"),
		MarketTimezone:         viper.GetString("market.timezone"),

		LogLevel:  viper.GetString("log.level"),
		LogFormat: viper.GetString("log.format"),
		LogOutput: viper.GetString("log.output"),

		CacheRedis:      viper.GetBool("cache.redis"),
		CacheRedisURL:   viper.GetString("cache.redis_url"),
		CacheLocalSize:  viper.GetInt("cache.local_size"),
		CacheTTLSeconds: viper.GetInt("cache.ttl_seconds"),

		OtelEnabled:      viper.GetBool("otel.enabled"),
		OtelEndpoint:     viper.GetString("otel.endpoint"),
		OtelProtocolHTTP: viper.GetBool("otel.protocol_http") || strings.EqualFold(viper.GetString("otel.protocol_http"), "http"),

		HealthPort: viper.GetInt("health.port"),
	}

	if cfg.MassiveAPIKey == "" {
		return nil, &ConfigError{Msg: "MASSIVE_API_KEY is required"}
	}
	if cfg.DatabaseURL == "" {
		return nil, &ConfigError{Msg: "DATABASE_URL is required"}
	}
	if cfg.CollectIntervalSeconds <= 0 {
		return nil, &ConfigError{Msg: "collect_interval_seconds must be positive"}
	}

	hours := []struct {
		name string
		key  string
		dst  *int
	}{
		{"pre_open", "market_hours.pre_open", &cfg.MarketHours.PreOpen},
		{"pre_close", "market_hours.pre_close", &cfg.MarketHours.PreClose},
		{"reg_open", "market_hours.reg_open", &cfg.MarketHours.RegOpen},
		{"reg_close", "market_hours.reg_close", &cfg.MarketHours.RegClose},
		{"af_open", "market_hours.af_open", &cfg.MarketHours.AfOpen},
		{"af_close", "market_hours.af_close", &cfg.MarketHours.AfClose},
	}
	for _, h := range hours {
		minutes, err := parseClock(viper.GetString(h.key))
		if err != nil {
			return nil, &ConfigError{Msg: fmt.Sprintf("market_hours.%s: %s", h.name, err)}
		}
		*h.dst = minutes
	}

	mh := cfg.MarketHours
	if !(mh.PreOpen <= mh.PreClose && mh.PreClose == mh.RegOpen && mh.RegOpen <= mh.RegClose &&
		mh.RegClose == mh.AfOpen && mh.AfOpen <= mh.AfClose) {
		return nil, &ConfigError{Msg: "market_hours must satisfy preOpen<=preClose=regOpen<=regClose=afOpen<=afClose"}
	}

	return cfg, nil
}
