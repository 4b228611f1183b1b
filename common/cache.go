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
	"context"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var ctx = context.Background()
var rdb *redis.Client
var cache *lru.Cache

// SetupCache builds the two-tier byte cache shared by the calendar preload path: an
// always-on local LRU, and an optional Redis tier for sharing a preloaded calendar across
// more than one pipeline instance. Values stored through CacheSet/CacheGet are expected to
// already be serialized (the calendar cache stores lz4-compressed JSON).
func SetupCache() {
	var err error
	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Error().Err(err).Msg("could not parse redis URL, disabling redis cache tier")
		} else {
			rdb = redis.NewClient(opt)
		}
	}

	size := viper.GetInt("cache.local_size")
	if size <= 0 {
		size = 128
	}

	cache, err = lru.New(size)
	if err != nil {
		log.Error().Err(err).Msg("could not create local LRU cache")
		os.Exit(1)
	}
}

// CacheSet stores bytes in both cache tiers. A Redis failure is logged and does not fail
// the call — the local tier still has the value.
func CacheSet(key string, b []byte) error {
	cache.Add(key, b)

	if rdb != nil {
		expires := time.Duration(viper.GetInt("cache.ttl_seconds")) * time.Second
		if expires <= 0 {
			expires = time.Hour
		}
		if err := rdb.Set(ctx, key, b, expires).Err(); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("redis cache set failed, local tier still populated")
		}
	}
	return nil
}

// CacheGet returns the cached bytes for key. A miss in both tiers, or a Redis error, returns
// ok=false — callers treat a cache miss exactly like a cache error: fall through to the
// store.
func CacheGet(key string) (b []byte, ok bool) {
	if v, hit := cache.Get(key); hit {
		return v.([]byte), true
	}

	if rdb == nil {
		return nil, false
	}

	expires := time.Duration(viper.GetInt("cache.ttl_seconds")) * time.Second
	if expires <= 0 {
		expires = time.Hour
	}
	val, err := rdb.GetEx(ctx, key, expires).Bytes()
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache miss")
		return nil, false
	}
	cache.Add(key, val)
	return val, true
}
