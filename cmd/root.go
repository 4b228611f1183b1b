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

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tickvault/collector/common"
)

func init() {
	viper.BindEnv("massive_api_key", "MASSIVE_API_KEY")
	rootCmd.PersistentFlags().String("massive-api-key", "", "API key for the vendor REST service")
	viper.BindPFlag("massive_api_key", rootCmd.PersistentFlags().Lookup("massive-api-key"))

	viper.BindEnv("database_url", "DATABASE_URL")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))

	viper.BindEnv("log.level", "LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

var rootCmd = &cobra.Command{
	Use:     "collector",
	Version: common.CurrentVersion.String(),
	Short:   "Tickvault collects trade and quote data into a TimescaleDB-backed store",
	Long:    `A small pipeline that polls a market-data vendor for trades and quotes on a ticker universe and writes them idempotently into Postgres.`,
}

// Execute runs the root command, printing any error to stderr and exiting non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
