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
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tickvault/collector/common"
	"github.com/tickvault/collector/driver"
)

func init() {
	rootCmd.AddCommand(collectCmd)
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the collector daemon",
	Long:  `Runs the pipeline continuously: connects to the vendor and the database, bootstraps the schema, and polls the ticker universe on a cadence driven by the market clock.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := common.LoadConfig()
		if err != nil {
			log.WithError(err).Fatal("invalid configuration")
		}

		if err := driver.New(cfg).Run(); err != nil {
			log.WithError(err).Fatal("collector exited with an error")
		}
	},
}
