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
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	statusCmd.Flags().String("host", "http://localhost:8090", "base URL of a running collector's health endpoint")
	viper.BindPFlag("status.host", statusCmd.Flags().Lookup("host"))
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print recent cycle history from a running collector",
	Long:  `Queries a running collector's /status endpoint and prints the ASCII table of recent cycle outcomes.`,
	Run: func(cmd *cobra.Command, args []string) {
		host := viper.GetString("status.host")

		req, err := http.NewRequest(http.MethodGet, host+"/status", nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		req.Header.Set("Accept", "text/plain")

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			fmt.Fprintln(os.Stderr, "could not reach collector:", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "collector returned %s: %s\n", resp.Status, body)
			os.Exit(1)
		}

		fmt.Print(string(body))
	},
}
