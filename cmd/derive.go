// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"

	"github.com/penny-vault/pvfund/ingest"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// deriveCmd represents the derive command
var deriveCmd = &cobra.Command{
	Use:   "derive <ticker...>",
	Short: "Recompute derived ratios from stored statements",
	Long: `Recompute the derived ratios (OPM, EPS, debt to equity, multi-year growth and
quarter over quarter variance) for each ticker from the annual and quarterly
rows already in the library. No pages are fetched.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		myLibrary := openLibrary(ctx)
		defer myLibrary.Close()

		ingestor := ingest.New(myLibrary, nil, ingestConfig())

		for _, ticker := range args {
			ok, err := ingestor.Derive(ctx, ticker)
			if err != nil {
				log.Error().Err(err).Str("Ticker", ticker).Msg("could not derive metrics")
				continue
			}

			if !ok {
				log.Warn().Str("Ticker", ticker).Msg("not enough stored data to derive metrics")
				continue
			}

			log.Info().Str("Ticker", ticker).Msg("derived metrics updated")
		}
	},
}

func init() {
	rootCmd.AddCommand(deriveCmd)
}
