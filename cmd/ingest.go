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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hako/durafmt"
	"github.com/penny-vault/pvfund/healthcheck"
	"github.com/penny-vault/pvfund/ingest"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	ingestFile    string
	ingestForce   bool
	ingestWorkers int
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest [ticker...]",
	Short: "Fetch and store fundamentals for tickers",
	Long: `The ingest sub-command fetches the company page for each ticker, extracts every
section, stores it and derives ratios. Tickers whose last complete ingestion is
still within the freshness window are skipped unless --force is given. When no
tickers or file are provided the configured watchlist is used.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		tickers := tickerArgs(args, ingestFile)
		if len(tickers) == 0 {
			log.Fatal().Msg("no tickers to ingest")
		}

		myLibrary := openLibrary(ctx)
		defer myLibrary.Close()

		pageFetcher, closer := newFetcher()
		defer closer.Close()

		ingestor := ingest.New(myLibrary, pageFetcher, ingestConfig())

		workers := ingestWorkers
		if workers <= 0 {
			workers = viper.GetInt("ingest.workers")
		}

		if failed := runBatch(ctx, ingestor, tickers, workers, ingestForce); failed > 0 {
			closer.Close()
			myLibrary.Close()
			os.Exit(1)
		}
	},
}

// runBatch ingests tickers, reports the run to healthchecks.io when a check is
// configured and returns the number of tickers that failed
func runBatch(ctx context.Context, ingestor *ingest.Ingestor, tickers []string, workers int, force bool) int {
	hc := healthcheck.New(viper.GetString("healthchecks.apikey"))
	checkID := viper.GetString("healthchecks.check_id")

	if err := hc.Start(ctx, checkID); err != nil {
		log.Warn().Err(err).Msg("could not signal run start to healthchecks.io")
	}

	start := time.Now()
	log.Info().Int("NumTickers", len(tickers)).Int("Workers", workers).Bool("Force", force).Msg("starting ingestion")

	results := ingestor.RunAll(ctx, tickers, workers, force)

	var (
		ingested int
		skipped  int
		failures []string
	)

	for _, result := range results {
		switch {
		case result.Err != nil:
			failures = append(failures, fmt.Sprintf("%s: %s", result.Ticker, result.Err))
			log.Error().Err(result.Err).Str("Ticker", result.Ticker).Msg("ingestion failed")
		case result.Skipped:
			skipped++
		default:
			ingested++
		}
	}

	runTime := durafmt.Parse(time.Since(start).Round(time.Second)).String()
	summary := fmt.Sprintf("ingested %d, skipped %d, failed %d tickers in %s", ingested, skipped, len(failures), runTime)
	log.Info().Int("Ingested", ingested).Int("Skipped", skipped).Int("Failed", len(failures)).Str("RunTime", runTime).Msg("ingestion finished")

	if len(failures) > 0 {
		if err := hc.Fail(ctx, checkID, summary+"\n"+strings.Join(failures, "\n")); err != nil {
			log.Warn().Err(err).Msg("could not signal failure to healthchecks.io")
		}
	} else if err := hc.Success(ctx, checkID, summary); err != nil {
		log.Warn().Err(err).Msg("could not signal success to healthchecks.io")
	}

	return len(failures)
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "watchlist file with tickers to ingest")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "ingest even when stored data is fresh")
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 0, "number of tickers ingested concurrently (default ingest.workers)")
}
