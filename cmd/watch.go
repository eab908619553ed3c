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
	"os"
	"os/signal"
	"syscall"

	"github.com/gosimple/slug"
	"github.com/penny-vault/pvfund/healthcheck"
	"github.com/penny-vault/pvfund/ingest"
	"github.com/penny-vault/pvfund/watchlist"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	watchNow           bool
	watchRegisterCheck bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run as a daemon ingesting the watchlist on a schedule",
	Long: `watch keeps running and ingests every stale ticker in the configured
watchlist (ingest.watchlist) on the cron schedule in ingest.schedule. Each
scheduled run reloads the watchlist so edits take effect without a restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if viper.GetString("ingest.watchlist") == "" {
			log.Fatal().Msg("ingest.watchlist is not configured")
		}

		myLibrary := openLibrary(ctx)
		defer myLibrary.Close()

		pageFetcher, closer := newFetcher()
		defer closer.Close()

		ingestor := ingest.New(myLibrary, pageFetcher, ingestConfig())
		workers := viper.GetInt("ingest.workers")

		scheduled := func() {
			// a broken watchlist skips this run; the next one reloads it
			tickers, err := watchlist.Tickers(nil, viper.GetString("ingest.watchlist"))
			if err != nil {
				log.Error().Err(err).Msg("could not load watchlist, skipping scheduled run")
				return
			}
			log.Info().Int("NumTickers", len(tickers)).Msg("loaded watchlist")
			runBatch(ctx, ingestor, tickers, workers, false)
		}

		schedule := viper.GetString("ingest.schedule")

		if watchRegisterCheck {
			registerCheck(ctx, schedule)
		}

		scheduler := cron.New()
		if _, err := scheduler.AddFunc(schedule, scheduled); err != nil {
			log.Fatal().Err(err).Str("Schedule", schedule).Msg("invalid schedule")
		}

		if watchNow {
			scheduled()
		}

		scheduler.Start()
		log.Info().Str("Schedule", schedule).Msg("waiting for next scheduled run")

		<-ctx.Done()

		log.Info().Msg("stopping scheduler")
		<-scheduler.Stop().Done()
	},
}

// registerCheck creates a healthchecks.io check matching the schedule and
// uses it for every subsequent run
func registerCheck(ctx context.Context, schedule string) {
	hc := healthcheck.New(viper.GetString("healthchecks.apikey"))

	name := "pvfund " + viper.GetString("ingest.watchlist")
	checkID, err := hc.Create(ctx, name, slug.Make(name), []string{"pvfund", "fundamentals"}, schedule)
	if err != nil {
		log.Error().Err(err).Msg("could not register healthchecks.io check")
		return
	}

	log.Info().Str("CheckID", checkID).Msg("registered healthchecks.io check")
	viper.Set("healthchecks.check_id", checkID)
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchNow, "now", false, "run once immediately before waiting for the schedule")
	watchCmd.Flags().BoolVar(&watchRegisterCheck, "register-healthcheck", false, "create a healthchecks.io check for the schedule")
}
