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
	"io"
	"time"

	"github.com/penny-vault/pvfund/fetcher"
	"github.com/penny-vault/pvfund/ingest"
	"github.com/penny-vault/pvfund/library"
	"github.com/penny-vault/pvfund/watchlist"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func seconds(key string) time.Duration {
	return time.Duration(viper.GetFloat64(key) * float64(time.Second))
}

// openLibrary connects to the configured library or exits
func openLibrary(ctx context.Context) *library.Library {
	myLibrary, err := library.NewFromDB(ctx, viper.GetString("db.url"))
	if err != nil {
		log.Fatal().Err(err).Msg("could not load library info, has `pvfund init` been run?")
	}
	return myLibrary
}

func fetchConfig() fetcher.Config {
	return fetcher.Config{
		BaseURL:   viper.GetString("screener.base_url"),
		UserAgent: viper.GetString("screener.user_agent"),
		Delay:     seconds("fetch.delay_seconds"),
		Timeout:   seconds("fetch.timeout_seconds"),

		RequestsPerMinute: viper.GetInt("fetch.requests_per_minute"),
	}
}

// newFetcher builds the configured page fetcher. The returned closer must be
// called once the fetcher is no longer needed.
func newFetcher() (fetcher.Fetcher, io.Closer) {
	config := fetchConfig()

	if viper.GetBool("fetch.browser") {
		browser, err := fetcher.NewBrowserFetcher(config, true)
		if err != nil {
			log.Fatal().Err(err).Msg("could not start browser")
		}
		return browser, browser
	}

	return fetcher.NewHTTPFetcher(config), io.NopCloser(nil)
}

func ingestConfig() ingest.Config {
	config := ingest.DefaultConfig()
	config.Retries = viper.GetInt("ingest.retries")
	config.BackoffBase = seconds("ingest.backoff_seconds")
	config.TTLDays = viper.GetInt("ingest.ttl_days")
	config.AbandonAfter = time.Duration(viper.GetFloat64("ingest.abandon_minutes") * float64(time.Minute))
	return config
}

// watchlistFile returns file, or the configured watchlist when neither file
// nor args name any tickers
func watchlistFile(args []string, file string) string {
	if file == "" && len(args) == 0 {
		return viper.GetString("ingest.watchlist")
	}
	return file
}

// tickerArgs combines tickers from the command line, a watchlist file and,
// when neither is given, the configured watchlist. Exits when the watchlist
// cannot be read.
func tickerArgs(args []string, file string) []string {
	tickers, err := watchlist.Tickers(args, watchlistFile(args, file))
	if err != nil {
		log.Fatal().Err(err).Msg("could not load watchlist")
	}
	return tickers
}
