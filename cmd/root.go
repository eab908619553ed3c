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
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pvfund",
	Short: "pvfund ingests equity fundamentals into the Penny Vault data library",
	Long: `pvfund is a command line utility for collecting the fundamentals of listed
equities from screener style company pages. For each ticker it captures:

	* the headline ratios shown at the top of the page
	* quarterly results
	* annual profit & loss, balance sheet and cash flow statements
	* the shareholding pattern

Tables are normalized into long time series, a small set of ratios is derived
from the stored statements and every ingestion records per-section progress so
that partial failures are visible and can be retried.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			log.Warn().Str("Level", logLevel).Msg("unknown log level, using info")
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.DefaultContextLogger = &log.Logger

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pvfund.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.PersistentFlags().String("db-url", "", "database connection string")
	if err := viper.BindPFlag("db.url", rootCmd.PersistentFlags().Lookup("db-url")); err != nil {
		log.Panic().Err(err).Msg("BindPFlag for db-url failed")
	}

	setDefaults()
}

// setDefaults registers the value of every configuration key that is not
// set in the config file or environment
func setDefaults() {
	viper.SetDefault("screener.base_url", "https://www.screener.in/company")
	viper.SetDefault("screener.user_agent", "Mozilla/5.0 (compatible; ScreenerBot/1.0)")

	viper.SetDefault("fetch.delay_seconds", 2)
	viper.SetDefault("fetch.timeout_seconds", 30)
	viper.SetDefault("fetch.browser", false)
	viper.SetDefault("fetch.requests_per_minute", 0)

	viper.SetDefault("ingest.ttl_days", 30)
	viper.SetDefault("ingest.retries", 3)
	viper.SetDefault("ingest.backoff_seconds", 2)
	viper.SetDefault("ingest.workers", 4)
	viper.SetDefault("ingest.abandon_minutes", 60)
	viper.SetDefault("ingest.schedule", "0 6 * * 1-5")
	viper.SetDefault("ingest.watchlist", "")

	viper.SetDefault("export.dir", ".")
	viper.SetDefault("backblaze.bucket", "")
	viper.SetDefault("backblaze.dir", "fundamentals")

	viper.SetDefault("healthchecks.apikey", "")
	viper.SetDefault("healthchecks.check_id", "")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".pvfund" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("toml")
		viper.SetConfigName(".pvfund")
	}

	viper.SetEnvPrefix("pvfund")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Info().Str("ConfigFN", viper.ConfigFileUsed()).Msg("Using config file")
	}
}
