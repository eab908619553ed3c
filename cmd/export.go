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

	"github.com/penny-vault/pvfund/backblaze"
	"github.com/penny-vault/pvfund/export"
	"github.com/penny-vault/pvfund/ingest"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	exportFormat string
	exportDir    string
	exportUpload bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <ticker...>",
	Short: "Export stored fundamentals as CSV or Parquet",
	Long: `Write every stored series for a ticker (ratios, annual and quarterly
statements, shareholding) into one long table. With --upload the file is also
copied to the configured Backblaze bucket.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid export format")
		}

		dir := exportDir
		if dir == "" {
			dir = viper.GetString("export.dir")
		}

		myLibrary := openLibrary(ctx)
		defer myLibrary.Close()

		for _, arg := range args {
			ticker, err := ingest.NormalizeTicker(arg)
			if err != nil {
				log.Error().Err(err).Msg("skipping ticker")
				continue
			}

			fn, err := export.Write(ctx, myLibrary, ticker, format, dir, myLibrary.Today())
			if err != nil {
				log.Error().Err(err).Str("Ticker", ticker).Msg("export failed")
				continue
			}

			log.Info().Str("Ticker", ticker).Str("FileName", fn).Msg("exported fundamentals")

			if exportUpload {
				credentials := backblaze.Credentials{
					ApplicationID:  viper.GetString("backblaze.application_id"),
					ApplicationKey: viper.GetString("backblaze.application_key"),
				}

				if _, err := backblaze.Upload(credentials, fn, viper.GetString("backblaze.bucket"), viper.GetString("backblaze.dir")); err != nil {
					log.Error().Err(err).Str("FileName", fn).Msg("upload failed")
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format (csv or parquet)")
	exportCmd.Flags().StringVarP(&exportDir, "dir", "o", "", "output directory (default export.dir)")
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false, "upload the export to Backblaze")
}
