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

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/penny-vault/pvfund/data"
	"github.com/penny-vault/pvfund/ingest"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"
)

var statusJSON bool

var stateColors = map[data.State]lipgloss.Color{
	data.Complete:   lipgloss.Color("42"),
	data.InProgress: lipgloss.Color("33"),
	data.Failed:     lipgloss.Color("196"),
	data.Stale:      lipgloss.Color("214"),
	data.Pending:    lipgloss.Color("245"),
	data.NotStarted: lipgloss.Color("245"),
}

func renderState(state data.State) string {
	return lipgloss.NewStyle().Foreground(stateColors[state]).Bold(true).Render(string(state))
}

func check(done bool) string {
	if done {
		return "✓"
	}
	return "·"
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [ticker...]",
	Short: "Show ingestion status and progress",
	Long: `Show the ingestion state of each ticker along with the sections that were
stored. A complete ingestion older than the freshness window is reported as
STALE and one that never stored any ratios as PENDING. Without arguments every
ticker in the library is listed.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		myLibrary := openLibrary(ctx)
		defer myLibrary.Close()

		tickers := args
		if len(tickers) == 0 {
			stored, err := myLibrary.Statuses(ctx)
			if err != nil {
				log.Fatal().Err(err).Msg("could not list statuses")
			}
			for _, status := range stored {
				tickers = append(tickers, status.Ticker)
			}
		}

		ingestor := ingest.New(myLibrary, nil, ingestConfig())
		statuses, err := ingestor.Statuses(ctx, tickers)
		if err != nil {
			log.Fatal().Err(err).Msg("could not load statuses")
		}

		if statusJSON {
			out, err := json.MarshalIndent(statuses, "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("could not marshal statuses")
			}
			fmt.Println(string(out))
			return
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(table.Row{"Ticker", "Status", "Progress", "Ratios", "Quarterly", "Annual", "Shareholding", "Derived", "Updated", "Error"})
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 3, Align: text.AlignRight},
			{Number: 10, WidthMax: 40},
		})

		for _, status := range statuses {
			updated := "never"
			if !status.LastUpdated.IsZero() {
				updated = timeago.English.Format(status.LastUpdated)
			}

			tw.AppendRow(table.Row{
				status.Ticker,
				renderState(status.State),
				fmt.Sprintf("%d%%", status.ProgressPercent),
				check(status.Sections.Ratios),
				check(status.Sections.Quarterly),
				check(status.Sections.Annual),
				check(status.Sections.Shareholding),
				check(status.Sections.Derived),
				updated,
				status.ErrorMessage,
			})
		}

		tw.Render()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print statuses as JSON")
}
