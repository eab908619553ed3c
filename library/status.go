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
package library

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/penny-vault/pvfund/data"
)

type statusRow struct {
	Ticker           string `db:"ticker"`
	Status           string `db:"status"`
	LastUpdated      string `db:"last_updated"`
	ErrorMessage     string `db:"error_message"`
	RatiosDone       int    `db:"ratios_done"`
	QuarterlyDone    int    `db:"quarterly_done"`
	AnnualDone       int    `db:"annual_done"`
	ShareholdingDone int    `db:"shareholding_done"`
	DerivedDone      int    `db:"derived_done"`
	ProgressPct      int    `db:"progress_pct"`
}

const selectStatus = `SELECT ticker, status, last_updated, error_message, ratios_done,
quarterly_done, annual_done, shareholding_done, derived_done, progress_pct FROM fundamental_status`

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (row *statusRow) status() (*data.FundamentalStatus, error) {
	lastUpdated, err := time.Parse(time.RFC3339, row.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("parse last_updated %q: %w", row.LastUpdated, err)
	}

	flags := data.SectionFlags{
		Ratios:       row.RatiosDone != 0,
		Quarterly:    row.QuarterlyDone != 0,
		Annual:       row.AnnualDone != 0,
		Shareholding: row.ShareholdingDone != 0,
		Derived:      row.DerivedDone != 0,
	}

	return data.NewStatus(row.Ticker, data.State(row.Status), row.ErrorMessage, flags, lastUpdated), nil
}

// SetStatus upserts the status row for ticker. The progress percentage is
// always recomputed from flags.
func (myLibrary *Library) SetStatus(ctx context.Context, ticker string, state data.State, errMsg string, flags data.SectionFlags) error {
	lastUpdated := myLibrary.Now().UTC().Format(time.RFC3339)

	_, err := myLibrary.DB.ExecContext(ctx, myLibrary.rebind(`INSERT INTO fundamental_status
(ticker, status, last_updated, error_message, ratios_done, quarterly_done, annual_done, shareholding_done, derived_done, progress_pct)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (ticker) DO UPDATE SET
	status = excluded.status,
	last_updated = excluded.last_updated,
	error_message = excluded.error_message,
	ratios_done = excluded.ratios_done,
	quarterly_done = excluded.quarterly_done,
	annual_done = excluded.annual_done,
	shareholding_done = excluded.shareholding_done,
	derived_done = excluded.derived_done,
	progress_pct = excluded.progress_pct`),
		ticker, string(state), lastUpdated, errMsg,
		boolInt(flags.Ratios), boolInt(flags.Quarterly), boolInt(flags.Annual),
		boolInt(flags.Shareholding), boolInt(flags.Derived), flags.Progress())
	return err
}

// GetStatus returns the stored status for ticker. A ticker that was never
// ingested is reported as NOT_STARTED with no progress.
func (myLibrary *Library) GetStatus(ctx context.Context, ticker string) (*data.FundamentalStatus, error) {
	row := statusRow{}
	err := sqlscan.Get(ctx, myLibrary.DB, &row, myLibrary.rebind(selectStatus+` WHERE ticker = $1`), ticker)
	if sqlscan.NotFound(err) {
		return data.NewStatus(ticker, data.NotStarted, "", data.SectionFlags{}, time.Time{}), nil
	}
	if err != nil {
		return nil, err
	}

	return row.status()
}

// Statuses returns the status of each ticker; with no tickers every stored
// status is returned
func (myLibrary *Library) Statuses(ctx context.Context, tickers ...string) ([]*data.FundamentalStatus, error) {
	if len(tickers) > 0 {
		statuses := make([]*data.FundamentalStatus, 0, len(tickers))
		for _, ticker := range tickers {
			status, err := myLibrary.GetStatus(ctx, ticker)
			if err != nil {
				return nil, err
			}
			statuses = append(statuses, status)
		}
		return statuses, nil
	}

	var rows []*statusRow
	if err := sqlscan.Select(ctx, myLibrary.DB, &rows, selectStatus+` ORDER BY ticker`); err != nil {
		return nil, err
	}

	statuses := make([]*data.FundamentalStatus, 0, len(rows))
	for _, row := range rows {
		status, err := row.status()
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}
