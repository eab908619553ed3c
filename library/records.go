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
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/penny-vault/pvfund/data"
	"github.com/rs/zerolog"
)

// table describes a keyed time-series table
type table struct {
	name    string
	keys    []string
	columns []string
}

var (
	snapshotTable     = table{name: "raw_snapshots", keys: []string{"ticker", "captured_at", "section"}, columns: []string{"variant", "raw_html"}}
	ratioTable        = table{name: "company_ratios", keys: []string{"ticker", "captured_at", "metric"}, columns: []string{"raw_value", "value"}}
	annualTable       = table{name: "annual_financials", keys: []string{"ticker", "fiscal_year", "metric"}, columns: []string{"value"}}
	quarterlyTable    = table{name: "quarterly_financials", keys: []string{"ticker", "quarter", "metric"}, columns: []string{"value"}}
	shareholdingTable = table{name: "shareholding_pattern", keys: []string{"ticker", "period", "holder"}, columns: []string{"percentage"}}
)

func (t table) deleteSQL() string {
	where := make([]string, len(t.keys))
	for idx, key := range t.keys {
		where[idx] = fmt.Sprintf("%s = $%d", key, idx+1)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", t.name, strings.Join(where, " AND "))
}

func (t table) insertSQL() string {
	columns := append(append([]string{}, t.keys...), t.columns...)
	placeholders := make([]string, len(columns))
	for idx := range columns {
		placeholders[idx] = fmt.Sprintf("$%d", idx+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

// replaceRows writes every row in a single transaction. Each row deletes the
// prior value at its key before inserting. A key repeated within the batch is
// a row conflict: the later row is skipped and the first one kept.
func (myLibrary *Library) replaceRows(ctx context.Context, t table, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	logger := zerolog.Ctx(ctx)

	tx, err := myLibrary.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	deleteSQL := myLibrary.rebind(t.deleteSQL())
	insertSQL := myLibrary.rebind(t.insertSQL())

	seen := make(map[string]bool, len(rows))
	saved := 0

	for _, row := range rows {
		keyValues := row[:len(t.keys)]
		key := fmt.Sprintf("%q", keyValues)
		if seen[key] {
			logger.Debug().Err(ErrRowConflict).Str("Table", t.name).Str("Key", key).Msg("skipping row")
			continue
		}
		seen[key] = true

		if _, err := tx.ExecContext(ctx, deleteSQL, keyValues...); err != nil {
			if err := tx.Rollback(); err != nil {
				logger.Error().Err(err).Msg("could not rollback transaction")
			}
			return 0, fmt.Errorf("delete from %s: %w", t.name, err)
		}

		if _, err := tx.ExecContext(ctx, insertSQL, row...); err != nil {
			if err := tx.Rollback(); err != nil {
				logger.Error().Err(err).Msg("could not rollback transaction")
			}
			return 0, fmt.Errorf("insert into %s: %w", t.name, err)
		}

		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return saved, nil
}

func nullable(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

// SaveSnapshot stores the raw page text, replacing any snapshot with the same
// ticker, day and section
func (myLibrary *Library) SaveSnapshot(ctx context.Context, snapshot *data.RawSnapshot) error {
	_, err := myLibrary.replaceRows(ctx, snapshotTable, [][]any{{
		snapshot.Ticker,
		snapshot.CapturedAt.Format(data.DateLayout),
		snapshot.Section,
		snapshot.Variant,
		snapshot.RawHTML,
	}})
	return err
}

// SaveRatios stores ratio observations and returns the number saved
func (myLibrary *Library) SaveRatios(ctx context.Context, ratios []*data.RatioRecord) (int, error) {
	rows := make([][]any, 0, len(ratios))
	for _, ratio := range ratios {
		rows = append(rows, []any{ratio.Ticker, ratio.CapturedAt.Format(data.DateLayout), ratio.Metric, ratio.RawText, nullable(ratio.Value)})
	}
	return myLibrary.replaceRows(ctx, ratioTable, rows)
}

// SaveAnnual stores annual statement rows and returns the number saved
func (myLibrary *Library) SaveAnnual(ctx context.Context, records []*data.AnnualRecord) (int, error) {
	rows := make([][]any, 0, len(records))
	for _, record := range records {
		rows = append(rows, []any{record.Ticker, record.FiscalYear, record.Metric, nullable(record.Value)})
	}
	return myLibrary.replaceRows(ctx, annualTable, rows)
}

// SaveQuarterly stores quarterly result rows and returns the number saved
func (myLibrary *Library) SaveQuarterly(ctx context.Context, records []*data.QuarterlyRecord) (int, error) {
	rows := make([][]any, 0, len(records))
	for _, record := range records {
		rows = append(rows, []any{record.Ticker, record.Quarter, record.Metric, nullable(record.Value)})
	}
	return myLibrary.replaceRows(ctx, quarterlyTable, rows)
}

// SaveShareholding stores shareholding rows and returns the number saved
func (myLibrary *Library) SaveShareholding(ctx context.Context, records []*data.ShareholdingRecord) (int, error) {
	rows := make([][]any, 0, len(records))
	for _, record := range records {
		rows = append(rows, []any{record.Ticker, record.Period, record.Holder, nullable(record.Percentage)})
	}
	return myLibrary.replaceRows(ctx, shareholdingTable, rows)
}

// AnnualRecords returns every annual statement row stored for ticker
func (myLibrary *Library) AnnualRecords(ctx context.Context, ticker string) ([]*data.AnnualRecord, error) {
	var records []*data.AnnualRecord
	err := sqlscan.Select(ctx, myLibrary.DB, &records, myLibrary.rebind(
		`SELECT ticker, fiscal_year, metric, value FROM annual_financials WHERE ticker = $1 ORDER BY metric, fiscal_year`), ticker)
	return records, err
}

// QuarterlyRecords returns every quarterly row stored for ticker
func (myLibrary *Library) QuarterlyRecords(ctx context.Context, ticker string) ([]*data.QuarterlyRecord, error) {
	var records []*data.QuarterlyRecord
	err := sqlscan.Select(ctx, myLibrary.DB, &records, myLibrary.rebind(
		`SELECT ticker, quarter, metric, value FROM quarterly_financials WHERE ticker = $1 ORDER BY metric, quarter`), ticker)
	return records, err
}

// ShareholdingRecords returns every shareholding row stored for ticker
func (myLibrary *Library) ShareholdingRecords(ctx context.Context, ticker string) ([]*data.ShareholdingRecord, error) {
	var records []*data.ShareholdingRecord
	err := sqlscan.Select(ctx, myLibrary.DB, &records, myLibrary.rebind(
		`SELECT ticker, period, holder, percentage FROM shareholding_pattern WHERE ticker = $1 ORDER BY holder, period`), ticker)
	return records, err
}

type ratioRow struct {
	Ticker     string          `db:"ticker"`
	CapturedAt string          `db:"captured_at"`
	Metric     string          `db:"metric"`
	RawValue   string          `db:"raw_value"`
	Value      sql.NullFloat64 `db:"value"`
}

// Ratios returns every ratio observation stored for ticker, oldest first
func (myLibrary *Library) Ratios(ctx context.Context, ticker string) ([]*data.RatioRecord, error) {
	var rows []*ratioRow
	if err := sqlscan.Select(ctx, myLibrary.DB, &rows, myLibrary.rebind(
		`SELECT ticker, captured_at, metric, raw_value, value FROM company_ratios WHERE ticker = $1 ORDER BY captured_at, metric`), ticker); err != nil {
		return nil, err
	}

	ratios := make([]*data.RatioRecord, 0, len(rows))
	for _, row := range rows {
		capturedAt, err := time.Parse(data.DateLayout, row.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse captured_at %q: %w", row.CapturedAt, err)
		}

		ratio := &data.RatioRecord{
			Ticker:     row.Ticker,
			CapturedAt: capturedAt,
			Metric:     row.Metric,
			RawText:    row.RawValue,
		}
		if row.Value.Valid {
			ratio.Value = data.Float(row.Value.Float64)
		}
		ratios = append(ratios, ratio)
	}

	return ratios, nil
}

type snapshotRow struct {
	Ticker     string `db:"ticker"`
	CapturedAt string `db:"captured_at"`
	Section    string `db:"section"`
	Variant    string `db:"variant"`
	RawHTML    string `db:"raw_html"`
}

// LatestSnapshot returns the most recent snapshot of section for ticker, or
// nil when none has been captured
func (myLibrary *Library) LatestSnapshot(ctx context.Context, ticker, section string) (*data.RawSnapshot, error) {
	row := snapshotRow{}
	err := sqlscan.Get(ctx, myLibrary.DB, &row, myLibrary.rebind(
		`SELECT ticker, captured_at, section, variant, raw_html FROM raw_snapshots
WHERE ticker = $1 AND section = $2 ORDER BY captured_at DESC LIMIT 1`), ticker, section)
	if sqlscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	capturedAt, err := time.Parse(data.DateLayout, row.CapturedAt)
	if err != nil {
		return nil, fmt.Errorf("parse captured_at %q: %w", row.CapturedAt, err)
	}

	return &data.RawSnapshot{
		Ticker:     row.Ticker,
		CapturedAt: capturedAt,
		Section:    row.Section,
		Variant:    row.Variant,
		RawHTML:    row.RawHTML,
	}, nil
}

// LastCaptured returns the newest ratio capture date for ticker; ok is false
// when no ratios were ever captured
func (myLibrary *Library) LastCaptured(ctx context.Context, ticker string) (capturedAt time.Time, ok bool, err error) {
	var last sql.NullString
	if err := myLibrary.DB.QueryRowContext(ctx, myLibrary.rebind(
		`SELECT max(captured_at) FROM company_ratios WHERE ticker = $1`), ticker).Scan(&last); err != nil {
		return time.Time{}, false, err
	}

	if !last.Valid {
		return time.Time{}, false, nil
	}

	capturedAt, err = time.Parse(data.DateLayout, last.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse captured_at %q: %w", last.String, err)
	}

	return capturedAt, true, nil
}

// IsFresh reports whether the newest ratio snapshot for ticker is at most
// ttlDays old
func (myLibrary *Library) IsFresh(ctx context.Context, ticker string, ttlDays int) (bool, error) {
	last, ok, err := myLibrary.LastCaptured(ctx, ticker)
	if err != nil || !ok {
		return false, err
	}

	age := int(myLibrary.Today().Sub(last).Hours() / 24)
	return age <= ttlDays, nil
}
