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

// Package export writes the stored time series of a ticker as a single long
// table in CSV or Parquet format.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/gosimple/slug"
	"github.com/penny-vault/pvfund/data"
	"github.com/rs/zerolog/log"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type Format string

const (
	CSV     Format = "csv"
	Parquet Format = "parquet"
)

// Dataset names used in exported rows
const (
	Ratios       = "ratios"
	Annual       = "annual"
	Quarterly    = "quarterly"
	Shareholding = "shareholding"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Row is one observation in the long export table
type Row struct {
	Ticker   string   `csv:"ticker" json:"ticker" parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Dataset  string   `csv:"dataset" json:"dataset" parquet:"name=dataset, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Period   string   `csv:"period" json:"period" parquet:"name=period, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Metric   string   `csv:"metric" json:"metric" parquet:"name=metric, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	RawValue string   `csv:"raw_value" json:"raw_value" parquet:"name=raw_value, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value    *float64 `csv:"value" json:"value" parquet:"name=value, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// Source is the stored data that can be exported
type Source interface {
	Ratios(ctx context.Context, ticker string) ([]*data.RatioRecord, error)
	AnnualRecords(ctx context.Context, ticker string) ([]*data.AnnualRecord, error)
	QuarterlyRecords(ctx context.Context, ticker string) ([]*data.QuarterlyRecord, error)
	ShareholdingRecords(ctx context.Context, ticker string) ([]*data.ShareholdingRecord, error)
}

// ParseFormat validates a user supplied format name
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case CSV:
		return CSV, nil
	case Parquet:
		return Parquet, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, name)
	}
}

// Collect gathers every stored series for ticker into export rows. Ratios are
// keyed by capture date, the other datasets by their period label.
func Collect(ctx context.Context, source Source, ticker string) ([]*Row, error) {
	rows := make([]*Row, 0, 256)

	ratios, err := source.Ratios(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("load ratios: %w", err)
	}
	for _, ratio := range ratios {
		rows = append(rows, &Row{
			Ticker:   ratio.Ticker,
			Dataset:  Ratios,
			Period:   ratio.CapturedAt.Format(data.DateLayout),
			Metric:   ratio.Metric,
			RawValue: ratio.RawText,
			Value:    ratio.Value,
		})
	}

	annual, err := source.AnnualRecords(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("load annual records: %w", err)
	}
	for _, record := range annual {
		rows = append(rows, &Row{Ticker: record.Ticker, Dataset: Annual, Period: record.FiscalYear, Metric: record.Metric, RawValue: formatValue(record.Value), Value: record.Value})
	}

	quarterly, err := source.QuarterlyRecords(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("load quarterly records: %w", err)
	}
	for _, record := range quarterly {
		rows = append(rows, &Row{Ticker: record.Ticker, Dataset: Quarterly, Period: record.Quarter, Metric: record.Metric, RawValue: formatValue(record.Value), Value: record.Value})
	}

	holdings, err := source.ShareholdingRecords(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("load shareholding: %w", err)
	}
	for _, record := range holdings {
		rows = append(rows, &Row{Ticker: record.Ticker, Dataset: Shareholding, Period: record.Period, Metric: record.Holder, RawValue: formatValue(record.Percentage), Value: record.Percentage})
	}

	return rows, nil
}

func formatValue(value *float64) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%g", *value)
}

// FileName returns the export file name for ticker on the given day
func FileName(ticker string, format Format, day time.Time) string {
	return fmt.Sprintf("%s.%s", slug.Make(fmt.Sprintf("%s fundamentals %s", ticker, day.Format(data.DateLayout))), format)
}

// WriteCSV writes rows with a header line
func WriteCSV(out io.Writer, rows []*Row) error {
	return gocsv.Marshal(rows, out)
}

// WriteParquet writes rows to the parquet file fn
func WriteParquet(fn string, rows []*Row) error {
	fh, err := local.NewLocalFileWriter(fn)
	if err != nil {
		log.Error().Err(err).Str("FileName", fn).Msg("cannot create local file")
		return err
	}
	defer fh.Close()

	pw, err := writer.NewParquetWriter(fh, new(Row), 4)
	if err != nil {
		return err
	}

	pw.RowGroupSize = 128 * 1024 * 1024 // 128M
	pw.PageSize = 8 * 1024              // 8k
	pw.CompressionType = parquet.CompressionCodec_ZSTD

	for _, row := range rows {
		if err = pw.Write(row); err != nil {
			log.Error().Err(err).Str("Ticker", row.Ticker).Str("Metric", row.Metric).Str("Period", row.Period).Msg("parquet write failed for row")
			return err
		}
	}

	if err = pw.WriteStop(); err != nil {
		return err
	}

	log.Info().Int("NumRecords", len(rows)).Str("FileName", fn).Msg("parquet write finished")
	return nil
}

// Write collects the stored data for ticker and writes it into dir. The path
// of the new file is returned.
func Write(ctx context.Context, source Source, ticker string, format Format, dir string, day time.Time) (string, error) {
	rows, err := Collect(ctx, source, ticker)
	if err != nil {
		return "", err
	}

	fn := filepath.Join(dir, FileName(ticker, format, day))

	switch format {
	case CSV:
		fh, err := os.Create(fn)
		if err != nil {
			return "", err
		}
		defer fh.Close()

		if err := WriteCSV(fh, rows); err != nil {
			return "", err
		}
	case Parquet:
		if err := WriteParquet(fn, rows); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	return fn, nil
}
