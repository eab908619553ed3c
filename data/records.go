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
package data

import (
	"time"

	"github.com/rs/zerolog"
)

// DateLayout is the layout used for every persisted capture date
const DateLayout = "2006-01-02"

// SnapshotFullPage is the section name used for the raw page snapshot
const SnapshotFullPage = "full_page"

// Metric name prefixes used to keep statement line items from colliding with
// identically named profit & loss rows
const (
	BalanceSheetPrefix = "balance_sheet:"
	CashFlowPrefix     = "cash_flow:"
)

// RawSnapshot is the unmodified page text captured for a ticker on a given day
type RawSnapshot struct {
	Ticker     string
	CapturedAt time.Time
	Section    string
	Variant    string
	RawHTML    string
}

// RatioRecord is a single "current ratio" observation. Value is nil when the
// source text did not parse as a number; RawText is always kept for audit.
type RatioRecord struct {
	Ticker     string    `json:"ticker"`
	CapturedAt time.Time `json:"captured_at"`
	Metric     string    `json:"metric"`
	RawText    string    `json:"raw_value"`
	Value      *float64  `json:"value"`
}

// AnnualRecord is one line item of an annual statement for one fiscal year
type AnnualRecord struct {
	Ticker     string   `json:"ticker"`
	FiscalYear string   `json:"fiscal_year"`
	Metric     string   `json:"metric"`
	Value      *float64 `json:"value"`
}

// QuarterlyRecord is one line item of the quarterly results table
type QuarterlyRecord struct {
	Ticker  string   `json:"ticker"`
	Quarter string   `json:"quarter"`
	Metric  string   `json:"metric"`
	Value   *float64 `json:"value"`
}

// ShareholdingRecord is the percentage held by one holder category in a period
type ShareholdingRecord struct {
	Ticker     string   `json:"ticker"`
	Period     string   `json:"period"`
	Holder     string   `json:"holder"`
	Percentage *float64 `json:"percentage"`
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

func (ratio *RatioRecord) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", ratio.Ticker)
	e.Str("CapturedAt", ratio.CapturedAt.Format(DateLayout))
	e.Str("Metric", ratio.Metric)
	e.Str("RawText", ratio.RawText)
	if ratio.Value != nil {
		e.Float64("Value", *ratio.Value)
	}
}

func (annual *AnnualRecord) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", annual.Ticker)
	e.Str("FiscalYear", annual.FiscalYear)
	e.Str("Metric", annual.Metric)
}

func (quarterly *QuarterlyRecord) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", quarterly.Ticker)
	e.Str("Quarter", quarterly.Quarter)
	e.Str("Metric", quarterly.Metric)
}

func (holding *ShareholdingRecord) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", holding.Ticker)
	e.Str("Period", holding.Period)
	e.Str("Holder", holding.Holder)
}
