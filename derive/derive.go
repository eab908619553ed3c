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

// Package derive recomputes ratios from persisted statement rows. Derivation
// reads only stored annual and quarterly data so it can run without a fresh
// fetch.
package derive

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/penny-vault/pvfund/data"
	"github.com/penny-vault/pvfund/normalize"
	"github.com/rs/zerolog"
)

// Derived metric names
const (
	OPM          = "OPM"
	EPS          = "EPS"
	DebtToEquity = "Debt to Equity"
	QtrProfitVar = "Qtr Profit Var"
	QtrSalesVar  = "Qtr Sales Var"
)

// GrowthYears are the compound growth horizons that are computed
var GrowthYears = []int{3, 5}

func SalesGrowthMetric(years int) string {
	return fmt.Sprintf("Sales growth %dYears", years)
}

func ProfitGrowthMetric(years int) string {
	return fmt.Sprintf("Profit Var %dYrs", years)
}

// series maps metric -> period -> value
type series map[string]map[string]float64

func (s series) get(metric, period string) (float64, bool) {
	values, ok := s[metric]
	if !ok {
		return 0, false
	}
	value, ok := values[period]
	return value, ok
}

// first returns the value of the first metric in names that has one for period
func (s series) first(period string, names ...string) (float64, bool) {
	for _, name := range names {
		if value, ok := s.get(name, period); ok {
			return value, true
		}
	}
	return 0, false
}

func (s series) add(metric, period string, value *float64) {
	if value == nil {
		return
	}
	if _, ok := s[metric]; !ok {
		s[metric] = make(map[string]float64)
	}
	s[metric][period] = *value
}

// Derive computes every derived ratio it can from the given rows. Rows that
// belong to other tickers are ignored. An empty result means nothing could be
// computed.
func Derive(annual []*data.AnnualRecord, quarterly []*data.QuarterlyRecord, ticker string, capturedAt time.Time) []*data.RatioRecord {
	// each statement has its own columns; balance sheets often carry an
	// interim period that profit & loss does not
	yearly := make(series)
	profitLossLabels := make([]string, 0, len(annual))
	balanceSheetLabels := make([]string, 0, len(annual))
	for _, record := range annual {
		if record.Ticker != ticker {
			continue
		}
		yearly.add(record.Metric, record.FiscalYear, record.Value)

		switch {
		case strings.HasPrefix(record.Metric, data.BalanceSheetPrefix):
			balanceSheetLabels = append(balanceSheetLabels, record.FiscalYear)
		case strings.HasPrefix(record.Metric, data.CashFlowPrefix):
		default:
			profitLossLabels = append(profitLossLabels, record.FiscalYear)
		}
	}

	quarterlySeries := make(series)
	quarterLabels := make([]string, 0, len(quarterly))
	for _, record := range quarterly {
		if record.Ticker != ticker {
			continue
		}
		quarterlySeries.add(record.Metric, record.Quarter, record.Value)
		quarterLabels = append(quarterLabels, record.Quarter)
	}

	results := make([]*data.RatioRecord, 0, 10)
	emit := func(metric string, value float64) {
		results = append(results, &data.RatioRecord{
			Ticker:     ticker,
			CapturedAt: capturedAt,
			Metric:     metric,
			RawText:    strconv.FormatFloat(value, 'f', -1, 64),
			Value:      data.Float(value),
		})
	}

	years := data.SortPeriods(profitLossLabels)
	if len(years) > 0 {
		latest := years[len(years)-1]

		if opm, ok := yearly.get(normalize.OPM, latest); ok {
			emit(OPM, opm)
		}

		if eps, ok := yearly.get(normalize.EPS, latest); ok {
			emit(EPS, eps)
		}

		for _, n := range GrowthYears {
			if len(years) <= n {
				continue
			}
			start := years[len(years)-1-n]

			if growth, ok := cagr(yearly, normalize.Sales, start, latest, n); ok {
				emit(SalesGrowthMetric(n), growth)
			}

			if growth, ok := cagr(yearly, normalize.NetProfit, start, latest, n); ok {
				emit(ProfitGrowthMetric(n), growth)
			}
		}
	}

	// un-prefixed balance sheet items share the profit & loss columns
	balanceYears := data.SortPeriods(balanceSheetLabels)
	if len(balanceYears) == 0 {
		balanceYears = years
	}
	if len(balanceYears) > 0 {
		if ratio, ok := debtToEquity(yearly, balanceYears[len(balanceYears)-1]); ok {
			emit(DebtToEquity, ratio)
		}
	}

	quarters := data.SortPeriods(quarterLabels)
	if len(quarters) >= 2 {
		latest := quarters[len(quarters)-1]
		previous := quarters[len(quarters)-2]

		if variance, ok := change(quarterlySeries, normalize.NetProfit, previous, latest); ok {
			emit(QtrProfitVar, variance)
		}

		if variance, ok := change(quarterlySeries, normalize.Sales, previous, latest); ok {
			emit(QtrSalesVar, variance)
		}
	}

	return results
}

func debtToEquity(yearly series, year string) (float64, bool) {
	borrowings, ok := yearly.first(year, data.BalanceSheetPrefix+normalize.Borrowings, normalize.Borrowings)
	if !ok {
		return 0, false
	}

	equity, ok := yearly.first(year, data.BalanceSheetPrefix+normalize.EquityCapital, normalize.EquityCapital)
	if !ok {
		return 0, false
	}

	reserves, ok := yearly.first(year, data.BalanceSheetPrefix+normalize.Reserves, normalize.Reserves)
	if !ok {
		return 0, false
	}

	denominator := equity + reserves
	if denominator == 0 {
		return 0, false
	}

	return round2(borrowings / denominator), true
}

// cagr is the compound annual growth in percent; both endpoints must be
// strictly positive
func cagr(yearly series, metric, start, end string, years int) (float64, bool) {
	first, ok := yearly.get(metric, start)
	if !ok || first <= 0 {
		return 0, false
	}

	last, ok := yearly.get(metric, end)
	if !ok || last <= 0 {
		return 0, false
	}

	return round2((math.Pow(last/first, 1/float64(years)) - 1) * 100), true
}

// change is the percentage change from previous to latest; sign changes are
// allowed
func change(quarterly series, metric, previous, latest string) (float64, bool) {
	prev, ok := quarterly.get(metric, previous)
	if !ok || prev == 0 {
		return 0, false
	}

	curr, ok := quarterly.get(metric, latest)
	if !ok {
		return 0, false
	}

	return round2((curr - prev) / prev * 100), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Store is the persistence needed by Engine
type Store interface {
	AnnualRecords(ctx context.Context, ticker string) ([]*data.AnnualRecord, error)
	QuarterlyRecords(ctx context.Context, ticker string) ([]*data.QuarterlyRecord, error)
	SaveRatios(ctx context.Context, ratios []*data.RatioRecord) (int, error)
}

// Engine loads stored statements, derives ratios and writes them back
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
	}
}

// Compute derives ratios for ticker and stores them under capturedAt. The
// boolean result is false when nothing could be computed.
func (engine *Engine) Compute(ctx context.Context, ticker string, capturedAt time.Time) (bool, error) {
	logger := zerolog.Ctx(ctx)

	annual, err := engine.store.AnnualRecords(ctx, ticker)
	if err != nil {
		return false, fmt.Errorf("load annual records: %w", err)
	}

	quarterly, err := engine.store.QuarterlyRecords(ctx, ticker)
	if err != nil {
		return false, fmt.Errorf("load quarterly records: %w", err)
	}

	ratios := Derive(annual, quarterly, ticker, capturedAt)
	if len(ratios) == 0 {
		logger.Warn().Str("Ticker", ticker).Msg("no derived metrics could be computed")
		return false, nil
	}

	saved, err := engine.store.SaveRatios(ctx, ratios)
	if err != nil {
		return false, fmt.Errorf("save derived ratios: %w", err)
	}

	logger.Info().Str("Ticker", ticker).Int("NumMetrics", saved).Msg("derived metrics stored")

	return saved > 0, nil
}
