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

// Package extract turns the sections of a company page into long-format
// records. A section that is missing from the page simply yields no rows.
package extract

import (
	"time"

	"github.com/penny-vault/pvfund/data"
	"github.com/penny-vault/pvfund/htmlquery"
	"github.com/penny-vault/pvfund/normalize"
)

// Section ids on the company page
const (
	RatiosID       = "top-ratios"
	QuartersID     = "quarters"
	ProfitLossID   = "profit-loss"
	BalanceSheetID = "balance-sheet"
	CashFlowID     = "cash-flow"
	ShareholdingID = "shareholding"
)

// DefaultDenyList names top ratios the source derives incorrectly; the
// derived metrics engine computes its own values for them
func DefaultDenyList() []string {
	return []string{"Qtr Profit Var", "Qtr Sales Var"}
}

type Extractor struct {
	canon  *normalize.Canonicalizer
	denied map[string]struct{}
}

// New creates an extractor. The deny list is copied and matched on lookup keys
// so spelling variants of a denied ratio are filtered as well.
func New(canon *normalize.Canonicalizer, denyList []string) *Extractor {
	denied := make(map[string]struct{}, len(denyList))
	for _, name := range denyList {
		denied[normalize.LookupKey(name)] = struct{}{}
	}

	return &Extractor{
		canon:  canon,
		denied: denied,
	}
}

func (ex *Extractor) isDenied(names ...string) bool {
	for _, name := range names {
		if _, ok := ex.denied[normalize.LookupKey(name)]; ok {
			return true
		}
	}
	return false
}

// Ratios reads the top-ratios list. Items lacking a name or value are skipped.
func (ex *Extractor) Ratios(doc htmlquery.Document, ticker string, capturedAt time.Time) []*data.RatioRecord {
	list, ok := doc.ByID(RatiosID)
	if !ok {
		return nil
	}

	items := list.Find("li")
	ratios := make([]*data.RatioRecord, 0, len(items))
	for _, item := range items {
		nameNode, ok := item.First("span.name")
		if !ok {
			continue
		}
		valueNode, ok := item.First("span.value")
		if !ok {
			continue
		}

		rawName := nameNode.Text()
		if rawName == "" {
			continue
		}

		metric := ex.canon.Canonical(rawName)
		if ex.isDenied(rawName, metric) {
			continue
		}

		raw := valueNode.Text()
		ratios = append(ratios, &data.RatioRecord{
			Ticker:     ticker,
			CapturedAt: capturedAt,
			Metric:     metric,
			RawText:    raw,
			Value:      normalize.Number(raw),
		})
	}

	return ratios
}

// Quarterly un-pivots the quarterly results table
func (ex *Extractor) Quarterly(doc htmlquery.Document, ticker string) []*data.QuarterlyRecord {
	cells := sectionCells(doc, QuartersID)
	records := make([]*data.QuarterlyRecord, 0, len(cells))
	for _, cell := range cells {
		records = append(records, &data.QuarterlyRecord{
			Ticker:  ticker,
			Quarter: cell.Period,
			Metric:  ex.canon.Canonical(cell.Label),
			Value:   normalize.Number(cell.Raw),
		})
	}
	return records
}

// Annual un-pivots the profit & loss, balance sheet and cash flow tables.
// Balance sheet and cash flow metrics are prefixed so they never collide with
// a profit & loss row of the same name.
func (ex *Extractor) Annual(doc htmlquery.Document, ticker string) []*data.AnnualRecord {
	statements := []struct {
		id     string
		prefix string
	}{
		{ProfitLossID, ""},
		{BalanceSheetID, data.BalanceSheetPrefix},
		{CashFlowID, data.CashFlowPrefix},
	}

	records := make([]*data.AnnualRecord, 0, 256)
	for _, statement := range statements {
		for _, cell := range sectionCells(doc, statement.id) {
			records = append(records, &data.AnnualRecord{
				Ticker:     ticker,
				FiscalYear: cell.Period,
				Metric:     statement.prefix + ex.canon.Canonical(cell.Label),
				Value:      normalize.Number(cell.Raw),
			})
		}
	}

	return records
}

// Shareholding un-pivots the first shareholding pattern table
func (ex *Extractor) Shareholding(doc htmlquery.Document, ticker string) []*data.ShareholdingRecord {
	cells := sectionCells(doc, ShareholdingID)
	records := make([]*data.ShareholdingRecord, 0, len(cells))
	for _, cell := range cells {
		records = append(records, &data.ShareholdingRecord{
			Ticker:     ticker,
			Period:     cell.Period,
			Holder:     ex.canon.Canonical(cell.Label),
			Percentage: normalize.Number(cell.Raw),
		})
	}
	return records
}

// HasAnnualData reports whether the page carries a profit & loss table with at
// least one fiscal year column
func HasAnnualData(doc htmlquery.Document) bool {
	section, ok := doc.ByID(ProfitLossID)
	if !ok {
		return false
	}

	table, ok := section.FirstTable()
	if !ok {
		return false
	}

	for _, caption := range table.Header {
		if data.IsPeriodLabel(caption) {
			return true
		}
	}

	return false
}

func sectionCells(doc htmlquery.Document, id string) []Cell {
	section, ok := doc.ByID(id)
	if !ok {
		return nil
	}

	table, ok := section.FirstTable()
	if !ok {
		return nil
	}

	return Unpivot(table.Header, table.Rows)
}
