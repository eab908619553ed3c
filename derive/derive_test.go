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
package derive_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvfund/data"
	"github.com/penny-vault/pvfund/derive"
	"github.com/penny-vault/pvfund/normalize"
)

const ticker = "EXAMPLE"

func annual(year, metric string, value float64) *data.AnnualRecord {
	return &data.AnnualRecord{Ticker: ticker, FiscalYear: year, Metric: metric, Value: data.Float(value)}
}

func quarterly(quarter, metric string, value float64) *data.QuarterlyRecord {
	return &data.QuarterlyRecord{Ticker: ticker, Quarter: quarter, Metric: metric, Value: data.Float(value)}
}

func byMetric(ratios []*data.RatioRecord) map[string]float64 {
	values := make(map[string]float64, len(ratios))
	for _, ratio := range ratios {
		Expect(ratio.Value).NotTo(BeNil())
		values[ratio.Metric] = *ratio.Value
	}
	return values
}

var _ = Describe("Derive", func() {
	var capturedAt time.Time

	BeforeEach(func() {
		capturedAt = time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	})

	It("computes compound sales growth over three years", func() {
		rows := []*data.AnnualRecord{
			annual("Mar 2021", normalize.Sales, 100),
			annual("Mar 2022", normalize.Sales, 110),
			annual("Mar 2023", normalize.Sales, 121),
			annual("Mar 2024", normalize.Sales, 133.1),
			annual("TTM", normalize.Sales, 140),
		}

		values := byMetric(derive.Derive(rows, nil, ticker, capturedAt))
		Expect(values).To(HaveKeyWithValue(derive.SalesGrowthMetric(3), 10.0))
		Expect(values).NotTo(HaveKey(derive.SalesGrowthMetric(5)))
	})

	It("takes growth endpoints in calendar order", func() {
		rows := []*data.AnnualRecord{
			annual("Mar 2024", normalize.Sales, 133.1),
			annual("Mar 2021", normalize.Sales, 100),
			annual("Mar 2023", normalize.Sales, 121),
			annual("Mar 2022", normalize.Sales, 110),
		}

		values := byMetric(derive.Derive(rows, nil, ticker, capturedAt))
		Expect(values).To(HaveKeyWithValue(derive.SalesGrowthMetric(3), 10.0))
	})

	It("skips profit growth when an endpoint is not positive", func() {
		rows := []*data.AnnualRecord{
			annual("Mar 2021", normalize.NetProfit, -5),
			annual("Mar 2022", normalize.NetProfit, 4),
			annual("Mar 2023", normalize.NetProfit, 8),
			annual("Mar 2024", normalize.NetProfit, 12),
		}

		values := byMetric(derive.Derive(rows, nil, ticker, capturedAt))
		Expect(values).NotTo(HaveKey(derive.ProfitGrowthMetric(3)))
	})

	It("computes profit growth for positive endpoints", func() {
		rows := []*data.AnnualRecord{
			annual("Mar 2021", normalize.NetProfit, 10),
			annual("Mar 2022", normalize.NetProfit, 12),
			annual("Mar 2023", normalize.NetProfit, 14),
			annual("Mar 2024", normalize.NetProfit, 16),
		}

		values := byMetric(derive.Derive(rows, nil, ticker, capturedAt))
		Expect(values).To(HaveKeyWithValue(derive.ProfitGrowthMetric(3), 16.96))
	})

	It("re-exports the latest OPM and EPS", func() {
		rows := []*data.AnnualRecord{
			annual("Mar 2023", normalize.OPM, 18),
			annual("Mar 2024", normalize.OPM, 21),
			annual("Mar 2023", normalize.EPS, 4.5),
			annual("Mar 2024", normalize.EPS, 5.25),
		}

		values := byMetric(derive.Derive(rows, nil, ticker, capturedAt))
		Expect(values).To(HaveKeyWithValue(derive.OPM, 21.0))
		Expect(values).To(HaveKeyWithValue(derive.EPS, 5.25))
	})

	It("ignores balance sheet columns when picking the latest fiscal year", func() {
		rows := []*data.AnnualRecord{
			annual("Mar 2021", normalize.Sales, 100),
			annual("Mar 2022", normalize.Sales, 110),
			annual("Mar 2023", normalize.Sales, 121),
			annual("Mar 2024", normalize.Sales, 133.1),
			annual("Mar 2024", normalize.OPM, 21),
			annual("Mar 2024", normalize.EPS, 5.25),
			annual("Mar 2024", data.CashFlowPrefix+"Cash from Operating Activity", 40),
			annual("Sep 2024", data.BalanceSheetPrefix+normalize.Borrowings, 60),
			annual("Sep 2024", data.BalanceSheetPrefix+normalize.EquityCapital, 10),
			annual("Sep 2024", data.BalanceSheetPrefix+normalize.Reserves, 90),
		}

		values := byMetric(derive.Derive(rows, nil, ticker, capturedAt))
		Expect(values).To(HaveKeyWithValue(derive.OPM, 21.0))
		Expect(values).To(HaveKeyWithValue(derive.EPS, 5.25))
		Expect(values).To(HaveKeyWithValue(derive.SalesGrowthMetric(3), 10.0))
		Expect(values).To(HaveKeyWithValue(derive.DebtToEquity, 0.6))
	})

	Context("debt to equity", func() {
		It("prefers balance sheet line items", func() {
			rows := []*data.AnnualRecord{
				annual("Mar 2024", data.BalanceSheetPrefix+normalize.Borrowings, 75),
				annual("Mar 2024", data.BalanceSheetPrefix+normalize.EquityCapital, 10),
				annual("Mar 2024", data.BalanceSheetPrefix+normalize.Reserves, 140),
				annual("Mar 2024", normalize.Borrowings, 999),
			}

			values := byMetric(derive.Derive(rows, nil, ticker, capturedAt))
			Expect(values).To(HaveKeyWithValue(derive.DebtToEquity, 0.5))
		})

		It("accepts un-prefixed line items", func() {
			rows := []*data.AnnualRecord{
				annual("Mar 2024", normalize.Borrowings, 30),
				annual("Mar 2024", normalize.EquityCapital, 20),
				annual("Mar 2024", normalize.Reserves, 70),
			}

			values := byMetric(derive.Derive(rows, nil, ticker, capturedAt))
			Expect(values).To(HaveKeyWithValue(derive.DebtToEquity, 0.33))
		})

		It("is skipped when the denominator is zero", func() {
			rows := []*data.AnnualRecord{
				annual("Mar 2024", normalize.Borrowings, 30),
				annual("Mar 2024", normalize.EquityCapital, 0),
				annual("Mar 2024", normalize.Reserves, 0),
			}

			Expect(derive.Derive(rows, nil, ticker, capturedAt)).To(BeEmpty())
		})

		It("is skipped when an operand is missing", func() {
			rows := []*data.AnnualRecord{
				annual("Mar 2024", normalize.Borrowings, 30),
				annual("Mar 2024", normalize.EquityCapital, 10),
			}

			Expect(derive.Derive(rows, nil, ticker, capturedAt)).To(BeEmpty())
		})
	})

	Context("quarter over quarter", func() {
		It("uses the two most recent quarters by calendar order", func() {
			rows := []*data.QuarterlyRecord{
				quarterly("Dec 2024", normalize.NetProfit, 100),
				quarterly("Sep 2023", normalize.NetProfit, 500),
				quarterly("Sep 2024", normalize.NetProfit, 80),
				quarterly("Jun 2024", normalize.NetProfit, 80),
			}

			values := byMetric(derive.Derive(nil, rows, ticker, capturedAt))
			Expect(values).To(HaveKeyWithValue(derive.QtrProfitVar, 25.0))
		})

		It("computes across a sign change", func() {
			rows := []*data.QuarterlyRecord{
				quarterly("Sep 2024", normalize.NetProfit, -50),
				quarterly("Dec 2024", normalize.NetProfit, 25),
			}

			values := byMetric(derive.Derive(nil, rows, ticker, capturedAt))
			Expect(values).To(HaveKeyWithValue(derive.QtrProfitVar, -150.0))
		})

		It("is skipped when the previous quarter is zero", func() {
			rows := []*data.QuarterlyRecord{
				quarterly("Sep 2024", normalize.NetProfit, 0),
				quarterly("Dec 2024", normalize.NetProfit, 25),
			}

			Expect(derive.Derive(nil, rows, ticker, capturedAt)).To(BeEmpty())
		})

		It("computes the sales variance", func() {
			rows := []*data.QuarterlyRecord{
				quarterly("Sep 2024", normalize.Sales, 1100),
				quarterly("Dec 2024", normalize.Sales, 1250),
			}

			values := byMetric(derive.Derive(nil, rows, ticker, capturedAt))
			Expect(values).To(HaveKeyWithValue(derive.QtrSalesVar, 13.64))
		})
	})

	It("stamps every result with the ticker, capture date and raw text", func() {
		rows := []*data.AnnualRecord{annual("Mar 2024", normalize.OPM, 21.5)}

		ratios := derive.Derive(rows, nil, ticker, capturedAt)
		Expect(ratios).To(HaveLen(1))
		Expect(ratios[0].Ticker).To(Equal(ticker))
		Expect(ratios[0].CapturedAt).To(Equal(capturedAt))
		Expect(ratios[0].RawText).To(Equal("21.5"))
	})

	It("computes nothing without valid periods", func() {
		rows := []*data.AnnualRecord{annual("TTM", normalize.Sales, 10)}
		Expect(derive.Derive(rows, nil, ticker, capturedAt)).To(BeEmpty())
	})
})

type memoryStore struct {
	annual    []*data.AnnualRecord
	quarterly []*data.QuarterlyRecord
	saved     []*data.RatioRecord
	saveErr   error
}

func (store *memoryStore) AnnualRecords(_ context.Context, _ string) ([]*data.AnnualRecord, error) {
	return store.annual, nil
}

func (store *memoryStore) QuarterlyRecords(_ context.Context, _ string) ([]*data.QuarterlyRecord, error) {
	return store.quarterly, nil
}

func (store *memoryStore) SaveRatios(_ context.Context, ratios []*data.RatioRecord) (int, error) {
	if store.saveErr != nil {
		return 0, store.saveErr
	}
	store.saved = append(store.saved, ratios...)
	return len(ratios), nil
}

var _ = Describe("Engine", func() {
	capturedAt := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	It("stores derived ratios and reports success", func() {
		store := &memoryStore{
			annual: []*data.AnnualRecord{annual("Mar 2024", normalize.OPM, 21)},
		}

		ok, err := derive.NewEngine(store).Compute(context.Background(), ticker, capturedAt)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(store.saved).To(HaveLen(1))
		Expect(store.saved[0].Metric).To(Equal(derive.OPM))
	})

	It("reports false when there is nothing to derive", func() {
		store := &memoryStore{}

		ok, err := derive.NewEngine(store).Compute(context.Background(), ticker, capturedAt)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(store.saved).To(BeEmpty())
	})

	It("propagates storage failures", func() {
		boom := errors.New("disk full")
		store := &memoryStore{
			annual:  []*data.AnnualRecord{annual("Mar 2024", normalize.OPM, 21)},
			saveErr: boom,
		}

		ok, err := derive.NewEngine(store).Compute(context.Background(), ticker, capturedAt)
		Expect(err).To(MatchError(boom))
		Expect(ok).To(BeFalse())
	})
})
