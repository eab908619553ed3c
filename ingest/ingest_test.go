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
package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvfund/data"
	"github.com/penny-vault/pvfund/fetcher"
	"github.com/penny-vault/pvfund/ingest"
	"github.com/penny-vault/pvfund/library"
)

type call struct {
	Ticker  string
	Variant fetcher.Variant
}

// fakeFetcher serves fixed pages per variant
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[fetcher.Variant]string
	errs     map[fetcher.Variant]error
	failures int
	panics   bool
	calls    []call

	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(_ context.Context, ticker string, variant fetcher.Variant) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{Ticker: ticker, Variant: variant})
	failing := f.failures > 0
	if failing {
		f.failures--
	}
	f.mu.Unlock()

	if f.release != nil {
		f.started <- struct{}{}
		<-f.release
	}

	if f.panics {
		panic("unexpected markup")
	}

	if failing {
		return "", fmt.Errorf("%w: 503", fetcher.ErrStatus)
	}

	if err := f.errs[variant]; err != nil {
		return "", err
	}

	return f.pages[variant], nil
}

func (f *fakeFetcher) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call{}, f.calls...)
}

// quarterlyFailingStore fails every quarterly save
type quarterlyFailingStore struct {
	*library.Library
}

func (store *quarterlyFailingStore) SaveQuarterly(_ context.Context, _ []*data.QuarterlyRecord) (int, error) {
	return 0, errors.New("quarterly table is locked")
}

func readFixture(name string) string {
	contents, err := os.ReadFile(filepath.Join("testdata", name))
	Expect(err).NotTo(HaveOccurred())
	return string(contents)
}

var _ = Describe("Ingestor", func() {
	var (
		ctx        context.Context
		myLibrary  *library.Library
		now        time.Time
		fullPage   string
		pageFetch  *fakeFetcher
		sleeps     []time.Duration
		config     ingest.Config
		sleepMutex sync.Mutex
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2024, 12, 31, 10, 0, 0, 0, time.UTC)

		var err error
		myLibrary, err = library.Open(ctx, "sqlite://"+filepath.Join(GinkgoT().TempDir(), "pvfund.db"))
		Expect(err).NotTo(HaveOccurred())
		Expect(myLibrary.Migrate()).To(Succeed())
		myLibrary.Clock = func() time.Time { return now }
		DeferCleanup(myLibrary.Close)

		fullPage = readFixture("company.html")
		pageFetch = &fakeFetcher{
			pages: map[fetcher.Variant]string{
				fetcher.Consolidated: fullPage,
				fetcher.Standalone:   fullPage,
			},
		}

		sleeps = nil
		config = ingest.DefaultConfig()
		config.Sleep = func(_ context.Context, d time.Duration) error {
			sleepMutex.Lock()
			defer sleepMutex.Unlock()
			sleeps = append(sleeps, d)
			return nil
		}
	})

	countRows := func(table string) int {
		count := 0
		Expect(myLibrary.DB.QueryRow(fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&count)).To(Succeed())
		return count
	}

	It("ingests every section and marks the ticker complete", func() {
		ingestor := ingest.New(myLibrary, pageFetch, config)
		Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())

		status, err := myLibrary.GetStatus(ctx, "EXAMPLE")
		Expect(err).NotTo(HaveOccurred())
		Expect(status.State).To(Equal(data.Complete))
		Expect(status.ProgressPercent).To(Equal(100))
		Expect(status.ErrorMessage).To(BeEmpty())

		Expect(countRows("company_ratios")).To(Equal(12))
		Expect(countRows("quarterly_financials")).To(Equal(18))
		Expect(countRows("annual_financials")).To(Equal(32))
		Expect(countRows("shareholding_pattern")).To(Equal(8))

		Expect(pageFetch.Calls()).To(Equal([]call{{Ticker: "EXAMPLE", Variant: fetcher.Consolidated}}))
		Expect(sleeps).To(BeEmpty())
	})

	It("stores the derived metrics with the ingestion date", func() {
		ingestor := ingest.New(myLibrary, pageFetch, config)
		Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())

		ratios, err := myLibrary.Ratios(ctx, "EXAMPLE")
		Expect(err).NotTo(HaveOccurred())

		values := make(map[string]float64)
		for _, ratio := range ratios {
			Expect(ratio.CapturedAt).To(BeTemporally("==", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
			if ratio.Value != nil {
				values[ratio.Metric] = *ratio.Value
			}
		}

		Expect(values).To(HaveKeyWithValue("Qtr Profit Var", 25.0))
		Expect(values).To(HaveKeyWithValue("Debt to Equity", 0.5))
		Expect(values).To(HaveKeyWithValue("Sales growth 3Years", 10.0))
	})

	It("leaves the same rows behind when run twice on one day", func() {
		type stored struct {
			ratios       []*data.RatioRecord
			annual       []*data.AnnualRecord
			quarterly    []*data.QuarterlyRecord
			shareholding []*data.ShareholdingRecord
			snapshot     *data.RawSnapshot
		}

		load := func() stored {
			var (
				contents stored
				err      error
			)
			contents.ratios, err = myLibrary.Ratios(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			contents.annual, err = myLibrary.AnnualRecords(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			contents.quarterly, err = myLibrary.QuarterlyRecords(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			contents.shareholding, err = myLibrary.ShareholdingRecords(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			contents.snapshot, err = myLibrary.LatestSnapshot(ctx, "EXAMPLE", data.SnapshotFullPage)
			Expect(err).NotTo(HaveOccurred())
			return contents
		}

		ingestor := ingest.New(myLibrary, pageFetch, config)
		Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())
		first := load()

		Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())
		second := load()

		Expect(second.ratios).To(Equal(first.ratios))
		Expect(second.annual).To(Equal(first.annual))
		Expect(second.quarterly).To(Equal(first.quarterly))
		Expect(second.shareholding).To(Equal(first.shareholding))
		Expect(second.snapshot).To(Equal(first.snapshot))

		Expect(countRows("raw_snapshots")).To(Equal(1))
		Expect(countRows("company_ratios")).To(Equal(12))
		Expect(countRows("quarterly_financials")).To(Equal(18))
		Expect(countRows("annual_financials")).To(Equal(32))
		Expect(countRows("shareholding_pattern")).To(Equal(8))
	})

	It("normalizes the ticker before ingesting", func() {
		ingestor := ingest.New(myLibrary, pageFetch, config)
		Expect(ingestor.Run(ctx, "  example ")).To(Succeed())

		status, err := myLibrary.GetStatus(ctx, "EXAMPLE")
		Expect(err).NotTo(HaveOccurred())
		Expect(status.State).To(Equal(data.Complete))
	})

	Context("page variant", func() {
		It("falls back to the standalone page when consolidated has no annual data", func() {
			standalone := fullPage + "<!-- standalone -->"
			pageFetch.pages[fetcher.Consolidated] = readFixture("no_annual.html")
			pageFetch.pages[fetcher.Standalone] = standalone

			ingestor := ingest.New(myLibrary, pageFetch, config)
			Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())

			Expect(pageFetch.Calls()).To(Equal([]call{
				{Ticker: "EXAMPLE", Variant: fetcher.Consolidated},
				{Ticker: "EXAMPLE", Variant: fetcher.Standalone},
			}))

			snapshot, err := myLibrary.LatestSnapshot(ctx, "EXAMPLE", data.SnapshotFullPage)
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot.RawHTML).To(Equal(standalone))
			Expect(snapshot.Variant).To(Equal(string(fetcher.Standalone)))

			// ratios come from the standalone page too
			ratios, err := myLibrary.Ratios(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(ratios).To(ContainElement(SatisfyAll(
				HaveField("Metric", "Market Cap"),
				HaveField("Value", HaveValue(Equal(123456.0))),
			)))
		})

		It("falls back to the standalone page when there is no consolidated page", func() {
			pageFetch.errs = map[fetcher.Variant]error{
				fetcher.Consolidated: fmt.Errorf("%w: %w: 404", fetcher.ErrNotFound, fetcher.ErrStatus),
			}

			ingestor := ingest.New(myLibrary, pageFetch, config)
			Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())

			snapshot, err := myLibrary.LatestSnapshot(ctx, "EXAMPLE", data.SnapshotFullPage)
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot.Variant).To(Equal(string(fetcher.Standalone)))
		})
	})

	Context("failures", func() {
		It("records the sections that committed before a failing section", func() {
			ingestor := ingest.New(&quarterlyFailingStore{Library: myLibrary}, pageFetch, config)

			err := ingestor.Run(ctx, "EXAMPLE")
			Expect(err).To(HaveOccurred())

			status, err := myLibrary.GetStatus(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.State).To(Equal(data.Failed))
			Expect(status.Sections.Ratios).To(BeTrue())
			Expect(status.Sections.Quarterly).To(BeFalse())
			Expect(status.Sections.Annual).To(BeFalse())
			Expect(status.ProgressPercent).To(Equal(20))
			Expect(status.ErrorMessage).To(ContainSubstring("quarterly table is locked"))

			Expect(pageFetch.Calls()).To(HaveLen(3))
		})

		It("backs off exponentially between attempts", func() {
			config.BackoffBase = 2 * time.Second
			pageFetch.failures = 10

			ingestor := ingest.New(myLibrary, pageFetch, config)
			err := ingestor.Run(ctx, "EXAMPLE")
			Expect(err).To(MatchError(fetcher.ErrStatus))

			Expect(sleeps).To(Equal([]time.Duration{2 * time.Second, 4 * time.Second}))

			status, err := myLibrary.GetStatus(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.State).To(Equal(data.Failed))
			Expect(status.ProgressPercent).To(Equal(0))
		})

		It("completes when a retry succeeds", func() {
			pageFetch.failures = 1

			ingestor := ingest.New(myLibrary, pageFetch, config)
			Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())
			Expect(sleeps).To(HaveLen(1))

			status, err := myLibrary.GetStatus(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.State).To(Equal(data.Complete))
		})

		It("turns a panic into a failed attempt", func() {
			pageFetch.panics = true

			ingestor := ingest.New(myLibrary, pageFetch, config)
			Expect(ingestor.Run(ctx, "EXAMPLE")).To(MatchError(ingest.ErrPanic))

			status, err := myLibrary.GetStatus(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.State).To(Equal(data.Failed))
			Expect(status.ErrorMessage).To(ContainSubstring("unexpected markup"))
		})

		It("marks the ticker failed when cancelled during backoff", func() {
			pageFetch.failures = 10
			cancelled, cancel := context.WithCancel(ctx)
			config.Sleep = func(ctx context.Context, _ time.Duration) error {
				cancel()
				return ctx.Err()
			}

			ingestor := ingest.New(myLibrary, pageFetch, config)
			Expect(ingestor.Run(cancelled, "EXAMPLE")).To(MatchError(context.Canceled))

			status, err := myLibrary.GetStatus(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.State).To(Equal(data.Failed))
		})

		DescribeTable("rejects malformed tickers without recording a status",
			func(ticker string) {
				ingestor := ingest.New(myLibrary, pageFetch, config)
				Expect(ingestor.Run(ctx, ticker)).To(MatchError(ingest.ErrInvalidTicker))
				Expect(pageFetch.Calls()).To(BeEmpty())
				Expect(countRows("fundamental_status")).To(Equal(0))
			},
			Entry("empty", ""),
			Entry("blank", "   "),
			Entry("embedded space", "AB C"),
			Entry("path", "../ETC"),
		)
	})

	It("rejects a second run for a ticker that is in flight", func() {
		pageFetch.started = make(chan struct{}, 1)
		pageFetch.release = make(chan struct{})

		ingestor := ingest.New(myLibrary, pageFetch, config)

		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			done <- ingestor.Run(ctx, "EXAMPLE")
		}()

		Eventually(pageFetch.started).Should(Receive())
		Expect(ingestor.Run(ctx, "EXAMPLE")).To(MatchError(ingest.ErrInProgress))

		close(pageFetch.release)
		Eventually(done).Should(Receive(BeNil()))
	})

	Context("freshness", func() {
		It("skips a complete and fresh ticker", func() {
			ingestor := ingest.New(myLibrary, pageFetch, config)
			Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())

			ran, err := ingestor.RunIfStale(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(ran).To(BeFalse())
			Expect(pageFetch.Calls()).To(HaveLen(1))
		})

		It("re-ingests once the ttl has passed", func() {
			ingestor := ingest.New(myLibrary, pageFetch, config)
			Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())

			now = now.AddDate(0, 0, config.TTLDays+1)
			ran, err := ingestor.RunIfStale(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(ran).To(BeTrue())
			Expect(pageFetch.Calls()).To(HaveLen(2))
		})

		It("skips a ticker recently recorded as in progress", func() {
			Expect(myLibrary.SetStatus(ctx, "EXAMPLE", data.InProgress, "", data.SectionFlags{})).To(Succeed())

			now = now.Add(config.AbandonAfter - time.Minute)
			ingestor := ingest.New(myLibrary, pageFetch, config)
			ran, err := ingestor.RunIfStale(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(ran).To(BeFalse())
			Expect(pageFetch.Calls()).To(BeEmpty())
		})

		It("restarts an in progress ticker that stopped updating", func() {
			Expect(myLibrary.SetStatus(ctx, "EXAMPLE", data.InProgress, "", data.SectionFlags{Ratios: true})).To(Succeed())

			now = now.Add(config.AbandonAfter + time.Minute)
			ingestor := ingest.New(myLibrary, pageFetch, config)
			ran, err := ingestor.RunIfStale(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(ran).To(BeTrue())
			Expect(pageFetch.Calls()).To(HaveLen(1))

			status, err := myLibrary.GetStatus(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.State).To(Equal(data.Complete))
		})

		It("surfaces stale and pending states", func() {
			ingestor := ingest.New(myLibrary, pageFetch, config)
			Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())

			status, err := ingestor.Status(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.State).To(Equal(data.Complete))

			now = now.AddDate(0, 0, config.TTLDays+1)
			status, err = ingestor.Status(ctx, "EXAMPLE")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.State).To(Equal(data.Stale))

			Expect(myLibrary.SetStatus(ctx, "EMPTY", data.Complete, "", data.SectionFlags{})).To(Succeed())
			status, err = ingestor.Status(ctx, "EMPTY")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.State).To(Equal(data.Pending))
		})
	})

	It("ingests a batch of tickers with a worker pool", func() {
		ingestor := ingest.New(myLibrary, pageFetch, config)

		results := ingestor.RunAll(ctx, []string{"AAA", "BBB", "CCC", "bad ticker"}, 2, false)
		Expect(results).To(HaveLen(4))

		for _, result := range results[:3] {
			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.Skipped).To(BeFalse())
		}
		Expect(results[3].Err).To(MatchError(ingest.ErrInvalidTicker))

		statuses, err := ingestor.Statuses(ctx, []string{"AAA", "BBB", "CCC"})
		Expect(err).NotTo(HaveOccurred())
		for _, status := range statuses {
			Expect(status.State).To(Equal(data.Complete))
		}

		// second pass finds everything fresh
		results = ingestor.RunAll(ctx, []string{"AAA", "BBB", "CCC"}, 2, false)
		for _, result := range results {
			Expect(result.Skipped).To(BeTrue())
		}
	})

	It("recomputes derived metrics from stored statements", func() {
		ingestor := ingest.New(myLibrary, pageFetch, config)
		Expect(ingestor.Run(ctx, "EXAMPLE")).To(Succeed())

		ok, err := ingestor.Derive(ctx, "example")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(pageFetch.Calls()).To(HaveLen(1))
	})
})

var _ = Describe("Backoff", func() {
	It("doubles the base delay after each attempt", func() {
		Expect(ingest.Backoff(2*time.Second, 1)).To(Equal(2 * time.Second))
		Expect(ingest.Backoff(2*time.Second, 2)).To(Equal(4 * time.Second))
		Expect(ingest.Backoff(2*time.Second, 3)).To(Equal(8 * time.Second))
	})
})

var _ = Describe("NormalizeTicker", func() {
	It("upper-cases and trims", func() {
		Expect(ingest.NormalizeTicker(" m&m ")).To(Equal("M&M"))
	})
})
