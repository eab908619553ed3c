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

// Package ingest runs the per-ticker ingestion state machine: fetch a company
// page, extract each section, store it, derive ratios and record progress.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"github.com/penny-vault/pvfund/data"
	"github.com/penny-vault/pvfund/derive"
	"github.com/penny-vault/pvfund/extract"
	"github.com/penny-vault/pvfund/fetcher"
	"github.com/penny-vault/pvfund/normalize"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidTicker = errors.New("invalid ticker")
	ErrInProgress    = errors.New("ingestion already in progress")
	ErrPanic         = errors.New("ingestion attempt panicked")
)

var tickerRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9&._-]*$`)

// Store is the persistence used by an ingestion run
type Store interface {
	derive.Store

	Now() time.Time
	Today() time.Time
	SaveSnapshot(ctx context.Context, snapshot *data.RawSnapshot) error
	SaveQuarterly(ctx context.Context, records []*data.QuarterlyRecord) (int, error)
	SaveAnnual(ctx context.Context, records []*data.AnnualRecord) (int, error)
	SaveShareholding(ctx context.Context, records []*data.ShareholdingRecord) (int, error)

	SetStatus(ctx context.Context, ticker string, state data.State, errMsg string, flags data.SectionFlags) error
	GetStatus(ctx context.Context, ticker string) (*data.FundamentalStatus, error)
	IsFresh(ctx context.Context, ticker string, ttlDays int) (bool, error)
	LastCaptured(ctx context.Context, ticker string) (time.Time, bool, error)
}

type Config struct {
	Retries     int
	BackoffBase time.Duration
	TTLDays     int

	// AbandonAfter is how long an IN_PROGRESS status may go without an
	// update before the run is considered dead and the ticker is ingested
	// again
	AbandonAfter time.Duration

	// Aliases and DenyList default to the normalize and extract tables
	Aliases  map[string]string
	DenyList []string

	// Sleep waits between attempts; defaults to fetcher.Sleep
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Retries:     3,
		BackoffBase: 2 * time.Second,
		TTLDays:     30,

		AbandonAfter: time.Hour,
	}
}

type Ingestor struct {
	store     Store
	fetcher   fetcher.Fetcher
	extractor *extract.Extractor
	engine    *derive.Engine
	config    Config

	// tickers with a run in flight, mapped to the run id
	running *haxmap.Map[string, string]
}

func New(store Store, pageFetcher fetcher.Fetcher, config Config) *Ingestor {
	if config.Retries < 1 {
		config.Retries = 1
	}

	if config.Aliases == nil {
		config.Aliases = normalize.DefaultAliases()
	}

	if config.DenyList == nil {
		config.DenyList = extract.DefaultDenyList()
	}

	if config.Sleep == nil {
		config.Sleep = fetcher.Sleep
	}

	return &Ingestor{
		store:     store,
		fetcher:   pageFetcher,
		extractor: extract.New(normalize.NewCanonicalizer(config.Aliases), config.DenyList),
		engine:    derive.NewEngine(store),
		config:    config,
		running:   haxmap.New[string, string](),
	}
}

// NormalizeTicker trims and upper-cases ticker and checks that it is a
// plausible exchange symbol
func NormalizeTicker(ticker string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(ticker))
	if !tickerRegex.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}
	return normalized, nil
}

// Backoff returns the wait after the given failed attempt (1-based)
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Run ingests ticker, retrying failed attempts with exponential backoff. The
// final status is always COMPLETE or FAILED unless the ticker is invalid or
// already running.
func (ingestor *Ingestor) Run(ctx context.Context, ticker string) error {
	ticker, err := NormalizeTicker(ticker)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	if current, loaded := ingestor.running.GetOrSet(ticker, runID); loaded {
		return fmt.Errorf("%w: %s (run %s)", ErrInProgress, ticker, current)
	}
	defer ingestor.running.Del(ticker)

	logger := log.With().Str("Ticker", ticker).Str("RunID", runID).Logger()
	ctx = logger.WithContext(ctx)

	// status writes that must land even if ctx is cancelled
	statusCtx := context.WithoutCancel(ctx)

	if err := ingestor.store.SetStatus(ctx, ticker, data.InProgress, "", data.SectionFlags{}); err != nil {
		return fmt.Errorf("mark %s in progress: %w", ticker, err)
	}

	start := time.Now()

	var (
		flags   data.SectionFlags
		lastErr error
	)

	for attempt := 1; attempt <= ingestor.config.Retries; attempt++ {
		flags, lastErr = ingestor.runOnce(ctx, ticker)
		if lastErr == nil {
			if err := ingestor.store.SetStatus(statusCtx, ticker, data.Complete, "", flags); err != nil {
				return fmt.Errorf("mark %s complete: %w", ticker, err)
			}

			logger.Info().Int("Attempt", attempt).Int("Progress", flags.Progress()).Dur("Elapsed", time.Since(start)).Msg("ingestion complete")
			return nil
		}

		logger.Warn().Err(lastErr).Int("Attempt", attempt).Int("Retries", ingestor.config.Retries).Msg("ingestion attempt failed")

		if attempt == ingestor.config.Retries {
			break
		}

		if err := ingestor.config.Sleep(ctx, Backoff(ingestor.config.BackoffBase, attempt)); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	if err := ingestor.store.SetStatus(statusCtx, ticker, data.Failed, lastErr.Error(), flags); err != nil {
		logger.Error().Err(err).Msg("could not mark ingestion failed")
	}

	logger.Error().Err(lastErr).Int("Progress", flags.Progress()).Msg("ingestion failed")

	return fmt.Errorf("ingest %s: %w", ticker, lastErr)
}

// runOnce is a single attempt. The returned flags describe the sections that
// committed, even when an error is returned.
func (ingestor *Ingestor) runOnce(ctx context.Context, ticker string) (flags data.SectionFlags, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	logger := log.Ctx(ctx)
	capturedAt := ingestor.store.Today()

	page, err := ingestor.fetchPage(ctx, ticker)
	if err != nil {
		return flags, err
	}

	logger.Info().Str("Variant", string(page.variant)).Msg("selected page variant")

	if err := ingestor.store.SaveSnapshot(ctx, &data.RawSnapshot{
		Ticker:     ticker,
		CapturedAt: capturedAt,
		Section:    data.SnapshotFullPage,
		Variant:    string(page.variant),
		RawHTML:    page.html,
	}); err != nil {
		return flags, fmt.Errorf("save snapshot: %w", err)
	}

	// ratios
	saved, err := ingestor.store.SaveRatios(ctx, ingestor.extractor.Ratios(page.doc, ticker, capturedAt))
	if err != nil {
		return flags, fmt.Errorf("save ratios: %w", err)
	}
	flags.Ratios = saved > 0
	if err := ingestor.progress(ctx, ticker, flags); err != nil {
		return flags, err
	}

	// quarterly results
	saved, err = ingestor.store.SaveQuarterly(ctx, ingestor.extractor.Quarterly(page.doc, ticker))
	if err != nil {
		return flags, fmt.Errorf("save quarterly results: %w", err)
	}
	flags.Quarterly = saved > 0
	if err := ingestor.progress(ctx, ticker, flags); err != nil {
		return flags, err
	}

	// annual statements
	saved, err = ingestor.store.SaveAnnual(ctx, ingestor.extractor.Annual(page.doc, ticker))
	if err != nil {
		return flags, fmt.Errorf("save annual statements: %w", err)
	}
	flags.Annual = saved > 0
	if err := ingestor.progress(ctx, ticker, flags); err != nil {
		return flags, err
	}

	// shareholding pattern
	saved, err = ingestor.store.SaveShareholding(ctx, ingestor.extractor.Shareholding(page.doc, ticker))
	if err != nil {
		return flags, fmt.Errorf("save shareholding: %w", err)
	}
	flags.Shareholding = saved > 0
	if err := ingestor.progress(ctx, ticker, flags); err != nil {
		return flags, err
	}

	derived, err := ingestor.engine.Compute(ctx, ticker, capturedAt)
	if err != nil {
		return flags, fmt.Errorf("derive metrics: %w", err)
	}
	flags.Derived = derived

	return flags, nil
}

func (ingestor *Ingestor) progress(ctx context.Context, ticker string, flags data.SectionFlags) error {
	if err := ingestor.store.SetStatus(ctx, ticker, data.InProgress, "", flags); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}

// Derive recomputes derived metrics for ticker from stored statements
func (ingestor *Ingestor) Derive(ctx context.Context, ticker string) (bool, error) {
	ticker, err := NormalizeTicker(ticker)
	if err != nil {
		return false, err
	}
	return ingestor.engine.Compute(ctx, ticker, ingestor.store.Today())
}
