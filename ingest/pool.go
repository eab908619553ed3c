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
package ingest

import (
	"context"
	"sync"

	"github.com/penny-vault/pvfund/data"
	"github.com/rs/zerolog/log"
)

// Result is the outcome of one ticker in a batch
type Result struct {
	Ticker  string
	Skipped bool
	Err     error
}

// RunIfStale ingests ticker unless it is already running or its last complete
// ingestion is still fresh. An IN_PROGRESS status that has not been updated
// for AbandonAfter belongs to a run that died and is ingested again. ran is
// false when the run was skipped.
func (ingestor *Ingestor) RunIfStale(ctx context.Context, ticker string) (ran bool, err error) {
	ticker, err = NormalizeTicker(ticker)
	if err != nil {
		return false, err
	}

	status, err := ingestor.store.GetStatus(ctx, ticker)
	if err != nil {
		return false, err
	}

	switch status.State {
	case data.InProgress:
		if _, running := ingestor.running.Get(ticker); running {
			log.Debug().Str("Ticker", ticker).Msg("skipping ticker that is already in progress")
			return false, nil
		}

		idle := ingestor.store.Now().Sub(status.LastUpdated)
		if idle < ingestor.config.AbandonAfter {
			log.Debug().Str("Ticker", ticker).Dur("Idle", idle).Msg("skipping ticker that is in progress elsewhere")
			return false, nil
		}

		log.Warn().Str("Ticker", ticker).Time("LastUpdated", status.LastUpdated).Msg("restarting abandoned ingestion")
	case data.Complete:
		fresh, err := ingestor.store.IsFresh(ctx, ticker, ingestor.config.TTLDays)
		if err != nil {
			return false, err
		}
		if fresh {
			log.Debug().Str("Ticker", ticker).Int("TTLDays", ingestor.config.TTLDays).Msg("skipping fresh ticker")
			return false, nil
		}
	}

	return true, ingestor.Run(ctx, ticker)
}

// RunAll ingests tickers with a pool of workers. When force is false fresh
// tickers are skipped. Results are returned in the order of tickers.
func (ingestor *Ingestor) RunAll(ctx context.Context, tickers []string, workers int, force bool) []*Result {
	if workers < 1 {
		workers = 1
	}

	results := make([]*Result, len(tickers))
	queue := make(chan int, len(tickers))
	for idx := range tickers {
		queue <- idx
	}
	close(queue)

	wg := &sync.WaitGroup{}
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				result := &Result{Ticker: tickers[idx]}
				if ctx.Err() != nil {
					result.Skipped = true
					result.Err = ctx.Err()
				} else if force {
					result.Err = ingestor.Run(ctx, tickers[idx])
				} else {
					ran, err := ingestor.RunIfStale(ctx, tickers[idx])
					result.Skipped = !ran
					result.Err = err
				}
				results[idx] = result
			}
		}()
	}

	wg.Wait()

	return results
}

// Status returns the status of ticker with freshness applied: a complete
// ingestion whose ratios are older than the ttl is reported STALE and one
// without any ratio snapshot PENDING
func (ingestor *Ingestor) Status(ctx context.Context, ticker string) (*data.FundamentalStatus, error) {
	ticker, err := NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	status, err := ingestor.store.GetStatus(ctx, ticker)
	if err != nil {
		return nil, err
	}

	if status.State != data.Complete {
		return status, nil
	}

	_, hasSnapshot, err := ingestor.store.LastCaptured(ctx, ticker)
	if err != nil {
		return nil, err
	}

	fresh, err := ingestor.store.IsFresh(ctx, ticker, ingestor.config.TTLDays)
	if err != nil {
		return nil, err
	}

	status.State = status.Surface(fresh, hasSnapshot)
	return status, nil
}

// Statuses is Status for several tickers
func (ingestor *Ingestor) Statuses(ctx context.Context, tickers []string) ([]*data.FundamentalStatus, error) {
	statuses := make([]*data.FundamentalStatus, 0, len(tickers))
	for _, ticker := range tickers {
		status, err := ingestor.Status(ctx, ticker)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
