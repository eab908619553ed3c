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
	"math"
	"time"

	"github.com/rs/zerolog"
)

type State string

// Persisted ingestion states
const (
	NotStarted State = "NOT_STARTED"
	InProgress State = "IN_PROGRESS"
	Complete   State = "COMPLETE"
	Failed     State = "FAILED"
)

// Derived states; computed from freshness when reporting and never stored
const (
	Pending State = "PENDING"
	Stale   State = "STALE"
)

// NumSections is the number of independently tracked sections
const NumSections = 5

// SectionFlags records which sections of an ingestion run committed data
type SectionFlags struct {
	Ratios       bool `json:"ratios"`
	Quarterly    bool `json:"quarterly"`
	Annual       bool `json:"annual"`
	Shareholding bool `json:"shareholding"`
	Derived      bool `json:"derived"`
}

// Count returns the number of sections that are done
func (flags SectionFlags) Count() int {
	count := 0
	for _, done := range []bool{flags.Ratios, flags.Quarterly, flags.Annual, flags.Shareholding, flags.Derived} {
		if done {
			count++
		}
	}
	return count
}

// Progress returns the percentage of sections that are done
func (flags SectionFlags) Progress() int {
	return int(math.Round(100 * float64(flags.Count()) / NumSections))
}

// FundamentalStatus is the per-ticker ingestion state
type FundamentalStatus struct {
	Ticker          string       `json:"ticker"`
	State           State        `json:"status"`
	LastUpdated     time.Time    `json:"last_updated"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	Sections        SectionFlags `json:"sections"`
	ProgressPercent int          `json:"progress_pct"`
}

// NewStatus returns a status whose progress is derived from flags
func NewStatus(ticker string, state State, errMsg string, flags SectionFlags, lastUpdated time.Time) *FundamentalStatus {
	return &FundamentalStatus{
		Ticker:          ticker,
		State:           state,
		LastUpdated:     lastUpdated,
		ErrorMessage:    errMsg,
		Sections:        flags,
		ProgressPercent: flags.Progress(),
	}
}

// Surface returns the state reported to callers. A complete ingestion whose
// newest ratio snapshot is older than the freshness window is STALE; one that
// never produced a ratio snapshot is PENDING.
func (status *FundamentalStatus) Surface(fresh, hasSnapshot bool) State {
	if status.State != Complete {
		return status.State
	}

	switch {
	case !hasSnapshot:
		return Pending
	case !fresh:
		return Stale
	default:
		return Complete
	}
}

func (status *FundamentalStatus) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", status.Ticker)
	e.Str("State", string(status.State))
	e.Int("Progress", status.ProgressPercent)
	if status.ErrorMessage != "" {
		e.Str("ErrorMessage", status.ErrorMessage)
	}
}
