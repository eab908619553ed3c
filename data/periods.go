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
	"regexp"
	"sort"
	"time"
)

var periodRegex = regexp.MustCompile(`^(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec) \d{4}$`)

// IsPeriodLabel reports whether label has the strict "Mon YYYY" shape used for
// fiscal years and quarters
func IsPeriodLabel(label string) bool {
	return periodRegex.MatchString(label)
}

// ParsePeriod converts a "Mon YYYY" label into the first day of that month
func ParsePeriod(label string) (time.Time, bool) {
	if !IsPeriodLabel(label) {
		return time.Time{}, false
	}

	period, err := time.Parse("Jan 2006", label)
	if err != nil {
		return time.Time{}, false
	}

	return period, true
}

// SortPeriods returns the valid period labels in chronological order; labels
// that are not periods (e.g. TTM) are dropped and duplicates removed
func SortPeriods(labels []string) []string {
	seen := make(map[string]time.Time, len(labels))
	for _, label := range labels {
		if period, ok := ParsePeriod(label); ok {
			seen[label] = period
		}
	}

	sorted := make([]string, 0, len(seen))
	for label := range seen {
		sorted = append(sorted, label)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return seen[sorted[i]].Before(seen[sorted[j]])
	})

	return sorted
}
