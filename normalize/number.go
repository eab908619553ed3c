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

// Package normalize cleans the text found in source tables: numbers are
// stripped of currency and unit noise and metric labels are mapped to a
// canonical spelling.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	decimalRegex = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

	numberNoise = strings.NewReplacer(
		"\u00a0", " ",
		"₹", "",
		"Rs.", "",
		"$", "",
		"€", "",
		"£", "",
		",", "",
		"%", "",
	)
)

// ParseNumber extracts a decimal value from a table cell. Malformed input is
// expected from the source and yields ok=false rather than an error.
func ParseNumber(text string) (value float64, ok bool) {
	cleaned := strings.TrimSpace(numberNoise.Replace(text))

	// unit marker
	if trimmed, found := strings.CutSuffix(cleaned, "Cr."); found {
		cleaned = strings.TrimSpace(trimmed)
	} else if trimmed, found := strings.CutSuffix(cleaned, "Cr"); found {
		cleaned = strings.TrimSpace(trimmed)
	}

	if !decimalRegex.MatchString(cleaned) {
		return 0, false
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}

	return value, true
}

// Number is ParseNumber returning nil when there is no value
func Number(text string) *float64 {
	value, ok := ParseNumber(text)
	if !ok {
		return nil
	}
	return &value
}
