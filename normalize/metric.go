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
package normalize

import (
	"strings"
)

// Canonical metric names that other packages look up by value
const (
	Sales           = "Sales +"
	Expenses        = "Expenses +"
	NetProfit       = "Net Profit +"
	OperatingProfit = "Operating Profit"
	OPM             = "OPM %"
	EPS             = "EPS in Rs"
	Borrowings      = "Borrowings +"
	EquityCapital   = "Equity Capital"
	Reserves        = "Reserves"
)

var labelNoise = strings.NewReplacer(
	"\u00a0", " ",
	"+", "",
	"%", "",
	"(", "",
	")", "",
)

// DefaultAliases returns a new copy of the alias table used for the source
// pages. Keys are lookup keys as produced by LookupKey.
func DefaultAliases() map[string]string {
	return map[string]string{
		"sales":            Sales,
		"revenue":          Sales,
		"expenses":         Expenses,
		"net profit":       NetProfit,
		"operating profit": OperatingProfit,
		"financing profit": OperatingProfit,
		"opm":              OPM,
		"eps in rs":        EPS,
		"borrowings":       Borrowings,
		"equity capital":   EquityCapital,
		"reserves":         Reserves,
		"promoters":        "Promoters",
		"fiis":             "FIIs",
		"diis":             "DIIs",
		"public":           "Public",
		"government":       "Government",
	}
}

// LookupKey folds case, whitespace and punctuation so that spelling variants
// of the same label share one key
func LookupKey(label string) string {
	key := strings.ToLower(labelNoise.Replace(label))
	return strings.Join(strings.Fields(key), " ")
}

// Canonicalizer maps raw labels onto canonical metric names. It is immutable
// after construction and safe for concurrent use.
type Canonicalizer struct {
	aliases map[string]string
}

// NewCanonicalizer copies aliases into a new Canonicalizer. Alias keys are
// passed through LookupKey so callers may use any spelling.
func NewCanonicalizer(aliases map[string]string) *Canonicalizer {
	copied := make(map[string]string, len(aliases))
	for k, v := range aliases {
		copied[LookupKey(k)] = v
	}

	return &Canonicalizer{
		aliases: copied,
	}
}

// Canonical returns the canonical name for label; unknown labels are only
// trimmed
func (canon *Canonicalizer) Canonical(label string) string {
	if name, ok := canon.aliases[LookupKey(label)]; ok {
		return name
	}
	return strings.TrimSpace(label)
}
