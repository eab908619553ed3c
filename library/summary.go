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
package library

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/penny-vault/pvfund/data"
	"github.com/xeonx/timeago"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// redactedURL hides the password of a database url
func redactedURL(dbURL string) string {
	parsed, err := url.Parse(dbURL)
	if err != nil || parsed.User == nil {
		return dbURL
	}
	return parsed.Redacted()
}

// Summary returns a description of the library in markdown
func (myLibrary *Library) Summary(ctx context.Context) (string, error) {
	p := message.NewPrinter(language.English)
	builder := strings.Builder{}

	if _, err := builder.WriteString(fmt.Sprintf("# %s\n", myLibrary.Name)); err != nil {
		return "", err
	}

	if _, err := builder.WriteString("## Details\n\n"); err != nil {
		return "", err
	}

	if _, err := builder.WriteString(fmt.Sprintf("Database: %s\n\n", redactedURL(myLibrary.DBUrl))); err != nil {
		return "", err
	}

	if myLibrary.Owner != "" {
		if _, err := builder.WriteString(fmt.Sprintf("Owner: %s\n\n", myLibrary.Owner)); err != nil {
			return "", err
		}
	}

	totalTickers, err := myLibrary.TotalTickers(ctx)
	if err != nil {
		return "", err
	}

	if _, err := builder.WriteString(p.Sprintf("  * Tickers Tracked: %d\n", totalTickers)); err != nil {
		return "", err
	}

	totalRecords, err := myLibrary.TotalRecords(ctx)
	if err != nil {
		return "", err
	}

	if _, err := builder.WriteString(p.Sprintf("  * Total Records: %d\n\n", totalRecords)); err != nil {
		return "", err
	}

	lastUpdated, err := myLibrary.LastUpdated(ctx)
	if err != nil {
		return "", err
	}

	if lastUpdated.Equal(time.Time{}) {
		if _, err := builder.WriteString("Last Updated: Never\n\n"); err != nil {
			return "", err
		}
	} else {
		age := timeago.English.Format(lastUpdated)
		if _, err := builder.WriteString(fmt.Sprintf("Last Updated: %s (%s)\n\n", age, lastUpdated.Local().Format("01/02/2006"))); err != nil {
			return "", err
		}
	}

	// ingestion states
	if _, err := builder.WriteString("## Ingestion\n\n"); err != nil {
		return "", err
	}

	counts, err := myLibrary.StateCounts(ctx)
	if err != nil {
		return "", err
	}

	for _, state := range []data.State{data.Complete, data.InProgress, data.Failed} {
		if _, err := builder.WriteString(p.Sprintf("  * %s: %d\n", state, counts[state])); err != nil {
			return "", err
		}
	}

	return builder.String(), nil
}
