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
	"errors"
	"fmt"

	"github.com/penny-vault/pvfund/extract"
	"github.com/penny-vault/pvfund/fetcher"
	"github.com/penny-vault/pvfund/htmlquery"
	"github.com/rs/zerolog/log"
)

type page struct {
	html    string
	doc     *htmlquery.HTMLDocument
	variant fetcher.Variant
}

func (ingestor *Ingestor) load(ctx context.Context, ticker string, variant fetcher.Variant) (*page, error) {
	html, err := ingestor.fetcher.Fetch(ctx, ticker, variant)
	if err != nil {
		return nil, err
	}

	doc, err := htmlquery.Parse(html)
	if err != nil {
		return nil, fmt.Errorf("parse %s page: %w", variant, err)
	}

	return &page{
		html:    html,
		doc:     doc,
		variant: variant,
	}, nil
}

// fetchPage prefers the consolidated page and falls back to the standalone
// one when consolidated figures are missing. The selected page is used for
// every section of the run.
func (ingestor *Ingestor) fetchPage(ctx context.Context, ticker string) (*page, error) {
	logger := log.Ctx(ctx)

	consolidated, err := ingestor.load(ctx, ticker, fetcher.Consolidated)
	switch {
	case errors.Is(err, fetcher.ErrNotFound):
		logger.Warn().Msg("no consolidated page, falling back to standalone")
	case err != nil:
		return nil, err
	case extract.HasAnnualData(consolidated.doc):
		return consolidated, nil
	default:
		logger.Warn().Msg("consolidated page has no usable annual data, falling back to standalone")
	}

	return ingestor.load(ctx, ticker, fetcher.Standalone)
}
