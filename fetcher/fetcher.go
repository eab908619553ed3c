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

// Package fetcher retrieves company pages from the source site. Every request
// is preceded by a fixed delay and any non-success response is returned as an
// error; deciding what to do about failures is left to the caller.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Variant string

const (
	Consolidated Variant = "consolidated"
	Standalone   Variant = "standalone"
)

var (
	ErrStatus   = errors.New("source returned an invalid HTTP response")
	ErrNotFound = errors.New("company page not found")
)

const (
	DefaultBaseURL   = "https://www.screener.in/company"
	DefaultUserAgent = "Mozilla/5.0 (compatible; ScreenerBot/1.0)"
	DefaultDelay     = 2 * time.Second
	DefaultTimeout   = 30 * time.Second
)

// Fetcher returns the HTML of a company page
type Fetcher interface {
	Fetch(ctx context.Context, ticker string, variant Variant) (string, error)
}

type Config struct {
	BaseURL   string
	UserAgent string
	Delay     time.Duration
	Timeout   time.Duration

	// RequestsPerMinute caps requests across every caller sharing the
	// fetcher; 0 disables the limit
	RequestsPerMinute int
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		Delay:     DefaultDelay,
		Timeout:   DefaultTimeout,
	}
}

// PageURL builds the company page url for the requested variant
func PageURL(baseURL, ticker string, variant Variant) string {
	baseURL = strings.TrimRight(baseURL, "/")
	if variant == Consolidated {
		return fmt.Sprintf("%s/%s/consolidated/", baseURL, ticker)
	}
	return fmt.Sprintf("%s/%s/", baseURL, ticker)
}

// HTTPFetcher downloads pages with a plain HTTP client
type HTTPFetcher struct {
	client  *resty.Client
	config  Config
	limiter *rate.Limiter
}

func NewHTTPFetcher(config Config) *HTTPFetcher {
	client := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml")

	return &HTTPFetcher{
		client:  client,
		config:  config,
		limiter: newLimiter(config.RequestsPerMinute),
	}
}

func (fetcher *HTTPFetcher) Fetch(ctx context.Context, ticker string, variant Variant) (string, error) {
	logger := zerolog.Ctx(ctx)
	url := PageURL(fetcher.config.BaseURL, ticker, variant)

	if err := throttle(ctx, fetcher.config.Delay, fetcher.limiter); err != nil {
		return "", err
	}

	logger.Debug().Str("URL", url).Str("Variant", string(variant)).Msg("requesting company page")

	resp, err := fetcher.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", url, err)
	}

	if err := checkStatus(resp.StatusCode(), url); err != nil {
		logger.Warn().Int("StatusCode", resp.StatusCode()).Str("URL", url).Msg("source returned an invalid HTTP response")
		return "", err
	}

	return resp.String(), nil
}

func checkStatus(code int, url string) error {
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %w: %d %s", ErrNotFound, ErrStatus, code, url)
	case code < 200 || code >= 300:
		return fmt.Errorf("%w: %d %s", ErrStatus, code, url)
	default:
		return nil
	}
}

func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/float64(61)), 1)
}

// throttle applies the per-request delay and then waits for the shared limiter
func throttle(ctx context.Context, delay time.Duration, limiter *rate.Limiter) error {
	if err := Sleep(ctx, delay); err != nil {
		return err
	}

	if limiter == nil {
		return nil
	}

	return limiter.Wait(ctx)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
