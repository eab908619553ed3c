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
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/stealth"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrNoResponse = errors.New("browser did not receive a response")

// domains that only serve trackers and ads
var blockedHosts = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"googletagservices.com",
	"googlesyndication.com",
	"doubleclick.net",
	"facebook.com",
	"adsystem.com",
	"adnxs.com",
	"moatads.com",
	"pubmatic.com",
	"rubiconproject.com",
	"casalemedia.com",
	"prebid",
}

// BrowserFetcher drives a headless chromium through playwright. A single page
// is shared so requests are serialized.
type BrowserFetcher struct {
	config  Config
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	limiter *rate.Limiter
	mu      sync.Mutex
}

// NewBrowserFetcher starts playwright and prepares a stealth page with trackers
// blocked
func NewBrowserFetcher(config Config, headless bool) (*BrowserFetcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("launch playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	log.Info().Bool("Headless", headless).Str("BrowserVersion", browser.Version()).Msg("starting playwright")

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(userAgent),
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	page, err := stealthPage(browserContext)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, err
	}

	if err := blockTrackers(page); err != nil {
		log.Warn().Err(err).Msg("could not install tracker filter")
	}

	return &BrowserFetcher{
		config:  config,
		pw:      pw,
		browser: browser,
		context: browserContext,
		page:    page,
		limiter: newLimiter(config.RequestsPerMinute),
	}, nil
}

func stealthPage(browserContext playwright.BrowserContext) (playwright.Page, error) {
	page, err := browserContext.NewPage()
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err = page.AddInitScript(playwright.Script{
		Content: playwright.String(stealth.JS),
	}); err != nil {
		return nil, fmt.Errorf("load stealth script: %w", err)
	}

	return page, nil
}

func blockTrackers(page playwright.Page) error {
	return page.Route("**/*", func(route playwright.Route) {
		url := route.Request().URL()
		for _, host := range blockedHosts {
			if strings.Contains(url, host) {
				if err := route.Abort("failed"); err != nil {
					log.Error().Err(err).Str("URL", url).Msg("failed blocking route")
				}
				return
			}
		}

		if err := route.Continue(); err != nil {
			log.Error().Err(err).Str("URL", url).Msg("failed continuing route")
		}
	})
}

func (fetcher *BrowserFetcher) Fetch(ctx context.Context, ticker string, variant Variant) (string, error) {
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()

	logger := zerolog.Ctx(ctx)
	url := PageURL(fetcher.config.BaseURL, ticker, variant)

	if err := throttle(ctx, fetcher.config.Delay, fetcher.limiter); err != nil {
		return "", err
	}

	logger.Debug().Str("URL", url).Str("Variant", string(variant)).Msg("loading company page in browser")

	resp, err := fetcher.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(fetcher.config.Timeout.Milliseconds())),
	})
	if err != nil {
		return "", fmt.Errorf("load %s: %w", url, err)
	}

	if resp == nil {
		return "", fmt.Errorf("%w: %s", ErrNoResponse, url)
	}

	if err := checkStatus(resp.Status(), url); err != nil {
		logger.Warn().Int("StatusCode", resp.Status()).Str("URL", url).Msg("source returned an invalid HTTP response")
		return "", err
	}

	return fetcher.page.Content()
}

// Close shuts down the browser and the playwright driver
func (fetcher *BrowserFetcher) Close() error {
	var errs []error
	if err := fetcher.context.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := fetcher.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := fetcher.pw.Stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
