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
package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvfund/fetcher"
)

var _ = Describe("PageURL", func() {
	It("adds the consolidated path segment", func() {
		Expect(fetcher.PageURL("https://example.com/company/", "ABC", fetcher.Consolidated)).To(Equal("https://example.com/company/ABC/consolidated/"))
	})

	It("uses the bare company path for standalone", func() {
		Expect(fetcher.PageURL("https://example.com/company", "ABC", fetcher.Standalone)).To(Equal("https://example.com/company/ABC/"))
	})
})

var _ = Describe("HTTPFetcher", func() {
	var (
		server     *httptest.Server
		mu         sync.Mutex
		paths      []string
		userAgents []string
		config     fetcher.Config
	)

	BeforeEach(func() {
		paths = nil
		userAgents = nil

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			paths = append(paths, r.URL.Path)
			userAgents = append(userAgents, r.UserAgent())
			mu.Unlock()

			switch r.URL.Path {
			case "/company/GOOD/consolidated/":
				_, _ = w.Write([]byte("<html>consolidated</html>"))
			case "/company/GOOD/":
				_, _ = w.Write([]byte("<html>standalone</html>"))
			case "/company/BROKEN/":
				w.WriteHeader(http.StatusInternalServerError)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))

		config = fetcher.Config{
			BaseURL:   server.URL + "/company",
			UserAgent: "pvfund-test/1.0",
			Delay:     0,
			Timeout:   5 * time.Second,
		}
	})

	AfterEach(func() {
		server.Close()
	})

	It("returns the page body for each variant", func() {
		f := fetcher.NewHTTPFetcher(config)

		body, err := f.Fetch(context.Background(), "GOOD", fetcher.Consolidated)
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(Equal("<html>consolidated</html>"))

		body, err = f.Fetch(context.Background(), "GOOD", fetcher.Standalone)
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(Equal("<html>standalone</html>"))

		Expect(paths).To(Equal([]string{"/company/GOOD/consolidated/", "/company/GOOD/"}))
	})

	It("sends the configured user agent", func() {
		f := fetcher.NewHTTPFetcher(config)
		_, err := f.Fetch(context.Background(), "GOOD", fetcher.Standalone)
		Expect(err).NotTo(HaveOccurred())
		Expect(userAgents).To(ConsistOf("pvfund-test/1.0"))
	})

	It("reports a missing page as not found", func() {
		f := fetcher.NewHTTPFetcher(config)
		body, err := f.Fetch(context.Background(), "MISSING", fetcher.Consolidated)
		Expect(body).To(BeEmpty())
		Expect(err).To(MatchError(fetcher.ErrNotFound))
		Expect(err).To(MatchError(fetcher.ErrStatus))
	})

	It("reports server errors without the not found marker", func() {
		f := fetcher.NewHTTPFetcher(config)
		_, err := f.Fetch(context.Background(), "BROKEN", fetcher.Standalone)
		Expect(err).To(MatchError(fetcher.ErrStatus))
		Expect(err).NotTo(MatchError(fetcher.ErrNotFound))
	})

	It("waits the configured delay before each request", func() {
		config.Delay = 50 * time.Millisecond
		f := fetcher.NewHTTPFetcher(config)

		start := time.Now()
		_, err := f.Fetch(context.Background(), "GOOD", fetcher.Standalone)
		Expect(err).NotTo(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically(">=", 50*time.Millisecond))
	})

	It("spaces requests by the shared rate limit", func() {
		config.RequestsPerMinute = 240
		f := fetcher.NewHTTPFetcher(config)

		start := time.Now()
		for i := 0; i < 3; i++ {
			_, err := f.Fetch(context.Background(), "GOOD", fetcher.Standalone)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(time.Since(start)).To(BeNumerically(">=", 400*time.Millisecond))
		Expect(paths).To(HaveLen(3))
	})

	It("gives up when the context is cancelled during the delay", func() {
		config.Delay = time.Hour
		f := fetcher.NewHTTPFetcher(config)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.Fetch(ctx, "GOOD", fetcher.Standalone)
		Expect(err).To(MatchError(context.Canceled))
		Expect(paths).To(BeEmpty())
	})
})
