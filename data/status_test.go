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
package data_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvfund/data"
)

var _ = Describe("Status", func() {
	DescribeTable("progress is the share of completed sections",
		func(flags data.SectionFlags, expected int) {
			Expect(flags.Progress()).To(Equal(expected))
		},
		Entry("nothing done", data.SectionFlags{}, 0),
		Entry("ratios only", data.SectionFlags{Ratios: true}, 20),
		Entry("three sections", data.SectionFlags{Ratios: true, Annual: true, Derived: true}, 60),
		Entry("everything", data.SectionFlags{Ratios: true, Quarterly: true, Annual: true, Shareholding: true, Derived: true}, 100),
	)

	It("derives progress when building a status", func() {
		status := data.NewStatus("TCS", data.InProgress, "", data.SectionFlags{Ratios: true, Quarterly: true}, time.Now())
		Expect(status.ProgressPercent).To(Equal(40))
	})

	Context("surfaced state", func() {
		It("passes through non-complete states", func() {
			status := data.NewStatus("TCS", data.Failed, "boom", data.SectionFlags{}, time.Now())
			Expect(status.Surface(false, false)).To(Equal(data.Failed))
		})

		It("reports stale data", func() {
			status := data.NewStatus("TCS", data.Complete, "", data.SectionFlags{Ratios: true}, time.Now())
			Expect(status.Surface(false, true)).To(Equal(data.Stale))
			Expect(status.Surface(true, true)).To(Equal(data.Complete))
		})

		It("reports pending when no snapshot exists", func() {
			status := data.NewStatus("TCS", data.Complete, "", data.SectionFlags{}, time.Now())
			Expect(status.Surface(false, false)).To(Equal(data.Pending))
		})
	})
})
