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
package normalize_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvfund/normalize"
)

var _ = Describe("ParseNumber", func() {
	DescribeTable("cleans source cells",
		func(text string, expected float64) {
			value, ok := normalize.ParseNumber(text)
			Expect(ok).To(BeTrue())
			Expect(value).To(BeNumerically("~", expected, 1e-9))
		},
		Entry("currency, separators and crore unit", "₹1,234.50 Cr.", 1234.5),
		Entry("percentage", "12.3%", 12.3),
		Entry("indian digit grouping", "₹ 1,23,456 Cr.", 123456.0),
		Entry("negative value", "-45", -45.0),
		Entry("explicit sign", "+7.25", 7.25),
		Entry("unit without dot", "980Cr", 980.0),
		Entry("non-breaking spaces", "\u00a042\u00a0", 42.0),
		Entry("rupee prefix", "Rs. 18", 18.0),
	)

	DescribeTable("rejects malformed text without failing",
		func(text string) {
			_, ok := normalize.ParseNumber(text)
			Expect(ok).To(BeFalse())
			Expect(normalize.Number(text)).To(BeNil())
		},
		Entry("not available", "N/A"),
		Entry("empty", ""),
		Entry("range", "₹ 3,000 / 2,000"),
		Entry("double dot", "1.2.3"),
		Entry("dash placeholder", "-"),
		Entry("trailing dot", "12."),
	)
})
