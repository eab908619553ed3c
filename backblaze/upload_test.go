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
package backblaze_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvfund/backblaze"
)

var _ = Describe("RemoteName", func() {
	It("places the file under the directory", func() {
		Expect(backblaze.RemoteName("fundamentals/2024", "/tmp/export/example.csv")).To(Equal("fundamentals/2024/example.csv"))
	})

	It("uses the bare file name without a directory", func() {
		Expect(backblaze.RemoteName("", "/tmp/export/example.csv")).To(Equal("example.csv"))
	})
})
