/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package testwise

import (
	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Line ranges", func() {
	ginkgo.DescribeTable("CompactLines and ExpandLines",
		func(lines []int, compact string) {
			Expect(CompactLines(lines)).To(Equal(compact))

			expanded, err := ExpandLines(compact)
			Expect(err).NotTo(HaveOccurred())
			Expect(expanded).To(Equal(lines))
		},
		ginkgo.Entry("no lines", nil, ""),
		ginkgo.Entry("a single line", []int{7}, "7"),
		ginkgo.Entry("a range and a single line", []int{1, 2, 3, 4, 7}, "1-4,7"),
		ginkgo.Entry("two ranges", []int{3, 4, 10, 11, 12}, "3-4,10-12"),
	)

	ginkgo.It("rejects malformed ranges", func() {
		_, err := ExpandLines("1-x")
		Expect(err).To(HaveOccurred())
	})
})
