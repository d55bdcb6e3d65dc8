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

package gocover

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("Extractor", func() {
	const profile = "mode: set\nexample.com/app/pkg/calc.go:3.10,5.2 1 1\n"

	var (
		calls     [][]string
		extractor *Extractor
		failures  int
	)

	snapshot := func() string {
		dir, err := os.MkdirTemp(extractor.dir, "dump-")
		Expect(err).NotTo(HaveOccurred())
		return dir
	}

	BeforeEach(func() {
		calls = nil
		failures = 0
		extractor = &Extractor{
			convert: func(_ context.Context, inputDirs []string, output string) error {
				calls = append(calls, inputDirs)
				if failures > 0 {
					failures--
					return errors.New("covdata unavailable")
				}
				return os.WriteFile(output, []byte(profile), 0o644)
			},
			dir: GinkgoT().TempDir(),
			log: logr.Discard(),
		}
	})

	When("the conversion of a reset snapshot fails", func() {
		It("converts the snapshot together with the next one", func() {
			failures = 1
			first := snapshot()
			_, err := extractor.collect(first, true)
			Expect(err).To(MatchError(ContainSubstring("covdata unavailable")))
			Expect(first).To(BeADirectory())

			second := snapshot()
			store, err := extractor.collect(second, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(HaveLen(2))
			Expect(calls[1]).To(Equal([]string{first, second}))

			data := store.ByName("example.com/app/pkg/calc.go")
			Expect(data).To(HaveLen(1))
			Expect(data[0].Probes).To(Equal([]bool{true}))

			Expect(first).NotTo(BeAnExistingFile())
			Expect(second).NotTo(BeAnExistingFile())
			Expect(extractor.pending).To(BeEmpty())
		})

		It("keeps every snapshot until one conversion succeeds", func() {
			failures = 2
			first := snapshot()
			_, err := extractor.collect(first, true)
			Expect(err).To(HaveOccurred())
			second := snapshot()
			_, err = extractor.collect(second, true)
			Expect(err).To(HaveOccurred())
			Expect(extractor.pending).To(Equal([]string{first, second}))

			third := snapshot()
			_, err = extractor.collect(third, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(calls[2]).To(Equal([]string{first, second, third}))
		})
	})

	When("the conversion of a snapshot without reset fails", func() {
		It("discards the snapshot as the counters are still live", func() {
			failures = 1
			dir := snapshot()
			_, err := extractor.collect(dir, false)
			Expect(err).To(HaveOccurred())
			Expect(dir).NotTo(BeAnExistingFile())
			Expect(extractor.pending).To(BeEmpty())
		})
	})

	It("records the classes of the last extraction", func() {
		_, err := extractor.collect(snapshot(), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(extractor.Classes()).To(HaveLen(1))
		Expect(extractor.Classes()[0].SourceFile).To(Equal("calc.go"))
		Expect(filepath.Glob(filepath.Join(extractor.dir, "profile-*"))).To(BeEmpty())
	})
})
