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
	"strings"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/tools/cover"
)

var _ = Describe("FromProfiles", func() {
	const profile = `mode: atomic
example.com/app/pkg/calc.go:3.20,5.2 1 4
example.com/app/pkg/calc.go:7.20,8.10 1 0
example.com/app/pkg/calc.go:8.10,10.3 2 1
example.com/app/main.go:5.13,7.2 1 0
`

	parse := func(content string) []*cover.Profile {
		profiles, err := cover.ParseProfilesFromReader(strings.NewReader(content))
		Expect(err).NotTo(HaveOccurred())
		return profiles
	}

	It("maps files to classes and blocks to probes", func() {
		store, classes := FromProfiles(parse(profile))
		Expect(classes).To(HaveLen(2))
		Expect(store.Len()).To(Equal(2))

		var calc *analysis.ClassFile
		for _, class := range classes {
			if class.Name == "example.com/app/pkg/calc.go" {
				calc = class
			}
		}
		Expect(calc).NotTo(BeNil())
		Expect(calc.SourceFile).To(Equal("calc.go"))
		Expect(calc.Package).To(Equal("example.com/app/pkg"))
		Expect(calc.Probes).To(HaveLen(3))
		Expect(calc.Probes[0].Lines).To(Equal([]int{3, 4, 5}))

		data := store.ByName(calc.Name)
		Expect(data).To(HaveLen(1))
		Expect(data[0].Fingerprint).To(Equal(calc.Fingerprint))
		Expect(data[0].Probes).To(Equal([]bool{true, false, true}))

		coverage, err := calc.LinesFor(data[0].Probes)
		Expect(err).NotTo(HaveOccurred())
		Expect(coverage.CoveredLines()).To(Equal([]int{3, 4, 5, 8, 9, 10}))
	})

	It("derives stable fingerprints from the block layout", func() {
		fingerprint := func(content string) uint64 {
			_, classes := FromProfiles(parse(content))
			for _, class := range classes {
				if class.SourceFile == "calc.go" {
					return class.Fingerprint
				}
			}
			Fail("calc.go not found")
			return 0
		}

		Expect(fingerprint(strings.ReplaceAll(profile, " 4\n", " 0\n"))).To(Equal(fingerprint(profile)))
		Expect(fingerprint(strings.ReplaceAll(profile, "3.20,5.2", "3.20,6.2"))).NotTo(Equal(fingerprint(profile)))
	})
})
