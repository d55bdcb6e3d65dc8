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

package loader

import (
	"os"
	"path/filepath"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/testwise"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Artifact loader", Ordered, func() {
	var (
		dir    string
		loader ArtifactLoader
	)

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	BeforeAll(func() {
		loader = NewLoader()
	})

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	When("GetArtifacts is called", func() {
		It("groups the files found in directories by their format", func() {
			write("classes/Foo.class.json", "{}")
			write("out/b.exec", "")
			write("out/a.exec", "")
			write("reports/test-list.json", "[]")
			write("reports/test-execution-1.json", "[]")
			write("README.md", "")

			artifacts, err := loader.GetArtifacts(ctx, []string{dir})
			Expect(err).NotTo(HaveOccurred())
			Expect(artifacts.ClassFiles).To(Equal([]string{filepath.Join(dir, "classes/Foo.class.json")}))
			Expect(artifacts.ExecFiles).To(Equal([]string{
				filepath.Join(dir, "out/a.exec"),
				filepath.Join(dir, "out/b.exec"),
			}))
			Expect(artifacts.TestLists).To(HaveLen(1))
			Expect(artifacts.TestExecutions).To(HaveLen(1))
		})

		It("treats explicitly given files of unknown format as raw dumps", func() {
			path := write("jacoco.dump", "")

			artifacts, err := loader.GetArtifacts(ctx, []string{path})
			Expect(err).NotTo(HaveOccurred())
			Expect(artifacts.ExecFiles).To(Equal([]string{path}))
		})

		It("fails for missing inputs", func() {
			_, err := loader.GetArtifacts(ctx, []string{filepath.Join(dir, "missing")})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("cannot be read"))
		})
	})

	When("GetTestDetails is called", func() {
		It("concatenates the tests of all files", func() {
			first := write("test-list-1.json", `[{"uniformPath":"a/A","sourcePath":"src/A.java","content":"1"}]`)
			second := write("test-list-2.json", `[{"uniformPath":"b/B"}]`)

			details, err := loader.GetTestDetails(ctx, []string{first, second})
			Expect(err).NotTo(HaveOccurred())
			Expect(details).To(HaveLen(2))
			Expect(details[0].UniformPath).To(Equal("a/A"))
			Expect(*details[0].SourcePath).To(Equal("src/A.java"))
			Expect(details[1].SourcePath).To(BeNil())
		})

		It("fails for malformed files", func() {
			path := write("test-list.json", "{")

			_, err := loader.GetTestDetails(ctx, []string{path})
			Expect(err).To(HaveOccurred())
		})
	})

	When("GetTestExecutions is called", func() {
		It("returns the executions of all files", func() {
			path := write("test-execution.json", `[{"uniformPath":"a/A","durationMillis":1500,"result":"PASSED"}]`)

			executions, err := loader.GetTestExecutions(ctx, []string{path})
			Expect(err).NotTo(HaveOccurred())
			Expect(executions).To(Equal([]testwise.TestExecution{
				{UniformPath: "a/A", DurationMillis: 1500, Result: testwise.Passed},
			}))
		})

		It("rejects unknown results", func() {
			path := write("test-execution.json", `[{"uniformPath":"a/A","result":"MAYBE"}]`)

			_, err := loader.GetTestExecutions(ctx, []string{path})
			Expect(err).To(HaveOccurred())
		})
	})

	When("GetTestwiseResources is called", func() {
		It("returns the artifacts together with the parsed tests", func() {
			write("test-list.json", `[{"uniformPath":"a/A"}]`)
			write("test-execution.json", `[{"uniformPath":"a/A","durationMillis":10,"result":"FAILURE","message":"boom"}]`)
			write("coverage.exec", "")

			resources, err := loader.GetTestwiseResources(ctx, []string{dir})
			Expect(err).NotTo(HaveOccurred())
			Expect(resources.Artifacts.ExecFiles).To(HaveLen(1))
			Expect(resources.Details).To(HaveLen(1))
			Expect(resources.Executions).To(HaveLen(1))
			Expect(resources.Executions[0].Message).To(Equal("boom"))
		})

		It("returns the error of the first failing step", func() {
			write("test-execution.json", "nope")

			_, err := loader.GetTestwiseResources(ctx, []string{dir})
			Expect(err).To(HaveOccurred())
		})
	})
})
