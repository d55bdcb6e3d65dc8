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

package batch

import (
	"os"
	"path/filepath"
	"time"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/loader"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/report"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/test"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/testwise"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("Runner", func() {
	var (
		class    *analysis.ClassFile
		inputDir string
		outDir   string
		runner   *Runner
	)

	dump := func(id string, probes ...bool) *execdata.Dump {
		store := execdata.NewStore()
		store.Put(execdata.NewExecutionData(class.Fingerprint, class.Name, probes))
		start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

		return &execdata.Dump{
			Info:  execdata.SessionInfo{ID: id, Start: start, Dump: start.Add(time.Minute)},
			Store: store,
		}
	}

	BeforeEach(func() {
		var err error
		inputDir = GinkgoT().TempDir()
		outDir = GinkgoT().TempDir()

		class, err = test.WriteClassFile(inputDir, &analysis.ClassFile{
			Name:       "com/example/Calculator",
			SourceFile: "Calculator.java",
			Package:    "com/example",
			Probes: []analysis.ProbeMapping{
				{Lines: []int{3}},
				{Lines: []int{4, 5}},
				{Lines: []int{7}},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		runner = NewRunner(loader.NewMockLoader(), log)
	})

	When("converting exec files into a JaCoCo report", func() {
		It("merges all dumps of all exec files", func() {
			Expect(test.WriteDumps(filepath.Join(inputDir, "first.exec"), dump("", true, false, false))).To(Succeed())
			Expect(test.WriteDumps(filepath.Join(inputDir, "second.exec"), dump("", false, true, false))).To(Succeed())

			output := filepath.Join(outDir, "reports", "coverage.xml")
			Expect(runner.Run(ctx, &Config{Inputs: []string{inputDir}, Output: output})).To(Succeed())

			content, err := os.ReadFile(output)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(ContainSubstring(`<report name="coverage">`))
			Expect(string(content)).To(ContainSubstring(`nr="3" mi="0" ci="1"`))
			Expect(string(content)).To(ContainSubstring(`nr="4" mi="0" ci="1"`))
			Expect(string(content)).To(ContainSubstring(`nr="7" mi="1" ci="0"`))
		})

		It("uses the given report name", func() {
			Expect(test.WriteDumps(filepath.Join(inputDir, "coverage.exec"), dump("", true, true, true))).To(Succeed())

			output := filepath.Join(outDir, "coverage.xml")
			Expect(runner.Run(ctx, &Config{Inputs: []string{inputDir}, Output: output, Name: "nightly"})).To(Succeed())

			content, err := os.ReadFile(output)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(ContainSubstring(`<report name="nightly">`))
		})

		It("finds class descriptors in the class directories", func() {
			execDir := GinkgoT().TempDir()
			Expect(test.WriteDumps(filepath.Join(execDir, "coverage.exec"), dump("", false, false, true))).To(Succeed())

			output := filepath.Join(outDir, "coverage.xml")
			Expect(runner.Run(ctx, &Config{
				Inputs:    []string{execDir},
				ClassDirs: []string{inputDir},
				Output:    output,
			})).To(Succeed())

			content, err := os.ReadFile(output)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(ContainSubstring(`nr="7" mi="0" ci="1"`))
		})

		It("reports corrupt exec files as conversion failures", func() {
			Expect(os.WriteFile(filepath.Join(inputDir, "corrupt.exec"),
				[]byte{0x01, 0xC0, 0xC0, 0x10, 0x07, 0x10, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x3F}, 0o644)).To(Succeed())

			var err error
			Expect(func() {
				err = runner.Run(ctx, &Config{Inputs: []string{inputDir}, Output: filepath.Join(outDir, "coverage.xml")})
			}).NotTo(Panic())

			var conversionErr *report.ConversionError
			Expect(errors.As(err, &conversionErr)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("corrupt string")))
			Expect(filepath.Join(outDir, "coverage.xml")).NotTo(BeAnExistingFile())
		})

		It("fails if no exec file is found", func() {
			err := runner.Run(ctx, &Config{Inputs: []string{inputDir}, Output: filepath.Join(outDir, "coverage.xml")})
			Expect(err).To(MatchError(ContainSubstring("no exec files found")))
		})

		It("fails if no output is given", func() {
			Expect(runner.Run(ctx, &Config{Inputs: []string{inputDir}})).To(MatchError("no output file given"))
		})

		It("fails if the inputs cannot be loaded", func() {
			mockedCtx := loader.GetMockedContext(ctx, []loader.MockData{
				{
					ContextKey: loader.ArtifactsContextKey,
					Err:        errors.New("not readable"),
				},
			})

			err := runner.Run(mockedCtx, &Config{Inputs: []string{inputDir}, Output: filepath.Join(outDir, "coverage.xml")})
			Expect(err).To(MatchError("not readable"))
		})
	})

	When("converting exec files into a testwise report", func() {
		It("attributes the coverage of each session to its test", func() {
			Expect(test.WriteDumps(filepath.Join(inputDir, "coverage.exec"),
				dump("", true, false, false),
				dump("com/example/CalculatorTest/add", false, true, false),
				dump("com/example/CalculatorTest/divide", false, false, true),
			)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(inputDir, "test-execution.json"),
				[]byte(`[{"uniformPath":"com/example/CalculatorTest/add","durationMillis":1500,"result":"PASSED"}]`),
				0o644)).To(Succeed())

			output := filepath.Join(outDir, "testwise.json")
			Expect(runner.Run(ctx, &Config{Inputs: []string{inputDir}, Output: output, Testwise: true})).To(Succeed())

			file, err := os.Open(output)
			Expect(err).NotTo(HaveOccurred())
			defer file.Close()
			report, err := testwise.ReadReport(file)
			Expect(err).NotTo(HaveOccurred())

			Expect(report.Partial).To(BeTrue())
			Expect(report.Tests).To(HaveLen(2))
			Expect(report.Tests[0].UniformPath).To(Equal("com/example/CalculatorTest/add"))
			Expect(report.Tests[0].Result).To(HaveValue(Equal(testwise.Passed)))
			Expect(report.Tests[0].Duration).To(HaveValue(Equal(1.5)))
			Expect(report.Tests[0].Paths).To(HaveLen(1))
			Expect(report.Tests[0].Paths[0].Files).To(HaveLen(1))
			Expect(report.Tests[0].Paths[0].Files[0].CoveredLines).To(Equal("4-5"))
			Expect(report.Tests[1].UniformPath).To(Equal("com/example/CalculatorTest/divide"))
			Expect(report.Tests[1].Result).To(BeNil())
			Expect(report.Tests[1].Paths[0].Files[0].CoveredLines).To(Equal("7"))
		})

		It("produces a complete report if a test list is given", func() {
			Expect(test.WriteDumps(filepath.Join(inputDir, "coverage.exec"),
				dump("com/example/CalculatorTest/add", false, true, false),
			)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(inputDir, "test-list.json"),
				[]byte(`[{"uniformPath":"com/example/CalculatorTest/add"},{"uniformPath":"com/example/CalculatorTest/skipped"}]`),
				0o644)).To(Succeed())

			output := filepath.Join(outDir, "testwise.json")
			Expect(runner.Run(ctx, &Config{Inputs: []string{inputDir}, Output: output, Testwise: true})).To(Succeed())

			file, err := os.Open(output)
			Expect(err).NotTo(HaveOccurred())
			defer file.Close()
			report, err := testwise.ReadReport(file)
			Expect(err).NotTo(HaveOccurred())

			Expect(report.Partial).To(BeFalse())
			Expect(report.Tests).To(HaveLen(2))
			Expect(report.Tests[1].UniformPath).To(Equal("com/example/CalculatorTest/skipped"))
			Expect(report.Tests[1].Paths).To(BeNil())
		})

		It("fails if the testwise resources cannot be loaded", func() {
			mockedCtx := loader.GetMockedContext(ctx, []loader.MockData{
				{
					ContextKey: loader.TestwiseResourcesContextKey,
					Err:        errors.New("broken test list"),
				},
			})

			err := runner.Run(mockedCtx, &Config{Inputs: []string{inputDir}, Output: filepath.Join(outDir, "testwise.json"), Testwise: true})
			Expect(err).To(MatchError("broken test list"))
		})
	})
})
