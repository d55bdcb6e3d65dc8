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

package instrumentation

import (
	"os"
	"path/filepath"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/probes"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/test"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Instrumentation", Ordered, func() {
	var (
		class   *probes.Class
		options string
		outDir  string
		logPath string
	)

	BeforeAll(func() {
		classDir := GinkgoT().TempDir()
		classFile, err := test.WriteClassFile(classDir, &analysis.ClassFile{
			Name:       "com/example/instrumented/Greeter",
			SourceFile: "Greeter.java",
			Package:    "com/example/instrumented",
			Probes: []analysis.ProbeMapping{
				{Lines: []int{10}},
				{Lines: []int{12}},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		class, err = probes.Register(classFile.Name, classFile.Fingerprint, len(classFile.Probes))
		Expect(err).NotTo(HaveOccurred())

		outDir = GinkgoT().TempDir()
		logPath = filepath.Join(GinkgoT().TempDir(), "agent.log")
		options = "class-dir=" + classDir + ",out=" + outDir + ",interval=0,log-file=" + logPath
	})

	AfterEach(func() {
		Expect(Shutdown()).To(Succeed())
	})

	It("does nothing on shutdown if no agent is running", func() {
		Expect(Running()).To(BeNil())
		Expect(Shutdown()).To(Succeed())
	})

	It("refuses invalid options", func() {
		Expect(Start("out=")).To(MatchError(ContainSubstring("output directory")))
		Expect(Running()).To(BeNil())
	})

	It("refuses to start a second agent", func() {
		Expect(Start(options)).To(Succeed())
		Expect(Start(options)).To(MatchError("the coverage agent is already running"))
	})

	It("dumps the captured probes on shutdown", func() {
		Expect(Start(options)).To(Succeed())
		Expect(Running()).NotTo(BeNil())

		class.Hit(1)
		Expect(Shutdown()).To(Succeed())
		Expect(Running()).To(BeNil())

		reports, err := filepath.Glob(filepath.Join(outDir, "jacoco-*.xml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(1))
		content, err := os.ReadFile(reports[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(ContainSubstring(`<class name="com/example/instrumented/Greeter" sourcefilename="Greeter.java">`))
		Expect(string(content)).To(ContainSubstring(`nr="12" mi="0" ci="1"`))

		logContent, err := os.ReadFile(logPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(logContent)).To(ContainSubstring("Starting agent"))
	})
})
