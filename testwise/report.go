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
	"errors"
	"io"
	"sort"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/cache"
	"github.com/go-logr/logr"
	pkgerrors "github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/ptr"
)

// Report is the testwise coverage report: one entry per test with its details, its execution
// result and the lines it covered.
type Report struct {
	Partial bool        `json:"partial"`
	Tests   []*TestInfo `json:"tests"`
}

// TestInfo holds everything known about a single test. Fields nobody provided data for are nil.
// Paths is nil for tests that never ran and empty for tests that ran without covering anything.
type TestInfo struct {
	UniformPath string           `json:"uniformPath"`
	SourcePath  *string          `json:"sourcePath"`
	Content     *string          `json:"content"`
	Duration    *float64         `json:"duration"`
	Result      *ExecutionResult `json:"result"`
	Message     *string          `json:"message"`
	Paths       []*PathCoverage  `json:"paths"`
}

// PathCoverage groups the covered files of one directory.
type PathCoverage struct {
	Path  string          `json:"path"`
	Files []*FileCoverage `json:"files"`
}

// FileCoverage lists the covered lines of one file in compact form, e.g. "1-4,7".
type FileCoverage struct {
	FileName     string `json:"fileName"`
	CoveredLines string `json:"coveredLines"`
}

// ReportBuilder joins test details, coverage and execution results into a Report.
type ReportBuilder struct {
	log        logr.Logger
	probeCache *cache.ProbesCache
}

// NewReportBuilder creates a new ReportBuilder.
func NewReportBuilder(probeCache *cache.ProbesCache, log logr.Logger) *ReportBuilder {
	return &ReportBuilder{
		log:        log.WithName("testwise-report"),
		probeCache: probeCache,
	}
}

// Build performs a full outer join of the three inputs on the uniform path. A test present in any
// of them is part of the report, tests are sorted by uniform path.
func (b *ReportBuilder) Build(details []TestDetails, coverage *TestwiseCoverage, executions []TestExecution, partial bool) (*Report, error) {
	tests := map[string]*TestInfo{}
	get := func(uniformPath string) *TestInfo {
		test, found := tests[uniformPath]
		if !found {
			test = &TestInfo{UniformPath: uniformPath}
			tests[uniformPath] = test
		}
		return test
	}

	for _, detail := range details {
		test := get(detail.UniformPath)
		test.SourcePath = detail.SourcePath
		test.Content = detail.Content
	}

	skipped := sets.New[string]()
	if coverage != nil {
		for _, testCoverage := range coverage.Tests() {
			paths, err := b.coveredPaths(testCoverage, skipped)
			if err != nil {
				return nil, err
			}
			get(testCoverage.UniformPath).Paths = paths
		}
	}
	if skipped.Len() > 0 {
		b.log.Info("Found execution data for classes without matching class files, their coverage is omitted",
			"count", skipped.Len(), "classes", sets.List(skipped))
	}

	for _, execution := range executions {
		test := get(execution.UniformPath)
		test.Duration = ptr.To(float64(execution.DurationMillis) / 1000)
		test.Result = ptr.To(execution.Result)
		test.Message = nil
		if execution.Message != "" {
			test.Message = ptr.To(execution.Message)
		}
	}

	report := &Report{Partial: partial, Tests: make([]*TestInfo, 0, len(tests))}
	for _, test := range tests {
		report.Tests = append(report.Tests, test)
	}
	sort.Slice(report.Tests, func(i, j int) bool {
		return report.Tests[i].UniformPath < report.Tests[j].UniformPath
	})
	b.log.Info("Built testwise coverage report", "details", len(details), "executions", len(executions),
		"tests", len(report.Tests))

	return report, nil
}

func (b *ReportBuilder) coveredPaths(testCoverage *TestCoverage, skipped sets.Set[string]) ([]*PathCoverage, error) {
	files := map[string]map[string]sets.Set[int]{}
	for _, data := range testCoverage.Store.Contents() {
		if !data.HasHits() {
			continue
		}

		classCoverage, err := b.probeCache.GetCoverage(data)
		var unknownErr *cache.UnknownClassError
		var mismatchErr *cache.MismatchedClassError
		switch {
		case errors.As(err, &unknownErr), errors.As(err, &mismatchErr):
			skipped.Insert(data.Name)
			continue
		case err != nil:
			return nil, pkgerrors.Wrapf(err, "failed to compute coverage of test %s", testCoverage.UniformPath)
		}

		lines := classCoverage.CoveredLines()
		if len(lines) == 0 {
			continue
		}
		class := classCoverage.Class
		if files[class.Package] == nil {
			files[class.Package] = map[string]sets.Set[int]{}
		}
		if files[class.Package][class.SourceFile] == nil {
			files[class.Package][class.SourceFile] = sets.New[int]()
		}
		files[class.Package][class.SourceFile].Insert(lines...)
	}

	paths := make([]*PathCoverage, 0, len(files))
	for path, pathFiles := range files {
		pathCoverage := &PathCoverage{Path: path, Files: make([]*FileCoverage, 0, len(pathFiles))}
		for fileName, lines := range pathFiles {
			pathCoverage.Files = append(pathCoverage.Files, &FileCoverage{
				FileName:     fileName,
				CoveredLines: CompactLines(sets.List(lines)),
			})
		}
		sort.Slice(pathCoverage.Files, func(i, j int) bool {
			return pathCoverage.Files[i].FileName < pathCoverage.Files[j].FileName
		})
		paths = append(paths, pathCoverage)
	}
	sort.Slice(paths, func(i, j int) bool {
		return paths[i].Path < paths[j].Path
	})

	return paths, nil
}

// WriteReport writes the report as JSON.
func WriteReport(writer io.Writer, report *Report) error {
	return json.NewEncoder(writer).Encode(report)
}

// ReadReport reads a report written by WriteReport.
func ReadReport(reader io.Reader) (*Report, error) {
	report := &Report{}
	if err := json.NewDecoder(reader).Decode(report); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read testwise coverage report")
	}

	return report, nil
}
