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

package report

import (
	"errors"
	"sort"
	"time"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/cache"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"
)

// ConversionError wraps failures that prevent a dump from being converted into a report.
type ConversionError struct {
	Err error
}

func (e *ConversionError) Error() string {
	return "failed to convert execution data: " + e.Err.Error()
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Report is the line coverage of the whole application for one dump.
type Report struct {
	Name     string
	Session  execdata.SessionInfo
	Packages []*PackageCoverage

	// Skipped holds the names of classes execution data was captured for but that could not be
	// matched to a class file.
	Skipped sets.Set[string]
}

// PackageCoverage holds the classes and source files of a package.
type PackageCoverage struct {
	Name        string
	Classes     []*analysis.ClassCoverage
	SourceFiles []*SourceFileCoverage
}

// SourceFileCoverage is the line coverage of a source file, combining all classes declared in it.
type SourceFileCoverage struct {
	Name  string
	Lines []analysis.LineCoverage
}

// Converter turns dumps into line coverage reports using the class files of the application.
type Converter struct {
	log        logr.Logger
	probeCache *cache.ProbesCache
}

// NewConverter creates a new Converter.
func NewConverter(probeCache *cache.ProbesCache, log logr.Logger) *Converter {
	return &Converter{
		log:        log.WithName("converter"),
		probeCache: probeCache,
	}
}

// Convert converts the given dump. Execution data of classes missing from the class files is
// omitted with a warning. Classes without execution data are reported as not covered.
func (c *Converter) Convert(name string, dump *execdata.Dump) (*Report, error) {
	start := time.Now()
	report := &Report{
		Name:    name,
		Session: dump.Info,
		Skipped: sets.New[string](),
	}

	converted := sets.New[string]()
	var classes []*analysis.ClassCoverage
	for _, data := range dump.Store.Contents() {
		coverage, err := c.probeCache.GetCoverage(data)
		var unknownErr *cache.UnknownClassError
		var mismatchErr *cache.MismatchedClassError
		switch {
		case errors.As(err, &unknownErr), errors.As(err, &mismatchErr):
			report.Skipped.Insert(data.Name)
			continue
		case err != nil:
			return nil, &ConversionError{Err: err}
		}
		classes = append(classes, coverage)
		converted.Insert(data.Name)
	}

	if report.Skipped.Len() > 0 {
		c.log.Info("Found execution data for classes without matching class files, their coverage is omitted",
			"count", report.Skipped.Len(), "classes", sets.List(report.Skipped))
	}

	for _, class := range c.probeCache.Index().Classes() {
		if converted.Has(class.Name) {
			continue
		}
		coverage, err := class.LinesFor(make([]bool, len(class.Probes)))
		if err != nil {
			return nil, &ConversionError{Err: err}
		}
		classes = append(classes, coverage)
	}

	report.Packages = groupByPackage(classes)
	c.log.V(1).Info("Converted execution data", "classes", len(classes), "duration", time.Since(start))

	return report, nil
}

// Counters sums the counters of all packages.
func (r *Report) Counters() Counters {
	var counters Counters
	for _, pkg := range r.Packages {
		counters = counters.Add(pkg.Counters())
	}

	return counters
}

// Counters sums the counters of all classes in the package.
func (p *PackageCoverage) Counters() Counters {
	var counters Counters
	for _, class := range p.Classes {
		counters = counters.Add(classCounters(class))
	}

	return counters
}

// Counters holds the counters reported for every element of a report.
type Counters struct {
	Instructions analysis.Counter
	Branches     analysis.Counter
	Lines        analysis.Counter
	Classes      analysis.Counter
}

// Add returns the element-wise sum of both counters.
func (c Counters) Add(other Counters) Counters {
	return Counters{
		Instructions: c.Instructions.Add(other.Instructions),
		Branches:     c.Branches.Add(other.Branches),
		Lines:        c.Lines.Add(other.Lines),
		Classes:      c.Classes.Add(other.Classes),
	}
}

func classCounters(class *analysis.ClassCoverage) Counters {
	counters := Counters{
		Instructions: class.InstructionCounter(),
		Branches:     class.BranchCounter(),
		Lines:        class.LineCounter(),
	}
	if counters.Instructions.Covered > 0 {
		counters.Classes.Covered = 1
	} else {
		counters.Classes.Missed = 1
	}

	return counters
}

func groupByPackage(classes []*analysis.ClassCoverage) []*PackageCoverage {
	packages := map[string]*PackageCoverage{}
	for _, class := range classes {
		pkg, found := packages[class.Class.Package]
		if !found {
			pkg = &PackageCoverage{Name: class.Class.Package}
			packages[class.Class.Package] = pkg
		}
		pkg.Classes = append(pkg.Classes, class)
	}

	result := make([]*PackageCoverage, 0, len(packages))
	for _, pkg := range packages {
		sort.Slice(pkg.Classes, func(i, j int) bool {
			return pkg.Classes[i].Class.Name < pkg.Classes[j].Class.Name
		})
		pkg.SourceFiles = groupBySourceFile(pkg.Classes)
		result = append(result, pkg)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}

func groupBySourceFile(classes []*analysis.ClassCoverage) []*SourceFileCoverage {
	lines := map[string]map[int]analysis.LineCoverage{}
	for _, class := range classes {
		fileLines, found := lines[class.Class.SourceFile]
		if !found {
			fileLines = map[int]analysis.LineCoverage{}
			lines[class.Class.SourceFile] = fileLines
		}
		for _, line := range class.Lines {
			existing := fileLines[line.Line]
			existing.Line = line.Line
			existing.CoveredInstructions += line.CoveredInstructions
			existing.MissedInstructions += line.MissedInstructions
			existing.CoveredBranches += line.CoveredBranches
			existing.MissedBranches += line.MissedBranches
			fileLines[line.Line] = existing
		}
	}

	result := make([]*SourceFileCoverage, 0, len(lines))
	for name, fileLines := range lines {
		sourceFile := &SourceFileCoverage{Name: name}
		for _, line := range fileLines {
			sourceFile.Lines = append(sourceFile.Lines, line)
		}
		sort.Slice(sourceFile.Lines, func(i, j int) bool {
			return sourceFile.Lines[i].Line < sourceFile.Lines[j].Line
		})
		result = append(result, sourceFile)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}
