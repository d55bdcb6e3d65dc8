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

package analysis

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ClassFileSuffix is the file name suffix of class descriptors.
const ClassFileSuffix = ".class.json"

// ProbeMapping lists the source lines a probe covers.
type ProbeMapping struct {
	Lines  []int `json:"lines"`
	Branch bool  `json:"branch,omitempty"`
}

// ClassFile describes an instrumented class: its name, where its source lives and which lines
// every probe covers. The fingerprint is derived from the raw descriptor content so every change
// to the class results in a different identity.
type ClassFile struct {
	Name       string         `json:"name"`
	SourceFile string         `json:"sourceFile"`
	Package    string         `json:"package"`
	Probes     []ProbeMapping `json:"probes"`

	Fingerprint uint64 `json:"-"`
	Location    string `json:"-"`
}

// ParseClassFile parses a class descriptor found at the given location.
func ParseClassFile(content []byte, location string) (*ClassFile, error) {
	class := &ClassFile{}
	if err := json.Unmarshal(content, class); err != nil {
		return nil, errors.Wrapf(err, "failed to parse class file %s", location)
	}
	if class.Name == "" {
		return nil, errors.Errorf("class file %s has no name", location)
	}
	class.Fingerprint = xxhash.Sum64(content)
	class.Location = location

	return class, nil
}

// Marshal encodes the class descriptor.
func (c *ClassFile) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// SourcePath returns the path of the source file relative to the source root.
func (c *ClassFile) SourcePath() string {
	if c.Package == "" {
		return c.SourceFile
	}

	return c.Package + "/" + c.SourceFile
}

// Analyze builds the line lookup table of the class.
func (c *ClassFile) Analyze() *Analysis {
	probesByLine := map[int][]int{}
	for probe, mapping := range c.Probes {
		for _, line := range mapping.Lines {
			probesByLine[line] = append(probesByLine[line], probe)
		}
	}

	lines := make([]int, 0, len(probesByLine))
	for line := range probesByLine {
		lines = append(lines, line)
	}
	sort.Ints(lines)

	analysis := &Analysis{Class: c, lines: lines, probes: make([][]int, len(lines))}
	for i, line := range lines {
		analysis.probes[i] = probesByLine[line]
	}

	return analysis
}

// LinesFor returns the line coverage of the class for the given probe vector.
func (c *ClassFile) LinesFor(probes []bool) (*ClassCoverage, error) {
	return c.Analyze().Coverage(probes)
}

// Analysis is the precomputed mapping from source lines to the probes covering them.
type Analysis struct {
	Class  *ClassFile
	lines  []int
	probes [][]int
}

// Coverage evaluates the probe vector against the lookup table. The probe vector must have
// exactly as many probes as the class declares.
func (a *Analysis) Coverage(probes []bool) (*ClassCoverage, error) {
	if len(probes) != len(a.Class.Probes) {
		return nil, errors.Errorf("execution data for class %s has %d probes but the class file declares %d",
			a.Class.Name, len(probes), len(a.Class.Probes))
	}

	coverage := &ClassCoverage{Class: a.Class, Lines: make([]LineCoverage, 0, len(a.lines))}
	for i, line := range a.lines {
		lineCoverage := LineCoverage{Line: line}
		for _, probe := range a.probes[i] {
			branch := a.Class.Probes[probe].Branch
			switch {
			case probes[probe] && branch:
				lineCoverage.CoveredBranches++
				lineCoverage.CoveredInstructions++
			case probes[probe]:
				lineCoverage.CoveredInstructions++
			case branch:
				lineCoverage.MissedBranches++
				lineCoverage.MissedInstructions++
			default:
				lineCoverage.MissedInstructions++
			}
		}
		coverage.Lines = append(coverage.Lines, lineCoverage)
	}

	return coverage, nil
}
