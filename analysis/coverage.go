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

// LineStatus is the coverage status of a single source line.
type LineStatus int

const (
	// NotCovered lines have no fired probe.
	NotCovered LineStatus = iota

	// PartlyCovered lines have fired and missed probes.
	PartlyCovered

	// FullyCovered lines only have fired probes.
	FullyCovered
)

func (s LineStatus) String() string {
	switch s {
	case FullyCovered:
		return "FULL"
	case PartlyCovered:
		return "PARTIAL"
	default:
		return "NONE"
	}
}

// LineCoverage holds the probe counters of a single source line.
type LineCoverage struct {
	Line                int
	CoveredInstructions int
	MissedInstructions  int
	CoveredBranches     int
	MissedBranches      int
}

// Status returns the tri-state coverage of the line.
func (l LineCoverage) Status() LineStatus {
	switch {
	case l.CoveredInstructions == 0:
		return NotCovered
	case l.MissedInstructions == 0:
		return FullyCovered
	default:
		return PartlyCovered
	}
}

// Counter is a pair of covered and missed items.
type Counter struct {
	Covered int
	Missed  int
}

// Add returns the sum of both counters.
func (c Counter) Add(other Counter) Counter {
	return Counter{Covered: c.Covered + other.Covered, Missed: c.Missed + other.Missed}
}

// ClassCoverage is the line coverage of one class.
type ClassCoverage struct {
	Class *ClassFile
	Lines []LineCoverage
}

// CoveredLines returns the numbers of all lines that are at least partly covered, in ascending order.
func (c *ClassCoverage) CoveredLines() []int {
	var lines []int
	for _, line := range c.Lines {
		if line.Status() != NotCovered {
			lines = append(lines, line.Line)
		}
	}

	return lines
}

// LineCounter counts lines that are at least partly covered against lines that are not covered.
func (c *ClassCoverage) LineCounter() Counter {
	var counter Counter
	for _, line := range c.Lines {
		if line.Status() == NotCovered {
			counter.Missed++
		} else {
			counter.Covered++
		}
	}

	return counter
}

// InstructionCounter sums the instruction counters of all lines.
func (c *ClassCoverage) InstructionCounter() Counter {
	var counter Counter
	for _, line := range c.Lines {
		counter = counter.Add(Counter{Covered: line.CoveredInstructions, Missed: line.MissedInstructions})
	}

	return counter
}

// BranchCounter sums the branch counters of all lines.
func (c *ClassCoverage) BranchCounter() Counter {
	var counter Counter
	for _, line := range c.Lines {
		counter = counter.Add(Counter{Covered: line.CoveredBranches, Missed: line.MissedBranches})
	}

	return counter
}
