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

package execdata

import (
	"fmt"

	"github.com/pkg/errors"
)

// ClassID identifies one loaded version of a class. Two classes with the same name but a different
// fingerprint are different versions of that class.
type ClassID struct {
	Name        string
	Fingerprint uint64
}

// String returns a human readable representation of the ClassID.
func (id ClassID) String() string {
	return fmt.Sprintf("%s(%016x)", id.Name, id.Fingerprint)
}

// ExecutionData holds the probe vector captured for one class. The probe vector has a fixed length
// determined when the class was instrumented and every element records whether the probe fired.
type ExecutionData struct {
	Fingerprint uint64
	Name        string
	Probes      []bool
}

// NewExecutionData creates a new ExecutionData with the given identity and probe vector.
func NewExecutionData(fingerprint uint64, name string, probes []bool) *ExecutionData {
	return &ExecutionData{
		Fingerprint: fingerprint,
		Name:        name,
		Probes:      probes,
	}
}

// ID returns the identity of the class this data belongs to.
func (d *ExecutionData) ID() ClassID {
	return ClassID{Name: d.Name, Fingerprint: d.Fingerprint}
}

// HasHits returns true if at least one probe of the class fired.
func (d *ExecutionData) HasHits() bool {
	for _, probe := range d.Probes {
		if probe {
			return true
		}
	}

	return false
}

// Copy returns a deep copy of the ExecutionData.
func (d *ExecutionData) Copy() *ExecutionData {
	probes := make([]bool, len(d.Probes))
	copy(probes, d.Probes)

	return NewExecutionData(d.Fingerprint, d.Name, probes)
}

// Merge ORs the probe vector of other into this one. Both must describe the same class identity
// and carry probe vectors of the same length.
func (d *ExecutionData) Merge(other *ExecutionData) error {
	if d.ID() != other.ID() {
		return errors.Errorf("cannot merge execution data of %s into %s", other.ID(), d.ID())
	}
	if len(d.Probes) != len(other.Probes) {
		return errors.Errorf("incompatible probe vectors for %s: %d != %d probes",
			d.ID(), len(d.Probes), len(other.Probes))
	}

	for i, probe := range other.Probes {
		d.Probes[i] = d.Probes[i] || probe
	}

	return nil
}

// Equal returns true if both execution data share identity and probe vector.
func (d *ExecutionData) Equal(other *ExecutionData) bool {
	if other == nil || d.ID() != other.ID() || len(d.Probes) != len(other.Probes) {
		return false
	}
	for i := range d.Probes {
		if d.Probes[i] != other.Probes[i] {
			return false
		}
	}

	return true
}
