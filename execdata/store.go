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
	"time"
)

// Store maps class identities to their probe vectors. Keys are unique and the insertion order is
// kept so dumps and reports are deterministic.
type Store struct {
	entries map[ClassID]*ExecutionData
	order   []ClassID
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{
		entries: map[ClassID]*ExecutionData{},
	}
}

// Get returns the execution data stored for the given identity or nil if there is none.
func (s *Store) Get(id ClassID) *ExecutionData {
	return s.entries[id]
}

// ByName returns every entry stored under the given class name, in insertion order.
func (s *Store) ByName(name string) []*ExecutionData {
	var result []*ExecutionData
	for _, id := range s.order {
		if id.Name == name {
			result = append(result, s.entries[id])
		}
	}

	return result
}

// Put stores the given execution data. An entry with the same identity is replaced.
func (s *Store) Put(data *ExecutionData) {
	id := data.ID()
	if _, found := s.entries[id]; !found {
		s.order = append(s.order, id)
	}
	s.entries[id] = data
}

// Merge adds a copy of the given execution data to the store. If an entry with the same identity
// exists already, both probe vectors are ORed.
func (s *Store) Merge(data *ExecutionData) error {
	if existing, found := s.entries[data.ID()]; found {
		return existing.Merge(data)
	}
	s.Put(data.Copy())

	return nil
}

// Contents returns all entries in insertion order.
func (s *Store) Contents() []*ExecutionData {
	result := make([]*ExecutionData, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.entries[id])
	}

	return result
}

// Len returns the number of classes in the store.
func (s *Store) Len() int {
	return len(s.order)
}

// IsEmpty returns true if the store holds no classes.
func (s *Store) IsEmpty() bool {
	return len(s.order) == 0
}

// HasHits returns true if any probe of any class in the store fired.
func (s *Store) HasHits() bool {
	for _, data := range s.entries {
		if data.HasHits() {
			return true
		}
	}

	return false
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	clone := NewStore()
	for _, data := range s.Contents() {
		clone.Put(data.Copy())
	}

	return clone
}

// Equal returns true if both stores hold the same identities with the same probe vectors,
// regardless of insertion order.
func (s *Store) Equal(other *Store) bool {
	if other == nil || s.Len() != other.Len() {
		return false
	}
	for id, data := range s.entries {
		if !data.Equal(other.entries[id]) {
			return false
		}
	}

	return true
}

// SessionInfo describes the capture window a dump was taken from.
type SessionInfo struct {
	// ID is the session identifier. In testwise mode it is the uniform path of the running test
	// and empty outside of test boundaries.
	ID string

	// Partition is the session label the data was captured under.
	Partition string

	Start time.Time
	Dump  time.Time
}

// Dump is the outcome of one extraction: the session it belongs to and the probes captured in it.
type Dump struct {
	Info  SessionInfo
	Store *Store
}
