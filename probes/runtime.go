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

package probes

import (
	"sync"
	"sync/atomic"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/pkg/errors"
)

// Default is the runtime instrumented code registers with unless it brings its own.
var Default = NewRuntime()

// Runtime holds the probe vectors of all registered classes. Hits only take a shared lock, while
// extraction takes the exclusive lock, so a hit is either part of an extraction or of the next one.
type Runtime struct {
	mutex   sync.RWMutex
	classes map[execdata.ClassID]*Class
	order   []execdata.ClassID
}

// Class is the probe vector of one registered class.
type Class struct {
	id      execdata.ClassID
	probes  []atomic.Bool
	runtime *Runtime
}

// NewRuntime creates a new Runtime without classes.
func NewRuntime() *Runtime {
	return &Runtime{
		classes: map[execdata.ClassID]*Class{},
	}
}

// Register registers a class on the Default runtime.
func Register(name string, fingerprint uint64, probes int) (*Class, error) {
	return Default.Register(name, fingerprint, probes)
}

// Register registers a class with the given number of probes. Registering a known class again
// returns the existing probe vector.
func (r *Runtime) Register(name string, fingerprint uint64, probes int) (*Class, error) {
	id := execdata.ClassID{Name: name, Fingerprint: fingerprint}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, found := r.classes[id]; found {
		if len(existing.probes) != probes {
			return nil, errors.Errorf("class %s is already registered with %d probes", id, len(existing.probes))
		}
		return existing, nil
	}

	class := &Class{id: id, probes: make([]atomic.Bool, probes), runtime: r}
	r.classes[id] = class
	r.order = append(r.order, id)

	return class, nil
}

// Hit records that the probe with the given index fired.
func (c *Class) Hit(probe int) {
	c.runtime.mutex.RLock()
	c.probes[probe].Store(true)
	c.runtime.mutex.RUnlock()
}

// ID returns the identity of the class.
func (c *Class) ID() execdata.ClassID {
	return c.id
}

// Extract returns the probe vectors of all classes with at least one fired probe and clears them
// if reset is true.
func (r *Runtime) Extract(reset bool) (*execdata.Store, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	store := execdata.NewStore()
	for _, id := range r.order {
		class := r.classes[id]

		hit := false
		probes := make([]bool, len(class.probes))
		for i := range class.probes {
			probes[i] = class.probes[i].Load()
			hit = hit || probes[i]
			if reset {
				class.probes[i].Store(false)
			}
		}
		if hit {
			store.Put(execdata.NewExecutionData(id.Fingerprint, id.Name, probes))
		}
	}

	return store, nil
}
