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
	"io"
	"sync"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/aggregator"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/go-logr/logr"
)

// TestCoverage is the execution data captured while a single test ran.
type TestCoverage struct {
	UniformPath string
	Store       *execdata.Store
}

// TestwiseCoverage maps every test to the execution data captured while it ran. Probes fired
// outside of any test boundary are collected separately.
type TestwiseCoverage struct {
	tests      map[string]*TestCoverage
	order      []string
	unassigned *execdata.Store
}

// NewTestwiseCoverage creates a new empty TestwiseCoverage.
func NewTestwiseCoverage() *TestwiseCoverage {
	return &TestwiseCoverage{
		tests:      map[string]*TestCoverage{},
		unassigned: execdata.NewStore(),
	}
}

// Get returns the coverage of the test or nil if the test never ran.
func (c *TestwiseCoverage) Get(uniformPath string) *TestCoverage {
	return c.tests[uniformPath]
}

// Tests returns the coverage of all tests in the order they ran first.
func (c *TestwiseCoverage) Tests() []*TestCoverage {
	tests := make([]*TestCoverage, 0, len(c.order))
	for _, uniformPath := range c.order {
		tests = append(tests, c.tests[uniformPath])
	}

	return tests
}

// Unassigned returns the execution data captured outside of test boundaries.
func (c *TestwiseCoverage) Unassigned() *execdata.Store {
	return c.unassigned
}

// Correlator attributes dumps to tests by their session id. A dump without session id holds the
// probes fired between tests. Dumps of a test that ran several times are merged.
type Correlator struct {
	log        logr.Logger
	aggregator *aggregator.Aggregator

	mutex    sync.Mutex
	coverage *TestwiseCoverage
}

// NewCorrelator creates a new Correlator.
func NewCorrelator(aggregator *aggregator.Aggregator, log logr.Logger) *Correlator {
	return &Correlator{
		log:        log.WithName("correlator"),
		aggregator: aggregator,
		coverage:   NewTestwiseCoverage(),
	}
}

// Record attributes the dump to the test named by its session id.
func (c *Correlator) Record(dump *execdata.Dump) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	uniformPath := dump.Info.ID
	if uniformPath == "" {
		merged, err := c.aggregator.Merge(c.coverage.unassigned, dump.Store)
		if err != nil {
			return err
		}
		c.coverage.unassigned = merged
		return nil
	}

	existing, found := c.coverage.tests[uniformPath]
	if !found {
		merged, err := c.aggregator.Merge(dump.Store)
		if err != nil {
			return err
		}
		c.coverage.tests[uniformPath] = &TestCoverage{UniformPath: uniformPath, Store: merged}
		c.coverage.order = append(c.coverage.order, uniformPath)
		return nil
	}

	c.log.V(1).Info("Merging coverage of repeated test", "test", uniformPath)
	merged, err := c.aggregator.Merge(existing.Store, dump.Store)
	if err != nil {
		return err
	}
	existing.Store = merged

	return nil
}

// RecordSource records every dump of the source.
func (c *Correlator) RecordSource(source aggregator.Source) error {
	for {
		dump, err := source.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.Record(dump); err != nil {
			return err
		}
	}
}

// Coverage returns the coverage recorded so far. The result must not be modified.
func (c *Correlator) Coverage() *TestwiseCoverage {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.coverage
}

// Drain returns the coverage recorded so far and starts over with an empty one.
func (c *Correlator) Drain() *TestwiseCoverage {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	coverage := c.coverage
	c.coverage = NewTestwiseCoverage()

	return coverage
}

// FullRun returns the union of all tests and the unassigned probes, which equals the store a
// single full run dump would have produced.
func (c *Correlator) FullRun() (*execdata.Store, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stores := []*execdata.Store{c.coverage.unassigned}
	for _, test := range c.coverage.Tests() {
		stores = append(stores, test.Store)
	}

	return c.aggregator.Merge(stores...)
}
