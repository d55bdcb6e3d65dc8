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

package cache

import (
	"fmt"
	"sync"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
)

// UnknownClassError is returned for execution data of classes the index does not know.
type UnknownClassError struct {
	ID execdata.ClassID
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("no class file found for %s", e.ID.Name)
}

// MismatchedClassError is returned for execution data whose fingerprint differs from the one of
// the indexed class file.
type MismatchedClassError struct {
	ID       execdata.ClassID
	Expected uint64
}

func (e *MismatchedClassError) Error() string {
	return fmt.Sprintf("execution data for %s does not match the class file (fingerprint %016x)", e.ID, e.Expected)
}

// ProbesCache memoizes the line lookup table of every analyzed class, so evaluating the many small
// per-test stores of a testwise run only analyzes every class once.
type ProbesCache struct {
	index *analysis.Index

	mutex    sync.Mutex
	analyses map[execdata.ClassID]*analysis.Analysis
}

// NewProbesCache creates a new ProbesCache backed by the given index.
func NewProbesCache(index *analysis.Index) *ProbesCache {
	return &ProbesCache{
		index:    index,
		analyses: map[execdata.ClassID]*analysis.Analysis{},
	}
}

// Index returns the class index backing the cache.
func (c *ProbesCache) Index() *analysis.Index {
	return c.index
}

// GetAnalysis returns the lookup table of the class the execution data belongs to.
func (c *ProbesCache) GetAnalysis(id execdata.ClassID) (*analysis.Analysis, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if cached, found := c.analyses[id]; found {
		return cached, nil
	}

	class := c.index.Get(id.Name)
	if class == nil {
		return nil, &UnknownClassError{ID: id}
	}
	if class.Fingerprint != id.Fingerprint {
		return nil, &MismatchedClassError{ID: id, Expected: class.Fingerprint}
	}

	analyzed := class.Analyze()
	c.analyses[id] = analyzed

	return analyzed, nil
}

// GetCoverage returns the line coverage of the given execution data.
func (c *ProbesCache) GetCoverage(data *execdata.ExecutionData) (*analysis.ClassCoverage, error) {
	analyzed, err := c.GetAnalysis(data.ID())
	if err != nil {
		return nil, err
	}

	return analyzed.Coverage(data.Probes)
}

// Len returns the number of cached lookup tables.
func (c *ProbesCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.analyses)
}
