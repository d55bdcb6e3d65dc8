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
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/aggregator"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/go-logr/logr"
	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Correlator", func() {
	var correlator *Correlator

	dumpOf := func(id string, data ...*execdata.ExecutionData) *execdata.Dump {
		store := execdata.NewStore()
		for _, d := range data {
			store.Put(d)
		}
		return &execdata.Dump{Info: execdata.SessionInfo{ID: id}, Store: store}
	}

	ginkgo.BeforeEach(func() {
		resolver := execdata.NewResolver(execdata.DuplicateWarn, logr.Discard())
		correlator = NewCorrelator(aggregator.NewAggregator(resolver, logr.Discard()), logr.Discard())
	})

	ginkgo.It("attributes probes to the test that was running", func() {
		Expect(correlator.Record(dumpOf("", execdata.NewExecutionData(1, "C", []bool{true, false, false, false})))).To(Succeed())
		Expect(correlator.Record(dumpOf("T1", execdata.NewExecutionData(1, "C", []bool{false, true, false, false})))).To(Succeed())
		Expect(correlator.Record(dumpOf("T2", execdata.NewExecutionData(1, "C", []bool{false, false, true, false})))).To(Succeed())

		coverage := correlator.Coverage()
		id := execdata.ClassID{Name: "C", Fingerprint: 1}
		Expect(coverage.Get("T1").Store.Get(id).Probes).To(Equal([]bool{false, true, false, false}))
		Expect(coverage.Get("T2").Store.Get(id).Probes).To(Equal([]bool{false, false, true, false}))
		Expect(coverage.Unassigned().Get(id).Probes).To(Equal([]bool{true, false, false, false}))
	})

	ginkgo.It("keeps tests without probes distinguishable from tests that never ran", func() {
		Expect(correlator.Record(dumpOf("T1"))).To(Succeed())

		coverage := correlator.Coverage()
		Expect(coverage.Get("T1")).NotTo(BeNil())
		Expect(coverage.Get("T1").Store.IsEmpty()).To(BeTrue())
		Expect(coverage.Get("T2")).To(BeNil())
	})

	ginkgo.It("merges the coverage of repeated tests", func() {
		Expect(correlator.Record(dumpOf("T1", execdata.NewExecutionData(1, "C", []bool{true, false})))).To(Succeed())
		Expect(correlator.Record(dumpOf("T1", execdata.NewExecutionData(1, "C", []bool{false, true})))).To(Succeed())

		coverage := correlator.Coverage()
		Expect(coverage.Tests()).To(HaveLen(1))
		Expect(coverage.Get("T1").Store.Get(execdata.ClassID{Name: "C", Fingerprint: 1}).Probes).To(Equal([]bool{true, true}))
	})

	ginkgo.It("conserves the probes of a full run", func() {
		dumps := []*execdata.Dump{
			dumpOf("T1", execdata.NewExecutionData(1, "C", []bool{true, false, false})),
			dumpOf("", execdata.NewExecutionData(2, "D", []bool{true})),
			dumpOf("T2", execdata.NewExecutionData(1, "C", []bool{false, false, true})),
			dumpOf("T3"),
		}
		Expect(correlator.RecordSource(aggregator.SliceSource(dumps...))).To(Succeed())

		full := execdata.NewStore()
		full.Put(execdata.NewExecutionData(1, "C", []bool{true, false, true}))
		full.Put(execdata.NewExecutionData(2, "D", []bool{true}))

		union, err := correlator.FullRun()
		Expect(err).NotTo(HaveOccurred())
		Expect(union.Equal(full)).To(BeTrue())
	})

	ginkgo.It("starts over after draining", func() {
		Expect(correlator.Record(dumpOf("T1"))).To(Succeed())

		drained := correlator.Drain()
		Expect(drained.Tests()).To(HaveLen(1))
		Expect(correlator.Coverage().Tests()).To(BeEmpty())
	})
})
