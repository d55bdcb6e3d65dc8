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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {
	var store *Store

	BeforeEach(func() {
		store = NewStore()
	})

	When("Merge is called", func() {
		It("adds a copy of unknown classes", func() {
			data := NewExecutionData(1, "a/A", []bool{true, false})
			Expect(store.Merge(data)).To(Succeed())

			data.Probes[1] = true
			Expect(store.Get(data.ID()).Probes).To(Equal([]bool{true, false}))
		})

		It("ORs the probe vectors of the same class", func() {
			Expect(store.Merge(NewExecutionData(1, "a/A", []bool{true, false, true}))).To(Succeed())
			Expect(store.Merge(NewExecutionData(1, "a/A", []bool{false, true, true}))).To(Succeed())
			Expect(store.Get(ClassID{Name: "a/A", Fingerprint: 1}).Probes).To(Equal([]bool{true, true, true}))
		})

		It("fails for probe vectors of different length", func() {
			Expect(store.Merge(NewExecutionData(1, "a/A", []bool{true}))).To(Succeed())
			Expect(store.Merge(NewExecutionData(1, "a/A", []bool{true, false}))).NotTo(Succeed())
		})

		It("keeps classes with the same name but different fingerprints apart", func() {
			Expect(store.Merge(NewExecutionData(1, "a/A", []bool{true}))).To(Succeed())
			Expect(store.Merge(NewExecutionData(2, "a/A", []bool{false}))).To(Succeed())
			Expect(store.ByName("a/A")).To(HaveLen(2))
		})
	})

	It("returns its contents in insertion order", func() {
		store.Put(NewExecutionData(2, "b/B", []bool{true}))
		store.Put(NewExecutionData(1, "a/A", []bool{true}))

		contents := store.Contents()
		Expect(contents).To(HaveLen(2))
		Expect(contents[0].Name).To(Equal("b/B"))
		Expect(contents[1].Name).To(Equal("a/A"))
	})

	It("compares stores regardless of order", func() {
		store.Put(NewExecutionData(1, "a/A", []bool{true}))
		store.Put(NewExecutionData(2, "b/B", []bool{false}))

		other := NewStore()
		other.Put(NewExecutionData(2, "b/B", []bool{false}))
		other.Put(NewExecutionData(1, "a/A", []bool{true}))
		Expect(store.Equal(other)).To(BeTrue())

		other.Get(ClassID{Name: "b/B", Fingerprint: 2}).Probes[0] = true
		Expect(store.Equal(other)).To(BeFalse())
	})

	It("clones deeply", func() {
		store.Put(NewExecutionData(1, "a/A", []bool{false}))
		clone := store.Clone()
		clone.Get(ClassID{Name: "a/A", Fingerprint: 1}).Probes[0] = true

		Expect(store.HasHits()).To(BeFalse())
		Expect(clone.HasHits()).To(BeTrue())
	})
})
