// Copyright 2024 aggrcore authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package aggr is the coordination core described by spec.md: the
// sink-phase policy, the per-partition finalize-then-scan state
// machine, the memory reservation feedback loop, and the cross-thread
// handoff of partitioned tuple data, all sitting atop the single hash
// table primitive in pkg/hashtable. It is grounded on the teacher's
// RadixPartitionedHashTable / HashAggr / executor_aggr.go family
// (pkg/compute), generalized from a single in-process pipeline into
// the parallel sink/combine/finalize/source protocol.
package aggr

import (
	"github.com/mima-hlavacek/aggrcore/pkg/aggrtypes"
	"github.com/mima-hlavacek/aggrcore/pkg/tuple"
)

// Descriptor is the immutable, shared-read-only aggregation descriptor
// (spec §3). It carries exactly one grouping set, with its null_groups
// and grouping_functions; a GROUPING SETS/CUBE caller builds one
// Descriptor (and Operator) per grouping set, repeating the shared
// group and payload column types and aggregate specs in each -
// grounded on the teacher's GroupedAggrData / RadixPartitionedHashTable
// pairing (pkg/compute/aggregate_exec.go).
type Descriptor struct {
	GroupColumnTypes   []aggrtypes.LType
	PayloadColumnTypes []aggrtypes.LType
	Aggregates         []*tuple.AggrObject
	Layout             *tuple.Layout

	GroupingSet       []int // sorted indices into GroupColumnTypes
	NullGroups        []int // complement of GroupingSet
	GroupingFunctions [][]int
}

// NewDescriptor builds a Descriptor for one grouping. If groupingSet is
// empty the engine synthesizes a single constant group (spec §3
// invariant) by adding a synthetic tinyint group column - grounded on
// the teacher's own handling in NewRadixPartitionedHashTable, which
// appends common.TinyintType() for the empty grouping set.
func NewDescriptor(groupTypes, payloadTypes []aggrtypes.LType, aggregates []*tuple.AggrObject, groupingSet []int, groupingFunctions [][]int) *Descriptor {
	gs := aggrtypes.NewGroupingSet(groupingSet...)
	null := aggrtypes.NullGroups(gs, len(groupTypes))

	d := &Descriptor{
		GroupColumnTypes:   groupTypes,
		PayloadColumnTypes: payloadTypes,
		Aggregates:         aggregates,
		GroupingSet:        gs.Ordered(),
		NullGroups:         null,
		GroupingFunctions:  groupingFunctions,
	}
	d.Layout = tuple.NewLayout(aggregates)
	return d
}

// EmptyGrouping reports whether this descriptor's grouping set collapses
// every input row into a single synthetic group (spec §3, §4.5 "Empty-
// input special case").
func (d *Descriptor) EmptyGrouping() bool {
	return len(d.GroupingSet) == 0
}

// ConstGroups returns the group-column values a row projects for this
// descriptor's grouping set: the actual column values at the set's
// positions, or the single synthetic constant when the set is empty.
func (d *Descriptor) ConstGroups(fullRow []aggrtypes.Value) []aggrtypes.Value {
	if d.EmptyGrouping() {
		return []aggrtypes.Value{aggrtypes.ConstGroupValue()}
	}
	out := make([]aggrtypes.Value, len(d.GroupingSet))
	for i, idx := range d.GroupingSet {
		out[i] = fullRow[idx]
	}
	return out
}

// GroupCount returns the width of the group side of a row for this
// descriptor (1 for the empty-grouping-set synthetic case).
func (d *Descriptor) GroupCount() int {
	if d.EmptyGrouping() {
		return 1
	}
	return len(d.GroupingSet)
}
