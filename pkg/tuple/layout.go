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

// Package tuple implements the row-operations collaborator from spec §6:
// destroy_states and finalize_states, plus init/update/combine, layered
// over a fixed per-aggregate state layout. It plays the role of the
// teacher's TupleDataLayout and the free functions in
// pkg/compute/aggregate_exec.go (InitStates, UpdateStates,
// FinalizeStates). Aggregate state here is a boxed Go value per
// aggregate per row rather than a pointer into a buffer-manager page:
// buffer-manager paging is explicitly out of scope for this core, and
// boxing keeps arbitrary aggregate state (a HyperLogLog sketch, a
// decimal accumulator) safely visible to the garbage collector instead
// of hiding pointers inside raw byte slices. StateSize survives purely
// as an estimate for the memory-reservation math in the sink policy.
package tuple

import "github.com/mima-hlavacek/aggrcore/pkg/aggrtypes"

// AggrFunc is the shape a stateful aggregate function must implement:
// init, update, combine, finalize, and an optional destructor, matching
// spec §3's aggregate_specs and the teacher's FunctionV2 aggregate slots
// (_init, _update, _combine, _finalize in pkg/plan/function-v2.go).
type AggrFunc struct {
	Name       string
	ArgCount   int
	ReturnType aggrtypes.LType
	// StateSize is an estimated in-memory footprint in bytes, used only
	// by the sink policy's size math (spec §4.1, §4.4); it does not
	// bound or allocate anything.
	StateSize int
	Init      func() any
	Update    func(state any, args []aggrtypes.Value) any
	Combine   func(dst, src any) any
	Finalize  func(state any) aggrtypes.Value
	// Destroy is nil for aggregates whose state needs no cleanup beyond
	// letting the garbage collector reclaim it (the common case: a
	// numeric accumulator). Aggregates holding external resources set
	// it so §5's Destroy semantics have something to run.
	Destroy func(state any)
}

// AggrObject binds one aggregate function to its position in a layout,
// mirroring the teacher's AggrObject (pkg/compute/aggregate_types.go).
type AggrObject struct {
	Func        *AggrFunc
	ChildCount  int
	PayloadSize int
}

func NewAggrObject(f *AggrFunc) *AggrObject {
	return &AggrObject{Func: f, ChildCount: f.ArgCount, PayloadSize: f.StateSize}
}

// Layout describes the ordered aggregate list a row's state slice
// follows, plus the estimated byte width used by the sink policy. Row
// width is constant per descriptor (spec §3).
type Layout struct {
	Aggregates []*AggrObject
	Offsets    []int // byte offsets, accounting-only (see package doc)
	RowWidth   int
}

func NewLayout(aggrs []*AggrObject) *Layout {
	offsets := make([]int, len(aggrs))
	width := 0
	for i, a := range aggrs {
		offsets[i] = width
		width += a.PayloadSize
	}
	return &Layout{Aggregates: aggrs, Offsets: offsets, RowWidth: width}
}

// HasDestructors reports whether any aggregate in the layout needs
// explicit teardown; the partition-destroy and single-shot-scan paths
// skip the destroy pass entirely when this is false (spec §5 Destroy
// semantics).
func (l *Layout) HasDestructors() bool {
	for _, a := range l.Aggregates {
		if a.Func.Destroy != nil {
			return true
		}
	}
	return false
}

// InitStates initializes every aggregate slot for a freshly created row.
func InitStates(layout *Layout, state []any) {
	for i, a := range layout.Aggregates {
		state[i] = a.Func.Init()
	}
}

// UpdateState feeds one row's argument values into aggregate aggrIdx.
func UpdateState(layout *Layout, aggrIdx int, state []any, args []aggrtypes.Value) {
	a := layout.Aggregates[aggrIdx]
	state[aggrIdx] = a.Func.Update(state[aggrIdx], args)
}

// CombineStates merges src's partial aggregate state into dst, in
// place, for every aggregate in the layout. Used both by the single
// hash table's own combine and by the source engine's per-partition
// finalize (spec §4.5).
func CombineStates(layout *Layout, dst, src []any) {
	for i, a := range layout.Aggregates {
		dst[i] = a.Func.Combine(dst[i], src[i])
	}
}

// FinalizeStates computes the output value of every aggregate in state.
func FinalizeStates(layout *Layout, state []any) []aggrtypes.Value {
	out := make([]aggrtypes.Value, len(layout.Aggregates))
	for i, a := range layout.Aggregates {
		out[i] = a.Func.Finalize(state[i])
	}
	return out
}

// DestroyStates runs every aggregate's destructor over state. Callers
// should check HasDestructors first if they want to skip the pass
// entirely rather than no-op through it (spec §5).
func DestroyStates(layout *Layout, state []any) {
	for i, a := range layout.Aggregates {
		if a.Func.Destroy == nil {
			continue
		}
		a.Func.Destroy(state[i])
	}
}

// NewState allocates a fresh, uninitialized state slice for one row.
func NewState(layout *Layout) []any {
	return make([]any, len(layout.Aggregates))
}
