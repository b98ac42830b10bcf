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

// Package hashtable implements the "Single hash table" collaborator
// spec §6 treats as external to the core: new/add_chunk/count/capacity/
// resize_threshold/clear_probe_table/reset_count/unpin/
// get_partitioned_data/set_radix_bits/init_partitioned_data/combine/
// get_arena. It is grounded on the teacher's GroupedAggrHashTable
// (pkg/compute/aggregate_hash.go): an open-addressed probe table of
// salt-checked slots pointing at row storage, with a load-factor-based
// resize threshold and a hash column appended after the group columns.
// The teacher addresses rows through unsafe.Pointer into buffer-manager
// pages; that paging layer is explicitly out of scope here (spec §1),
// so slots instead index into the table's own plain Go slice of
// *tuple.Row values, which Unpin flushes into its partitioned store.
package hashtable

import (
	"github.com/mima-hlavacek/aggrcore/pkg/aggrtypes"
	"github.com/mima-hlavacek/aggrcore/pkg/arena"
	"github.com/mima-hlavacek/aggrcore/pkg/partstore"
	"github.com/mima-hlavacek/aggrcore/pkg/tuple"
)

const loadFactor = 0.75

// entry mirrors the teacher's aggrHTEntry: a salt to short-circuit
// probe misses without touching row storage, and a slot index instead
// of a page/offset pair.
type entry struct {
	salt uint16
	slot int32
	used bool
}

// Table is the concrete SingleHashTable. One instance lives per sink
// worker (a "local HT") and, transiently, per source finalize task
// (a "scratch HT").
type Table struct {
	layout     *tuple.Layout
	groupCount int
	radixBits  int

	probe    []entry
	capacity int
	count    int

	rows  []*tuple.Row
	store *partstore.Store
	arena *arena.Arena

	finalized bool
}

// New creates a table sized to capacity slots (rounded up to a power of
// two) with the given radix bit count, per spec §6 "capacity is a power
// of two".
func New(layout *tuple.Layout, groupCount, capacity, radixBits int) *Table {
	capacity = nextPow2(capacity)
	ar := arena.New()
	t := &Table{
		layout:     layout,
		groupCount: groupCount,
		radixBits:  radixBits,
		capacity:   capacity,
		probe:      make([]entry, capacity),
		arena:      ar,
	}
	t.store = partstore.New(radixBits, layout, groupCount, ar)
	return t
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func bitsFor(n int) int {
	b := 0
	for (1 << uint(b)) < n {
		b++
	}
	return b
}

func (t *Table) Count() int    { return t.count }
func (t *Table) Capacity() int { return t.capacity }

// ResizeThreshold is capacity x load_factor, per spec §6.
func (t *Table) ResizeThreshold() int {
	return int(float64(t.capacity) * loadFactor)
}

func (t *Table) GetArena() *arena.Arena { return t.arena }

func salt16(hash uint64) uint16 {
	return uint16(hash >> 48)
}

func (t *Table) probeSlot(hash uint64) int {
	return int(hash) & (t.capacity - 1)
}

// AddChunk hashes and inserts one batch of (groups, payload) rows,
// updating aggregate state in place for existing groups and creating
// new entries otherwise. filter, when non-nil, is the ascending list of
// aggregate indices this batch actually updates (spec's "filtered
// aggregates" feature, SUM(x) FILTER (WHERE ...)) - every row still
// gets a group entry, but aggregates outside filter skip Update for
// the whole chunk, mirroring the teacher's AddChunk
// (pkg/compute/aggregate_hash.go), which walks _layout._aggregates and
// checks i == filter[filterIdx] rather than filtering rows.
func (t *Table) AddChunk(groups [][]aggrtypes.Value, payload [][]aggrtypes.Value, aggrs *tuple.Layout, filter []int) {
	for i, g := range groups {
		hash := aggrtypes.HashRow(g)
		row := t.findOrCreate(g, hash, aggrs)
		var args []aggrtypes.Value
		if payload != nil {
			args = payload[i]
		}
		t.updateRow(row, aggrs, args, filter)
	}
}

func (t *Table) findOrCreate(groups []aggrtypes.Value, hash uint64, aggrs *tuple.Layout) *tuple.Row {
	salt := salt16(hash)
	idx := t.probeSlot(hash)
	for probes := 0; probes < t.capacity; probes++ {
		e := &t.probe[idx]
		if !e.used {
			row := &tuple.Row{Groups: groups, Hash: hash, State: tuple.NewState(aggrs)}
			tuple.InitStates(aggrs, row.State)
			t.rows = append(t.rows, row)
			e.used = true
			e.salt = salt
			e.slot = int32(len(t.rows) - 1)
			t.count++
			return row
		}
		if e.salt == salt {
			row := t.rows[e.slot]
			if groupsEqual(row.Groups, groups) {
				return row
			}
		}
		idx = (idx + 1) & (t.capacity - 1)
	}
	// Table full without a resize check by the caller is a policy bug
	// (the sink engine must resize before this happens); fall back to
	// linear append so no row is ever lost.
	row := &tuple.Row{Groups: groups, Hash: hash, State: tuple.NewState(aggrs)}
	tuple.InitStates(aggrs, row.State)
	t.rows = append(t.rows, row)
	t.count++
	return row
}

// updateRow feeds args into every aggregate in aggrs, or only the
// aggregate indices named by filter when filter is non-nil.
func (t *Table) updateRow(row *tuple.Row, aggrs *tuple.Layout, args []aggrtypes.Value, filter []int) {
	if filter == nil {
		for i := range aggrs.Aggregates {
			tuple.UpdateState(aggrs, i, row.State, args)
		}
		return
	}
	filterIdx := 0
	for i := range aggrs.Aggregates {
		if filterIdx >= len(filter) || i != filter[filterIdx] {
			continue
		}
		tuple.UpdateState(aggrs, i, row.State, args)
		filterIdx++
	}
}

func groupsEqual(a, b []aggrtypes.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].IsNull != b[i].IsNull {
			return false
		}
		if a[i].IsNull {
			continue
		}
		switch a[i].Typ.Id {
		case aggrtypes.LTID_VARCHAR:
			if a[i].Str != b[i].Str {
				return false
			}
		case aggrtypes.LTID_DOUBLE:
			if a[i].F64 != b[i].F64 {
				return false
			}
		case aggrtypes.LTID_DECIMAL:
			if a[i].Dec.String() != b[i].Dec.String() {
				return false
			}
		default:
			if a[i].I64 != b[i].I64 {
				return false
			}
		}
	}
	return true
}

// ClearProbeTable drops the open-addressing index without touching row
// storage or the backing partitioned store (spec §4.2 step 4's
// reset-without-move optimization).
func (t *Table) ClearProbeTable() {
	for i := range t.probe {
		t.probe[i] = entry{}
	}
}

// ResetCount zeroes count and drops the in-memory row slice. Callers
// must flush pending rows into t.store first (Unpin or
// GetPartitionedData) - ResetCount itself does not move them, so any
// row still only in t.rows when this is called is lost (spec §9
// "Reset-without-move optimization").
func (t *Table) ResetCount() {
	t.count = 0
	t.rows = nil
}

// Unpin flushes any rows accumulated since the last GetPartitionedData
// call into the backing store and drops the table's direct references
// to them, mirroring the teacher's page-unpin step minus the actual
// buffer-manager page release.
func (t *Table) Unpin() {
	for _, r := range t.rows {
		t.store.Append(r)
	}
	t.rows = nil
}

// GetPartitionedData returns the table's backing partitioned store,
// flushing any pending in-memory rows first.
func (t *Table) GetPartitionedData() *partstore.Store {
	t.Unpin()
	return t.store
}

// SetRadixBits updates the bit count the table's backing store uses
// when it is next (re)initialized; does not itself repartition existing
// data (that is InitPartitionedData's and the caller's job, per the
// sink engine's MaybeRepartition sequencing).
func (t *Table) SetRadixBits(b int) {
	t.radixBits = b
}

// InitPartitionedData replaces the backing store with a fresh, empty
// one at the table's current radix bit count.
func (t *Table) InitPartitionedData() {
	t.store = partstore.New(t.radixBits, t.layout, t.groupCount, t.arena)
}

// Combine merges src's rows into this table's own group space, updating
// progress as it goes (spec §6 combine(src_collection, progress_ref)).
func (t *Table) Combine(src *partstore.Store, progress *float64) {
	total := src.Count()
	if total == 0 {
		if progress != nil {
			*progress = 1
		}
		return
	}
	done := 0
	for _, part := range src.Partitions() {
		for _, r := range part {
			row := t.findOrCreate(r.Groups, r.Hash, t.layout)
			if row != nil {
				tuple.CombineStates(t.layout, row.State, r.State)
			}
			done++
			if progress != nil {
				*progress = float64(done) / float64(total)
			}
		}
	}
}

// Rows exposes the table's live in-memory rows (used by the finalize
// task's flatten-back-to-tuple-data step).
func (t *Table) Rows() []*tuple.Row {
	return t.rows
}

// MergeRow finds or creates the group r belongs to and combines r's
// already-materialized state into it. Used by the source engine's
// finalize task, which drives a scratch table from partial per-worker
// rows rather than from raw (groups, payload) input batches.
func (t *Table) MergeRow(r *tuple.Row) {
	row := t.findOrCreate(r.Groups, r.Hash, t.layout)
	if row != r {
		tuple.CombineStates(t.layout, row.State, r.State)
	}
}
