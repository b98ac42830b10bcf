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

package aggr

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mima-hlavacek/aggrcore/pkg/aggrtypes"
	"github.com/mima-hlavacek/aggrcore/pkg/arena"
	"github.com/mima-hlavacek/aggrcore/pkg/hashtable"
	"github.com/mima-hlavacek/aggrcore/pkg/memory"
	"github.com/mima-hlavacek/aggrcore/pkg/partstore"
	"github.com/mima-hlavacek/aggrcore/pkg/schedule"
)

// GlobalSinkState is the cross-thread registry spec §3 names: owns the
// partitioned uncombined data, the arenas kept alive for aggregate
// state, the memory reservation handle, and the monotonic counters and
// one-way flags every worker publishes into. Grounded on the teacher's
// HashAggr coordinating a single RadixPartitionedHashTable
// (pkg/compute/aggregate_exec.go), generalized to multiple concurrent
// workers.
type GlobalSinkState struct {
	Descriptor *Descriptor
	Policy     *Policy
	Reservation *memory.Manager
	Scheduler  schedule.Scheduler
	Log        *zap.Logger
	RunID      uuid.UUID

	mu             sync.Mutex
	uncombinedData *partstore.Store
	storedAllocators []*arena.Arena

	activeThreads atomic.Int64
	countBeforeCombining int64

	partitions *PartitionTable
}

// NewGlobalSinkState creates the shared sink-phase state for one query
// running with the given policy and collaborators.
func NewGlobalSinkState(desc *Descriptor, policy *Policy, res *memory.Manager, sched schedule.Scheduler, log *zap.Logger) *GlobalSinkState {
	if log == nil {
		log = zap.NewNop()
	}
	runID := uuid.New()
	log = log.With(zap.String("run_id", runID.String()))
	policy.SetLogger(log)
	res.SetMinimumReservation(int64(sched.NumberOfThreads()) * 1 << 20)
	return &GlobalSinkState{
		Descriptor:  desc,
		Policy:      policy,
		Reservation: res,
		Scheduler:   sched,
		Log:         log,
		RunID:       runID,
	}
}

// LocalSinkState is a per-worker sink state, exclusively owned by its
// worker (spec §3 ownership rules). It wraps one thread-local hash
// table plus the store of rows abandoned by past MaybeRepartition calls.
type LocalSinkState struct {
	global *GlobalSinkState
	ht     *hashtable.Table
	abandonedData *partstore.Store
	created bool
}

// GetGlobalSinkState is the public entry point spec §6 exposes.
func GetGlobalSinkState(desc *Descriptor, policy *Policy, res *memory.Manager, sched schedule.Scheduler, log *zap.Logger) *GlobalSinkState {
	return NewGlobalSinkState(desc, policy, res, sched, log)
}

// GetLocalSinkState creates a fresh, empty local sink state; the
// backing hash table is created lazily on the first Sink call (spec
// §4.2 "On first batch per worker").
func GetLocalSinkState(g *GlobalSinkState) *LocalSinkState {
	return &LocalSinkState{global: g}
}

// Sink appends one input batch of (groups, payload) rows to a worker's
// local hash table, following spec §4.2's five-step protocol.
func (g *GlobalSinkState) Sink(l *LocalSinkState, groups [][]aggrtypes.Value, payload [][]aggrtypes.Value, filter []int) error {
	if !l.created {
		cap := g.Policy.SinkCapacity(g.Scheduler.NumberOfThreads())
		l.ht = hashtable.New(g.Descriptor.Layout, g.Descriptor.GroupCount(), cap, g.Policy.RadixBits())
		l.created = true
		g.activeThreads.Add(1)
	}

	// Step 1: project group columns. If the grouping set is empty every
	// row collapses into the single synthetic constant group.
	projected := make([][]aggrtypes.Value, len(groups))
	for i := range groups {
		projected[i] = g.Descriptor.ConstGroups(fullRowOf(groups[i]))
	}

	// Step 2: insert into the local HT.
	l.ht.AddChunk(projected, payload, g.Descriptor.Layout, filter)

	batchSize := len(groups)
	// Step 3.
	if l.ht.Count()+batchSize < l.ht.ResizeThreshold() {
		return nil
	}

	active := int(g.activeThreads.Load())
	preReset := false
	// Step 4. Flush pending rows into the backing store before dropping
	// the probe index and count, or ResetCount would discard every group
	// findOrCreate has staged since the last flush.
	if active > 2 {
		l.ht.Unpin()
		l.ht.ClearProbeTable()
		l.ht.ResetCount()
		preReset = true
	}

	// Step 5.
	repartitioned, err := g.maybeRepartition(l, active)
	if err != nil {
		return err
	}
	if repartitioned && !preReset {
		l.ht.ClearProbeTable()
		l.ht.ResetCount()
	}
	return nil
}

// fullRowOf returns the caller's group slice unchanged: callers of Sink
// pass every group column of the descriptor, in GroupColumnTypes order,
// and ConstGroups picks the grouping set's positions out of that full
// row. A descriptor whose grouping set is a strict subset (E8's {0} of
// two columns) therefore still receives all group columns here.
func fullRowOf(groups []aggrtypes.Value) []aggrtypes.Value {
	return groups
}

// maybeRepartition implements spec §4.2's MaybeRepartition, steps a-g.
func (g *GlobalSinkState) maybeRepartition(l *LocalSinkState, active int) (bool, error) {
	if active < 1 {
		active = 1
	}
	entrySlotSize := int64(8)
	store := l.ht.GetPartitionedData()
	totalSize := store.SizeInBytes() + int64(l.ht.Capacity())*entrySlotSize
	threadLimit := g.Reservation.GetReservation() / int64(active)

	// step b
	if totalSize > threadLimit && !g.Policy.External() {
		g.mu.Lock()
		threadLimit = g.Reservation.GetReservation() / int64(active)
		if totalSize > threadLimit {
			g.Reservation.DoubleReservation()
			threadLimit = g.Reservation.GetReservation() / int64(active)
		}
		g.mu.Unlock()
	}

	// step c
	if totalSize > threadLimit {
		if g.Policy.SetRadixBitsToExternal() {
			l.ht.Unpin()
			newBits := g.Policy.RadixBits()
			moved := store.Repartition(newBits)
			if l.abandonedData == nil {
				l.abandonedData = moved
			} else {
				l.abandonedData.Combine(moved)
			}
			l.ht.SetRadixBits(newBits)
			l.ht.InitPartitionedData()
			return true, nil
		}
	}

	// step d
	if active < 2 {
		return false, nil
	}

	// step e
	currentBits := bitsFor(store.PartitionCount())
	rowCount := int64(store.Count())
	rowWidth := int64(g.Descriptor.Layout.RowWidth) + 16
	partCount := int64(maxInt(store.PartitionCount(), 1))
	rowSizePerPartition := rowCount * rowWidth / partCount
	if float64(rowSizePerPartition) > g.Policy.RepartitionFill()*float64(g.Policy.BlockSizeBytes()) {
		g.Policy.SetRadixBits(currentBits + g.Policy.RepartitionStep())
	}

	// step f
	globalBits := g.Policy.RadixBits()
	if currentBits == globalBits {
		return false, nil
	}

	// step g
	l.ht.Unpin()
	old := store
	l.ht.SetRadixBits(globalBits)
	l.ht.InitPartitionedData()
	repartitioned := old.Repartition(globalBits)
	l.ht.GetPartitionedData().Combine(repartitioned)
	return true, nil
}

// Combine runs spec §4.3's end-of-sink protocol for one worker.
func (g *GlobalSinkState) Combine(l *LocalSinkState) error {
	if !l.created {
		return nil
	}
	// step 1
	g.Policy.SetAnyCombined()
	// step 2
	if _, err := g.maybeRepartition(l, int(g.activeThreads.Load())); err != nil {
		return err
	}
	// step 3
	l.ht.Unpin()
	// step 4
	data := l.ht.GetPartitionedData()
	if l.abandonedData != nil {
		l.abandonedData.Combine(data)
	} else {
		l.abandonedData = data
	}
	// step 5
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.uncombinedData == nil {
		g.uncombinedData = l.abandonedData
	} else {
		g.uncombinedData.Combine(l.abandonedData)
	}
	g.storedAllocators = append(g.storedAllocators, l.ht.GetArena())
	g.countBeforeCombining += int64(l.abandonedData.Count())
	return nil
}

// MaxThreads implements spec §6's max_threads formula.
func (g *GlobalSinkState) MaxThreads(maxPartitionSize int64, partitionCount, threadCount int) int {
	if partitionCount == 0 {
		return 1
	}
	if maxPartitionSize <= 0 {
		return maxInt(1, threadCount)
	}
	n := g.Reservation.GetReservation() / maxPartitionSize
	limit := minInt(int(n), partitionCount)
	limit = minInt(limit, threadCount)
	return maxInt(limit, 1)
}
