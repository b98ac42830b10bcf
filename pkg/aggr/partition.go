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
	"sync/atomic"

	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/mima-hlavacek/aggrcore/pkg/hashtable"
	"github.com/mima-hlavacek/aggrcore/pkg/schedule"
	"github.com/mima-hlavacek/aggrcore/pkg/syncx"
	"github.com/mima-hlavacek/aggrcore/pkg/tuple"
)

// PartitionState is one AggregatePartition's position in the
// finalize-then-scan state machine (spec §3, §4.5).
type PartitionState int

const (
	ReadyToFinalize PartitionState = iota
	FinalizeInProgress
	ReadyToScan
	// PartitionError is the terminal state a partition enters if its
	// finalize task fails, per the cancellation-during-Finalize open
	// question resolution (spec §9): rather than leaving a partition
	// silently stuck in FINALIZE_IN_PROGRESS, it gets an explicit
	// terminal state and every blocked task is woken with the error.
	PartitionError
)

// AggregatePartition is one radix bucket's finalize-then-scan unit
// (spec §3). Grounded on the teacher's per-partition combine loop in
// RadixPartitionedHashTable.Combine (pkg/compute/aggregate_hash.go),
// split out into its own addressable state machine so the source
// engine can pipeline finalize and scan across partitions.
type AggregatePartition struct {
	mu    *syncx.ReentryLock
	state PartitionState
	rows  []*tuple.Row

	progress atomic.Value // float64

	blocked []*schedule.WakeupHandle
	err     error
}

func newAggregatePartition(rows []*tuple.Row) *AggregatePartition {
	p := &AggregatePartition{state: ReadyToFinalize, rows: rows, mu: syncx.NewReentryLock()}
	p.progress.Store(0.0)
	return p
}

func (p *AggregatePartition) Progress() float64 {
	return p.progress.Load().(float64)
}

func (p *AggregatePartition) setProgress(v float64) {
	p.progress.Store(v)
}

func (p *AggregatePartition) State() PartitionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// registerWakeup parks a wakeup handle on this partition; it fires the
// next time the partition leaves FINALIZE_IN_PROGRESS (spec §4.5, §9
// "Blocked-task wakeups").
func (p *AggregatePartition) registerWakeup(h *schedule.WakeupHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocked = append(p.blocked, h)
}

func (p *AggregatePartition) fireWakeups(err error) {
	p.mu.Lock()
	handles := p.blocked
	p.blocked = nil
	p.mu.Unlock()
	for _, h := range handles {
		h.Fire(err)
	}
}

// PartitionTable is the finalized output container spec §3 describes:
// one AggregatePartition per radix bucket. It also holds the derived
// max_partition_size Finalize computes, used by max_threads and by the
// reservation set after Finalize.
type PartitionTable struct {
	Partitions       []*AggregatePartition
	MaxPartitionSize int64
	FastPath         bool
}

// Finalize implements spec §4.4: build one AggregatePartition per
// radix bucket of the combined uncombined data, size them, and reserve
// memory for the worst case.
func Finalize(g *GlobalSinkState) (*PartitionTable, error) {
	g.mu.Lock()
	data := g.uncombinedData
	g.mu.Unlock()

	if data == nil {
		return &PartitionTable{}, nil
	}

	parts := data.Partitions()
	pt := &PartitionTable{Partitions: make([]*AggregatePartition, len(parts))}

	entrySlotSize := int64(8)
	var maxSize int64
	for i, rows := range parts {
		var bytes int64
		for range rows {
			bytes += int64(g.Descriptor.Layout.RowWidth) + 16
		}
		requiredSlots := int64(nextPow2Int(len(rows) * 2))
		size := bytes + requiredSlots*entrySlotSize
		if size > maxSize {
			maxSize = size
		}
		pt.Partitions[i] = newAggregatePartition(rows)
	}
	if maxSize == 0 {
		maxSize = entrySlotSize
	}
	pt.MaxPartitionSize = maxSize

	threadCount := g.Scheduler.NumberOfThreads()
	n := len(parts)
	reserveUnits := int64(minInt(threadCount, n))
	if reserveUnits < 1 {
		reserveUnits = 1
	}
	g.Reservation.SetMinimumReservation(maxSize)
	g.Reservation.Reserve(reserveUnits * maxSize)
	if g.Reservation.GetReservation() < maxSize {
		return nil, resourceDenied("cannot reserve %d bytes for the largest partition (got %d)", maxSize, g.Reservation.GetReservation())
	}

	// Fast path: a single worker, never external -> every partition is
	// already fully combined, so it can go straight to READY_TO_SCAN
	// without a per-partition finalize pass.
	if g.activeThreads.Load() == 1 && !g.Policy.External() {
		pt.FastPath = true
		for _, p := range pt.Partitions {
			p.mu.Lock()
			p.state = ReadyToScan
			p.setProgress(1)
			p.mu.Unlock()
		}
	}

	g.partitions = pt
	g.Log.Info("finalize built partition table",
		zap.Int("partitions", len(pt.Partitions)),
		zap.Int64("max_partition_size", pt.MaxPartitionSize),
		zap.Bool("fast_path", pt.FastPath),
	)
	return pt, nil
}

func nextPow2Int(n int) int {
	if n < 1 {
		return 1
	}
	v := 1
	for v < n {
		v <<= 1
	}
	return v
}

// runFinalizeTask implements spec §4.5's Finalize task: combine the
// partition's rows into a scratch hash table, flatten back to a fresh
// row set, and transition the partition to READY_TO_SCAN.
func runFinalizeTask(g *GlobalSinkState, sourceGlobal *GlobalSourceState, p *AggregatePartition) error {
	perEntry := int64(g.Descriptor.Layout.RowWidth) + 24
	memLimit := g.Reservation.GetReservation()
	threadCount := int64(maxInt(g.Scheduler.NumberOfThreads(), 1))
	idealCap := nextPow2Int(maxInt(len(p.rows), 1) * 2)
	budgetCap := nextPow2Int(int(float64(memLimit) * 0.6 / float64(threadCount) / float64(maxInt64(perEntry, 1))))
	cap := minInt(idealCap, budgetCap)
	if cap < 1 {
		cap = 1
	}

	scratch := hashtable.New(g.Descriptor.Layout, g.Descriptor.GroupCount(), cap, 0)
	total := len(p.rows)
	for i, r := range p.rows {
		scratch.MergeRow(r)
		p.setProgress(float64(i+1) / float64(maxInt(total, 1)))
	}
	// Rows must be taken before Unpin, which flushes them into the
	// scratch table's store and drops the table's own references.
	flat := scratch.Rows()
	scratch.Unpin()

	g.mu.Lock()
	g.storedAllocators = append(g.storedAllocators, scratch.GetArena())
	g.mu.Unlock()

	p.mu.Lock()
	p.rows = flat
	p.mu.Unlock()

	sourceGlobal.finalizeDone.Add(1)
	if sourceGlobal.finalizeDone.Load() == int64(len(sourceGlobal.partitions.Partitions)) {
		g.Reservation.Release()
	}

	// Held across the state flip and the wakeup fan-out so no worker can
	// observe READY_TO_SCAN before its queued wakeups are drained;
	// fireWakeups re-enters this same lock from the same goroutine,
	// which is exactly what the reentrant lock exists for.
	p.mu.Lock()
	p.state = ReadyToScan
	p.fireWakeups(nil)
	p.mu.Unlock()
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// DebugTree renders the partition table's state as a tree, a
// diagnostics aid grounded on the pack's xlab/treeprint usage for
// hierarchical debug output.
func (pt *PartitionTable) DebugTree() string {
	root := treeprint.New()
	root.SetValue("partitions")
	for i, p := range pt.Partitions {
		branch := root.AddBranch("bucket")
		branch.AddNode(i)
		branch.AddNode(stateName(p.State()))
	}
	return root.String()
}

func stateName(s PartitionState) string {
	switch s {
	case ReadyToFinalize:
		return "READY_TO_FINALIZE"
	case FinalizeInProgress:
		return "FINALIZE_IN_PROGRESS"
	case ReadyToScan:
		return "READY_TO_SCAN"
	case PartitionError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
