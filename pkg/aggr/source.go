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
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mima-hlavacek/aggrcore/pkg/aggrtypes"
	"github.com/mima-hlavacek/aggrcore/pkg/schedule"
	"github.com/mima-hlavacek/aggrcore/pkg/tuple"
)

// ScanPinProperty selects single-shot vs multi-scan semantics for a
// partition's row data once it has been scanned (spec §4.5, GLOSSARY).
type ScanPinProperty int

const (
	DestroyAfterDone ScanPinProperty = iota
	UnpinAfterDone
)

// GetDataResult is the tri-state get_data return spec §6 names.
type GetDataResult int

const (
	HaveMoreOutput GetDataResult = iota
	Finished
	Blocked
)

// GlobalSourceState is the shared task-pool state the source engine
// pulls partitions from (spec §4.5 "Task assignment"). Grounded on the
// teacher's sequential per-partition Combine/scan loop in
// RadixPartitionedHashTable.GetData (pkg/compute/aggregate_hash.go),
// generalized into an explicit task-index pool multiple workers pull
// from concurrently.
type GlobalSourceState struct {
	sink       *GlobalSinkState
	partitions *PartitionTable
	scanPin    ScanPinProperty
	grouping   []int64
	log        *zap.Logger

	mu       sync.Mutex
	taskIdx  int
	taskDone atomic.Int64
	finished atomic.Bool

	finalizeDone atomic.Int64

	// emptyInputEmitted guards the empty-input special case (spec
	// §4.5) so it fires exactly once.
	emptyInputEmitted atomic.Bool
	emptyInputPending  bool
}

// GetGlobalSourceState builds the source-phase state from a finalized
// partition table.
func GetGlobalSourceState(g *GlobalSinkState, pt *PartitionTable) *GlobalSourceState {
	gs := &GlobalSourceState{
		sink:       g,
		partitions: pt,
		scanPin:    DestroyAfterDone,
		grouping:   GroupingValues(g.Descriptor),
		log:        g.Log,
	}
	if pt.FastPath {
		gs.finalizeDone.Store(int64(len(pt.Partitions)))
	}
	g.mu.Lock()
	countBefore := g.countBeforeCombining
	g.mu.Unlock()
	if countBefore == 0 && g.Descriptor.EmptyGrouping() {
		gs.emptyInputPending = true
	} else if countBefore == 0 {
		gs.finished.Store(true)
	}
	return gs
}

// SetMultiScan switches scan_pin to UNPIN_AFTER_DONE (spec §6).
func (g *GlobalSinkState) SetMultiScan(s *GlobalSourceState) {
	s.scanPin = UnpinAfterDone
}

// taskKind is what a LocalSourceState has been assigned to run.
type taskKind int

const (
	taskNone taskKind = iota
	taskFinalize
	taskScan
)

type scanStatus int

const (
	scanInit scanStatus = iota
	scanRunning
	scanDone
)

// LocalSourceState is a per-worker source state (spec §3, exclusively
// owned by its worker).
type LocalSourceState struct {
	global    *GlobalSourceState
	task      taskKind
	partition *AggregatePartition
	status    scanStatus
	cursor    int

	// wake is set by assignTask when it returns Blocked; it fires the
	// same instant the wakeup handle registered on the partition does
	// (spec §4.5/§9). Nil once drained by WaitForWakeup.
	wake chan error
}

// GetLocalSourceState creates a fresh worker-local source state.
func GetLocalSourceState(g *GlobalSourceState) *LocalSourceState {
	return &LocalSourceState{global: g}
}

// WaitForWakeup blocks the caller until the wakeup handle registered
// for this worker's last Blocked result fires, or ctx is cancelled
// first. It is the counterpart to assignTask's Blocked path: a real
// scheduler should park the worker here (or on an equivalent select)
// instead of re-polling GetData in a tight loop. A no-op if the worker
// isn't currently parked on anything.
func (l *LocalSourceState) WaitForWakeup(ctx context.Context) error {
	wake := l.wake
	if wake == nil {
		return nil
	}
	l.wake = nil
	select {
	case err := <-wake:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// assignTask implements spec §4.5's task assignment under the global
// source lock.
func (g *GlobalSourceState) assignTask(l *LocalSourceState) GetDataResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finished.Load() {
		return Finished
	}
	if g.taskIdx == len(g.partitions.Partitions) {
		return Finished
	}
	p := g.partitions.Partitions[g.taskIdx]
	g.taskIdx++

	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case ReadyToFinalize:
		p.state = FinalizeInProgress
		l.task = taskFinalize
		l.partition = p
		return HaveMoreOutput
	case FinalizeInProgress:
		l.task = taskScan
		l.partition = p
		l.status = scanInit
		wake := make(chan error, 1)
		l.wake = wake
		p.registerWakeup(schedule.NewWakeupHandle(func(err error) { wake <- err }))
		return Blocked
	case ReadyToScan:
		l.task = taskScan
		l.partition = p
		l.status = scanInit
		return HaveMoreOutput
	case PartitionError:
		return Finished
	default:
		return Finished
	}
}

// GetData implements spec §6's get_data pull entry point: runs one
// bounded unit of work and returns HAVE_MORE_OUTPUT | FINISHED |
// BLOCKED, appending output rows to out when it produces any.
func (g *GlobalSourceState) GetData(l *LocalSourceState, out *[]OutputRow) (GetDataResult, error) {
	if g.emptyInputPending {
		if g.emptyInputEmitted.CompareAndSwap(false, true) {
			row := emptyInputRow(g.sink.Descriptor, g.grouping)
			*out = append(*out, row)
			g.finished.Store(true)
			return HaveMoreOutput, nil
		}
		return Finished, nil
	}

	if l.task == taskNone {
		res := g.assignTask(l)
		if res == Finished {
			return Finished, nil
		}
		if res == Blocked {
			// l.task/l.partition/l.wake are already set for the scan this
			// worker owns; the caller should block on WaitForWakeup and
			// call GetData again rather than re-entering assignTask.
			return Blocked, nil
		}
	}

	switch l.task {
	case taskFinalize:
		err := runFinalizeTask(g.sink, g, l.partition)
		if err != nil {
			g.log.Error("partition finalize failed", zap.Error(err))
			l.partition.mu.Lock()
			l.partition.state = PartitionError
			l.partition.err = err
			l.partition.fireWakeups(err)
			l.partition.mu.Unlock()
			return Finished, err
		}
		l.task = taskScan
		l.status = scanInit
		return HaveMoreOutput, nil
	case taskScan:
		return g.runScanTask(l, out)
	default:
		return Finished, invariantf("unexpected local task kind %v", l.task)
	}
}

// runScanTask implements spec §4.5's Scan task.
func (g *GlobalSourceState) runScanTask(l *LocalSourceState, out *[]OutputRow) (GetDataResult, error) {
	p := l.partition
	p.mu.Lock()
	if p.state == PartitionError {
		p.mu.Unlock()
		return Finished, p.err
	}
	if p.state != ReadyToScan {
		p.mu.Unlock()
		return Blocked, nil
	}
	rows := p.rows
	p.mu.Unlock()

	if l.status == scanInit {
		l.cursor = 0
		l.status = scanRunning
	}

	if l.cursor >= len(rows) {
		if g.scanPin == DestroyAfterDone {
			p.mu.Lock()
			p.rows = nil
			p.mu.Unlock()
		}
		l.status = scanDone
		l.task = taskNone
		done := g.taskDone.Add(1)
		if int(done) == len(g.partitions.Partitions) {
			g.finished.Store(true)
		}
		return HaveMoreOutput, nil
	}

	r := rows[l.cursor]
	l.cursor++
	destroy := g.scanPin == DestroyAfterDone && g.sink.Descriptor.Layout.HasDestructors()
	*out = append(*out, assembleRow(g.sink.Descriptor, r, g.grouping, destroy))
	return HaveMoreOutput, nil
}

// OutputRow is one assembled result row: group columns (with null-fills
// for null_groups), aggregate output columns, then grouping values, in
// the fixed layout spec §6 mandates.
type OutputRow struct {
	Groups     []aggrtypes.Value
	Aggregates []aggrtypes.Value
	Grouping   []int64
}

func assembleRow(d *Descriptor, r *tuple.Row, grouping []int64, destroy bool) OutputRow {
	full := make([]aggrtypes.Value, len(d.GroupColumnTypes))
	inSet := map[int]bool{}
	for i, idx := range d.GroupingSet {
		if i < len(r.Groups) {
			full[idx] = r.Groups[i]
		}
		inSet[idx] = true
	}
	for _, idx := range d.NullGroups {
		full[idx] = aggrtypes.NullValue(d.GroupColumnTypes[idx])
	}
	aggs := tuple.FinalizeStates(d.Layout, r.State)
	if destroy {
		tuple.DestroyStates(d.Layout, r.State)
	}
	return OutputRow{Groups: full, Aggregates: aggs, Grouping: grouping}
}

// emptyInputRow implements spec §4.5's empty-input special case: one
// row where every group column is NULL, every aggregate is
// finalize(init()), and grouping values are the precomputed constants.
func emptyInputRow(d *Descriptor, grouping []int64) OutputRow {
	full := make([]aggrtypes.Value, len(d.GroupColumnTypes))
	for i, t := range d.GroupColumnTypes {
		full[i] = aggrtypes.NullValue(t)
	}
	state := tuple.NewState(d.Layout)
	tuple.InitStates(d.Layout, state)
	aggs := tuple.FinalizeStates(d.Layout, state)
	if d.Layout.HasDestructors() {
		tuple.DestroyStates(d.Layout, state)
	}
	return OutputRow{Groups: full, Aggregates: aggs, Grouping: grouping}
}

// GetProgress implements spec §6's progress formula.
func (g *GlobalSourceState) GetProgress() float64 {
	n := len(g.partitions.Partitions)
	if n == 0 {
		if g.finished.Load() {
			return 100
		}
		return 0
	}
	var sum float64
	for _, p := range g.partitions.Partitions {
		sum += p.Progress()
	}
	done := float64(g.taskDone.Load())
	return 100 * (2*sum + done) / (3 * float64(n))
}
