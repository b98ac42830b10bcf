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

	"go.uber.org/zap"

	"github.com/mima-hlavacek/aggrcore/pkg/aggrtypes"
	"github.com/mima-hlavacek/aggrcore/pkg/config"
	"github.com/mima-hlavacek/aggrcore/pkg/memory"
	"github.com/mima-hlavacek/aggrcore/pkg/schedule"
)

// Operator is the library boundary spec §6 describes: "the core is a
// library, not a process; its boundary is the collaborator interfaces."
// It wires a Descriptor to a Policy, a memory.Manager and a
// schedule.Scheduler, and exposes exactly the operations named in
// §6's Exposes list. Grounded on the teacher's HashAggr
// (pkg/compute/executor_aggr.go), which plays the same "physical
// operator glue" role for its own single-threaded pipeline.
type Operator struct {
	Descriptor *Descriptor
	Policy     *Policy
	Res        *memory.Manager
	Sched      schedule.Scheduler
	Log        *zap.Logger
}

// NewOperator builds an Operator for one query's grouping, sizing the
// policy from cfg and threadCount.
func NewOperator(desc *Descriptor, cfg config.PolicyConfig, threadCount int, res *memory.Manager, sched schedule.Scheduler, log *zap.Logger) *Operator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Operator{
		Descriptor: desc,
		Policy:     NewPolicy(cfg, threadCount, log),
		Res:        res,
		Sched:      sched,
		Log:        log,
	}
}

func (op *Operator) GetGlobalSinkState() *GlobalSinkState {
	return GetGlobalSinkState(op.Descriptor, op.Policy, op.Res, op.Sched, op.Log)
}

func (op *Operator) GetLocalSinkState(g *GlobalSinkState) *LocalSinkState {
	return GetLocalSinkState(g)
}

// Sink appends one batch, spec §6 sink(ctx, chunk, payload, filter).
func (op *Operator) Sink(g *GlobalSinkState, l *LocalSinkState, groups, payload [][]aggrtypes.Value, filter []int) error {
	return g.Sink(l, groups, payload, filter)
}

// Combine runs end-of-input for one worker, spec §6 combine(ctx, gstate, lstate).
func (op *Operator) Combine(g *GlobalSinkState, l *LocalSinkState) error {
	return g.Combine(l)
}

// Finalize runs once, after every worker has combined, spec §6 finalize(ctx, gstate).
func (op *Operator) Finalize(g *GlobalSinkState) (*PartitionTable, error) {
	return Finalize(g)
}

// MaxThreads implements spec §6's max_threads formula.
func (op *Operator) MaxThreads(g *GlobalSinkState, pt *PartitionTable) int {
	return g.MaxThreads(pt.MaxPartitionSize, len(pt.Partitions), op.Sched.NumberOfThreads())
}

func (op *Operator) GetGlobalSourceState(g *GlobalSinkState, pt *PartitionTable) *GlobalSourceState {
	return GetGlobalSourceState(g, pt)
}

func (op *Operator) GetLocalSourceState(s *GlobalSourceState) *LocalSourceState {
	return GetLocalSourceState(s)
}

// SetMultiScan switches scan_pin to UNPIN_AFTER_DONE (spec §6).
func (op *Operator) SetMultiScan(g *GlobalSinkState, s *GlobalSourceState) {
	g.SetMultiScan(s)
}

// GetData pulls one bounded unit of source-phase work, spec §6
// get_data(ctx, out_chunk, gstate, sstate).
func (op *Operator) GetData(s *GlobalSourceState, l *LocalSourceState, out *[]OutputRow) (GetDataResult, error) {
	return s.GetData(l, out)
}

// GetProgress implements spec §6 get_progress.
func (op *Operator) GetProgress(s *GlobalSourceState) float64 {
	return s.GetProgress()
}

// Run drives the whole pipeline single-threaded, for callers (the demo
// CLI, simple tests) that don't need the pull-driven scheduler
// integration: sink every batch, combine, finalize, then scan to
// completion. Grounded on the teacher's Runner.Run(ctx, writer)
// (pkg/compute/executor.go), which threads a context through its own
// top-level pull loop the same way.
func (op *Operator) Run(ctx context.Context, batches [][][]aggrtypes.Value, payloads [][][]aggrtypes.Value, filters [][]int) ([]OutputRow, *GlobalSourceState, error) {
	g := op.GetGlobalSinkState()
	l := op.GetLocalSinkState(g)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, nil, cancelled(err.Error())
		}
		var payload [][]aggrtypes.Value
		if payloads != nil {
			payload = payloads[i]
		}
		var filter []int
		if filters != nil {
			filter = filters[i]
		}
		if err := op.Sink(g, l, batch, payload, filter); err != nil {
			return nil, nil, err
		}
	}
	if err := op.Combine(g, l); err != nil {
		return nil, nil, err
	}
	pt, err := op.Finalize(g)
	if err != nil {
		return nil, nil, err
	}

	src := op.GetGlobalSourceState(g, pt)
	local := op.GetLocalSourceState(src)

	var out []OutputRow
	for {
		if err := ctx.Err(); err != nil {
			return out, src, cancelled(err.Error())
		}
		res, err := op.GetData(src, local, &out)
		if err != nil {
			return out, src, err
		}
		if res == Finished {
			break
		}
		if res == Blocked {
			if err := local.WaitForWakeup(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
					return out, src, cancelled(err.Error())
				}
				return out, src, err
			}
			continue
		}
	}
	return out, src, nil
}
