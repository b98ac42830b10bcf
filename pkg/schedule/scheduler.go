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

// Package schedule implements the "Task scheduler" collaborator from
// spec §6: it reports the thread count the sink/source phases plan
// their partition counts around, and it defines the one-shot
// WakeupHandle that source-phase finalize tasks fire for blocked scans
// (spec §9); the finalize task fires those handles itself.
// The teacher drives its parallel pipeline straight off Go's runtime
// scheduler with plain goroutines and channels (pkg/compute has no
// separate pool abstraction); the worker-pool shape here is grounded
// on the wider pack's panjf2000/ants usage instead, which is the
// closest thing the corpus has to a scheduler collaborator with an
// explicit thread budget and submit/wait semantics.
package schedule

import (
	"runtime"

	"github.com/panjf2000/ants/v2"
)

// Scheduler is the contract the aggregation core needs from whatever
// runs its tasks: how many workers are available, and how to hand off
// a callback that must run exactly once, possibly from a different
// goroutine than the one that registered it.
type Scheduler interface {
	NumberOfThreads() int
	Submit(fn func()) error
	Wait()
	Close()
}

// AntsScheduler backs Scheduler with a bounded ants goroutine pool.
type AntsScheduler struct {
	pool    *ants.Pool
	threads int
}

// NewAntsScheduler creates a scheduler with a fixed worker budget.
// threads also becomes the value NumberOfThreads() reports to the sink
// policy, so the two are always consistent (spec §5 Concurrency
// Model).
func NewAntsScheduler(threads int) (*AntsScheduler, error) {
	if threads <= 0 {
		threads = 1
	}
	pool, err := ants.NewPool(threads, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &AntsScheduler{pool: pool, threads: threads}, nil
}

func (s *AntsScheduler) NumberOfThreads() int {
	return s.threads
}

func (s *AntsScheduler) Submit(fn func()) error {
	return s.pool.Submit(fn)
}

// Wait blocks until every submitted task the pool is currently running
// has finished, by polling the pool's running-goroutine count. The
// ants pool exposes no native wait-group, so Wait is a coarse
// substitute; a caller that needs exact completion tracking can pair
// Submit with its own sync.WaitGroup instead.
func (s *AntsScheduler) Wait() {
	for s.pool.Running() > 0 {
		runtime.Gosched()
	}
}

func (s *AntsScheduler) Close() {
	s.pool.Release()
}

// WakeupHandle is the one-shot callback a source-phase Scan task
// registers when it finds a partition still finalizing (spec §9
// "Blocked-task wakeups"). Calling Fire more than once is a caller
// bug; Fire is idempotent defensively via the one-slot fire channel
// (only the first send succeeds) rather than panicking, since a double-fire in a concurrent finalize race is
// exactly the kind of thing worth tolerating instead of crashing a
// worker over.
type WakeupHandle struct {
	fn   func(err error)
	fire chan struct{}
	done bool
}

// NewWakeupHandle wraps fn as a single-fire wakeup callback.
func NewWakeupHandle(fn func(err error)) *WakeupHandle {
	return &WakeupHandle{fn: fn, fire: make(chan struct{}, 1)}
}

// Fire runs the callback with the given error (nil on ordinary
// completion, non-nil when the finalize task that unblocks this
// partition itself failed, per the cancellation-during-Finalize
// resolution).
func (w *WakeupHandle) Fire(err error) {
	select {
	case w.fire <- struct{}{}:
		w.fn(err)
	default:
	}
}
