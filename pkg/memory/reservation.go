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

// Package memory implements the "Temporary memory manager" collaborator
// from spec §6: best-effort memory reservation with a hard remaining-
// size ceiling. It is grounded on the same mutex-plus-atomic-counter
// shape as the teacher's storage.BufferManager (pkg/storage/mem_buffer.go),
// trimmed to the register/reserve/release protocol the sink policy
// actually drives; there is no paging or disk spill behind it, since
// buffer-manager paging is explicitly out of scope for this core.
package memory

import (
	"sync"
	"sync/atomic"
)

// Manager grants best-effort memory reservations shared across the
// sink-phase workers of one aggregation run. "Best effort" means Reserve
// may return less than requested; callers must re-read GetReservation
// after asking for more (spec §9 Open Question 2).
type Manager struct {
	mu          sync.Mutex
	remaining   atomic.Int64
	reservation atomic.Int64
	minimum     atomic.Int64
}

// NewManager creates a manager with remaining capacity budget bytes.
// A production embedding would size this from the enclosing buffer
// manager's headroom; tests and the CLI pass a fixed budget directly.
func NewManager(budget int64) *Manager {
	m := &Manager{}
	m.remaining.Store(budget)
	return m
}

// Register establishes the manager's tracking for a query; present for
// symmetry with spec §6's register()/set_minimum_reservation() pair —
// this implementation needs no per-registration bookkeeping beyond
// what NewManager already does.
func (m *Manager) Register() {}

func (m *Manager) SetMinimumReservation(n int64) {
	m.minimum.Store(n)
}

func (m *Manager) SetRemainingSize(n int64) {
	m.remaining.Store(n)
}

func (m *Manager) GetRemainingSize() int64 {
	return m.remaining.Load()
}

func (m *Manager) GetReservation() int64 {
	return m.reservation.Load()
}

// Reserve requests a reservation of exactly n bytes, replacing any
// prior reservation held by the caller subsystem, and returns what was
// actually granted: min(n, remaining+previous reservation), raised to
// the configured minimum when that much is available (otherwise to
// everything that is available).
func (m *Manager) Reserve(n int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.reservation.Load()
	available := m.remaining.Load() + prev
	grant := n
	if grant > available {
		grant = available
	}
	if grant < m.minimum.Load() {
		grant = min64(m.minimum.Load(), available)
	}
	m.remaining.Store(available - grant)
	m.reservation.Store(grant)
	return grant
}

// DoubleReservation is the best-effort escalation MaybeRepartition tries
// once before conceding and going external (spec §4.2 step b).
func (m *Manager) DoubleReservation() int64 {
	cur := m.GetReservation()
	if cur == 0 {
		cur = 1
	}
	return m.Reserve(cur * 2)
}

// Release drops the reservation to zero, returning its capacity to the
// pool. Called once every finalize task has completed (spec §4.5,
// §5 Resource accounting).
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.reservation.Load()
	m.remaining.Add(prev)
	m.reservation.Store(0)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
