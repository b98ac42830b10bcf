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

	"go.uber.org/zap"

	"github.com/mima-hlavacek/aggrcore/pkg/config"
)

// Policy implements spec §4.1's radix-bit and sink-capacity decisions,
// plus the monotone, double-checked-locked setters spec §4.1/§9 require.
// It has no direct teacher analogue - the teacher's aggregate_exec.go
// hardcodes a single-threaded radix limit constant - so the shape here
// is new, but the double-checked-locking pattern is grounded on the
// teacher's storage.BufferManager guarding shared counters with a mutex
// plus atomic fast-path reads (pkg/storage/mem_buffer.go).
type Policy struct {
	cfg config.PolicyConfig
	log *zap.Logger

	mu          sync.Mutex
	radixBits   atomic.Int64
	anyCombined atomic.Bool
	external    atomic.Bool
	maxBits     int
	initBits    int
	externBits  int
}

// NewPolicy computes the policy's fixed decisions for threadCount active
// sink workers (spec §4.1 Initial/Maximum/External bits).
func NewPolicy(cfg config.PolicyConfig, threadCount int, log *zap.Logger) *Policy {
	if log == nil {
		log = zap.NewNop()
	}
	if threadCount < 1 {
		threadCount = 1
	}
	bitsForThreads := bitsFor(nextPow2(threadCount))
	p := &Policy{
		cfg:      cfg,
		log:      log,
		initBits: minInt(bitsForThreads, cfg.MaxInitialBits),
		maxBits:  minInt(bitsForThreads, cfg.MaxFinalBits),
	}
	p.externBits = minInt(p.maxBits+cfg.ExternalIncrement, cfg.MaxFinalBits)
	p.radixBits.Store(int64(p.initBits))
	return p
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	v := 1
	for v < n {
		v <<= 1
	}
	return v
}

func bitsFor(n int) int {
	b := 0
	for (1 << uint(b)) < n {
		b++
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// InitialBits is the sink-worker starting radix bit count.
func (p *Policy) InitialBits() int { return p.initBits }

// MaxBits is the ceiling SetRadixBits clamps to.
func (p *Policy) MaxBits() int { return p.maxBits }

// ExternalBits is the bit count SetRadixBitsToExternal escalates to.
func (p *Policy) ExternalBits() int { return p.externBits }

// SinkCapacity computes the initial per-thread HT slot count (spec
// §4.1), lower-bounded by the configured platform minimum.
func (p *Policy) SinkCapacity(threadCount int) int {
	if threadCount < 1 {
		threadCount = 1
	}
	perThreadShared := float64(p.cfg.L3SharedKiB*int64(threadCount)) / float64(threadCount)
	raw := (float64(p.cfg.L1KiB) + float64(p.cfg.L2KiB) + perThreadShared) / (float64(p.cfg.EntrySlotSize) * p.cfg.LoadFactor)
	cap := nextPow2(int(raw))
	return maxInt(cap, p.cfg.MinSinkCapacity)
}

// RadixBits reads the current sink radix bit count with acquire
// ordering, the fast path of the double-checked-locking pattern spec
// §5/§9 mandate.
func (p *Policy) RadixBits() int {
	return int(p.radixBits.Load())
}

// AnyCombined reports whether any worker has finished Combine yet. Once
// true, radix-bit escalation is frozen (spec §5).
func (p *Policy) AnyCombined() bool {
	return p.anyCombined.Load()
}

// SetAnyCombined publishes that this worker has finished Combine.
func (p *Policy) SetAnyCombined() {
	p.anyCombined.Store(true)
}

// SetLogger swaps the logger Policy's own setters log through, letting
// the sink state attach its run id once one exists (spec §5's "the run
// id is attached to every log line" - Policy is constructed before a
// GlobalSinkState, and its run id, exist).
func (p *Policy) SetLogger(log *zap.Logger) {
	if log == nil {
		return
	}
	p.log = log
}

// External reports whether the policy has switched to spill mode.
func (p *Policy) External() bool {
	return p.external.Load()
}

// RepartitionFill is the block-fill factor MaybeRepartition compares
// per-partition row density against before incrementing radix bits
// (spec §4.2 step e).
func (p *Policy) RepartitionFill() float64 { return p.cfg.RepartitionFill }

// RepartitionStep is how many radix bits MaybeRepartition adds once
// RepartitionFill is crossed (spec §4.2 step e).
func (p *Policy) RepartitionStep() int { return p.cfg.RepartitionStep }

// BlockSizeBytes is the configured storage block size RepartitionFill
// is measured against.
func (p *Policy) BlockSizeBytes() int64 { return p.cfg.BlockSizeBytes }

// SetRadixBits attempts to raise the sink radix bit count to b. It is a
// no-op if any_combined is set or b is not an increase, and it never
// exceeds MaxBits (spec §4.1 setter contract, §9 monotonicity).
//
// The uncontended fast path only reads atomics; the lock is taken only
// when a real change looks possible, which is the entire point of
// double-checked locking - do not "simplify" this into a plain
// lock-then-compare (spec §9 design note).
func (p *Policy) SetRadixBits(b int) bool {
	if p.anyCombined.Load() {
		return false
	}
	if b <= int(p.radixBits.Load()) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.anyCombined.Load() {
		return false
	}
	cur := int(p.radixBits.Load())
	if b <= cur {
		return false
	}
	b = minInt(b, p.maxBits)
	if b <= cur {
		return false
	}
	p.radixBits.Store(int64(b))
	p.log.Debug("radix bits increased", zap.Int("from", cur), zap.Int("to", b))
	return true
}

// SetRadixBitsToExternal escalates to ExternalBits and flips the
// external flag, using the same double-checked-locking pattern (spec
// §4.1). Returns true iff this call performed the transition.
func (p *Policy) SetRadixBitsToExternal() bool {
	if p.external.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.external.Load() {
		return false
	}
	cur := int(p.radixBits.Load())
	target := p.externBits
	if target > cur {
		p.radixBits.Store(int64(target))
	}
	p.external.Store(true)
	// Going external is a successful policy decision, not an error
	// (spec §7) - logged at Info rather than Warn/Error.
	p.log.Info("sink policy going external", zap.Int("radix_bits", target))
	return true
}
