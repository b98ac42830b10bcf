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

// Package partstore implements the "Partitioned tuple store" collaborator
// (spec §3, §6): a set of N=2^b buckets of rows keyed by the top b bits
// of the row's hash, with append, repartition-to-more-bits, and combine
// operations. The teacher has nothing shaped like this directly - its
// TupleDataCollection (pkg/compute/join_collection.go) is a single
// unpartitioned row store - so this is new code, grounded on the way
// that collection tracks count/size and on the teacher's radix-bucket
// arithmetic in aggregate_hash.go's ht.partitionedData handling. Rows
// are addressed as boxed *tuple.Row values (see pkg/tuple) rather than
// raw bytes in a buffer-manager page, per pkg/tuple's own departure
// from the teacher's addressing scheme.
package partstore

import (
	"github.com/mima-hlavacek/aggrcore/pkg/arena"
	"github.com/mima-hlavacek/aggrcore/pkg/tuple"
)

// Store is a radix-partitioned collection of rows. It is the concrete
// PartitionedTupleData spec §6 names: count, size_in_bytes,
// partition_count, repartition, combine, get_partitions.
type Store struct {
	bits       int
	partitions [][]*tuple.Row
	layout     *tuple.Layout
	groupCount int
	arena      *arena.Arena
}

// New creates an empty store with 2^bits partitions.
func New(bits int, layout *tuple.Layout, groupCount int, ar *arena.Arena) *Store {
	return &Store{
		bits:       bits,
		partitions: make([][]*tuple.Row, 1<<uint(bits)),
		layout:     layout,
		groupCount: groupCount,
		arena:      ar,
	}
}

func (s *Store) RadixBits() int { return s.bits }

func (s *Store) PartitionCount() int { return len(s.partitions) }

// bucket assigns row r to partition (hash >> shift) & (N-1), per spec §3/§6.
func (s *Store) bucket(r *tuple.Row) int {
	if s.bits == 0 {
		return 0
	}
	shift := uint(64 - s.bits)
	return int(r.Hash>>shift) & (s.PartitionCount() - 1)
}

// Append adds one materialized row to its bucket.
func (s *Store) Append(r *tuple.Row) {
	b := s.bucket(r)
	s.partitions[b] = append(s.partitions[b], r)
}

// Count returns the total row count across all partitions.
func (s *Store) Count() int {
	n := 0
	for _, p := range s.partitions {
		n += len(p)
	}
	return n
}

// SizeInBytes estimates the store's footprint, used by MaybeRepartition's
// total_size computation (spec §4.2a) and Finalize's per-partition sizing
// (spec §4.4).
func (s *Store) SizeInBytes() int64 {
	var total int64
	for _, p := range s.partitions {
		for _, r := range p {
			total += int64(tuple.EstimatedBytes(s.layout, s.groupCount))
			_ = r
		}
	}
	return total
}

// Partitions exposes the buckets directly (get_partitions in spec §6).
func (s *Store) Partitions() [][]*tuple.Row {
	return s.partitions
}

// Partition returns bucket k's rows.
func (s *Store) Partition(k int) []*tuple.Row {
	return s.partitions[k]
}

// Repartition redistributes every row into a fresh store with target
// bits (target > s.bits, spec §3 "Repartition"). The source store is
// left intact; callers that mean to move ownership discard it after.
func (s *Store) Repartition(target int) *Store {
	if target < s.bits {
		target = s.bits
	}
	out := New(target, s.layout, s.groupCount, s.arena)
	for _, p := range s.partitions {
		for _, r := range p {
			out.Append(r)
		}
	}
	return out
}

// Combine appends src's partitions into s one-to-one; both stores must
// share the same radix bit count (spec §3 "combine").
func (s *Store) Combine(src *Store) {
	if src == nil {
		return
	}
	if src.bits != s.bits {
		// Callers are expected to repartition before combining stores
		// of unequal bit counts; widen s defensively rather than drop
		// rows silently.
		widened := s.Repartition(src.bits)
		s.bits = widened.bits
		s.partitions = widened.partitions
	}
	for k, p := range src.partitions {
		s.partitions[k] = append(s.partitions[k], p...)
	}
}
