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

package aggrtypes

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// GroupingSet is the set of group-column indices a single radix-
// partitioned hash table materializes (spec §3). It is backed by a
// roaring bitmap rather than a plain map so that wide CUBE/GROUPING
// SETS expansions over many columns stay compact.
type GroupingSet struct {
	bm *roaring.Bitmap
}

func NewGroupingSet(indices ...int) GroupingSet {
	bm := roaring.New()
	for _, i := range indices {
		bm.Add(uint32(i))
	}
	return GroupingSet{bm: bm}
}

func (gs GroupingSet) Insert(id int) {
	gs.bm.Add(uint32(id))
}

func (gs GroupingSet) Find(id int) bool {
	if gs.bm == nil {
		return false
	}
	return gs.bm.Contains(uint32(id))
}

func (gs GroupingSet) Empty() bool {
	return gs.bm == nil || gs.bm.IsEmpty()
}

func (gs GroupingSet) Count() int {
	if gs.bm == nil {
		return 0
	}
	return int(gs.bm.GetCardinality())
}

// Ordered returns the set's members in ascending order; group column
// position within a materialized row follows this order (spec §3).
func (gs GroupingSet) Ordered() []int {
	if gs.bm == nil {
		return nil
	}
	arr := gs.bm.ToArray()
	out := make([]int, len(arr))
	for i, v := range arr {
		out[i] = int(v)
	}
	sort.Ints(out)
	return out
}

// NullGroups returns the complement of gs within [0, groupCount) — the
// indices that must appear as NULL in the output for this grouping set.
func NullGroups(gs GroupingSet, groupCount int) []int {
	var out []int
	for i := 0; i < groupCount; i++ {
		if !gs.Find(i) {
			out = append(out, i)
		}
	}
	return out
}
