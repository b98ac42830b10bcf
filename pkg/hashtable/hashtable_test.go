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

package hashtable

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mima-hlavacek/aggrcore/pkg/aggrfunc"
	"github.com/mima-hlavacek/aggrcore/pkg/aggrtypes"
	"github.com/mima-hlavacek/aggrcore/pkg/tuple"
)

func sumLayout() *tuple.Layout {
	return tuple.NewLayout([]*tuple.AggrObject{tuple.NewAggrObject(aggrfunc.NewSum())})
}

func Test_AddChunk_GroupsByKey(t *testing.T) {
	layout := sumLayout()
	ht := New(layout, 1, 16, 0)

	groups := [][]aggrtypes.Value{
		{aggrtypes.VarcharValue("a")},
		{aggrtypes.VarcharValue("b")},
		{aggrtypes.VarcharValue("a")},
	}
	payload := [][]aggrtypes.Value{
		{aggrtypes.DoubleValue(1)},
		{aggrtypes.DoubleValue(10)},
		{aggrtypes.DoubleValue(2)},
	}
	ht.AddChunk(groups, payload, layout, nil)
	assert.Equal(t, 2, ht.Count())

	var sumA, sumB float64
	for _, r := range ht.Rows() {
		v := tuple.FinalizeStates(layout, r.State)[0]
		if r.Groups[0].Str == "a" {
			sumA = v.F64
		} else {
			sumB = v.F64
		}
	}
	assert.Equal(t, 3.0, sumA)
	assert.Equal(t, 10.0, sumB)
}

func Test_ResizeThreshold_UsesLoadFactor(t *testing.T) {
	ht := New(sumLayout(), 1, 16, 0)
	assert.Equal(t, int(16*loadFactor), ht.ResizeThreshold())
}

func Test_ClearProbeTable_KeepsBackingStoreOnUnpin(t *testing.T) {
	layout := sumLayout()
	ht := New(layout, 1, 16, 0)
	ht.AddChunk([][]aggrtypes.Value{{aggrtypes.VarcharValue("a")}}, [][]aggrtypes.Value{{aggrtypes.DoubleValue(1)}}, layout, nil)
	ht.Unpin()
	store := ht.GetPartitionedData()
	assert.Equal(t, 1, store.Count())

	ht.ClearProbeTable()
	ht.ResetCount()
	assert.Equal(t, 0, ht.Count())
	assert.Equal(t, 1, store.Count())
}

func Test_Combine_MergesRowsIntoLocalGroups(t *testing.T) {
	layout := sumLayout()
	dst := New(layout, 1, 16, 0)
	src := New(layout, 1, 16, 0)
	src.AddChunk([][]aggrtypes.Value{{aggrtypes.VarcharValue("a")}}, [][]aggrtypes.Value{{aggrtypes.DoubleValue(5)}}, layout, nil)
	src.Unpin()

	var progress float64
	dst.Combine(src.GetPartitionedData(), &progress)
	assert.Equal(t, 1.0, progress)
	assert.Equal(t, 1, dst.Count())
}

func Test_AddChunk_FilterSkipsWholeAggregateNotWholeRow(t *testing.T) {
	layout := tuple.NewLayout([]*tuple.AggrObject{
		tuple.NewAggrObject(aggrfunc.NewSum()),
		tuple.NewAggrObject(aggrfunc.NewCountStar()),
	})
	ht := New(layout, 1, 16, 0)

	groups := [][]aggrtypes.Value{
		{aggrtypes.VarcharValue("a")},
		{aggrtypes.VarcharValue("b")},
	}
	payload := [][]aggrtypes.Value{
		{aggrtypes.DoubleValue(1)},
		{aggrtypes.DoubleValue(2)},
	}

	// filter names aggregate index 0 (SUM) only; COUNT_STAR at index 1
	// must not update for either row, but both groups must still exist.
	ht.AddChunk(groups, payload, layout, []int{0})
	assert.Equal(t, 2, ht.Count())

	for _, r := range ht.Rows() {
		out := tuple.FinalizeStates(layout, r.State)
		if r.Groups[0].Str == "a" {
			assert.Equal(t, 1.0, out[0].F64)
		} else {
			assert.Equal(t, 2.0, out[0].F64)
		}
		assert.Equal(t, int64(0), out[1].I64)
	}
}
