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

package tuple

import "github.com/mima-hlavacek/aggrcore/pkg/aggrtypes"

// Row is one materialized group entry: group columns, the hash column
// (always last on the group side, spec §3), and the aggregate-state
// region.
type Row struct {
	Groups []aggrtypes.Value
	Hash   uint64
	State  []any
}

// Bucket returns the radix partition this row belongs to for a store of
// 2^bits partitions: the top bits of the hash, taken from a fixed shift
// computed from the hash column width (spec §3).
func (r *Row) Bucket(bits int) int {
	if bits == 0 {
		return 0
	}
	shift := 64 - bits
	return int(r.Hash >> uint(shift))
}

// EstimatedBytes approximates this row's footprint for the sink
// policy's size accounting: group values plus the layout's estimated
// aggregate-state width.
func EstimatedBytes(layout *Layout, groupCount int) int {
	return groupCount*16 + 8 /*hash*/ + layout.RowWidth
}
