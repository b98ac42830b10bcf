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
	"encoding/binary"
	"math"

	metro "github.com/dgryski/go-metro"
)

// HashSeed is fixed for the life of a process; it only needs to be
// stable within one aggregation run, not across runs or restarts.
const HashSeed uint64 = 0x9ae16a3b2f90404f

// HashValueInto hashes a single value, combining it into acc using the
// same running-hash technique the teacher's expression layer uses to
// fold multiple probe columns into one hash (metro.Hash64 over a small
// scratch buffer, combined with the previous accumulator as the seed).
func HashValueInto(acc uint64, v Value) uint64 {
	if v.IsNull {
		return metro.Hash64([]byte{0}, acc)
	}
	var buf [8]byte
	switch v.Typ.Id {
	case LTID_BOOLEAN:
		if v.Bool {
			buf[0] = 1
		}
		return metro.Hash64(buf[:1], acc)
	case LTID_BIGINT, LTID_TINYINT:
		binary.LittleEndian.PutUint64(buf[:], uint64(v.I64))
		return metro.Hash64(buf[:], acc)
	case LTID_DOUBLE:
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.F64))
		return metro.Hash64(buf[:], acc)
	case LTID_DECIMAL:
		return metro.Hash64([]byte(v.Dec.String()), acc)
	case LTID_VARCHAR:
		return metro.Hash64([]byte(v.Str), acc)
	default:
		return metro.Hash64(buf[:], acc)
	}
}

// HashRow computes the hash column value for a group tuple. The hash
// column is always the last group-side column of a materialized row
// (spec §3 Tuple layout).
func HashRow(groups []Value) uint64 {
	h := HashSeed
	for _, g := range groups {
		h = HashValueInto(h, g)
	}
	return h
}
