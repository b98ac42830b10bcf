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
	"fmt"

	"github.com/govalues/decimal"
)

// Value is a single scalar, tagged by logical type. Only one of the
// payload fields is meaningful for a given Typ.
type Value struct {
	Typ    LType
	IsNull bool

	Bool bool
	I64  int64
	F64  float64
	Str  string
	Dec  decimal.Decimal
	U64  uint64 // holds the hash column
}

func NullValue(t LType) Value {
	return Value{Typ: t, IsNull: true}
}

func BigintValue(v int64) Value {
	return Value{Typ: BigintType(), I64: v}
}

func DoubleValue(v float64) Value {
	return Value{Typ: DoubleType(), F64: v}
}

func VarcharValue(v string) Value {
	return Value{Typ: VarcharType(), Str: v}
}

func BoolValue(v bool) Value {
	return Value{Typ: BooleanType(), Bool: v}
}

func HashValue(v uint64) Value {
	return Value{Typ: HashType(), U64: v}
}

// ConstGroupValue is the synthetic single group value the engine sinks
// every row into when the descriptor's grouping_set is empty (spec §3
// invariant: a constant group so all rows collapse into one output row).
func ConstGroupValue() Value {
	return Value{Typ: TinyintType(), I64: 1}
}

func (v Value) String() string {
	if v.IsNull {
		return "NULL"
	}
	switch v.Typ.Id {
	case LTID_BOOLEAN:
		return fmt.Sprintf("%v", v.Bool)
	case LTID_BIGINT, LTID_TINYINT:
		return fmt.Sprintf("%d", v.I64)
	case LTID_DOUBLE:
		return fmt.Sprintf("%v", v.F64)
	case LTID_DECIMAL:
		return v.Dec.String()
	case LTID_VARCHAR:
		return v.Str
	case LTID_HASH:
		return fmt.Sprintf("%#x", v.U64)
	default:
		return "?"
	}
}
