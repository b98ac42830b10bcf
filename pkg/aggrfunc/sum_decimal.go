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

package aggrfunc

import (
	"github.com/govalues/decimal"

	"github.com/mima-hlavacek/aggrcore/pkg/aggrtypes"
	"github.com/mima-hlavacek/aggrcore/pkg/tuple"
)

type decimalSumState struct {
	sum   decimal.Decimal
	empty bool
}

// NewSumDecimal implements SUM(x) over exact decimal values, the way
// the teacher's type system represents DECIMAL via govalues/decimal
// (pkg/common/types.go). NULL on empty input, matching NewSum.
func NewSumDecimal() *tuple.AggrFunc {
	return &tuple.AggrFunc{
		Name:       "sum_decimal",
		ArgCount:   1,
		ReturnType: aggrtypes.DecimalType(),
		StateSize:  24,
		Init: func() any {
			return &decimalSumState{empty: true}
		},
		Update: func(state any, args []aggrtypes.Value) any {
			s := state.(*decimalSumState)
			v := args[0]
			if v.IsNull {
				return s
			}
			var d decimal.Decimal
			var err error
			if v.Typ.Id == aggrtypes.LTID_DECIMAL {
				d = v.Dec
			} else if f, ok := numeric(v); ok {
				d, err = decimal.NewFromFloat64(f)
				if err != nil {
					return s
				}
			} else {
				return s
			}
			if s.empty {
				s.sum = d
			} else if sum, err := s.sum.Add(d); err == nil {
				s.sum = sum
			}
			s.empty = false
			return s
		},
		Combine: func(dst, src any) any {
			d := dst.(*decimalSumState)
			s := src.(*decimalSumState)
			if s.empty {
				return d
			}
			if d.empty {
				d.sum = s.sum
			} else if sum, err := d.sum.Add(s.sum); err == nil {
				d.sum = sum
			}
			d.empty = false
			return d
		},
		Finalize: func(state any) aggrtypes.Value {
			s := state.(*decimalSumState)
			if s.empty {
				return aggrtypes.NullValue(aggrtypes.DecimalType())
			}
			return aggrtypes.Value{Typ: aggrtypes.DecimalType(), Dec: s.sum}
		},
	}
}
