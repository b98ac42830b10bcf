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

// Package aggrfunc supplies the built-in aggregate functions the demo
// CLI and the test suite bind against: SUM, COUNT, MIN, MAX, and two
// stateful user-defined-style aggregates (APPROX_COUNT_DISTINCT backed
// by a HyperLogLog sketch, and SUM_DECIMAL backed by exact decimal
// arithmetic) exercising spec §3's "user-defined stateful aggregates"
// clause with real non-trivial combine semantics.
package aggrfunc

import (
	"github.com/mima-hlavacek/aggrcore/pkg/aggrtypes"
	"github.com/mima-hlavacek/aggrcore/pkg/tuple"
)

func numeric(v aggrtypes.Value) (float64, bool) {
	if v.IsNull {
		return 0, false
	}
	switch v.Typ.Id {
	case aggrtypes.LTID_BIGINT, aggrtypes.LTID_TINYINT:
		return float64(v.I64), true
	case aggrtypes.LTID_DOUBLE:
		return v.F64, true
	default:
		return 0, false
	}
}

type sumState struct {
	sum   float64
	empty bool
}

// NewSum implements SUM(x): NULL on empty input, per spec §8 Invariant 3.
func NewSum() *tuple.AggrFunc {
	return &tuple.AggrFunc{
		Name:       "sum",
		ArgCount:   1,
		ReturnType: aggrtypes.DoubleType(),
		StateSize:  16,
		Init: func() any {
			return &sumState{empty: true}
		},
		Update: func(state any, args []aggrtypes.Value) any {
			s := state.(*sumState)
			if v, ok := numeric(args[0]); ok {
				s.sum += v
				s.empty = false
			}
			return s
		},
		Combine: func(dst, src any) any {
			d := dst.(*sumState)
			s := src.(*sumState)
			if !s.empty {
				d.sum += s.sum
				d.empty = false
			}
			return d
		},
		Finalize: func(state any) aggrtypes.Value {
			s := state.(*sumState)
			if s.empty {
				return aggrtypes.NullValue(aggrtypes.DoubleType())
			}
			return aggrtypes.DoubleValue(s.sum)
		},
	}
}

type countState struct {
	n int64
}

// NewCountStar implements COUNT(*): 0 on empty input, never NULL.
func NewCountStar() *tuple.AggrFunc {
	return &tuple.AggrFunc{
		Name:       "count_star",
		ArgCount:   0,
		ReturnType: aggrtypes.BigintType(),
		StateSize:  8,
		Init:       func() any { return &countState{} },
		Update: func(state any, _ []aggrtypes.Value) any {
			s := state.(*countState)
			s.n++
			return s
		},
		Combine: func(dst, src any) any {
			d := dst.(*countState)
			d.n += src.(*countState).n
			return d
		},
		Finalize: func(state any) aggrtypes.Value {
			return aggrtypes.BigintValue(state.(*countState).n)
		},
	}
}

// NewCount implements COUNT(x): counts non-NULL x.
func NewCount() *tuple.AggrFunc {
	f := NewCountStar()
	f.Name = "count"
	f.ArgCount = 1
	f.Update = func(state any, args []aggrtypes.Value) any {
		s := state.(*countState)
		if !args[0].IsNull {
			s.n++
		}
		return s
	}
	return f
}

type extremeState struct {
	v     float64
	empty bool
}

func newExtreme(name string, better func(candidate, current float64) bool) *tuple.AggrFunc {
	return &tuple.AggrFunc{
		Name:       name,
		ArgCount:   1,
		ReturnType: aggrtypes.DoubleType(),
		StateSize:  16,
		Init:       func() any { return &extremeState{empty: true} },
		Update: func(state any, args []aggrtypes.Value) any {
			s := state.(*extremeState)
			v, ok := numeric(args[0])
			if !ok {
				return s
			}
			if s.empty || better(v, s.v) {
				s.v = v
				s.empty = false
			}
			return s
		},
		Combine: func(dst, src any) any {
			d := dst.(*extremeState)
			s := src.(*extremeState)
			if s.empty {
				return d
			}
			if d.empty || better(s.v, d.v) {
				d.v = s.v
				d.empty = false
			}
			return d
		},
		Finalize: func(state any) aggrtypes.Value {
			s := state.(*extremeState)
			if s.empty {
				return aggrtypes.NullValue(aggrtypes.DoubleType())
			}
			return aggrtypes.DoubleValue(s.v)
		},
	}
}

// NewMin implements MIN(x).
func NewMin() *tuple.AggrFunc {
	return newExtreme("min", func(c, cur float64) bool { return c < cur })
}

// NewMax implements MAX(x).
func NewMax() *tuple.AggrFunc {
	return newExtreme("max", func(c, cur float64) bool { return c > cur })
}
