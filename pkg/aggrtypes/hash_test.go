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
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_HashRow_Deterministic(t *testing.T) {
	row := []Value{VarcharValue("alice"), BigintValue(42)}
	h1 := HashRow(row)
	h2 := HashRow([]Value{VarcharValue("alice"), BigintValue(42)})
	assert.Equal(t, h1, h2)
}

func Test_HashRow_DiffersOnValue(t *testing.T) {
	a := HashRow([]Value{VarcharValue("alice")})
	b := HashRow([]Value{VarcharValue("bob")})
	assert.NotEqual(t, a, b)
}

func Test_HashRow_NullDistinctFromZero(t *testing.T) {
	a := HashRow([]Value{NullValue(BigintType())})
	b := HashRow([]Value{BigintValue(0)})
	assert.NotEqual(t, a, b)
}

func Test_ConstGroupValue_Stable(t *testing.T) {
	assert.Equal(t, HashRow([]Value{ConstGroupValue()}), HashRow([]Value{ConstGroupValue()}))
}
