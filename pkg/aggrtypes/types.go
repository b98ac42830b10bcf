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

// TypeID enumerates the logical column types the aggregation core knows
// how to hash, compare, and hand off to aggregate functions. Expression
// binding owns the full type catalog upstream of this package; this is
// only the slice grouped aggregation needs.
type TypeID int

const (
	LTID_INVALID TypeID = iota
	LTID_NULL
	LTID_BOOLEAN
	LTID_BIGINT
	LTID_DOUBLE
	LTID_DECIMAL
	LTID_VARCHAR
	LTID_HASH
	LTID_TINYINT // synthetic constant group column when grouping_set is empty
)

// LType is a logical column type. It intentionally carries no width or
// precision metadata beyond what the built-in aggregates need.
type LType struct {
	Id TypeID
}

func BooleanType() LType { return LType{Id: LTID_BOOLEAN} }
func BigintType() LType  { return LType{Id: LTID_BIGINT} }
func DoubleType() LType  { return LType{Id: LTID_DOUBLE} }
func DecimalType() LType { return LType{Id: LTID_DECIMAL} }
func VarcharType() LType { return LType{Id: LTID_VARCHAR} }
func HashType() LType    { return LType{Id: LTID_HASH} }
func TinyintType() LType { return LType{Id: LTID_TINYINT} }
func NullType() LType    { return LType{Id: LTID_NULL} }

func (t LType) String() string {
	switch t.Id {
	case LTID_BOOLEAN:
		return "BOOLEAN"
	case LTID_BIGINT:
		return "BIGINT"
	case LTID_DOUBLE:
		return "DOUBLE"
	case LTID_DECIMAL:
		return "DECIMAL"
	case LTID_VARCHAR:
		return "VARCHAR"
	case LTID_HASH:
		return "HASH"
	case LTID_TINYINT:
		return "TINYINT"
	case LTID_NULL:
		return "NULL"
	default:
		return "INVALID"
	}
}
