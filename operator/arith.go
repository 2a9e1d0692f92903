// Copyright 2024 The microdb Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package operator

import (
	"strconv"
	"strings"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
)

// evalArith evaluates an aggregate expression's arithmetic AST against
// rec. The result type is int unless a leaf is a
// Double attribute/fractional literal or a division appears anywhere in
// the expression, matching the original's numeric-promotion rule.
func evalArith(e *parsetree.ArithExpr, schema *record.Schema, rec *record.Record) (val float64, isInt bool, err error) {
	if e.Op == parsetree.ArithLeaf {
		if e.AttrName != "" {
			idx, ok := schema.IndexOf(e.AttrName)
			if !ok {
				return 0, false, predicate.ErrUnknownAttribute.New(e.AttrName)
			}
			if schema.Attrs[idx].Type == record.Double {
				return rec.Double(idx), false, nil
			}
			return float64(rec.Int(idx)), true, nil
		}
		f, err := strconv.ParseFloat(e.NumberText, 64)
		if err != nil {
			return 0, false, err
		}
		return f, !strings.ContainsAny(e.NumberText, ".eE"), nil
	}

	lv, li, err := evalArith(e.Left, schema, rec)
	if err != nil {
		return 0, false, err
	}
	rv, ri, err := evalArith(e.Right, schema, rec)
	if err != nil {
		return 0, false, err
	}

	var result float64
	switch e.Op {
	case parsetree.ArithAdd:
		result = lv + rv
	case parsetree.ArithSub:
		result = lv - rv
	case parsetree.ArithMul:
		result = lv * rv
	case parsetree.ArithDiv:
		result = lv / rv
	}
	return result, li && ri && e.Op != parsetree.ArithDiv, nil
}

// StaticType infers an arithmetic expression's result type from schema
// alone, without evaluating it against any record: Double if any leaf is
// a Double attribute or a fractional literal, or if division appears
// anywhere in the tree; Int otherwise. GroupBy needs this to build its
// output schema before it has seen a single input row, since unlike Sum
// it cannot defer schema construction until after accumulation.
func StaticType(e *parsetree.ArithExpr, schema *record.Schema) (record.Type, error) {
	if e.Op == parsetree.ArithLeaf {
		if e.AttrName != "" {
			idx, ok := schema.IndexOf(e.AttrName)
			if !ok {
				return 0, predicate.ErrUnknownAttribute.New(e.AttrName)
			}
			return schema.Attrs[idx].Type, nil
		}
		if strings.ContainsAny(e.NumberText, ".eE") {
			return record.Double, nil
		}
		return record.Int, nil
	}
	lt, err := StaticType(e.Left, schema)
	if err != nil {
		return 0, err
	}
	rt, err := StaticType(e.Right, schema)
	if err != nil {
		return 0, err
	}
	if e.Op == parsetree.ArithDiv || lt == record.Double || rt == record.Double {
		return record.Double, nil
	}
	return record.Int, nil
}

// fieldText recovers the textual form of one attribute of rec, for
// re-composing a record whose schema mixes projected fields with a
// freshly computed aggregate value.
func fieldText(rec *record.Record, idx int, typ record.Type) string {
	switch typ {
	case record.Int:
		return strconv.FormatInt(int64(rec.Int(idx)), 10)
	case record.Double:
		return strconv.FormatFloat(rec.Double(idx), 'g', -1, 64)
	default:
		return rec.Str(idx)
	}
}

// formatNumeric renders a Sum/GroupBy aggregate's accumulated value
// according to its inferred type.
func formatNumeric(v float64, isInt bool) string {
	if isInt {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
