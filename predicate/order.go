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

package predicate

import (
	"strconv"
	"strings"

	"github.com/neerajrao/microdb/record"
)

// OrderAttr is one (attribute index, type) pair in an OrderSpec.
type OrderAttr struct {
	Index int
	Type  record.Type
}

// OrderSpec is an ordered list of attributes defining a lexicographic
// total preorder over records, all ascending.
type OrderSpec struct {
	Attrs []OrderAttr
}

// NewOrderSpec builds an OrderSpec from attribute names resolved against
// schema, in the given order.
func NewOrderSpec(schema *record.Schema, names []string) (OrderSpec, error) {
	var o OrderSpec
	for _, n := range names {
		idx, typ, ok := resolve(schema, n)
		if !ok {
			return OrderSpec{}, ErrUnknownAttribute.New(n)
		}
		o.Attrs = append(o.Attrs, OrderAttr{Index: idx, Type: typ})
	}
	return o, nil
}

// FullOrderSpec builds an OrderSpec over every attribute of schema, in
// schema order — used by Distinct to define "adjacent equal" over all
// attributes.
func FullOrderSpec(schema *record.Schema) OrderSpec {
	o := OrderSpec{Attrs: make([]OrderAttr, schema.Len())}
	for i, a := range schema.Attrs {
		o.Attrs[i] = OrderAttr{Index: i, Type: a.Type}
	}
	return o
}

func signOf(typ record.Type, a, b *record.Record, idxA, idxB int) int {
	switch typ {
	case record.Int:
		x, y := a.Int(idxA), b.Int(idxB)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case record.Double:
		x, y := a.Double(idxA), b.Double(idxB)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(a.Str(idxA), b.Str(idxB))
	}
}

// Compare compares a and b under the same order spec, returning -1, 0, or
// 1 (a<b, a==b, a>b).
func Compare(order OrderSpec, a, b *record.Record) int {
	for _, attr := range order.Attrs {
		if s := signOf(attr.Type, a, b, attr.Index, attr.Index); s != 0 {
			return s
		}
	}
	return 0
}

// CompareCross compares a (under orderA) against b (under orderB), pairing
// attributes positionally. The two orders must have equal length; this is
// what the sort-merge join uses to compare a left-side key against a
// right-side key, and what Sorted's binary probe uses to compare a table
// record against a literal addressed by the query order.
func CompareCross(orderA OrderSpec, a *record.Record, orderB OrderSpec, b *record.Record) int {
	n := len(orderA.Attrs)
	if len(orderB.Attrs) < n {
		n = len(orderB.Attrs)
	}
	for i := 0; i < n; i++ {
		la, lb := orderA.Attrs[i], orderB.Attrs[i]
		if s := signOf(la.Type, a, b, la.Index, lb.Index); s != 0 {
			return s
		}
	}
	return 0
}

// DeriveEquijoinOrders attempts to reduce cnf to a pair (leftOrder,
// rightOrder) such that every conjunct is a pure, disjunction-free
// equijoin of one left attribute to one right attribute. ok is false if
// any conjunct fails that shape, in which case the join must fall back to
// block-nested-loop.
func DeriveEquijoinOrders(cnf CNF) (leftOrder, rightOrder OrderSpec, ok bool) {
	for _, or := range cnf.Ands {
		if len(or.Comparisons) != 1 {
			return OrderSpec{}, OrderSpec{}, false
		}
		c := or.Comparisons[0]
		if !isEquijoin(c) {
			return OrderSpec{}, OrderSpec{}, false
		}
		var lAttr, rAttr OrderAttr
		if !c.leftIsRight {
			lAttr = OrderAttr{Index: c.leftAttr, Type: c.Typ}
			rAttr = OrderAttr{Index: c.rightAttr, Type: c.Typ}
		} else {
			lAttr = OrderAttr{Index: c.rightAttr, Type: c.Typ}
			rAttr = OrderAttr{Index: c.leftAttr, Type: c.Typ}
		}
		leftOrder.Attrs = append(leftOrder.Attrs, lAttr)
		rightOrder.Attrs = append(rightOrder.Attrs, rAttr)
	}
	if len(leftOrder.Attrs) == 0 {
		return OrderSpec{}, OrderSpec{}, false
	}
	return leftOrder, rightOrder, true
}

func isEquijoin(c Comparison) bool {
	if !c.leftIsAttr || !c.rightIsAttr {
		return false
	}
	if c.leftIsRight == c.rightIsRight {
		// both attributes resolved to the same relation: not a join
		// predicate between two distinct sides.
		return false
	}
	return c.Op == eqOp
}

// eqOp mirrors parsetree.EQ without importing parsetree here to avoid a
// cycle; both packages agree on the CompOp encoding.
const eqOp = 2

// DeriveQueryOrder produces a reduced order containing only the leading
// attributes of tableOrder that appear in an equality conjunct of cnf,
// plus a literal record addressing those values at the same attribute
// indices used by tableOrder, ready for Sorted's binary probe. If the
// very first sort attribute has no matching equality conjunct, the
// returned OrderSpec is empty — callers fall back to a linear scan. This
// is intentional: extending the match past the first miss would require
// re-scanning a discontinuous set of ranges, which isn't worth it for a
// single binary-search probe.
func DeriveQueryOrder(cnf CNF, tableOrder OrderSpec) (OrderSpec, *record.Record, error) {
	equalities := map[int]Comparison{}
	for _, or := range cnf.Ands {
		if len(or.Comparisons) != 1 {
			continue
		}
		c := or.Comparisons[0]
		if c.Op != eqOp {
			continue
		}
		if c.leftIsAttr && !c.Left.literalSide() && c.Right.literalSide() {
			equalities[c.leftAttr] = c
		} else if c.rightIsAttr && !c.Right.literalSide() && c.Left.literalSide() {
			equalities[c.rightAttr] = c
		}
	}

	var reduced OrderSpec
	fields := map[int]record.LiteralField{}
	maxIdx := -1
	for _, attr := range tableOrder.Attrs {
		c, ok := equalities[attr.Index]
		if !ok {
			break
		}
		reduced.Attrs = append(reduced.Attrs, attr)
		lit := c.Left
		if lit.side != sideLiteral {
			lit = c.Right
		}
		text := literalText(lit, attr.Type)
		fields[attr.Index] = record.LiteralField{Type: attr.Type, Text: text}
		if attr.Index > maxIdx {
			maxIdx = attr.Index
		}
	}
	if len(reduced.Attrs) == 0 {
		return OrderSpec{}, nil, nil
	}
	litRec, err := record.NewLiteral(maxIdx+1, fields)
	if err != nil {
		return OrderSpec{}, nil, err
	}
	return reduced, litRec, nil
}

func (o Operand) literalSide() bool { return o.side == sideLiteral }

// literalText recovers the textual form of a literal Operand so it can be
// re-embedded (possibly at a different attribute index) in the query-order
// literal record.
func literalText(o Operand, typ record.Type) string {
	switch typ {
	case record.Int:
		return strconv.FormatInt(int64(o.literal.Int(o.index)), 10)
	case record.Double:
		return strconv.FormatFloat(o.literal.Double(o.index), 'g', -1, 64)
	default:
		return o.literal.Str(o.index)
	}
}
