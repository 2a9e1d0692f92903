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

// Package predicate implements the CNF predicate model and comparison
// engine: a conjunction of disjunctions of atomic comparisons over
// literal or attribute operands, plus the machinery to evaluate one
// against one or two records and to derive sort orders from
// equijoin/selection predicates.
package predicate

import (
	"strings"

	"gopkg.in/src-d/go-errors.v1"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/record"
)

// ErrUnknownAttribute is raised when a parse-tree attribute reference
// cannot be resolved against the supplied schema(s).
var ErrUnknownAttribute = errors.NewKind("unknown attribute: %s")

// side tags which record (or embedded literal) an Operand reads from.
type side int

const (
	sideLeft side = iota
	sideRight
	sideLiteral
)

// Operand is one resolved side of a Comparison.
type Operand struct {
	side    side
	index   int
	typ     record.Type
	literal *record.Record
}

func (o Operand) int32(left, right *record.Record) int32 {
	switch o.side {
	case sideLiteral:
		return o.literal.Int(o.index)
	case sideRight:
		return right.Int(o.index)
	default:
		return left.Int(o.index)
	}
}

func (o Operand) float64(left, right *record.Record) float64 {
	switch o.side {
	case sideLiteral:
		return o.literal.Double(o.index)
	case sideRight:
		return right.Double(o.index)
	default:
		return left.Double(o.index)
	}
}

func (o Operand) str(left, right *record.Record) string {
	switch o.side {
	case sideLiteral:
		return o.literal.Str(o.index)
	case sideRight:
		return right.Str(o.index)
	default:
		return left.Str(o.index)
	}
}

// Comparison is one atomic comparison: Left <Op> Right, both typed Typ.
type Comparison struct {
	Op    parsetree.CompOp
	Left  Operand
	Right Operand
	Typ   record.Type

	// leftAttr/rightAttr record the resolved attribute index for each
	// side when that side is an attribute reference (-1 otherwise), so
	// DeriveEquijoinOrders and DeriveQueryOrder can inspect the shape of
	// the predicate without re-parsing operands.
	leftIsAttr, rightIsAttr   bool
	leftAttr, rightAttr       int
	leftIsRight, rightIsRight bool // which schema (left/right relation) the attribute belongs to, for join CNFs
}

// sign returns -1, 0, or 1 for Left compared to Right.
func (c Comparison) sign(left, right *record.Record) int {
	switch c.Typ {
	case record.Int:
		a, b := c.Left.int32(left, right), c.Right.int32(left, right)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	case record.Double:
		a, b := c.Left.float64(left, right), c.Right.float64(left, right)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	default: // String
		return strings.Compare(c.Left.str(left, right), c.Right.str(left, right))
	}
}

// Eval evaluates this single comparison against one record (selection) or
// a pair of records (join). For a selection predicate, pass the same
// record as both left and right; only the side actually referenced is
// read.
func (c Comparison) Eval(left, right *record.Record) bool {
	s := c.sign(left, right)
	switch c.Op {
	case parsetree.LT:
		return s < 0
	case parsetree.GT:
		return s > 0
	default:
		return s == 0
	}
}

// OrList is a disjunction of Comparisons.
type OrList struct {
	Comparisons []Comparison
}

// Eval returns true iff at least one comparison is satisfied.
func (o OrList) Eval(left, right *record.Record) bool {
	for _, c := range o.Comparisons {
		if c.Eval(left, right) {
			return true
		}
	}
	return false
}

// CNF is a conjunction of OrLists: an AND of ORs of atomic comparisons.
type CNF struct {
	Ands []OrList
}

// Eval returns true iff every OrList is satisfied.
func (cnf CNF) Eval(left, right *record.Record) bool {
	for _, o := range cnf.Ands {
		if !o.Eval(left, right) {
			return false
		}
	}
	return true
}

// resolve looks up name in schema, preferring the relation-qualified form.
func resolve(schema *record.Schema, name string) (int, record.Type, bool) {
	idx, ok := schema.IndexOf(name)
	if !ok {
		return 0, 0, false
	}
	return idx, schema.Attrs[idx].Type, true
}

// FromSelection builds a CNF for a single-relation predicate (a Scan or
// SelectPipe's WHERE clause) against schema.
func FromSelection(where *parsetree.AndList, schema *record.Schema) (CNF, error) {
	return build(where, schema, nil)
}

// FromJoin builds a CNF for a two-relation join predicate, resolving each
// attribute operand against whichever of leftSchema/rightSchema contains
// it.
func FromJoin(where *parsetree.AndList, leftSchema, rightSchema *record.Schema) (CNF, error) {
	return build(where, leftSchema, rightSchema)
}

func build(where *parsetree.AndList, leftSchema, rightSchema *record.Schema) (CNF, error) {
	if where == nil {
		return CNF{}, nil
	}
	var cnf CNF
	for _, or := range where.Ors {
		var built OrList
		for _, cmp := range or.Comparisons {
			c, err := buildComparison(cmp, leftSchema, rightSchema)
			if err != nil {
				return CNF{}, err
			}
			built.Comparisons = append(built.Comparisons, c)
		}
		cnf.Ands = append(cnf.Ands, built)
	}
	return cnf, nil
}

func buildComparison(cmp parsetree.ComparisonOp, leftSchema, rightSchema *record.Schema) (Comparison, error) {
	var out Comparison
	out.Op = cmp.Op
	out.leftAttr, out.rightAttr = -1, -1

	left, leftTyp, leftOK, leftIsRightSide, err := buildOperand(cmp.Left, leftSchema, rightSchema)
	if err != nil {
		return Comparison{}, err
	}
	right, rightTyp, rightOK, rightIsRightSide, err := buildOperand(cmp.Right, leftSchema, rightSchema)
	if err != nil {
		return Comparison{}, err
	}

	// A literal operand's type is dictated by the opposing attribute.
	typ := leftTyp
	if cmp.Left.Kind == parsetree.OperandLiteral {
		typ = rightTyp
	}

	if cmp.Left.Kind == parsetree.OperandLiteral {
		lit, err := record.NewLiteral(right.index+1, map[int]record.LiteralField{right.index: {Type: typ, Text: cmp.Left.Text}})
		if err != nil {
			return Comparison{}, err
		}
		left = Operand{side: sideLiteral, index: right.index, literal: lit}
	}
	if cmp.Right.Kind == parsetree.OperandLiteral {
		lit, err := record.NewLiteral(left.index+1, map[int]record.LiteralField{left.index: {Type: typ, Text: cmp.Right.Text}})
		if err != nil {
			return Comparison{}, err
		}
		right = Operand{side: sideLiteral, index: left.index, literal: lit}
	}

	out.Left, out.Right = left, right
	out.Typ = typ
	out.leftIsAttr, out.rightIsAttr = leftOK, rightOK
	if leftOK {
		out.leftAttr, out.leftIsRight = left.index, leftIsRightSide
	}
	if rightOK {
		out.rightAttr, out.rightIsRight = right.index, rightIsRightSide
	}
	return out, nil
}

// buildOperand resolves a parse-tree operand against one or two schemas.
// isAttr is false for a literal (its Operand is filled in later once the
// opposing side's type and index are known). isRightSide reports whether
// the attribute was found in rightSchema rather than leftSchema (only
// meaningful for join CNFs).
func buildOperand(op parsetree.Operand, leftSchema, rightSchema *record.Schema) (o Operand, typ record.Type, isAttr bool, isRightSide bool, err error) {
	if op.Kind == parsetree.OperandLiteral {
		return Operand{}, 0, false, false, nil
	}
	if idx, t, ok := resolve(leftSchema, op.Name); ok {
		return Operand{side: sideLeft, index: idx, typ: t}, t, true, false, nil
	}
	if rightSchema != nil {
		if idx, t, ok := resolve(rightSchema, op.Name); ok {
			return Operand{side: sideRight, index: idx, typ: t}, t, true, true, nil
		}
	}
	return Operand{}, 0, false, false, ErrUnknownAttribute.New(op.Name)
}
