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

// Package parsetree defines the plain-value shape the core engine expects
// from an external SQL lexer/parser, which is out of scope for this
// module. Nothing in this package parses text; it only names the
// structures planner.Build and predicate.FromSelection/FromJoin consume.
package parsetree

// CompOp is one of the three comparison operators the grammar supports.
type CompOp int

const (
	LT CompOp = iota
	GT
	EQ
)

// OperandKind distinguishes a literal constant from an attribute
// reference in the raw parse tree.
type OperandKind int

const (
	OperandLiteral OperandKind = iota
	OperandAttr
)

// Operand is one side of a ComparisonOp as delivered by the parser: a
// literal's textual spelling (to be typed by the opposing attribute) or a
// possibly relation-qualified attribute name.
type Operand struct {
	Kind OperandKind
	// Text is the literal's textual value when Kind == OperandLiteral.
	Text string
	// Name is the (optionally "rel.attr" qualified) attribute name when
	// Kind == OperandAttr.
	Name string
}

// Lit builds a literal Operand.
func Lit(text string) Operand { return Operand{Kind: OperandLiteral, Text: text} }

// Attr builds an attribute-reference Operand.
func Attr(name string) Operand { return Operand{Kind: OperandAttr, Name: name} }

// ComparisonOp is one atomic comparison: Left <op> Right.
type ComparisonOp struct {
	Op    CompOp
	Left  Operand
	Right Operand
}

// OrList is a disjunction of atomic comparisons.
type OrList struct {
	Comparisons []ComparisonOp
}

// AndList is a conjunction of OrLists: the WHERE clause in CNF.
type AndList struct {
	Ors []OrList
}

// TableRef names a FROM-clause table with its optional alias.
type TableRef struct {
	Name  string
	Alias string
}

// AggKind is the aggregate function requested by the select list, if any.
type AggKind int

const (
	AggNone AggKind = iota
	AggSum
)

// ArithOp is an operator in an aggregate expression's arithmetic AST.
type ArithOp int

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
	ArithLeaf // leaf node: either an attribute reference or a numeric literal
)

// ArithExpr is a recursive arithmetic expression over attribute
// references and numeric literals, used by SUM and GROUP BY's aggregate
// expression.
type ArithExpr struct {
	Op          ArithOp
	Left, Right *ArithExpr
	// Valid when Op == ArithLeaf and AttrName == "": a numeric literal.
	NumberText string
	// Valid when Op == ArithLeaf and NumberText == "": an attribute
	// reference, resolved against the input schema at plan time.
	AttrName string
}

// Query is the full plain-value shape the planner consumes for a SELECT
// statement.
type Query struct {
	Tables     []TableRef
	Where      *AndList // nil means "no WHERE clause"
	SelectList []string // attribute names kept by the final projection
	GroupBy    []string // attribute names in the GROUP BY list, if any
	Agg        AggKind
	AggExpr    *ArithExpr
	Distinct   bool
}
