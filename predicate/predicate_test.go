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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/record"
)

func rSchema() *record.Schema {
	return record.NewSchema("R", []record.Attribute{
		{Name: "a", Type: record.Int},
		{Name: "b", Type: record.Int},
	})
}

func rec(t *testing.T, s *record.Schema, vals ...string) *record.Record {
	t.Helper()
	r, err := record.Compose(s, vals)
	require.NoError(t, err)
	return r
}

func TestSelectionEquality(t *testing.T) {
	s := rSchema()
	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{
			{Op: parsetree.EQ, Left: parsetree.Attr("a"), Right: parsetree.Lit("1")},
		}},
	}}
	cnf, err := FromSelection(where, s)
	require.NoError(t, err)

	match := rec(t, s, "1", "10")
	noMatch := rec(t, s, "2", "10")
	require.True(t, cnf.Eval(match, match))
	require.False(t, cnf.Eval(noMatch, noMatch))
}

func TestOrList(t *testing.T) {
	s := rSchema()
	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{
			{Op: parsetree.EQ, Left: parsetree.Attr("a"), Right: parsetree.Lit("1")},
			{Op: parsetree.EQ, Left: parsetree.Attr("a"), Right: parsetree.Lit("2")},
		}},
	}}
	cnf, err := FromSelection(where, s)
	require.NoError(t, err)

	require.True(t, cnf.Eval(rec(t, s, "1", "0"), nil))
	require.True(t, cnf.Eval(rec(t, s, "2", "0"), nil))
	require.False(t, cnf.Eval(rec(t, s, "3", "0"), nil))
}

func TestDeriveEquijoinOrders(t *testing.T) {
	ls := record.NewSchema("S", []record.Attribute{{Name: "k", Type: record.Int}})
	rs := record.NewSchema("T", []record.Attribute{{Name: "k", Type: record.Int}, {Name: "v", Type: record.String}})

	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{
			{Op: parsetree.EQ, Left: parsetree.Attr("S.k"), Right: parsetree.Attr("T.k")},
		}},
	}}
	cnf, err := FromJoin(where, ls, rs)
	require.NoError(t, err)

	lo, ro, ok := DeriveEquijoinOrders(cnf)
	require.True(t, ok)
	require.Equal(t, []OrderAttr{{Index: 0, Type: record.Int}}, lo.Attrs)
	require.Equal(t, []OrderAttr{{Index: 0, Type: record.Int}}, ro.Attrs)
}

func TestDeriveEquijoinOrdersFailsOnInequality(t *testing.T) {
	ls := record.NewSchema("S", []record.Attribute{{Name: "k", Type: record.Int}})
	rs := record.NewSchema("T", []record.Attribute{{Name: "k", Type: record.Int}})

	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{
			{Op: parsetree.LT, Left: parsetree.Attr("S.k"), Right: parsetree.Attr("T.k")},
		}},
	}}
	cnf, err := FromJoin(where, ls, rs)
	require.NoError(t, err)

	_, _, ok := DeriveEquijoinOrders(cnf)
	require.False(t, ok)
}

func TestCompareOrdering(t *testing.T) {
	s := rSchema()
	order := OrderSpec{Attrs: []OrderAttr{{Index: 0, Type: record.Int}}}
	a := rec(t, s, "1", "0")
	b := rec(t, s, "2", "0")
	require.Equal(t, -1, Compare(order, a, b))
	require.Equal(t, 1, Compare(order, b, a))
	require.Equal(t, 0, Compare(order, a, a))
}

func TestDeriveQueryOrderPrefix(t *testing.T) {
	s := record.NewSchema("R", []record.Attribute{
		{Name: "a", Type: record.Int},
		{Name: "b", Type: record.Int},
	})
	tableOrder := OrderSpec{Attrs: []OrderAttr{{Index: 0, Type: record.Int}, {Index: 1, Type: record.Int}}}

	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{
			{Op: parsetree.EQ, Left: parsetree.Attr("a"), Right: parsetree.Lit("5")},
		}},
	}}
	cnf, err := FromSelection(where, s)
	require.NoError(t, err)

	reduced, lit, err := DeriveQueryOrder(cnf, tableOrder)
	require.NoError(t, err)
	require.Len(t, reduced.Attrs, 1)
	require.Equal(t, int32(5), lit.Int(0))
}
