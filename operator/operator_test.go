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
	"bytes"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/sortengine"

	"github.com/neerajrao/microdb/pipe"
)

func schemaAB() *record.Schema {
	return record.NewSchema("R", []record.Attribute{
		{Name: "a", Type: record.Int},
		{Name: "b", Type: record.Int},
	})
}

func recAB(t *testing.T, a, b int) *record.Record {
	t.Helper()
	r, err := record.Compose(schemaAB(), []string{strconv.Itoa(a), strconv.Itoa(b)})
	require.NoError(t, err)
	return r
}

func drainInts(p *pipe.Pipe, idx int) []int32 {
	var out []int32
	for {
		rec, ok := p.Remove()
		if !ok {
			return out
		}
		out = append(out, rec.Int(idx))
	}
}

func TestSelectPipeFilters(t *testing.T) {
	in, out := pipe.New(10), pipe.New(10)
	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{{Op: parsetree.GT, Left: parsetree.Attr("a"), Right: parsetree.Lit("1")}}},
	}}
	cnf, err := predicate.FromSelection(where, schemaAB())
	require.NoError(t, err)

	go func() {
		for _, v := range []int{1, 2, 3} {
			in.Insert(recAB(t, v, v*10))
		}
		in.ShutDown()
	}()

	sp := &SelectPipe{In: in, CNF: cnf, Out: out}
	require.NoError(t, sp.Run())
	require.Equal(t, []int32{2, 3}, drainInts(out, 0))
}

func TestProjectKeepsOnlyRequestedAttrs(t *testing.T) {
	in, out := pipe.New(10), pipe.New(10)
	go func() {
		in.Insert(recAB(t, 1, 100))
		in.ShutDown()
	}()
	p := &Project{In: in, Out: out, Keep: []int{1}, NumAttrs: 2}
	require.NoError(t, p.Run())
	rec, ok := out.Remove()
	require.True(t, ok)
	require.Equal(t, int32(100), rec.Int(0))
}

func TestDistinctSuppressesDuplicates(t *testing.T) {
	in, out := pipe.New(10), pipe.New(10)
	go func() {
		for _, v := range []int{1, 2, 1, 3, 2} {
			in.Insert(recAB(t, v, v))
		}
		in.ShutDown()
	}()
	d := &Distinct{
		In: in, Out: out,
		Order:  predicate.FullOrderSpec(schemaAB()),
		Engine: &sortengine.Engine{PageSize: 128, RunLen: 4, ScratchDir: t.TempDir()},
	}
	require.NoError(t, d.Run())
	require.Equal(t, []int32{1, 2, 3}, drainInts(out, 0))
}

func TestSumAccumulates(t *testing.T) {
	in, out := pipe.New(10), pipe.New(10)
	go func() {
		for _, v := range []int{1, 2, 3, 4} {
			in.Insert(recAB(t, v, 0))
		}
		in.ShutDown()
	}()
	s := &Sum{
		In: in, Out: out, Schema: schemaAB(), OutAttr: "total",
		Expr: &parsetree.ArithExpr{Op: parsetree.ArithLeaf, AttrName: "a"},
	}
	require.NoError(t, s.Run())
	rec, ok := out.Remove()
	require.True(t, ok)
	require.Equal(t, int32(10), rec.Int(0))
}

func TestGroupBySumsPerGroup(t *testing.T) {
	in, out := pipe.New(20), pipe.New(20)
	go func() {
		rows := [][2]int{{1, 10}, {2, 5}, {1, 20}, {2, 1}, {1, 1}}
		for _, r := range rows {
			in.Insert(recAB(t, r[0], r[1]))
		}
		in.ShutDown()
	}()

	outSchema := record.NewSchema("", []record.Attribute{
		{Name: "total", Type: record.Int},
		{Name: "a", Type: record.Int},
	})
	g := &GroupBy{
		In: in, Out: out, Schema: schemaAB(),
		GroupOrder: predicate.OrderSpec{Attrs: []predicate.OrderAttr{{Index: 0, Type: record.Int}}},
		GroupAttrs: []int{0},
		OutSchema:  outSchema,
		AggExpr:    &parsetree.ArithExpr{Op: parsetree.ArithLeaf, AttrName: "b"},
		Engine:     &sortengine.Engine{PageSize: 128, RunLen: 4, ScratchDir: t.TempDir()},
	}
	require.NoError(t, g.Run())

	got := map[int32]int32{}
	for {
		rec, ok := out.Remove()
		if !ok {
			break
		}
		got[rec.Int(1)] = rec.Int(0)
	}
	require.Equal(t, map[int32]int32{1: 31, 2: 6}, got)
}

func TestJoinSortMerge(t *testing.T) {
	leftSchema := record.NewSchema("S", []record.Attribute{{Name: "k", Type: record.Int}})
	rightSchema := record.NewSchema("T", []record.Attribute{{Name: "k", Type: record.Int}, {Name: "v", Type: record.Int}})

	left, right, out := pipe.New(10), pipe.New(10), pipe.New(10)
	go func() {
		for _, v := range []int{1, 2, 3} {
			r, _ := record.Compose(leftSchema, []string{strconv.Itoa(v)})
			left.Insert(r)
		}
		left.ShutDown()
	}()
	go func() {
		rows := [][2]int{{2, 20}, {3, 30}, {3, 31}}
		for _, r := range rows {
			rec, _ := record.Compose(rightSchema, []string{strconv.Itoa(r[0]), strconv.Itoa(r[1])})
			right.Insert(rec)
		}
		right.ShutDown()
	}()

	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{{Op: parsetree.EQ, Left: parsetree.Attr("S.k"), Right: parsetree.Attr("T.k")}}},
	}}
	cnf, err := predicate.FromJoin(where, leftSchema, rightSchema)
	require.NoError(t, err)

	j := &Join{
		Left: left, Right: right, Out: out, CNF: cnf,
		NumAttsLeft: 1, NumAttsRight: 2,
		Engine:   &sortengine.Engine{PageSize: 128, RunLen: 4, ScratchDir: t.TempDir()},
		PageSize: 128, ScratchDir: t.TempDir(),
	}
	require.NoError(t, j.Run())

	var got [][2]int32
	for {
		rec, ok := out.Remove()
		if !ok {
			break
		}
		got = append(got, [2]int32{rec.Int(0), rec.Int(2)})
	}
	require.ElementsMatch(t, [][2]int32{{2, 20}, {3, 30}, {3, 31}}, got)
}

func TestWriteOutRendersLines(t *testing.T) {
	in := pipe.New(10)
	go func() {
		in.Insert(recAB(t, 1, 2))
		in.ShutDown()
	}()
	var buf bytes.Buffer
	w := &WriteOut{In: in, Sink: &buf, Schema: schemaAB()}
	require.NoError(t, w.Run())
	require.Contains(t, buf.String(), "a: [1]")
}
