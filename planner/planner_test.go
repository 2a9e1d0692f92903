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

package planner

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/stats"
	"github.com/neerajrao/microdb/table"
)

// memCatalog is a test-only Catalog backed by in-memory-sized heap tables.
type memCatalog struct {
	t    *testing.T
	rels map[string]*Relation
}

func newMemCatalog(t *testing.T) *memCatalog {
	return &memCatalog{t: t, rels: map[string]*Relation{}}
}

func (c *memCatalog) Open(name string) (*Relation, error) {
	rel, ok := c.rels[name]
	if !ok {
		return nil, ErrUnknownTable.New(name)
	}
	return rel, nil
}

func (c *memCatalog) addHeap(name string, attrs []record.Attribute, rows [][]string) {
	c.t.Helper()
	schema := record.NewSchema(name, attrs)
	path := filepath.Join(c.t.TempDir(), name+".bin")
	h, err := table.CreateHeap(path, schema, 4096)
	require.NoError(c.t, err)
	for _, row := range rows {
		rec, err := record.Compose(schema, row)
		require.NoError(c.t, err)
		require.NoError(c.t, h.Insert(rec))
	}
	require.NoError(c.t, h.Flush())
	c.rels[name] = &Relation{Schema: schema, Heap: h}
}

func testConfig(t *testing.T) Config {
	return Config{PageSize: 4096, PipeCapacity: 16, SortRunLen: 4, BlockPages: 4, ScratchDir: t.TempDir()}
}

func cmpOp(op parsetree.CompOp, left, right parsetree.Operand) parsetree.ComparisonOp {
	return parsetree.ComparisonOp{Op: op, Left: left, Right: right}
}

func andOf(ors ...parsetree.OrList) *parsetree.AndList {
	return &parsetree.AndList{Ors: ors}
}

func orOf(cmps ...parsetree.ComparisonOp) parsetree.OrList {
	return parsetree.OrList{Comparisons: cmps}
}

// TestSelectionScenario is spec.md §8 scenario 1: R(a,b) with four tuples,
// SELECT * FROM R WHERE a = 1 must yield {(1,10),(1,30)}.
func TestSelectionScenario(t *testing.T) {
	cat := newMemCatalog(t)
	cat.addHeap("R", []record.Attribute{{Name: "a", Type: record.Int}, {Name: "b", Type: record.Int}},
		[][]string{{"1", "10"}, {"2", "20"}, {"1", "30"}, {"3", "40"}})

	st := stats.New()
	st.SetRelation("R", 4, map[string]int64{"a": 3, "b": 4})

	query := &parsetree.Query{
		Tables: []parsetree.TableRef{{Name: "R"}},
		Where:  andOf(orOf(cmpOp(parsetree.EQ, parsetree.Attr("a"), parsetree.Lit("1")))),
	}

	plan, err := Build(query, cat, st, testConfig(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, plan.Execute(&buf))

	require.Contains(t, buf.String(), "a: [1], b: [10]")
	require.Contains(t, buf.String(), "a: [1], b: [30]")
	require.NotContains(t, buf.String(), "a: [2]")
	require.NotContains(t, buf.String(), "a: [3]")
}

// TestSumScenario is spec.md §8 scenario 2: SELECT SUM(b) FROM R yields
// {(100)}.
func TestSumScenario(t *testing.T) {
	cat := newMemCatalog(t)
	cat.addHeap("R", []record.Attribute{{Name: "a", Type: record.Int}, {Name: "b", Type: record.Int}},
		[][]string{{"1", "10"}, {"2", "20"}, {"1", "30"}, {"3", "40"}})

	st := stats.New()
	st.SetRelation("R", 4, map[string]int64{"a": 3, "b": 4})

	query := &parsetree.Query{
		Tables: []parsetree.TableRef{{Name: "R"}},
		Agg:    parsetree.AggSum,
		AggExpr: &parsetree.ArithExpr{Op: parsetree.ArithLeaf, AttrName: "b"},
	}

	plan, err := Build(query, cat, st, testConfig(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, plan.Execute(&buf))
	require.Contains(t, buf.String(), "[100]")
}

// TestJoinScenario is spec.md §8 scenario 4: S(k) with {1,2,3,4} and
// T(k,v) with {(2,"x"),(3,"y"),(3,"z"),(5,"w")}, SELECT * FROM S,T WHERE
// S.k = T.k yields {(2,2,"x"),(3,3,"y"),(3,3,"z")}.
func TestJoinScenario(t *testing.T) {
	cat := newMemCatalog(t)
	cat.addHeap("S", []record.Attribute{{Name: "k", Type: record.Int}},
		[][]string{{"1"}, {"2"}, {"3"}, {"4"}})
	cat.addHeap("T", []record.Attribute{{Name: "k", Type: record.Int}, {Name: "v", Type: record.String}},
		[][]string{{"2", "x"}, {"3", "y"}, {"3", "z"}, {"5", "w"}})

	st := stats.New()
	st.SetRelation("S", 4, map[string]int64{"k": 4})
	st.SetRelation("T", 4, map[string]int64{"k": 3, "v": 4})

	query := &parsetree.Query{
		Tables: []parsetree.TableRef{{Name: "S"}, {Name: "T"}},
		Where: andOf(orOf(cmpOp(parsetree.EQ, parsetree.Attr("S.k"), parsetree.Attr("T.k")))),
	}

	plan, err := Build(query, cat, st, testConfig(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, plan.Execute(&buf))

	out := buf.String()
	require.Contains(t, out, "k: [2]")
	require.Contains(t, out, "v: [x]")
	require.Contains(t, out, "v: [y]")
	require.Contains(t, out, "v: [z]")
	require.NotContains(t, out, "v: [w]")
}
