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

package table

import (
	"math/rand"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
)

func sortedSchema() *record.Schema {
	return record.NewSchema("R", []record.Attribute{
		{Name: "k", Type: record.Int},
		{Name: "v", Type: record.Int},
	})
}

func sortedRec(t *testing.T, k, v int) *record.Record {
	t.Helper()
	r, err := record.Compose(sortedSchema(), []string{strconv.Itoa(k), strconv.Itoa(v)})
	require.NoError(t, err)
	return r
}

func buildSorted(t *testing.T, keys []int) *Sorted {
	t.Helper()
	dir := t.TempDir()
	order := predicate.OrderSpec{Attrs: []predicate.OrderAttr{{Index: 0, Type: record.Int}}}
	s, err := CreateSorted(filepath.Join(dir, "staging.bin"), sortedSchema(), order, 128, dir, nil)
	require.NoError(t, err)
	for i, k := range keys {
		require.NoError(t, s.Insert(sortedRec(t, k, i)))
	}
	require.NoError(t, s.ToReadMode(filepath.Join(dir, "sorted.bin")))
	return s
}

func TestSortedToReadModeOrdersRecords(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	keys := make([]int, 60)
	for i := range keys {
		keys[i] = rng.Intn(200)
	}
	s := buildSorted(t, keys)
	defer s.Close()

	s.base.MoveFirst()
	var got []int32
	for {
		rec, ok, err := s.base.GetNext()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, rec.Int(0))
	}
	require.Len(t, got, len(keys))
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1], got[i])
	}
}

func TestSortedBinarySearchEquality(t *testing.T) {
	keys := []int{10, 20, 20, 30, 40, 40, 40, 50}
	s := buildSorted(t, keys)
	defer s.Close()

	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{
			{Op: parsetree.EQ, Left: parsetree.Attr("k"), Right: parsetree.Lit("40")},
		}},
	}}
	cnf, err := predicate.FromSelection(where, sortedSchema())
	require.NoError(t, err)

	require.NoError(t, s.StartSearch(cnf))
	var got []int32
	for {
		rec, ok, err := s.GetNextMatching()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, rec.Int(0))
	}
	require.Equal(t, []int32{40, 40, 40}, got)
}

func TestSortedBinarySearchNoMatch(t *testing.T) {
	keys := []int{10, 20, 30}
	s := buildSorted(t, keys)
	defer s.Close()

	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{
			{Op: parsetree.EQ, Left: parsetree.Attr("k"), Right: parsetree.Lit("25")},
		}},
	}}
	cnf, err := predicate.FromSelection(where, sortedSchema())
	require.NoError(t, err)

	require.NoError(t, s.StartSearch(cnf))
	_, ok, err := s.GetNextMatching()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSortedFallbackScanWithoutPrefix(t *testing.T) {
	keys := []int{1, 2, 3, 4, 5}
	s := buildSorted(t, keys)
	defer s.Close()

	// v has no place in the physical order, so StartSearch must fall back
	// to a full sequential scan.
	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{
			{Op: parsetree.GT, Left: parsetree.Attr("v"), Right: parsetree.Lit("2")},
		}},
	}}
	cnf, err := predicate.FromSelection(where, sortedSchema())
	require.NoError(t, err)

	require.NoError(t, s.StartSearch(cnf))
	var count int
	for {
		_, ok, err := s.GetNextMatching()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 2, count)
}
