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
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
)

func heapSchema() *record.Schema {
	return record.NewSchema("R", []record.Attribute{{Name: "k", Type: record.Int}})
}

func heapRec(t *testing.T, v int) *record.Record {
	t.Helper()
	r, err := record.Compose(heapSchema(), []string{strconv.Itoa(v)})
	require.NoError(t, err)
	return r
}

func TestHeapInsertAndScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.bin")
	h, err := CreateHeap(path, heapSchema(), 64)
	require.NoError(t, err)

	for _, v := range []int{1, 2, 3, 4, 5} {
		require.NoError(t, h.Insert(heapRec(t, v)))
	}
	require.NoError(t, h.Close())

	h2, err := OpenHeap(path, heapSchema(), 64)
	require.NoError(t, err)
	h2.MoveFirst()

	var got []int32
	for {
		rec, ok, err := h2.GetNext()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, rec.Int(0))
	}
	require.Equal(t, []int32{1, 2, 3, 4, 5}, got)
}

func TestHeapGetNextMatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.bin")
	h, err := CreateHeap(path, heapSchema(), 64)
	require.NoError(t, err)
	for _, v := range []int{1, 2, 3, 4, 5} {
		require.NoError(t, h.Insert(heapRec(t, v)))
	}

	where := &parsetree.AndList{Ors: []parsetree.OrList{
		{Comparisons: []parsetree.ComparisonOp{
			{Op: parsetree.GT, Left: parsetree.Attr("k"), Right: parsetree.Lit("2")},
		}},
	}}
	cnf, err := predicate.FromSelection(where, heapSchema())
	require.NoError(t, err)

	require.NoError(t, h.Flush())
	h.MoveFirst()
	var got []int32
	for {
		rec, ok, err := h.GetNextMatching(cnf)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, rec.Int(0))
	}
	require.Equal(t, []int32{3, 4, 5}, got)
}
