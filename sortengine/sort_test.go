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

package sortengine

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neerajrao/microdb/pipe"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
)

func intSchema() *record.Schema {
	return record.NewSchema("R", []record.Attribute{{Name: "k", Type: record.Int}})
}

func intRec(t *testing.T, v int) *record.Record {
	t.Helper()
	r, err := record.Compose(intSchema(), []string{strconv.Itoa(v)})
	require.NoError(t, err)
	return r
}

func TestSortSingleRun(t *testing.T) {
	e := &Engine{PageSize: 256, RunLen: 10, ScratchDir: t.TempDir()}
	in, out := pipe.New(100), pipe.New(100)
	order := predicate.OrderSpec{Attrs: []predicate.OrderAttr{{Index: 0, Type: record.Int}}}

	vals := []int{5, 3, 8, 1, 9, 2}
	go func() {
		for _, v := range vals {
			in.Insert(intRec(t, v))
		}
		in.ShutDown()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- e.Sort(in, out, order) }()

	var got []int32
	for {
		rec, ok := out.Remove()
		if !ok {
			break
		}
		got = append(got, rec.Int(0))
	}
	require.NoError(t, <-errCh)
	require.Equal(t, []int32{1, 2, 3, 5, 8, 9}, got)
}

func TestSortMultipleRuns(t *testing.T) {
	// RunLen=1 page, and a tiny page size, forces many short runs so phase 2
	// actually exercises the k-way merge.
	e := &Engine{PageSize: 64, RunLen: 1, ScratchDir: t.TempDir()}
	in, out := pipe.New(200), pipe.New(200)
	order := predicate.OrderSpec{Attrs: []predicate.OrderAttr{{Index: 0, Type: record.Int}}}

	rng := rand.New(rand.NewSource(42))
	const n = 80
	want := make([]int, n)
	for i := range want {
		want[i] = rng.Intn(1000)
	}

	go func() {
		for _, v := range want {
			in.Insert(intRec(t, v))
		}
		in.ShutDown()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- e.Sort(in, out, order) }()

	var got []int
	for {
		rec, ok := out.Remove()
		if !ok {
			break
		}
		got = append(got, int(rec.Int(0)))
	}
	require.NoError(t, <-errCh)
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1], got[i])
	}
}

func TestSortEmptyInput(t *testing.T) {
	e := &Engine{PageSize: 256, RunLen: 10, ScratchDir: t.TempDir()}
	in, out := pipe.New(10), pipe.New(10)
	order := predicate.OrderSpec{Attrs: []predicate.OrderAttr{{Index: 0, Type: record.Int}}}

	in.ShutDown()
	require.NoError(t, e.Sort(in, out, order))

	_, ok := out.Remove()
	require.False(t, ok)
}
