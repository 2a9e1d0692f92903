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

package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neerajrao/microdb/record"
)

func schema() *record.Schema {
	return record.NewSchema("r", []record.Attribute{{Name: "a", Type: record.Int}})
}

func rec(t *testing.T, v string) *record.Record {
	t.Helper()
	r, err := record.Compose(schema(), []string{v})
	require.NoError(t, err)
	return r
}

func TestPageAppendInsertionOrder(t *testing.T) {
	p := NewPage(128)
	for i := 0; i < 5; i++ {
		ok := p.Append(rec(t, string(rune('0'+i))))
		require.True(t, ok)
	}
	for i := 0; i < 5; i++ {
		r, ok := p.GetFirst()
		require.True(t, ok)
		require.Equal(t, int32(i), r.Int(0))
	}
	_, ok := p.GetFirst()
	require.False(t, ok)
}

func TestPageAppendFullDoesNotConsume(t *testing.T) {
	p := NewPage(24)
	ok := p.Append(rec(t, "1"))
	require.True(t, ok)
	// the 4-byte count header, one 12-byte record and its 4-byte slot leave
	// 4 bytes free: a second record plus its slot entry cannot fit.
	ok = p.Append(rec(t, "2"))
	require.False(t, ok)
	require.Equal(t, 1, p.Count())
}

func TestPageSerializeRoundTrip(t *testing.T) {
	p := NewPage(128)
	require.True(t, p.Append(rec(t, "9")))
	bytes := p.Serialize()

	p2 := DeserializePage(bytes)
	require.Equal(t, 1, p2.Count())
	r, ok := p2.GetFirst()
	require.True(t, ok)
	require.Equal(t, int32(9), r.Int(0))
}
