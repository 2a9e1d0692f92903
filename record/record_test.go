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

package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return NewSchema("r", []Attribute{
		{Name: "a", Type: Int},
		{Name: "b", Type: Double},
		{Name: "c", Type: String},
	})
}

func TestComposeRoundTrip(t *testing.T) {
	s := testSchema()
	rec, err := Compose(s, []string{"42", "3.25", "hello"})
	require.NoError(t, err)

	require.Equal(t, int32(42), rec.Int(0))
	require.Equal(t, 3.25, rec.Double(1))
	require.Equal(t, "hello", rec.Str(2))
	require.Equal(t, 3, rec.NumAttributes())
}

func TestComposeWrongFieldCount(t *testing.T) {
	s := testSchema()
	_, err := Compose(s, []string{"1", "2"})
	require.Error(t, err)
}

func TestProject(t *testing.T) {
	s := testSchema()
	rec, err := Compose(s, []string{"1", "2.5", "xyz"})
	require.NoError(t, err)

	proj := rec.Project([]int{2, 0}, 3)
	require.Equal(t, 2, proj.NumAttributes())
	require.Equal(t, "xyz", proj.Str(0))
	require.Equal(t, int32(1), proj.Int(1))
}

func TestMergeEmitsAllAttributes(t *testing.T) {
	ls := NewSchema("l", []Attribute{{Name: "x", Type: Int}})
	rs := NewSchema("r", []Attribute{{Name: "y", Type: Int}, {Name: "z", Type: String}})

	left, err := Compose(ls, []string{"7"})
	require.NoError(t, err)
	right, err := Compose(rs, []string{"8", "w"})
	require.NoError(t, err)

	atts, startOfRight := IdentityMergeSpec(1, 2)
	merged := Merge(left, right, 1, 2, atts, startOfRight)

	require.Equal(t, 3, merged.NumAttributes())
	require.Equal(t, int32(7), merged.Int(0))
	require.Equal(t, int32(8), merged.Int(1))
	require.Equal(t, "w", merged.Str(2))
}

func TestCopyIsDeep(t *testing.T) {
	s := testSchema()
	rec, err := Compose(s, []string{"1", "1.0", "a"})
	require.NoError(t, err)

	cp := rec.Copy()
	cp.Bits[0] = 0xFF
	require.NotEqual(t, rec.Bits[0], cp.Bits[0])
}

func TestRender(t *testing.T) {
	s := testSchema()
	rec, err := Compose(s, []string{"1", "2", "foo"})
	require.NoError(t, err)
	require.Equal(t, "a: [1], b: [2], c: [foo]", rec.Render(s))
}
