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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPagedFileAppendAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.bin")

	pf, err := Create(path, 64)
	require.NoError(t, err)

	p := NewPage(64)
	require.True(t, p.Append(rec(t, "1")))
	idx, err := pf.AppendPage(p)
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.NoError(t, pf.Close())

	pf2, err := Open(path, 64)
	require.NoError(t, err)
	require.Equal(t, 1, pf2.PageCount())

	got, err := pf2.GetPage(0)
	require.NoError(t, err)
	r, ok := got.GetFirst()
	require.True(t, ok)
	require.Equal(t, int32(1), r.Int(0))

	_, err = pf2.GetPage(5)
	require.Error(t, err)
	require.NoError(t, pf2.Close())
}
