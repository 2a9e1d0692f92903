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

package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/record"
)

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.PageSize = 4096
	cfg.PipeCapacity = 16
	cfg.SortRunLen = 4
	cfg.BlockPages = 4
	cfg.StatsFile = filepath.Join(dir, "stats.txt")
	cfg.SavedStateFile = filepath.Join(dir, "tables.list")
	cfg.AdminAddr = ""
	return cfg
}

func writeSource(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.txt")
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestHeapCreateInsertQuery(t *testing.T) {
	cfg := testConfig(t)
	eng, err := Open(cfg, logrus.New())
	require.NoError(t, err)

	require.NoError(t, eng.CreateTable("R", []record.Attribute{
		{Name: "a", Type: record.Int}, {Name: "b", Type: record.Int},
	}, nil))

	src := writeSource(t, "1|10", "2|20", "1|30", "3|40")
	n, err := eng.InsertInto("R", src)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	query := &parsetree.Query{
		Tables: []parsetree.TableRef{{Name: "R"}},
		Where: &parsetree.AndList{Ors: []parsetree.OrList{
			{Comparisons: []parsetree.ComparisonOp{{Op: parsetree.EQ, Left: parsetree.Attr("a"), Right: parsetree.Lit("1")}}},
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, eng.Query(query, &buf))
	out := buf.String()
	require.Contains(t, out, "a: [1], b: [10]")
	require.Contains(t, out, "a: [1], b: [30]")
	require.NotContains(t, out, "a: [2]")

	require.NoError(t, eng.Close())
}

func TestUpdateStatisticsThenPlan(t *testing.T) {
	cfg := testConfig(t)
	eng, err := Open(cfg, logrus.New())
	require.NoError(t, err)

	require.NoError(t, eng.CreateTable("R", []record.Attribute{
		{Name: "a", Type: record.Int}, {Name: "b", Type: record.Int},
	}, nil))
	src := writeSource(t, "1|10", "2|20", "1|30", "3|40")
	_, err = eng.InsertInto("R", src)
	require.NoError(t, err)

	require.NoError(t, eng.UpdateStatistics("R"))
	tuples, ok := eng.Stats.TupleCount("R")
	require.True(t, ok)
	require.EqualValues(t, 4, tuples)
	distinctA, ok := eng.Stats.DistinctCount("R", "a")
	require.True(t, ok)
	require.EqualValues(t, 3, distinctA)

	require.FileExists(t, cfg.StatsFile)
}

func TestDropTableRemovesFiles(t *testing.T) {
	cfg := testConfig(t)
	eng, err := Open(cfg, logrus.New())
	require.NoError(t, err)

	require.NoError(t, eng.CreateTable("R", []record.Attribute{{Name: "a", Type: record.Int}}, nil))
	require.NoError(t, eng.DropTable("R"))

	_, err = eng.Registry.Open("R")
	require.Error(t, err)
}

func TestSortedTableRoundTripsThroughRestart(t *testing.T) {
	cfg := testConfig(t)
	eng, err := Open(cfg, logrus.New())
	require.NoError(t, err)

	require.NoError(t, eng.CreateTable("R", []record.Attribute{
		{Name: "a", Type: record.Int}, {Name: "b", Type: record.Int},
	}, []string{"a"}))
	src := writeSource(t, "3|30", "1|10", "2|20")
	_, err = eng.InsertInto("R", src)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	reopened, err := Open(cfg, logrus.New())
	require.NoError(t, err)

	query := &parsetree.Query{Tables: []parsetree.TableRef{{Name: "R"}}}
	var buf bytes.Buffer
	require.NoError(t, reopened.Query(query, &buf))
	require.Contains(t, buf.String(), "a: [1], b: [10]")
	require.Contains(t, buf.String(), "a: [3], b: [30]")
}
