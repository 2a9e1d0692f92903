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
	"io"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/planner"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/stats"
)

// Engine owns one data directory's table registry and statistics, and
// dispatches the command set of spec.md §6 against them. It is the
// process-level object cmd/microdb and internal/adminserver both hold a
// reference to.
type Engine struct {
	Cfg      Config
	Logger   *logrus.Logger
	Registry *Registry
	Stats    *stats.Statistics
}

// Open loads (or freshly initializes) an Engine rooted at cfg.DataDir,
// reopening every table the saved-state file lists and loading whatever
// statistics were last saved with UPDATE STATISTICS.
func Open(cfg Config, logger *logrus.Logger) (*Engine, error) {
	reg, err := NewRegistry(cfg.DataDir, cfg.PageSize, logger)
	if err != nil {
		return nil, err
	}
	if err := reg.Load(cfg.SavedStateFile); err != nil {
		return nil, err
	}
	st, err := stats.Load(cfg.StatsFile, logger)
	if err != nil {
		return nil, err
	}
	return &Engine{Cfg: cfg, Logger: logger, Registry: reg, Stats: st}, nil
}

// Close persists the saved-state file and closes every open table,
// aggregating close errors rather than abandoning tables after the first
// failure.
func (e *Engine) Close() error {
	if err := e.Registry.Save(e.Cfg.SavedStateFile); err != nil {
		return err
	}
	return e.Registry.CloseAll()
}

// CreateTable registers a new table per the CREATE TABLE command, §6.
func (e *Engine) CreateTable(name string, attrs []record.Attribute, sortOn []string) error {
	span := opentracing.StartSpan("engine.CreateTable")
	defer span.Finish()
	return e.Registry.Create(name, attrs, sortOn, e.Cfg.SortRunLen)
}

// InsertInto loads a delimited text file into an existing table per the
// INSERT INTO command, §6. It returns the number of records loaded.
func (e *Engine) InsertInto(name, path string) (int, error) {
	span := opentracing.StartSpan("engine.InsertInto")
	defer span.Finish()
	return e.Registry.Insert(name, path)
}

// DropTable removes a table per the DROP TABLE command, §6.
func (e *Engine) DropTable(name string) error {
	return e.Registry.Drop(name)
}

// UpdateStatistics rescans a table end to end, recomputing its tuple count
// and per-attribute distinct-value counts, records them in the live
// Statistics, and writes the whole Statistics out to the statistics file.
func (e *Engine) UpdateStatistics(name string) error {
	rel, err := e.Registry.Open(name)
	if err != nil {
		return err
	}
	tuples, distinct, err := scanForStats(rel)
	if err != nil {
		return err
	}
	e.Stats.SetRelation(name, tuples, distinct)
	return e.Stats.Save(e.Cfg.StatsFile)
}

// scanForStats walks every record of rel once, counting total tuples and,
// per attribute, the size of the set of distinct values observed — an
// honest but memory-proportional-to-cardinality approach, adequate for the
// scale this engine targets (see DESIGN.md).
func scanForStats(rel *planner.Relation) (int64, map[string]int64, error) {
	type cursor interface {
		MoveFirst()
		GetNext() (*record.Record, bool, error)
	}
	var c cursor
	if rel.Sorted != nil {
		c = rel.Sorted.BaseHeap()
	} else {
		c = rel.Heap
	}

	seen := make([]map[string]bool, rel.Schema.Len())
	seenInt := make([]map[int32]bool, rel.Schema.Len())
	seenDouble := make([]map[float64]bool, rel.Schema.Len())
	for i := range rel.Schema.Attrs {
		switch rel.Schema.Attrs[i].Type {
		case record.Int:
			seenInt[i] = map[int32]bool{}
		case record.Double:
			seenDouble[i] = map[float64]bool{}
		default:
			seen[i] = map[string]bool{}
		}
	}

	c.MoveFirst()
	var tuples int64
	for {
		rec, ok, err := c.GetNext()
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			break
		}
		tuples++
		for i, a := range rel.Schema.Attrs {
			switch a.Type {
			case record.Int:
				seenInt[i][rec.Int(i)] = true
			case record.Double:
				seenDouble[i][rec.Double(i)] = true
			default:
				seen[i][rec.Str(i)] = true
			}
		}
	}

	distinct := make(map[string]int64, len(rel.Schema.Attrs))
	for i, a := range rel.Schema.Attrs {
		switch a.Type {
		case record.Int:
			distinct[a.Name] = int64(len(seenInt[i]))
		case record.Double:
			distinct[a.Name] = int64(len(seenDouble[i]))
		default:
			distinct[a.Name] = int64(len(seen[i]))
		}
	}
	return tuples, distinct, nil
}

// Query plans and runs query against the current registry/statistics,
// writing its result rows to sink.
func (e *Engine) Query(query *parsetree.Query, sink io.Writer) error {
	span := opentracing.StartSpan("engine.Query")
	defer span.Finish()

	cfg := planner.Config{
		PageSize: e.Cfg.PageSize, PipeCapacity: e.Cfg.PipeCapacity,
		SortRunLen: e.Cfg.SortRunLen, BlockPages: e.Cfg.BlockPages,
		ScratchDir: e.Cfg.DataDir, Logger: e.Logger,
	}
	plan, err := planner.Build(query, e.Registry, e.Stats, cfg)
	if err != nil {
		return err
	}
	return plan.Execute(sink)
}
