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
	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/pipe"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/sortengine"
)

// GroupBy partitions the input into groups sharing equal GroupAttrs
// values and emits one output record per group: the aggregate value
// followed by the group's key attributes, matching the reference
// engine's column order for "SELECT agg, k1, k2 ... GROUP BY k1, k2".
//
// It sorts the input on GroupOrder first (the same TPMMS engine Distinct
// uses) so groups become contiguous runs it can detect by adjacency,
// rather than holding every group in memory at once. Sorting runs on its
// own goroutine feeding an intermediate pipe, and this operator is the
// pipe's only reader — the two-goroutine split mirrors the pattern the
// original used to keep an aggregator from deadlocking against its own
// caller while both want to drain the same queue.
type GroupBy struct {
	In         *pipe.Pipe
	Out        *pipe.Pipe
	Schema     *record.Schema
	GroupOrder predicate.OrderSpec
	GroupAttrs []int
	OutSchema  *record.Schema // the aggregate column (if any) followed by GroupAttrs' attributes
	AggExpr    *parsetree.ArithExpr // nil: no aggregate, output is just the distinct group keys
	Engine     *sortengine.Engine
}

func (g *GroupBy) Run() error {
	span := startSpan("operator.GroupBy")
	defer span.Finish()
	defer g.Out.ShutDown()

	sorted := pipe.New(pipe.DefaultCapacity)
	sortErrCh := make(chan error, 1)
	go func() { sortErrCh <- g.Engine.Sort(g.In, sorted, g.GroupOrder) }()

	var curKey *record.Record
	var haveGroup bool
	var total float64
	var isInt = true

	flush := func() error {
		if !haveGroup {
			return nil
		}
		fields := make([]string, 0, len(g.GroupAttrs)+1)
		if g.AggExpr != nil {
			fields = append(fields, formatNumeric(total, isInt))
		}
		for _, idx := range g.GroupAttrs {
			fields = append(fields, fieldText(curKey, idx, g.Schema.Attrs[idx].Type))
		}
		outRec, err := record.Compose(g.OutSchema, fields)
		if err != nil {
			return err
		}
		g.Out.Insert(outRec)
		return nil
	}

	for {
		rec, ok := sorted.Remove()
		if !ok {
			break
		}
		if !haveGroup || predicate.Compare(g.GroupOrder, curKey, rec) != 0 {
			if err := flush(); err != nil {
				return err
			}
			curKey, haveGroup = rec, true
			total, isInt = 0, true
		}
		if g.AggExpr != nil {
			v, i, err := evalArith(g.AggExpr, g.Schema, rec)
			if err != nil {
				return err
			}
			total += v
			isInt = isInt && i
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return <-sortErrCh
}
