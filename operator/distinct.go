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
	"github.com/neerajrao/microdb/pipe"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/sortengine"
)

// Distinct removes duplicate records by sorting on every attribute via
// the TPMMS engine, then suppressing adjacent equal records on the way
// out.
type Distinct struct {
	In     *pipe.Pipe
	Out    *pipe.Pipe
	Order  predicate.OrderSpec // FullOrderSpec over the input schema
	Engine *sortengine.Engine
}

func (d *Distinct) Run() error {
	span := startSpan("operator.Distinct")
	defer span.Finish()
	defer d.Out.ShutDown()

	sorted := pipe.New(pipe.DefaultCapacity)
	sortErrCh := make(chan error, 1)
	go func() { sortErrCh <- d.Engine.Sort(d.In, sorted, d.Order) }()

	var last *record.Record
	for {
		rec, ok := sorted.Remove()
		if !ok {
			break
		}
		if last == nil || predicate.Compare(d.Order, last, rec) != 0 {
			d.Out.Insert(rec)
			last = rec
		}
	}
	return <-sortErrCh
}
