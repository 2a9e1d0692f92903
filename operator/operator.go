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

// Package operator implements the pipelined relational operator runtime:
// each operator is a worker, reading from zero or more input pipes and
// writing to exactly one output pipe, run on its own
// goroutine by the caller (the planner or a REPL command handler). Every
// operator shuts its output pipe down exactly once, on exit, whether it
// finished normally or hit an error — that shutdown is how a downstream
// operator learns there is no more input.
package operator

import (
	opentracing "github.com/opentracing/opentracing-go"

	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
)

// Operator is any pipelined runtime node. Run is expected to be called on
// its own goroutine by the caller; it blocks until the operator has
// consumed all of its input and shut down its output.
type Operator interface {
	Run() error
}

// heapReader is the read surface table.Heap exposes — a structural
// interface so this package does not import table (which would create an
// import cycle once table needs operator-level sort/merge helpers).
type heapReader interface {
	MoveFirst()
	GetNext() (*record.Record, bool, error)
	GetNextMatching(predicate.CNF) (*record.Record, bool, error)
}

// sortedReader is the read surface table.Sorted exposes for predicate
// pushdown via binary search.
type sortedReader interface {
	StartSearch(predicate.CNF) error
	GetNextMatching() (*record.Record, bool, error)
}

// startSpan begins a per-operator tracing span, falling back to the
// registered no-op tracer when nothing else is configured.
func startSpan(name string) opentracing.Span {
	return opentracing.StartSpan(name)
}
