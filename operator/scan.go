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
)

// Scan reads every record of a Heap table, unfiltered, into Out.
type Scan struct {
	Table heapReader
	Out   *pipe.Pipe
}

func (s *Scan) Run() error {
	span := startSpan("operator.Scan")
	defer span.Finish()
	defer s.Out.ShutDown()

	s.Table.MoveFirst()
	for {
		rec, ok, err := s.Table.GetNext()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.Out.Insert(rec)
	}
}

// SelectFile applies a predicate directly against a table, pushing the
// filter down into the storage layer instead of materializing the whole
// relation first. Exactly one of Heap/Sorted is set.
type SelectFile struct {
	Heap   heapReader
	Sorted sortedReader
	CNF    predicate.CNF
	Out    *pipe.Pipe
}

func (s *SelectFile) Run() error {
	span := startSpan("operator.SelectFile")
	defer span.Finish()
	defer s.Out.ShutDown()

	if s.Sorted != nil {
		if err := s.Sorted.StartSearch(s.CNF); err != nil {
			return err
		}
		for {
			rec, ok, err := s.Sorted.GetNextMatching()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			s.Out.Insert(rec)
		}
	}

	s.Heap.MoveFirst()
	for {
		rec, ok, err := s.Heap.GetNextMatching(s.CNF)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.Out.Insert(rec)
	}
}

// SelectPipe filters records arriving on In by CNF, passing the survivors
// to Out: the in-pipeline counterpart of SelectFile, used when the
// relation being filtered is itself the output of an upstream operator
// rather than a base table.
type SelectPipe struct {
	In  *pipe.Pipe
	CNF predicate.CNF
	Out *pipe.Pipe
}

func (s *SelectPipe) Run() error {
	span := startSpan("operator.SelectPipe")
	defer span.Finish()
	defer s.Out.ShutDown()

	for {
		rec, ok := s.In.Remove()
		if !ok {
			return nil
		}
		if s.CNF.Eval(rec, rec) {
			s.Out.Insert(rec)
		}
	}
}
