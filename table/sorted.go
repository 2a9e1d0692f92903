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

package table

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/neerajrao/microdb/pipe"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/sortengine"
	"github.com/neerajrao/microdb/storage"
)

// Sorted wraps a Heap table that is kept physically ordered by Order, so
// GetNextMatching can binary-search rather than scan. It has two modes:
// write mode accepts unordered Insert
// calls into a staging heap; ToReadMode runs a TPMMS pass to produce the
// ordered file and flips to read mode, at which point Insert is no longer
// valid and StartSearch/GetNextMatching become usable.
type Sorted struct {
	path       string
	schema     *record.Schema
	order      predicate.OrderSpec
	pageSize   int
	scratchDir string
	logger     *logrus.Logger

	staging *Heap // write-mode target; nil once in read mode
	base    *Heap // read-mode sorted file; nil until ToReadMode succeeds

	search searchCursor
}

type searchCursor struct {
	active      bool
	fallback    bool // true: no usable prefix, plain sequential scan with cnf filter
	cnf         predicate.CNF
	reduced     predicate.OrderSpec
	literal     *record.Record
	pageIdx     int
	page        *storage.Page
	pos         int
	exhausted   bool
}

// CreateSorted makes a new Sorted table in write mode, staging inserts
// into an unordered heap at stagingPath until ToReadMode is called.
func CreateSorted(stagingPath string, schema *record.Schema, order predicate.OrderSpec, pageSize int, scratchDir string, logger *logrus.Logger) (*Sorted, error) {
	staging, err := CreateHeap(stagingPath, schema, pageSize)
	if err != nil {
		return nil, err
	}
	return &Sorted{
		path: stagingPath, schema: schema, order: order, pageSize: pageSize,
		scratchDir: scratchDir, logger: logger, staging: staging,
	}, nil
}

// Insert buffers rec into the unordered staging heap. Valid only in write
// mode (before ToReadMode).
func (s *Sorted) Insert(rec *record.Record) error {
	if s.staging == nil {
		return errors.New("Sorted: Insert called after ToReadMode")
	}
	return s.staging.Insert(rec)
}

// ToReadMode flushes the staging heap, sorts it via sortengine, writes the
// ordered result to sortedPath, and switches to read mode. The staging
// file is removed once the transition succeeds.
func (s *Sorted) ToReadMode(sortedPath string) error {
	if s.staging == nil {
		return errors.New("Sorted: ToReadMode called twice")
	}
	if err := s.staging.Flush(); err != nil {
		return err
	}

	in := pipe.New(pipe.DefaultCapacity)
	out := pipe.New(pipe.DefaultCapacity)

	readErrCh := make(chan error, 1)
	go func() {
		s.staging.MoveFirst()
		for {
			rec, ok, err := s.staging.GetNext()
			if err != nil {
				readErrCh <- err
				in.ShutDown()
				return
			}
			if !ok {
				break
			}
			in.Insert(rec)
		}
		in.ShutDown()
		readErrCh <- nil
	}()

	engine := &sortengine.Engine{PageSize: s.pageSize, RunLen: defaultRunLen, ScratchDir: s.scratchDir, Logger: s.logger}
	sortErrCh := make(chan error, 1)
	go func() { sortErrCh <- engine.Sort(in, out, s.order) }()

	base, err := CreateHeap(sortedPath, s.schema, s.pageSize)
	if err != nil {
		return err
	}
	for {
		rec, ok := out.Remove()
		if !ok {
			break
		}
		if err := base.Insert(rec); err != nil {
			return err
		}
	}
	if err := <-readErrCh; err != nil {
		return errors.Wrap(err, "reading staging heap")
	}
	if err := <-sortErrCh; err != nil {
		return errors.Wrap(err, "sorting staging heap")
	}
	if err := base.Flush(); err != nil {
		return err
	}

	stagingPath := s.path
	s.staging = nil
	s.base = base
	s.path = sortedPath
	if err := os.Remove(stagingPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing staging heap file")
	}
	return nil
}

// OpenSorted reopens an already-built sorted table file directly in read
// mode, for the registry's startup path: a table that has already
// completed its write-to-read transition in a prior process has no
// staging file left to replay, only the ordered base heap.
func OpenSorted(path string, schema *record.Schema, order predicate.OrderSpec, pageSize int, scratchDir string, logger *logrus.Logger) (*Sorted, error) {
	base, err := OpenHeap(path, schema, pageSize)
	if err != nil {
		return nil, err
	}
	return &Sorted{
		path: path, schema: schema, order: order, pageSize: pageSize,
		scratchDir: scratchDir, logger: logger, base: base,
	}, nil
}

// defaultRunLen is the TPMMS run length (in pages) Sorted always uses
// for its own write-to-read transition; no caller can change it.
const defaultRunLen = 16

// StartSearch begins a new bounded search for records matching cnf,
// attempting to derive a usable prefix of the table's order to binary
// search on. Only valid in read mode.
func (s *Sorted) StartSearch(cnf predicate.CNF) error {
	if s.base == nil {
		return errors.New("Sorted: StartSearch called before ToReadMode")
	}
	reduced, lit, err := predicate.DeriveQueryOrder(cnf, s.order)
	if err != nil {
		return err
	}
	s.search = searchCursor{active: true, cnf: cnf}
	if len(reduced.Attrs) == 0 {
		s.search.fallback = true
		s.base.MoveFirst()
		return nil
	}
	s.search.reduced = reduced
	s.search.literal = lit

	pageIdx, pos, found, err := s.locate(reduced, lit)
	if err != nil {
		return err
	}
	if !found {
		s.search.exhausted = true
		return nil
	}
	s.search.pageIdx = pageIdx
	s.search.pos = pos
	return nil
}

// GetNextMatching returns the next record satisfying the CNF passed to
// StartSearch, or ok=false once no further matches remain (either the
// table is exhausted, or, in binary-search mode, the ordered prefix no
// longer equals the search literal — sorted order guarantees nothing
// later can match either).
func (s *Sorted) GetNextMatching() (*record.Record, bool, error) {
	if !s.search.active {
		return nil, false, errors.New("Sorted: GetNextMatching called without StartSearch")
	}
	if s.search.fallback {
		return s.base.GetNextMatching(s.search.cnf)
	}
	if s.search.exhausted {
		return nil, false, nil
	}

	pf := s.base.pf
	for {
		if s.search.page == nil {
			if s.search.pageIdx >= pf.PageCount() {
				s.search.exhausted = true
				return nil, false, nil
			}
			p, err := pf.GetPage(s.search.pageIdx)
			if err != nil {
				return nil, false, err
			}
			s.search.page = p
		}
		if s.search.pos >= s.search.page.Count() {
			s.search.page = nil
			s.search.pageIdx++
			s.search.pos = 0
			continue
		}

		rec := s.search.page.At(s.search.pos)
		if predicate.Compare(s.search.reduced, rec, s.search.literal) != 0 {
			s.search.exhausted = true
			return nil, false, nil
		}
		s.search.pos++
		if s.search.cnf.Eval(rec, rec) {
			return rec, true, nil
		}
	}
}

// locate runs the two-level (across pages, then within page) binary
// search for the first record whose reduced-order projection is >= lit.
func (s *Sorted) locate(order predicate.OrderSpec, lit *record.Record) (pageIdx, pos int, found bool, err error) {
	pf := s.base.pf
	n := pf.PageCount()
	if n == 0 {
		return 0, 0, false, nil
	}

	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		page, err := pf.GetPage(mid)
		if err != nil {
			return 0, 0, false, err
		}
		last := page.At(page.Count() - 1)
		if predicate.Compare(order, last, lit) >= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo >= n {
		return 0, 0, false, nil
	}

	page, err := pf.GetPage(lo)
	if err != nil {
		return 0, 0, false, err
	}
	cnt := page.Count()
	lo2, hi2 := 0, cnt
	for lo2 < hi2 {
		mid := (lo2 + hi2) / 2
		r := page.At(mid)
		if predicate.Compare(order, r, lit) >= 0 {
			hi2 = mid
		} else {
			lo2 = mid + 1
		}
	}
	if lo2 >= cnt {
		return 0, 0, false, nil
	}
	return lo, lo2, true, nil
}

// Close closes whichever underlying heap file is active.
func (s *Sorted) Close() error {
	if s.base != nil {
		return s.base.Close()
	}
	if s.staging != nil {
		return s.staging.Close()
	}
	return nil
}

// Schema returns the table's attribute schema.
func (s *Sorted) Schema() *record.Schema { return s.schema }

// Order returns the order the table is physically sorted by in read mode.
func (s *Sorted) Order() predicate.OrderSpec { return s.order }

// BaseHeap exposes the underlying ordered heap file for an unfiltered
// scan (operator.Scan), used by the planner when a query never pushes a
// selection down to this table — an ordinary sequential read still
// visits every record, just in sorted-table order rather than insertion
// order. Valid only in read mode.
func (s *Sorted) BaseHeap() *Heap { return s.base }
