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

// Package sortengine implements a two-phase multiway merge sort (TPMMS)
// used to give the operator runtime and table.Sorted a globally ordered
// stream without holding the whole relation in memory.
//
// Phase 1 buffers incoming records page by page; every R pages it sorts
// the buffered run in memory and appends it, packed into exactly R pages
// (the final run may be shorter), to a transient scratch PagedFile. Phase
// 2 merges the runs with a min-heap over one front-record per run,
// keeping at most R+k pages resident: the current output page plus one
// input page per run.
package sortengine

import (
	"container/heap"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/neerajrao/microdb/pipe"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/storage"
)

// run is one sorted, page-packed run written to the scratch file during
// phase 1: a contiguous block starting at StartPage and spanning
// PageCount pages.
type run struct {
	startPage int
	pageCount int
}

// Engine runs TPMMS sorts. It carries only configuration, no per-sort
// state, so the same *Engine may be shared across concurrently running
// Sort calls (e.g. a sort-merge join sorting both of its inputs at once).
type Engine struct {
	PageSize int
	RunLen   int // R: pages buffered per run before a flush
	ScratchDir string
	Logger   *logrus.Logger
}

// Sort consumes in to exhaustion, writes the records ordered by order to
// out, and shuts out down exactly once on completion. It always drains in
// fully, even on error, so an upstream producer never blocks forever on a
// failed sort. The transient scratch file is removed before Sort returns.
func (e *Engine) Sort(in, out *pipe.Pipe, order predicate.OrderSpec) error {
	defer out.ShutDown()

	id, err := uuid.NewV4()
	if err != nil {
		e.drain(in)
		return errors.Wrap(err, "generating TPMMS scratch file name")
	}
	scratchPath := filepath.Join(e.ScratchDir, fmt.Sprintf("tpmms-%s.bin", id.String()))
	scratch, err := storage.Create(scratchPath, e.PageSize)
	if err != nil {
		e.drain(in)
		return errors.Wrap(err, "creating TPMMS scratch file")
	}
	defer os.Remove(scratchPath)

	runs, err := e.generateRuns(in, scratch, order)
	if err != nil {
		e.drain(in)
		scratch.Close()
		return errors.Wrap(err, "TPMMS phase 1 (run generation)")
	}

	log := e.log()
	log.WithFields(logrus.Fields{"runs": len(runs), "scratch": scratchPath}).Debug("tpmms: run generation complete")

	if err := e.mergeRuns(scratch, runs, order, out); err != nil {
		scratch.Close()
		return errors.Wrap(err, "TPMMS phase 2 (merge)")
	}
	return scratch.Close()
}

func (e *Engine) log() *logrus.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.StandardLogger()
}

// drain empties in without looking at the records, used so a failed sort
// never leaves an upstream operator blocked on a full pipe.
func (e *Engine) drain(in *pipe.Pipe) {
	for {
		if _, ok := in.Remove(); !ok {
			return
		}
	}
}

// generateRuns is TPMMS phase 1: run generation.
func (e *Engine) generateRuns(in *pipe.Pipe, scratch *storage.PagedFile, order predicate.OrderSpec) ([]run, error) {
	var runs []run
	var buffered []*record.Record
	cur := storage.NewPage(e.PageSize)
	pagesFilled := 0

	flush := func() error {
		if len(buffered) == 0 {
			return nil
		}
		sort.SliceStable(buffered, func(i, j int) bool {
			return predicate.Compare(order, buffered[i], buffered[j]) < 0
		})
		start, n, err := e.writeRun(scratch, buffered)
		if err != nil {
			return err
		}
		runs = append(runs, run{startPage: start, pageCount: n})
		buffered = nil
		return nil
	}

	for {
		rec, ok := in.Remove()
		if !ok {
			break
		}
		if cur.Append(rec) {
			buffered = append(buffered, rec)
			continue
		}

		// cur is full: it counts toward this run's page budget.
		pagesFilled++
		if pagesFilled == e.RunLen {
			if err := flush(); err != nil {
				return nil, err
			}
			pagesFilled = 0
		}
		cur = storage.NewPage(e.PageSize)
		if !cur.Append(rec) {
			return nil, errors.Errorf("record of %d bytes does not fit a fresh %d-byte page", len(rec.Bits), e.PageSize)
		}
		buffered = append(buffered, rec)
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return runs, nil
}

// writeRun sorts (already sorted by the caller) records into freshly
// packed pages and appends them to scratch as one contiguous run.
func (e *Engine) writeRun(scratch *storage.PagedFile, records []*record.Record) (startPage, pageCount int, err error) {
	first := true
	cur := storage.NewPage(e.PageSize)
	for _, rec := range records {
		if cur.Append(rec) {
			continue
		}
		idx, err := scratch.AppendPage(cur)
		if err != nil {
			return 0, 0, err
		}
		if first {
			startPage = idx
			first = false
		}
		pageCount++
		cur = storage.NewPage(e.PageSize)
		if !cur.Append(rec) {
			return 0, 0, errors.Errorf("record of %d bytes does not fit a fresh %d-byte page", len(rec.Bits), e.PageSize)
		}
	}
	if !cur.Empty() {
		idx, err := scratch.AppendPage(cur)
		if err != nil {
			return 0, 0, err
		}
		if first {
			startPage = idx
		}
		pageCount++
	}
	return startPage, pageCount, nil
}

// runCursor tracks one run's read position during the phase-2 merge: the
// currently loaded page plus which page-within-run it is.
type runCursor struct {
	r          run
	pageInRun  int
	page       *storage.Page
}

func (rc *runCursor) next(scratch *storage.PagedFile) (*record.Record, bool, error) {
	for {
		if rc.page == nil {
			if rc.pageInRun >= rc.r.pageCount {
				return nil, false, nil
			}
			p, err := scratch.GetPage(rc.r.startPage + rc.pageInRun)
			if err != nil {
				return nil, false, err
			}
			rc.page = p
			rc.pageInRun++
		}
		if rec, ok := rc.page.GetFirst(); ok {
			return rec, true, nil
		}
		rc.page = nil
	}
}

// mergeRuns is TPMMS phase 2: the k-way merge.
func (e *Engine) mergeRuns(scratch *storage.PagedFile, runs []run, order predicate.OrderSpec, out *pipe.Pipe) error {
	if len(runs) == 0 {
		return nil
	}

	cursors := make([]*runCursor, len(runs))
	h := &mergeHeap{order: order}
	for i, r := range runs {
		cursors[i] = &runCursor{r: r}
		rec, ok, err := cursors[i].next(scratch)
		if err != nil {
			return err
		}
		if ok {
			heap.Push(h, mergeItem{run: i, rec: rec})
		}
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(mergeItem)
		out.Insert(top.rec)
		rec, ok, err := cursors[top.run].next(scratch)
		if err != nil {
			return err
		}
		if ok {
			heap.Push(h, mergeItem{run: top.run, rec: rec})
		}
	}
	return nil
}
