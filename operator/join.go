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
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/neerajrao/microdb/pipe"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/sortengine"
	"github.com/neerajrao/microdb/storage"
)

// Join combines Left and Right on CNF. When CNF reduces to a pure
// equijoin (predicate.DeriveEquijoinOrders succeeds) it
// runs a sort-merge join; otherwise it falls back to a block-nested-loop
// join: Left — expected to be the smaller side, a choice the planner
// makes, not this operator — is spooled to a scratch file, and Right is
// buffered BlockPages pages at a time, each block probed against the
// whole spool read back one page at a time.
type Join struct {
	Left, Right             *pipe.Pipe
	Out                     *pipe.Pipe
	CNF                     predicate.CNF
	NumAttsLeft, NumAttsRight int
	Engine                  *sortengine.Engine
	PageSize                int
	ScratchDir              string

	// BlockPages is B: the number of right-side pages the
	// block-nested-loop path buffers before rescanning the spooled left
	// side, per spec.md §4.6. Zero/negative means "one page at a time".
	BlockPages int
}

func (j *Join) Run() error {
	span := startSpan("operator.Join")
	defer span.Finish()
	defer j.Out.ShutDown()

	if leftOrder, rightOrder, ok := predicate.DeriveEquijoinOrders(j.CNF); ok {
		return j.sortMergeJoin(leftOrder, rightOrder)
	}
	return j.blockNestedLoopJoin()
}

func (j *Join) mergeSpec() (attsToKeep []int, startOfRight int) {
	return record.IdentityMergeSpec(j.NumAttsLeft, j.NumAttsRight)
}

func (j *Join) sortMergeJoin(leftOrder, rightOrder predicate.OrderSpec) error {
	sortedLeft := pipe.New(pipe.DefaultCapacity)
	sortedRight := pipe.New(pipe.DefaultCapacity)

	errCh := make(chan error, 2)
	go func() { errCh <- j.Engine.Sort(j.Left, sortedLeft, leftOrder) }()
	go func() { errCh <- j.Engine.Sort(j.Right, sortedRight, rightOrder) }()

	attsToKeep, startOfRight := j.mergeSpec()

	l, okL := sortedLeft.Remove()
	r, okR := sortedRight.Remove()

	for okL && okR {
		switch cmp := predicate.CompareCross(leftOrder, l, rightOrder, r); {
		case cmp < 0:
			l, okL = sortedLeft.Remove()
		case cmp > 0:
			r, okR = sortedRight.Remove()
		default:
			leftGroup := []*record.Record{l}
			for {
				next, ok := sortedLeft.Remove()
				if !ok {
					okL = false
					break
				}
				if predicate.CompareCross(leftOrder, next, leftOrder, l) != 0 {
					l = next
					break
				}
				leftGroup = append(leftGroup, next)
			}
			rightGroup := []*record.Record{r}
			for {
				next, ok := sortedRight.Remove()
				if !ok {
					okR = false
					break
				}
				if predicate.CompareCross(rightOrder, next, rightOrder, r) != 0 {
					r = next
					break
				}
				rightGroup = append(rightGroup, next)
			}
			for _, lr := range leftGroup {
				for _, rr := range rightGroup {
					if j.CNF.Eval(lr, rr) {
						j.Out.Insert(record.Merge(lr, rr, j.NumAttsLeft, j.NumAttsRight, attsToKeep, startOfRight))
					}
				}
			}
		}
	}
	// one side may still have buffered records once the other is
	// exhausted; drain it so its producer goroutine never blocks, though
	// nothing further can match.
	for okL {
		_, okL = sortedLeft.Remove()
	}
	for okR {
		_, okR = sortedRight.Remove()
	}

	if err := <-errCh; err != nil {
		return err
	}
	return <-errCh
}

func (j *Join) blockNestedLoopJoin() error {
	id, err := uuid.NewV4()
	if err != nil {
		return errors.Wrap(err, "generating BNL spool file name")
	}
	scratchPath := filepath.Join(j.ScratchDir, fmt.Sprintf("bnl-%s.bin", id.String()))
	spool, err := storage.Create(scratchPath, j.PageSize)
	if err != nil {
		return errors.Wrap(err, "creating BNL spool file")
	}
	defer os.Remove(scratchPath)

	cur := storage.NewPage(j.PageSize)
	for {
		rec, ok := j.Left.Remove()
		if !ok {
			break
		}
		if cur.Append(rec) {
			continue
		}
		if _, err := spool.AppendPage(cur); err != nil {
			return errors.Wrap(err, "spooling BNL inner side")
		}
		cur = storage.NewPage(j.PageSize)
		if !cur.Append(rec) {
			return errors.Errorf("record of %d bytes does not fit a fresh %d-byte page", len(rec.Bits), j.PageSize)
		}
	}
	if !cur.Empty() {
		if _, err := spool.AppendPage(cur); err != nil {
			return errors.Wrap(err, "spooling BNL inner side")
		}
	}

	attsToKeep, startOfRight := j.mergeSpec()

	blockPages := j.BlockPages
	if blockPages <= 0 {
		blockPages = 1
	}

	// block holds up to blockPages full right-side pages; rightCur is the
	// page still accepting records. Buffering a whole block before
	// rescanning the spool, rather than probing per right-side record,
	// is the granularity spec.md §4.6 calls for: "For each block of up
	// to B pages ... accumulated from the larger input, re-scan the
	// spooled smaller input."
	var block []*storage.Page
	rightCur := storage.NewPage(j.PageSize)

	probeBlock := func() error {
		pages := block
		if !rightCur.Empty() {
			pages = append(pages, rightCur)
		}
		if len(pages) == 0 {
			return nil
		}
		for pi := 0; pi < spool.PageCount(); pi++ {
			page, err := spool.GetPage(pi)
			if err != nil {
				return errors.Wrap(err, "reading BNL spool page")
			}
			for i := 0; i < page.Count(); i++ {
				lr := page.At(i)
				for _, rp := range pages {
					for k := 0; k < rp.Count(); k++ {
						rr := rp.At(k)
						if j.CNF.Eval(lr, rr) {
							j.Out.Insert(record.Merge(lr, rr, j.NumAttsLeft, j.NumAttsRight, attsToKeep, startOfRight))
						}
					}
				}
			}
		}
		block = nil
		rightCur = storage.NewPage(j.PageSize)
		return nil
	}

	for {
		rr, ok := j.Right.Remove()
		if !ok {
			break
		}
		if rightCur.Append(rr) {
			continue
		}
		block = append(block, rightCur)
		rightCur = storage.NewPage(j.PageSize)
		if !rightCur.Append(rr) {
			return errors.Errorf("record of %d bytes does not fit a fresh %d-byte page", len(rr.Bits), j.PageSize)
		}
		if len(block) >= blockPages {
			if err := probeBlock(); err != nil {
				return err
			}
		}
	}
	if err := probeBlock(); err != nil {
		return err
	}
	return spool.Close()
}
