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

// Package table implements the two on-disk table organizations: Heap, an
// append log over storage.PagedFile, and Sorted, a Heap kept in order by
// an OrderSpec so its GetNextMatching can binary-search instead of scan.
package table

import (
	"github.com/pkg/errors"

	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/storage"
)

// Heap is an append-only table: records are written in arrival order,
// never re-sorted or compacted in place.
type Heap struct {
	pf     *storage.PagedFile
	schema *record.Schema

	// dirty is the in-memory tail page still accepting inserts; it has
	// not yet been written to pf.
	dirty *storage.Page

	// read cursor state, valid once MoveFirst has been called.
	readPageIdx int
	readPage    *storage.Page

	// needsFlush is set by MoveFirst and cleared the first time GetNext
	// actually touches pf, so the dirty tail page set by Insert is always
	// visible to a fresh read pass (spec.md §4.4: "any read operation
	// first flushes the dirty page").
	needsFlush bool
}

// CreateHeap makes a new, empty heap table backed by a fresh paged file
// at path.
func CreateHeap(path string, schema *record.Schema, pageSize int) (*Heap, error) {
	pf, err := storage.Create(path, pageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "creating heap table %s", path)
	}
	return &Heap{pf: pf, schema: schema, dirty: storage.NewPage(pageSize)}, nil
}

// OpenHeap reopens an existing heap table file for reading or further
// appends.
func OpenHeap(path string, schema *record.Schema, pageSize int) (*Heap, error) {
	pf, err := storage.Open(path, pageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "opening heap table %s", path)
	}
	return &Heap{pf: pf, schema: schema, dirty: storage.NewPage(pageSize)}, nil
}

// Schema returns the table's attribute schema.
func (h *Heap) Schema() *record.Schema { return h.schema }

// PagedFile exposes the underlying paged file for callers (table.Sorted,
// the sort-merge join path) that need direct page access.
func (h *Heap) PagedFile() *storage.PagedFile { return h.pf }

// Insert appends rec to the table, flushing the in-memory tail page to
// disk whenever it fills.
func (h *Heap) Insert(rec *record.Record) error {
	if h.dirty.Append(rec) {
		return nil
	}
	if _, err := h.pf.AppendPage(h.dirty); err != nil {
		return errors.Wrap(err, "flushing heap tail page")
	}
	h.dirty = storage.NewPage(h.pf.PageSize())
	if !h.dirty.Append(rec) {
		return errors.Errorf("record of %d bytes does not fit a fresh %d-byte page", len(rec.Bits), h.pf.PageSize())
	}
	return nil
}

// Flush writes the in-memory tail page to disk if it holds any records.
// Called before closing, and before any reader that must see everything
// inserted so far.
func (h *Heap) Flush() error {
	if h.dirty.Empty() {
		return nil
	}
	if _, err := h.pf.AppendPage(h.dirty); err != nil {
		return errors.Wrap(err, "flushing heap tail page")
	}
	h.dirty = storage.NewPage(h.pf.PageSize())
	return nil
}

// Close flushes any buffered tail page and closes the underlying file.
func (h *Heap) Close() error {
	if err := h.Flush(); err != nil {
		return err
	}
	return h.pf.Close()
}

// MoveFirst resets the sequential read cursor to the beginning of the
// table. Per spec.md §4.4, the dirty in-memory tail page is flushed to
// disk before the next GetNext reads anything, so a MoveFirst always
// sees every record Insert has buffered so far.
func (h *Heap) MoveFirst() {
	h.readPageIdx = 0
	h.readPage = nil
	h.needsFlush = true
}

// GetNext returns the next record in the table in on-disk order, or
// ok=false once the table is exhausted. MoveFirst must be called before
// the first GetNext.
func (h *Heap) GetNext() (rec *record.Record, ok bool, err error) {
	if h.needsFlush {
		if err := h.Flush(); err != nil {
			return nil, false, err
		}
		h.needsFlush = false
	}
	for {
		if h.readPage == nil {
			if h.readPageIdx >= h.pf.PageCount() {
				return nil, false, nil
			}
			p, err := h.pf.GetPage(h.readPageIdx)
			if err != nil {
				return nil, false, errors.Wrap(err, "reading heap page")
			}
			h.readPage = p
			h.readPageIdx++
		}
		if rec, ok := h.readPage.GetFirst(); ok {
			return rec, true, nil
		}
		h.readPage = nil
	}
}

// GetNextMatching scans forward from the current cursor position,
// returning the next record satisfying cnf: a naive linear scan, with no
// index support for Heap.
func (h *Heap) GetNextMatching(cnf predicate.CNF) (*record.Record, bool, error) {
	for {
		rec, ok, err := h.GetNext()
		if err != nil || !ok {
			return nil, ok, err
		}
		if cnf.Eval(rec, rec) {
			return rec, true, nil
		}
	}
}
