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

package storage

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	kind "gopkg.in/src-d/go-errors.v1"
)

// ErrPageIndex is raised when GetPage is asked for an index beyond
// PageCount.
var ErrPageIndex = kind.NewKind("page index %d out of range (have %d pages)")

// PagedFile is an append/random-read-by-page file with a fixed-size page
// unit. Page 0 is reserved metadata, written on Close, carrying the record
// page count.
//
// Invariant: once a page has been appended at index k, GetPage(k) is
// stable for the remainder of the file's life — PagedFile never
// compacts or relocates a previously appended page.
type PagedFile struct {
	f         *os.File
	pageSize  int
	pageCount int
}

// Create makes a new paged file at path, reserving page 0 for metadata.
func Create(path string, pageSize int) (*PagedFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating paged file %s", path)
	}
	pf := &PagedFile{f: f, pageSize: pageSize}
	if _, err := f.Write(make([]byte, pageSize)); err != nil {
		return nil, errors.Wrapf(err, "reserving metadata page in %s", path)
	}
	return pf, nil
}

// Open reopens an existing paged file, reading its metadata page to
// recover the record page count.
func Open(path string, pageSize int) (*PagedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening paged file %s", path)
	}
	meta := make([]byte, pageSize)
	if _, err := f.ReadAt(meta, 0); err != nil {
		return nil, errors.Wrapf(err, "reading metadata page of %s", path)
	}
	count := int(binary.LittleEndian.Uint32(meta[0:4]))
	return &PagedFile{f: f, pageSize: pageSize, pageCount: count}, nil
}

// AppendPage writes page as the next record page and returns its index.
func (pf *PagedFile) AppendPage(p *Page) (int, error) {
	idx := pf.pageCount
	off := int64(idx+1) * int64(pf.pageSize)
	if _, err := pf.f.WriteAt(p.Serialize(), off); err != nil {
		return 0, errors.Wrapf(err, "appending page %d", idx)
	}
	pf.pageCount++
	return idx, nil
}

// GetPage reads the page at record-page index idx (0-based, excluding the
// reserved metadata page).
func (pf *PagedFile) GetPage(idx int) (*Page, error) {
	if idx < 0 || idx >= pf.pageCount {
		return nil, ErrPageIndex.New(idx, pf.pageCount)
	}
	buf := make([]byte, pf.pageSize)
	off := int64(idx+1) * int64(pf.pageSize)
	if _, err := pf.f.ReadAt(buf, off); err != nil {
		return nil, errors.Wrapf(err, "reading page %d", idx)
	}
	return DeserializePage(buf), nil
}

// PageCount returns the number of record pages (excluding the metadata
// page).
func (pf *PagedFile) PageCount() int {
	return pf.pageCount
}

// PageSize returns the fixed page size this file was created with.
func (pf *PagedFile) PageSize() int {
	return pf.pageSize
}

// Close writes the final record page count to the metadata page and
// closes the underlying file.
func (pf *PagedFile) Close() error {
	meta := make([]byte, pf.pageSize)
	binary.LittleEndian.PutUint32(meta[0:4], uint32(pf.pageCount))
	if _, err := pf.f.WriteAt(meta, 0); err != nil {
		return errors.Wrap(err, "writing metadata page on close")
	}
	return pf.f.Close()
}
