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

// Package storage implements the fixed-size Page and the append/random-read
// PagedFile built on top of it.
package storage

import (
	"encoding/binary"

	"github.com/neerajrao/microdb/record"
)

const headerWidth = 4

// Page is a fixed-size buffer holding a sequence of records plus a header
// counting records and remaining free space. Record bodies are packed
// forward from just after the count header; a slot table of per-record
// byte offsets is packed backward from the end of the buffer, slotted-page
// style, so binary search (table.Sorted) can address any record in the
// page directly without scanning.
type Page struct {
	size int
	buf  []byte
	// readCursor is the number of records already consumed by GetFirst;
	// it is in-memory iteration state, not part of the serialized form.
	readCursor int
}

// NewPage allocates an empty page of the given size.
func NewPage(size int) *Page {
	return &Page{size: size, buf: make([]byte, size)}
}

func (p *Page) count() int {
	return int(binary.LittleEndian.Uint32(p.buf[0:headerWidth]))
}

func (p *Page) setCount(n int) {
	binary.LittleEndian.PutUint32(p.buf[0:headerWidth], uint32(n))
}

func (p *Page) slotOffset(i int) int {
	return int(binary.LittleEndian.Uint32(p.buf[p.size-headerWidth*(i+1):]))
}

func (p *Page) payloadEnd() int {
	n := p.count()
	if n == 0 {
		return headerWidth
	}
	last := p.slotOffset(n - 1)
	// the record at the highest payload offset is not necessarily the last
	// one appended in position, but append always grows payloadEnd, so the
	// most recently written slot holds the current frontier.
	return last + recordLen(p.buf, last)
}

func recordLen(buf []byte, off int) int {
	return int(binary.LittleEndian.Uint32(buf[off:]))
}

// Count returns the number of records currently stored in the page.
func (p *Page) Count() int {
	return p.count()
}

// Empty reports whether the page holds no records.
func (p *Page) Empty() bool {
	return p.count() == 0
}

// FreeSpace returns the number of bytes still available for a new record
// plus its slot entry.
func (p *Page) FreeSpace() int {
	slotAreaStart := p.size - headerWidth*p.count()
	return slotAreaStart - p.payloadEnd()
}

// Append tries to add rec to the page. ok is false, and rec is not
// consumed, if the page lacks room for the record plus its slot entry.
func (p *Page) Append(rec *record.Record) (ok bool) {
	need := len(rec.Bits) + headerWidth
	if need > p.FreeSpace() {
		return false
	}

	start := p.payloadEnd()
	copy(p.buf[start:start+len(rec.Bits)], rec.Bits)

	n := p.count()
	binary.LittleEndian.PutUint32(p.buf[p.size-headerWidth*(n+1):], uint32(start))
	p.setCount(n + 1)

	return true
}

// GetFirst destructively returns the next unread record in the page, in
// append order, or ok=false once the page is exhausted.
func (p *Page) GetFirst() (rec *record.Record, ok bool) {
	if p.readCursor >= p.count() {
		return nil, false
	}
	off := p.slotOffset(p.readCursor)
	length := recordLen(p.buf, off)
	bits := make([]byte, length)
	copy(bits, p.buf[off:off+length])
	p.readCursor++
	return record.New(bits), true
}

// At returns the record at slot index i without disturbing the read
// cursor, used by the Sorted table's binary search over a page.
func (p *Page) At(i int) *record.Record {
	off := p.slotOffset(i)
	length := recordLen(p.buf, off)
	bits := make([]byte, length)
	copy(bits, p.buf[off:off+length])
	return record.New(bits)
}

// ResetCursor rewinds the destructive iterator, letting a page already in
// memory be rescanned (used by the block-nested-loop join's inner spool).
func (p *Page) ResetCursor() {
	p.readCursor = 0
}

// Serialize returns the page's raw backing bytes for writing to a
// PagedFile.
func (p *Page) Serialize() []byte {
	return p.buf
}

// DeserializePage wraps raw bytes, previously produced by Serialize, back
// into a Page ready for reading.
func DeserializePage(buf []byte) *Page {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	return &Page{size: len(cp), buf: cp}
}
