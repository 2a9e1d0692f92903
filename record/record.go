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

package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/src-d/go-errors.v1"
)

// wordSize is the width, in bytes, of the header's length/offset words.
// The on-disk layout is little-endian regardless of host architecture.
const wordSize = 4

// ErrFieldCount is returned when a text line does not supply exactly as
// many fields as the schema has attributes.
var ErrFieldCount = errors.NewKind("expected %d fields, got %d")

// Record is a self-describing binary tuple: a length-prefixed header of
// per-attribute byte offsets followed by the packed attribute values. Bits
// is the full serialized form and is what gets written to a Page.
//
// Records are value-like: a Record handed to a Pipe.Insert is considered
// consumed by the caller (the producer must not read it again) rather
// than handed around by raw pointer with shared mutable ownership.
type Record struct {
	Bits []byte
}

// New wraps an already-serialized buffer as a Record without copying it.
func New(bits []byte) *Record {
	return &Record{Bits: bits}
}

// Compose builds a Record from schema-ordered text fields, the Go
// equivalent of the original ComposeRecord/SuckNextRecord pair once the
// external text loader has already split a line on its delimiter.
func Compose(schema *Schema, fields []string) (*Record, error) {
	if len(fields) != schema.Len() {
		return nil, ErrFieldCount.New(schema.Len(), len(fields))
	}

	n := schema.Len()
	header := make([]int32, n+1)
	// worst case: every field doubles in width to NUL-terminate + pad.
	payload := make([]byte, 0, 256)
	cursor := wordSize * (n + 1)

	for i, a := range schema.Attrs {
		switch a.Type {
		case Int:
			header[i+1] = int32(cursor)
			v := cast.ToInt32(fields[i])
			buf := make([]byte, wordSize)
			binary.LittleEndian.PutUint32(buf, uint32(v))
			payload = append(payload, buf...)
			cursor += wordSize

		case Double:
			for cursor%8 != 0 {
				payload = append(payload, 0, 0, 0, 0)
				cursor += wordSize
			}
			header[i+1] = int32(cursor)
			v := cast.ToFloat64(fields[i])
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			payload = append(payload, buf...)
			cursor += 8

		case String:
			header[i+1] = int32(cursor)
			s := append([]byte(fields[i]), 0)
			for len(s)%wordSize != 0 {
				s = append(s, 0)
			}
			payload = append(payload, s...)
			cursor += len(s)

		default:
			return nil, ErrUnknownType.New(a.Type.String())
		}
	}

	total := cursor
	header[0] = int32(total)

	bits := make([]byte, total)
	for i, h := range header {
		binary.LittleEndian.PutUint32(bits[i*wordSize:], uint32(h))
	}
	copy(bits[wordSize*(n+1):], payload)

	return &Record{Bits: bits}, nil
}

// ComposeLine splits a delimited text line and composes it against schema;
// sep is typically "|" to match the original flat-file loader's format.
func ComposeLine(schema *Schema, line, sep string) (*Record, error) {
	return Compose(schema, strings.Split(line, sep))
}

// TotalLen is the total byte length of the record, i.e. the first header
// word.
func (r *Record) TotalLen() int {
	return int(binary.LittleEndian.Uint32(r.Bits[0:wordSize]))
}

// Offset returns the byte offset, within Bits, at which attribute i's
// value begins.
func (r *Record) Offset(i int) int {
	return int(binary.LittleEndian.Uint32(r.Bits[(i+1)*wordSize:]))
}

// NumAttributes recovers the attribute count purely from the offset
// table, the way the original's GetNumAtts does: the second header word
// holds the byte offset of the first attribute value, and everything
// before that offset is the (numAtts+1) header words, plus the one zero
// word Compose inserts to align a leading Double (a real offset is never
// zero, so that word is told apart from the last header word).
func (r *Record) NumAttributes() int {
	n := r.Offset(0)/wordSize - 1
	if n > 0 && binary.LittleEndian.Uint32(r.Bits[n*wordSize:]) == 0 {
		n--
	}
	return n
}

func (r *Record) fieldEnd(i, numAtts int) int {
	if i == numAtts-1 {
		return r.TotalLen()
	}
	return r.Offset(i + 1)
}

// Int reads attribute i as an Int. Caller is responsible for matching it
// against the schema's declared type.
func (r *Record) Int(i int) int32 {
	off := r.Offset(i)
	return int32(binary.LittleEndian.Uint32(r.Bits[off:]))
}

// Double reads attribute i as a Double.
func (r *Record) Double(i int) float64 {
	off := r.Offset(i)
	bits := binary.LittleEndian.Uint64(r.Bits[off:])
	return math.Float64frombits(bits)
}

// Str reads attribute i as a NUL-terminated String.
func (r *Record) Str(i int) string {
	off := r.Offset(i)
	end := off
	for end < len(r.Bits) && r.Bits[end] != 0 {
		end++
	}
	return string(r.Bits[off:end])
}

// Copy returns a deep copy of the record.
func (r *Record) Copy() *Record {
	bits := make([]byte, len(r.Bits))
	copy(bits, r.Bits)
	return &Record{Bits: bits}
}

// Project rewrites the record to retain only attsToKeep, in that order,
// recomputing the offset table. numAttsNow is the number of attributes in
// the record as it stands today (not necessarily the projected schema's
// length), matching the original Record::Project's contract.
func (r *Record) Project(attsToKeep []int, numAttsNow int) *Record {
	k := len(attsToKeep)
	total := wordSize * (k + 1)
	lens := make([]int, k)
	for i, att := range attsToKeep {
		lens[i] = r.fieldEnd(att, numAttsNow) - r.Offset(att)
		total += lens[i]
	}

	bits := make([]byte, total)
	binary.LittleEndian.PutUint32(bits[0:], uint32(total))

	cur := wordSize * (k + 1)
	for i, att := range attsToKeep {
		binary.LittleEndian.PutUint32(bits[(i+1)*wordSize:], uint32(cur))
		src := r.Offset(att)
		copy(bits[cur:cur+lens[i]], r.Bits[src:src+lens[i]])
		cur += lens[i]
	}

	return &Record{Bits: bits}
}

// Merge combines left and right into a single record retaining the
// attributes named by attsToKeep, where indices before startOfRight refer
// to left's local attribute positions and indices at or past startOfRight
// refer to right's local attribute positions. operator.Join uses this to
// concatenate a matched pair, letting a caller suppress duplicated
// equijoin columns by omitting them from attsToKeep — microdb's default
// choice is to emit all attributes (see IdentityMergeSpec).
func Merge(left, right *Record, numAttsLeft, numAttsRight int, attsToKeep []int, startOfRight int) *Record {
	if numAttsLeft == 0 {
		return right.Copy()
	}
	if numAttsRight == 0 {
		return left.Copy()
	}

	k := len(attsToKeep)
	total := wordSize * (k + 1)
	lens := make([]int, k)
	side := make([]*Record, k)
	numNow := numAttsLeft
	cur := left
	for i, att := range attsToKeep {
		if i == startOfRight {
			numNow = numAttsRight
			cur = right
		}
		lens[i] = cur.fieldEnd(att, numNow) - cur.Offset(att)
		side[i] = cur
		total += lens[i]
	}

	bits := make([]byte, total)
	binary.LittleEndian.PutUint32(bits[0:], uint32(total))

	pos := wordSize * (k + 1)
	for i, att := range attsToKeep {
		binary.LittleEndian.PutUint32(bits[(i+1)*wordSize:], uint32(pos))
		src := side[i].Offset(att)
		copy(bits[pos:pos+lens[i]], side[i].Bits[src:src+lens[i]])
		pos += lens[i]
	}

	return &Record{Bits: bits}
}

// IdentityMergeSpec builds the (attsToKeep, startOfRight) pair that keeps
// every attribute from both sides in order — the "emit all" choice
// microdb makes for Join.
func IdentityMergeSpec(numAttsLeft, numAttsRight int) (attsToKeep []int, startOfRight int) {
	attsToKeep = make([]int, 0, numAttsLeft+numAttsRight)
	for i := 0; i < numAttsLeft; i++ {
		attsToKeep = append(attsToKeep, i)
	}
	startOfRight = numAttsLeft
	for i := 0; i < numAttsRight; i++ {
		attsToKeep = append(attsToKeep, i)
	}
	return attsToKeep, startOfRight
}

// Render formats the record as "name: [value], name: [value], ..." against
// schema, matching the original Record::Print/PrintToFile output shape
// used by operator.WriteOut.
func (r *Record) Render(schema *Schema) string {
	var b strings.Builder
	for i, a := range schema.Attrs {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: [", a.Name)
		switch a.Type {
		case Int:
			fmt.Fprintf(&b, "%d", r.Int(i))
		case Double:
			fmt.Fprintf(&b, "%g", r.Double(i))
		case String:
			b.WriteString(r.Str(i))
		}
		b.WriteString("]")
	}
	return b.String()
}
