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

// Package record implements the self-describing binary tuple format that
// every other subsystem in microdb builds on: fixed-width typed values
// packed behind an offset table, so that a record can be read back without
// a schema lookup beyond the one that produced it.
package record

import "gopkg.in/src-d/go-errors.v1"

// Type is one of the three scalar types microdb understands.
type Type int

const (
	// Int is a 32-bit signed integer.
	Int Type = iota
	// Double is an IEEE-754 double.
	Double
	// String is a NUL-terminated byte sequence.
	String
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case Int:
		return "Int"
	case Double:
		return "Double"
	case String:
		return "String"
	default:
		return "Unknown"
	}
}

// ErrUnknownType is returned when a type tag outside {Int, Double, String}
// is encountered, e.g. while reading a .schema file or a CREATE TABLE
// attribute list.
var ErrUnknownType = errors.NewKind("unknown attribute type: %s")

// ParseType converts the textual spelling used in .schema files and
// CREATE TABLE attribute lists back into a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "Int":
		return Int, nil
	case "Double":
		return Double, nil
	case "String":
		return String, nil
	default:
		return 0, ErrUnknownType.New(s)
	}
}

// Attribute names and types one field of a Schema.
type Attribute struct {
	Name string
	Type Type
}
