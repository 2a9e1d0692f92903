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

// Schema is an ordered, named sequence of attributes. It is the only thing
// a Record needs in order to be interpreted.
type Schema struct {
	RelName string
	Attrs   []Attribute
}

// NewSchema builds a Schema from a relation name and attribute list, as
// supplied by the catalog reader.
func NewSchema(relName string, attrs []Attribute) *Schema {
	return &Schema{RelName: relName, Attrs: append([]Attribute(nil), attrs...)}
}

// Len returns the number of attributes.
func (s *Schema) Len() int {
	return len(s.Attrs)
}

// IndexOf returns the 0-based index of the named attribute, optionally
// qualified as "rel.attr". Unqualified names are matched against the bare
// attribute name; qualified names additionally require RelName to match.
func (s *Schema) IndexOf(name string) (int, bool) {
	rel, attr := splitQualified(name)
	for i, a := range s.Attrs {
		if a.Name == attr && (rel == "" || rel == s.RelName) {
			return i, true
		}
	}
	return -1, false
}

// TypeOf returns the type of the named attribute.
func (s *Schema) TypeOf(name string) (Type, bool) {
	i, ok := s.IndexOf(name)
	if !ok {
		return 0, false
	}
	return s.Attrs[i].Type, true
}

// Merge concatenates this schema's attributes with other's, producing the
// schema of a joined or composed record. The logical name of the result is
// this schema's name: a join or composed subtree is addressable under its
// left relation's name.
func (s *Schema) Merge(other *Schema) *Schema {
	merged := make([]Attribute, 0, len(s.Attrs)+len(other.Attrs))
	merged = append(merged, s.Attrs...)
	merged = append(merged, other.Attrs...)
	return &Schema{RelName: s.RelName, Attrs: merged}
}

// Project returns the sub-schema retaining only the attributes at the
// given indices, in that order.
func (s *Schema) Project(attsToKeep []int) *Schema {
	attrs := make([]Attribute, len(attsToKeep))
	for i, idx := range attsToKeep {
		attrs[i] = s.Attrs[idx]
	}
	return &Schema{RelName: s.RelName, Attrs: attrs}
}

func splitQualified(name string) (rel, attr string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return "", name
}
