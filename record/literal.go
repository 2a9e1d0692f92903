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

// LiteralField is one resolved (type, text) value to embed in a literal
// record built by NewLiteral.
type LiteralField struct {
	Type Type
	Text string
}

// NewLiteral builds a private single-or-multi-attribute record whose
// offset table addresses each supplied value by the same column index
// used on the opposing side of a comparison. Indices not present in
// fields are filled with a zero-valued Int placeholder so the
// offset table for the real indices lays out identically to a genuine
// table record of width n; callers must never read a placeholder index.
func NewLiteral(n int, fields map[int]LiteralField) (*Record, error) {
	attrs := make([]Attribute, n)
	vals := make([]string, n)
	for i := 0; i < n; i++ {
		if f, ok := fields[i]; ok {
			attrs[i] = Attribute{Name: "_lit", Type: f.Type}
			vals[i] = f.Text
		} else {
			attrs[i] = Attribute{Name: "_pad", Type: Int}
			vals[i] = "0"
		}
	}
	return Compose(&Schema{RelName: "_literal", Attrs: attrs}, vals)
}
