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

import "github.com/neerajrao/microdb/pipe"

// Project drops every attribute not in Keep, in Keep's order.
type Project struct {
	In   *pipe.Pipe
	Out  *pipe.Pipe
	Keep []int
	// NumAttrs is the input schema's attribute count, needed by
	// record.Record.Project to locate the field-end boundary.
	NumAttrs int
}

func (p *Project) Run() error {
	span := startSpan("operator.Project")
	defer span.Finish()
	defer p.Out.ShutDown()

	for {
		rec, ok := p.In.Remove()
		if !ok {
			return nil
		}
		p.Out.Insert(rec.Project(p.Keep, p.NumAttrs))
	}
}
