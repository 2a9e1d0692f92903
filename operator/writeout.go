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
	"io"

	"github.com/neerajrao/microdb/pipe"
	"github.com/neerajrao/microdb/record"
)

// WriteOut is the query pipeline's terminal node: it renders every record
// arriving on In as a line of text and writes it to Sink. WriteOut has no
// output pipe; it is always the last stage of a plan.
type WriteOut struct {
	In     *pipe.Pipe
	Sink   io.Writer
	Schema *record.Schema
}

func (w *WriteOut) Run() error {
	span := startSpan("operator.WriteOut")
	defer span.Finish()

	for {
		rec, ok := w.In.Remove()
		if !ok {
			return nil
		}
		if _, err := io.WriteString(w.Sink, rec.Render(w.Schema)+"\n"); err != nil {
			return err
		}
	}
}
