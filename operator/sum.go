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
	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/pipe"
	"github.com/neerajrao/microdb/record"
)

// Sum evaluates Expr against every input record and emits a single output
// record carrying the running total. With no input records at all, Sum
// emits no output record; callers that need a guaranteed row (e.g.
// SELECT SUM(x) with no GROUP BY over an empty table) should special-case
// an empty result themselves.
type Sum struct {
	In       *pipe.Pipe
	Out      *pipe.Pipe
	Expr     *parsetree.ArithExpr
	Schema   *record.Schema
	OutAttr  string // attribute name for the single output column
}

func (s *Sum) Run() error {
	span := startSpan("operator.Sum")
	defer span.Finish()
	defer s.Out.ShutDown()

	var total float64
	var isInt bool = true
	var any bool
	for {
		rec, ok := s.In.Remove()
		if !ok {
			break
		}
		v, i, err := evalArith(s.Expr, s.Schema, rec)
		if err != nil {
			return err
		}
		total += v
		isInt = isInt && i
		any = true
	}
	if !any {
		return nil
	}

	outSchema := record.NewSchema("", []record.Attribute{{Name: s.OutAttr, Type: typeOf(isInt)}})
	outRec, err := record.Compose(outSchema, []string{formatNumeric(total, isInt)})
	if err != nil {
		return err
	}
	s.Out.Insert(outRec)
	return nil
}

func typeOf(isInt bool) record.Type {
	if isInt {
		return record.Int
	}
	return record.Double
}
