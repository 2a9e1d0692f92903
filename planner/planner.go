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

// Package planner builds a left-deep physical plan tree from a parsed
// query and a Statistics snapshot. It walks the WHERE clause's AndList as
// a candidate pool, greedily picking the conjunct with the smallest
// estimated result cardinality at each step (spec.md §4.7), and emits
// Scan/SelectFile/SelectPipe/Join operators wired together by pipes, then
// tops the tree with the Project/Sum/GroupBy node the select list/
// aggregate/group-by clause calls for, plus a Distinct node if requested.
package planner

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	errkind "gopkg.in/src-d/go-errors.v1"

	"github.com/neerajrao/microdb/operator"
	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/pipe"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/sortengine"
	"github.com/neerajrao/microdb/stats"
	"github.com/neerajrao/microdb/table"
)

// ErrUnknownTable is raised when a FROM-clause entry names a relation the
// Catalog doesn't have.
var ErrUnknownTable = errkind.NewKind("unknown table: %s")

// ErrMultiRelationPredicate is raised when a WHERE conjunct references
// more than two relations; the greedy single-conjunct algorithm in
// spec.md §4.7 only ever joins two subtrees per step.
var ErrMultiRelationPredicate = errkind.NewKind("predicate spans more than two relations, cannot plan: %v")

// ErrNoAttributeReference is raised when a WHERE conjunct contains no
// attribute reference at all (every operand a literal), which can't be
// resolved against any relation.
var ErrNoAttributeReference = errkind.NewKind("predicate has no attribute reference")

// Relation is what the Catalog hands the planner for one base table: its
// schema plus whichever storage handle (Heap xor Sorted) backs it.
type Relation struct {
	Schema *record.Schema
	Heap   *table.Heap
	Sorted *table.Sorted
}

// Catalog opens base relations by name for the planner. The engine
// package's table registry implements this.
type Catalog interface {
	Open(name string) (*Relation, error)
}

// Config carries the resource knobs the planner threads into every
// operator and sort engine it builds.
type Config struct {
	PageSize      int
	PipeCapacity  int
	SortRunLen    int // TPMMS phase-1 run length, in pages
	BlockPages    int // B: right-side block size for the BNL join path
	ScratchDir    string
	Logger        *logrus.Logger
}

// Plan is the fully wired operator tree, ready to run: every operator's
// goroutine still needs to be started (Run), and Out is the plan's final
// output pipe, already typed by Schema.
type Plan struct {
	Ops    []operator.Operator
	Out    *pipe.Pipe
	Schema *record.Schema
}

// Run launches every operator in the plan on its own goroutine and waits
// for all of them to finish, aggregating whatever errors occur — the
// plan's root pipe must be drained concurrently by the caller (e.g. via
// Execute, or a caller pulling from Out directly) or the tree will
// deadlock on backpressure, exactly as spec.md §5 describes.
func (p *Plan) Run() error {
	errCh := make(chan error, len(p.Ops))
	for _, op := range p.Ops {
		op := op
		go func() { errCh <- op.Run() }()
	}
	var result error
	for range p.Ops {
		if err := <-errCh; err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Execute appends a terminal operator.WriteOut reading Out and writing to
// sink, then runs the whole plan to completion.
func (p *Plan) Execute(sink writer) error {
	w := &operator.WriteOut{In: p.Out, Sink: sink, Schema: p.Schema}
	p.Ops = append(p.Ops, w)
	return p.Run()
}

// writer is the subset of io.Writer WriteOut needs; named locally so this
// file doesn't have to import io just for one parameter type.
type writer interface {
	Write(p []byte) (n int, err error)
}

// entry tracks one active subtree during planning: a relation (or a
// merged group of relations, addressable under the left relation's
// name once a join has committed).
type entry struct {
	name   string
	schema *record.Schema
	out    *pipe.Pipe // nil until this subtree has an operator producing output
	rel    *Relation  // the original base-table handle; valid only while out == nil
}

// builder holds the mutable planning state threaded through one Build
// call.
type builder struct {
	cfg     Config
	catalog Catalog
	engine  *sortengine.Engine
	entries []*entry
	ops     []operator.Operator
	stats   *stats.Statistics
}

// Build plans query against catalog, using st as the (already-loaded)
// cardinality estimates. st is never mutated; Build works against its own
// clone.
func Build(query *parsetree.Query, catalog Catalog, st *stats.Statistics, cfg Config) (*Plan, error) {
	if cfg.PipeCapacity <= 0 {
		cfg.PipeCapacity = pipe.DefaultCapacity
	}
	b := &builder{
		cfg:     cfg,
		catalog: catalog,
		engine:  &sortengine.Engine{PageSize: cfg.PageSize, RunLen: cfg.SortRunLen, ScratchDir: cfg.ScratchDir, Logger: cfg.Logger},
		stats:   st.Clone(),
	}

	if len(query.Tables) == 0 {
		return nil, errors.New("planner: query has no FROM-clause tables")
	}
	for _, t := range query.Tables {
		if err := b.addTable(t); err != nil {
			return nil, err
		}
	}

	pool := conjunctPool(query.Where)
	for len(pool) > 0 {
		idx, err := b.pickNext(pool)
		if err != nil {
			return nil, err
		}
		or := pool[idx]
		pool = append(pool[:idx], pool[idx+1:]...)
		if err := b.apply(or); err != nil {
			return nil, err
		}
	}

	if err := b.crossJoinRemaining(); err != nil {
		return nil, err
	}

	final := b.entries[0]
	if final.out == nil {
		b.fullScan(final)
	}

	return b.topPlan(query, final)
}

// addTable resolves one FROM-clause table against the catalog and seeds
// an entry for it, applying the alias (if any) both to the entry's
// addressable name and to the planning Statistics.
func (b *builder) addTable(t parsetree.TableRef) error {
	rel, err := b.catalog.Open(t.Name)
	if err != nil {
		return ErrUnknownTable.Wrap(err, t.Name)
	}
	name := t.Name
	if t.Alias != "" {
		name = t.Alias
		b.stats.Alias(name, t.Name)
	}
	schema := record.NewSchema(name, rel.Schema.Attrs)
	b.entries = append(b.entries, &entry{name: name, schema: schema, rel: rel})
	return nil
}

// conjunctPool flattens a WHERE clause's AndList into the planner's
// candidate pool: every OrList is initially a candidate, picked in
// estimated-cardinality order rather than source order.
func conjunctPool(where *parsetree.AndList) []parsetree.OrList {
	if where == nil {
		return nil
	}
	return append([]parsetree.OrList(nil), where.Ors...)
}

// splitQualified mirrors record.Schema's own (unexported) qualifier
// split, duplicated here since the planner needs it before it has a
// schema to ask.
func splitQualified(name string) (rel, attr string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// canonicalize rewrites a possibly relation-qualified attribute
// reference so its qualifier names the entry that currently owns the
// attribute, chasing the Statistics alias map the way a committed
// equijoin's "b.y now means a.x" rule requires.
func (b *builder) canonicalize(name string) string {
	rel, attr := splitQualified(name)
	if rel == "" {
		return name
	}
	canon := b.stats.Resolve(rel)
	if canon == rel {
		return name
	}
	return canon + "." + attr
}

// resolveEntry finds which active entry owns the named attribute,
// returning its bare (unqualified) attribute name too.
func (b *builder) resolveEntry(name string) (*entry, string, bool) {
	name = b.canonicalize(name)
	for _, e := range b.entries {
		if idx, ok := e.schema.IndexOf(name); ok {
			return e, e.schema.Attrs[idx].Name, true
		}
	}
	return nil, "", false
}

// orRefs returns the distinct entries an OrList's attribute operands
// resolve to.
func (b *builder) orRefs(or parsetree.OrList) ([]*entry, error) {
	seen := map[*entry]bool{}
	var order []*entry
	for _, cmp := range or.Comparisons {
		for _, op := range [2]parsetree.Operand{cmp.Left, cmp.Right} {
			if op.Kind != parsetree.OperandAttr {
				continue
			}
			e, _, ok := b.resolveEntry(op.Name)
			if !ok {
				return nil, ErrUnknownTable.New(op.Name)
			}
			if !seen[e] {
				seen[e] = true
				order = append(order, e)
			}
		}
	}
	if len(order) == 0 {
		return nil, ErrNoAttributeReference.New()
	}
	return order, nil
}

// equijoinShape reports whether or reduces to exactly one EQ comparison
// between one attribute of each of the two given entries, returning the
// (entry, bare attribute name) pair on each side in left/right order
// matching entries[0]/entries[1].
func (b *builder) equijoinShape(or parsetree.OrList, refs []*entry) (leftAttr, rightAttr string, ok bool) {
	if len(or.Comparisons) != 1 || len(refs) != 2 {
		return "", "", false
	}
	cmp := or.Comparisons[0]
	if cmp.Op != parsetree.EQ || cmp.Left.Kind != parsetree.OperandAttr || cmp.Right.Kind != parsetree.OperandAttr {
		return "", "", false
	}
	le, lAttr, _ := b.resolveEntry(cmp.Left.Name)
	re, rAttr, _ := b.resolveEntry(cmp.Right.Name)
	if le == refs[0] && re == refs[1] {
		return lAttr, rAttr, true
	}
	if le == refs[1] && re == refs[0] {
		return rAttr, lAttr, true
	}
	return "", "", false
}

// attrLiteralComparison reports whether cmp is an (attribute vs literal)
// comparison, normalizing to "attribute <op> literal" order (flipping a
// reversed LT/GT) so the caller can treat the result uniformly.
func attrLiteralComparison(cmp parsetree.ComparisonOp) (attr string, op parsetree.CompOp, ok bool) {
	if cmp.Left.Kind == parsetree.OperandAttr && cmp.Right.Kind == parsetree.OperandLiteral {
		return cmp.Left.Name, cmp.Op, true
	}
	if cmp.Right.Kind == parsetree.OperandAttr && cmp.Left.Kind == parsetree.OperandLiteral {
		op := cmp.Op
		switch op {
		case parsetree.LT:
			op = parsetree.GT
		case parsetree.GT:
			op = parsetree.LT
		}
		return cmp.Right.Name, op, true
	}
	return "", 0, false
}

// oneThirdHeuristic mirrors stats' unexported constant of the same name
// for estimates the planner computes directly (a cross predicate between
// two relations that isn't a clean equijoin has no per-attribute
// distinct-count to drive a sharper guess).
const oneThirdHeuristic = 1.0 / 3.0

// estimate returns or's estimated result cardinality given the entries it
// references, without mutating b.stats.
func (b *builder) estimate(or parsetree.OrList, refs []*entry) (float64, error) {
	switch len(refs) {
	case 1:
		return b.estimateSelection(refs[0], or), nil
	case 2:
		if lAttr, rAttr, ok := b.equijoinShape(or, refs); ok {
			return b.stats.EstimateEquijoin(refs[0].name, lAttr, refs[1].name, rAttr), nil
		}
		lt, _ := b.stats.TupleCount(refs[0].name)
		rt, _ := b.stats.TupleCount(refs[1].name)
		return float64(lt) * float64(rt) * oneThirdHeuristic, nil
	default:
		return 0, ErrMultiRelationPredicate.New(refs)
	}
}

// estimateSelection estimates or's result size when every comparison is
// against attributes of a single relation e, combining independent
// per-comparison selectivities as a disjunction (spec.md §4.8's OR rule).
func (b *builder) estimateSelection(e *entry, or parsetree.OrList) float64 {
	tuples, ok := b.stats.TupleCount(e.name)
	if !ok {
		return 0
	}
	var sels []float64
	for _, cmp := range or.Comparisons {
		attr, op, ok := attrLiteralComparison(cmp)
		if !ok {
			sels = append(sels, 1.0)
			continue
		}
		sels = append(sels, b.stats.Selectivity(e.name, attr, op))
	}
	return float64(tuples) * stats.EstimateOrSelectivity(sels)
}

// pickNext returns the pool index of the conjunct with the smallest
// estimated cardinality — the greedy core of spec.md §4.7.
func (b *builder) pickNext(pool []parsetree.OrList) (int, error) {
	best := -1
	var bestCost float64
	for i, or := range pool {
		refs, err := b.orRefs(or)
		if err != nil {
			return 0, err
		}
		cost, err := b.estimate(or, refs)
		if err != nil {
			return 0, err
		}
		if best == -1 || cost < bestCost {
			best, bestCost = i, cost
		}
	}
	return best, nil
}

// apply translates the picked conjunct into a plan-tree node and mutates
// b.stats to reflect having applied it.
func (b *builder) apply(or parsetree.OrList) error {
	refs, err := b.orRefs(or)
	if err != nil {
		return err
	}
	switch len(refs) {
	case 1:
		return b.applySelection(refs[0], or)
	case 2:
		return b.applyJoin(refs[0], refs[1], or)
	default:
		return ErrMultiRelationPredicate.New(refs)
	}
}

func (b *builder) applySelection(e *entry, or parsetree.OrList) error {
	cnf, err := predicate.FromSelection(wrapOr(or), e.schema)
	if err != nil {
		return errors.Wrapf(err, "building selection predicate on %s", e.name)
	}

	out := pipe.New(b.cfg.PipeCapacity)
	if e.out == nil {
		sf := &operator.SelectFile{CNF: cnf, Out: out}
		if e.rel.Sorted != nil {
			sf.Sorted = e.rel.Sorted
		} else {
			sf.Heap = e.rel.Heap
		}
		b.ops = append(b.ops, sf)
	} else {
		b.ops = append(b.ops, &operator.SelectPipe{In: e.out, CNF: cnf, Out: out})
	}
	e.out = out

	if len(or.Comparisons) == 1 {
		if attr, op, ok := attrLiteralComparison(or.Comparisons[0]); ok {
			b.stats = b.stats.Apply(e.name, attr, op)
			return nil
		}
	}
	b.stats.SetTupleCount(e.name, int64(b.estimateSelection(e, or)))
	return nil
}

func (b *builder) outputOf(e *entry) *pipe.Pipe {
	if e.out == nil {
		b.fullScan(e)
	}
	return e.out
}

// fullScan wires an unfiltered Scan reading e's base table, for a
// relation the greedy loop never pushed a selection down to.
func (b *builder) fullScan(e *entry) {
	out := pipe.New(b.cfg.PipeCapacity)
	var heap interface {
		MoveFirst()
		GetNext() (*record.Record, bool, error)
	}
	if e.rel.Sorted != nil {
		heap = e.rel.Sorted.BaseHeap()
	} else {
		heap = e.rel.Heap
	}
	b.ops = append(b.ops, &operator.Scan{Table: heap, Out: out})
	e.out = out
}

func (b *builder) applyJoin(left, right *entry, or parsetree.OrList) error {
	cnf, err := predicate.FromJoin(wrapOr(or), left.schema, right.schema)
	if err != nil {
		return errors.Wrapf(err, "building join predicate between %s and %s", left.name, right.name)
	}

	leftIn := b.outputOf(left)
	rightIn := b.outputOf(right)
	out := pipe.New(b.cfg.PipeCapacity)
	b.ops = append(b.ops, &operator.Join{
		Left: leftIn, Right: rightIn, Out: out, CNF: cnf,
		NumAttsLeft: left.schema.Len(), NumAttsRight: right.schema.Len(),
		Engine: b.engine, PageSize: b.cfg.PageSize, ScratchDir: b.cfg.ScratchDir,
		BlockPages: b.cfg.BlockPages,
	})

	if lAttr, rAttr, ok := b.equijoinShape(or, []*entry{left, right}); ok {
		b.stats = b.stats.CommitEquijoin(left.name, lAttr, right.name, rAttr)
	} else {
		lt, _ := b.stats.TupleCount(left.name)
		rt, _ := b.stats.TupleCount(right.name)
		b.stats = b.stats.CommitCrossJoin(left.name, right.name, float64(lt)*float64(rt)*oneThirdHeuristic)
	}

	left.schema = left.schema.Merge(right.schema)
	left.out = out
	b.removeEntry(right)
	return nil
}

func (b *builder) removeEntry(target *entry) {
	for i, e := range b.entries {
		if e == target {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// crossJoinRemaining handles a FROM list with no WHERE predicate linking
// every table: once the candidate pool is empty, any entries still
// unmerged are combined pairwise with an always-true block-nested-loop
// join, the Cartesian-product completion a left-deep single-conjunct
// planner needs but spec.md §4.7's algorithm doesn't itself describe.
func (b *builder) crossJoinRemaining() error {
	for len(b.entries) > 1 {
		left, right := b.entries[0], b.entries[1]
		cnf := predicate.CNF{}
		leftIn := b.outputOf(left)
		rightIn := b.outputOf(right)
		out := pipe.New(b.cfg.PipeCapacity)
		b.ops = append(b.ops, &operator.Join{
			Left: leftIn, Right: rightIn, Out: out, CNF: cnf,
			NumAttsLeft: left.schema.Len(), NumAttsRight: right.schema.Len(),
			Engine: b.engine, PageSize: b.cfg.PageSize, ScratchDir: b.cfg.ScratchDir,
			BlockPages: b.cfg.BlockPages,
		})
		lt, _ := b.stats.TupleCount(left.name)
		rt, _ := b.stats.TupleCount(right.name)
		b.stats = b.stats.CommitCrossJoin(left.name, right.name, float64(lt)*float64(rt))
		left.schema = left.schema.Merge(right.schema)
		left.out = out
		b.removeEntry(right)
	}
	return nil
}

// topPlan builds the Project/Sum/GroupBy node the query's select list,
// aggregate, and group-by clause call for, above the fully joined/
// filtered final subtree, then wraps it in Distinct if requested.
func (b *builder) topPlan(query *parsetree.Query, final *entry) (*Plan, error) {
	schema := final.schema
	out := final.out

	switch {
	case len(query.GroupBy) > 0:
		groupOrder, err := predicate.NewOrderSpec(schema, query.GroupBy)
		if err != nil {
			return nil, err
		}
		groupAttrs := make([]int, len(query.GroupBy))
		outAttrs := []record.Attribute{}
		if query.AggExpr != nil {
			t, err := operator.StaticType(query.AggExpr, schema)
			if err != nil {
				return nil, err
			}
			outAttrs = append(outAttrs, record.Attribute{Name: aggName(query.AggExpr), Type: t})
		}
		for i, name := range query.GroupBy {
			idx, ok := schema.IndexOf(name)
			if !ok {
				return nil, predicate.ErrUnknownAttribute.New(name)
			}
			groupAttrs[i] = idx
			outAttrs = append(outAttrs, record.Attribute{Name: schema.Attrs[idx].Name, Type: schema.Attrs[idx].Type})
		}
		outSchema := record.NewSchema("", outAttrs)
		gOut := pipe.New(b.cfg.PipeCapacity)
		b.ops = append(b.ops, &operator.GroupBy{
			In: out, Out: gOut, Schema: schema,
			GroupOrder: groupOrder, GroupAttrs: groupAttrs,
			OutSchema: outSchema, AggExpr: query.AggExpr, Engine: b.engine,
		})
		schema, out = outSchema, gOut

	case query.Agg == parsetree.AggSum:
		t, err := operator.StaticType(query.AggExpr, schema)
		if err != nil {
			return nil, err
		}
		sOut := pipe.New(b.cfg.PipeCapacity)
		b.ops = append(b.ops, &operator.Sum{
			In: out, Out: sOut, Expr: query.AggExpr, Schema: schema, OutAttr: aggName(query.AggExpr),
		})
		schema = record.NewSchema("", []record.Attribute{{Name: aggName(query.AggExpr), Type: t}})
		out = sOut

	default:
		keep, err := projectionIndices(schema, query.SelectList)
		if err != nil {
			return nil, err
		}
		pOut := pipe.New(b.cfg.PipeCapacity)
		b.ops = append(b.ops, &operator.Project{In: out, Out: pOut, Keep: keep, NumAttrs: schema.Len()})
		schema = schema.Project(keep)
		out = pOut
	}

	if query.Distinct {
		dOut := pipe.New(b.cfg.PipeCapacity)
		b.ops = append(b.ops, &operator.Distinct{
			In: out, Out: dOut, Order: predicate.FullOrderSpec(schema), Engine: b.engine,
		})
		out = dOut
	}

	return &Plan{Ops: b.ops, Out: out, Schema: schema}, nil
}

// projectionIndices resolves a SELECT list against schema; an empty list
// means "SELECT *", kept in schema order.
func projectionIndices(schema *record.Schema, selectList []string) ([]int, error) {
	if len(selectList) == 0 {
		keep := make([]int, schema.Len())
		for i := range keep {
			keep[i] = i
		}
		return keep, nil
	}
	keep := make([]int, len(selectList))
	for i, name := range selectList {
		idx, ok := schema.IndexOf(name)
		if !ok {
			return nil, predicate.ErrUnknownAttribute.New(name)
		}
		keep[i] = idx
	}
	return keep, nil
}

func aggName(expr *parsetree.ArithExpr) string {
	if expr == nil {
		return "sum"
	}
	if expr.Op == parsetree.ArithLeaf && expr.AttrName != "" {
		return fmt.Sprintf("sum_%s", expr.AttrName)
	}
	return "sum"
}

func wrapOr(or parsetree.OrList) *parsetree.AndList {
	return &parsetree.AndList{Ors: []parsetree.OrList{or}}
}
