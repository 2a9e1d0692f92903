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

// Package stats implements the per-relation statistics the planner uses
// to estimate selection and join cardinalities: tuple counts and
// per-attribute distinct-value counts, kept in a small line-oriented
// plain-text file so UPDATE STATISTICS ON can persist what it measured
// between runs.
package stats

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
)

// relStats is one relation's row count and per-attribute distinct-value
// counts.
type relStats struct {
	tuples   int64
	distinct map[string]int64
}

func (r *relStats) clone() *relStats {
	d := make(map[string]int64, len(r.distinct))
	for k, v := range r.distinct {
		d[k] = v
	}
	return &relStats{tuples: r.tuples, distinct: d}
}

// Statistics holds one process's view of every relation's cardinality
// information, plus the alias map a query's FROM clause introduces
// ("FROM orders o" makes "o" resolve to "orders").
type Statistics struct {
	mu      sync.RWMutex
	rels    map[string]*relStats
	aliases map[string]string
}

// New returns an empty Statistics, equivalent to what Load returns for a
// missing file.
func New() *Statistics {
	return &Statistics{rels: map[string]*relStats{}, aliases: map[string]string{}}
}

// Load reads a statistics file. A missing file is not an error: it
// means no relation has been measured yet, so Load returns an empty
// Statistics exactly as New would.
func Load(path string, logger *logrus.Logger) (*Statistics, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening statistics file %s", path)
	}
	defer f.Close()

	s := New()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		rel := fields[0]
		tuples, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing tuple count for relation %s", rel)
		}
		rs := &relStats{tuples: tuples, distinct: map[string]int64{}}
		for _, kv := range fields[2:] {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				continue
			}
			d, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing distinct count %q for relation %s", kv, rel)
			}
			rs.distinct[parts[0]] = d
		}
		s.rels[rel] = rs
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading statistics file %s", path)
	}
	if logger != nil {
		logger.WithField("relations", len(s.rels)).Debug("stats: loaded")
	}
	return s, nil
}

// Save writes every measured relation's statistics to path, one line per
// relation: "name\ttupleCount\tattr1=distinct1\tattr2=distinct2...".
func (s *Statistics) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating statistics file %s", path)
	}
	defer f.Close()
	return s.write(f)
}

func (s *Statistics) write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for rel, rs := range s.rels {
		fmt.Fprintf(bw, "%s\t%d", rel, rs.tuples)
		for attr, d := range rs.distinct {
			fmt.Fprintf(bw, "\t%s=%d", attr, d)
		}
		fmt.Fprint(bw, "\n")
	}
	return bw.Flush()
}

// SetRelation records (or replaces) the measured tuple count and
// per-attribute distinct counts for rel, as UPDATE STATISTICS ON does
// after scanning a table.
func (s *Statistics) SetRelation(rel string, tuples int64, distinct map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := make(map[string]int64, len(distinct))
	for k, v := range distinct {
		d[k] = v
	}
	s.rels[rel] = &relStats{tuples: tuples, distinct: d}
}

// Alias records that alias refers to rel for the lifetime of this
// Statistics snapshot — callers typically clone a fresh Statistics per
// query (see Clone) so a query-local alias map doesn't leak.
func (s *Statistics) Alias(alias, rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[alias] = rel
}

func (s *Statistics) resolveLocked(name string) string {
	seen := map[string]bool{}
	for {
		if seen[name] {
			return name
		}
		seen[name] = true
		canon, ok := s.aliases[name]
		if !ok {
			return name
		}
		name = canon
	}
}

// TupleCount returns the known row count for relOrAlias, or (0, false) if
// it has never been measured.
func (s *Statistics) TupleCount(relOrAlias string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.rels[s.resolveLocked(relOrAlias)]
	if !ok {
		return 0, false
	}
	return rs.tuples, true
}

// DistinctCount returns the known distinct-value count for one attribute
// of relOrAlias.
func (s *Statistics) DistinctCount(relOrAlias, attr string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.rels[s.resolveLocked(relOrAlias)]
	if !ok {
		return 0, false
	}
	d, ok := rs.distinct[attr]
	return d, ok
}

// Resolve chases relOrAlias through the alias map to its canonical
// relation name, the way the planner rewrites a qualified "alias.attr"
// reference back to the relation that currently owns the attribute after
// a join has merged two subtrees under the left side's name.
func (s *Statistics) Resolve(relOrAlias string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(relOrAlias)
}

// SetTupleCount overwrites rel's tuple count in place, leaving its
// distinct-count map untouched — used by the planner to apply a
// multi-comparison OR selection, whose combined selectivity doesn't
// decompose into the single-attribute bookkeeping Apply performs.
func (s *Statistics) SetTupleCount(rel string, tuples int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.rels[s.resolveLocked(rel)]; ok {
		rs.tuples = tuples
	}
}

// Clone makes a deep, independent copy so a planner can call Apply
// repeatedly against a throwaway snapshot while estimating a query's cost
// without ever mutating the persisted Statistics.
func (s *Statistics) Clone() *Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := New()
	for rel, rs := range s.rels {
		out.rels[rel] = rs.clone()
	}
	for a, r := range s.aliases {
		out.aliases[a] = r
	}
	return out
}

// oneThirdHeuristic is the fallback selectivity for a range/inequality
// comparison against a literal, used whenever the data doesn't give a
// tighter estimate (no min/max tracked).
const oneThirdHeuristic = 1.0 / 3.0

// Selectivity estimates the fraction of rel's tuples that satisfy one
// attribute-vs-literal comparison.
func (s *Statistics) Selectivity(rel, attr string, op parsetree.CompOp) float64 {
	if op == parsetree.EQ {
		if d, ok := s.DistinctCount(rel, attr); ok && d > 0 {
			return 1.0 / float64(d)
		}
		return oneThirdHeuristic
	}
	return oneThirdHeuristic
}

// EstimateOrSelectivity combines the independent selectivities of an OrList's
// comparisons (each against attr of rel) using inclusion of
// complements — P(any) = 1 - product(1 - P(i)) — so a disjunction of n
// permissive conditions cannot exceed 1, unlike naively summing them.
func EstimateOrSelectivity(sels []float64) float64 {
	product := 1.0
	for _, p := range sels {
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		product *= 1 - p
	}
	return 1 - product
}

// EstimateSelection estimates the number of rows of rel (holding
// tupleCount rows) that satisfy cnf, treating each OrList as
// independent — the product of per-conjunct selectivities times the
// relation's tuple count.
func (s *Statistics) EstimateSelection(rel string, cnf predicate.CNF, schema *record.Schema) float64 {
	tuples, ok := s.TupleCount(rel)
	if !ok || tuples == 0 {
		return 0
	}
	total := float64(tuples)
	for _, or := range cnf.Ands {
		var sels []float64
		for range or.Comparisons {
			// Every comparison, equality included, is given the
			// one-third heuristic; distinct counts are not consulted
			// here.
			sels = append(sels, oneThirdHeuristic)
		}
		total *= EstimateOrSelectivity(sels)
	}
	return total
}

// EstimateEquijoin estimates |leftRel join rightRel on leftAttr=rightAttr|
// as |leftRel| * |rightRel| / max(distinct(leftAttr), distinct(rightAttr))
// — the standard containment assumption: every value of the
// lower-cardinality side finds a match.
func (s *Statistics) EstimateEquijoin(leftRel, leftAttr, rightRel, rightAttr string) float64 {
	lt, ok1 := s.TupleCount(leftRel)
	rt, ok2 := s.TupleCount(rightRel)
	if !ok1 || !ok2 {
		return 0
	}
	ld, _ := s.DistinctCount(leftRel, leftAttr)
	rd, _ := s.DistinctCount(rightRel, rightAttr)
	denom := ld
	if rd > denom {
		denom = rd
	}
	if denom <= 0 {
		denom = 1
	}
	return float64(lt) * float64(rt) / float64(denom)
}

// Apply returns a clone of s with rel's tuple count reduced by an
// equality selection on attr, and every other attribute's distinct count
// scaled down proportionally — the planner calls this once per applied
// conjunct to estimate the cost of the next join or selection without
// mutating the persisted Statistics (copy, apply, discard).
func (s *Statistics) Apply(rel, attr string, op parsetree.CompOp) *Statistics {
	clone := s.Clone()
	rs, ok := clone.rels[clone.resolveLocked(rel)]
	if !ok {
		return clone
	}
	sel := clone.Selectivity(rel, attr, op)
	newTuples := int64(float64(rs.tuples) * sel)
	if newTuples < 1 && rs.tuples > 0 {
		newTuples = 1
	}
	if rs.tuples > 0 {
		scale := float64(newTuples) / float64(rs.tuples)
		for a, d := range rs.distinct {
			if a == attr {
				continue
			}
			scaled := int64(float64(d) * scale)
			if scaled < 1 {
				scaled = 1
			}
			rs.distinct[a] = scaled
		}
	}
	if op == parsetree.EQ {
		rs.distinct[attr] = 1
	}
	rs.tuples = newTuples
	return clone
}

// CommitEquijoin returns a clone of s with leftRel and rightRel unified
// into one relation addressable under leftRel's name, following the
// equijoin commit rule of spec.md §4.8: the new tuple count is
// |L|*|R|/max(V(L,leftAttr), V(R,rightAttr)); rightRel's attribute
// distincts are merged into leftRel (skipping the join attribute, whose
// distinct count stays leftRel's); rightRel is deleted from the relation
// map and aliased to leftRel so later references resolve through it.
func (s *Statistics) CommitEquijoin(leftRel, leftAttr, rightRel, rightAttr string) *Statistics {
	clone := s.Clone()
	lCanon, rCanon := clone.resolveLocked(leftRel), clone.resolveLocked(rightRel)
	l, lok := clone.rels[lCanon]
	r, rok := clone.rels[rCanon]
	if !lok || !rok {
		return clone
	}

	ld, rd := l.distinct[leftAttr], r.distinct[rightAttr]
	denom := ld
	if rd > denom {
		denom = rd
	}
	if denom <= 0 {
		denom = 1
	}
	l.tuples = int64(float64(l.tuples) * float64(r.tuples) / float64(denom))

	for attr, d := range r.distinct {
		if attr == rightAttr {
			continue
		}
		l.distinct[attr] = d
	}
	delete(clone.rels, rCanon)
	clone.aliases[rCanon] = lCanon
	return clone
}

// CommitCrossJoin unifies leftRel and rightRel the way CommitEquijoin
// does, but for a join whose predicate didn't reduce to a clean equijoin
// (the planner still has to combine the two subtrees into one estimable
// relation to keep the greedy loop going); estimatedTuples is the
// caller's already-computed cardinality estimate for the combination.
func (s *Statistics) CommitCrossJoin(leftRel, rightRel string, estimatedTuples float64) *Statistics {
	clone := s.Clone()
	lCanon, rCanon := clone.resolveLocked(leftRel), clone.resolveLocked(rightRel)
	l, lok := clone.rels[lCanon]
	r, rok := clone.rels[rCanon]
	if lok && rok {
		for attr, d := range r.distinct {
			l.distinct[attr] = d
		}
		l.tuples = int64(estimatedTuples)
		delete(clone.rels, rCanon)
	}
	clone.aliases[rCanon] = lCanon
	return clone
}
