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

package engine

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/neerajrao/microdb/planner"
	"github.com/neerajrao/microdb/predicate"
	"github.com/neerajrao/microdb/record"
	"github.com/neerajrao/microdb/table"
)

// kind is one table's storage organization, the first line of its .bin.meta
// file.
type kind string

const (
	kindHeap   kind = "heap"
	kindSorted kind = "sorted"
)

// registeredTable is one live entry in the registry: either a Heap or a
// Sorted, plus enough bookkeeping to reopen it and to answer admin-server
// queries about it.
type registeredTable struct {
	name     string
	schema   *record.Schema
	kind     kind
	sortOn   []string // attribute names, SORTED-table order, for the .meta file
	heap     *table.Heap
	sorted   *table.Sorted
	built    bool // sorted table has run ToReadMode; irrelevant for heap
}

// Registry is the in-memory table directory microdb keeps over one data
// directory, backed by a saved-state file and per-table .bin/.bin.meta/
// .schema files on disk. It implements planner.Catalog.
type Registry struct {
	mu     sync.RWMutex
	dir    string
	pgSize int
	logger *logrus.Logger
	tables map[string]*registeredTable
}

// NewRegistry constructs an empty registry rooted at dir, creating dir if
// it doesn't exist.
func NewRegistry(dir string, pageSize int, logger *logrus.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating data directory %s", dir)
	}
	return &Registry{dir: dir, pgSize: pageSize, logger: logger, tables: map[string]*registeredTable{}}, nil
}

// Load reconstitutes the registry from the saved-state file at statePath:
// one table name per line, each of which must have a matching .schema and
// .bin.meta file in the registry's data directory. A missing saved-state
// file means an empty registry, same as a fresh install.
func (r *Registry) Load(statePath string) error {
	f, err := os.Open(statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "opening saved-state file %s", statePath)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		if err := r.reopen(name); err != nil {
			return errors.Wrapf(err, "reopening table %s", name)
		}
	}
	return sc.Err()
}

// Save writes the saved-state file listing every registered table name.
func (r *Registry) Save(statePath string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, err := os.Create(statePath)
	if err != nil {
		return errors.Wrapf(err, "creating saved-state file %s", statePath)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	for name := range r.tables {
		fmt.Fprintln(bw, name)
	}
	return bw.Flush()
}

func (r *Registry) binPath(name string) string    { return filepath.Join(r.dir, name+".bin") }
func (r *Registry) metaPath(name string) string    { return filepath.Join(r.dir, name+".bin.meta") }
func (r *Registry) schemaPath(name string) string  { return filepath.Join(r.dir, name+".schema") }

// reopen loads one table's schema and meta files and opens its storage
// handle, used by Load at startup.
func (r *Registry) reopen(name string) error {
	schema, err := readSchemaFile(r.schemaPath(name))
	if err != nil {
		return err
	}
	k, sortIdx, runLen, err := readMetaFile(r.metaPath(name))
	if err != nil {
		return err
	}
	sortOn := make([]string, len(sortIdx))
	for i, idx := range sortIdx {
		if idx < 0 || idx >= schema.Len() {
			return errors.Errorf("meta file for %s: sort-attribute index %d out of range", name, idx)
		}
		sortOn[i] = schema.Attrs[idx].Name
	}

	rt := &registeredTable{name: name, schema: schema, kind: k, sortOn: sortOn}
	switch k {
	case kindHeap:
		h, err := table.OpenHeap(r.binPath(name), schema, r.pgSize)
		if err != nil {
			return err
		}
		rt.heap = h
	case kindSorted:
		order, err := predicate.NewOrderSpec(schema, sortOn)
		if err != nil {
			return err
		}
		s, err := table.OpenSorted(r.binPath(name), schema, order, r.pgSize, r.dir, r.logger)
		if err != nil {
			return err
		}
		_ = runLen
		rt.sorted = s
		rt.built = true
	}

	r.mu.Lock()
	r.tables[name] = rt
	r.mu.Unlock()
	return nil
}

// Create registers a brand-new table, writing its .schema and .bin.meta
// files and opening a fresh, empty storage handle. ErrTableExists if name
// is already registered.
func (r *Registry) Create(name string, attrs []record.Attribute, sortOn []string, runLen int) error {
	r.mu.Lock()
	if _, ok := r.tables[name]; ok {
		r.mu.Unlock()
		return ErrTableExists.New(name)
	}
	r.mu.Unlock()

	schema := record.NewSchema(name, attrs)
	if err := writeSchemaFile(r.schemaPath(name), schema); err != nil {
		return err
	}

	rt := &registeredTable{name: name, schema: schema}
	if len(sortOn) == 0 {
		rt.kind = kindHeap
		h, err := table.CreateHeap(r.binPath(name), schema, r.pgSize)
		if err != nil {
			return err
		}
		rt.heap = h
	} else {
		rt.kind = kindSorted
		rt.sortOn = sortOn
		order, err := predicate.NewOrderSpec(schema, sortOn)
		if err != nil {
			return err
		}
		s, err := table.CreateSorted(r.binPath(name)+".staging", schema, order, r.pgSize, r.dir, r.logger)
		if err != nil {
			return err
		}
		rt.sorted = s
	}
	if err := writeMetaFile(r.metaPath(name), schema, rt.kind, sortOn, runLen); err != nil {
		return err
	}

	r.mu.Lock()
	r.tables[name] = rt
	r.mu.Unlock()
	return nil
}

// Insert loads every line of a '|'-delimited text file at path into table
// name. For a Sorted table, this is the table's one and only bulk load:
// once the file is fully read the table transitions to read mode and
// further inserts are rejected, matching table.Sorted's one-shot
// write-then-read lifecycle.
func (r *Registry) Insert(name, path string) (int, error) {
	rt, err := r.lookup(name)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "opening insert source %s", path)
	}
	defer f.Close()

	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, err := record.ComposeLine(rt.schema, line, "|")
		if err != nil {
			return count, errors.Wrapf(err, "composing record %d of %s", count+1, path)
		}
		if err := r.insertOne(rt, rec); err != nil {
			return count, err
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return count, errors.Wrapf(err, "reading insert source %s", path)
	}

	if rt.kind == kindSorted && !rt.built {
		if err := rt.sorted.ToReadMode(r.binPath(name)); err != nil {
			return count, errors.Wrapf(err, "building sorted table %s", name)
		}
		rt.built = true
	}
	return count, nil
}

func (r *Registry) insertOne(rt *registeredTable, rec *record.Record) error {
	switch rt.kind {
	case kindHeap:
		return rt.heap.Insert(rec)
	case kindSorted:
		if rt.built {
			return errors.Errorf("table %s is a built sorted table: further INSERT is not supported", rt.name)
		}
		return rt.sorted.Insert(rec)
	default:
		return errors.Errorf("table %s has no storage handle", rt.name)
	}
}

// Drop removes name from the registry and deletes its on-disk files.
func (r *Registry) Drop(name string) error {
	rt, err := r.lookup(name)
	if err != nil {
		return err
	}

	var result error
	if rt.heap != nil {
		if err := rt.heap.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if rt.sorted != nil {
		if err := rt.sorted.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	for _, p := range []string{r.binPath(name), r.metaPath(name), r.schemaPath(name)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}

	r.mu.Lock()
	delete(r.tables, name)
	r.mu.Unlock()
	return result
}

// CloseAll closes every open table handle, aggregating whatever errors
// occur rather than stopping at the first one, so a shutdown always
// attempts to flush every table.
func (r *Registry) CloseAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result error
	for _, rt := range r.tables {
		if rt.heap != nil {
			if err := rt.heap.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if rt.sorted != nil {
			if err := rt.sorted.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result
}

// Names returns every registered table's name, for the admin server and
// diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for n := range r.tables {
		names = append(names, n)
	}
	return names
}

func (r *Registry) lookup(name string) (*registeredTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tables[name]
	if !ok {
		return nil, ErrUnknownTable.New(name)
	}
	return rt, nil
}

// Open implements planner.Catalog: it hands the planner the schema plus
// whichever of Heap/Sorted backs the relation. A Sorted table not yet
// built (no data inserted) surfaces its staging heap isn't queryable yet.
func (r *Registry) Open(name string) (*planner.Relation, error) {
	rt, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	rel := &planner.Relation{Schema: rt.schema}
	switch rt.kind {
	case kindHeap:
		rel.Heap = rt.heap
	case kindSorted:
		if !rt.built {
			return nil, ErrNotInReadMode.New(name)
		}
		rel.Sorted = rt.sorted
	}
	return rel, nil
}

// readSchemaFile parses a table's persisted schema: first line the
// relation name, then one "<attrName> <Type>" line per attribute.
func readSchemaFile(path string) (*record.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening schema file %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, errors.Errorf("schema file %s is empty", path)
	}
	relName := strings.TrimSpace(sc.Text())

	var attrs []record.Attribute
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.Errorf("schema file %s: malformed attribute line %q", path, line)
		}
		typ, err := record.ParseType(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "schema file %s", path)
		}
		attrs = append(attrs, record.Attribute{Name: fields[0], Type: typ})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading schema file %s", path)
	}
	return record.NewSchema(relName, attrs), nil
}

func writeSchemaFile(path string, schema *record.Schema) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating schema file %s", path)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	fmt.Fprintln(bw, schema.RelName)
	for _, a := range schema.Attrs {
		fmt.Fprintf(bw, "%s %s\n", a.Name, a.Type.String())
	}
	return bw.Flush()
}

// readMetaFile parses the .bin.meta format of spec §6: first line "heap" or
// "sorted"; for sorted, the run length, a sort-attribute count, then one
// "<attr_index> <Type>" line per sort attribute. The type tag on each
// sort-attribute line is redundant with the schema file and is read here
// only to validate the file isn't truncated; Registry.reopen resolves the
// returned indices to names against the schema it already loaded.
func readMetaFile(path string) (k kind, sortIdx []int, runLen int, err error) {
	f, ferr := os.Open(path)
	if ferr != nil {
		return "", nil, 0, errors.Wrapf(ferr, "opening meta file %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return "", nil, 0, errors.Errorf("meta file %s is empty", path)
	}
	first := strings.TrimSpace(sc.Text())
	if first == string(kindHeap) {
		return kindHeap, nil, 0, nil
	}
	if first != string(kindSorted) {
		return "", nil, 0, errors.Errorf("meta file %s: unknown table kind %q", path, first)
	}

	if !sc.Scan() {
		return "", nil, 0, errors.Errorf("meta file %s: missing run length", path)
	}
	runLen, perr := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if perr != nil {
		return "", nil, 0, errors.Wrapf(perr, "meta file %s: parsing run length", path)
	}

	if !sc.Scan() {
		return "", nil, 0, errors.Errorf("meta file %s: missing sort-attribute count", path)
	}
	n, perr := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if perr != nil {
		return "", nil, 0, errors.Wrapf(perr, "meta file %s: parsing sort-attribute count", path)
	}

	sortIdx = make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !sc.Scan() {
			return "", nil, 0, errors.Errorf("meta file %s: expected %d sort-attribute lines", path, n)
		}
		fields := strings.Fields(strings.TrimSpace(sc.Text()))
		if len(fields) != 2 {
			return "", nil, 0, errors.Errorf("meta file %s: malformed sort-attribute line %q", path, sc.Text())
		}
		idx, perr := strconv.Atoi(fields[0])
		if perr != nil {
			return "", nil, 0, errors.Wrapf(perr, "meta file %s: parsing sort-attribute index", path)
		}
		sortIdx = append(sortIdx, idx)
	}
	if err := sc.Err(); err != nil {
		return "", nil, 0, errors.Wrapf(err, "reading meta file %s", path)
	}
	return kindSorted, sortIdx, runLen, nil
}

func writeMetaFile(path string, schema *record.Schema, k kind, sortOn []string, runLen int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating meta file %s", path)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	fmt.Fprintln(bw, string(k))
	if k == kindSorted {
		fmt.Fprintln(bw, runLen)
		fmt.Fprintln(bw, len(sortOn))
		for _, name := range sortOn {
			idx, ok := schema.IndexOf(name)
			if !ok {
				return errors.Errorf("meta file %s: sort attribute %q not in schema", path, name)
			}
			fmt.Fprintf(bw, "%d %s\n", idx, schema.Attrs[idx].Type.String())
		}
	}
	return bw.Flush()
}
