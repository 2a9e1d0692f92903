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

// Package sqltext is the external-collaborator stand-in spec.md §1 and §6
// describe but leave unowned by the core engine: a small textual front end
// that turns one REPL line into either an administrative Command or a
// parsetree.Query the core already knows how to plan and run. Nothing in
// planner, operator, predicate, or table imports this package; only
// cmd/microdb does.
package sqltext

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/neerajrao/microdb/parsetree"
	"github.com/neerajrao/microdb/record"
)

// CommandKind distinguishes the administrative commands of spec.md §6 from
// a SELECT statement.
type CommandKind int

const (
	CmdSelect CommandKind = iota
	CmdCreateTable
	CmdInsertInto
	CmdDropTable
	CmdSetOutput
	CmdUpdateStatistics
	CmdQuit
)

// Command is one parsed REPL line.
type Command struct {
	Kind CommandKind

	// CmdCreateTable
	Table  string
	Attrs  []record.Attribute
	SortOn []string

	// CmdInsertInto
	SourcePath string

	// CmdDropTable, CmdUpdateStatistics share Table above.

	// CmdSetOutput
	OutputMode string // "STDOUT", "NONE", or "FILE" (path in OutputPath)
	OutputPath string

	// CmdSelect
	Query *parsetree.Query
}

// ErrEmptyLine is returned for a blank or comment-only line; callers
// should silently re-prompt rather than treat it as a malformed command.
var ErrEmptyLine = errors.New("sqltext: empty line")

// Parse classifies and parses one REPL line into a Command.
func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "--") {
		return nil, ErrEmptyLine
	}
	upper := strings.ToUpper(line)

	switch {
	case upper == "QUIT" || upper == "QUIT;":
		return &Command{Kind: CmdQuit}, nil
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return parseCreateTable(line)
	case strings.HasPrefix(upper, "INSERT INTO"):
		return parseInsertInto(line)
	case strings.HasPrefix(upper, "DROP TABLE"):
		return parseDropTable(line)
	case strings.HasPrefix(upper, "SET OUTPUT"):
		return parseSetOutput(line)
	case strings.HasPrefix(upper, "UPDATE STATISTICS"):
		return parseUpdateStatistics(line)
	case strings.HasPrefix(upper, "SELECT"):
		q, err := parseSelect(line)
		if err != nil {
			return nil, err
		}
		return &Command{Kind: CmdSelect, Query: q}, nil
	default:
		return nil, errors.Errorf("sqltext: unrecognized command %q", line)
	}
}

// parseCreateTable handles:
//
//	CREATE TABLE name(attr1 Int, attr2 String) AS HEAP
//	CREATE TABLE name(attr1 Int, attr2 String) AS SORTED ON (attr1, attr2)
func parseCreateTable(line string) (*Command, error) {
	rest := strings.TrimSpace(line[len("CREATE TABLE"):])
	open := strings.IndexByte(rest, '(')
	shut := strings.IndexByte(rest, ')')
	if open < 0 || shut < open {
		return nil, errors.Errorf("CREATE TABLE: expected (attr list): %q", line)
	}
	name := strings.TrimSpace(rest[:open])
	if name == "" {
		return nil, errors.Errorf("CREATE TABLE: missing table name: %q", line)
	}

	attrList := rest[open+1 : shut]
	var attrs []record.Attribute
	for _, part := range splitTop(attrList, ',') {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) != 2 {
			return nil, errors.Errorf("CREATE TABLE: malformed attribute %q", part)
		}
		typ, err := record.ParseType(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "CREATE TABLE: attribute %s", fields[0])
		}
		attrs = append(attrs, record.Attribute{Name: fields[0], Type: typ})
	}

	tail := strings.TrimSpace(rest[shut+1:])
	upperTail := strings.ToUpper(tail)
	cmd := &Command{Kind: CmdCreateTable, Table: name, Attrs: attrs}
	switch {
	case upperTail == "" || upperTail == "AS HEAP":
		// organization defaults to heap when unspecified.
	case strings.HasPrefix(upperTail, "AS SORTED ON"):
		sortRest := strings.TrimSpace(tail[len("AS SORTED ON"):])
		sortRest = strings.TrimPrefix(sortRest, "(")
		sortRest = strings.TrimSuffix(sortRest, ")")
		for _, name := range splitTop(sortRest, ',') {
			cmd.SortOn = append(cmd.SortOn, strings.TrimSpace(name))
		}
	default:
		return nil, errors.Errorf("CREATE TABLE: unrecognized clause %q", tail)
	}
	return cmd, nil
}

// parseInsertInto handles: INSERT INTO name FROM 'path'
func parseInsertInto(line string) (*Command, error) {
	rest := strings.TrimSpace(line[len("INSERT INTO"):])
	fromIdx := indexKeyword(rest, "FROM")
	if fromIdx < 0 {
		return nil, errors.Errorf("INSERT INTO: expected FROM: %q", line)
	}
	name := strings.TrimSpace(rest[:fromIdx])
	path, err := unquote(strings.TrimSpace(rest[fromIdx+len("FROM"):]))
	if err != nil {
		return nil, errors.Wrap(err, "INSERT INTO")
	}
	return &Command{Kind: CmdInsertInto, Table: name, SourcePath: path}, nil
}

// parseDropTable handles: DROP TABLE name
func parseDropTable(line string) (*Command, error) {
	name := strings.TrimSpace(line[len("DROP TABLE"):])
	if name == "" {
		return nil, errors.Errorf("DROP TABLE: missing table name: %q", line)
	}
	return &Command{Kind: CmdDropTable, Table: name}, nil
}

// parseSetOutput handles: SET OUTPUT STDOUT|NONE|'path'
func parseSetOutput(line string) (*Command, error) {
	rest := strings.TrimSpace(line[len("SET OUTPUT"):])
	upper := strings.ToUpper(rest)
	switch upper {
	case "STDOUT", "NONE":
		return &Command{Kind: CmdSetOutput, OutputMode: upper}, nil
	default:
		path, err := unquote(rest)
		if err != nil {
			return nil, errors.Wrap(err, "SET OUTPUT")
		}
		return &Command{Kind: CmdSetOutput, OutputMode: "FILE", OutputPath: path}, nil
	}
}

// parseUpdateStatistics handles: UPDATE STATISTICS ON name
func parseUpdateStatistics(line string) (*Command, error) {
	rest := strings.TrimSpace(line[len("UPDATE STATISTICS"):])
	upper := strings.ToUpper(rest)
	if !strings.HasPrefix(upper, "ON") {
		return nil, errors.Errorf("UPDATE STATISTICS: expected ON <table>: %q", line)
	}
	name := strings.TrimSpace(rest[len("ON"):])
	if name == "" {
		return nil, errors.Errorf("UPDATE STATISTICS: missing table name: %q", line)
	}
	return &Command{Kind: CmdUpdateStatistics, Table: name}, nil
}

// parseSelect handles:
//
//	SELECT [DISTINCT] <* | col,col,... | SUM(expr)>
//	FROM t1 [alias1], t2 [alias2], ...
//	[WHERE cond [AND cond]*]
//	[GROUP BY col, col, ...]
func parseSelect(line string) (*parsetree.Query, error) {
	rest := strings.TrimSpace(line[len("SELECT"):])
	distinct := false
	if strings.HasPrefix(strings.ToUpper(rest), "DISTINCT") {
		distinct = true
		rest = strings.TrimSpace(rest[len("DISTINCT"):])
	}

	fromIdx := indexKeyword(rest, "FROM")
	if fromIdx < 0 {
		return nil, errors.Errorf("SELECT: expected FROM: %q", line)
	}
	selectPart := strings.TrimSpace(rest[:fromIdx])
	afterFrom := strings.TrimSpace(rest[fromIdx+len("FROM"):])

	whereIdx := indexKeyword(afterFrom, "WHERE")
	groupIdx := indexKeyword(afterFrom, "GROUP BY")

	var fromPart, wherePart, groupPart string
	switch {
	case whereIdx >= 0:
		fromPart = afterFrom[:whereIdx]
		if groupIdx >= 0 && groupIdx > whereIdx {
			wherePart = afterFrom[whereIdx+len("WHERE") : groupIdx]
			groupPart = afterFrom[groupIdx+len("GROUP BY"):]
		} else {
			wherePart = afterFrom[whereIdx+len("WHERE"):]
		}
	case groupIdx >= 0:
		fromPart = afterFrom[:groupIdx]
		groupPart = afterFrom[groupIdx+len("GROUP BY"):]
	default:
		fromPart = afterFrom
	}

	tables, err := parseTableRefs(fromPart)
	if err != nil {
		return nil, err
	}

	q := &parsetree.Query{Tables: tables, Distinct: distinct}

	where, err := parseWhere(wherePart)
	if err != nil {
		return nil, err
	}
	q.Where = where

	if groupPart = strings.TrimSpace(groupPart); groupPart != "" {
		for _, name := range splitTop(groupPart, ',') {
			q.GroupBy = append(q.GroupBy, strings.TrimSpace(name))
		}
	}

	if err := parseSelectList(selectPart, q); err != nil {
		return nil, err
	}
	return q, nil
}

func parseSelectList(selectPart string, q *parsetree.Query) error {
	if selectPart == "*" {
		return nil
	}
	upper := strings.ToUpper(selectPart)
	if strings.HasPrefix(upper, "SUM(") && strings.HasSuffix(selectPart, ")") {
		inner := selectPart[len("SUM(") : len(selectPart)-1]
		expr, err := parseArith(inner)
		if err != nil {
			return errors.Wrap(err, "SELECT: parsing SUM expression")
		}
		q.Agg = parsetree.AggSum
		q.AggExpr = expr
		return nil
	}
	for _, name := range splitTop(selectPart, ',') {
		q.SelectList = append(q.SelectList, strings.TrimSpace(name))
	}
	return nil
}

// parseArith parses a flat left-to-right arithmetic expression with no
// operator precedence beyond evaluation order (a+b*c means (a+b)*c), which
// is all the aggregate expressions in practice need: a single attribute,
// or a short chain of +,-,*,/ between attributes and numeric literals.
func parseArith(s string) (*parsetree.ArithExpr, error) {
	s = strings.TrimSpace(s)
	var cur *parsetree.ArithExpr
	var op parsetree.ArithOp
	havePending := false

	i := 0
	for i < len(s) {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		start := i
		for i < len(s) && !strings.ContainsRune("+-*/", rune(s[i])) {
			i++
		}
		token := strings.TrimSpace(s[start:i])
		if token == "" {
			return nil, errors.Errorf("arithmetic expression: empty operand in %q", s)
		}
		leaf := arithLeaf(token)
		if !havePending {
			cur = leaf
		} else {
			cur = &parsetree.ArithExpr{Op: op, Left: cur, Right: leaf}
		}
		if i < len(s) {
			switch s[i] {
			case '+':
				op = parsetree.ArithAdd
			case '-':
				op = parsetree.ArithSub
			case '*':
				op = parsetree.ArithMul
			case '/':
				op = parsetree.ArithDiv
			}
			havePending = true
			i++
		}
	}
	if cur == nil {
		return nil, errors.Errorf("arithmetic expression: empty")
	}
	return cur, nil
}

func arithLeaf(token string) *parsetree.ArithExpr {
	if _, err := strconv.ParseFloat(token, 64); err == nil {
		return &parsetree.ArithExpr{Op: parsetree.ArithLeaf, NumberText: token}
	}
	return &parsetree.ArithExpr{Op: parsetree.ArithLeaf, AttrName: token}
}

func parseTableRefs(s string) ([]parsetree.TableRef, error) {
	var refs []parsetree.TableRef
	for _, part := range splitTop(s, ',') {
		fields := strings.Fields(strings.TrimSpace(part))
		switch len(fields) {
		case 1:
			refs = append(refs, parsetree.TableRef{Name: fields[0]})
		case 2:
			refs = append(refs, parsetree.TableRef{Name: fields[0], Alias: fields[1]})
		default:
			return nil, errors.Errorf("SELECT: malformed FROM entry %q", part)
		}
	}
	if len(refs) == 0 {
		return nil, errors.New("SELECT: FROM clause has no tables")
	}
	return refs, nil
}

// parseWhere parses a flat "cond (OR cond)* (AND cond (OR cond)*)*" shape,
// with no parenthesized sub-grouping: ANDs split the top level into
// conjuncts, and each conjunct may itself be an OR chain.
func parseWhere(s string) (*parsetree.AndList, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var ands parsetree.AndList
	for _, conjunct := range splitKeyword(s, "AND") {
		var or parsetree.OrList
		for _, disjunct := range splitKeyword(conjunct, "OR") {
			cmp, err := parseComparison(strings.TrimSpace(disjunct))
			if err != nil {
				return nil, err
			}
			or.Comparisons = append(or.Comparisons, cmp)
		}
		ands.Ors = append(ands.Ors, or)
	}
	return &ands, nil
}

func parseComparison(s string) (parsetree.ComparisonOp, error) {
	for _, spec := range []struct {
		sym string
		op  parsetree.CompOp
	}{{"=", parsetree.EQ}, {"<", parsetree.LT}, {">", parsetree.GT}} {
		if idx := strings.Index(s, spec.sym); idx >= 0 {
			left := strings.TrimSpace(s[:idx])
			right := strings.TrimSpace(s[idx+len(spec.sym):])
			return parsetree.ComparisonOp{Op: spec.op, Left: parseOperand(left), Right: parseOperand(right)}, nil
		}
	}
	return parsetree.ComparisonOp{}, errors.Errorf("WHERE: unrecognized comparison %q", s)
}

func parseOperand(s string) parsetree.Operand {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return parsetree.Lit(s[1 : len(s)-1])
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return parsetree.Lit(s)
	}
	return parsetree.Attr(s)
}

// splitTop splits s on sep at top level (sep never appears inside a quoted
// string).
func splitTop(s string, sep byte) []string {
	var parts []string
	depth := 0
	inQuote := byte(0)
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// indexKeyword finds the first standalone occurrence of keyword (case
// insensitive, word-bounded) in s, or -1.
func indexKeyword(s, keyword string) int {
	upper := strings.ToUpper(s)
	kw := strings.ToUpper(keyword)
	for i := 0; i+len(kw) <= len(upper); i++ {
		if upper[i:i+len(kw)] != kw {
			continue
		}
		before := i == 0 || !isIdentChar(s[i-1])
		afterIdx := i + len(kw)
		after := afterIdx == len(s) || !isIdentChar(s[afterIdx])
		if before && after {
			return i
		}
	}
	return -1
}

// splitKeyword splits s on every standalone occurrence of keyword.
func splitKeyword(s, keyword string) []string {
	var parts []string
	for {
		idx := indexKeyword(s, keyword)
		if idx < 0 {
			parts = append(parts, s)
			return parts
		}
		parts = append(parts, s[:idx])
		s = s[idx+len(keyword):]
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func unquote(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], nil
	}
	return "", errors.Errorf("expected a quoted path, got %q", s)
}
