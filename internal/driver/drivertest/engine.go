// Package drivertest provides an in-memory stand-in for a ClickHouse server.
//
// Engine understands exactly the statements produced by package ddl: table
// lifecycle, row counts, INSERT ... SELECT, ALTER mutations and the
// system.mutations registry. WHERE clauses are limited to equality terms
// joined by AND (or the constant 1).
package drivertest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/driver"
)

// Mutation is one row of the fake system.mutations table.
type Mutation struct {
	ID         string
	Database   string
	Table      string
	Command    string
	CreateTime time.Time
	IsDone     bool

	apply func()
}

type table struct {
	columns     []string
	types       []string
	partitionBy []string
	rows        [][]any
}

func (t *table) index(col string) int {
	for i, c := range t.columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Engine is a fake Executor. The zero value is not usable; call New.
type Engine struct {
	// HoldMutations keeps new mutations pending until CompleteMutations.
	HoldMutations bool
	// Fail, when set, is consulted before every statement; a non-nil
	// return is handed back as the statement's error.
	Fail func(query string) error
	// OnStatement runs before every statement, without the engine lock held.
	OnStatement func(query string)

	mu         sync.Mutex
	tables     map[string]*table
	mutations  []*Mutation
	statements []string
	seq        int
	epoch      time.Time
}

var _ driver.Executor = (*Engine)(nil)

// New returns an empty engine.
func New() *Engine {
	return &Engine{
		tables: make(map[string]*table),
		epoch:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var (
	reSelect1       = regexp.MustCompile(`^SELECT 1$`)
	reRunning       = regexp.MustCompile(`^SELECT count\(\) FROM system\.mutations WHERE database='(.*?)' AND table='(.*?)' AND is_done=0$`)
	reLastID        = regexp.MustCompile(`(?s)^SELECT mutation_id FROM system\.mutations WHERE database='(.*?)' AND table='(.*?)' AND command='(.*)' ORDER BY create_time DESC$`)
	reDone          = regexp.MustCompile(`^SELECT is_done FROM system\.mutations WHERE mutation_id='(.*)'$`)
	reList          = regexp.MustCompile(`^SELECT mutation_id, database, table, command, create_time, is_done FROM system\.mutations WHERE database='(.*?)' AND table='(.*?)' ORDER BY create_time DESC$`)
	reCount         = regexp.MustCompile(`(?s)^SELECT count\(\) FROM (\w+)\.(\w+)(?: WHERE (.*))?$`)
	reMinMax        = regexp.MustCompile(`(?s)^SELECT (min|max)\((\w+)\) FROM (\w+)\.(\w+)(?: WHERE (.*))?$`)
	reSelect        = regexp.MustCompile(`(?s)^SELECT (DISTINCT )?(.*?) FROM (\w+)\.(\w+)(?: WHERE (.*))?$`)
	reExists        = regexp.MustCompile(`^EXISTS TABLE (\w+)\.(\w+)$`)
	reDescribe      = regexp.MustCompile(`^DESCRIBE TABLE (\w+)\.(\w+)$`)
	reCreateAs      = regexp.MustCompile(`^CREATE TABLE( IF NOT EXISTS)? (\w+)\.(\w+) AS (\w+)\.(\w+)$`)
	reCreate        = regexp.MustCompile(`(?s)^CREATE(?: TEMPORARY)? TABLE( IF NOT EXISTS)? (\w+)\.(\w+) \(\n\t(.*?)\n\)\n(.*)$`)
	rePartitionBy   = regexp.MustCompile(`PARTITION BY \(([^)]*)\)`)
	reInsertSelect  = regexp.MustCompile(`(?s)^INSERT INTO (\w+)\.(\w+)(?: \(([^)]*)\))? (SELECT .*)$`)
	reInsertHead    = regexp.MustCompile(`^INSERT INTO (\w+)\.(\w+)(?: \(([^)]*)\))?$`)
	reAlterDelete   = regexp.MustCompile(`(?s)^ALTER TABLE (\w+)\.(\w+) (DELETE WHERE (.*))$`)
	reAlterUpdate   = regexp.MustCompile(`(?s)^ALTER TABLE (\w+)\.(\w+) (UPDATE (.*?) WHERE (.*))$`)
	reDropPartition = regexp.MustCompile(`^ALTER TABLE (\w+)\.(\w+) DROP PARTITION \((.*)\)$`)
	reDropTable     = regexp.MustCompile(`^DROP TABLE( IF EXISTS)? (\w+)\.(\w+)$`)
	reTruncate      = regexp.MustCompile(`^TRUNCATE TABLE (\w+)\.(\w+)$`)
	reRename        = regexp.MustCompile(`^RENAME TABLE (\w+)\.(\w+) TO (\w+)\.(\w+)$`)
	reShowTables    = regexp.MustCompile(`^SHOW TABLES(?: FROM (\w+))?(?: LIKE '(.*)')?$`)
	reNoop          = regexp.MustCompile(`^(CREATE DATABASE|DROP DATABASE|OPTIMIZE TABLE|ATTACH TABLE|DETACH TABLE|SYSTEM RELOAD)`)
)

func key(db, t string) string { return db + "." + t }

func (e *Engine) begin(query string) error {
	if e.OnStatement != nil {
		e.OnStatement(query)
	}
	e.mu.Lock()
	e.statements = append(e.statements, query)
	e.mu.Unlock()
	if e.Fail != nil {
		return e.Fail(query)
	}
	return nil
}

// Exec implements driver.Executor.
func (e *Engine) Exec(ctx context.Context, query string) error {
	if err := e.begin(query); err != nil {
		return err
	}
	_, err := e.run(query)
	return err
}

// Query implements driver.Executor.
func (e *Engine) Query(ctx context.Context, query string) (*driver.Result, error) {
	if err := e.begin(query); err != nil {
		return nil, err
	}
	return e.run(query)
}

// InsertRows implements driver.Executor.
func (e *Engine) InsertRows(ctx context.Context, insert string, columns []string, rows []map[string]any) error {
	if err := e.begin(insert); err != nil {
		return err
	}
	m := reInsertHead.FindStringSubmatch(insert)
	if m == nil {
		return fmt.Errorf("drivertest: unsupported insert %q", insert)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.lookup(m[1], m[2])
	if err != nil {
		return err
	}
	for _, r := range rows {
		vals := make([]any, len(columns))
		for i, c := range columns {
			vals[i] = r[c]
		}
		if err := t.appendRow(columns, vals); err != nil {
			return err
		}
	}
	return nil
}

// Close implements driver.Executor.
func (e *Engine) Close() error { return nil }

func (e *Engine) lookup(db, name string) (*table, error) {
	t, ok := e.tables[key(db, name)]
	if !ok {
		return nil, fmt.Errorf("drivertest: table %s.%s doesn't exist", db, name)
	}
	return t, nil
}

func (t *table) appendRow(columns []string, vals []any) error {
	row := make([]any, len(t.columns))
	if len(columns) == 0 {
		if len(vals) != len(t.columns) {
			return fmt.Errorf("drivertest: %d values for %d columns", len(vals), len(t.columns))
		}
		copy(row, vals)
	} else {
		for i, c := range columns {
			idx := t.index(c)
			if idx < 0 {
				return fmt.Errorf("drivertest: no column %q", c)
			}
			row[idx] = vals[i]
		}
	}
	t.rows = append(t.rows, row)
	return nil
}

func scalar(column string, v any) *driver.Result {
	return &driver.Result{Columns: []string{column}, Rows: [][]any{{v}}}
}

func (e *Engine) run(query string) (*driver.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reSelect1.MatchString(query) {
		return scalar("1", uint8(1)), nil
	}
	if m := reRunning.FindStringSubmatch(query); m != nil {
		var n uint64
		for _, mu := range e.mutations {
			if mu.Database == m[1] && mu.Table == m[2] && !mu.IsDone {
				n++
			}
		}
		return scalar("count()", n), nil
	}
	if m := reLastID.FindStringSubmatch(query); m != nil {
		command := strings.ReplaceAll(m[3], `\'`, `'`)
		res := &driver.Result{Columns: []string{"mutation_id"}}
		for _, mu := range e.sortedMutations() {
			if mu.Database == m[1] && mu.Table == m[2] && mu.Command == command {
				res.Rows = append(res.Rows, []any{mu.ID})
			}
		}
		return res, nil
	}
	if m := reDone.FindStringSubmatch(query); m != nil {
		res := &driver.Result{Columns: []string{"is_done"}}
		for _, mu := range e.mutations {
			if mu.ID == m[1] {
				var done uint8
				if mu.IsDone {
					done = 1
				}
				res.Rows = append(res.Rows, []any{done})
			}
		}
		return res, nil
	}
	if m := reList.FindStringSubmatch(query); m != nil {
		res := &driver.Result{Columns: []string{"mutation_id", "database", "table", "command", "create_time", "is_done"}}
		for _, mu := range e.sortedMutations() {
			if mu.Database == m[1] && mu.Table == m[2] {
				var done uint8
				if mu.IsDone {
					done = 1
				}
				res.Rows = append(res.Rows, []any{mu.ID, mu.Database, mu.Table, mu.Command, mu.CreateTime, done})
			}
		}
		return res, nil
	}
	if m := reCount.FindStringSubmatch(query); m != nil {
		t, err := e.lookup(m[1], m[2])
		if err != nil {
			return nil, err
		}
		rows, err := t.filter(m[3])
		if err != nil {
			return nil, err
		}
		return scalar("count()", uint64(len(rows))), nil
	}
	if m := reMinMax.FindStringSubmatch(query); m != nil {
		return e.minMax(m[1], m[2], m[3], m[4], m[5])
	}
	if m := reExists.FindStringSubmatch(query); m != nil {
		var ok uint8
		if _, found := e.tables[key(m[1], m[2])]; found {
			ok = 1
		}
		return scalar("result", ok), nil
	}
	if m := reDescribe.FindStringSubmatch(query); m != nil {
		t, err := e.lookup(m[1], m[2])
		if err != nil {
			return nil, err
		}
		res := &driver.Result{Columns: []string{"name", "type", "default_type", "default_expression"}}
		for i, c := range t.columns {
			res.Rows = append(res.Rows, []any{c, t.types[i], "", ""})
		}
		return res, nil
	}
	if m := reCreateAs.FindStringSubmatch(query); m != nil {
		return nil, e.createAs(m[1] != "", m[2], m[3], m[4], m[5])
	}
	if m := reCreate.FindStringSubmatch(query); m != nil {
		return nil, e.create(m[1] != "", m[2], m[3], m[4], m[5])
	}
	if m := reInsertSelect.FindStringSubmatch(query); m != nil {
		return nil, e.insertSelect(m[1], m[2], m[3], m[4])
	}
	if m := reSelect.FindStringSubmatch(query); m != nil {
		return e.selectRows(m[1] != "", m[2], m[3], m[4], m[5])
	}
	if m := reAlterDelete.FindStringSubmatch(query); m != nil {
		return nil, e.mutate(m[1], m[2], m[3], func(t *table) error { return t.delete(m[4]) })
	}
	if m := reAlterUpdate.FindStringSubmatch(query); m != nil {
		return nil, e.mutate(m[1], m[2], m[3], func(t *table) error { return t.update(m[4], m[5]) })
	}
	if m := reDropPartition.FindStringSubmatch(query); m != nil {
		return nil, e.dropPartition(m[1], m[2], m[3])
	}
	if m := reDropTable.FindStringSubmatch(query); m != nil {
		if _, ok := e.tables[key(m[2], m[3])]; !ok && m[1] == "" {
			return nil, fmt.Errorf("drivertest: table %s.%s doesn't exist", m[2], m[3])
		}
		delete(e.tables, key(m[2], m[3]))
		return nil, nil
	}
	if m := reTruncate.FindStringSubmatch(query); m != nil {
		t, err := e.lookup(m[1], m[2])
		if err != nil {
			return nil, err
		}
		t.rows = nil
		return nil, nil
	}
	if m := reRename.FindStringSubmatch(query); m != nil {
		t, err := e.lookup(m[1], m[2])
		if err != nil {
			return nil, err
		}
		delete(e.tables, key(m[1], m[2]))
		e.tables[key(m[3], m[4])] = t
		return nil, nil
	}
	if m := reShowTables.FindStringSubmatch(query); m != nil {
		res := &driver.Result{Columns: []string{"name"}}
		var names []string
		for k := range e.tables {
			db, name, _ := strings.Cut(k, ".")
			if m[1] != "" && db != m[1] {
				continue
			}
			if m[2] != "" && !likeMatch(m[2], name) {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)
		for _, n := range names {
			res.Rows = append(res.Rows, []any{n})
		}
		return res, nil
	}
	if query == "SHOW DATABASES" {
		seen := map[string]bool{"default": true, "system": true}
		for k := range e.tables {
			db, _, _ := strings.Cut(k, ".")
			seen[db] = true
		}
		res := &driver.Result{Columns: []string{"name"}}
		var dbs []string
		for db := range seen {
			dbs = append(dbs, db)
		}
		sort.Strings(dbs)
		for _, db := range dbs {
			res.Rows = append(res.Rows, []any{db})
		}
		return res, nil
	}
	if strings.HasPrefix(query, "CHECK TABLE") {
		return scalar("result", uint8(1)), nil
	}
	if query == "SHOW PROCESSLIST" {
		return &driver.Result{Columns: []string{"query_id", "query"}}, nil
	}
	if strings.HasPrefix(query, "SHOW CREATE TABLE ") {
		return scalar("statement", "CREATE TABLE "+strings.TrimPrefix(query, "SHOW CREATE TABLE ")), nil
	}
	if reNoop.MatchString(query) {
		return nil, nil
	}
	return nil, fmt.Errorf("drivertest: unsupported statement %q", query)
}

func likeMatch(pattern, s string) bool {
	re := "^" + strings.ReplaceAll(strings.ReplaceAll(regexp.QuoteMeta(pattern), "%", ".*"), "_", ".") + "$"
	ok, _ := regexp.MatchString(re, s)
	return ok
}

func (e *Engine) sortedMutations() []*Mutation {
	out := append([]*Mutation(nil), e.mutations...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreateTime.After(out[j].CreateTime) })
	return out
}

func (e *Engine) nextTime() time.Time {
	e.seq++
	return e.epoch.Add(time.Duration(e.seq) * time.Second)
}

func (e *Engine) createAs(ifNotExists bool, db, name, srcDB, src string) error {
	if _, ok := e.tables[key(db, name)]; ok {
		if ifNotExists {
			return nil
		}
		return fmt.Errorf("drivertest: table %s.%s already exists", db, name)
	}
	s, err := e.lookup(srcDB, src)
	if err != nil {
		return err
	}
	e.tables[key(db, name)] = &table{
		columns:     append([]string(nil), s.columns...),
		types:       append([]string(nil), s.types...),
		partitionBy: append([]string(nil), s.partitionBy...),
	}
	return nil
}

func (e *Engine) create(ifNotExists bool, db, name, cols, rest string) error {
	if _, ok := e.tables[key(db, name)]; ok {
		if ifNotExists {
			return nil
		}
		return fmt.Errorf("drivertest: table %s.%s already exists", db, name)
	}
	t := &table{}
	for _, def := range strings.Split(cols, ",\n\t") {
		fields := strings.Fields(def)
		if len(fields) < 2 {
			return fmt.Errorf("drivertest: bad column definition %q", def)
		}
		t.columns = append(t.columns, fields[0])
		t.types = append(t.types, strings.Join(fields[1:], " "))
	}
	if m := rePartitionBy.FindStringSubmatch(rest); m != nil {
		for _, p := range strings.Split(m[1], ",") {
			t.partitionBy = append(t.partitionBy, strings.TrimSpace(p))
		}
	}
	e.tables[key(db, name)] = t
	return nil
}

// projectRows evaluates a select list against the rows of t.
func (t *table) projectRows(distinct bool, projection, cond string) ([]string, [][]any, error) {
	rows, err := t.filter(cond)
	if err != nil {
		return nil, nil, err
	}
	cols := t.columns
	if strings.TrimSpace(projection) != "*" {
		cols = nil
		for _, c := range splitTopLevel(projection) {
			cols = append(cols, strings.TrimSpace(c))
		}
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		if idx[i] = t.index(c); idx[i] >= 0 {
			continue
		}
		// Conversion functions are reduced to the column they wrap.
		if m := reWrapped.FindStringSubmatch(c); m != nil {
			idx[i] = t.index(m[1])
		}
		if idx[i] < 0 {
			return nil, nil, fmt.Errorf("drivertest: no column %q", c)
		}
	}
	seen := make(map[string]bool)
	var out [][]any
	for _, r := range rows {
		p := make([]any, len(idx))
		for i, j := range idx {
			p[i] = r[j]
		}
		if distinct {
			k := fmt.Sprintf("%#v", p)
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, p)
	}
	return cols, out, nil
}

func (e *Engine) selectRows(distinct bool, projection, db, name, cond string) (*driver.Result, error) {
	t, err := e.lookup(db, name)
	if err != nil {
		return nil, err
	}
	cols, rows, err := t.projectRows(distinct, projection, cond)
	if err != nil {
		return nil, err
	}
	return &driver.Result{Columns: cols, Rows: rows}, nil
}

func (e *Engine) insertSelect(db, name, columnList, sel string) error {
	dst, err := e.lookup(db, name)
	if err != nil {
		return err
	}
	m := reSelect.FindStringSubmatch(sel)
	if m == nil {
		return fmt.Errorf("drivertest: unsupported select %q", sel)
	}
	src, err := e.lookup(m[3], m[4])
	if err != nil {
		return err
	}
	_, rows, err := src.projectRows(m[1] != "", m[2], m[5])
	if err != nil {
		return err
	}
	var columns []string
	if columnList != "" {
		for _, c := range strings.Split(columnList, ",") {
			columns = append(columns, strings.TrimSpace(c))
		}
	}
	for _, r := range rows {
		if err := dst.appendRow(columns, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) minMax(fn, col, db, name, cond string) (*driver.Result, error) {
	t, err := e.lookup(db, name)
	if err != nil {
		return nil, err
	}
	idx := t.index(col)
	if idx < 0 {
		return nil, fmt.Errorf("drivertest: no column %q", col)
	}
	rows, err := t.filter(cond)
	if err != nil {
		return nil, err
	}
	var best any
	for _, r := range rows {
		v := r[idx]
		if best == nil || (fn == "min" && less(v, best)) || (fn == "max" && less(best, v)) {
			best = v
		}
	}
	return scalar(fn+"("+col+")", best), nil
}

func less(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Before(tb)
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func (e *Engine) mutate(db, name, command string, apply func(*table) error) error {
	t, err := e.lookup(db, name)
	if err != nil {
		return err
	}
	// Validate the mutation eagerly, as the server does on submission.
	probe := &table{columns: t.columns, types: t.types}
	if err := apply(probe); err != nil {
		return err
	}
	mu := &Mutation{
		ID:         fmt.Sprintf("mutation_%d.txt", e.seq+1),
		Database:   db,
		Table:      name,
		Command:    command,
		CreateTime: e.nextTime(),
		apply:      func() { _ = apply(t) },
	}
	e.mutations = append(e.mutations, mu)
	if !e.HoldMutations {
		mu.apply()
		mu.IsDone = true
	}
	return nil
}

func (e *Engine) dropPartition(db, name, values string) error {
	t, err := e.lookup(db, name)
	if err != nil {
		return err
	}
	if len(t.partitionBy) == 0 {
		return fmt.Errorf("drivertest: %s.%s is not partitioned", db, name)
	}
	var lits []string
	for _, v := range splitLiterals(values) {
		lits = append(lits, parseLiteral(v))
	}
	if len(lits) != len(t.partitionBy) {
		return fmt.Errorf("drivertest: partition key has %d values, want %d", len(lits), len(t.partitionBy))
	}
	kept := t.rows[:0]
	for _, r := range t.rows {
		match := true
		for i, col := range t.partitionBy {
			if fmt.Sprint(r[t.index(col)]) != lits[i] {
				match = false
				break
			}
		}
		if !match {
			kept = append(kept, r)
		}
	}
	t.rows = kept
	return nil
}

var reWrapped = regexp.MustCompile(`\(\s*(\w+)\s*[,)]`)

// splitTopLevel splits on commas outside parentheses and string literals.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	inStr := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && inStr:
			i++
		case c == '\'':
			inStr = !inStr
		case inStr:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func splitLiterals(s string) []string {
	var out []string
	var cur strings.Builder
	inStr := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && inStr && i+1 < len(s):
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i++
			continue
		case c == '\'':
			inStr = !inStr
		case c == ',' && !inStr:
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	if strings.TrimSpace(cur.String()) != "" {
		out = append(out, strings.TrimSpace(cur.String()))
	}
	return out
}

// parseLiteral returns the textual value of a SQL literal.
func parseLiteral(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, `\'`, `'`)
		return strings.ReplaceAll(s, `\\`, `\`)
	}
	return s
}

type term struct {
	col string
	val string
}

var reAnd = regexp.MustCompile(`(?i)\s+AND\s+`)

func parseCond(cond string) (terms []term, always bool, err error) {
	cond = strings.TrimSpace(cond)
	if cond == "" || cond == "1" {
		return nil, true, nil
	}
	for _, part := range reAnd.Split(cond, -1) {
		col, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, false, fmt.Errorf("drivertest: unsupported condition %q", part)
		}
		terms = append(terms, term{col: strings.TrimSpace(col), val: parseLiteral(val)})
	}
	return terms, false, nil
}

func (t *table) matcher(cond string) (func([]any) bool, error) {
	terms, always, err := parseCond(cond)
	if err != nil {
		return nil, err
	}
	if always {
		return func([]any) bool { return true }, nil
	}
	idx := make([]int, len(terms))
	for i, tm := range terms {
		if idx[i] = t.index(tm.col); idx[i] < 0 {
			return nil, fmt.Errorf("drivertest: no column %q", tm.col)
		}
	}
	return func(r []any) bool {
		for i, tm := range terms {
			if fmt.Sprint(r[idx[i]]) != tm.val {
				return false
			}
		}
		return true
	}, nil
}

func (t *table) filter(cond string) ([][]any, error) {
	match, err := t.matcher(cond)
	if err != nil {
		return nil, err
	}
	var out [][]any
	for _, r := range t.rows {
		if match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *table) delete(cond string) error {
	match, err := t.matcher(cond)
	if err != nil {
		return err
	}
	kept := make([][]any, 0, len(t.rows))
	for _, r := range t.rows {
		if !match(r) {
			kept = append(kept, r)
		}
	}
	t.rows = kept
	return nil
}

func (t *table) update(set, cond string) error {
	match, err := t.matcher(cond)
	if err != nil {
		return err
	}
	type assign struct {
		idx int
		val string
	}
	var assigns []assign
	for _, part := range splitLiterals(set) {
		col, val, ok := strings.Cut(part, "=")
		if !ok {
			return fmt.Errorf("drivertest: unsupported assignment %q", part)
		}
		idx := t.index(strings.TrimSpace(col))
		if idx < 0 {
			return fmt.Errorf("drivertest: no column %q", strings.TrimSpace(col))
		}
		assigns = append(assigns, assign{idx: idx, val: parseLiteral(val)})
	}
	for _, r := range t.rows {
		if match(r) {
			for _, a := range assigns {
				r[a.idx] = a.val
			}
		}
	}
	return nil
}

// CreateTable registers a table from "name Type" column definitions.
func (e *Engine) CreateTable(ref ddl.TableRef, columns ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &table{}
	for _, def := range columns {
		name, typ, _ := strings.Cut(def, " ")
		t.columns = append(t.columns, name)
		t.types = append(t.types, typ)
	}
	e.tables[key(ref.Database, ref.Table)] = t
}

// AddRows appends rows positionally. It panics if the table does not exist.
func (e *Engine) AddRows(ref ddl.TableRef, rows ...[]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.tables[key(ref.Database, ref.Table)]
	for _, r := range rows {
		t.rows = append(t.rows, append([]any(nil), r...))
	}
}

// Rows returns a copy of the rows of ref, or nil if it does not exist.
func (e *Engine) Rows(ref ddl.TableRef) [][]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[key(ref.Database, ref.Table)]
	if !ok {
		return nil
	}
	out := make([][]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// HasTable reports whether ref exists.
func (e *Engine) HasTable(ref ddl.TableRef) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tables[key(ref.Database, ref.Table)]
	return ok
}

// AddMutation seeds the registry with a mutation that has no effect on data.
func (e *Engine) AddMutation(ref ddl.TableRef, command string, done bool) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu := &Mutation{
		ID:         "mutation_" + strconv.Itoa(e.seq+1) + ".txt",
		Database:   ref.Database,
		Table:      ref.Table,
		Command:    command,
		CreateTime: e.nextTime(),
		IsDone:     done,
		apply:      func() {},
	}
	e.mutations = append(e.mutations, mu)
	return mu.ID
}

// CompleteMutations applies and finishes every pending mutation.
func (e *Engine) CompleteMutations() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, mu := range e.mutations {
		if !mu.IsDone {
			mu.apply()
			mu.IsDone = true
		}
	}
}

// Mutations returns a snapshot of the registry in creation order.
func (e *Engine) Mutations() []Mutation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Mutation, len(e.mutations))
	for i, mu := range e.mutations {
		out[i] = *mu
	}
	return out
}

// Statements returns every statement received in order, failed ones included.
func (e *Engine) Statements() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.statements...)
}

// CountStatements returns how many received statements start with prefix.
func (e *Engine) CountStatements(prefix string) int {
	n := 0
	for _, s := range e.Statements() {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}
