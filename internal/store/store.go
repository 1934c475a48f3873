package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Collection names a keyed record set. Each one maps to a single table.
type Collection string

const (
	Tasks          Collection = "tasks"
	Staff          Collection = "staff"
	Projects       Collection = "projects"
	Workflows      Collection = "workflows"
	Errors         Collection = "errors"
	PendingActions Collection = "pending_actions"
)

// Record is a row as field name to cell value.
type Record map[string]string

// Clone returns a shallow copy safe to modify.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

var (
	ErrNotFound          = errors.New("not found")
	ErrUnknownField      = errors.New("unknown field")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrAppendOnly        = errors.New("collection is append-only")
)

// Change is one field overwrite inside a Batch.
type Change struct {
	Coll   Collection
	Key    string
	Fields Record
}

// Store is the keyed record access the engine needs.
type Store interface {
	Get(ctx context.Context, coll Collection, key string) (Record, error)
	// Find returns matching records in insertion order. A nil predicate matches all.
	Find(ctx context.Context, coll Collection, pred func(Record) bool) ([]Record, error)
	// Update overwrites the named fields; unknown names are rejected.
	Update(ctx context.Context, coll Collection, key string, fields Record) error
	// Append inserts a record and returns its row reference.
	Append(ctx context.Context, coll Collection, rec Record) (int64, error)
	// Mutate reads a record and writes the fields fn returns without another
	// writer interleaving. A nil result from fn writes nothing.
	Mutate(ctx context.Context, coll Collection, key string, fn func(Record) (Record, error)) error
	// Batch applies every change or none.
	Batch(ctx context.Context, changes ...Change) error
}

type schema struct {
	table      string
	key        string
	columns    []string
	appendOnly bool
}

var schemas = map[Collection]schema{
	Tasks: {table: "tasks", key: "task_id", columns: []string{
		"task_id", "status", "name", "description", "assignee", "due_date", "priority", "project_tag",
		"interaction_log", "negotiation_notes", "progress", "source", "created_at", "last_updated",
	}},
	Staff: {table: "staff", key: "email", columns: []string{
		"email", "name", "role", "reliability_score", "active_task_count", "project_tags", "created_at",
	}},
	Projects: {table: "projects", key: "project_tag", columns: []string{
		"project_tag", "project_name", "team_members", "created_at",
	}},
	Workflows: {table: "workflows", key: "workflow_id", columns: []string{
		"workflow_id", "name", "trigger_event", "conditions", "actions", "active",
	}},
	Errors: {table: "errors", key: "id", appendOnly: true, columns: []string{
		"id", "ts", "source", "task_id", "message",
	}},
	PendingActions: {table: "pending_actions", key: "id", columns: []string{
		"id", "workflow_id", "task_id", "action_json", "context_json", "due_at", "status", "attempts", "last_error", "created_at",
	}},
}

func lookup(coll Collection) (schema, error) {
	s, ok := schemas[coll]
	if !ok {
		return schema{}, fmt.Errorf("%w %q", ErrUnknownCollection, coll)
	}
	return s, nil
}

func (s schema) has(field string) bool {
	for _, c := range s.columns {
		if c == field {
			return true
		}
	}
	return false
}

// Columns lists the field names a collection accepts.
func Columns(coll Collection) []string {
	s, ok := schemas[coll]
	if !ok {
		return nil
	}
	return append([]string(nil), s.columns...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store over the migrated SQLite workspace database.
type SQLStore struct {
	DB *sql.DB

	mu sync.Mutex
}

func New(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db}
}

func (s *SQLStore) Get(ctx context.Context, coll Collection, key string) (Record, error) {
	sch, err := lookup(coll)
	if err != nil {
		return nil, err
	}
	return get(ctx, s.DB, sch, key)
}

func get(ctx context.Context, q execer, sch schema, key string) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s=?`, strings.Join(sch.columns, ","), sch.table, sch.key)
	cells := make([]sql.NullString, len(sch.columns))
	dest := make([]any, len(cells))
	for i := range cells {
		dest[i] = &cells[i]
	}
	err := q.QueryRowContext(ctx, query, key).Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s %s: %w", sch.table, key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toRecord(sch, cells), nil
}

func toRecord(sch schema, cells []sql.NullString) Record {
	rec := make(Record, len(sch.columns))
	for i, c := range sch.columns {
		rec[c] = cells[i].String
	}
	return rec
}

func (s *SQLStore) Find(ctx context.Context, coll Collection, pred func(Record) bool) ([]Record, error) {
	sch, err := lookup(coll)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY rowid ASC`, strings.Join(sch.columns, ","), sch.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		cells := make([]sql.NullString, len(sch.columns))
		dest := make([]any, len(cells))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec := toRecord(sch, cells)
		if pred == nil || pred(rec) {
			res = append(res, rec)
		}
	}
	return res, rows.Err()
}

func (s *SQLStore) Update(ctx context.Context, coll Collection, key string, fields Record) error {
	sch, err := lookup(coll)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(ctx, s.DB, sch, key, fields)
}

func update(ctx context.Context, q execer, sch schema, key string, fields Record) error {
	if sch.appendOnly {
		return fmt.Errorf("%s: %w", sch.table, ErrAppendOnly)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name == sch.key || !sch.has(name) {
			return fmt.Errorf("%s.%s: %w", sch.table, name, ErrUnknownField)
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+1)
	for i, name := range names {
		sets[i] = name + "=?"
		args = append(args, fields[name])
	}
	args = append(args, key)
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE %s=?`, sch.table, strings.Join(sets, ","), sch.key), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", sch.table, key, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, coll Collection, rec Record) (int64, error) {
	sch, err := lookup(coll)
	if err != nil {
		return 0, err
	}
	var (
		names []string
		marks []string
		args  []any
	)
	for _, c := range sch.columns {
		v, ok := rec[c]
		if !ok || (c == sch.key && v == "") {
			continue
		}
		names = append(names, c)
		marks = append(marks, "?")
		args = append(args, v)
	}
	for name := range rec {
		if !sch.has(name) {
			return 0, fmt.Errorf("%s.%s: %w", sch.table, name, ErrUnknownField)
		}
	}
	if !sch.appendOnly && rec[sch.key] == "" {
		return 0, fmt.Errorf("%s: %s is required", sch.table, sch.key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`, sch.table, strings.Join(names, ","), strings.Join(marks, ",")), args...)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", sch.table, err)
	}
	return res.LastInsertId()
}

func (s *SQLStore) Mutate(ctx context.Context, coll Collection, key string, fn func(Record) (Record, error)) error {
	sch, err := lookup(coll)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := get(ctx, s.DB, sch, key)
	if err != nil {
		return err
	}
	fields, err := fn(current)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	return update(ctx, s.DB, sch, key, fields)
}

func (s *SQLStore) Batch(ctx context.Context, changes ...Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, ch := range changes {
		sch, err := lookup(ch.Coll)
		if err != nil {
			return err
		}
		if err := update(ctx, tx, sch, ch.Key, ch.Fields); err != nil {
			return err
		}
	}
	return tx.Commit()
}
