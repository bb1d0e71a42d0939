// Package sqlite provides a SQLite-backed journal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spikeflow/spikeflow/pkg/journal"
)

// Journal implements journal.Journal on SQLite in WAL mode.
type Journal struct {
	db *sql.DB
}

// New opens (or creates) the database at path. Use ":memory:" for a
// throwaway journal.
func New(path string) (*Journal, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &journal.UnavailableError{Cause: err}
	}
	if path == ":memory:" {
		// every pooled connection would see its own database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, &journal.UnavailableError{Cause: fmt.Errorf("migrate: %w", err)}
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		seq     INTEGER PRIMARY KEY AUTOINCREMENT,
		kind    TEXT NOT NULL,
		subject TEXT NOT NULL,
		name    TEXT NOT NULL,
		tick    INTEGER NOT NULL,
		detail  TEXT,
		time    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
	CREATE INDEX IF NOT EXISTS idx_entries_name ON entries(name);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append inserts e and sets its Seq from the row id.
func (j *Journal) Append(ctx context.Context, e *journal.Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	var detail sql.NullString
	if len(e.Detail) > 0 {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return &journal.SerializationError{Operation: "marshal", Cause: err}
		}
		detail = sql.NullString{String: string(data), Valid: true}
	}

	res, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (kind, subject, name, tick, detail, time) VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.Subject, e.Name, e.Tick, detail, e.Time.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	e.Seq = uint64(id)
	return nil
}

// List runs the filter in SQL.
func (j *Journal) List(ctx context.Context, filter *journal.Filter) ([]*journal.Entry, int, error) {
	where, args := whereClause(filter)

	var total int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	query := `SELECT seq, kind, subject, name, tick, detail, time FROM entries` + where + ` ORDER BY seq`
	if filter != nil && (filter.Limit > 0 || filter.Offset > 0) {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*journal.Entry, 0)
	for rows.Next() {
		var (
			e      journal.Entry
			kind   string
			detail sql.NullString
			ts     string
		)
		if err := rows.Scan(&e.Seq, &kind, &e.Subject, &e.Name, &e.Tick, &detail, &ts); err != nil {
			return nil, 0, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = journal.Kind(kind)
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, 0, &journal.SerializationError{Operation: "unmarshal", Cause: err}
			}
		}
		if e.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, 0, &journal.SerializationError{Operation: "parse time", Cause: err}
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

func whereClause(filter *journal.Filter) (string, []any) {
	if filter == nil {
		return "", nil
	}
	var conds []string
	var args []any
	if filter.AfterSeq > 0 {
		conds = append(conds, "seq > ?")
		args = append(args, filter.AfterSeq)
	}
	if filter.Name != "" {
		conds = append(conds, "name = ?")
		args = append(args, filter.Name)
	}
	if len(filter.Kinds) > 0 {
		marks := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		conds = append(conds, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }
