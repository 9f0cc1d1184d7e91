// Package sqlite provides the SQLite-backed audit sink. It is the durable
// alternative to the JSONL file sink; queries hit indexed columns instead of
// scanning log files.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id          TEXT PRIMARY KEY,
	ts          INTEGER NOT NULL,
	trace_id    TEXT NOT NULL,
	request_id  TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	details     TEXT,
	before_json TEXT,
	after_json  TEXT,
	review      TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(ts);
CREATE INDEX IF NOT EXISTS idx_audit_trace ON audit_entries(trace_id, ts);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_entries(event_type, ts);
`

// AuditSink persists audit entries to a SQLite database. Filterable fields
// live in indexed columns; the open-ended maps are stored as JSON text.
type AuditSink struct {
	db *sql.DB
}

// NewAuditSink opens (or creates) the database at path and applies the
// schema. Use ":memory:" for tests.
func NewAuditSink(path string) (*AuditSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent flushes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &AuditSink{db: db}, nil
}

// Persist implements the sink port. The whole batch lands in one
// transaction so a crash never leaves a partial flush behind.
func (s *AuditSink) Persist(ctx context.Context, entries []*audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO audit_entries
		(id, ts, trace_id, request_id, event_type, severity, actor, action,
		 target, details, before_json, after_json, review)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		details, err := marshalNullable(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details for %s: %w", e.ID, err)
		}
		before, err := marshalNullable(e.Before)
		if err != nil {
			return fmt.Errorf("marshal before for %s: %w", e.ID, err)
		}
		after, err := marshalNullable(e.After)
		if err != nil {
			return fmt.Errorf("marshal after for %s: %w", e.ID, err)
		}
		var review sql.NullString
		if e.Review != nil {
			data, err := json.Marshal(e.Review)
			if err != nil {
				return fmt.Errorf("marshal review for %s: %w", e.ID, err)
			}
			review = sql.NullString{String: string(data), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp.UnixNano(), e.TraceID, e.RequestID,
			string(e.EventType), string(e.Severity), e.Actor, e.Action,
			e.Target, details, before, after, review,
		); err != nil {
			return fmt.Errorf("insert audit entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// Query implements the queryable sink port, oldest first.
func (s *AuditSink) Query(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	var (
		conds []string
		args  []interface{}
	)
	if !filter.StartTime.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		conds = append(conds, "ts <= ?")
		args = append(args, filter.EndTime.UnixNano())
	}
	if len(filter.EventTypes) > 0 {
		conds = append(conds, "event_type IN ("+placeholders(len(filter.EventTypes))+")")
		for _, t := range filter.EventTypes {
			args = append(args, string(t))
		}
	}
	if len(filter.Severities) > 0 {
		conds = append(conds, "severity IN ("+placeholders(len(filter.Severities))+")")
		for _, sv := range filter.Severities {
			args = append(args, string(sv))
		}
	}
	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.TraceID != "" {
		conds = append(conds, "trace_id = ?")
		args = append(args, filter.TraceID)
	}

	query := `SELECT id, ts, trace_id, request_id, event_type, severity, actor,
		action, target, details, before_json, after_json, review FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(rows *sql.Rows) (*audit.Entry, error) {
	var (
		e                      audit.Entry
		ts                     int64
		eventType, severity    string
		details, before, after sql.NullString
		review                 sql.NullString
	)
	if err := rows.Scan(&e.ID, &ts, &e.TraceID, &e.RequestID, &eventType,
		&severity, &e.Actor, &e.Action, &e.Target, &details, &before, &after,
		&review); err != nil {
		return nil, fmt.Errorf("scan audit row: %w", err)
	}
	e.Timestamp = time.Unix(0, ts).UTC()
	e.EventType = audit.EventType(eventType)
	e.Severity = audit.Severity(severity)

	var err error
	if e.Details, err = unmarshalNullable(details); err != nil {
		return nil, fmt.Errorf("decode details for %s: %w", e.ID, err)
	}
	if e.Before, err = unmarshalNullable(before); err != nil {
		return nil, fmt.Errorf("decode before for %s: %w", e.ID, err)
	}
	if e.After, err = unmarshalNullable(after); err != nil {
		return nil, fmt.Errorf("decode after for %s: %w", e.ID, err)
	}
	if review.Valid {
		var r audit.HumanReview
		if err := json.Unmarshal([]byte(review.String), &r); err != nil {
			return nil, fmt.Errorf("decode review for %s: %w", e.ID, err)
		}
		e.Review = &r
	}
	return &e, nil
}

// Purge deletes entries older than the cutoff and returns how many were
// removed. Callers run this on a retention schedule.
func (s *AuditSink) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_entries WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return res.RowsAffected()
}

// Close implements the sink port.
func (s *AuditSink) Close() error {
	return s.db.Close()
}

func marshalNullable(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable(ns sql.NullString) (map[string]interface{}, error) {
	if !ns.Valid {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Compile-time interface verification.
var _ outbound.QueryableSink = (*AuditSink)(nil)
