package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

// FileSink appends audit events as JSONL, one object per line.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (creating if needed) path for append. An empty path
// returns (nil, nil): the caller ends up with no durable sink.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

// Write appends event as a single JSON line.
func (s *FileSink) Write(event domain.AuditEvent) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}

// PostgresSink persists audit events to the audit_log table, covering the
// full event shape (actor/action/resource/result/details) rather than just
// HTTP-request fields.
type PostgresSink struct {
	db *sqlx.DB
}

// NewPostgresSink wraps db. A nil db returns a nil Sink-typed value so
// callers may pass it straight to audit.New without a nil check.
func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	if db == nil {
		return nil
	}
	return &PostgresSink{db: db}
}

// Write inserts event into audit_log, JSON-encoding Details.
func (s *PostgresSink) Write(event domain.AuditEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	details, err := json.Marshal(event.Details)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, occurred_at, actor, action, resource, result, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.Timestamp, event.Actor, event.Action, event.Resource, event.Result, details)
	return err
}

// QueryHistory loads events from audit_log matching filter, newest last.
// Backs the Store's query_history capability when Postgres-backed.
func (s *PostgresSink) QueryHistory(filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := `SELECT id, occurred_at, actor, action, resource, result, details FROM audit_log WHERE 1=1`
	args := map[string]interface{}{}
	if filter.Actor != "" {
		query += ` AND actor = :actor`
		args["actor"] = filter.Actor
	}
	if filter.Action != "" {
		query += ` AND action = :action`
		args["action"] = filter.Action
	}
	if !filter.Since.IsZero() {
		query += ` AND occurred_at >= :since`
		args["since"] = filter.Since
	}
	if !filter.Until.IsZero() {
		query += ` AND occurred_at <= :until`
		args["until"] = filter.Until
	}
	query += ` ORDER BY occurred_at ASC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT :limit OFFSET :offset`
	args["limit"] = limit
	args["offset"] = filter.Offset

	rows, err := s.db.NamedQuery(query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e       domain.AuditEvent
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Resource, &e.Result, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
