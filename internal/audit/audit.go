// Package audit implements the Audit Log: an append-only,
// best-effort-durable record of security and lifecycle events, with an
// in-memory bounded ring for fast recent-history reads and a pluggable sink
// for durable persistence, covering the full domain.AuditEvent contract
// rather than just HTTP-request fields.
package audit

import (
	"sync"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/logging"
	"github.com/festion/homelab-gitops-auditor/internal/security"
)

// Sink persists audit events durably. Write must be safe for concurrent use.
// A sink failure is logged but never blocks or fails the caller, and never
// returns an error to the caller that produced the event.
type Sink interface {
	Write(event domain.AuditEvent) error
}

// Log is the process-wide audit log: a bounded in-memory ring plus an
// optional durable Sink.
type Log struct {
	mu      sync.Mutex
	entries []domain.AuditEvent
	max     int
	sink    Sink
	logger  *logging.Logger
	nextID  uint64
	idPfx   string
}

// Config controls ring size and ID prefixing.
type Config struct {
	MaxEntries int
	IDPrefix   string
}

// DefaultConfig returns the default ring size (200 entries).
func DefaultConfig() Config {
	return Config{MaxEntries: 200, IDPrefix: "evt"}
}

// New constructs a Log. sink may be nil, in which case events are only kept
// in the bounded ring.
func New(cfg Config, sink Sink, logger *logging.Logger) *Log {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 200
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "evt"
	}
	return &Log{max: cfg.MaxEntries, sink: sink, logger: logger, idPfx: cfg.IDPrefix}
}

// Record appends event to the log: assigns an ID if absent, redacts Details
// via security.SanitizeDetails, stores it in the ring, and best-effort
// persists it through the sink. Record never returns an error.
func (l *Log) Record(event domain.AuditEvent) domain.AuditEvent {
	event.Details = security.SanitizeDetails(event.Details)

	l.mu.Lock()
	if event.ID == "" {
		l.nextID++
		event.ID = idFor(l.idPfx, l.nextID)
	}
	l.entries = append(l.entries, event)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		if err := sink.Write(event); err != nil && l.logger != nil {
			l.logger.WithError(err).WithFields(map[string]interface{}{
				"action": event.Action, "resource": event.Resource,
			}).Warn("audit sink write failed")
		}
	}
	return event
}

// Recent returns up to limit of the most recently recorded events, newest
// last. limit<=0 or >ring size returns the whole ring.
func (l *Log) Recent(limit int) []domain.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]domain.AuditEvent, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// Query filters the in-memory ring by the given domain.AuditFilter. It is
// intentionally best-effort against the ring only; durable history queries
// go through the Store's query_history capability, which a Postgres
// sink backs with an indexed table.
func (l *Log) Query(filter domain.AuditFilter) []domain.AuditEvent {
	l.mu.Lock()
	all := make([]domain.AuditEvent, len(l.entries))
	copy(all, l.entries)
	l.mu.Unlock()

	matched := make([]domain.AuditEvent, 0, len(all))
	for _, e := range all {
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		matched = append(matched, e)
	}

	if filter.Offset > 0 && filter.Offset < len(matched) {
		matched = matched[filter.Offset:]
	} else if filter.Offset >= len(matched) {
		matched = nil
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched
}

func idFor(prefix string, n uint64) string {
	const hex = "0123456789abcdef"
	buf := []byte(prefix + "-")
	if n == 0 {
		return string(append(buf, '0'))
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{hex[n%16]}, digits...)
		n /= 16
	}
	return string(append(buf, digits...))
}
