package history

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"callsignal/internal/calls"
	"callsignal/pkg/utils"
)

// Store persists finalized sessions. It satisfies calls.Recorder.
//
// Records are insert-only; saving the same call twice keeps the first copy.
type Store interface {
	Save(ctx context.Context, s calls.Session) error
	ListRecent(ctx context.Context, userID string, limit int) ([]Record, error)
	ListRange(ctx context.Context, userID string, from, to time.Time) ([]Record, error)
}

type PostgresStore struct {
	db utils.Querier
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertRecord = `
INSERT INTO call_history (
	call_id, caller_id, callee_id, call_type, status,
	start_time, accepted_time, end_time, duration_seconds,
	ended_by, rejected_by, end_reason
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (call_id) DO NOTHING`

const selectColumns = `
SELECT call_id, caller_id, callee_id, call_type, status,
	start_time, accepted_time, end_time, duration_seconds,
	COALESCE(ended_by, ''), COALESCE(rejected_by, ''), COALESCE(end_reason, '')
FROM call_history`

func (s *PostgresStore) Save(ctx context.Context, r calls.Session) error {
	_, err := s.db.ExecContext(ctx, insertRecord,
		r.CallID, r.CallerID, r.CalleeID, string(r.Kind), string(r.Status),
		r.StartTime, nullTime(r.AcceptedTime), nullTime(r.EndTime), r.DurationSeconds,
		nullString(r.EndedBy), nullString(r.RejectedBy), nullString(string(r.EndReason)),
	)
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", r.CallID, err)
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, userID string, limit int) ([]Record, error) {
	return s.query(ctx, selectColumns+`
WHERE caller_id = $1 OR callee_id = $1
ORDER BY start_time DESC
LIMIT $2`, userID, limit)
}

func (s *PostgresStore) ListRange(ctx context.Context, userID string, from, to time.Time) ([]Record, error) {
	return s.query(ctx, selectColumns+`
WHERE (caller_id = $1 OR callee_id = $1)
  AND start_time >= $2 AND start_time < $3
ORDER BY start_time DESC`, userID, from, to)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                   Record
			kind, status        string
			accepted, ended     sql.NullTime
			endedBy, rejectedBy string
			reason              string
		)
		if err := rows.Scan(
			&r.CallID, &r.CallerID, &r.CalleeID, &kind, &status,
			&r.StartTime, &accepted, &ended, &r.DurationSeconds,
			&endedBy, &rejectedBy, &reason,
		); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Kind = calls.Kind(kind)
		r.Status = calls.Status(status)
		r.AcceptedTime = timePtr(accepted)
		r.EndTime = timePtr(ended)
		r.EndedBy = endedBy
		r.RejectedBy = rejectedBy
		r.EndReason = calls.EndReason(reason)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// MemoryStore is a simple in-memory store useful for tests and local runs.
// It is not intended for production use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Save(_ context.Context, r calls.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[r.CallID]; exists {
		return nil
	}
	m.records[r.CallID] = r
	return nil
}

func (m *MemoryStore) ListRecent(_ context.Context, userID string, limit int) ([]Record, error) {
	out := m.filter(func(r Record) bool { return r.IsParty(userID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListRange(_ context.Context, userID string, from, to time.Time) ([]Record, error) {
	return m.filter(func(r Record) bool {
		return r.IsParty(userID) && !r.StartTime.Before(from) && r.StartTime.Before(to)
	}), nil
}

// filter returns matching records, newest first.
func (m *MemoryStore) filter(keep func(Record) bool) []Record {
	m.mu.Lock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}
