package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/satchelhq/satchel/internal/portal"
)

// HistoryRecord is one completed search, kept for the breadcrumb
// trail and staff oversight.
type HistoryRecord struct {
	ID          string         `json:"id"`
	Query       string         `json:"query"`
	Role        portal.Role    `json:"role"`
	ResultCount int            `json:"result_count"`
	Fallback    bool           `json:"fallback"`
	Answered    bool           `json:"answered"`
	Trigger     portal.Trigger `json:"trigger,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AddHistory records a completed search.
func (s *Store) AddHistory(ctx context.Context, rec HistoryRecord) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history (id, query, role, result_count, fallback, answered, trigger_level, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), rec.Query, rec.Role, rec.ResultCount, boolInt(rec.Fallback),
		boolInt(rec.Answered), rec.Trigger, rec.DurationMS, now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// RecentHistory lists the most recent searches, newest first.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, role, result_count, fallback, answered, trigger_level, duration_ms, created_at
		FROM history ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		var fallback, answered int
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Query, &rec.Role, &rec.ResultCount,
			&fallback, &answered, &rec.Trigger, &rec.DurationMS, &createdAt); err != nil {
			return nil, err
		}
		rec.Fallback = fallback != 0
		rec.Answered = answered != 0
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
