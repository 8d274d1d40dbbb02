package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/satchelhq/satchel/internal/portal"
)

// ReviewEntry is one item in the moderation review queue: a rating
// that crossed a band boundary or a flag-rule match.
type ReviewEntry struct {
	ID        string         `json:"id"`
	Query     string         `json:"query"`
	Role      portal.Role    `json:"role"`
	Reason    string         `json:"reason"`
	Trigger   portal.Trigger `json:"trigger"`
	Score     int            `json:"score"`
	URL       string         `json:"url,omitempty"`
	Resolved  bool           `json:"resolved"`
	CreatedAt time.Time      `json:"created_at"`
}

// AddReview queues an entry for staff review.
func (s *Store) AddReview(ctx context.Context, e ReviewEntry) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, query, role, reason, trigger_level, score, url, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, id.String(), e.Query, e.Role, e.Reason, e.Trigger, e.Score, e.URL, now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// OpenReviews lists unresolved review entries, newest first.
func (s *Store) OpenReviews(ctx context.Context, limit int) ([]ReviewEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, role, reason, trigger_level, score, url, resolved, created_at
		FROM reviews WHERE resolved = 0 ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var entries []ReviewEntry
	for rows.Next() {
		var e ReviewEntry
		var resolved int
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Query, &e.Role, &e.Reason, &e.Trigger,
			&e.Score, &e.URL, &resolved, &createdAt); err != nil {
			return nil, err
		}
		e.Resolved = resolved != 0
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResolveReview marks an entry handled.
func (s *Store) ResolveReview(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE reviews SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resolve review: %w", err)
	}
	return requireAffected(result, "review", id)
}
