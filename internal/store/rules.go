package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/satchelhq/satchel/internal/portal"
)

// CreateRule persists a new moderation rule and returns it with its
// generated id and timestamps.
func (s *Store) CreateRule(ctx context.Context, r portal.Rule) (*portal.Rule, error) {
	if _, err := portal.ParseRuleType(string(r.Type)); err != nil {
		return nil, err
	}
	if _, err := portal.ParseRuleAction(string(r.Action)); err != nil {
		return nil, err
	}
	if r.Value == "" {
		return nil, fmt.Errorf("rule value must not be empty")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	r.ID = id.String()
	r.Active = true
	r.Hits = 0
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, type, action, value, case_sensitive, severity, active, hits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
	`, r.ID, r.Type, r.Action, r.Value, boolInt(r.CaseSensitive), r.Severity,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}
	return &r, nil
}

// UpdateRule replaces a rule's matchable fields. Hit counts and
// creation time are preserved.
func (s *Store) UpdateRule(ctx context.Context, r portal.Rule) error {
	if _, err := portal.ParseRuleType(string(r.Type)); err != nil {
		return err
	}
	if _, err := portal.ParseRuleAction(string(r.Action)); err != nil {
		return err
	}
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE rules SET type = ?, action = ?, value = ?, case_sensitive = ?, severity = ?, updated_at = ?
		WHERE id = ?
	`, r.Type, r.Action, r.Value, boolInt(r.CaseSensitive), r.Severity, now.Format(time.RFC3339), r.ID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return requireAffected(result, "rule", r.ID)
}

// SetRuleActive toggles a rule without losing its hit history.
func (s *Store) SetRuleActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules SET active = ?, updated_at = ? WHERE id = ?
	`, boolInt(active), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("toggle rule: %w", err)
	}
	return requireAffected(result, "rule", id)
}

// DeleteRule removes a rule permanently.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return requireAffected(result, "rule", id)
}

// Rule retrieves one rule by id.
func (s *Store) Rule(ctx context.Context, id string) (*portal.Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `
		SELECT id, type, action, value, case_sensitive, severity, active, hits, created_at, updated_at
		FROM rules WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule not found: %s", id)
	}
	return r, err
}

// Rules lists every rule, newest first.
func (s *Store) Rules(ctx context.Context) ([]portal.Rule, error) {
	return s.queryRules(ctx, `
		SELECT id, type, action, value, case_sensitive, severity, active, hits, created_at, updated_at
		FROM rules ORDER BY created_at DESC
	`)
}

// ActiveRules lists rules the safety filter should apply. Implements
// the filter's rule source.
func (s *Store) ActiveRules(ctx context.Context) ([]portal.Rule, error) {
	return s.queryRules(ctx, `
		SELECT id, type, action, value, case_sensitive, severity, active, hits, created_at, updated_at
		FROM rules WHERE active = 1 ORDER BY created_at
	`)
}

// RecordHit atomically increments a rule's hit counter. Concurrent
// increments never lose updates: the addition happens inside SQLite.
func (s *Store) RecordHit(ctx context.Context, ruleID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE rules SET hits = hits + 1 WHERE id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("record hit: %w", err)
	}
	return requireAffected(result, "rule", ruleID)
}

func (s *Store) queryRules(ctx context.Context, query string) ([]portal.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []portal.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRule(row scannable) (*portal.Rule, error) {
	var r portal.Rule
	var caseSensitive, active int
	var createdAt, updatedAt string

	err := row.Scan(&r.ID, &r.Type, &r.Action, &r.Value, &caseSensitive, &r.Severity,
		&active, &r.Hits, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.CaseSensitive = caseSensitive != 0
	r.Active = active != 0
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(result sql.Result, kind, id string) error {
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
