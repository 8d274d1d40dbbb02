package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/satchelhq/satchel/internal/portal"
)

// CreateLink persists a curated quick link.
func (s *Store) CreateLink(ctx context.Context, l portal.QuickLink) (*portal.QuickLink, error) {
	if l.Title == "" || l.URL == "" {
		return nil, fmt.Errorf("link title and url must not be empty")
	}
	if !l.MinRole.Valid() {
		l.MinRole = portal.RoleGuest
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	l.ID = id.String()
	l.CreatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quick_links (id, title, url, category, min_role, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.Title, l.URL, l.Category, l.MinRole, l.Position, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}
	return &l, nil
}

// UpdateLink replaces a link's fields.
func (s *Store) UpdateLink(ctx context.Context, l portal.QuickLink) error {
	if !l.MinRole.Valid() {
		return fmt.Errorf("invalid link role %q", l.MinRole)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE quick_links SET title = ?, url = ?, category = ?, min_role = ?, position = ?
		WHERE id = ?
	`, l.Title, l.URL, l.Category, l.MinRole, l.Position, l.ID)
	if err != nil {
		return fmt.Errorf("update link: %w", err)
	}
	return requireAffected(result, "link", l.ID)
}

// DeleteLink removes a link.
func (s *Store) DeleteLink(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM quick_links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	return requireAffected(result, "link", id)
}

// Links lists all quick links in display order.
func (s *Store) Links(ctx context.Context) ([]portal.QuickLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, url, category, min_role, position, created_at
		FROM quick_links ORDER BY position, title
	`)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var links []portal.QuickLink
	for rows.Next() {
		var l portal.QuickLink
		var createdAt string
		if err := rows.Scan(&l.ID, &l.Title, &l.URL, &l.Category, &l.MinRole, &l.Position, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		links = append(links, l)
	}
	return links, rows.Err()
}

// LinksForRole lists links visible to the given role.
func (s *Store) LinksForRole(ctx context.Context, role portal.Role) ([]portal.QuickLink, error) {
	all, err := s.Links(ctx)
	if err != nil {
		return nil, err
	}
	visible := all[:0]
	for _, l := range all {
		if l.VisibleTo(role) {
			visible = append(visible, l)
		}
	}
	return visible, nil
}
