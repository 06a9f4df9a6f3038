package sqlitestore

import (
	"context"
	"fmt"
)

// LoadEmojiCounts reads every counter, keyed by tenant then emoji name.
func (s *Store) LoadEmojiCounts(ctx context.Context) (map[string]map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, emoji, count FROM emoji_usage
	`)
	if err != nil {
		return nil, fmt.Errorf("load emoji counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]int64)
	for rows.Next() {
		var tenantID, emoji string
		var count int64
		if err := rows.Scan(&tenantID, &emoji, &count); err != nil {
			return nil, fmt.Errorf("load emoji counts: %w", err)
		}
		if out[tenantID] == nil {
			out[tenantID] = make(map[string]int64)
		}
		out[tenantID][emoji] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load emoji counts: %w", err)
	}
	return out, nil
}

// SaveEmojiCounts upserts the snapshot in one transaction, replacing prior
// values for the same (tenant, emoji) keys.
func (s *Store) SaveEmojiCounts(ctx context.Context, counts map[string]map[string]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save emoji counts: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO emoji_usage (tenant_id, emoji, count) VALUES (?, ?, ?)
		ON CONFLICT(tenant_id, emoji) DO UPDATE SET count = excluded.count
	`)
	if err != nil {
		return fmt.Errorf("save emoji counts: %w", err)
	}
	defer stmt.Close()

	for tenantID, byName := range counts {
		for emoji, count := range byName {
			if _, err := stmt.ExecContext(ctx, tenantID, emoji, count); err != nil {
				return fmt.Errorf("save emoji counts: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save emoji counts: %w", err)
	}
	return nil
}

// DeleteEmojiCounts removes every counter the tenant holds.
func (s *Store) DeleteEmojiCounts(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM emoji_usage WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("delete emoji counts: %w", err)
	}
	return nil
}
