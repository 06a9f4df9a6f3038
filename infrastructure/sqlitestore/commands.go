package sqlitestore

import (
	"context"
	"fmt"

	"github.com/wardenhq/warden/domain/entities"
)

// LoadCustomCommands reads every tenant's custom command definitions.
func (s *Store) LoadCustomCommands(ctx context.Context) ([]entities.CustomCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, name, kind, body FROM custom_commands
	`)
	if err != nil {
		return nil, fmt.Errorf("load custom commands: %w", err)
	}
	defer rows.Close()

	var out []entities.CustomCommand
	for rows.Next() {
		var def entities.CustomCommand
		var kind string
		if err := rows.Scan(&def.TenantID, &def.Name, &kind, &def.Body); err != nil {
			return nil, fmt.Errorf("load custom commands: %w", err)
		}
		def.Kind = entities.CommandKind(kind)
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load custom commands: %w", err)
	}
	return out, nil
}

// UpsertCustomCommand creates or replaces a definition.
func (s *Store) UpsertCustomCommand(ctx context.Context, def entities.CustomCommand) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_commands (tenant_id, name, kind, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, name) DO UPDATE SET
			kind = excluded.kind,
			body = excluded.body,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, def.TenantID, def.Name, string(def.Kind), def.Body)
	if err != nil {
		return fmt.Errorf("upsert custom command: %w", err)
	}
	return nil
}

// DeleteCustomCommand removes one definition. Deleting a missing row is not
// an error; the registry checks existence first.
func (s *Store) DeleteCustomCommand(ctx context.Context, tenantID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM custom_commands WHERE tenant_id = ? AND name = ?
	`, tenantID, name)
	if err != nil {
		return fmt.Errorf("delete custom command: %w", err)
	}
	return nil
}

// DeleteTenantCommands removes every definition the tenant holds.
func (s *Store) DeleteTenantCommands(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM custom_commands WHERE tenant_id = ?
	`, tenantID)
	if err != nil {
		return fmt.Errorf("delete tenant commands: %w", err)
	}
	return nil
}
