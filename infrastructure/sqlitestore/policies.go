package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wardenhq/warden/domain/entities"
)

// LoadPolicies reads every rule set, keyed by tenant then command.
func (s *Store) LoadPolicies(ctx context.Context) (map[string]map[string]entities.RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, command, users_json, groups_json FROM policies
	`)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]entities.RuleSet)
	for rows.Next() {
		var tenantID, command, usersJSON, groupsJSON string
		if err := rows.Scan(&tenantID, &command, &usersJSON, &groupsJSON); err != nil {
			return nil, fmt.Errorf("load policies: %w", err)
		}

		var rs entities.RuleSet
		if err := json.Unmarshal([]byte(usersJSON), &rs.Users); err != nil {
			return nil, fmt.Errorf("load policies: users for %s/%s: %w", tenantID, command, err)
		}
		if err := json.Unmarshal([]byte(groupsJSON), &rs.Groups); err != nil {
			return nil, fmt.Errorf("load policies: groups for %s/%s: %w", tenantID, command, err)
		}

		if out[tenantID] == nil {
			out[tenantID] = make(map[string]entities.RuleSet)
		}
		out[tenantID][command] = rs
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	return out, nil
}

// SavePolicy upserts the rule set for (tenant, command). Members are stored
// as sorted JSON arrays so rows diff cleanly.
func (s *Store) SavePolicy(ctx context.Context, tenantID, command string, rs entities.RuleSet) error {
	usersJSON, err := json.Marshal(rs.Users)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	groupsJSON, err := json.Marshal(rs.Groups)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (tenant_id, command, users_json, groups_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, command) DO UPDATE SET
			users_json = excluded.users_json,
			groups_json = excluded.groups_json,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, tenantID, command, string(usersJSON), string(groupsJSON))
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

// DeletePolicies removes every rule set the tenant holds.
func (s *Store) DeletePolicies(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("delete policies: %w", err)
	}
	return nil
}
