package ports

import (
	"context"

	"github.com/wardenhq/warden/domain/entities"
)

// PolicyStore persists permission rule sets keyed by (tenant, command).
type PolicyStore interface {
	// LoadPolicies retrieves every persisted rule set, keyed by tenant then
	// command name. Returns an empty map (not an error) when none exist.
	LoadPolicies(ctx context.Context) (map[string]map[string]entities.RuleSet, error)

	// SavePolicy persists one rule set, replacing any previous record for the
	// same (tenant, command) key.
	SavePolicy(ctx context.Context, tenantID, command string, rs entities.RuleSet) error

	// DeletePolicies removes every rule set belonging to the tenant.
	DeletePolicies(ctx context.Context, tenantID string) error
}

// CommandStore persists tenant-defined custom commands.
type CommandStore interface {
	// LoadCustomCommands retrieves every persisted definition.
	LoadCustomCommands(ctx context.Context) ([]entities.CustomCommand, error)

	// UpsertCustomCommand creates or replaces one definition.
	UpsertCustomCommand(ctx context.Context, def entities.CustomCommand) error

	// DeleteCustomCommand removes one definition. Deleting an absent
	// definition is a no-op.
	DeleteCustomCommand(ctx context.Context, tenantID, name string) error

	// DeleteTenantCommands removes every definition owned by the tenant.
	DeleteTenantCommands(ctx context.Context, tenantID string) error
}

// EmojiStore persists the emoji usage snapshot.
type EmojiStore interface {
	// LoadEmojiCounts retrieves the persisted counters, keyed by tenant then
	// emoji name.
	LoadEmojiCounts(ctx context.Context) (map[string]map[string]int64, error)

	// SaveEmojiCounts persists the given counters, replacing prior values for
	// the same (tenant, emoji) keys.
	SaveEmojiCounts(ctx context.Context, counts map[string]map[string]int64) error

	// DeleteEmojiCounts removes every counter belonging to the tenant.
	DeleteEmojiCounts(ctx context.Context, tenantID string) error
}
