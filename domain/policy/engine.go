// Package policy implements the per-tenant authorization engine: an in-memory
// index of permission rule sets backed by a durable store, with fail-closed
// checks and write-through mutation.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/wardenhq/warden/domain/entities"
	domerrors "github.com/wardenhq/warden/domain/errors"
	"github.com/wardenhq/warden/domain/ports"
)

// DenialHandler is invoked on every denied check. It exists for observability
// only; the decision is already made when it runs.
type DenialHandler interface {
	OnDenial(tenantID, command string, actor entities.Actor, reason string)
}

// NopDenialHandler discards denials. Useful in tests.
type NopDenialHandler struct{}

// OnDenial implements DenialHandler.
func (NopDenialHandler) OnDenial(string, string, entities.Actor, string) {}

// engineConfig holds configuration for the Engine.
type engineConfig struct {
	denialHandler DenialHandler
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		denialHandler: &SlogDenialHandler{},
	}
}

// Option configures the Engine.
type Option func(*engineConfig)

// WithDenialHandler sets the denial handler.
func WithDenialHandler(h DenialHandler) Option {
	return func(c *engineConfig) {
		c.denialHandler = h
	}
}

// Engine owns the in-memory policy index. All reads and writes of rule sets go
// through its methods; no other component touches the index directly.
//
// Mutations are write-through: the new rule set is persisted first and
// committed to memory only when the store succeeds, so a crash mid-mutation
// loses at most the last change and never leaves memory ahead of storage.
type Engine struct {
	store  ports.PolicyStore
	config engineConfig

	mu     sync.RWMutex
	rules  map[string]map[string]entities.RuleSet // tenant -> command -> rule set
	loaded bool

	keys keyedLocks
}

// NewEngine creates an Engine over the given store. The engine refuses to
// serve authorization decisions until Load has succeeded.
func NewEngine(store ports.PolicyStore, opts ...Option) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		store:  store,
		config: cfg,
		rules:  make(map[string]map[string]entities.RuleSet),
	}
}

// Load bulk-loads every persisted rule set into memory. Until it succeeds,
// Check denies everything and mutations fail. Safe to call again after a
// failed attempt.
func (e *Engine) Load(ctx context.Context) error {
	all, err := e.store.LoadPolicies(ctx)
	if err != nil {
		return &domerrors.StorageError{Operation: "load_policies", Err: err}
	}

	rules := make(map[string]map[string]entities.RuleSet, len(all))
	for tenant, cmds := range all {
		rules[tenant] = make(map[string]entities.RuleSet, len(cmds))
		for cmd, rs := range cmds {
			rules[tenant][cmd] = rs.Clone()
		}
	}

	e.mu.Lock()
	e.rules = rules
	e.loaded = true
	e.mu.Unlock()
	return nil
}

// Loaded reports whether the initial bulk load has completed.
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Check reports whether the actor may run the command in the tenant. With an
// explicit rule set the actor must match by user id or group membership; with
// none, the command's fallback decides. An unloaded engine denies everything
// and returns an error (fail-closed).
func (e *Engine) Check(tenantID, command string, actor entities.Actor, fallback entities.Fallback) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.loaded {
		return false, &domerrors.StorageError{Operation: "check", Err: fmt.Errorf("policy index not loaded")}
	}

	rs, ok := e.rules[tenantID][command]
	if !ok {
		switch fallback {
		case entities.FallbackTenant:
			if actor.InGroup(tenantID) {
				return true, nil
			}
		}
		e.config.denialHandler.OnDenial(tenantID, command, actor, "no rule set")
		return false, nil
	}

	if rs.Permits(actor) {
		return true, nil
	}
	e.config.denialHandler.OnDenial(tenantID, command, actor, "not in rule set")
	return false, nil
}

// RuleSet returns a copy of the explicit rule set for (tenant, command) and
// whether one exists.
func (e *Engine) RuleSet(tenantID, command string) (entities.RuleSet, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rs, ok := e.rules[tenantID][command]
	if !ok {
		return entities.RuleSet{}, false
	}
	return rs.Clone(), true
}

// Change applies one rule-set mutation: additions first, then removals
// (removals win on overlap). Changes to the same (tenant, command) key are
// serialized, including persistence; changes to different keys proceed
// independently. Idempotent: repeating a change leaves the rule set unchanged.
func (e *Engine) Change(ctx context.Context, tenantID, command string, change entities.RuleSetChange) error {
	tl := e.keys.tenant(tenantID)
	tl.rw.RLock()
	defer tl.rw.RUnlock()
	unlock := tl.lockKey(command)
	defer unlock()

	e.mu.RLock()
	if !e.loaded {
		e.mu.RUnlock()
		return &domerrors.StorageError{Operation: "change", Err: fmt.Errorf("policy index not loaded")}
	}
	current, ok := e.rules[tenantID][command]
	if !ok {
		current = entities.NewRuleSet()
	}
	e.mu.RUnlock()

	next := current.Apply(change)
	if err := e.store.SavePolicy(ctx, tenantID, command, next); err != nil {
		return &domerrors.StorageError{Operation: "save_policy", Err: err}
	}

	e.commit(tenantID, command, next)
	return nil
}

// Seed installs the tenant-join grants: for each command name, a rule set
// granting the group equal to the tenant id ("everyone in this tenant").
// Commands that already carry a rule set are left untouched, so a rejoining
// tenant keeps its admin edits.
func (e *Engine) Seed(ctx context.Context, tenantID string, commands []string) error {
	tl := e.keys.tenant(tenantID)
	tl.rw.RLock()
	defer tl.rw.RUnlock()

	for _, cmd := range commands {
		if err := e.seedOne(ctx, tl, tenantID, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) seedOne(ctx context.Context, tl *tenantLock, tenantID, command string) error {
	unlock := tl.lockKey(command)
	defer unlock()

	e.mu.RLock()
	if !e.loaded {
		e.mu.RUnlock()
		return &domerrors.StorageError{Operation: "seed", Err: fmt.Errorf("policy index not loaded")}
	}
	_, exists := e.rules[tenantID][command]
	e.mu.RUnlock()
	if exists {
		return nil
	}

	rs := entities.NewRuleSet()
	rs.Groups[tenantID] = struct{}{}
	if err := e.store.SavePolicy(ctx, tenantID, command, rs); err != nil {
		return &domerrors.StorageError{Operation: "save_policy", Err: err}
	}
	e.commit(tenantID, command, rs)
	return nil
}

// RemoveTenant purges every rule set for the tenant, store first. If the store
// purge fails, memory is left untouched and the caller must not treat the
// tenant as gone.
func (e *Engine) RemoveTenant(ctx context.Context, tenantID string) error {
	tl := e.keys.tenant(tenantID)
	tl.rw.Lock()
	defer tl.rw.Unlock()

	e.mu.RLock()
	loaded := e.loaded
	e.mu.RUnlock()
	if !loaded {
		return &domerrors.StorageError{Operation: "remove_tenant", Err: fmt.Errorf("policy index not loaded")}
	}

	if err := e.store.DeletePolicies(ctx, tenantID); err != nil {
		return &domerrors.StorageError{Operation: "delete_policies", Err: err}
	}

	e.mu.Lock()
	delete(e.rules, tenantID)
	e.mu.Unlock()
	e.keys.drop(tenantID)
	return nil
}

func (e *Engine) commit(tenantID, command string, rs entities.RuleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rules[tenantID] == nil {
		e.rules[tenantID] = make(map[string]entities.RuleSet)
	}
	e.rules[tenantID][command] = rs
}
