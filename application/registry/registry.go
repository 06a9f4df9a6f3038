package registry

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/wardenhq/warden/domain/entities"
	domerrors "github.com/wardenhq/warden/domain/errors"
	"github.com/wardenhq/warden/domain/ports"
)

// Custom command names: short, lexical, no prefix characters.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// registryConfig holds configuration for the Registry.
type registryConfig struct {
	allowShadowing bool
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		allowShadowing: false, // custom commands may not mask built-ins
	}
}

// Option configures the Registry.
type Option func(*registryConfig)

// WithShadowing permits custom commands to shadow built-in names. Shadowed
// built-ins become unreachable for that tenant, so this is off by default.
func WithShadowing(enabled bool) Option {
	return func(c *registryConfig) {
		c.allowShadowing = enabled
	}
}

// Registry holds the built-in command table and the in-memory per-tenant
// custom command mapping. The mapping is owned here exclusively: all reads
// and writes go through Registry methods, paired write-through with the
// durable store (store first, then memory, so memory never runs ahead of
// what a crash would preserve).
type Registry struct {
	store  ports.CommandStore
	runner ports.ScriptRunner
	config registryConfig

	mu       sync.RWMutex
	builtins map[string]*Builtin
	customs  map[string]map[string]entities.CustomCommand // tenant -> name -> def

	keys keyedLocks
}

// NewRegistry creates a Registry. Built-ins are registered afterwards, at
// composition time, via Register.
func NewRegistry(store ports.CommandStore, runner ports.ScriptRunner, opts ...Option) *Registry {
	cfg := defaultRegistryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		store:    store,
		runner:   runner,
		config:   cfg,
		builtins: make(map[string]*Builtin),
		customs:  make(map[string]map[string]entities.CustomCommand),
	}
}

// Register adds a built-in command. Duplicate names are a wiring bug and
// fail loudly.
func (r *Registry) Register(b *Builtin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builtins[b.Name()]; exists {
		return fmt.Errorf("built-in command %q already registered", b.Name())
	}
	r.builtins[b.Name()] = b
	return nil
}

// MustRegister is Register that panics on error; composition-time use only.
func (r *Registry) MustRegister(b *Builtin) {
	if err := r.Register(b); err != nil {
		panic(err)
	}
}

// BuiltinNames returns the sorted names of all built-in commands.
func (r *Registry) BuiltinNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builtins))
	for name := range r.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtins returns all built-in commands, sorted by name.
func (r *Registry) Builtins() []*Builtin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Builtin, 0, len(r.builtins))
	for _, b := range r.builtins {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// VerifySeedList checks the startup invariant that every command in the
// initial-grant list is a built-in. A mismatch would silently grant access
// to a command that cannot exist, so it is a fatal configuration error.
func (r *Registry) VerifySeedList(seed []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range seed {
		if _, ok := r.builtins[name]; !ok {
			return &domerrors.ConfigError{
				Field: "grant_on_join",
				Err:   fmt.Errorf("command %q is not a built-in", name),
			}
		}
	}
	return nil
}

// Resolve maps an invocation to an executable command: the tenant's custom
// command on exact name match, else a built-in on exact name match, else nil
// ("no such command", which callers treat as do-nothing). Resolution never
// performs work; execution is deferred to Command.Execute.
func (r *Registry) Resolve(tenantID string, inv entities.Invocation) Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.customs[tenantID][inv.Command]; ok {
		return &custom{def: def, runner: r.runner}
	}
	if b, ok := r.builtins[inv.Command]; ok {
		return b
	}
	return nil
}

// HasCustom reports whether the tenant has a custom command with the name.
func (r *Registry) HasCustom(tenantID, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.customs[tenantID][name]
	return ok
}

// CustomNames returns the tenant's custom command names, sorted.
func (r *Registry) CustomNames(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.customs[tenantID]))
	for name := range r.customs[tenantID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load bulk-loads every tenant's custom command definitions into memory.
// Called once at startup before messages are served.
func (r *Registry) Load(ctx context.Context) error {
	defs, err := r.store.LoadCustomCommands(ctx)
	if err != nil {
		return &domerrors.StorageError{Operation: "load_custom_commands", Err: err}
	}

	customs := make(map[string]map[string]entities.CustomCommand)
	for _, def := range defs {
		if customs[def.TenantID] == nil {
			customs[def.TenantID] = make(map[string]entities.CustomCommand)
		}
		customs[def.TenantID][def.Name] = def
	}

	r.mu.Lock()
	r.customs = customs
	r.mu.Unlock()
	return nil
}

// Define creates or replaces a custom command: durable write first, then the
// in-memory mapping. Mutations of the same (tenant, name) are serialized so
// memory always reflects the last durable write.
func (r *Registry) Define(ctx context.Context, def entities.CustomCommand) error {
	if !namePattern.MatchString(def.Name) {
		return &domerrors.UsageError{Command: "define", Usage: "<name> <reply text | wasm:BASE64>"}
	}
	if len(def.Body) == 0 {
		return &domerrors.UsageError{Command: "define", Usage: "<name> <reply text | wasm:BASE64>"}
	}

	r.mu.RLock()
	_, isBuiltin := r.builtins[def.Name]
	r.mu.RUnlock()
	if isBuiltin && !r.config.allowShadowing {
		return fmt.Errorf("%q is a built-in command and cannot be redefined", def.Name)
	}

	tl := r.keys.tenant(def.TenantID)
	tl.rw.RLock()
	defer tl.rw.RUnlock()
	unlock := tl.lockKey(def.Name)
	defer unlock()

	if err := r.store.UpsertCustomCommand(ctx, def); err != nil {
		return &domerrors.StorageError{Operation: "upsert_custom_command", Err: err}
	}

	r.mu.Lock()
	if r.customs[def.TenantID] == nil {
		r.customs[def.TenantID] = make(map[string]entities.CustomCommand)
	}
	r.customs[def.TenantID][def.Name] = def
	r.mu.Unlock()
	return nil
}

// Undefine removes a custom command: durable delete first, then memory,
// serialized against other mutations of the same (tenant, name).
func (r *Registry) Undefine(ctx context.Context, tenantID, name string) error {
	tl := r.keys.tenant(tenantID)
	tl.rw.RLock()
	defer tl.rw.RUnlock()
	unlock := tl.lockKey(name)
	defer unlock()

	if !r.HasCustom(tenantID, name) {
		return fmt.Errorf("no custom command %q", name)
	}

	if err := r.store.DeleteCustomCommand(ctx, tenantID, name); err != nil {
		return &domerrors.StorageError{Operation: "delete_custom_command", Err: err}
	}

	r.mu.Lock()
	delete(r.customs[tenantID], name)
	r.mu.Unlock()
	return nil
}

// RemoveTenant purges the tenant's custom commands, store first. The tenant
// write lock excludes all per-name mutations for the duration of the purge.
func (r *Registry) RemoveTenant(ctx context.Context, tenantID string) error {
	tl := r.keys.tenant(tenantID)
	tl.rw.Lock()
	defer tl.rw.Unlock()

	if err := r.store.DeleteTenantCommands(ctx, tenantID); err != nil {
		return &domerrors.StorageError{Operation: "delete_tenant_commands", Err: err}
	}
	r.mu.Lock()
	delete(r.customs, tenantID)
	r.mu.Unlock()
	r.keys.drop(tenantID)
	return nil
}
