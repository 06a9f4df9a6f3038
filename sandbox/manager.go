package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wardenhq/warden/domain/entities"
	domerrors "github.com/wardenhq/warden/domain/errors"
)

// State is the sandbox manager lifecycle state.
type State int32

const (
	// StateStopped means no execution context exists; submissions fail.
	StateStopped State = iota

	// StateStarting means the execution context is being provisioned.
	StateStarting

	// StateRunning means submissions are accepted.
	StateRunning

	// StateDegraded means an unrecoverable internal fault occurred. New
	// submissions are rejected; an operator restart is the only way back.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// managerConfig holds configuration for the Manager.
type managerConfig struct {
	limits        entities.ScriptLimits
	maxConcurrent int
	factory       EngineFactory
}

func defaultManagerConfig() managerConfig {
	return managerConfig{
		limits: entities.ScriptLimits{
			Timeout:     5 * time.Second,
			MemoryPages: 64, // 4MiB of guest linear memory
			MaxOutput:   DefaultMaxOutput,
		},
		maxConcurrent: 4,
		factory:       newWazeroEngine,
	}
}

// ManagerOption configures the Manager.
type ManagerOption func(*managerConfig)

// WithLimits sets the default execution limits. Zero fields keep their
// defaults.
func WithLimits(limits entities.ScriptLimits) ManagerOption {
	return func(c *managerConfig) {
		if limits.Timeout > 0 {
			c.limits.Timeout = limits.Timeout
		}
		if limits.MemoryPages > 0 {
			c.limits.MemoryPages = limits.MemoryPages
		}
		if limits.MaxOutput > 0 {
			c.limits.MaxOutput = limits.MaxOutput
		}
	}
}

// WithMaxConcurrent bounds the number of scripts executing at once.
func WithMaxConcurrent(n int) ManagerOption {
	return func(c *managerConfig) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithEngineFactory substitutes the engine construction. Used by tests.
func WithEngineFactory(f EngineFactory) ManagerOption {
	return func(c *managerConfig) {
		c.factory = f
	}
}

// Manager owns the pool of isolated script-execution contexts. Callers never
// see the underlying engine; they submit a ScriptRequest and receive a
// result or a typed error.
//
// Fairness: each tenant holds at most one execution slot at a time, and a
// global ceiling bounds total concurrency, so one tenant's long-running
// script delays only that tenant.
type Manager struct {
	config managerConfig

	mu     sync.Mutex
	state  State
	engine Engine
	slots  chan struct{}
	stop   context.CancelFunc
	base   context.Context
	wg     sync.WaitGroup

	tenantMu sync.Mutex
	tenants  map[string]*tenantSlot
}

// tenantSlot serializes one tenant's executions. Entries are refcounted and
// dropped when the last waiter releases, so the map tracks only tenants with
// scripts in flight.
type tenantSlot struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a stopped Manager. Call Start before submitting scripts.
func NewManager(opts ...ManagerOption) *Manager {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		config:  cfg,
		tenants: make(map[string]*tenantSlot),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start provisions the isolated execution context and transitions to running.
// A provisioning failure leaves the manager stopped and is returned to the
// caller; running untrusted script without isolation is not a degraded mode,
// so callers treat the error as fatal at startup.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return fmt.Errorf("sandbox manager is %s, not stopped", m.state)
	}
	m.state = StateStarting
	m.mu.Unlock()

	engine, err := m.config.factory(ctx, EngineConfig{
		MemoryPages:    m.config.limits.MemoryPages,
		MaxOutput:      m.config.limits.MaxOutput,
		MaxRequestSize: DefaultMaxRequestSize,
	})
	if err != nil {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		return fmt.Errorf("failed to provision sandbox: %w", err)
	}

	base, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.engine = engine
	m.slots = make(chan struct{}, m.config.maxConcurrent)
	m.base = base
	m.stop = cancel
	m.state = StateRunning
	m.mu.Unlock()

	slog.Info("sandbox started",
		"timeout", m.config.limits.Timeout,
		"memory_pages", m.config.limits.MemoryPages,
		"max_concurrent", m.config.maxConcurrent,
	)
	return nil
}

// Stop tears down the execution context. New submissions are rejected
// immediately; in-flight executions are cancelled and drained before Stop
// returns, so no execution outlives the manager.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return nil
	}
	engine := m.engine
	cancel := m.stop
	m.engine = nil
	m.stop = nil
	m.state = StateStopped
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	if engine != nil {
		if err := engine.Close(ctx); err != nil {
			return fmt.Errorf("failed to close sandbox engine: %w", err)
		}
	}
	slog.Info("sandbox stopped")
	return nil
}

// Restart is the operator path out of degraded: a full stop then start.
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		return err
	}
	return m.Start(ctx)
}

// Run executes one script. The command name in the returned errors comes from
// the request's "command" binding when present.
func (m *Manager) Run(ctx context.Context, req entities.ScriptRequest) (entities.ScriptResult, error) {
	m.mu.Lock()
	if m.state != StateRunning {
		state := m.state
		m.mu.Unlock()
		return entities.ScriptResult{}, &domerrors.SandboxUnavailableError{State: state.String()}
	}
	engine := m.engine
	slots := m.slots
	base := m.base
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	// One slot per tenant: a tenant's scripts run one at a time.
	slot := m.acquireTenant(req.TenantID)
	defer m.releaseTenant(req.TenantID, slot)

	select {
	case slots <- struct{}{}:
		defer func() { <-slots }()
	case <-ctx.Done():
		return entities.ScriptResult{}, ctx.Err()
	case <-base.Done():
		return entities.ScriptResult{}, &domerrors.SandboxUnavailableError{State: StateStopped.String()}
	}

	limits := m.normalize(req.Limits)
	req.Limits = limits

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()
	// Propagate manager shutdown into the execution so Stop can drain.
	stopWatch := context.AfterFunc(base, cancel)
	defer stopWatch()

	result, err := engine.Execute(runCtx, req)
	if err != nil {
		return entities.ScriptResult{}, m.classify(runCtx, req, err)
	}
	return result, nil
}

func (m *Manager) normalize(limits entities.ScriptLimits) entities.ScriptLimits {
	out := m.config.limits
	if limits.Timeout > 0 && limits.Timeout < out.Timeout {
		out.Timeout = limits.Timeout
	}
	if limits.MaxOutput > 0 && limits.MaxOutput < out.MaxOutput {
		out.MaxOutput = limits.MaxOutput
	}
	// MemoryPages is fixed at engine provisioning; per-request values are
	// not honored.
	out.MemoryPages = m.config.limits.MemoryPages
	return out
}

// classify maps raw engine errors onto the domain taxonomy. Only an
// InternalFault degrades the manager; script-level failures never do.
func (m *Manager) classify(runCtx context.Context, req entities.ScriptRequest, err error) error {
	command := req.Bindings["command"]

	var internal *InternalFault
	if errors.As(err, &internal) {
		m.degrade(internal)
		return &domerrors.SandboxUnavailableError{State: StateDegraded.String()}
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return &domerrors.ScriptTimeoutError{Command: command, Limit: req.Limits.Timeout}
	}

	if errors.Is(err, ErrOutputLimit) {
		return &domerrors.ScriptResourceError{Command: command, Resource: "output"}
	}
	if errors.Is(err, ErrMemoryLimit) || isMemoryTrap(err) {
		return &domerrors.ScriptResourceError{Command: command, Resource: "memory"}
	}

	var fault *guestFault
	if errors.As(err, &fault) {
		return &domerrors.ScriptRuntimeError{Command: command, Message: fault.Message}
	}

	return &domerrors.ScriptRuntimeError{Command: command, Err: err}
}

// isMemoryTrap spots traps caused by the linear-memory ceiling. wazero does
// not expose a dedicated error type for a failed grow, so this matches the
// trap text produced when allocation fails under WithMemoryLimitPages.
func isMemoryTrap(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "out of memory") || strings.Contains(msg, "memory limit")
}

func (m *Manager) degrade(fault *InternalFault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning {
		m.state = StateDegraded
		slog.Error("sandbox degraded; operator restart required", "error", fault.Err)
	}
}

func (m *Manager) acquireTenant(tenantID string) *tenantSlot {
	m.tenantMu.Lock()
	slot, ok := m.tenants[tenantID]
	if !ok {
		slot = &tenantSlot{}
		m.tenants[tenantID] = slot
	}
	slot.refs++
	m.tenantMu.Unlock()

	slot.mu.Lock()
	return slot
}

func (m *Manager) releaseTenant(tenantID string, slot *tenantSlot) {
	slot.mu.Unlock()
	m.tenantMu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(m.tenants, tenantID)
	}
	m.tenantMu.Unlock()
}
