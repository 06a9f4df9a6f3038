package sandbox

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wardenhq/warden/domain/entities"
)

// Engine executes one script module against an isolated context. The Manager
// owns exactly one Engine while running and classifies its raw errors into
// the domain taxonomy.
type Engine interface {
	Execute(ctx context.Context, req entities.ScriptRequest) (entities.ScriptResult, error)
	Close(ctx context.Context) error
}

// EngineConfig carries the runtime-level boundaries an Engine is provisioned
// with. Wall-clock timeouts are per-call and arrive through the context.
type EngineConfig struct {
	// MemoryPages caps guest linear memory in 64KiB pages.
	MemoryPages uint32

	// MaxOutput caps reply bytes per execution.
	MaxOutput int

	// MaxRequestSize caps payloads read from guest memory.
	MaxRequestSize uint32
}

// EngineFactory provisions an Engine. The default builds a wazero runtime;
// tests substitute stubs.
type EngineFactory func(ctx context.Context, cfg EngineConfig) (Engine, error)

// InternalFault wraps an engine-internal failure: the execution context
// itself broke, not the script. The Manager degrades on it.
type InternalFault struct {
	Err error
}

func (e *InternalFault) Error() string {
	return fmt.Sprintf("sandbox internal fault: %v", e.Err)
}

func (e *InternalFault) Unwrap() error {
	return e.Err
}

// wazeroEngine is the production Engine: a single wazero runtime with the
// warden_host module instantiated and a content-addressed compile cache.
// Script modules are instantiated fresh per execution and closed afterwards,
// so no state leaks between runs or tenants.
type wazeroEngine struct {
	runtime wazero.Runtime
	cfg     EngineConfig
	cache   sync.Map // [32]byte -> wazero.CompiledModule
}

// newWazeroEngine provisions the runtime. WASI is instantiated so common
// toolchains link, but with no filesystem mounts, no preopens, and no
// args/env: the only reachable capabilities are the warden_host exports.
func newWazeroEngine(ctx context.Context, cfg EngineConfig) (Engine, error) {
	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(cfg.MemoryPages)
	rt := wazero.NewRuntimeWithConfig(ctx, rc)

	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	e := &wazeroEngine{runtime: rt, cfg: cfg}
	if err := e.registerHostModule(ctx); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to register host module: %w", err)
	}
	return e, nil
}

// Close releases the runtime and every compiled module.
func (e *wazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Execute compiles (or reuses) the script module, instantiates it with only
// the request's bindings reachable, and invokes its run export.
func (e *wazeroEngine) Execute(ctx context.Context, req entities.ScriptRequest) (entities.ScriptResult, error) {
	st := newRunState(req, e.maxOutput(req))
	ctx = withRunState(ctx, st)

	compiled, err := e.compile(ctx, req.Source)
	if err != nil {
		return entities.ScriptResult{}, &guestFault{Message: fmt.Sprintf("invalid script module: %v", err)}
	}

	cfg := wazero.NewModuleConfig().
		WithName(""). // anonymous: concurrent instantiations must not collide
		WithStartFunctions("_initialize")
	mod, err := e.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return entities.ScriptResult{}, err
		}
		return entities.ScriptResult{}, &guestFault{Message: fmt.Sprintf("script start failed: %v", err)}
	}
	defer mod.Close(ctx)

	run := mod.ExportedFunction(guestRun)
	if run == nil {
		return entities.ScriptResult{}, &guestFault{Message: fmt.Sprintf("script does not export %q", guestRun)}
	}

	packed, err := e.callRun(ctx, mod, run, []byte(req.Bindings["args"]))
	if err != nil {
		var exit *sys.ExitError
		if errors.As(err, &exit) {
			return entities.ScriptResult{}, &guestFault{Message: fmt.Sprintf("script exited with code %d", exit.ExitCode())}
		}
		if ctx.Err() == nil && isRuntimeClosed(err) {
			// The module was torn down under a live run: the execution
			// context itself broke, not the script.
			return entities.ScriptResult{}, &InternalFault{Err: err}
		}
		return entities.ScriptResult{}, err
	}

	if err := st.outputErr(); err != nil {
		return entities.ScriptResult{}, err
	}

	if packed != 0 {
		ptr, length := unpackPtrLen(packed)
		if length == 0 {
			// The no-reply sentinel: a fault return with an empty payload.
			return entities.ScriptResult{Silent: true}, nil
		}
		msg := e.readGuestMemory(mod, ptr, length)
		return entities.ScriptResult{}, &guestFault{Message: msg}
	}

	return entities.ScriptResult{Output: st.output.String()}, nil
}

// isRuntimeClosed spots call errors caused by the module or runtime being
// closed out from under an execution. wazero does not expose a dedicated
// error type for this, so this matches the error text it produces.
func isRuntimeClosed(err error) bool {
	return err != nil && strings.Contains(err.Error(), "module closed")
}

func (e *wazeroEngine) maxOutput(req entities.ScriptRequest) int {
	if req.Limits.MaxOutput > 0 {
		return req.Limits.MaxOutput
	}
	return e.cfg.MaxOutput
}

// compile returns the cached compiled module for the source, compiling on
// first sight. Compiled modules are immutable and safe for concurrent
// instantiation.
func (e *wazeroEngine) compile(ctx context.Context, source []byte) (wazero.CompiledModule, error) {
	key := sha256.Sum256(source)
	if v, ok := e.cache.Load(key); ok {
		return v.(wazero.CompiledModule), nil
	}
	compiled, err := e.runtime.CompileModule(ctx, source)
	if err != nil {
		return nil, err
	}
	if prev, loaded := e.cache.LoadOrStore(key, compiled); loaded {
		compiled.Close(ctx)
		return prev.(wazero.CompiledModule), nil
	}
	return compiled, nil
}

// callRun writes the input payload into guest memory (when present) and
// invokes run(ptr, len).
func (e *wazeroEngine) callRun(ctx context.Context, mod api.Module, run api.Function, input []byte) (uint64, error) {
	var ptr, length uint64
	if len(input) > 0 {
		allocate := mod.ExportedFunction(guestAllocate)
		if allocate == nil {
			return 0, &guestFault{Message: fmt.Sprintf("script does not export %q", guestAllocate)}
		}
		results, err := allocate.Call(ctx, uint64(len(input)))
		if err != nil {
			return 0, err
		}
		if len(results) == 0 {
			return 0, &guestFault{Message: "allocate returned no results"}
		}
		p := uint32(results[0]) //nolint:gosec // wasm32 pointers are 32-bit
		if !mod.Memory().Write(p, input) {
			return 0, &guestFault{Message: "failed to write input to script memory"}
		}
		ptr, length = uint64(p), uint64(len(input))
	}

	results, err := run.Call(ctx, ptr, length)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

func (e *wazeroEngine) readGuestMemory(mod api.Module, ptr, length uint32) string {
	if length > e.cfg.MaxRequestSize {
		return fmt.Sprintf("script error payload of %d bytes exceeds the %d byte limit", length, e.cfg.MaxRequestSize)
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "script error payload was unreadable"
	}
	return string(data)
}

// registerHostModule exports the warden_host functions. Each handler reads
// its per-run state from the call context; panics are recovered so a host
// bug cannot crash the process from inside a guest call.
func (e *wazeroEngine) registerHostModule(ctx context.Context) error {
	builder := e.runtime.NewHostModuleBuilder(HostModuleName)

	builder.NewFunctionBuilder().
		WithFunc(e.recovered1(hostReply, e.hostReply)).
		Export(hostReply)

	builder.NewFunctionBuilder().
		WithFunc(e.recovered1(hostLog, e.hostLogMessage)).
		Export(hostLog)

	builder.NewFunctionBuilder().
		WithFunc(e.recovered2(hostBindingGet, e.hostBindingGet)).
		Export(hostBindingGet)

	_, err := builder.Instantiate(ctx)
	return err
}

// recovered1 wraps a no-result host function with panic recovery.
func (e *wazeroEngine) recovered1(name string, fn func(context.Context, api.Module, uint64)) func(context.Context, api.Module, uint64) {
	return func(ctx context.Context, m api.Module, packed uint64) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "host function panicked", "function", name, "panic", r)
			}
		}()
		fn(ctx, m, packed)
	}
}

// recovered2 wraps a single-result host function with panic recovery; a
// recovered panic yields the empty payload.
func (e *wazeroEngine) recovered2(name string, fn func(context.Context, api.Module, uint64) uint64) func(context.Context, api.Module, uint64) uint64 {
	return func(ctx context.Context, m api.Module, packed uint64) (out uint64) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "host function panicked", "function", name, "panic", r)
				out = 0
			}
		}()
		return fn(ctx, m, packed)
	}
}

func (e *wazeroEngine) hostReply(ctx context.Context, m api.Module, packed uint64) {
	st, ok := runStateFrom(ctx)
	if !ok {
		return
	}
	data, ok := e.readPayload(m, packed)
	if !ok {
		return
	}
	st.output.Write(data) //nolint:errcheck // BoundedBuffer never errors
}

func (e *wazeroEngine) hostLogMessage(ctx context.Context, m api.Module, packed uint64) {
	st, ok := runStateFrom(ctx)
	if !ok {
		return
	}
	data, ok := e.readPayload(m, packed)
	if !ok {
		return
	}
	if p, ok := parseLogPayload(data); ok {
		slog.Info("script log", "tenant", st.tenantID, "level", p.Level, "msg", p.Message)
		return
	}
	slog.Info("script log (raw)", "tenant", st.tenantID, "payload", string(data))
}

func (e *wazeroEngine) hostBindingGet(ctx context.Context, m api.Module, packed uint64) uint64 {
	st, ok := runStateFrom(ctx)
	if !ok {
		return 0
	}
	name, ok := e.readPayload(m, packed)
	if !ok {
		return 0
	}
	value, ok := st.bindings[string(name)]
	if !ok {
		return 0
	}
	return e.writePayload(ctx, m, []byte(value))
}

func (e *wazeroEngine) readPayload(m api.Module, packed uint64) ([]byte, bool) {
	ptr, length := unpackPtrLen(packed)
	if length > e.cfg.MaxRequestSize {
		return nil, false
	}
	return m.Memory().Read(ptr, length)
}

// writePayload allocates guest memory and writes data into it, returning the
// packed ptr+len, or 0 on failure.
func (e *wazeroEngine) writePayload(ctx context.Context, m api.Module, data []byte) uint64 {
	allocate := m.ExportedFunction(guestAllocate)
	if allocate == nil {
		return 0
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0]) //nolint:gosec // wasm32 pointers are 32-bit
	if !m.Memory().Write(ptr, data) {
		return 0
	}
	return packPtrLen(ptr, uint32(len(data))) //nolint:gosec // payload length bounded by config
}
