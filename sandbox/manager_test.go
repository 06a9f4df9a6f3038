package sandbox_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/domain/entities"
	domerrors "github.com/wardenhq/warden/domain/errors"
	"github.com/wardenhq/warden/sandbox"
)

// stubEngine scripts engine behavior per call. "Source" selects the behavior:
// sleep scripts block until their context is cancelled.
type stubEngine struct {
	mu       sync.Mutex
	closed   bool
	inflight atomic.Int32
	peak     atomic.Int32
	execute  func(ctx context.Context, req entities.ScriptRequest) (entities.ScriptResult, error)
}

func (s *stubEngine) Execute(ctx context.Context, req entities.ScriptRequest) (entities.ScriptResult, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.execute != nil {
		return s.execute(ctx, req)
	}
	switch string(req.Source) {
	case "sleep":
		<-ctx.Done()
		return entities.ScriptResult{}, fmt.Errorf("module closed: %w", ctx.Err())
	case "fault":
		return entities.ScriptResult{}, &sandbox.InternalFault{Err: errors.New("runtime wedged")}
	case "oom":
		return entities.ScriptResult{}, errors.New("wasm trap: out of memory")
	case "overflow":
		return entities.ScriptResult{}, sandbox.ErrOutputLimit
	default:
		return entities.ScriptResult{Output: "ok:" + req.TenantID}, nil
	}
}

func (s *stubEngine) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func newTestManager(t *testing.T, engine *stubEngine, opts ...sandbox.ManagerOption) *sandbox.Manager {
	t.Helper()
	opts = append(opts, sandbox.WithEngineFactory(
		func(context.Context, sandbox.EngineConfig) (sandbox.Engine, error) {
			return engine, nil
		},
	))
	m := sandbox.NewManager(opts...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func TestManager_Lifecycle(t *testing.T) {
	engine := &stubEngine{}
	m := sandbox.NewManager(sandbox.WithEngineFactory(
		func(context.Context, sandbox.EngineConfig) (sandbox.Engine, error) {
			return engine, nil
		},
	))

	assert.Equal(t, sandbox.StateStopped, m.State())

	_, err := m.Run(context.Background(), entities.ScriptRequest{TenantID: "t1"})
	var unavailable *domerrors.SandboxUnavailableError
	require.ErrorAs(t, err, &unavailable)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, sandbox.StateRunning, m.State())

	err = m.Start(context.Background())
	assert.Error(t, err, "double start must fail")

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, sandbox.StateStopped, m.State())
	assert.True(t, engine.closed)

	assert.NoError(t, m.Stop(context.Background()), "stop is idempotent")
}

func TestManager_StartFailure(t *testing.T) {
	m := sandbox.NewManager(sandbox.WithEngineFactory(
		func(context.Context, sandbox.EngineConfig) (sandbox.Engine, error) {
			return nil, errors.New("no isolation available")
		},
	))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, sandbox.StateStopped, m.State())
}

func TestManager_RunSuccess(t *testing.T) {
	m := newTestManager(t, &stubEngine{})

	res, err := m.Run(context.Background(), entities.ScriptRequest{TenantID: "t1", Source: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, "ok:t1", res.Output)
	assert.False(t, res.Silent)
}

func TestManager_TimeoutLeavesManagerRunning(t *testing.T) {
	m := newTestManager(t, &stubEngine{},
		sandbox.WithLimits(entities.ScriptLimits{Timeout: 30 * time.Millisecond}))

	_, err := m.Run(context.Background(), entities.ScriptRequest{
		TenantID: "t1",
		Source:   []byte("sleep"),
		Bindings: map[string]string{"command": "spin"},
	})
	var timeout *domerrors.ScriptTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "spin", timeout.Command)

	assert.Equal(t, sandbox.StateRunning, m.State())

	// An unrelated tenant's script still succeeds afterwards.
	res, err := m.Run(context.Background(), entities.ScriptRequest{TenantID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, "ok:t2", res.Output)
}

func TestManager_ResourceClassification(t *testing.T) {
	m := newTestManager(t, &stubEngine{})

	_, err := m.Run(context.Background(), entities.ScriptRequest{TenantID: "t1", Source: []byte("overflow")})
	var resource *domerrors.ScriptResourceError
	require.ErrorAs(t, err, &resource)
	assert.Equal(t, "output", resource.Resource)

	_, err = m.Run(context.Background(), entities.ScriptRequest{TenantID: "t1", Source: []byte("oom")})
	require.ErrorAs(t, err, &resource)
	assert.Equal(t, "memory", resource.Resource)
}

func TestManager_InternalFaultDegrades(t *testing.T) {
	m := newTestManager(t, &stubEngine{})

	_, err := m.Run(context.Background(), entities.ScriptRequest{TenantID: "t1", Source: []byte("fault")})
	var unavailable *domerrors.SandboxUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, sandbox.StateDegraded, m.State())

	// Degraded rejects new submissions without crashing.
	_, err = m.Run(context.Background(), entities.ScriptRequest{TenantID: "t2"})
	require.ErrorAs(t, err, &unavailable)

	// Operator restart is the way back.
	require.NoError(t, m.Restart(context.Background()))
	assert.Equal(t, sandbox.StateRunning, m.State())
	_, err = m.Run(context.Background(), entities.ScriptRequest{TenantID: "t2"})
	assert.NoError(t, err)
}

func TestManager_PerTenantSerialization(t *testing.T) {
	engine := &stubEngine{}
	block := make(chan struct{})
	started := make(chan string, 8)
	engine.execute = func(ctx context.Context, req entities.ScriptRequest) (entities.ScriptResult, error) {
		started <- req.TenantID
		select {
		case <-block:
		case <-ctx.Done():
		}
		return entities.ScriptResult{Output: req.TenantID}, nil
	}
	m := newTestManager(t, engine, sandbox.WithMaxConcurrent(8))

	var wg sync.WaitGroup
	run := func(tenant string) {
		defer wg.Done()
		_, err := m.Run(context.Background(), entities.ScriptRequest{TenantID: tenant})
		assert.NoError(t, err)
	}

	// Two submissions from the same tenant plus one from another.
	wg.Add(3)
	go run("t1")
	go run("t1")
	go run("t2")

	// Only one t1 execution and the t2 execution may start while blocked.
	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case tenant := <-started:
			seen[tenant]++
		case <-time.After(2 * time.Second):
			t.Fatal("expected two executions to start")
		}
	}
	assert.Equal(t, 1, seen["t1"], "same-tenant scripts must not run concurrently")
	assert.Equal(t, 1, seen["t2"], "another tenant must not be starved")

	close(block)
	wg.Wait()
	assert.LessOrEqual(t, engine.peak.Load(), int32(2))
}

func TestManager_GlobalConcurrencyCeiling(t *testing.T) {
	engine := &stubEngine{}
	block := make(chan struct{})
	engine.execute = func(ctx context.Context, req entities.ScriptRequest) (entities.ScriptResult, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return entities.ScriptResult{}, nil
	}
	m := newTestManager(t, engine, sandbox.WithMaxConcurrent(2))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Run(context.Background(), entities.ScriptRequest{TenantID: fmt.Sprintf("t%d", i)})
			assert.NoError(t, err)
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, engine.inflight.Load(), int32(2))
	close(block)
	wg.Wait()
	assert.LessOrEqual(t, engine.peak.Load(), int32(2))
}

func TestManager_StopDrainsInflight(t *testing.T) {
	engine := &stubEngine{}
	started := make(chan struct{})
	engine.execute = func(ctx context.Context, req entities.ScriptRequest) (entities.ScriptResult, error) {
		close(started)
		<-ctx.Done()
		return entities.ScriptResult{}, ctx.Err()
	}
	m := sandbox.NewManager(sandbox.WithEngineFactory(
		func(context.Context, sandbox.EngineConfig) (sandbox.Engine, error) {
			return engine, nil
		},
	))
	require.NoError(t, m.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Run(context.Background(), entities.ScriptRequest{TenantID: "t1"})
	}()

	<-started
	require.NoError(t, m.Stop(context.Background()))

	select {
	case <-done:
		// The in-flight run was cancelled and completed before Stop returned.
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight execution outlived Stop")
	}
	assert.Equal(t, int32(0), engine.inflight.Load())
}
