package sandbox

import (
	"context"

	"github.com/wardenhq/warden/domain/entities"
)

// runState is the per-execution state the host functions operate on. The host
// module is instantiated once per runtime, so per-run data travels in the
// call context rather than in the module itself.
type runState struct {
	tenantID string
	bindings map[string]string
	output   *BoundedBuffer
}

type runStateKey struct{}

// withRunState attaches the per-execution state to the context passed into
// guest function calls.
func withRunState(ctx context.Context, st *runState) context.Context {
	return context.WithValue(ctx, runStateKey{}, st)
}

// runStateFrom extracts the per-execution state. Host functions are only ever
// invoked from contexts created by the engine; on a missing state the handler
// no-ops, so a wiring bug degrades the call rather than crashing it.
func runStateFrom(ctx context.Context) (*runState, bool) {
	st, ok := ctx.Value(runStateKey{}).(*runState)
	return st, ok
}

// outputErr reports the output-ceiling breach after a run completes. The
// manager maps the sentinel onto the resource-exceeded taxonomy.
func (st *runState) outputErr() error {
	if st.output.Truncated {
		return ErrOutputLimit
	}
	return nil
}

func newRunState(req entities.ScriptRequest, maxOutput int) *runState {
	return &runState{
		tenantID: req.TenantID,
		bindings: req.Bindings,
		output:   NewBoundedBuffer(maxOutput),
	}
}
