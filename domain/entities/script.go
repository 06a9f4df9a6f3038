package entities

import "time"

// ScriptLimits are the resource boundaries for one sandboxed execution.
type ScriptLimits struct {
	// Timeout is the hard wall-clock limit. Expiry aborts the execution.
	Timeout time.Duration `json:"timeout"`

	// MemoryPages caps the guest's linear memory in 64KiB wasm pages.
	MemoryPages uint32 `json:"memory_pages"`

	// MaxOutput caps the bytes a script may emit as its reply.
	MaxOutput int `json:"max_output"`
}

// ScriptRequest is one script submission to the sandbox manager.
type ScriptRequest struct {
	// TenantID attributes the execution for fairness scheduling.
	TenantID string

	// Source is the script module bytes.
	Source []byte

	// Bindings are the only values the script can see. Anything not listed
	// here is unreachable from the evaluation scope.
	Bindings map[string]string

	// Limits bound the execution. Zero values fall back to the manager's
	// configured defaults.
	Limits ScriptLimits
}

// ScriptResult is the outcome of a successful script execution. Failures are
// reported as typed errors, not through this struct.
type ScriptResult struct {
	// Output is the reply text the script produced.
	Output string `json:"output,omitempty"`

	// Silent is true when the script signalled "intentionally no reply".
	Silent bool `json:"silent,omitempty"`
}
