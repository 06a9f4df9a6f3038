// Package sandbox runs untrusted tenant scripts inside isolated WebAssembly
// execution contexts.
//
// The Manager owns the lifecycle of the underlying runtime and schedules
// concurrent submissions so that no tenant can starve another. Scripts see
// only the bindings passed with the request, reached through the host module
// this package instantiates; the host's own objects, the filesystem, the
// network, and process control are unreachable from the guest's evaluation
// scope. Wall-clock timeouts, a linear-memory ceiling, and an output ceiling
// bound every execution.
package sandbox
