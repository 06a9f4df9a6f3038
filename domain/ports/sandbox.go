package ports

import (
	"context"

	"github.com/wardenhq/warden/domain/entities"
)

// ScriptRunner executes untrusted script modules inside an isolated context.
// Failures (timeout, resource breach, runtime fault, sandbox unavailable) are
// returned as typed errors from domain/errors; the result is only meaningful
// when the error is nil.
type ScriptRunner interface {
	Run(ctx context.Context, req entities.ScriptRequest) (entities.ScriptResult, error)
}
