// Package registry resolves invocations to executable commands: built-ins
// registered at composition time plus tenant-defined custom commands loaded
// from durable storage and mutable at runtime.
package registry

import (
	"context"

	"github.com/wardenhq/warden/domain/entities"
	"github.com/wardenhq/warden/domain/ports"
)

// ExecContext carries everything a command sees while executing.
type ExecContext struct {
	TenantID   string
	ChannelID  string
	Actor      entities.Actor
	Invocation entities.Invocation
}

// Command is an executable resolved from an invocation. Resolution is
// side-effect-free; all work, including any sandbox submission, happens in
// Execute. An empty reply with a nil error means "no reply".
type Command interface {
	// Name returns the command name as invoked.
	Name() string

	// Fallback is the authorization outcome when no explicit rule set exists
	// for this command in the invoking tenant.
	Fallback() entities.Fallback

	// Execute runs the command and returns the reply text.
	Execute(ctx context.Context, ec ExecContext) (string, error)
}

// BuiltinFunc is the handler signature for built-in commands.
type BuiltinFunc func(ctx context.Context, ec ExecContext) (string, error)

// Builtin is a command compiled into the bot. Built-ins are deny-by-default:
// access comes only from explicit grants, including the tenant-join seeding.
type Builtin struct {
	name string
	help string
	fn   BuiltinFunc
}

// NewBuiltin creates a built-in command. The help line shows up in the help
// listing for actors permitted to run the command.
func NewBuiltin(name, help string, fn BuiltinFunc) *Builtin {
	return &Builtin{name: name, help: help, fn: fn}
}

// Name implements Command.
func (b *Builtin) Name() string { return b.name }

// Help returns the one-line description.
func (b *Builtin) Help() string { return b.help }

// Fallback implements Command.
func (b *Builtin) Fallback() entities.Fallback { return entities.FallbackDeny }

// Execute implements Command.
func (b *Builtin) Execute(ctx context.Context, ec ExecContext) (string, error) {
	return b.fn(ctx, ec)
}

// custom adapts a stored definition to the Command interface. Literal bodies
// reply verbatim; script bodies are submitted to the sandbox at Execute time.
type custom struct {
	def    entities.CustomCommand
	runner ports.ScriptRunner
}

// Name implements Command.
func (c *custom) Name() string { return c.def.Name }

// Fallback implements Command. Custom commands are tenant-wide until an
// explicit rule set narrows them.
func (c *custom) Fallback() entities.Fallback { return entities.FallbackTenant }

// Execute implements Command.
func (c *custom) Execute(ctx context.Context, ec ExecContext) (string, error) {
	if c.def.Kind == entities.KindLiteral {
		return string(c.def.Body), nil
	}

	res, err := c.runner.Run(ctx, entities.ScriptRequest{
		TenantID: ec.TenantID,
		Source:   c.def.Body,
		Bindings: map[string]string{
			"command": c.def.Name,
			"args":    ec.Invocation.RawArgs,
			"user":    ec.Actor.UserID,
			"channel": ec.ChannelID,
			"tenant":  ec.TenantID,
		},
	})
	if err != nil {
		return "", err
	}
	if res.Silent {
		return "", nil
	}
	return res.Output, nil
}
