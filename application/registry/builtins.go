package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/wardenhq/warden/application/emoji"
	"github.com/wardenhq/warden/domain/entities"
	domerrors "github.com/wardenhq/warden/domain/errors"
	"github.com/wardenhq/warden/sandbox"
)

// Authorizer answers per-command access questions; the policy engine
// satisfies it.
type Authorizer interface {
	Check(tenantID, command string, actor entities.Actor, fallback entities.Fallback) (bool, error)
}

// Granter applies rule-set mutations; the policy engine satisfies it.
type Granter interface {
	Change(ctx context.Context, tenantID, command string, change entities.RuleSetChange) error
}

// SandboxController is the operator surface of the sandbox manager.
type SandboxController interface {
	State() sandbox.State
	Restart(ctx context.Context) error
}

// EmojiReporter reads the emoji usage counters.
type EmojiReporter interface {
	Top(tenantID string, n int) []emoji.Count
}

// scriptBodyPrefix marks a define body as a base64-encoded script module
// rather than literal reply text.
const scriptBodyPrefix = "wasm:"

// NewPing returns the liveness builtin.
func NewPing() *Builtin {
	return NewBuiltin("ping", "reply with pong", func(context.Context, ExecContext) (string, error) {
		return "pong", nil
	})
}

// NewRoll returns the dice builtin: "roll 2d6" rolls two six-sided dice.
func NewRoll() *Builtin {
	return NewBuiltin("roll", "roll dice, e.g. roll 2d6", func(_ context.Context, ec ExecContext) (string, error) {
		spec := ec.Invocation.RawArgs
		if spec == "" {
			spec = "1d6"
		}
		count, sides, err := parseDice(spec)
		if err != nil {
			return "", err
		}

		total := 0
		rolls := make([]string, count)
		for i := 0; i < count; i++ {
			n := rand.IntN(sides) + 1
			total += n
			rolls[i] = strconv.Itoa(n)
		}
		if count == 1 {
			return fmt.Sprintf("rolled %s: %d", spec, total), nil
		}
		return fmt.Sprintf("rolled %s: %s = %d", spec, strings.Join(rolls, " + "), total), nil
	})
}

func parseDice(spec string) (count, sides int, err error) {
	usage := &domerrors.UsageError{Command: "roll", Usage: "[NdM], e.g. roll 2d6"}
	c, s, ok := strings.Cut(spec, "d")
	if !ok {
		return 0, 0, usage
	}
	count, err = strconv.Atoi(c)
	if err != nil || count < 1 || count > 100 {
		return 0, 0, usage
	}
	sides, err = strconv.Atoi(s)
	if err != nil || sides < 2 || sides > 1000 {
		return 0, 0, usage
	}
	return count, sides, nil
}

// NewHelp returns the listing builtin. It shows only the commands the asking
// actor is actually permitted to run, so it reveals nothing about commands
// behind grants the actor lacks.
func NewHelp(reg *Registry, authz Authorizer) *Builtin {
	return NewBuiltin("help", "list the commands you can run", func(_ context.Context, ec ExecContext) (string, error) {
		var lines []string
		for _, b := range reg.Builtins() {
			ok, err := authz.Check(ec.TenantID, b.Name(), ec.Actor, b.Fallback())
			if err != nil {
				return "", err
			}
			if ok {
				lines = append(lines, fmt.Sprintf("%s — %s", b.Name(), b.Help()))
			}
		}
		for _, name := range reg.CustomNames(ec.TenantID) {
			ok, err := authz.Check(ec.TenantID, name, ec.Actor, entities.FallbackTenant)
			if err != nil {
				return "", err
			}
			if ok {
				lines = append(lines, name+" — custom command")
			}
		}
		if len(lines) == 0 {
			return "no commands available", nil
		}
		return strings.Join(lines, "\n"), nil
	})
}

// NewDefine returns the custom-command creation builtin. A body starting
// with "wasm:" is decoded as a base64 script module; anything else is
// literal reply text.
func NewDefine(reg *Registry) *Builtin {
	return NewBuiltin("define", "create a custom command: define <name> <reply text | wasm:BASE64>", func(ctx context.Context, ec ExecContext) (string, error) {
		name, body, ok := strings.Cut(ec.Invocation.RawArgs, " ")
		body = strings.TrimSpace(body)
		if !ok || name == "" || body == "" {
			return "", &domerrors.UsageError{Command: "define", Usage: "<name> <reply text | wasm:BASE64>"}
		}

		def := entities.CustomCommand{
			TenantID: ec.TenantID,
			Name:     name,
			Kind:     entities.KindLiteral,
			Body:     []byte(body),
		}
		if encoded, isScript := strings.CutPrefix(body, scriptBodyPrefix); isScript {
			source, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return "", fmt.Errorf("script body is not valid base64: %v", err)
			}
			def.Kind = entities.KindScript
			def.Body = source
		}

		if err := reg.Define(ctx, def); err != nil {
			return "", err
		}
		return fmt.Sprintf("defined custom command %q", name), nil
	})
}

// NewUndefine returns the custom-command deletion builtin.
func NewUndefine(reg *Registry) *Builtin {
	return NewBuiltin("undefine", "remove a custom command: undefine <name>", func(ctx context.Context, ec ExecContext) (string, error) {
		name := strings.TrimSpace(ec.Invocation.RawArgs)
		if name == "" {
			return "", &domerrors.UsageError{Command: "undefine", Usage: "<name>"}
		}
		if err := reg.Undefine(ctx, ec.TenantID, name); err != nil {
			return "", err
		}
		return fmt.Sprintf("removed custom command %q", name), nil
	})
}

// NewAllow returns the grant builtin: allow <command> user:<id>|group:<id>...
func NewAllow(granter Granter) *Builtin {
	return NewBuiltin("allow", "grant a command: allow <command> user:<id>|group:<id>...", func(ctx context.Context, ec ExecContext) (string, error) {
		command, delta, err := parseGrantArgs("allow", ec.Invocation.RawArgs)
		if err != nil {
			return "", err
		}
		change := entities.RuleSetChange{Add: delta}
		if err := granter.Change(ctx, ec.TenantID, command, change); err != nil {
			return "", err
		}
		return fmt.Sprintf("updated permissions for %q: granted %s", command, describeDelta(delta)), nil
	})
}

// NewDeny returns the revoke builtin: deny <command> user:<id>|group:<id>...
func NewDeny(granter Granter) *Builtin {
	return NewBuiltin("deny", "revoke a command: deny <command> user:<id>|group:<id>...", func(ctx context.Context, ec ExecContext) (string, error) {
		command, delta, err := parseGrantArgs("deny", ec.Invocation.RawArgs)
		if err != nil {
			return "", err
		}
		change := entities.RuleSetChange{Remove: delta}
		if err := granter.Change(ctx, ec.TenantID, command, change); err != nil {
			return "", err
		}
		return fmt.Sprintf("updated permissions for %q: revoked %s", command, describeDelta(delta)), nil
	})
}

func parseGrantArgs(builtin, raw string) (string, entities.RuleSetDelta, error) {
	usage := &domerrors.UsageError{Command: builtin, Usage: "<command> user:<id>|group:<id>..."}
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", entities.RuleSetDelta{}, usage
	}

	command := fields[0]
	var delta entities.RuleSetDelta
	for _, operand := range fields[1:] {
		kind, id, ok := strings.Cut(operand, ":")
		if !ok || id == "" {
			return "", entities.RuleSetDelta{}, usage
		}
		switch kind {
		case "user":
			delta.Users = append(delta.Users, id)
		case "group":
			delta.Groups = append(delta.Groups, id)
		default:
			return "", entities.RuleSetDelta{}, usage
		}
	}
	return command, delta, nil
}

func describeDelta(delta entities.RuleSetDelta) string {
	var parts []string
	if len(delta.Users) > 0 {
		parts = append(parts, fmt.Sprintf("%d user(s)", len(delta.Users)))
	}
	if len(delta.Groups) > 0 {
		parts = append(parts, fmt.Sprintf("%d group(s)", len(delta.Groups)))
	}
	return strings.Join(parts, ", ")
}

// NewEmojiStats returns the usage-report builtin: emojistats [n].
func NewEmojiStats(reporter EmojiReporter) *Builtin {
	return NewBuiltin("emojistats", "show the most used emoji: emojistats [n]", func(_ context.Context, ec ExecContext) (string, error) {
		n := 5
		if raw := strings.TrimSpace(ec.Invocation.RawArgs); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > 25 {
				return "", &domerrors.UsageError{Command: "emojistats", Usage: "[n] (1-25)"}
			}
			n = parsed
		}

		top := reporter.Top(ec.TenantID, n)
		if len(top) == 0 {
			return "no emoji usage recorded yet", nil
		}
		lines := make([]string, len(top))
		for i, c := range top {
			lines[i] = fmt.Sprintf(":%s: — %d", c.Name, c.Count)
		}
		return strings.Join(lines, "\n"), nil
	})
}

// NewSandboxCtl returns the operator builtin for the sandbox manager.
// Deny-by-default like every builtin; grant it to operators only.
func NewSandboxCtl(ctl SandboxController) *Builtin {
	return NewBuiltin("sandbox", "operate the script sandbox: sandbox status|restart", func(ctx context.Context, ec ExecContext) (string, error) {
		switch strings.TrimSpace(ec.Invocation.RawArgs) {
		case "status":
			return fmt.Sprintf("sandbox is %s", ctl.State()), nil
		case "restart":
			if err := ctl.Restart(ctx); err != nil {
				return "", err
			}
			return "sandbox restarted", nil
		default:
			return "", &domerrors.UsageError{Command: "sandbox", Usage: "status|restart"}
		}
	})
}
