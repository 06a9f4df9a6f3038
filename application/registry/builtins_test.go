package registry_test

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/application/emoji"
	"github.com/wardenhq/warden/application/registry"
	"github.com/wardenhq/warden/domain/entities"
	domerrors "github.com/wardenhq/warden/domain/errors"
	"github.com/wardenhq/warden/sandbox"
)

type allowAll struct{}

func (allowAll) Check(string, string, entities.Actor, entities.Fallback) (bool, error) {
	return true, nil
}

type allowNamed map[string]bool

func (a allowNamed) Check(_, command string, _ entities.Actor, _ entities.Fallback) (bool, error) {
	return a[command], nil
}

type recordingGranter struct {
	tenantID string
	command  string
	change   entities.RuleSetChange
}

func (g *recordingGranter) Change(_ context.Context, tenantID, command string, change entities.RuleSetChange) error {
	g.tenantID = tenantID
	g.command = command
	g.change = change
	return nil
}

type stubReporter struct {
	counts []emoji.Count
}

func (r *stubReporter) Top(string, int) []emoji.Count { return r.counts }

type stubSandbox struct {
	state     sandbox.State
	restarted bool
}

func (s *stubSandbox) State() sandbox.State          { return s.state }
func (s *stubSandbox) Restart(context.Context) error { s.restarted = true; return nil }

func exec(t *testing.T, b *registry.Builtin, tenantID, rawArgs string) (string, error) {
	t.Helper()
	return b.Execute(context.Background(), registry.ExecContext{
		TenantID:   tenantID,
		ChannelID:  "chan-1",
		Actor:      entities.Actor{UserID: "u-1"},
		Invocation: entities.Invocation{Command: b.Name(), RawArgs: rawArgs},
	})
}

func TestPing(t *testing.T) {
	out, err := exec(t, registry.NewPing(), "guild-1", "")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
}

func TestRoll(t *testing.T) {
	roll := registry.NewRoll()

	out, err := exec(t, roll, "guild-1", "2d6")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^rolled 2d6: \d+ \+ \d+ = \d+$`), out)

	out, err = exec(t, roll, "guild-1", "")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^rolled 1d6: [1-6]$`), out)

	for _, args := range []string{"d6", "0d6", "2d1", "2d", "abc", "101d6", "2d1001"} {
		_, err := exec(t, roll, "guild-1", args)
		var usage *domerrors.UsageError
		require.ErrorAs(t, err, &usage, "args %q", args)
	}
}

func TestHelpListsOnlyPermittedCommands(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry(newFakeCommandStore(), &fakeRunner{})
	reg.MustRegister(registry.NewPing())
	reg.MustRegister(registry.NewRoll())
	require.NoError(t, reg.Define(ctx, literal("guild-1", "greet", "hello")))

	t.Run("everything visible", func(t *testing.T) {
		out, err := exec(t, registry.NewHelp(reg, allowAll{}), "guild-1", "")
		require.NoError(t, err)
		assert.Contains(t, out, "ping — reply with pong")
		assert.Contains(t, out, "roll — ")
		assert.Contains(t, out, "greet — custom command")
	})

	t.Run("filtered by grants", func(t *testing.T) {
		out, err := exec(t, registry.NewHelp(reg, allowNamed{"ping": true}), "guild-1", "")
		require.NoError(t, err)
		assert.Contains(t, out, "ping")
		assert.NotContains(t, out, "roll")
		assert.NotContains(t, out, "greet")
	})

	t.Run("nothing visible", func(t *testing.T) {
		out, err := exec(t, registry.NewHelp(reg, allowNamed{}), "guild-1", "")
		require.NoError(t, err)
		assert.Equal(t, "no commands available", out)
	})
}

func TestDefineAndUndefineBuiltins(t *testing.T) {
	reg := registry.NewRegistry(newFakeCommandStore(), &fakeRunner{})
	define := registry.NewDefine(reg)
	undefine := registry.NewUndefine(reg)

	out, err := exec(t, define, "guild-1", "greet hello there")
	require.NoError(t, err)
	assert.Equal(t, `defined custom command "greet"`, out)
	require.True(t, reg.HasCustom("guild-1", "greet"))

	cmd := reg.Resolve("guild-1", entities.Invocation{Command: "greet"})
	body, err := cmd.Execute(context.Background(), registry.ExecContext{TenantID: "guild-1"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", body)

	out, err = exec(t, undefine, "guild-1", "greet")
	require.NoError(t, err)
	assert.Equal(t, `removed custom command "greet"`, out)
	assert.False(t, reg.HasCustom("guild-1", "greet"))

	var usage *domerrors.UsageError
	_, err = exec(t, define, "guild-1", "lonely")
	require.ErrorAs(t, err, &usage)
	_, err = exec(t, undefine, "guild-1", "")
	require.ErrorAs(t, err, &usage)
}

func TestDefineScriptBody(t *testing.T) {
	reg := registry.NewRegistry(newFakeCommandStore(), &fakeRunner{})
	define := registry.NewDefine(reg)

	module := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	args := "greet wasm:" + base64.StdEncoding.EncodeToString(module)

	_, err := exec(t, define, "guild-1", args)
	require.NoError(t, err)
	require.True(t, reg.HasCustom("guild-1", "greet"))

	_, err = exec(t, define, "guild-1", "broken wasm:!!!not-base64!!!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base64")
	assert.False(t, reg.HasCustom("guild-1", "broken"))
}

func TestAllowAndDeny(t *testing.T) {
	granter := &recordingGranter{}

	out, err := exec(t, registry.NewAllow(granter), "guild-1", "roll user:u-2 group:mods")
	require.NoError(t, err)
	assert.Contains(t, out, "granted 1 user(s), 1 group(s)")
	assert.Equal(t, "guild-1", granter.tenantID)
	assert.Equal(t, "roll", granter.command)
	assert.Equal(t, []string{"u-2"}, granter.change.Add.Users)
	assert.Equal(t, []string{"mods"}, granter.change.Add.Groups)
	assert.Empty(t, granter.change.Remove.Users)

	out, err = exec(t, registry.NewDeny(granter), "guild-1", "roll user:u-2")
	require.NoError(t, err)
	assert.Contains(t, out, "revoked 1 user(s)")
	assert.Equal(t, []string{"u-2"}, granter.change.Remove.Users)
	assert.Empty(t, granter.change.Add.Users)

	for _, args := range []string{"", "roll", "roll u-2", "roll user:", "roll robot:u-2"} {
		_, err := exec(t, registry.NewAllow(granter), "guild-1", args)
		var usage *domerrors.UsageError
		require.ErrorAs(t, err, &usage, "args %q", args)
	}
}

func TestEmojiStats(t *testing.T) {
	reporter := &stubReporter{counts: []emoji.Count{
		{Name: "thumbsup", Count: 12},
		{Name: "tada", Count: 3},
	}}
	stats := registry.NewEmojiStats(reporter)

	out, err := exec(t, stats, "guild-1", "")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, ":thumbsup: — 12", lines[0])
	assert.Equal(t, ":tada: — 3", lines[1])

	reporter.counts = nil
	out, err = exec(t, stats, "guild-1", "")
	require.NoError(t, err)
	assert.Equal(t, "no emoji usage recorded yet", out)

	for _, args := range []string{"0", "26", "five"} {
		_, err := exec(t, stats, "guild-1", args)
		var usage *domerrors.UsageError
		require.ErrorAs(t, err, &usage, "args %q", args)
	}
}

func TestSandboxCtl(t *testing.T) {
	ctl := &stubSandbox{state: sandbox.StateRunning}
	cmd := registry.NewSandboxCtl(ctl)

	out, err := exec(t, cmd, "guild-1", "status")
	require.NoError(t, err)
	assert.Equal(t, "sandbox is running", out)

	out, err = exec(t, cmd, "guild-1", "restart")
	require.NoError(t, err)
	assert.Equal(t, "sandbox restarted", out)
	assert.True(t, ctl.restarted)

	_, err = exec(t, cmd, "guild-1", "explode")
	var usage *domerrors.UsageError
	require.ErrorAs(t, err, &usage)
}
