// Package gateway is the message pipeline: it receives chat messages,
// feeds the emoji collector, parses invocations, resolves and authorizes
// commands, executes them and sends the reply. It also owns the tenant
// lifecycle hooks (join seeding, removal purge).
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/application/parser"
	"github.com/wardenhq/warden/application/registry"
	"github.com/wardenhq/warden/domain/entities"
	domerrors "github.com/wardenhq/warden/domain/errors"
	"github.com/wardenhq/warden/domain/ports"
)

// PolicyEngine is the authorization surface the gateway needs; the policy
// engine satisfies it.
type PolicyEngine interface {
	Check(tenantID, command string, actor entities.Actor, fallback entities.Fallback) (bool, error)
	Seed(ctx context.Context, tenantID string, commands []string) error
	RemoveTenant(ctx context.Context, tenantID string) error
}

// CommandResolver maps invocations to commands; the registry satisfies it.
type CommandResolver interface {
	Resolve(tenantID string, inv entities.Invocation) registry.Command
	RemoveTenant(ctx context.Context, tenantID string) error
}

// EmojiObserver feeds the usage counters; the emoji collector satisfies it.
type EmojiObserver interface {
	Observe(tenantID, text string)
	RemoveTenant(ctx context.Context, tenantID string) error
}

// gatewayConfig holds configuration for the Gateway.
type gatewayConfig struct {
	logger        *slog.Logger
	maxConcurrent int
	seedCommands  []string
}

func defaultGatewayConfig() gatewayConfig {
	return gatewayConfig{
		logger:        slog.Default(),
		maxConcurrent: 8,
	}
}

// Option configures the Gateway.
type Option func(*gatewayConfig)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *gatewayConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxConcurrent caps the number of messages handled at once.
func WithMaxConcurrent(n int) Option {
	return func(c *gatewayConfig) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithSeedCommands sets the built-ins granted tenant-wide when a tenant
// joins.
func WithSeedCommands(commands []string) Option {
	return func(c *gatewayConfig) {
		c.seedCommands = commands
	}
}

// Gateway drives the message pipeline over a chat transport.
type Gateway struct {
	transport ports.ChatTransport
	parser    *parser.Parser
	resolver  CommandResolver
	policy    PolicyEngine
	emoji     EmojiObserver
	config    gatewayConfig
}

// New creates a Gateway.
func New(transport ports.ChatTransport, p *parser.Parser, resolver CommandResolver, policy PolicyEngine, emoji EmojiObserver, opts ...Option) *Gateway {
	cfg := defaultGatewayConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Gateway{
		transport: transport,
		parser:    p,
		resolver:  resolver,
		policy:    policy,
		emoji:     emoji,
		config:    cfg,
	}
}

// Serve receives messages until the context is canceled or the transport
// fails, dispatching each message to a worker. In-flight handlers are
// drained before Serve returns.
func (g *Gateway) Serve(ctx context.Context) error {
	slots := make(chan struct{}, g.config.maxConcurrent)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := g.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()

			dispatchID := uuid.NewString()
			logger := g.config.logger.With(
				slog.String("dispatch_id", dispatchID),
				slog.String("tenant_id", msg.TenantID),
				slog.String("channel_id", msg.ChannelID),
			)
			if err := g.Handle(ctx, msg); err != nil {
				logger.Error("message handling failed", slog.Any("error", err))
			}
		}()
	}
}

// Handle runs one message through the pipeline. Silent failures (unknown
// command, authorization denial, user-canceled scripts) produce no reply and
// no error; the returned error covers only infrastructure failures the
// operator should see.
func (g *Gateway) Handle(ctx context.Context, msg entities.Message) error {
	if msg.Bot {
		return nil
	}

	g.emoji.Observe(msg.TenantID, msg.Text)

	inv, ok := g.parser.Parse(msg.Text)
	if !ok {
		return nil
	}
	if !msg.CanSend {
		// Commands in reply-less channels are dropped rather than executed
		// with their output lost.
		g.config.logger.Debug("ignoring command in send-restricted channel",
			slog.String("tenant_id", msg.TenantID),
			slog.String("command", inv.Command))
		return nil
	}

	cmd := g.resolver.Resolve(msg.TenantID, inv)
	if cmd == nil {
		g.config.logger.Debug("unknown command",
			slog.String("tenant_id", msg.TenantID),
			slog.String("command", inv.Command))
		return nil
	}

	// Every member implicitly belongs to the group named after the tenant,
	// so tenant-wide grants and the tenant fallback are plain group checks.
	actor := msg.Author
	actor.Groups = append(append([]string(nil), actor.Groups...), msg.TenantID)

	allowed, err := g.policy.Check(msg.TenantID, cmd.Name(), actor, cmd.Fallback())
	if err != nil {
		return err
	}
	if !allowed {
		return nil
	}

	reply, err := cmd.Execute(ctx, registry.ExecContext{
		TenantID:   msg.TenantID,
		ChannelID:  msg.ChannelID,
		Actor:      actor,
		Invocation: inv,
	})
	if err != nil {
		if domerrors.Silent(err) {
			g.config.logger.Debug("command failed silently",
				slog.String("tenant_id", msg.TenantID),
				slog.String("command", inv.Command),
				slog.Any("error", err))
			return nil
		}
		detail := domerrors.ToErrorDetail(err)
		g.config.logger.Warn("command failed",
			slog.String("tenant_id", msg.TenantID),
			slog.String("command", inv.Command),
			slog.Any("error", err))
		reply = detail.Message
	}
	if reply == "" {
		return nil
	}

	return g.transport.Send(ctx, msg.TenantID, msg.ChannelID, reply)
}

// TenantJoined grants the configured seed commands tenant-wide. Tenants
// that already hold rule sets for a seeded command keep them untouched.
func (g *Gateway) TenantJoined(ctx context.Context, tenantID string) error {
	g.config.logger.Info("tenant joined", slog.String("tenant_id", tenantID))
	return g.policy.Seed(ctx, tenantID, g.config.seedCommands)
}

// TenantRemoved purges everything the tenant owned: policies first so no
// stale grants survive, then custom commands, then emoji counters.
func (g *Gateway) TenantRemoved(ctx context.Context, tenantID string) error {
	g.config.logger.Info("tenant removed", slog.String("tenant_id", tenantID))
	if err := g.policy.RemoveTenant(ctx, tenantID); err != nil {
		return err
	}
	if err := g.resolver.RemoveTenant(ctx, tenantID); err != nil {
		return err
	}
	return g.emoji.RemoveTenant(ctx, tenantID)
}
