// Package console implements the chat transport over stdin/stdout for local
// runs: each input line is a message from a fixed local tenant and user,
// and replies are printed to the output.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/wardenhq/warden/domain/entities"
)

// transportConfig holds the identity attached to console messages.
type transportConfig struct {
	tenantID  string
	channelID string
	userID    string
	groups    []string
}

func defaultTransportConfig() transportConfig {
	return transportConfig{
		tenantID:  "local",
		channelID: "console",
		userID:    "operator",
	}
}

// Option configures the Transport.
type Option func(*transportConfig)

// WithIdentity sets the tenant, channel and user attached to every line.
func WithIdentity(tenantID, channelID, userID string) Option {
	return func(c *transportConfig) {
		c.tenantID = tenantID
		c.channelID = channelID
		c.userID = userID
	}
}

// WithGroups sets the group memberships of the console user.
func WithGroups(groups []string) Option {
	return func(c *transportConfig) {
		c.groups = groups
	}
}

// Transport implements ports.ChatTransport over a line-oriented reader and
// writer.
type Transport struct {
	in     io.Reader
	out    io.Writer
	config transportConfig

	once  sync.Once
	lines chan string
	done  chan struct{}
}

// New creates a console transport.
func New(in io.Reader, out io.Writer, opts ...Option) *Transport {
	cfg := defaultTransportConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Transport{
		in:     in,
		out:    out,
		config: cfg,
		lines:  make(chan string),
		done:   make(chan struct{}),
	}
}

// Receive blocks until the next input line, the context is canceled, or the
// input is exhausted. EOF is reported as io.EOF.
func (t *Transport) Receive(ctx context.Context) (entities.Message, error) {
	t.once.Do(func() {
		go t.scan()
	})

	select {
	case line, ok := <-t.lines:
		if !ok {
			return entities.Message{}, io.EOF
		}
		return entities.Message{
			Author: entities.Actor{
				UserID: t.config.userID,
				Groups: append([]string(nil), t.config.groups...),
			},
			TenantID:  t.config.tenantID,
			ChannelID: t.config.channelID,
			CanSend:   true,
			Text:      line,
		}, nil
	case <-ctx.Done():
		return entities.Message{}, ctx.Err()
	}
}

// Send prints a reply to the output.
func (t *Transport) Send(_ context.Context, tenantID, channelID, text string) error {
	if _, err := fmt.Fprintf(t.out, "[%s/%s] %s\n", tenantID, channelID, text); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

func (t *Transport) scan() {
	defer close(t.lines)
	scanner := bufio.NewScanner(t.in)
	for scanner.Scan() {
		select {
		case t.lines <- scanner.Text():
		case <-t.done:
			return
		}
	}
}

// Close stops the reader goroutine.
func (t *Transport) Close() error {
	close(t.done)
	return nil
}
