// Package parser turns raw message text into structured invocations. It is
// purely lexical: it knows the command prefix and nothing about which
// commands exist.
package parser

import (
	"strings"
	"unicode"

	"github.com/wardenhq/warden/domain/entities"
)

// parserConfig holds configuration for the Parser.
type parserConfig struct {
	prefix string
}

func defaultParserConfig() parserConfig {
	return parserConfig{prefix: "!"}
}

// Option configures the Parser.
type Option func(*parserConfig)

// WithPrefix sets the command prefix (default "!"). An empty prefix makes
// every message a command candidate; unknown names are dropped silently
// downstream, so this is a deterministic prefix-less deployment mode.
func WithPrefix(prefix string) Option {
	return func(c *parserConfig) {
		c.prefix = prefix
	}
}

// Parser recognizes command invocations in message text.
type Parser struct {
	config parserConfig
}

// New creates a Parser with the given options.
func New(opts ...Option) *Parser {
	cfg := defaultParserConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Parser{config: cfg}
}

// Parse extracts an invocation from raw message text. The second return is
// false when the text is not a command: no prefix, a bare prefix, or a prefix
// followed by whitespace. Whitespace-only argument strings normalize to empty.
// Parse never fails; malformed text is simply "not a command".
func (p *Parser) Parse(text string) (entities.Invocation, bool) {
	rest, ok := strings.CutPrefix(text, p.config.prefix)
	if !ok || rest == "" {
		return entities.Invocation{}, false
	}
	if idx := strings.IndexFunc(rest, unicode.IsSpace); idx == 0 {
		// Prefix followed by whitespace is not a command.
		return entities.Invocation{}, false
	} else if idx < 0 {
		return entities.Invocation{Command: rest}, true
	} else {
		name := rest[:idx]
		rawArgs := strings.TrimSpace(rest[idx:])
		return entities.Invocation{Command: name, RawArgs: rawArgs}, true
	}
}
