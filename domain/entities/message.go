package entities

// Actor identifies the user attempting a command, together with the group
// memberships (platform roles) the chat transport reports for them.
type Actor struct {
	// UserID is the platform-wide unique id of the user.
	UserID string `json:"user_id"`

	// Groups are the ids of the groups/roles the actor belongs to within the
	// tenant. The gateway always appends the tenant id itself, so "everyone in
	// this tenant" is expressible as a plain group grant.
	Groups []string `json:"groups,omitempty"`
}

// InGroup reports whether the actor belongs to the given group.
func (a Actor) InGroup(group string) bool {
	for _, g := range a.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Message is one inbound chat event as delivered by the transport collaborator.
type Message struct {
	// Author is the sending user and their group memberships.
	Author Actor `json:"author"`

	// Bot is true when the author is this bot or another bot.
	Bot bool `json:"bot,omitempty"`

	// TenantID identifies the chat server/workspace the message came from.
	TenantID string `json:"tenant_id"`

	// ChannelID identifies the channel within the tenant.
	ChannelID string `json:"channel_id"`

	// CanSend is true when the bot is able to reply in the channel. The
	// transport determines this; the gateway skips messages where it is false.
	CanSend bool `json:"can_send"`

	// Text is the raw message text.
	Text string `json:"text"`
}

// Invocation is a parsed command: the command name plus the raw argument
// string. Produced per message by the parser, never persisted.
type Invocation struct {
	Command string `json:"command"`
	RawArgs string `json:"raw_args"`
}
