package ports

import (
	"context"

	"github.com/wardenhq/warden/domain/entities"
)

// ChatTransport is the narrow surface of the chat platform the gateway
// consumes: a stream of inbound messages and a way to send one reply.
// Connection management, login, and event filtering beyond the Message
// fields are the transport's concern.
type ChatTransport interface {
	// Receive blocks until the next inbound message or context cancellation.
	Receive(ctx context.Context) (entities.Message, error)

	// Send delivers one reply to the given channel.
	Send(ctx context.Context, tenantID, channelID, text string) error
}
