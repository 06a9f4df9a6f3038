package policy

import (
	"log/slog"

	"github.com/wardenhq/warden/domain/entities"
)

// SlogDenialHandler logs denials through the default slog logger. Denials are
// expected traffic, so they log at debug.
type SlogDenialHandler struct{}

// OnDenial implements DenialHandler.
func (SlogDenialHandler) OnDenial(tenantID, command string, actor entities.Actor, reason string) {
	slog.Debug("authorization denied",
		"tenant", tenantID,
		"command", command,
		"user", actor.UserID,
		"reason", reason,
	)
}
