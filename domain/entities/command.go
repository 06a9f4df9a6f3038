package entities

// CommandKind distinguishes the two bodies a custom command can carry.
type CommandKind string

const (
	// KindLiteral replies with the stored body text verbatim.
	KindLiteral CommandKind = "literal"

	// KindScript executes the stored body as a sandboxed script module.
	KindScript CommandKind = "script"
)

// CustomCommand is a tenant-defined command. Name uniqueness is scoped per
// tenant. The body is literal reply text for KindLiteral and compiled script
// module bytes for KindScript.
type CustomCommand struct {
	TenantID string      `json:"tenant_id"`
	Name     string      `json:"name"`
	Kind     CommandKind `json:"kind"`
	Body     []byte      `json:"body"`
}
