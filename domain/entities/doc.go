// Package entities contains the core domain types for warden: inbound chat
// messages, parsed invocations, permission rule sets, custom command
// definitions, and script execution requests/results.
//
// Entities are plain data with value semantics. They carry no I/O and no
// dependencies on other layers; behavior that touches storage or the sandbox
// lives in domain/policy, application/*, and sandbox.
package entities
