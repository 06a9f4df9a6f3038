// Package errors provides the domain error taxonomy for warden.
// All error types support unwrapping via errors.As() and errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/wardenhq/warden/domain/entities"
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

// DetailedError is an interface for custom error types that can convert
// themselves to a structured ErrorDetail. New error types only need to
// implement this interface without modifying ToErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to our structured ErrorDetail.
// This function recognizes custom error types and categorizes them
// appropriately; anything unrecognized becomes an "internal" error.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}
}

// Silent reports whether the error belongs to the silent class: absorbed by
// the gateway with no reply sent, so that unauthorized actors learn nothing
// about which commands exist.
func Silent(err error) bool {
	d := ToErrorDetail(err)
	return d != nil && d.Silent
}

// AuthorizationError reports a failed policy check. It is silent toward chat.
type AuthorizationError struct {
	TenantID string
	Command  string
	UserID   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s not permitted to run %q in tenant %s", e.UserID, e.Command, e.TenantID)
}

// ToErrorDetail implements DetailedError.
func (e *AuthorizationError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "authorization", Code: e.Command, Silent: true}
}

// UnknownCommandError reports that resolution found no command. Treated
// identically to "not a command": silent.
type UnknownCommandError struct {
	TenantID string
	Command  string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("no such command %q in tenant %s", e.Command, e.TenantID)
}

// ToErrorDetail implements DetailedError.
func (e *UnknownCommandError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "unknown_command", Code: e.Command, Silent: true}
}

// ScriptTimeoutError reports a script aborted at its wall-clock limit.
type ScriptTimeoutError struct {
	Command string
	Limit   time.Duration
}

func (e *ScriptTimeoutError) Error() string {
	return fmt.Sprintf("script %q exceeded its %v time limit", e.Command, e.Limit)
}

func (e *ScriptTimeoutError) Timeout() bool {
	return true
}

// ToErrorDetail implements DetailedError.
func (e *ScriptTimeoutError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "script", Code: "timeout", IsTimeout: true}
}

// ScriptResourceError reports a script aborted at a memory or output ceiling.
type ScriptResourceError struct {
	Command  string
	Resource string // "memory" or "output"
}

func (e *ScriptResourceError) Error() string {
	return fmt.Sprintf("script %q exceeded its %s limit", e.Command, e.Resource)
}

// ToErrorDetail implements DetailedError.
func (e *ScriptResourceError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "script", Code: "resource_" + e.Resource}
}

// ScriptRuntimeError reports an uncaught script-level fault. Message carries
// the script's own error text so command authors get actionable feedback.
type ScriptRuntimeError struct {
	Err     error
	Command string
	Message string
}

func (e *ScriptRuntimeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("script %q failed: %s", e.Command, e.Message)
	}
	return fmt.Sprintf("script %q failed: %v", e.Command, e.Err)
}

func (e *ScriptRuntimeError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *ScriptRuntimeError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "script", Code: "runtime"}
}

// SandboxUnavailableError reports a script submission rejected because the
// sandbox manager is not running. There is no automatic retry; an operator
// must restart the manager.
type SandboxUnavailableError struct {
	State string
}

func (e *SandboxUnavailableError) Error() string {
	return fmt.Sprintf("sandbox unavailable (state %s); an operator must restart it", e.State)
}

// ToErrorDetail implements DetailedError.
func (e *SandboxUnavailableError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "sandbox", Code: e.State}
}

// StorageError reports a durable-store failure. During startup it is fatal;
// during a mutation the mutation reports failure and in-memory state stays at
// the last durable state.
type StorageError struct {
	Err       error
	Operation string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *StorageError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "storage", Code: e.Operation}
}

// ConfigError reports a configuration validation failure. Fatal at startup.
type ConfigError struct {
	Err   error
	Field string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config validation failed for field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *ConfigError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "config", Code: e.Field}
}

// UsageError reports a malformed argument string for a built-in command.
// Surfaced as the reply so the user can correct the call.
type UsageError struct {
	Command string
	Usage   string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage: %s %s", e.Command, e.Usage)
}

// ToErrorDetail implements DetailedError.
func (e *UsageError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "usage", Code: e.Command}
}
