package sandbox

import (
	"encoding/json"
	"errors"
)

// HostModuleName is the module name under which the host functions are
// exported to guests.
const HostModuleName = "warden_host"

// Guest exports every script module must provide.
const (
	// guestAllocate allocates guest memory for host-written payloads:
	// allocate(size: i32) -> ptr: i32.
	guestAllocate = "allocate"

	// guestRun is the script entrypoint: run(ptr: i32, len: i32) -> packed
	// i64. A zero return means success; a non-zero return is the packed
	// ptr+len of an error message in guest memory. A non-zero return whose
	// length is zero is the "intentionally no reply" sentinel.
	guestRun = "run"
)

// Host exports available to guests, all using the packed i64 ptr+len
// convention for payloads.
const (
	// hostReply appends reply text to the bounded output sink.
	hostReply = "reply"

	// hostLog routes a structured log line to the host logger.
	hostLog = "log_message"

	// hostBindingGet returns the value of a named binding, or an empty
	// payload when the binding does not exist.
	hostBindingGet = "binding_get"
)

// Sentinel errors the engine reports for limit breaches. The manager maps
// them onto the domain error taxonomy.
var (
	// ErrOutputLimit reports that the script wrote past its output ceiling.
	ErrOutputLimit = errors.New("script output limit exceeded")

	// ErrMemoryLimit reports a linear-memory ceiling breach.
	ErrMemoryLimit = errors.New("script memory limit exceeded")
)

// guestFault carries an error the guest itself reported through run's return
// value. An empty message is the no-reply sentinel, not a fault.
type guestFault struct {
	Message string
}

func (e *guestFault) Error() string {
	if e.Message == "" {
		return "script signalled no output"
	}
	return e.Message
}

// logPayload is the JSON shape guests send through log_message.
type logPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func parseLogPayload(data []byte) (logPayload, bool) {
	var p logPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return logPayload{}, false
	}
	return p, true
}

// packPtrLen packs a guest pointer and length into a single i64.
// Upper 32 bits: pointer, lower 32 bits: length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// unpackPtrLen unpacks a pointer and length from a packed i64.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)           //nolint:gosec // packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // packed format stores 32-bit values
	return ptr, length
}
