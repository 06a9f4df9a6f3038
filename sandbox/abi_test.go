package sandbox

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackUnpackPtrLen(t *testing.T) {
	tests := []struct {
		name   string
		ptr    uint32
		length uint32
	}{
		{"zero", 0, 0},
		{"small", 1024, 64},
		{"max ptr", math.MaxUint32, 0},
		{"max length", 0, math.MaxUint32},
		{"both max", math.MaxUint32, math.MaxUint32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := packPtrLen(tt.ptr, tt.length)
			ptr, length := unpackPtrLen(packed)
			assert.Equal(t, tt.ptr, ptr)
			assert.Equal(t, tt.length, length)
		})
	}
}

func TestPackPtrLenLayout(t *testing.T) {
	// Pointer occupies the upper 32 bits, length the lower 32.
	assert.Equal(t, uint64(0x0000_0001_0000_0002), packPtrLen(1, 2))
}

func TestGuestFaultMessage(t *testing.T) {
	assert.Equal(t, "boom", (&guestFault{Message: "boom"}).Error())
	assert.Equal(t, "script signalled no output", (&guestFault{}).Error())
}

func TestParseLogPayload(t *testing.T) {
	p, ok := parseLogPayload([]byte(`{"level":"info","message":"hi"}`))
	assert.True(t, ok)
	assert.Equal(t, "info", p.Level)
	assert.Equal(t, "hi", p.Message)

	_, ok = parseLogPayload([]byte("not json"))
	assert.False(t, ok)
}
