package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	frameMagic byte = 0x53

	// FlagEmbedded set means the payload uses the embedded fixed-width
	// profile; clear means the flexible MessagePack profile. Bit 1 is
	// reserved per spec.md §3.
	FlagEmbedded byte = 1 << 0

	maxFramePayload = 65535 // u16 max, spec.md §5 resource caps
)

// Frame is the outer `{magic, flags, length, payload}` wrapper, spec.md §3.
type Frame struct {
	Flags   byte
	Payload []byte
}

// WriteFrame serializes a frame to bytes: magic | flags | length be16 | payload.
func WriteFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > maxFramePayload {
		return nil, fmt.Errorf("codec: payload %d bytes exceeds max %d", len(f.Payload), maxFramePayload)
	}
	out := make([]byte, 4+len(f.Payload))
	out[0] = frameMagic
	out[1] = f.Flags
	binary.BigEndian.PutUint16(out[2:4], uint16(len(f.Payload)))
	copy(out[4:], f.Payload)
	return out, nil
}

// ReadFrame parses one frame from the head of data and returns the frame
// plus the number of bytes consumed. It never panics: malformed input
// yields a typed error.
func ReadFrame(data []byte) (Frame, int, error) {
	if len(data) < 4 {
		return Frame{}, 0, fmt.Errorf("codec: truncated frame header (%d bytes)", len(data))
	}
	if data[0] != frameMagic {
		return Frame{}, 0, fmt.Errorf("codec: bad magic byte 0x%02x", data[0])
	}
	flags := data[1]
	length := binary.BigEndian.Uint16(data[2:4])
	total := 4 + int(length)
	if len(data) < total {
		return Frame{}, 0, fmt.Errorf("codec: truncated payload: have %d need %d", len(data)-4, length)
	}
	payload := make([]byte, length)
	copy(payload, data[4:total])
	return Frame{Flags: flags, Payload: payload}, total, nil
}
