package codec

import "fmt"

// Encode produces a full frame for msg. preferEmbedded requests the
// fixed-width profile when msg's type supports it; otherwise it silently
// falls back to the flexible profile, since not every message type carries
// an embedded encoding (spec.md §9 only mandates the overlap for HELLO,
// SET, PING, PONG, SUBSCRIBE).
func Encode(msg Message, preferEmbedded bool) ([]byte, error) {
	var payload []byte
	var err error
	flags := byte(0)
	if preferEmbedded && isEmbeddable(msg.Type()) {
		payload, err = EncodeEmbedded(msg)
		flags = FlagEmbedded
	} else {
		payload, err = EncodeFlexible(msg)
	}
	if err != nil {
		return nil, err
	}
	return WriteFrame(Frame{Flags: flags, Payload: payload})
}

// Decode parses one frame from data and returns the decoded message plus
// the number of bytes consumed. It never panics: malformed input produces
// a typed error, per spec.md §4.2's fuzzing target.
func Decode(data []byte) (Message, int, error) {
	frame, n, err := ReadFrame(data)
	if err != nil {
		return nil, 0, err
	}
	var msg Message
	if frame.Flags&FlagEmbedded != 0 {
		msg, err = DecodeEmbedded(frame.Payload)
	} else {
		msg, err = DecodeFlexible(frame.Payload)
	}
	if err != nil {
		return nil, n, fmt.Errorf("codec: decode payload: %w", err)
	}
	return msg, n, nil
}
