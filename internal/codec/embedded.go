package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lumencanvas/clasp/internal/clasptype"
)

// Embedded profile: fixed-width, allocation-light layout required for the
// overlapping message set named in spec.md §9 ("Embedded profile
// divergence"): HELLO, SET, PING, PONG, SUBSCRIBE. The embedded bytes are
// not the flexible profile's bytes, and neither decoder reads the other
// profile's payloads. codec_test.go encodes each overlap message with both
// profiles, decodes each with its own profile's decoder, and checks that
// the two decoded Message values are equal.
//
// Values inside embedded messages are encoded as a Kind tag followed by a
// fixed-width or length-prefixed payload, without msgpack framing.

func isEmbeddable(t Type) bool {
	switch t {
	case TypeHello, TypeSet, TypePing, TypePong, TypeSubscribe:
		return true
	default:
		return false
	}
}

// EncodeEmbedded serializes msg using the fixed-width profile. Returns an
// error if msg's type isn't in the embeddable overlap set.
func EncodeEmbedded(msg Message) ([]byte, error) {
	if !isEmbeddable(msg.Type()) {
		return nil, fmt.Errorf("codec: type 0x%02x has no embedded encoding", byte(msg.Type()))
	}
	buf := []byte{byte(msg.Type())}
	switch m := msg.(type) {
	case Hello:
		buf = appendString(buf, m.Token)
		buf = appendStringList(buf, m.Features)
	case Set:
		buf = appendString(buf, m.Address)
		buf = appendEmbeddedValue(buf, m.Value)
		buf = appendOptU64(buf, m.Revision)
		buf = append(buf, boolByte(m.Lock), boolByte(m.Unlock))
	case Ping:
		// no body
	case Pong:
		// no body
	case Subscribe:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], m.ID)
		buf = append(buf, tmp[:]...)
		buf = appendString(buf, m.Pattern)
		buf = append(buf, byte(len(m.TypeFilter)))
		for _, t := range m.TypeFilter {
			buf = append(buf, byte(t))
		}
		buf = appendFloat64(buf, m.RateLimitHz)
	default:
		return nil, fmt.Errorf("codec: unsupported embedded message %T", msg)
	}
	return buf, nil
}

// DecodeEmbedded parses a fixed-width-profile payload.
func DecodeEmbedded(payload []byte) (Message, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("codec: empty embedded payload")
	}
	t := Type(payload[0])
	r := &reader{buf: payload[1:]}
	switch t {
	case TypeHello:
		token, err := r.readString()
		if err != nil {
			return nil, err
		}
		features, err := r.readStringList()
		if err != nil {
			return nil, err
		}
		return Hello{Token: token, Features: features}, nil
	case TypeSet:
		addr, err := r.readString()
		if err != nil {
			return nil, err
		}
		val, err := r.readEmbeddedValue()
		if err != nil {
			return nil, err
		}
		rev, err := r.readOptU64()
		if err != nil {
			return nil, err
		}
		lock, err := r.readByte()
		if err != nil {
			return nil, err
		}
		unlock, err := r.readByte()
		if err != nil {
			return nil, err
		}
		return Set{Address: addr, Value: val, Revision: rev, Lock: lock != 0, Unlock: unlock != 0}, nil
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeSubscribe:
		id, err := r.readU32()
		if err != nil {
			return nil, err
		}
		pattern, err := r.readString()
		if err != nil {
			return nil, err
		}
		n, err := r.readByte()
		if err != nil {
			return nil, err
		}
		filter := make([]clasptype.SignalType, n)
		for i := range filter {
			b, err := r.readByte()
			if err != nil {
				return nil, err
			}
			filter[i] = clasptype.SignalType(b)
		}
		rate, err := r.readFloat64()
		if err != nil {
			return nil, err
		}
		return Subscribe{ID: id, Pattern: pattern, TypeFilter: filter, RateLimitHz: rate}, nil
	default:
		return Unknown{Code: byte(t)}, nil
	}
}

// --- primitive helpers ---

func appendString(buf []byte, s string) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(len(s)))
	buf = append(buf, tmp[:]...)
	return append(buf, s...)
}

func appendStringList(buf []byte, list []string) []byte {
	buf = append(buf, byte(len(list)))
	for _, s := range list {
		buf = appendString(buf, s)
	}
	return buf
}

func appendOptU64(buf []byte, v *uint64) []byte {
	if v == nil {
		return append(buf, 0)
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], *v)
	return append(append(buf, 1), tmp[:]...)
}

func appendFloat64(buf []byte, f float64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(f))
	return append(buf, tmp[:]...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendEmbeddedValue(buf []byte, v clasptype.Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case clasptype.KindNull:
	case clasptype.KindBool:
		buf = append(buf, boolByte(v.Bool))
	case clasptype.KindInt:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.Int))
		buf = append(buf, tmp[:]...)
	case clasptype.KindFloat:
		buf = appendFloat64(buf, v.Float)
	case clasptype.KindString:
		buf = appendString(buf, v.Str)
	case clasptype.KindBytes:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(len(v.Bytes)))
		buf = append(buf, tmp[:]...)
		buf = append(buf, v.Bytes...)
	case clasptype.KindList:
		buf = append(buf, byte(len(v.List)))
		for _, e := range v.List {
			buf = appendEmbeddedValue(buf, e)
		}
	case clasptype.KindMap:
		buf = append(buf, byte(len(v.Map)))
		for k, e := range v.Map {
			buf = appendString(buf, k)
			buf = appendEmbeddedValue(buf, e)
		}
	}
	return buf
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("codec: truncated embedded payload")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readN(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("codec: truncated embedded payload: need %d have %d", n, len(r.buf)-r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) readU64() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) readFloat64() (float64, error) {
	u, err := r.readU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

func (r *reader) readString() (string, error) {
	b, err := r.readN(2)
	if err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(b))
	s, err := r.readN(n)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func (r *reader) readStringList() ([]string, error) {
	n, err := r.readByte()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (r *reader) readOptU64() (*uint64, error) {
	present, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	v, err := r.readU64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *reader) readEmbeddedValue() (clasptype.Value, error) {
	kind, err := r.readByte()
	if err != nil {
		return clasptype.Value{}, err
	}
	v := clasptype.Value{Kind: clasptype.Kind(kind)}
	switch v.Kind {
	case clasptype.KindNull:
	case clasptype.KindBool:
		b, err := r.readByte()
		if err != nil {
			return v, err
		}
		v.Bool = b != 0
	case clasptype.KindInt:
		u, err := r.readU64()
		if err != nil {
			return v, err
		}
		v.Int = int64(u)
	case clasptype.KindFloat:
		f, err := r.readFloat64()
		if err != nil {
			return v, err
		}
		v.Float = f
	case clasptype.KindString:
		s, err := r.readString()
		if err != nil {
			return v, err
		}
		v.Str = s
	case clasptype.KindBytes:
		b, err := r.readN(2)
		if err != nil {
			return v, err
		}
		n := int(binary.BigEndian.Uint16(b))
		data, err := r.readN(n)
		if err != nil {
			return v, err
		}
		v.Bytes = append([]byte(nil), data...)
	case clasptype.KindList:
		n, err := r.readByte()
		if err != nil {
			return v, err
		}
		v.List = make([]clasptype.Value, n)
		for i := range v.List {
			e, err := r.readEmbeddedValue()
			if err != nil {
				return v, err
			}
			v.List[i] = e
		}
	case clasptype.KindMap:
		n, err := r.readByte()
		if err != nil {
			return v, err
		}
		v.Map = make(map[string]clasptype.Value, n)
		for i := 0; i < int(n); i++ {
			k, err := r.readString()
			if err != nil {
				return v, err
			}
			e, err := r.readEmbeddedValue()
			if err != nil {
				return v, err
			}
			v.Map[k] = e
		}
	default:
		return v, fmt.Errorf("codec: unknown value kind %d", kind)
	}
	return v, nil
}
