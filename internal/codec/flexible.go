package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lumencanvas/clasp/internal/clasptype"
)

// EncodeFlexible serializes msg using the flexible (MessagePack) profile:
// one type-code byte followed by a msgpack-encoded field struct.
func EncodeFlexible(msg Message) ([]byte, error) {
	body, err := msgpackBody(msg)
	if err != nil {
		return nil, fmt.Errorf("codec: flexible encode %T: %w", msg, err)
	}
	out := make([]byte, 1+len(body))
	out[0] = byte(msg.Type())
	copy(out[1:], body)
	return out, nil
}

// DecodeFlexible parses a flexible-profile payload (type byte + msgpack body).
func DecodeFlexible(payload []byte) (Message, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("codec: empty payload")
	}
	t := Type(payload[0])
	body := payload[1:]
	return unmarshalByType(t, body)
}

func msgpackBody(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Hello:
		return msgpack.Marshal(wireHello{Token: m.Token, Features: m.Features})
	case Welcome:
		return msgpack.Marshal(wireWelcome{SessionID: m.SessionID, Features: m.Features, ServerTime: m.ServerTime})
	case Announce:
		return msgpack.Marshal(wireAnnounce{Signals: toWireSignals(m.Signals)})
	case Subscribe:
		return msgpack.Marshal(wireSubscribe{ID: m.ID, Pattern: m.Pattern, TypeFilter: toByteFilter(m.TypeFilter), RateLimitHz: m.RateLimitHz})
	case Unsubscribe:
		return msgpack.Marshal(wireUnsubscribe{ID: m.ID})
	case Publish:
		return msgpack.Marshal(wirePublish{Address: m.Address, Value: toWireValue(m.Value), SignalType: byte(m.SignalType)})
	case Set:
		return msgpack.Marshal(wireSet{Address: m.Address, Value: toWireValue(m.Value), Revision: m.Revision, Lock: m.Lock, Unlock: m.Unlock})
	case Get:
		return msgpack.Marshal(wireGet{Address: m.Address})
	case Snapshot:
		return msgpack.Marshal(wireSnapshot{Params: toWireParams(m.Params)})
	case Bundle:
		return msgpack.Marshal(wireBundle{Sets: toWireSets(m.Sets), Publishes: toWirePublishes(m.Publishes)})
	case Sync:
		return msgpack.Marshal(wireSync{T0: m.T0, T1: m.T1, T2: m.T2})
	case Ping:
		return msgpack.Marshal(struct{}{})
	case Pong:
		return msgpack.Marshal(struct{}{})
	case Ack:
		return msgpack.Marshal(wireAck{Address: m.Address, Revision: m.Revision, Locked: m.Locked, Holder: m.Holder, CorrelationID: m.CorrelationID})
	case ErrorMsg:
		return msgpack.Marshal(wireError{Code: uint16(m.Code), Message: m.Message, Address: m.Address, CorrelationID: m.CorrelationID})
	case Query:
		return msgpack.Marshal(wireQuery{Pattern: m.Pattern})
	case Result:
		return msgpack.Marshal(wireResult{Signals: toWireSignals(m.Signals)})
	case Replay:
		return msgpack.Marshal(wireReplay{Pattern: m.Pattern, Since: m.Since})
	case FederationSync:
		return msgpack.Marshal(wireFederationSync{Op: byte(m.Op), Patterns: m.Patterns, Revisions: m.Revisions, SinceRevision: m.SinceRevision, Origin: m.Origin})
	default:
		return nil, fmt.Errorf("unknown message type %T", msg)
	}
}

func unmarshalByType(t Type, body []byte) (Message, error) {
	switch t {
	case TypeHello:
		var w wireHello
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Hello{Token: w.Token, Features: w.Features}, nil
	case TypeWelcome:
		var w wireWelcome
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Welcome{SessionID: w.SessionID, Features: w.Features, ServerTime: w.ServerTime}, nil
	case TypeAnnounce:
		var w wireAnnounce
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Announce{Signals: fromWireSignals(w.Signals)}, nil
	case TypeSubscribe:
		var w wireSubscribe
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Subscribe{ID: w.ID, Pattern: w.Pattern, TypeFilter: fromByteFilter(w.TypeFilter), RateLimitHz: w.RateLimitHz}, nil
	case TypeUnsubscribe:
		var w wireUnsubscribe
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Unsubscribe{ID: w.ID}, nil
	case TypePublish:
		var w wirePublish
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Publish{Address: w.Address, Value: fromWireValue(w.Value), SignalType: clasptype.SignalType(w.SignalType)}, nil
	case TypeSet:
		var w wireSet
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Set{Address: w.Address, Value: fromWireValue(w.Value), Revision: w.Revision, Lock: w.Lock, Unlock: w.Unlock}, nil
	case TypeGet:
		var w wireGet
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Get{Address: w.Address}, nil
	case TypeSnapshot:
		var w wireSnapshot
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Snapshot{Params: fromWireParams(w.Params)}, nil
	case TypeBundle:
		var w wireBundle
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Bundle{Sets: fromWireSets(w.Sets), Publishes: fromWirePublishes(w.Publishes)}, nil
	case TypeSync:
		var w wireSync
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Sync{T0: w.T0, T1: w.T1, T2: w.T2}, nil
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeAck:
		var w wireAck
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Ack{Address: w.Address, Revision: w.Revision, Locked: w.Locked, Holder: w.Holder, CorrelationID: w.CorrelationID}, nil
	case TypeError:
		var w wireError
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return ErrorMsg{Code: clasptype.Code(w.Code), Message: w.Message, Address: w.Address, CorrelationID: w.CorrelationID}, nil
	case TypeQuery:
		var w wireQuery
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Query{Pattern: w.Pattern}, nil
	case TypeResult:
		var w wireResult
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Result{Signals: fromWireSignals(w.Signals)}, nil
	case TypeReplay:
		var w wireReplay
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return Replay{Pattern: w.Pattern, Since: w.Since}, nil
	case TypeFederationSync:
		var w wireFederationSync
		if err := msgpack.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		return FederationSync{Op: FederationOp(w.Op), Patterns: w.Patterns, Revisions: w.Revisions, SinceRevision: w.SinceRevision, Origin: w.Origin}, nil
	default:
		return Unknown{Code: byte(t)}, nil
	}
}

type wireHello struct {
	Token    string   `msgpack:"token"`
	Features []string `msgpack:"features"`
}

type wireWelcome struct {
	SessionID  string   `msgpack:"session_id"`
	Features   []string `msgpack:"features"`
	ServerTime int64    `msgpack:"server_time"`
}

type wireSignalDescriptor struct {
	Address    string `msgpack:"addr"`
	SignalType byte   `msgpack:"type"`
}

type wireAnnounce struct {
	Signals []wireSignalDescriptor `msgpack:"signals"`
}

type wireSubscribe struct {
	ID          uint32  `msgpack:"id"`
	Pattern     string  `msgpack:"pattern"`
	TypeFilter  []byte  `msgpack:"type_filter"`
	RateLimitHz float64 `msgpack:"rate_limit_hz,omitempty"`
}

type wireUnsubscribe struct {
	ID uint32 `msgpack:"id"`
}

type wirePublish struct {
	Address    string    `msgpack:"addr"`
	Value      wireValue `msgpack:"val"`
	SignalType byte      `msgpack:"type"`
}

type wireSet struct {
	Address  string    `msgpack:"addr"`
	Value    wireValue `msgpack:"val"`
	Revision *uint64   `msgpack:"rev,omitempty"`
	Lock     bool      `msgpack:"lock,omitempty"`
	Unlock   bool      `msgpack:"unlock,omitempty"`
}

type wireGet struct {
	Address string `msgpack:"addr"`
}

type wireSnapshot struct {
	Params []wireParamValue `msgpack:"params"`
}

type wireBundle struct {
	Sets      []wireSet     `msgpack:"sets"`
	Publishes []wirePublish `msgpack:"publishes"`
}

type wireSync struct {
	T0 int64 `msgpack:"t0"`
	T1 int64 `msgpack:"t1"`
	T2 int64 `msgpack:"t2"`
}

type wireAck struct {
	Address       string  `msgpack:"addr,omitempty"`
	Revision      *uint64 `msgpack:"rev,omitempty"`
	Locked        *bool   `msgpack:"locked,omitempty"`
	Holder        string  `msgpack:"holder,omitempty"`
	CorrelationID string  `msgpack:"cid,omitempty"`
}

type wireError struct {
	Code          uint16 `msgpack:"code"`
	Message       string `msgpack:"message"`
	Address       string `msgpack:"addr,omitempty"`
	CorrelationID string `msgpack:"cid,omitempty"`
}

type wireQuery struct {
	Pattern string `msgpack:"pattern"`
}

type wireResult struct {
	Signals []wireSignalDescriptor `msgpack:"signals"`
}

type wireReplay struct {
	Pattern string `msgpack:"pattern"`
	Since   *int64 `msgpack:"since,omitempty"`
}

type wireFederationSync struct {
	Op            byte              `msgpack:"op"`
	Patterns      []string          `msgpack:"patterns"`
	Revisions     map[string]uint64 `msgpack:"revisions,omitempty"`
	SinceRevision *uint64           `msgpack:"since_rev,omitempty"`
	Origin        string            `msgpack:"origin,omitempty"`
}

func toWireSignals(sigs []clasptype.SignalDescriptor) []wireSignalDescriptor {
	out := make([]wireSignalDescriptor, len(sigs))
	for i, s := range sigs {
		out[i] = wireSignalDescriptor{Address: s.Address, SignalType: byte(s.SignalType)}
	}
	return out
}

func fromWireSignals(sigs []wireSignalDescriptor) []clasptype.SignalDescriptor {
	out := make([]clasptype.SignalDescriptor, len(sigs))
	for i, s := range sigs {
		out[i] = clasptype.SignalDescriptor{Address: s.Address, SignalType: clasptype.SignalType(s.SignalType)}
	}
	return out
}

func toWireParams(params []clasptype.ParamValue) []wireParamValue {
	out := make([]wireParamValue, len(params))
	for i, p := range params {
		out[i] = toWireParam(p)
	}
	return out
}

func fromWireParams(params []wireParamValue) []clasptype.ParamValue {
	out := make([]clasptype.ParamValue, len(params))
	for i, p := range params {
		out[i] = fromWireParam(p)
	}
	return out
}

func toWireSets(sets []Set) []wireSet {
	out := make([]wireSet, len(sets))
	for i, s := range sets {
		out[i] = wireSet{Address: s.Address, Value: toWireValue(s.Value), Revision: s.Revision, Lock: s.Lock, Unlock: s.Unlock}
	}
	return out
}

func fromWireSets(sets []wireSet) []Set {
	out := make([]Set, len(sets))
	for i, s := range sets {
		out[i] = Set{Address: s.Address, Value: fromWireValue(s.Value), Revision: s.Revision, Lock: s.Lock, Unlock: s.Unlock}
	}
	return out
}

func toWirePublishes(pubs []Publish) []wirePublish {
	out := make([]wirePublish, len(pubs))
	for i, p := range pubs {
		out[i] = wirePublish{Address: p.Address, Value: toWireValue(p.Value), SignalType: byte(p.SignalType)}
	}
	return out
}

func fromWirePublishes(pubs []wirePublish) []Publish {
	out := make([]Publish, len(pubs))
	for i, p := range pubs {
		out[i] = Publish{Address: p.Address, Value: fromWireValue(p.Value), SignalType: clasptype.SignalType(p.SignalType)}
	}
	return out
}

func toByteFilter(f []clasptype.SignalType) []byte {
	out := make([]byte, len(f))
	for i, t := range f {
		out[i] = byte(t)
	}
	return out
}

func fromByteFilter(f []byte) []clasptype.SignalType {
	out := make([]clasptype.SignalType, len(f))
	for i, b := range f {
		out[i] = clasptype.SignalType(b)
	}
	return out
}
