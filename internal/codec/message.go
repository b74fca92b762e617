// Package codec implements the CLASP binary frame and message codec:
// a fixed frame header (§3 Frame) wrapping a tagged-union message payload,
// available in two profiles — embedded (fixed-width, allocation-light) and
// flexible (MessagePack). For the overlapping message set (HELLO, SET,
// PING, PONG, SUBSCRIBE) both profiles carry the same logical message, but
// their byte layouts differ: a payload is decoded by the decoder of the
// profile that produced it, selected by the frame's profile flag.
package codec

import "github.com/lumencanvas/clasp/internal/clasptype"

// Type is the one-byte message type code, spec.md §4.2.
type Type byte

const (
	TypeHello          Type = 0x01
	TypeWelcome        Type = 0x02
	TypeAnnounce       Type = 0x03
	TypeSubscribe      Type = 0x10
	TypeUnsubscribe    Type = 0x11
	TypePublish        Type = 0x20
	TypeSet            Type = 0x21
	TypeGet            Type = 0x22
	TypeSnapshot       Type = 0x23
	TypeBundle         Type = 0x30
	TypeSync           Type = 0x40
	TypePing           Type = 0x41
	TypePong           Type = 0x42
	TypeAck            Type = 0x50
	TypeError          Type = 0x51
	TypeQuery          Type = 0x60
	TypeResult         Type = 0x61
	TypeReplay         Type = 0x62
	TypeFederationSync Type = 0x70
)

// Message is implemented by every concrete CLASP message struct.
type Message interface {
	Type() Type
}

type Hello struct {
	Token    string
	Features []string
}

func (Hello) Type() Type { return TypeHello }

type Welcome struct {
	SessionID  string
	Features   []string
	ServerTime int64
}

func (Welcome) Type() Type { return TypeWelcome }

type Announce struct {
	Signals []clasptype.SignalDescriptor
}

func (Announce) Type() Type { return TypeAnnounce }

type Subscribe struct {
	ID         uint32
	Pattern    string
	TypeFilter []clasptype.SignalType
	RateLimitHz float64
}

func (Subscribe) Type() Type { return TypeSubscribe }

type Unsubscribe struct {
	ID uint32
}

func (Unsubscribe) Type() Type { return TypeUnsubscribe }

type Publish struct {
	Address    string
	Value      clasptype.Value
	SignalType clasptype.SignalType
}

func (Publish) Type() Type { return TypePublish }

type Set struct {
	Address  string
	Value    clasptype.Value
	Revision *uint64 // optional client revision; rejected as stale unless greater than the current revision
	Lock     bool
	Unlock   bool
}

func (Set) Type() Type { return TypeSet }

type Get struct {
	Address string
}

func (Get) Type() Type { return TypeGet }

type Snapshot struct {
	Params []clasptype.ParamValue
}

func (Snapshot) Type() Type { return TypeSnapshot }

type Bundle struct {
	Sets     []Set
	Publishes []Publish
}

func (Bundle) Type() Type { return TypeBundle }

// Sync carries both the SYNC request and the server's timestamped reply in
// the three-timestamp clock exchange; the reply has T1 and T2 filled in.
type Sync struct {
	T0 int64 // client send time
	T1 int64 // server receive time, filled by router
	T2 int64 // server send time, filled by router
}

func (Sync) Type() Type { return TypeSync }

type Ping struct{}

func (Ping) Type() Type { return TypePing }

type Pong struct{}

func (Pong) Type() Type { return TypePong }

type Ack struct {
	Address       string
	Revision      *uint64
	Locked        *bool
	Holder        string
	CorrelationID string
}

func (Ack) Type() Type { return TypeAck }

type ErrorMsg struct {
	Code          clasptype.Code
	Message       string
	Address       string
	CorrelationID string
}

func (ErrorMsg) Type() Type { return TypeError }

type Query struct {
	Pattern string
}

func (Query) Type() Type { return TypeQuery }

type Result struct {
	Signals []clasptype.SignalDescriptor
}

func (Result) Type() Type { return TypeResult }

type Replay struct {
	Pattern string
	Since   *int64
}

func (Replay) Type() Type { return TypeReplay }

// FederationOp enumerates FEDERATION_SYNC sub-operations.
type FederationOp byte

const (
	FedDeclareNamespaces FederationOp = iota
	FedRequestSync
	FedRevisionVector
	FedSyncComplete
)

type FederationSync struct {
	Op            FederationOp
	Patterns      []string
	Revisions     map[string]uint64
	SinceRevision *uint64
	Origin        string
}

func (FederationSync) Type() Type { return TypeFederationSync }

// Unknown is returned by the decoders, instead of a bare error, when a
// frame carries a type code this codec doesn't recognize (or one outside
// the embedded profile's overlap set) — matching the original
// implementation's Message::Unknown(code) variant. The dispatcher reacts
// to it as a protocol violation (single ERROR, then close) rather than the
// transport having nothing but an opaque decode error to act on.
type Unknown struct {
	Code byte
}

func (u Unknown) Type() Type { return Type(u.Code) }
