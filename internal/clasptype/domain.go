package clasptype

// ParamState is the authoritative state held by the state store for one
// address. Revision increments on every accepted SET; Timestamp is
// non-decreasing per address under a single clock source.
type ParamState struct {
	Value     Value
	Revision  uint64
	Writer    string // session id, or "system"
	Timestamp int64  // microseconds since epoch
	Lock      string // session id holding the lock, "" if unlocked
}

// ParamValue is the wire-level projection of a ParamState used in
// SNAPSHOT/RESULT messages.
type ParamValue struct {
	Address  string
	Value    Value
	Revision uint64
	Writer   string
	Timestamp int64
}

// Scope is an (action, pattern) pair authorizing a session to perform an
// action on matching addresses.
type Scope struct {
	Action  Action
	Pattern string
}

// SubscriptionOptions carries per-subscription tuning knobs.
type SubscriptionOptions struct {
	RateLimitHz float64 // stored with the subscription; the router does not throttle delivery by it
}

// Subscription is `{id, session-id, pattern, signal-type filter, options}`.
type Subscription struct {
	ID            uint32
	SessionID     string
	Pattern       string
	TypeFilter    map[SignalType]struct{} // empty = all
	Options       SubscriptionOptions
}

// Admits reports whether this subscription's type filter admits st.
func (s Subscription) Admits(st SignalType) bool {
	if len(s.TypeFilter) == 0 {
		return true
	}
	_, ok := s.TypeFilter[st]
	return ok
}

// FederationInfo records a federation peer session's declared namespaces.
type FederationInfo struct {
	RouterID           string
	DeclaredNamespaces []string
}

// ProofLink is a prior token in a capability delegation chain. It carries
// every field that token signed (Issuer/Subject/Scopes/ExpiresAt/Nonce) plus
// its own Signature, so a verifier can reconstruct that ancestor's exact
// signing body and check it — not just compare scope strings.
type ProofLink struct {
	Issuer    []byte // Ed25519 public key
	Subject   []byte
	Scopes    []string
	ExpiresAt uint64
	Nonce     string
	Signature []byte
}

// CapabilityToken is a delegatable, attenuating bearer token.
type CapabilityToken struct {
	Issuer    []byte // Ed25519 public key, 32 bytes
	Subject   []byte // optional Ed25519 public key
	Scopes    []string
	ExpiresAt uint64
	Nonce     string
	Proofs    []ProofLink
	Signature []byte
}

// EntityTokenPayload is an identity-bound token verified against the entity
// registry.
type EntityTokenPayload struct {
	EntityID  string
	Timestamp uint64
	Signature []byte // 64 bytes
}

// SignalDescriptor describes a declared (possibly valueless) signal address,
// as returned by QUERY and recorded by ANNOUNCE.
type SignalDescriptor struct {
	Address    string
	SignalType SignalType
}
