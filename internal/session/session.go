// Package session implements the CLASP session registry: the set of live
// sessions keyed by opaque session ID, each holding its outbound sink,
// negotiated features, identity/scopes, and subscription back-references.
package session

import (
	"sync"
	"time"

	"github.com/lumencanvas/clasp/internal/clasptype"
)

// State is the session lifecycle state, spec.md §4.8.
type State int

const (
	StateNew State = iota
	StateWelcomed
	StateActive
	StateClosing
)

// Sink is the outbound byte sink for a session; concrete transports
// (transport/wsgorilla, transport/wsraw) implement it over their own
// bounded send queue.
type Sink interface {
	// Send enqueues bytes for delivery, non-blocking (try-send semantics
	// per spec.md §4.8's backpressure rule). Returns false if the queue is
	// full and the frame was dropped.
	Send(frame []byte) bool
	Close()
}

// Session is the CLASP session record, spec.md §3.
type Session struct {
	ID      string
	Sink    Sink
	Created time.Time

	mu                sync.RWMutex
	state             State
	name              string
	features          map[string]struct{}
	subject           string
	scopes            []clasptype.Scope
	federation        *clasptype.FederationInfo
	federationRouterID string
	subscriptionIDs   map[uint32]struct{}
	idleDeadline      time.Time
	p2pCapable        bool
}

// New creates a session in state New.
func New(id string, sink Sink) *Session {
	return &Session{
		ID:              id,
		Sink:            sink,
		Created:         time.Now(),
		state:           StateNew,
		features:        make(map[string]struct{}),
		subscriptionIDs: make(map[uint32]struct{}),
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Welcome records the outcome of HELLO validation: adopted scopes, subject,
// and negotiated features. Scopes are fixed for the session's lifetime
// after this call (spec.md §3).
func (s *Session) Welcome(subject string, scopes []clasptype.Scope, features []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject = subject
	s.scopes = scopes
	for _, f := range features {
		s.features[f] = struct{}{}
	}
	s.state = StateWelcomed
}

func (s *Session) HasFeature(f string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.features[f]
	return ok
}

// HasScope reports whether any held scope dominates action on address.
func (s *Session) HasScope(action clasptype.Action, addr string, matcher func(pattern, addr string) bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.scopes {
		if sc.Action.Dominates(action) && matcher(sc.Pattern, addr) {
			return true
		}
	}
	return false
}

// HasStrictReadScope reports whether pattern is itself a subset of some
// held Read (or higher) scope, per spec.md §4.8's strict scope check.
func (s *Session) HasStrictReadScope(pattern string, isSubset func(child, parent string) bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.scopes {
		if sc.Action.Dominates(clasptype.ActionRead) && isSubset(pattern, sc.Pattern) {
			return true
		}
	}
	return false
}

func (s *Session) IsFederationPeer() bool {
	return s.HasFeature("federation")
}

func (s *Session) SetFederationNamespaces(routerID string, patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.federationRouterID = routerID
	s.federation = &clasptype.FederationInfo{RouterID: routerID, DeclaredNamespaces: patterns}
}

func (s *Session) FederationNamespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.federation == nil {
		return nil
	}
	return s.federation.DeclaredNamespaces
}

func (s *Session) FederationRouterID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.federationRouterID
}

func (s *Session) AddSubscription(id uint32) {
	s.mu.Lock()
	s.subscriptionIDs[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) RemoveSubscription(id uint32) {
	s.mu.Lock()
	delete(s.subscriptionIDs, id)
	s.mu.Unlock()
}

func (s *Session) SubscriptionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscriptionIDs)
}

func (s *Session) SetP2PCapable() {
	s.mu.Lock()
	s.p2pCapable = true
	s.mu.Unlock()
}

func (s *Session) P2PCapable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p2pCapable
}

func (s *Session) RefreshIdleDeadline(d time.Duration) {
	s.mu.Lock()
	s.idleDeadline = time.Now().Add(d)
	s.mu.Unlock()
}

func (s *Session) IdleDeadline() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idleDeadline
}

func (s *Session) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

func (s *Session) Scopes() []clasptype.Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]clasptype.Scope, len(s.scopes))
	copy(out, s.scopes)
	return out
}
