// Package federation tracks which peer routers own which address
// patterns, grounded on original_source's clasp-federation NamespaceManager:
// peer namespace registration, loop-preventing peer selection, and a
// conservative pairwise overlap diagnostic.
package federation

import (
	"strings"
	"sync"
)

// Manager manages namespace ownership across federated peers.
type Manager struct {
	mu             sync.RWMutex
	peerNamespaces map[string][]string // router id -> owned patterns
	localNamespaces []string
}

func NewManager(localNamespaces []string) *Manager {
	return &Manager{peerNamespaces: make(map[string][]string), localNamespaces: localNamespaces}
}

// RegisterPeer records (or replaces) a peer's declared patterns.
func (m *Manager) RegisterPeer(routerID string, patterns []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peerNamespaces[routerID] = patterns
}

// RemovePeer drops a peer's registration, e.g. on disconnect.
func (m *Manager) RemovePeer(routerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peerNamespaces, routerID)
}

// PeersForAddress returns peer router IDs whose declared patterns match
// addr, excluding excludeOrigin to prevent federation loops.
func (m *Manager) PeersForAddress(addr, excludeOrigin string, match func(pattern, addr string) bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for routerID, patterns := range m.peerNamespaces {
		if routerID == excludeOrigin {
			continue
		}
		for _, p := range patterns {
			if match(p, addr) {
				out = append(out, routerID)
				break
			}
		}
	}
	return out
}

func (m *Manager) IsLocal(addr string, match func(pattern, addr string) bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.localNamespaces {
		if match(p, addr) {
			return true
		}
	}
	return false
}

func (m *Manager) PeerPatterns(routerID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peerNamespaces[routerID]
}

func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peerNamespaces)
}

// Conflict is one overlapping pair of patterns declared by two peers.
type Conflict struct {
	PatternA, PatternB string
	PeerA, PeerB       string
}

// FindConflicts runs the conservative pairwise overlap check across every
// pair of peers' declared patterns. The router calls it after each
// DeclareNamespaces and logs a warning per conflict; conflicts are not
// reported over the wire.
func (m *Manager) FindConflicts() []Conflict {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type peerPatterns struct {
		id       string
		patterns []string
	}
	peers := make([]peerPatterns, 0, len(m.peerNamespaces))
	for id, p := range m.peerNamespaces {
		peers = append(peers, peerPatterns{id, p})
	}

	var conflicts []Conflict
	for i := 0; i < len(peers); i++ {
		for j := i + 1; j < len(peers); j++ {
			for _, pa := range peers[i].patterns {
				for _, pb := range peers[j].patterns {
					if patternsOverlap(pa, pb) {
						conflicts = append(conflicts, Conflict{
							PatternA: pa, PatternB: pb, PeerA: peers[i].id, PeerB: peers[j].id,
						})
					}
				}
			}
		}
	}
	return conflicts
}

// patternsOverlap conservatively reports whether two glob patterns could
// ever match the same address: never a false negative, may be a false
// positive.
func patternsOverlap(a, b string) bool {
	if a == "/**" || a == "**" || b == "/**" || b == "**" {
		return true
	}
	partsA := nonEmptySegments(a)
	partsB := nonEmptySegments(b)

	minLen := len(partsA)
	if len(partsB) < minLen {
		minLen = len(partsB)
	}
	for i := 0; i < minLen; i++ {
		pa, pb := partsA[i], partsB[i]
		if pa == "*" || pa == "**" || pb == "*" || pb == "**" {
			return true
		}
		if pa != pb {
			return false
		}
	}
	return true
}

func nonEmptySegments(pattern string) []string {
	raw := strings.Split(pattern, "/")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
