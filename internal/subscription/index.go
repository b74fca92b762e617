// Package subscription implements the CLASP subscription index: a
// many-to-many map between session IDs and (pattern, signal-type filter),
// answering find_subscribers in better-than-linear time via a one-level
// trie keyed on each pattern's first literal segment (spec.md §4.4's
// "expected implementation hint"), sharded the way the teacher's session
// hub shards websocket clients. Adds and removes also update a reverse
// index guarded by one index-wide lock.
package subscription

import (
	"hash/fnv"
	"sync"

	"github.com/lumencanvas/clasp/internal/address"
	"github.com/lumencanvas/clasp/internal/clasptype"
)

const defaultShardCount = 32

type entry struct {
	sub clasptype.Subscription
}

type shard struct {
	mu        sync.RWMutex
	bySegment map[string][]*entry // keyed by pattern's first literal segment
	wildcard  []*entry            // patterns whose first segment is * or **
}

// sessionKey locates a subscription for O(1) removal by (session, sub id).
type sessionKey struct {
	sessionID string
	id        uint32
}

// Index is the sharded concurrent subscription index.
type Index struct {
	shards []*shard

	// reverse index: session id -> its subscription ids, for remove_session
	// in O(subs_of_session) per spec.md §4.4.
	revMu sync.RWMutex
	rev   map[string]map[uint32]*entry
}

// New creates an Index with shardCount shards (default 32 if <= 0).
func New(shardCount int) *Index {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	idx := &Index{
		shards: make([]*shard, shardCount),
		rev:    make(map[string]map[uint32]*entry),
	}
	for i := range idx.shards {
		idx.shards[i] = &shard{bySegment: make(map[string][]*entry)}
	}
	return idx
}

func (idx *Index) pick(segment string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(segment))
	return idx.shards[h.Sum32()%uint32(len(idx.shards))]
}

func firstSegment(pattern string) (string, bool) {
	segs := address.Split(pattern)
	if len(segs) == 0 {
		return "", false
	}
	return segs[0], segs[0] != "*" && segs[0] != "**"
}

// Add inserts a subscription.
func (idx *Index) Add(sub clasptype.Subscription) {
	e := &entry{sub: sub}

	seg, literal := firstSegment(sub.Pattern)
	sh := idx.pick(seg)
	sh.mu.Lock()
	if literal {
		sh.bySegment[seg] = append(sh.bySegment[seg], e)
	} else {
		sh.wildcard = append(sh.wildcard, e)
	}
	sh.mu.Unlock()

	idx.revMu.Lock()
	bySession, ok := idx.rev[sub.SessionID]
	if !ok {
		bySession = make(map[uint32]*entry)
		idx.rev[sub.SessionID] = bySession
	}
	bySession[sub.ID] = e
	idx.revMu.Unlock()
}

// Remove deletes one subscription by (session, sub id).
func (idx *Index) Remove(sessionID string, subID uint32) {
	idx.revMu.Lock()
	bySession, ok := idx.rev[sessionID]
	if !ok {
		idx.revMu.Unlock()
		return
	}
	e, ok := bySession[subID]
	if !ok {
		idx.revMu.Unlock()
		return
	}
	delete(bySession, subID)
	if len(bySession) == 0 {
		delete(idx.rev, sessionID)
	}
	idx.revMu.Unlock()

	idx.removeFromShard(e)
}

// RemoveSession deletes every subscription owned by sessionID.
func (idx *Index) RemoveSession(sessionID string) {
	idx.revMu.Lock()
	bySession, ok := idx.rev[sessionID]
	if ok {
		delete(idx.rev, sessionID)
	}
	idx.revMu.Unlock()
	if !ok {
		return
	}
	for _, e := range bySession {
		idx.removeFromShard(e)
	}
}

func (idx *Index) removeFromShard(e *entry) {
	seg, literal := firstSegment(e.sub.Pattern)
	sh := idx.pick(seg)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if literal {
		sh.bySegment[seg] = removeEntry(sh.bySegment[seg], e)
	} else {
		sh.wildcard = removeEntry(sh.wildcard, e)
	}
}

func removeEntry(list []*entry, target *entry) []*entry {
	for i, e := range list {
		if e == target {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// FindSubscribers returns every session holding at least one subscription
// whose pattern matches addr and whose type filter admits signalType.
// Duplicates within a session are collapsed to one entry.
func (idx *Index) FindSubscribers(addr string, signalType clasptype.SignalType) []string {
	segs := address.Split(addr)
	seen := make(map[string]struct{})
	var out []string

	check := func(e *entry) {
		if !e.sub.Admits(signalType) {
			return
		}
		if !address.Match(e.sub.Pattern, addr) {
			return
		}
		if _, ok := seen[e.sub.SessionID]; ok {
			return
		}
		seen[e.sub.SessionID] = struct{}{}
		out = append(out, e.sub.SessionID)
	}

	if len(segs) > 0 {
		sh := idx.pick(segs[0])
		sh.mu.RLock()
		for _, e := range sh.bySegment[segs[0]] {
			check(e)
		}
		sh.mu.RUnlock()
	}

	// Subscriptions whose pattern starts with * or ** are routed to the two
	// dedicated shards picked by that literal key, so they're found here
	// without scanning every shard.
	for _, seg := range []string{"*", "**"} {
		sh := idx.pick(seg)
		sh.mu.RLock()
		for _, e := range sh.wildcard {
			check(e)
		}
		sh.mu.RUnlock()
	}

	return out
}
