// Package state implements the CLASP state store: a concurrent map from
// address to ParamState, sharded the way the teacher's session hub shards
// websocket clients (a map guarded by a sync.RWMutex per shard, FNV-hashed
// by address) so handler
// fan-out never contends on one coarse lock (spec.md §9).
package state

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/lumencanvas/clasp/internal/address"
	"github.com/lumencanvas/clasp/internal/clasptype"
)

const defaultShardCount = 64

type shard struct {
	mu   sync.RWMutex
	data map[string]*clasptype.ParamState
}

// Store is the sharded concurrent state store.
type Store struct {
	shards    []*shard
	count     int64
	nowMicros func() int64
}

// New creates a Store with shardCount shards (default 64 if <= 0).
// nowMicros supplies the current time in microseconds; callers in
// production pass a real clock, tests pass a deterministic stub.
func New(shardCount int, nowMicros func() int64) *Store {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	s := &Store{shards: make([]*shard, shardCount), nowMicros: nowMicros}
	for i := range s.shards {
		s.shards[i] = &shard{data: make(map[string]*clasptype.ParamState)}
	}
	return s
}

func (s *Store) pick(addr string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(addr))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// SetRequest mirrors the SET message fields relevant to apply_set.
type SetRequest struct {
	Address  string
	Value    clasptype.Value
	Revision *uint64 // optional client revision; stale (rejected) unless greater than the current revision, spec.md §4.3
	Lock     bool
	Unlock   bool
}

// ApplySet implements spec.md §4.3 apply_set: lock and stale-revision
// checks, then revision increment. Writes to one address are serialized
// under its shard lock and applied in arrival order; timestamps and writer
// ids are not compared, so there is no (timestamp, writer) tie-break.
func (s *Store) ApplySet(req SetRequest, writer string) (uint64, error) {
	sh := s.pick(req.Address)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, exists := sh.data[req.Address]
	if exists && cur.Lock != "" && cur.Lock != writer {
		return 0, clasptype.ErrLocked
	}
	if req.Revision != nil && exists && *req.Revision <= cur.Revision {
		return 0, clasptype.ErrStaleRevision
	}

	newRev := uint64(1)
	if exists {
		newRev = cur.Revision + 1
	}
	ts := s.nowMicros()

	next := &clasptype.ParamState{
		Value:     req.Value,
		Revision:  newRev,
		Writer:    writer,
		Timestamp: ts,
	}
	if exists {
		next.Lock = cur.Lock
	}
	if req.Lock {
		next.Lock = writer
	}
	if req.Unlock && exists && cur.Lock == writer {
		next.Lock = ""
	}
	sh.data[req.Address] = next
	atomic.AddInt64(&s.count, boolToInt64(!exists))
	return newRev, nil
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Get returns the current value at address, if any.
func (s *Store) Get(addr string) (clasptype.Value, bool) {
	ps, ok := s.GetState(addr)
	if !ok {
		return clasptype.Value{}, false
	}
	return ps.Value, true
}

// GetState returns the full ParamState at address.
func (s *Store) GetState(addr string) (clasptype.ParamState, bool) {
	sh := s.pick(addr)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	ps, ok := sh.data[addr]
	if !ok {
		return clasptype.ParamState{}, false
	}
	return *ps, true
}

// Snapshot returns every address currently in the store whose key matches
// pattern, spec.md §4.3.
func (s *Store) Snapshot(pattern string) []clasptype.ParamValue {
	var out []clasptype.ParamValue
	for _, sh := range s.shards {
		sh.mu.RLock()
		for addr, ps := range sh.data {
			if address.Match(pattern, addr) {
				out = append(out, clasptype.ParamValue{
					Address: addr, Value: ps.Value, Revision: ps.Revision,
					Writer: ps.Writer, Timestamp: ps.Timestamp,
				})
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// QuerySignals enumerates addresses matching pattern as signal descriptors
// (Param type, since the state store only tracks stateful signals).
func (s *Store) QuerySignals(pattern string) []clasptype.SignalDescriptor {
	var out []clasptype.SignalDescriptor
	for _, sh := range s.shards {
		sh.mu.RLock()
		for addr := range sh.data {
			if address.Match(pattern, addr) {
				out = append(out, clasptype.SignalDescriptor{Address: addr, SignalType: clasptype.SignalParam})
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// RegisterSignals declares addresses that do not yet hold values, so QUERY
// can surface them before any SET arrives.
func (s *Store) RegisterSignals(addrs []string) {
	for _, a := range addrs {
		sh := s.pick(a)
		sh.mu.Lock()
		if _, exists := sh.data[a]; !exists {
			sh.data[a] = &clasptype.ParamState{Value: clasptype.Null(), Writer: "system"}
		}
		sh.mu.Unlock()
	}
}

// Count returns the approximate number of addresses held (best-effort,
// not synchronized with concurrent writers).
func (s *Store) Count() int64 {
	return atomic.LoadInt64(&s.count)
}
