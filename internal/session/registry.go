package session

import (
	"sync"
	"sync/atomic"
)

const defaultShardCount = 64

type registryShard struct {
	sessions sync.Map // session id -> *Session
	count    int32
}

// Registry is the sharded concurrent session registry, grounded directly on
// the teacher's go-server-3 session hub: sync.Map per shard keyed by a hash
// of the session id, so registration/lookup never contends on one lock.
type Registry struct {
	shards []*registryShard
}

// NewRegistry creates a Registry with shardCount shards (default 64).
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	r := &Registry{shards: make([]*registryShard, shardCount)}
	for i := range r.shards {
		r.shards[i] = &registryShard{}
	}
	return r
}

func (r *Registry) pick(id string) *registryShard {
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return r.shards[h%uint32(len(r.shards))]
}

// Register adds a session to the registry.
func (r *Registry) Register(s *Session) {
	sh := r.pick(s.ID)
	if _, loaded := sh.sessions.LoadOrStore(s.ID, s); !loaded {
		atomic.AddInt32(&sh.count, 1)
	}
}

// Unregister removes a session by id and returns it, if present.
func (r *Registry) Unregister(id string) (*Session, bool) {
	sh := r.pick(id)
	v, loaded := sh.sessions.LoadAndDelete(id)
	if !loaded {
		return nil, false
	}
	atomic.AddInt32(&sh.count, -1)
	return v.(*Session), true
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	sh := r.pick(id)
	v, ok := sh.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Count returns the total number of registered sessions.
func (r *Registry) Count() int {
	total := int32(0)
	for _, sh := range r.shards {
		total += atomic.LoadInt32(&sh.count)
	}
	return int(total)
}

// Range calls fn for every registered session, stopping early if fn returns
// false. Iteration order is unspecified.
func (r *Registry) Range(fn func(s *Session) bool) {
	for _, sh := range r.shards {
		cont := true
		sh.sessions.Range(func(_, v any) bool {
			if !fn(v.(*Session)) {
				cont = false
				return false
			}
			return true
		})
		if !cont {
			return
		}
	}
}
