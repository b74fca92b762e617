package router

import (
	"sync"
	"time"

	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/codec"
	"github.com/lumencanvas/clasp/internal/session"
)

// gestureKey identifies one in-flight gesture stream: a gesture address
// carries many concurrent "id"s (e.g. multiple simultaneous touches).
type gestureKey struct {
	address string
	id      string
}

type pendingMove struct {
	sess *session.Session
	msg  codec.Publish
}

// gestureCoalescer implements spec.md §4.10: at most one buffered "move"
// per (address, id) is flushed per interval; "start"/"end" are never
// buffered, and "end" flushes any pending "move" first.
type gestureCoalescer struct {
	interval time.Duration
	onFlush  func(sess *session.Session, msg codec.Publish)

	mu      sync.Mutex
	pending map[gestureKey]*pendingMove
	timers  map[gestureKey]*time.Timer
}

func newGestureCoalescer(interval time.Duration, onFlush func(sess *session.Session, msg codec.Publish)) *gestureCoalescer {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &gestureCoalescer{
		interval: interval,
		onFlush:  onFlush,
		pending:  make(map[gestureKey]*pendingMove),
		timers:   make(map[gestureKey]*time.Timer),
	}
}

func gesturePhase(v clasptype.Value) string {
	if v.Kind != clasptype.KindMap {
		return ""
	}
	if p, ok := v.Map["phase"]; ok && p.Kind == clasptype.KindString {
		return p.Str
	}
	return ""
}

func gestureID(v clasptype.Value) string {
	if v.Kind != clasptype.KindMap {
		return ""
	}
	if id, ok := v.Map["id"]; ok && id.Kind == clasptype.KindString {
		return id.Str
	}
	return ""
}

// Ingest routes one gesture PUBLISH through the coalescer. start/end bypass
// buffering; move messages replace any pending entry for the same key
// without resetting its flush timer.
func (g *gestureCoalescer) Ingest(sess *session.Session, m codec.Publish) {
	key := gestureKey{address: m.Address, id: gestureID(m.Value)}
	phase := gesturePhase(m.Value)

	switch phase {
	case "start":
		g.onFlush(sess, m)
	case "end":
		g.flushPending(key)
		g.onFlush(sess, m)
	default: // "move" or unspecified
		g.mu.Lock()
		_, hasPending := g.pending[key]
		g.pending[key] = &pendingMove{sess: sess, msg: m}
		if !hasPending {
			g.timers[key] = time.AfterFunc(g.interval, func() { g.flushPending(key) })
		}
		g.mu.Unlock()
	}
}

func (g *gestureCoalescer) flushPending(key gestureKey) {
	g.mu.Lock()
	pm, ok := g.pending[key]
	if ok {
		delete(g.pending, key)
	}
	if t, ok := g.timers[key]; ok {
		t.Stop()
		delete(g.timers, key)
	}
	g.mu.Unlock()
	if ok {
		g.onFlush(pm.sess, pm.msg)
	}
}

// flushGesture adapts the coalescer's onFlush callback to the Router's
// normal fan-out path, including forwarding to covering federation peers;
// the peer the gesture came from, if any, is skipped.
func (r *Router) flushGesture(sess *session.Session, msg codec.Publish) {
	r.fanOutPublish(sess, msg, originRouterID(sess))
}
