package router

import (
	"context"
	"strings"

	"github.com/lumencanvas/clasp/internal/address"
	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/codec"
	"github.com/lumencanvas/clasp/internal/session"
)

const p2pPrefix = "/clasp/p2p/"
const p2pSignalPrefix = p2pPrefix + "signal/"
const p2pAnnounce = p2pPrefix + "announce"

// handlePublish implements the PUBLISH row of spec.md §4.8, including the
// reserved /clasp/p2p/** address routing of §4.9 and gesture coalescing of
// §4.10.
func (r *Router) handlePublish(ctx context.Context, sess *session.Session, m codec.Publish, originRouterID string) error {
	if strings.HasPrefix(m.Address, p2pPrefix) {
		return r.handleP2PPublish(sess, m)
	}

	if sess.IsFederationPeer() {
		if !r.withinDeclaredNamespace(sess, m.Address) {
			r.sendError(sess, clasptype.CodeForbidden, "PUBLISH outside declared federation namespace", m.Address, "")
			return nil
		}
	} else if !sess.HasScope(clasptype.ActionWrite, m.Address, address.Match) {
		r.sendError(sess, clasptype.CodeInsufficientScope, "missing write scope", m.Address, "")
		return nil
	}

	if err := r.writeValidator.ValidateWrite(ctx, m.Address, m.Value, sess); err != nil {
		r.sendError(sess, clasptype.CodeForbidden, "write rejected: "+err.Error(), m.Address, "")
		return nil
	}

	if r.guard == nil || !r.guard.ShouldPauseJournal() {
		r.journal.Append(ctx, JournalRecord{
			Timestamp: r.nowMicros(), Author: sess.ID, Address: m.Address, SignalType: m.SignalType,
			Value: m.Value, MsgType: "publish",
		})
	}

	if r.gestures != nil && m.SignalType == clasptype.SignalGesture {
		r.gestures.Ingest(sess, m)
		return nil
	}

	r.fanOutPublish(sess, m, originRouterID)
	return nil
}

// fanOutPublish is the actual broadcast step, factored out so the gesture
// coalescer can call it directly once it flushes a buffered move.
func (r *Router) fanOutPublish(sess *session.Session, m codec.Publish, originRouterID string) {
	subscribers := r.subs.FindSubscribers(m.Address, m.SignalType)
	r.broadcastTo(subscribers, sess.ID, m)
	r.forwardToFederationPeers(originRouterID, m.Address, m)
}

// handleP2PPublish implements spec.md §4.9: /clasp/p2p/signal/<target> is
// forwarded exclusively to target, everything else under /clasp/p2p/** is
// rejected except the announce broadcast address.
func (r *Router) handleP2PPublish(sess *session.Session, m codec.Publish) error {
	if strings.HasPrefix(m.Address, p2pSignalPrefix) {
		target := strings.TrimPrefix(m.Address, p2pSignalPrefix)
		targetSess, ok := r.sessions.Get(target)
		if !ok {
			r.sendError(sess, clasptype.CodeNotFound, "p2p signal target not connected", m.Address, "")
			return nil
		}
		r.send(targetSess, m)
		return nil
	}

	if m.Address == p2pAnnounce {
		sess.SetP2PCapable()
		subscribers := r.subs.FindSubscribers(m.Address, m.SignalType)
		r.broadcastTo(subscribers, sess.ID, m)
		return nil
	}

	r.sendError(sess, clasptype.CodeForbidden, "reserved p2p address", m.Address, "")
	return nil
}
