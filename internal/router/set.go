package router

import (
	"context"

	"github.com/lumencanvas/clasp/internal/address"
	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/codec"
	"github.com/lumencanvas/clasp/internal/session"
	"github.com/lumencanvas/clasp/internal/state"
)

// handleSet implements the SET row of spec.md §4.8. originRouterID is ""
// for a direct client write, or the declaring peer's router_id when the SET
// arrived via federation (used for loop prevention on re-broadcast).
func (r *Router) handleSet(ctx context.Context, sess *session.Session, m codec.Set, originRouterID string) error {
	if r.guard != nil && !r.guard.AllowSet() {
		r.sendError(sess, clasptype.CodeRateLimited, "SET rate limit exceeded", m.Address, "")
		return nil
	}
	if sess.IsFederationPeer() {
		if !r.withinDeclaredNamespace(sess, m.Address) {
			r.sendError(sess, clasptype.CodeForbidden, "SET outside declared federation namespace", m.Address, "")
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

	rev, err := r.state.ApplySet(state.SetRequest{
		Address: m.Address, Value: m.Value, Revision: m.Revision, Lock: m.Lock, Unlock: m.Unlock,
	}, sess.ID)
	if err != nil {
		r.replySetError(sess, m.Address, err)
		return nil
	}
	r.metrics.SetApplied.Inc()
	r.metrics.StateAddresses.Set(float64(r.state.Count()))

	r.send(sess, codec.Ack{Address: m.Address, Revision: &rev})

	if r.guard == nil || !r.guard.ShouldPauseJournal() {
		r.journal.Append(ctx, JournalRecord{
			Timestamp: r.nowMicros(), Author: sess.ID, Address: m.Address, SignalType: clasptype.SignalParam,
			Value: m.Value, Revision: &rev, MsgType: "set",
		})
	}

	broadcastRev := rev
	outbound := codec.Set{Address: m.Address, Value: m.Value, Revision: &broadcastRev}
	subscribers := r.subs.FindSubscribers(m.Address, clasptype.SignalParam)
	r.broadcastTo(subscribers, "", outbound)

	r.forwardToFederationPeers(originRouterID, m.Address, outbound)
	return nil
}

func (r *Router) replySetError(sess *session.Session, addr string, err error) {
	if ce, ok := err.(*clasptype.Error); ok {
		r.sendError(sess, ce.Code, ce.Message, addr, "")
		return
	}
	r.sendError(sess, clasptype.CodeBadRequest, err.Error(), addr, "")
}

// withinDeclaredNamespace reports whether addr is covered by one of sess's
// declared federation namespaces, independently of token scopes (spec.md
// §7's loop-prevention/namespace-containment rule).
func (r *Router) withinDeclaredNamespace(sess *session.Session, addr string) bool {
	for _, ns := range sess.FederationNamespaces() {
		if address.Match(ns, addr) {
			return true
		}
	}
	return false
}
