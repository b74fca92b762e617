package router

import (
	"context"
	"fmt"

	"github.com/lumencanvas/clasp/internal/address"
	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/codec"
	"github.com/lumencanvas/clasp/internal/session"
	"github.com/lumencanvas/clasp/internal/state"
)

// handleBundle implements spec.md §4.8's two-phase BUNDLE: every inner SET
// and PUBLISH is validated (scope + write-validator) before any of them is
// applied; any single validation failure rejects the whole bundle with one
// ERROR and no partial effect.
func (r *Router) handleBundle(ctx context.Context, sess *session.Session, m codec.Bundle) error {
	for _, s := range m.Sets {
		if err := r.validateBundleSet(ctx, sess, s); err != nil {
			r.replySetError(sess, s.Address, err)
			return nil
		}
	}
	for _, p := range m.Publishes {
		if err := r.validateBundlePublish(ctx, sess, p); err != nil {
			r.replySetError(sess, p.Address, err)
			return nil
		}
	}

	var lastRev uint64
	for _, s := range m.Sets {
		rev, err := r.state.ApplySet(state.SetRequest{
			Address: s.Address, Value: s.Value, Revision: s.Revision, Lock: s.Lock, Unlock: s.Unlock,
		}, sess.ID)
		if err != nil {
			// Validated moments ago; a concurrent writer raced us. Surface it
			// rather than silently dropping the remainder of the bundle.
			r.replySetError(sess, s.Address, err)
			return nil
		}
		lastRev = rev
		r.metrics.SetApplied.Inc()
		broadcastRev := rev
		if r.guard == nil || !r.guard.ShouldPauseJournal() {
			r.journal.Append(ctx, JournalRecord{
				Timestamp: r.nowMicros(), Author: sess.ID, Address: s.Address, SignalType: clasptype.SignalParam,
				Value: s.Value, Revision: &broadcastRev, MsgType: "set",
			})
		}
		subscribers := r.subs.FindSubscribers(s.Address, clasptype.SignalParam)
		r.broadcastTo(subscribers, "", codec.Set{Address: s.Address, Value: s.Value, Revision: &broadcastRev})
	}
	r.metrics.StateAddresses.Set(float64(r.state.Count()))

	for _, p := range m.Publishes {
		if r.guard == nil || !r.guard.ShouldPauseJournal() {
			r.journal.Append(ctx, JournalRecord{
				Timestamp: r.nowMicros(), Author: sess.ID, Address: p.Address, SignalType: p.SignalType,
				Value: p.Value, MsgType: "publish",
			})
		}
		subscribers := r.subs.FindSubscribers(p.Address, p.SignalType)
		r.broadcastTo(subscribers, sess.ID, p)
	}

	r.send(sess, codec.Ack{Revision: bundleRevisionOrNil(m, lastRev)})
	return nil
}

func bundleRevisionOrNil(m codec.Bundle, lastRev uint64) *uint64 {
	if len(m.Sets) == 0 {
		return nil
	}
	return &lastRev
}

func (r *Router) validateBundleSet(ctx context.Context, sess *session.Session, s codec.Set) error {
	if sess.IsFederationPeer() {
		if !r.withinDeclaredNamespace(sess, s.Address) {
			return clasptype.NewAddressError(clasptype.CodeForbidden, "SET outside declared federation namespace", s.Address)
		}
	} else if !sess.HasScope(clasptype.ActionWrite, s.Address, address.Match) {
		return clasptype.NewAddressError(clasptype.CodeInsufficientScope, "missing write scope", s.Address)
	}
	if err := r.writeValidator.ValidateWrite(ctx, s.Address, s.Value, sess); err != nil {
		return clasptype.NewAddressError(clasptype.CodeForbidden, fmt.Sprintf("write rejected: %v", err), s.Address)
	}
	return nil
}

func (r *Router) validateBundlePublish(ctx context.Context, sess *session.Session, p codec.Publish) error {
	if sess.IsFederationPeer() {
		if !r.withinDeclaredNamespace(sess, p.Address) {
			return clasptype.NewAddressError(clasptype.CodeForbidden, "PUBLISH outside declared federation namespace", p.Address)
		}
	} else if !sess.HasScope(clasptype.ActionWrite, p.Address, address.Match) {
		return clasptype.NewAddressError(clasptype.CodeInsufficientScope, "missing write scope", p.Address)
	}
	if err := r.writeValidator.ValidateWrite(ctx, p.Address, p.Value, sess); err != nil {
		return clasptype.NewAddressError(clasptype.CodeForbidden, fmt.Sprintf("write rejected: %v", err), p.Address)
	}
	return nil
}
