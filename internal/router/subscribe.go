package router

import (
	"github.com/lumencanvas/clasp/internal/address"
	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/codec"
	"github.com/lumencanvas/clasp/internal/session"
)

// handleSubscribe implements the SUBSCRIBE row of spec.md §4.8: subscription
// cap, strict Read scope, then an immediate filtered SNAPSHOT.
func (r *Router) handleSubscribe(sess *session.Session, m codec.Subscribe) error {
	if r.guard != nil && !r.guard.AllowSubscribe() {
		r.sendError(sess, clasptype.CodeRateLimited, "SUBSCRIBE rate limit exceeded", m.Pattern, "")
		return nil
	}
	if sess.SubscriptionCount() >= r.cfg.MaxSubscriptionsPerSession {
		r.sendError(sess, clasptype.CodeSubscriptionLimit, "subscription limit reached", m.Pattern, "")
		return nil
	}
	if !sess.HasStrictReadScope(m.Pattern, address.IsSubset) {
		r.sendError(sess, clasptype.CodeInsufficientScope, "pattern not contained in any held read scope", m.Pattern, "")
		return nil
	}

	typeFilter := make(map[clasptype.SignalType]struct{}, len(m.TypeFilter))
	for _, t := range m.TypeFilter {
		typeFilter[t] = struct{}{}
	}

	r.subs.Add(clasptype.Subscription{
		ID: m.ID, SessionID: sess.ID, Pattern: m.Pattern, TypeFilter: typeFilter,
		Options: clasptype.SubscriptionOptions{RateLimitHz: m.RateLimitHz},
	})
	sess.AddSubscription(m.ID)
	r.metrics.SubscriptionsTotal.Inc()
	r.metrics.SubscriptionsActive.Inc()

	params := r.state.Snapshot(m.Pattern)
	params = r.snapshotFilter.FilterSnapshot(params, sess)
	r.sendChunkedSnapshot(sess, params)
	return nil
}
