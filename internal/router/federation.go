package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/lumencanvas/clasp/internal/address"
	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/codec"
	"github.com/lumencanvas/clasp/internal/session"
)

// federationSubscriptionBase is the subscription-ID range auto-assigned to
// a federation peer's declared namespaces, kept out of the client-facing
// ID space (original_source's federation.rs handler uses the same base).
const federationSubscriptionBase = 50000

// handleFederationSync dispatches the four FEDERATION_SYNC sub-operations,
// grounded on original_source's clasp-router handlers/federation.rs.
func (r *Router) handleFederationSync(ctx context.Context, sess *session.Session, m codec.FederationSync) error {
	if !sess.IsFederationPeer() {
		r.sendError(sess, clasptype.CodeForbidden, "FederationSync requires the federation feature", "", "")
		return nil
	}

	switch m.Op {
	case codec.FedDeclareNamespaces:
		r.handleDeclareNamespaces(sess, m)
	case codec.FedRequestSync:
		r.handleRequestSync(sess, m)
	case codec.FedRevisionVector:
		r.handleRevisionVector(sess, m)
	case codec.FedSyncComplete:
		r.logger.Info("federation sync complete", zap.String("peer", sess.FederationRouterID()))
	}
	return nil
}

func (r *Router) handleDeclareNamespaces(sess *session.Session, m codec.FederationSync) {
	if len(m.Patterns) > r.cfg.MaxFederationPatterns {
		r.sendError(sess, clasptype.CodeBadRequest, "too many namespace patterns", "", "")
		return
	}

	routerID := m.Origin
	if routerID == "" {
		routerID = sess.ID
	}

	for _, pattern := range m.Patterns {
		if !sess.HasStrictReadScope(pattern, address.IsSubset) {
			r.sendError(sess, clasptype.CodeForbidden, "insufficient scope for namespace: "+pattern, "", "")
			return
		}
	}

	old := sess.FederationNamespaces()
	for i := range old {
		subID := uint32(federationSubscriptionBase + i)
		r.subs.Remove(sess.ID, subID)
		sess.RemoveSubscription(subID)
	}

	sess.SetFederationNamespaces(routerID, m.Patterns)
	r.fed.RegisterPeer(routerID, m.Patterns)

	for i, pattern := range m.Patterns {
		subID := uint32(federationSubscriptionBase + i)
		r.subs.Add(clasptype.Subscription{ID: subID, SessionID: sess.ID, Pattern: pattern})
		sess.AddSubscription(subID)
	}

	if conflicts := r.fed.FindConflicts(); len(conflicts) > 0 {
		for _, c := range conflicts {
			r.logger.Warn("federation namespace overlap",
				zap.String("pattern_a", c.PatternA), zap.String("peer_a", c.PeerA),
				zap.String("pattern_b", c.PatternB), zap.String("peer_b", c.PeerB))
		}
		r.metrics.FederationConflicts.Add(float64(len(conflicts)))
	}

	r.send(sess, codec.Ack{})
}

// federationPatternCoveredBy reports whether pattern is entirely covered by
// a declared namespace, i.e. pattern is a subset of ns.
func federationPatternCoveredBy(pattern, ns string) bool {
	return address.IsSubset(pattern, ns)
}

func (r *Router) handleRequestSync(sess *session.Session, m codec.FederationSync) {
	if len(m.Patterns) > r.cfg.MaxFederationPatterns {
		r.sendError(sess, clasptype.CodeBadRequest, "too many sync patterns", "", "")
		return
	}

	declared := sess.FederationNamespaces()
	for _, pattern := range m.Patterns {
		covered := false
		for _, ns := range declared {
			if federationPatternCoveredBy(pattern, ns) {
				covered = true
				break
			}
		}
		if !covered {
			r.sendError(sess, clasptype.CodeForbidden, "pattern not covered by declared namespaces: "+pattern, "", "")
			return
		}
		if !sess.HasStrictReadScope(pattern, address.IsSubset) {
			r.sendError(sess, clasptype.CodeForbidden, "insufficient scope for pattern: "+pattern, "", "")
			return
		}
	}

	for _, pattern := range m.Patterns {
		params := r.state.Snapshot(pattern)
		if m.SinceRevision != nil {
			filtered := params[:0]
			for _, p := range params {
				if p.Revision > *m.SinceRevision {
					filtered = append(filtered, p)
				}
			}
			params = filtered
		}
		params = r.snapshotFilter.FilterSnapshot(params, sess)
		r.sendChunkedSnapshot(sess, params)
	}

	r.send(sess, codec.FederationSync{Op: codec.FedSyncComplete, Patterns: m.Patterns, Origin: r.cfg.RouterName})
	r.metrics.FederationSyncsSent.Inc()
}

func (r *Router) handleRevisionVector(sess *session.Session, m codec.FederationSync) {
	if len(m.Revisions) > r.cfg.MaxRevisionVectorEntries {
		r.sendError(sess, clasptype.CodeBadRequest, "too many revision entries", "", "")
		return
	}
	r.metrics.FederationSyncsReceived.Inc()

	declared := sess.FederationNamespaces()
	var delta []clasptype.ParamValue
	for addr, peerRev := range m.Revisions {
		covered := false
		for _, ns := range declared {
			if address.Match(ns, addr) {
				covered = true
				break
			}
		}
		if !covered {
			continue
		}
		if !sess.HasScope(clasptype.ActionRead, addr, address.Match) {
			continue
		}
		ps, ok := r.state.GetState(addr)
		if !ok || ps.Revision <= peerRev {
			continue
		}
		delta = append(delta, clasptype.ParamValue{
			Address: addr, Value: ps.Value, Revision: ps.Revision, Writer: ps.Writer, Timestamp: ps.Timestamp,
		})
	}

	if len(delta) > 0 {
		delta = r.snapshotFilter.FilterSnapshot(delta, sess)
		r.sendChunkedSnapshot(sess, delta)
	}
}

// forwardToFederationPeers relays a locally-applied write to every federation peer
// whose declared namespaces cover addr, excluding the peer the write came
// from (loop prevention via origin tagging, spec.md §7).
func (r *Router) forwardToFederationPeers(originRouterID, addr string, msg codec.Message) {
	peers := r.fed.PeersForAddress(addr, originRouterID, address.Match)
	if len(peers) == 0 {
		return
	}
	r.sessions.Range(func(s *session.Session) bool {
		if s.FederationRouterID() == "" {
			return true
		}
		for _, p := range peers {
			if p == s.FederationRouterID() {
				r.send(s, msg)
				break
			}
		}
		return true
	})
}
