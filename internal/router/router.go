package router

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumencanvas/clasp/internal/address"
	"github.com/lumencanvas/clasp/internal/auth"
	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/codec"
	"github.com/lumencanvas/clasp/internal/federation"
	"github.com/lumencanvas/clasp/internal/session"
	"github.com/lumencanvas/clasp/internal/state"
	"github.com/lumencanvas/clasp/internal/subscription"
	"github.com/lumencanvas/clasp/internal/telemetry"
)

// Config holds the resource caps and feature knobs from spec.md §5.
type Config struct {
	MaxSessions                int
	MaxSubscriptionsPerSession int // default 1000
	MaxFederationPatterns      int // default 1000
	MaxRevisionVectorEntries   int // default 10000
	SnapshotChunkBytes         int // default 1 MiB, spec.md §4.11

	GestureCoalesceEnabled  bool
	GestureCoalesceInterval time.Duration // default 16ms

	RouterName string // local router identity, used as federation origin
}

func DefaultConfig() Config {
	return Config{
		MaxSubscriptionsPerSession: 1000,
		MaxFederationPatterns:      1000,
		MaxRevisionVectorEntries:   10000,
		SnapshotChunkBytes:         1 << 20,
		GestureCoalesceInterval:    16 * time.Millisecond,
		RouterName:                 "clasp-router",
	}
}

// Router owns the state store, subscription index, session registry, and
// orchestrates the handler matrix of spec.md §4.8.
type Router struct {
	cfg Config

	state    *state.Store
	subs     *subscription.Index
	sessions *session.Registry
	authz    *auth.Chain
	fed      *federation.Manager

	writeValidator WriteValidator
	snapshotFilter SnapshotFilter
	journal        Journal

	gestures *gestureCoalescer

	metrics *telemetry.Metrics
	logger  *zap.Logger
	guard   *telemetry.ResourceGuard

	nowMicros func() int64
}

// New wires a Router from its collaborators. Any of writeValidator,
// snapshotFilter, journal may be nil to use a no-op default (the
// corresponding hooks are optional per spec.md §1).
func New(
	cfg Config,
	stateStore *state.Store,
	subs *subscription.Index,
	sessions *session.Registry,
	authz *auth.Chain,
	fed *federation.Manager,
	writeValidator WriteValidator,
	snapshotFilter SnapshotFilter,
	journal Journal,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
	nowMicros func() int64,
) *Router {
	if writeValidator == nil {
		writeValidator = noopWriteValidator{}
	}
	if snapshotFilter == nil {
		snapshotFilter = noopSnapshotFilter{}
	}
	if journal == nil {
		journal = noopJournal{}
	}
	r := &Router{
		cfg: cfg, state: stateStore, subs: subs, sessions: sessions, authz: authz, fed: fed,
		writeValidator: writeValidator, snapshotFilter: snapshotFilter, journal: journal,
		metrics: metrics, logger: logger, nowMicros: nowMicros,
	}
	if cfg.GestureCoalesceEnabled {
		r.gestures = newGestureCoalescer(cfg.GestureCoalesceInterval, r.flushGesture)
	}
	return r
}

// SetGuard attaches a resource guard to the router, enabling the SET/
// SUBSCRIBE rate limits and session-admission brake of spec.md §5. Routers
// built without one (e.g. in unit tests) run unthrottled.
func (r *Router) SetGuard(guard *telemetry.ResourceGuard) {
	r.guard = guard
}

// ShouldAcceptSession runs the resource guard's admission check, if one is
// attached; transports should call this before registering a new session.
func (r *Router) ShouldAcceptSession() (bool, string) {
	if r.guard == nil {
		return true, ""
	}
	return r.guard.ShouldAcceptSession()
}

// Dispatch handles one decoded message for sess, per the matrix in
// spec.md §4.8. It sends replies and fan-out directly to session sinks;
// errors returned here are transport/decode-level failures that should
// close the connection, not protocol-level ERRORs (those are sent as
// ErrorMsg frames, not returned).
func (r *Router) Dispatch(ctx context.Context, sess *session.Session, msg codec.Message) error {
	r.metrics.MessagesReceived.WithLabelValues(messageTypeLabel(msg)).Inc()
	switch m := msg.(type) {
	case codec.Hello:
		return r.handleHello(sess, m)
	case codec.Ping:
		r.send(sess, codec.Pong{})
		return nil
	case codec.Pong:
		sess.RefreshIdleDeadline(0)
		return nil
	case codec.Set:
		return r.handleSet(ctx, sess, m, originRouterID(sess))
	case codec.Get:
		return r.handleGet(sess, m)
	case codec.Publish:
		return r.handlePublish(ctx, sess, m, originRouterID(sess))
	case codec.Subscribe:
		return r.handleSubscribe(sess, m)
	case codec.Unsubscribe:
		r.subs.Remove(sess.ID, m.ID)
		sess.RemoveSubscription(m.ID)
		r.metrics.SubscriptionsActive.Dec()
		return nil
	case codec.Bundle:
		return r.handleBundle(ctx, sess, m)
	case codec.Announce:
		return r.handleAnnounce(sess, m)
	case codec.Query:
		return r.handleQuery(sess, m)
	case codec.Replay:
		return r.handleReplay(ctx, sess, m)
	case codec.Sync:
		r.send(sess, codec.Sync{T0: m.T0, T1: r.nowMicros(), T2: r.nowMicros()})
		return nil
	case codec.FederationSync:
		return r.handleFederationSync(ctx, sess, m)
	case codec.Unknown:
		r.sendError(sess, clasptype.CodeBadRequest, fmt.Sprintf("unknown message type code 0x%02x", m.Code), "", "")
		return fmt.Errorf("clasp: unknown message type code 0x%02x", m.Code)
	default:
		r.sendError(sess, clasptype.CodeBadRequest, "unsupported message type for this direction", "", "")
		return nil
	}
}

// originRouterID returns sess's declared router_id when it is a federation
// peer, so forwardToFederationPeers can exclude that peer from re-delivery
// and the loop-prevention requirement of spec.md §4.11/§8 holds. Non-peer
// sessions have no router_id to exclude.
func originRouterID(sess *session.Session) string {
	if sess.IsFederationPeer() {
		return sess.FederationRouterID()
	}
	return ""
}

func (r *Router) handleHello(sess *session.Session, m codec.Hello) error {
	if sess.State() != session.StateNew {
		r.sendError(sess, clasptype.CodeBadRequest, "HELLO only valid once, at session start", "", "")
		return nil
	}

	res, info, errMsg := r.authz.Validate(m.Token)
	switch res {
	case auth.Valid:
		sess.Welcome(info.Subject, info.Scopes, m.Features)
	case auth.Expired:
		r.sendError(sess, clasptype.CodeForbidden, "token expired", "", "")
		return nil
	default:
		r.sendError(sess, clasptype.CodeForbidden, "token invalid: "+errMsg, "", "")
		return nil
	}

	r.send(sess, codec.Welcome{SessionID: sess.ID, Features: m.Features, ServerTime: r.nowMicros()})

	var params []clasptype.ParamValue
	for _, sc := range sess.Scopes() {
		if sc.Action.Dominates(clasptype.ActionRead) {
			params = append(params, r.state.Snapshot(sc.Pattern)...)
		}
	}
	params = r.snapshotFilter.FilterSnapshot(params, sess)
	r.sendChunkedSnapshot(sess, params)
	sess.SetState(session.StateActive)
	return nil
}

func (r *Router) handleGet(sess *session.Session, m codec.Get) error {
	if !sess.HasScope(clasptype.ActionRead, m.Address, address.Match) {
		r.sendError(sess, clasptype.CodeInsufficientScope, "missing read scope", m.Address, "")
		return nil
	}
	var params []clasptype.ParamValue
	if ps, ok := r.state.GetState(m.Address); ok {
		params = append(params, clasptype.ParamValue{
			Address: m.Address, Value: ps.Value, Revision: ps.Revision, Writer: ps.Writer, Timestamp: ps.Timestamp,
		})
	}
	params = r.snapshotFilter.FilterSnapshot(params, sess)
	r.send(sess, codec.Snapshot{Params: params})
	return nil
}

func (r *Router) handleAnnounce(sess *session.Session, m codec.Announce) error {
	addrs := make([]string, len(m.Signals))
	for i, s := range m.Signals {
		addrs[i] = s.Address
	}
	r.state.RegisterSignals(addrs)
	r.send(sess, codec.Ack{})
	return nil
}

func (r *Router) handleQuery(sess *session.Session, m codec.Query) error {
	r.send(sess, codec.Result{Signals: r.state.QuerySignals(m.Pattern)})
	return nil
}

func (r *Router) handleReplay(ctx context.Context, sess *session.Session, m codec.Replay) error {
	if !sess.HasStrictReadScope(m.Pattern, address.IsSubset) {
		r.sendError(sess, clasptype.CodeInsufficientScope, "strict read scope required for REPLAY", m.Pattern, "")
		return nil
	}
	records, err := r.journal.Query(ctx, m.Pattern, m.Since)
	if err != nil {
		r.sendError(sess, clasptype.CodeJournalError, "journal query failed: "+err.Error(), m.Pattern, "")
		return nil
	}
	for _, rec := range records {
		r.send(sess, recordToMessage(rec))
	}
	return nil
}

func recordToMessage(rec JournalRecord) codec.Message {
	if rec.MsgType == "publish" {
		return codec.Publish{Address: rec.Address, Value: rec.Value, SignalType: rec.SignalType}
	}
	return codec.Set{Address: rec.Address, Value: rec.Value, Revision: rec.Revision}
}

func messageTypeLabel(msg codec.Message) string {
	switch msg.(type) {
	case codec.Hello:
		return "hello"
	case codec.Ping:
		return "ping"
	case codec.Pong:
		return "pong"
	case codec.Set:
		return "set"
	case codec.Get:
		return "get"
	case codec.Publish:
		return "publish"
	case codec.Subscribe:
		return "subscribe"
	case codec.Unsubscribe:
		return "unsubscribe"
	case codec.Bundle:
		return "bundle"
	case codec.Announce:
		return "announce"
	case codec.Query:
		return "query"
	case codec.Replay:
		return "replay"
	case codec.Sync:
		return "sync"
	case codec.FederationSync:
		return "federation_sync"
	default:
		return "unknown"
	}
}

// --- send helpers ---

func (r *Router) send(sess *session.Session, msg codec.Message) {
	frame, err := codec.Encode(msg, false)
	if err != nil {
		r.logger.Error("encode failed", zap.String("session", sess.ID), zap.Error(err))
		return
	}
	if !sess.Sink.Send(frame) {
		r.metrics.DroppedFrames.Inc()
		return
	}
	r.metrics.MessagesSent.Inc()
}

func (r *Router) sendError(sess *session.Session, code clasptype.Code, message, addr, cid string) {
	r.send(sess, codec.ErrorMsg{Code: code, Message: message, Address: addr, CorrelationID: cid})
}

// sendChunkedSnapshot splits params across multiple SNAPSHOT messages if
// the encoded payload would exceed cfg.SnapshotChunkBytes, spec.md §4.11.
func (r *Router) sendChunkedSnapshot(sess *session.Session, params []clasptype.ParamValue) {
	if len(params) == 0 {
		r.send(sess, codec.Snapshot{Params: nil})
		return
	}
	const roughBytesPerParam = 96 // conservative estimate; exact encoding cost varies by Value size
	chunkSize := r.cfg.SnapshotChunkBytes / roughBytesPerParam
	if chunkSize <= 0 {
		chunkSize = len(params)
	}
	for start := 0; start < len(params); start += chunkSize {
		end := start + chunkSize
		if end > len(params) {
			end = len(params)
		}
		r.send(sess, codec.Snapshot{Params: params[start:end]})
	}
}

// broadcastTo fans a message out to every session in sessionIDs except
// excludeID, looking each up via the registry (dead sessions are silently
// skipped — the registry is the source of truth for liveness).
func (r *Router) broadcastTo(sessionIDs []string, excludeID string, msg codec.Message) {
	frame, err := codec.Encode(msg, false)
	if err != nil {
		r.logger.Error("encode for broadcast failed", zap.Error(err))
		return
	}
	for _, id := range sessionIDs {
		if id == excludeID {
			continue
		}
		target, ok := r.sessions.Get(id)
		if !ok {
			continue
		}
		if !target.Sink.Send(frame) {
			r.metrics.DroppedFrames.Inc()
			continue
		}
		r.metrics.MessagesSent.Inc()
	}
}
