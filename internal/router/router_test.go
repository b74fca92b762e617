package router

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/lumencanvas/clasp/internal/auth"
	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/codec"
	"github.com/lumencanvas/clasp/internal/federation"
	"github.com/lumencanvas/clasp/internal/session"
	"github.com/lumencanvas/clasp/internal/state"
	"github.com/lumencanvas/clasp/internal/subscription"
	"github.com/lumencanvas/clasp/internal/telemetry"
)

// fakeSink records every frame sent to it, for assertions in tests.
type fakeSink struct {
	frames [][]byte
}

func (f *fakeSink) Send(frame []byte) bool {
	f.frames = append(f.frames, frame)
	return true
}
func (f *fakeSink) Close() {}

func (f *fakeSink) last() codec.Message {
	if len(f.frames) == 0 {
		return nil
	}
	msg, _, err := codec.Decode(f.frames[len(f.frames)-1])
	if err != nil {
		return nil
	}
	return msg
}

func newTestRouter(t *testing.T) (*Router, func(scopes string) (*session.Session, *fakeSink)) {
	t.Helper()
	var tick int64
	clock := func() int64 { tick++; return tick }

	st := state.New(4, clock)
	subs := subscription.New(4)
	sessions := session.NewRegistry(4)
	fed := federation.NewManager(nil)

	chain := auth.NewChain(auth.NewCPSKValidator(map[string]auth.TokenInfo{
		"all": {Subject: "tester", Scopes: []clasptype.Scope{{Action: clasptype.ActionAdmin, Pattern: "/**"}}},
	}))

	r := New(DefaultConfig(), st, subs, sessions, chain, fed, nil, nil, nil, telemetry.NewMetrics(), zap.NewNop(), clock)

	connect := func(tokenKey string) (*session.Session, *fakeSink) {
		sink := &fakeSink{}
		id := "sess-" + tokenKey + "-" + randSuffix()
		sess := session.New(id, sink)
		sessions.Register(sess)
		if err := r.Dispatch(context.Background(), sess, codec.Hello{Token: "cpsk_" + tokenKey}); err != nil {
			t.Fatalf("hello dispatch: %v", err)
		}
		return sess, sink
	}
	return r, connect
}

var suffixCounter int

func randSuffix() string {
	suffixCounter++
	return string(rune('a' + suffixCounter%26))
}

func TestRoundTripSet(t *testing.T) {
	r, connect := newTestRouter(t)
	writer, writerSink := connect("all")
	subscriber, subSink := connect("all")

	if err := r.Dispatch(context.Background(), subscriber, codec.Subscribe{ID: 1, Pattern: "/mixer/**"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := r.Dispatch(context.Background(), writer, codec.Set{Address: "/mixer/master/volume", Value: clasptype.NewFloat(0.8)}); err != nil {
		t.Fatalf("set: %v", err)
	}

	ack, ok := writerSink.last().(codec.Ack)
	if !ok {
		t.Fatalf("expected Ack, got %#v", writerSink.last())
	}
	if ack.Revision == nil || *ack.Revision != 1 {
		t.Fatalf("expected revision 1, got %+v", ack.Revision)
	}

	got, ok := subSink.last().(codec.Set)
	if !ok {
		t.Fatalf("expected subscriber to receive Set, got %#v", subSink.last())
	}
	if got.Address != "/mixer/master/volume" || got.Revision == nil || *got.Revision != 1 {
		t.Fatalf("unexpected broadcast: %+v", got)
	}
	if !got.Value.Equal(clasptype.NewFloat(0.8)) {
		t.Fatalf("unexpected value: %+v", got.Value)
	}
}

func TestLateJoinerSnapshot(t *testing.T) {
	r, connect := newTestRouter(t)
	writer, _ := connect("all")
	r.Dispatch(context.Background(), writer, codec.Set{Address: "/a", Value: clasptype.NewInt(1)})
	r.Dispatch(context.Background(), writer, codec.Set{Address: "/b", Value: clasptype.NewInt(2)})
	r.Dispatch(context.Background(), writer, codec.Set{Address: "/c/d", Value: clasptype.NewInt(3)})

	joiner, joinerSink := connect("all")
	if err := r.Dispatch(context.Background(), joiner, codec.Subscribe{ID: 1, Pattern: "/**"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	snap, ok := joinerSink.last().(codec.Snapshot)
	if !ok {
		t.Fatalf("expected Snapshot, got %#v", joinerSink.last())
	}
	if len(snap.Params) != 3 {
		t.Fatalf("expected 3 params in snapshot, got %d", len(snap.Params))
	}
}

func TestRevisionConflict(t *testing.T) {
	r, connect := newTestRouter(t)
	writer, writerSink := connect("all")

	for i := int64(1); i <= 5; i++ {
		r.Dispatch(context.Background(), writer, codec.Set{Address: "/x", Value: clasptype.NewInt(i)})
	}
	stale := uint64(4)
	r.Dispatch(context.Background(), writer, codec.Set{Address: "/x", Value: clasptype.NewInt(6), Revision: &stale})

	errMsg, ok := writerSink.last().(codec.ErrorMsg)
	if !ok {
		t.Fatalf("expected ErrorMsg, got %#v", writerSink.last())
	}
	if errMsg.Code != clasptype.CodeBadRequest {
		t.Fatalf("expected 400, got %d", errMsg.Code)
	}

	val, _ := r.state.Get("/x")
	if !val.Equal(clasptype.NewInt(5)) {
		t.Fatalf("expected state unchanged after rejected stale SET, got %+v", val)
	}
}

func TestFederationEscape(t *testing.T) {
	r, connect := newTestRouter(t)
	peerSink := &fakeSink{}
	peer := session.New("peer-1", peerSink)
	peer.Welcome("peer", []clasptype.Scope{{Action: clasptype.ActionAdmin, Pattern: "/**"}}, []string{"federation"})

	if err := r.Dispatch(context.Background(), peer, codec.FederationSync{Op: codec.FedDeclareNamespaces, Patterns: []string{"/site-a/**"}}); err != nil {
		t.Fatalf("declare: %v", err)
	}

	if err := r.Dispatch(context.Background(), peer, codec.Set{Address: "/site-b/x", Value: clasptype.NewInt(1)}); err != nil {
		t.Fatalf("set: %v", err)
	}

	errMsg, ok := peerSink.last().(codec.ErrorMsg)
	if !ok {
		t.Fatalf("expected ErrorMsg, got %#v", peerSink.last())
	}
	if errMsg.Code != clasptype.CodeForbidden {
		t.Fatalf("expected 403, got %d", errMsg.Code)
	}
	if _, ok := r.state.Get("/site-b/x"); ok {
		t.Fatalf("state must be unchanged after rejected federation write")
	}
}

// TestFederationLoopPrevention ensures a change that arrives from federation
// peer A is relayed on to other covering peers but never echoed back to A
// itself, per spec.md §8's "a change with origin=R is never sent to the
// peer whose router_id is R" property.
func TestFederationLoopPrevention(t *testing.T) {
	r, _ := newTestRouter(t)

	peerASink, peerBSink := &fakeSink{}, &fakeSink{}
	peerA := session.New("peer-a", peerASink)
	peerB := session.New("peer-b", peerBSink)
	peerA.Welcome("peer-a", []clasptype.Scope{{Action: clasptype.ActionAdmin, Pattern: "/**"}}, []string{"federation"})
	peerB.Welcome("peer-b", []clasptype.Scope{{Action: clasptype.ActionAdmin, Pattern: "/**"}}, []string{"federation"})
	r.sessions.Register(peerA)
	r.sessions.Register(peerB)

	if err := r.Dispatch(context.Background(), peerA, codec.FederationSync{Op: codec.FedDeclareNamespaces, Patterns: []string{"/site-x/**"}, Origin: "router-a"}); err != nil {
		t.Fatalf("declare a: %v", err)
	}
	if err := r.Dispatch(context.Background(), peerB, codec.FederationSync{Op: codec.FedDeclareNamespaces, Patterns: []string{"/site-x/**"}, Origin: "router-b"}); err != nil {
		t.Fatalf("declare b: %v", err)
	}
	peerASink.frames, peerBSink.frames = nil, nil // discard the DeclareNamespaces Acks

	msg := codec.Publish{Address: "/site-x/foo", Value: clasptype.NewInt(7), SignalType: clasptype.SignalParam}
	if err := r.Dispatch(context.Background(), peerA, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, frame := range peerASink.frames {
		if decoded, _, err := codec.Decode(frame); err == nil {
			if _, ok := decoded.(codec.Publish); ok {
				t.Fatalf("origin peer must never receive its own federated change back, got %#v", decoded)
			}
		}
	}

	got, ok := peerBSink.last().(codec.Publish)
	if !ok {
		t.Fatalf("expected peer B to receive the forwarded change, got %#v", peerBSink.last())
	}
	if got.Address != msg.Address {
		t.Fatalf("unexpected address relayed: %s", got.Address)
	}
}

func TestP2PSignalRouting(t *testing.T) {
	r, connect := newTestRouter(t)
	a, _ := connect("all")
	b, bSink := connect("all")

	msg := codec.Publish{Address: "/clasp/p2p/signal/" + b.ID, Value: clasptype.NewString("offer")}
	if err := r.Dispatch(context.Background(), a, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, ok := bSink.last().(codec.Publish)
	if !ok {
		t.Fatalf("expected Publish delivered to target, got %#v", bSink.last())
	}
	if got.Address != msg.Address {
		t.Fatalf("unexpected forwarded address: %s", got.Address)
	}
}

func TestP2PSignalUnknownTarget(t *testing.T) {
	r, connect := newTestRouter(t)
	a, aSink := connect("all")

	msg := codec.Publish{Address: "/clasp/p2p/signal/nonexistent", Value: clasptype.NewString("offer")}
	if err := r.Dispatch(context.Background(), a, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	errMsg, ok := aSink.last().(codec.ErrorMsg)
	if !ok {
		t.Fatalf("expected ErrorMsg, got %#v", aSink.last())
	}
	if errMsg.Code != clasptype.CodeNotFound {
		t.Fatalf("expected 404, got %d", errMsg.Code)
	}
}
