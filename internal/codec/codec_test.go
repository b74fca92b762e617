package codec

import (
	"testing"

	"github.com/lumencanvas/clasp/internal/clasptype"
)

func TestFrameRoundTrip(t *testing.T) {
	msg := Set{Address: "/mixer/master/volume", Value: clasptype.NewFloat(0.8)}
	frameBytes, err := Encode(msg, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, n, err := Decode(frameBytes)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(frameBytes) {
		t.Fatalf("consumed %d, want %d", n, len(frameBytes))
	}
	gotSet, ok := got.(Set)
	if !ok {
		t.Fatalf("got %T, want Set", got)
	}
	if gotSet.Address != msg.Address || !gotSet.Value.Equal(msg.Value) {
		t.Fatalf("got %+v, want %+v", gotSet, msg)
	}
}

func TestCrossProfileDecodeOverlapSet(t *testing.T) {
	rev := uint64(4)
	cases := []Message{
		Hello{Token: "cpsk_abc", Features: []string{"federation"}},
		Set{Address: "/x", Value: clasptype.NewInt(42), Revision: &rev, Lock: true},
		Ping{},
		Pong{},
		Subscribe{ID: 7, Pattern: "/mixer/**", TypeFilter: []clasptype.SignalType{clasptype.SignalParam}, RateLimitHz: 30},
	}
	for _, msg := range cases {
		embeddedBytes, err := EncodeEmbedded(msg)
		if err != nil {
			t.Fatalf("EncodeEmbedded(%T): %v", msg, err)
		}
		flexibleBytes, err := EncodeFlexible(msg)
		if err != nil {
			t.Fatalf("EncodeFlexible(%T): %v", msg, err)
		}

		fromEmbedded, err := DecodeEmbedded(embeddedBytes)
		if err != nil {
			t.Fatalf("DecodeEmbedded(%T): %v", msg, err)
		}
		fromFlexible, err := DecodeFlexible(flexibleBytes)
		if err != nil {
			t.Fatalf("DecodeFlexible(%T): %v", msg, err)
		}

		// Each profile's bytes were decoded by that profile's own decoder;
		// the two decoded messages must be equal (semantic equivalence).
		if !messagesEqual(fromEmbedded, fromFlexible) {
			t.Errorf("profile divergence for %T: embedded=%+v flexible=%+v", msg, fromEmbedded, fromFlexible)
		}
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0x00},
		{0x53},
		{0x53, 0x00},
		{0x53, 0x00, 0xFF, 0xFF},
		{0x53, 0x00, 0x00, 0x01, 0x99},
		{0x53, 0x01, 0x00, 0x01, 0x01},
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Decode(%v) panicked: %v", in, r)
				}
			}()
			_, _, _ = Decode(in)
		}()
	}
}

func messagesEqual(a, b Message) bool {
	switch av := a.(type) {
	case Hello:
		bv, ok := b.(Hello)
		return ok && av.Token == bv.Token && stringSlicesEqual(av.Features, bv.Features)
	case Set:
		bv, ok := b.(Set)
		return ok && av.Address == bv.Address && av.Value.Equal(bv.Value) && av.Lock == bv.Lock && av.Unlock == bv.Unlock
	case Ping:
		_, ok := b.(Ping)
		return ok
	case Pong:
		_, ok := b.(Pong)
		return ok
	case Subscribe:
		bv, ok := b.(Subscribe)
		return ok && av.ID == bv.ID && av.Pattern == bv.Pattern
	default:
		return false
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
