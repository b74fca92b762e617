package auth

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func TestEntityValidatorRoundTrip(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	id := EntityID(pub)

	cache := NewEntityCache()
	cache.Replace([]Entity{{ID: id, PublicKey: pub, Status: EntityActive, Namespaces: []string{"/lights"}}})

	payload := SignEntityToken(id, 1000, priv)
	tokenStr, err := EncodeEntityToken(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	v := NewEntityValidator(cache, 0, func() time.Time { return time.Unix(1000, 0) })
	res, info, msg := v.Validate(tokenStr)
	if res != Valid {
		t.Fatalf("expected Valid, got %v (%s)", res, msg)
	}
	if len(info.Scopes) != 1 || info.Scopes[0].Pattern != "/lights/**" {
		t.Fatalf("expected synthesized admin:/lights/** scope, got %+v", info.Scopes)
	}
}

func TestEntityValidatorUnknownEntity(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	id := EntityID(pub)
	cache := NewEntityCache()

	payload := SignEntityToken(id, 1000, priv)
	tokenStr, _ := EncodeEntityToken(payload)

	v := NewEntityValidator(cache, 0, nil)
	res, _, _ := v.Validate(tokenStr)
	if res != Invalid {
		t.Fatalf("expected Invalid for unknown entity, got %v", res)
	}
}

func TestEntityValidatorTooOld(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	id := EntityID(pub)
	cache := NewEntityCache()
	cache.Replace([]Entity{{ID: id, PublicKey: pub, Status: EntityActive, Namespaces: []string{"/a"}}})

	payload := SignEntityToken(id, 1000, priv)
	tokenStr, _ := EncodeEntityToken(payload)

	v := NewEntityValidator(cache, 10*time.Second, func() time.Time { return time.Unix(2000, 0) })
	res, _, _ := v.Validate(tokenStr)
	if res != Expired {
		t.Fatalf("expected Expired, got %v", res)
	}
}
