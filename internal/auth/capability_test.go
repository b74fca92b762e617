package auth

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/lumencanvas/clasp/internal/clasptype"
)

func signRootToken(t *testing.T, priv ed25519.PrivateKey, scopes []string, expiresAt uint64) clasptype.CapabilityToken {
	t.Helper()
	token := clasptype.CapabilityToken{
		Issuer: priv.Public().(ed25519.PublicKey), Scopes: scopes, ExpiresAt: expiresAt, Nonce: "root-nonce",
	}
	w := toWireCapability(token)
	body, err := w.signingBody()
	if err != nil {
		t.Fatalf("signingBody: %v", err)
	}
	token.Signature = ed25519.Sign(priv, body)
	return token
}

func TestCapabilityAttenuation(t *testing.T) {
	rootPub, rootPriv, _ := ed25519.GenerateKey(nil)
	childPub, childPriv, _ := ed25519.GenerateKey(nil)
	_ = childPub

	root := signRootToken(t, rootPriv, []string{"admin:/**"}, 0)

	child, err := Delegate(root, childPriv, []string{"write:/lights/**"}, 0, nil)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}

	validator := NewCapabilityValidator([][]byte{rootPub}, 5, func() time.Time { return time.Unix(1000, 0) })

	childTokenStr, err := EncodeCapabilityToken(child)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	res, info, msg := validator.Validate(childTokenStr)
	if res != Valid {
		t.Fatalf("expected Valid, got %v (%s)", res, msg)
	}
	if len(info.Scopes) != 1 || info.Scopes[0].Pattern != "/lights/**" {
		t.Fatalf("unexpected scopes: %+v", info.Scopes)
	}

	grandPub, grandPriv, _ := ed25519.GenerateKey(nil)
	_ = grandPub
	grandchild, err := Delegate(child, grandPriv, []string{"write:/audio/**"}, 0, nil)
	if err != nil {
		t.Fatalf("delegate grandchild: %v", err)
	}
	grandTokenStr, err := EncodeCapabilityToken(grandchild)
	if err != nil {
		t.Fatalf("encode grandchild: %v", err)
	}
	res, _, msg = validator.Validate(grandTokenStr)
	if res != Invalid {
		t.Fatalf("expected Invalid attenuation violation, got %v (%s)", res, msg)
	}
}

// TestCapabilityForgedProofChainRejected ensures an attacker who only
// controls their own keypair cannot mint a trust-anchor-rooted admin token
// by claiming an unsigned (or garbage-signed) ProofLink to the trusted root.
func TestCapabilityForgedProofChainRejected(t *testing.T) {
	rootPub, _, _ := ed25519.GenerateKey(nil)
	attackerPub, attackerPriv, _ := ed25519.GenerateKey(nil)

	forged := clasptype.CapabilityToken{
		Issuer:  attackerPub,
		Scopes:  []string{"admin:/**"},
		Nonce:   "forged-nonce",
		Proofs: []clasptype.ProofLink{
			{Issuer: rootPub, Scopes: []string{"admin:/**"}, Signature: []byte("garbage-signature-not-from-root")},
		},
	}
	w := toWireCapability(forged)
	body, err := w.signingBody()
	if err != nil {
		t.Fatalf("signingBody: %v", err)
	}
	forged.Signature = ed25519.Sign(attackerPriv, body)

	tokenStr, err := EncodeCapabilityToken(forged)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	validator := NewCapabilityValidator([][]byte{rootPub}, 5, func() time.Time { return time.Unix(1000, 0) })
	res, _, msg := validator.Validate(tokenStr)
	if res != Invalid {
		t.Fatalf("expected Invalid for forged proof chain, got %v (%s)", res, msg)
	}
}

func TestCapabilityUntrustedRoot(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherAnchor, _, _ := ed25519.GenerateKey(nil)

	root := signRootToken(t, priv, []string{"admin:/**"}, 0)
	tokenStr, err := EncodeCapabilityToken(root)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	validator := NewCapabilityValidator([][]byte{otherAnchor}, 5, nil)
	res, _, _ := validator.Validate(tokenStr)
	if res != Invalid {
		t.Fatalf("expected Invalid for untrusted root, got %v", res)
	}
}

func TestCapabilityExpired(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	pub := priv.Public().(ed25519.PublicKey)
	root := signRootToken(t, priv, []string{"admin:/**"}, 100)
	tokenStr, err := EncodeCapabilityToken(root)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	validator := NewCapabilityValidator([][]byte{pub}, 5, func() time.Time { return time.Unix(200, 0) })
	res, _, _ := validator.Validate(tokenStr)
	if res != Expired {
		t.Fatalf("expected Expired, got %v", res)
	}
}
