package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lumencanvas/clasp/internal/address"
	"github.com/lumencanvas/clasp/internal/clasptype"
)

const capabilityPrefix = "cap_"

// wireCapability is the msgpack-encoded body of a CapabilityToken, spec.md
// §4.6 / §6: `cap_<base64url(messagepack(token))>`.
type wireCapability struct {
	Issuer    []byte          `msgpack:"iss"`
	Subject   []byte          `msgpack:"sub,omitempty"`
	Scopes    []string        `msgpack:"scopes"`
	ExpiresAt uint64          `msgpack:"exp"`
	Nonce     string          `msgpack:"nonce"`
	Proofs    []wireProofLink `msgpack:"proofs,omitempty"`
	Signature []byte          `msgpack:"sig,omitempty"`
}

type wireProofLink struct {
	Issuer    []byte   `msgpack:"iss"`
	Subject   []byte   `msgpack:"sub,omitempty"`
	Scopes    []string `msgpack:"scopes"`
	ExpiresAt uint64   `msgpack:"exp"`
	Nonce     string   `msgpack:"nonce"`
	Signature []byte   `msgpack:"sig"`
}

// signingBody returns the canonical bytes signed by the issuer: every field
// except the signature itself.
func (w wireCapability) signingBody() ([]byte, error) {
	unsigned := w
	unsigned.Signature = nil
	return msgpack.Marshal(unsigned)
}

// ancestorSigningBody reconstructs the exact bytes that the ancestor token
// at w.Proofs[i] signed: that ancestor's own Issuer/Subject/Scopes/ExpiresAt/
// Nonce, with its own (shorter) proof chain w.Proofs[:i] and no signature.
// This mirrors Delegate, which appends the parent's own proof list plus one
// new link for the parent itself.
func (w wireCapability) ancestorSigningBody(i int) ([]byte, error) {
	link := w.Proofs[i]
	ancestor := wireCapability{
		Issuer: link.Issuer, Subject: link.Subject, Scopes: link.Scopes, ExpiresAt: link.ExpiresAt,
		Nonce: link.Nonce, Proofs: w.Proofs[:i], Signature: nil,
	}
	return msgpack.Marshal(ancestor)
}

func toWireCapability(t clasptype.CapabilityToken) wireCapability {
	proofs := make([]wireProofLink, len(t.Proofs))
	for i, p := range t.Proofs {
		proofs[i] = wireProofLink{Issuer: p.Issuer, Subject: p.Subject, Scopes: p.Scopes, ExpiresAt: p.ExpiresAt, Nonce: p.Nonce, Signature: p.Signature}
	}
	return wireCapability{
		Issuer: t.Issuer, Subject: t.Subject, Scopes: t.Scopes, ExpiresAt: t.ExpiresAt,
		Nonce: t.Nonce, Proofs: proofs, Signature: t.Signature,
	}
}

func fromWireCapability(w wireCapability) clasptype.CapabilityToken {
	proofs := make([]clasptype.ProofLink, len(w.Proofs))
	for i, p := range w.Proofs {
		proofs[i] = clasptype.ProofLink{Issuer: p.Issuer, Subject: p.Subject, Scopes: p.Scopes, ExpiresAt: p.ExpiresAt, Nonce: p.Nonce, Signature: p.Signature}
	}
	return clasptype.CapabilityToken{
		Issuer: w.Issuer, Subject: w.Subject, Scopes: w.Scopes, ExpiresAt: w.ExpiresAt,
		Nonce: w.Nonce, Proofs: proofs, Signature: w.Signature,
	}
}

// EncodeCapabilityToken renders t as the wire string `cap_<base64url(...)>`.
func EncodeCapabilityToken(t clasptype.CapabilityToken) (string, error) {
	body, err := msgpack.Marshal(toWireCapability(t))
	if err != nil {
		return "", fmt.Errorf("auth: encode capability: %w", err)
	}
	return capabilityPrefix + base64.RawURLEncoding.EncodeToString(body), nil
}

func decodeCapabilityToken(token string) (wireCapability, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, capabilityPrefix))
	if err != nil {
		return wireCapability{}, fmt.Errorf("bad base64: %w", err)
	}
	var w wireCapability
	if err := msgpack.Unmarshal(raw, &w); err != nil {
		return wireCapability{}, fmt.Errorf("bad msgpack: %w", err)
	}
	return w, nil
}

// CapabilityValidator validates "cap_" delegatable capability chains
// against a configured trust-anchor set, per spec.md §4.6.
type CapabilityValidator struct {
	trustAnchors map[string]struct{} // base64-encoded Ed25519 public keys
	maxDepth     int
	now          func() time.Time
}

// NewCapabilityValidator builds a validator trusting the given root issuer
// public keys. maxDepth defaults to 5 if <= 0 (spec.md §4.6 default).
func NewCapabilityValidator(trustAnchors [][]byte, maxDepth int, now func() time.Time) *CapabilityValidator {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	if now == nil {
		now = time.Now
	}
	anchors := make(map[string]struct{}, len(trustAnchors))
	for _, k := range trustAnchors {
		anchors[base64.StdEncoding.EncodeToString(k)] = struct{}{}
	}
	return &CapabilityValidator{trustAnchors: anchors, maxDepth: maxDepth, now: now}
}

func (v *CapabilityValidator) Prefix() string { return capabilityPrefix }

func (v *CapabilityValidator) Validate(token string) (Result, TokenInfo, string) {
	w, err := decodeCapabilityToken(token)
	if err != nil {
		return Invalid, TokenInfo{}, err.Error()
	}

	nowUnix := uint64(v.now().Unix())
	if w.ExpiresAt > 0 && w.ExpiresAt < nowUnix {
		return Expired, TokenInfo{}, "capability token expired"
	}
	if len(w.Proofs) > v.maxDepth {
		return Invalid, TokenInfo{}, fmt.Sprintf("proof chain depth %d exceeds max %d", len(w.Proofs), v.maxDepth)
	}

	// Verify every signature in the chain, not just the leaf's: for each
	// ProofLink, reconstruct the exact bytes that ancestor token signed
	// (its own issuer/subject/scopes/expiry/nonce plus its own, shorter
	// proof prefix) and check it against that ancestor's own Issuer key.
	// Skipping this would let an attacker self-sign a leaf token that merely
	// *claims* a trusted root ancestor via an unverified ProofLink.
	for i := range w.Proofs {
		ancestorBody, err := w.ancestorSigningBody(i)
		if err != nil {
			return Invalid, TokenInfo{}, err.Error()
		}
		link := w.Proofs[i]
		if len(link.Signature) == 0 || !ed25519.Verify(ed25519.PublicKey(link.Issuer), ancestorBody, link.Signature) {
			return Invalid, TokenInfo{}, fmt.Sprintf("proof chain signature invalid at depth %d", i)
		}
	}

	body, err := w.signingBody()
	if err != nil {
		return Invalid, TokenInfo{}, err.Error()
	}
	if len(w.Signature) == 0 || !ed25519.Verify(ed25519.PublicKey(w.Issuer), body, w.Signature) {
		return Invalid, TokenInfo{}, "signature verification failed"
	}

	rootIssuer := w.Issuer
	if len(w.Proofs) > 0 {
		rootIssuer = w.Proofs[0].Issuer
	}
	if _, trusted := v.trustAnchors[base64.StdEncoding.EncodeToString(rootIssuer)]; !trusted {
		return Invalid, TokenInfo{}, "root issuer not a trust anchor"
	}

	// Walk the chain: for each adjacent (parent, child) in [proofs..., self],
	// every scope in child must be subset-of some scope in parent.
	chain := make([]struct {
		scopes []string
		exp    uint64
	}, 0, len(w.Proofs)+1)
	for _, p := range w.Proofs {
		chain = append(chain, struct {
			scopes []string
			exp    uint64
		}{p.Scopes, p.ExpiresAt})
	}
	chain = append(chain, struct {
		scopes []string
		exp    uint64
	}{w.Scopes, w.ExpiresAt})

	for i := 1; i < len(chain); i++ {
		parent, child := chain[i-1], chain[i]
		for _, cs := range child.scopes {
			if !scopeSubsetOfAny(cs, parent.scopes) {
				return Invalid, TokenInfo{}, fmt.Sprintf("attenuation violation at depth %d: %q not covered by parent scopes", i, cs)
			}
		}
	}

	scopes := make([]clasptype.Scope, 0, len(w.Scopes))
	for _, s := range w.Scopes {
		sc, err := parseScopeString(s)
		if err != nil {
			return Invalid, TokenInfo{}, err.Error()
		}
		scopes = append(scopes, sc)
	}

	var expiry *uint64
	if w.ExpiresAt > 0 {
		e := w.ExpiresAt
		expiry = &e
	}

	return Valid, TokenInfo{
		TokenID: base64.RawURLEncoding.EncodeToString(w.Signature),
		Subject: base64.StdEncoding.EncodeToString(w.Subject),
		Scopes:  scopes,
		Expiry:  expiry,
	}, ""
}

// scopeSubsetOfAny implements the §4.6 scope subset rule: action subset
// (admin ⊇ write ⊇ read; other actions must match exactly) AND pattern
// subset (address.IsSubset).
func scopeSubsetOfAny(child string, parents []string) bool {
	cAction, cPattern, err := splitScope(child)
	if err != nil {
		return false
	}
	for _, p := range parents {
		pAction, pPattern, err := splitScope(p)
		if err != nil {
			continue
		}
		if !actionSubset(cAction, pAction) {
			continue
		}
		if address.IsSubset(cPattern, pPattern) {
			return true
		}
	}
	return false
}

func actionSubset(child, parent string) bool {
	rank := map[string]int{"read": 1, "write": 2, "admin": 3}
	cr, cok := rank[child]
	pr, pok := rank[parent]
	if cok && pok {
		return pr >= cr
	}
	// Non-standard action names: nominal subset, must match exactly.
	return child == parent
}

func splitScope(s string) (action, pattern string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed scope %q", s)
	}
	return parts[0], parts[1], nil
}

func parseScopeString(s string) (clasptype.Scope, error) {
	action, pattern, err := splitScope(s)
	if err != nil {
		return clasptype.Scope{}, err
	}
	var a clasptype.Action
	switch action {
	case "read":
		a = clasptype.ActionRead
	case "write":
		a = clasptype.ActionWrite
	case "admin":
		a = clasptype.ActionAdmin
	default:
		return clasptype.Scope{}, fmt.Errorf("unknown action %q in scope %q", action, s)
	}
	return clasptype.Scope{Action: a, Pattern: pattern}, nil
}

// Delegate issues a child capability token that narrows parent's scope set,
// per spec.md §4.6's delegation API (used by issuers, not validators — this
// repository's router never calls it, but it is exercised by tests as the
// counterpart to Validate).
func Delegate(parent clasptype.CapabilityToken, childSigningKey ed25519.PrivateKey, childScopes []string, childExpires uint64, childSubject []byte) (clasptype.CapabilityToken, error) {
	proofs := append(append([]clasptype.ProofLink{}, parent.Proofs...), clasptype.ProofLink{
		Issuer: parent.Issuer, Subject: parent.Subject, Scopes: parent.Scopes, ExpiresAt: parent.ExpiresAt,
		Nonce: parent.Nonce, Signature: parent.Signature,
	})

	child := clasptype.CapabilityToken{
		Issuer:    childSigningKey.Public().(ed25519.PublicKey),
		Subject:   childSubject,
		Scopes:    childScopes,
		ExpiresAt: childExpires,
		Nonce:     randomNonce(),
		Proofs:    proofs,
	}

	w := toWireCapability(child)
	body, err := w.signingBody()
	if err != nil {
		return clasptype.CapabilityToken{}, err
	}
	child.Signature = ed25519.Sign(childSigningKey, body)
	return child, nil
}

func randomNonce() string {
	return fmt.Sprintf("nonce-%d", time.Now().UnixNano())
}
