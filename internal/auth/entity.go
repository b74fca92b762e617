package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lumencanvas/clasp/internal/clasptype"
)

const entityPrefix = "ent_"

type wireEntityPayload struct {
	EntityID  string `msgpack:"entity_id"`
	Timestamp uint64 `msgpack:"timestamp"`
	Signature []byte `msgpack:"signature"`
}

// EncodeEntityToken renders payload as `ent_<base64url(msgpack(...))>`.
func EncodeEntityToken(payload clasptype.EntityTokenPayload) (string, error) {
	body, err := msgpack.Marshal(wireEntityPayload{
		EntityID: payload.EntityID, Timestamp: payload.Timestamp, Signature: payload.Signature,
	})
	if err != nil {
		return "", fmt.Errorf("auth: encode entity token: %w", err)
	}
	return entityPrefix + base64.RawURLEncoding.EncodeToString(body), nil
}

func decodeEntityToken(token string) (wireEntityPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, entityPrefix))
	if err != nil {
		return wireEntityPayload{}, fmt.Errorf("bad base64: %w", err)
	}
	var w wireEntityPayload
	if err := msgpack.Unmarshal(raw, &w); err != nil {
		return wireEntityPayload{}, fmt.Errorf("bad msgpack: %w", err)
	}
	return w, nil
}

// EntityStatus mirrors the registry's lifecycle for an entity's key.
type EntityStatus byte

const (
	EntityActive EntityStatus = iota
	EntitySuspended
	EntityRevoked
)

// Entity is a registered identity: a public key plus its authorization
// surface (explicit scopes, or a set of owned namespaces used to synthesize
// admin scopes per spec.md §4.7 step 6).
type Entity struct {
	ID         string
	PublicKey  ed25519.PublicKey
	Status     EntityStatus
	Scopes     []string
	Namespaces []string
}

// EntityStore is queried by EntityValidator. Lookup must be synchronous and
// non-blocking from the validator's call site (spec.md §9 "Async vs sync
// validators"); EntityCache below is the in-memory-view implementation.
type EntityStore interface {
	Lookup(entityID string) (Entity, bool)
}

// EntityCache is a precomputed in-memory view of an external (possibly
// persistent/async) entity registry, refreshed by an external loader. This
// is the "precomputed in-memory view" bridge spec.md §9 calls for: lookups
// never touch the backing store, so the validator never suspends.
type EntityCache struct {
	mu   sync.RWMutex
	byID map[string]Entity
}

func NewEntityCache() *EntityCache {
	return &EntityCache{byID: make(map[string]Entity)}
}

// Replace swaps in a fresh snapshot, typically called periodically by a
// background refresher reading the real entity registry.
func (c *EntityCache) Replace(entities []Entity) {
	m := make(map[string]Entity, len(entities))
	for _, e := range entities {
		m[e.ID] = e
	}
	c.mu.Lock()
	c.byID = m
	c.mu.Unlock()
}

func (c *EntityCache) Lookup(entityID string) (Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[entityID]
	return e, ok
}

// EntityID derives the canonical `clasp:<base58(first16bytes(pubkey))>` ID
// for a public key, spec.md §4.7.
func EntityID(pub ed25519.PublicKey) string {
	n := 16
	if len(pub) < n {
		n = len(pub)
	}
	return "clasp:" + base58.Encode(pub[:n])
}

// EntityValidator validates "ent_" identity-bound tokens against an
// EntityStore, per spec.md §4.7.
type EntityValidator struct {
	store      EntityStore
	maxTokenAge time.Duration // 0 = unbounded
	now         func() time.Time
}

// NewEntityValidator builds a validator over store. maxTokenAge <= 0 means
// tokens never expire by age.
func NewEntityValidator(store EntityStore, maxTokenAge time.Duration, now func() time.Time) *EntityValidator {
	if now == nil {
		now = time.Now
	}
	return &EntityValidator{store: store, maxTokenAge: maxTokenAge, now: now}
}

func (v *EntityValidator) Prefix() string { return entityPrefix }

func (v *EntityValidator) Validate(token string) (Result, TokenInfo, string) {
	w, err := decodeEntityToken(token)
	if err != nil {
		return Invalid, TokenInfo{}, err.Error()
	}

	if v.maxTokenAge > 0 {
		age := v.now().Sub(time.Unix(int64(w.Timestamp), 0))
		if age > v.maxTokenAge {
			return Expired, TokenInfo{}, "entity token too old"
		}
	}

	entity, ok := v.store.Lookup(w.EntityID)
	if !ok {
		return Invalid, TokenInfo{}, "entity not found"
	}
	if entity.Status != EntityActive {
		return Invalid, TokenInfo{}, "entity is not active"
	}

	signed := signedBytes(w.EntityID, w.Timestamp)
	if !ed25519.Verify(entity.PublicKey, signed, w.Signature) {
		return Invalid, TokenInfo{}, "signature verification failed"
	}

	scopeStrings := entity.Scopes
	if len(scopeStrings) == 0 {
		scopeStrings = make([]string, len(entity.Namespaces))
		for i, ns := range entity.Namespaces {
			scopeStrings[i] = fmt.Sprintf("admin:%s/**", strings.TrimSuffix(ns, "/"))
		}
	}
	scopes := make([]clasptype.Scope, 0, len(scopeStrings))
	for _, s := range scopeStrings {
		sc, err := parseScopeString(s)
		if err != nil {
			return Invalid, TokenInfo{}, err.Error()
		}
		scopes = append(scopes, sc)
	}

	return Valid, TokenInfo{TokenID: w.EntityID, Subject: entity.ID, Scopes: scopes}, ""
}

// signedBytes builds the signed payload `utf8(entity_id) || timestamp_be8`.
func signedBytes(entityID string, timestamp uint64) []byte {
	out := make([]byte, len(entityID)+8)
	copy(out, entityID)
	binary.BigEndian.PutUint64(out[len(entityID):], timestamp)
	return out
}

// SignEntityToken is the issuer-side counterpart to Validate, used by
// entity-provisioning tooling (not the router itself) and by tests.
func SignEntityToken(entityID string, timestamp uint64, priv ed25519.PrivateKey) clasptype.EntityTokenPayload {
	sig := ed25519.Sign(priv, signedBytes(entityID, timestamp))
	return clasptype.EntityTokenPayload{EntityID: entityID, Timestamp: timestamp, Signature: sig}
}
