package auth

import (
	"strings"

	"github.com/lumencanvas/clasp/internal/clasptype"
)

// Result is the outcome of a single validator's attempt to recognize and
// validate a token, spec.md §4.5.
type Result int

const (
	NotMine Result = iota
	Valid
	Expired
	Invalid
)

// TokenInfo carries the resolved identity and scopes of a validated token.
type TokenInfo struct {
	TokenID string
	Subject string
	Scopes  []clasptype.Scope
	Expiry  *uint64
	Meta    map[string]string
}

// HasScope reports whether info grants action on addr, per matcher (the
// address matcher's glob_match).
func (info TokenInfo) HasScope(action clasptype.Action, addr string, matcher func(pattern, addr string) bool) bool {
	for _, sc := range info.Scopes {
		if sc.Action.Dominates(action) && matcher(sc.Pattern, addr) {
			return true
		}
	}
	return false
}

// Validator recognizes a token by its prefix and validates it.
type Validator interface {
	// Prefix is the canonical token prefix this validator owns, e.g. "cpsk_".
	Prefix() string
	// Validate parses and verifies a token already confirmed to carry this
	// validator's prefix.
	Validate(token string) (Result, TokenInfo, string)
}

// Chain is an ordered list of validators, walked in order; the first
// validator whose Prefix matches the token decides its fate. New token
// kinds are added by appending a Validator, without touching existing ones
// (spec.md §9 "Validator chain as polymorphism").
type Chain struct {
	validators []Validator
}

// NewChain builds a chain from validators in priority order.
func NewChain(validators ...Validator) *Chain {
	return &Chain{validators: validators}
}

// Validate walks the chain and returns the first non-NotMine result. If no
// validator recognizes the token's prefix, returns Invalid.
func (c *Chain) Validate(token string) (Result, TokenInfo, string) {
	for _, v := range c.validators {
		if !strings.HasPrefix(token, v.Prefix()) {
			continue
		}
		res, info, errMsg := v.Validate(token)
		if res == NotMine {
			continue
		}
		return res, info, errMsg
	}
	return Invalid, TokenInfo{}, "unrecognized token prefix"
}

// CPSKValidator recognizes "cpsk_" pre-shared-key tokens. Per spec.md §1,
// the pre-shared-key scheme itself is "interpreted... outside this spec's
// core" (§6): this validator is the pluggable seam, configured with a
// static map from opaque key to the scopes it grants.
type CPSKValidator struct {
	keys map[string]TokenInfo
}

// NewCPSKValidator builds a validator over a static key->scopes table,
// which cmd/claspd loads from the JSON file at Config.Auth.CPSKTokensPath.
func NewCPSKValidator(keys map[string]TokenInfo) *CPSKValidator {
	return &CPSKValidator{keys: keys}
}

func (v *CPSKValidator) Prefix() string { return "cpsk_" }

func (v *CPSKValidator) Validate(token string) (Result, TokenInfo, string) {
	opaque := strings.TrimPrefix(token, v.Prefix())
	info, ok := v.keys[opaque]
	if !ok {
		return Invalid, TokenInfo{}, "unknown pre-shared key"
	}
	return Valid, info, ""
}
