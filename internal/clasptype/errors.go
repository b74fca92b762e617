package clasptype

import "fmt"

// Code is a wire-level ERROR code, spec.md §6.
type Code uint16

const (
	CodeInvalidSubscriptionPattern Code = 202
	CodeInsufficientScope          Code = 301
	CodeBadRequest                 Code = 400
	CodeForbidden                  Code = 403
	CodeNotFound                   Code = 404
	CodeSubscriptionLimit          Code = 429
	CodeRateLimited                Code = 429
	CodeJournalError               Code = 500
	CodeFeatureNotConfigured       Code = 501
)

// Error is a typed CLASP protocol error carrying a wire error code.
type Error struct {
	Code    Code
	Message string
	Address string
}

func (e *Error) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("clasp: %d %s (%s)", e.Code, e.Message, e.Address)
	}
	return fmt.Sprintf("clasp: %d %s", e.Code, e.Message)
}

func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func NewAddressError(code Code, msg, addr string) *Error {
	return &Error{Code: code, Message: msg, Address: addr}
}

var (
	ErrLocked         = NewError(CodeBadRequest, "address locked by another session")
	ErrStaleRevision  = NewError(CodeBadRequest, "revision stale")
	ErrSessionNotFound = NewError(CodeNotFound, "session not found")
)
