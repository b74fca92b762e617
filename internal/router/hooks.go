// Package router implements the CLASP handler dispatcher: the per-session
// message loop that validates, applies, and fans out each incoming
// message, spec.md §4.8.
package router

import (
	"context"

	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/session"
)

// WriteValidator is the deployment-specific hook invoked after scope checks
// on SET/PUBLISH; it may reject a write with a reason (spec.md §4.8, §9).
// The rules engine itself is an external collaborator (spec.md §1
// Non-goals) — this is only the pure-function seam it plugs into.
type WriteValidator interface {
	ValidateWrite(ctx context.Context, addr string, value clasptype.Value, sess *session.Session) error
}

// SnapshotFilter may redact or drop ParamValues before they leave the
// router, spec.md glossary.
type SnapshotFilter interface {
	FilterSnapshot(params []clasptype.ParamValue, sess *session.Session) []clasptype.ParamValue
}

// JournalRecord is one entry in the append-only journal, spec.md §6.
type JournalRecord struct {
	Seq        uint64
	Timestamp  int64
	Author     string
	Address    string
	SignalType clasptype.SignalType
	Value      clasptype.Value
	Revision   *uint64
	MsgType    string
}

// Journal is the external collaborator spec.md §1 Non-goals excludes from
// the core but which the router treats as write-behind for SET/PUBLISH and
// as a read source for REPLAY (spec.md §6).
type Journal interface {
	Append(ctx context.Context, rec JournalRecord) error
	Query(ctx context.Context, pattern string, since *int64) ([]JournalRecord, error)
}

type noopWriteValidator struct{}

func (noopWriteValidator) ValidateWrite(context.Context, string, clasptype.Value, *session.Session) error {
	return nil
}

type noopSnapshotFilter struct{}

func (noopSnapshotFilter) FilterSnapshot(params []clasptype.ParamValue, _ *session.Session) []clasptype.ParamValue {
	return params
}

type noopJournal struct{}

func (noopJournal) Append(context.Context, JournalRecord) error { return nil }
func (noopJournal) Query(context.Context, string, *int64) ([]JournalRecord, error) {
	return nil, nil
}
