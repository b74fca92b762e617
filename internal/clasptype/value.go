// Package clasptype holds the CLASP wire-level value and domain types shared
// by the codec, state store, subscription index, and authorization layers.
package clasptype

import "math"

// Kind tags the sum type carried by Value.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
)

// Value is the CLASP tagged value union: Null, Bool, Int (signed 64-bit),
// Float (IEEE-754 64-bit), String, Bytes, List, Map.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Bytes []byte
	List  []Value
	Map   map[string]Value
}

func Null() Value                 { return Value{Kind: KindNull} }
func NewBool(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func NewInt(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func NewFloat(f float64) Value    { return Value{Kind: KindFloat, Float: f} }
func NewString(s string) Value    { return Value{Kind: KindString, Str: s} }
func NewBytes(b []byte) Value     { return Value{Kind: KindBytes, Bytes: b} }
func NewList(v []Value) Value     { return Value{Kind: KindList, List: v} }
func NewMap(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// Equal implements the equality rule from spec.md §3: Int/Float use numeric
// comparison (Float with an epsilon), Bool/String use structural equality,
// other kinds only support equality (no ordering).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		const epsilon = 1e-9
		return math.Abs(v.Float-o.Float) <= epsilon
	case KindString:
		return v.Str == o.Str
	case KindBytes:
		if len(v.Bytes) != len(o.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != o.Bytes[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, mv := range v.Map {
			ov, ok := o.Map[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SignalType is one of Param, Event, Stream, Gesture, Timeline. Param is the
// only stateful kind; others are transient fan-out.
type SignalType byte

const (
	SignalParam SignalType = iota
	SignalEvent
	SignalStream
	SignalGesture
	SignalTimeline
)

func (t SignalType) String() string {
	switch t {
	case SignalParam:
		return "param"
	case SignalEvent:
		return "event"
	case SignalStream:
		return "stream"
	case SignalGesture:
		return "gesture"
	case SignalTimeline:
		return "timeline"
	default:
		return "unknown"
	}
}

// Action is one of Read, Write, Admin, used by Scope and has_scope checks.
// Admin implies Write implies Read on the same pattern.
type Action byte

const (
	ActionRead Action = iota
	ActionWrite
	ActionAdmin
)

// Dominates reports whether a held action is sufficient to satisfy a
// requested action (admin >= write >= read).
func (held Action) Dominates(requested Action) bool {
	return held >= requested
}
