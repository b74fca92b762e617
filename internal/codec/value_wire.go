package codec

import "github.com/lumencanvas/clasp/internal/clasptype"

// wireValue is the MessagePack-friendly projection of clasptype.Value: it
// keeps an explicit Kind tag so Int/Float/Null stay unambiguous across
// msgpack's own type coercion.
type wireValue struct {
	Kind  byte                 `msgpack:"k"`
	Bool  bool                 `msgpack:"b,omitempty"`
	Int   int64                `msgpack:"i,omitempty"`
	Float float64              `msgpack:"f,omitempty"`
	Str   string               `msgpack:"s,omitempty"`
	Bytes []byte               `msgpack:"y,omitempty"`
	List  []wireValue          `msgpack:"l,omitempty"`
	Map   map[string]wireValue `msgpack:"m,omitempty"`
}

func toWireValue(v clasptype.Value) wireValue {
	w := wireValue{Kind: byte(v.Kind), Bool: v.Bool, Int: v.Int, Float: v.Float, Str: v.Str, Bytes: v.Bytes}
	if v.List != nil {
		w.List = make([]wireValue, len(v.List))
		for i, e := range v.List {
			w.List[i] = toWireValue(e)
		}
	}
	if v.Map != nil {
		w.Map = make(map[string]wireValue, len(v.Map))
		for k, e := range v.Map {
			w.Map[k] = toWireValue(e)
		}
	}
	return w
}

func fromWireValue(w wireValue) clasptype.Value {
	v := clasptype.Value{Kind: clasptype.Kind(w.Kind), Bool: w.Bool, Int: w.Int, Float: w.Float, Str: w.Str, Bytes: w.Bytes}
	if w.List != nil {
		v.List = make([]clasptype.Value, len(w.List))
		for i, e := range w.List {
			v.List[i] = fromWireValue(e)
		}
	}
	if w.Map != nil {
		v.Map = make(map[string]clasptype.Value, len(w.Map))
		for k, e := range w.Map {
			v.Map[k] = fromWireValue(e)
		}
	}
	return v
}

func toWireParam(p clasptype.ParamValue) wireParamValue {
	return wireParamValue{
		Address: p.Address, Value: toWireValue(p.Value), Revision: p.Revision,
		Writer: p.Writer, Timestamp: p.Timestamp,
	}
}

func fromWireParam(w wireParamValue) clasptype.ParamValue {
	return clasptype.ParamValue{
		Address: w.Address, Value: fromWireValue(w.Value), Revision: w.Revision,
		Writer: w.Writer, Timestamp: w.Timestamp,
	}
}

type wireParamValue struct {
	Address   string    `msgpack:"addr"`
	Value     wireValue `msgpack:"val"`
	Revision  uint64    `msgpack:"rev"`
	Writer    string    `msgpack:"writer"`
	Timestamp int64     `msgpack:"ts"`
}
