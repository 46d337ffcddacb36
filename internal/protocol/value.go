package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

type ParamType string

const (
	ParamString ParamType = "STRING"
	ParamScalar ParamType = "SCALAR"
	ParamObject ParamType = "OBJECT"
	ParamArray  ParamType = "ARRAY"
	ParamBool   ParamType = "BOOL"
)

func (t ParamType) Valid() bool {
	switch t {
	case ParamString, ParamScalar, ParamObject, ParamArray, ParamBool:
		return true
	default:
		return false
	}
}

// Value is one positional wire parameter. Exactly one payload field is
// meaningful, selected by Type. A zero Value (Type == "") is what a JSON
// null decodes to and never matches a declared ParamType.
type Value struct {
	Type  ParamType
	Str   string
	Num   float64
	Bool  bool
	Ref   string // OBJECT: in-session net id
	Items []any  // ARRAY: decoded JSON elements
}

func String(s string) Value  { return Value{Type: ParamString, Str: s} }
func Scalar(n float64) Value { return Value{Type: ParamScalar, Num: n} }
func Int(n int64) Value      { return Value{Type: ParamScalar, Num: float64(n)} }
func Bool(b bool) Value      { return Value{Type: ParamBool, Bool: b} }
func Object(ref string) Value {
	return Value{Type: ParamObject, Ref: ref}
}
func Array(items ...any) Value {
	if items == nil {
		items = []any{}
	}
	return Value{Type: ParamArray, Items: items}
}

// Zero returns the typed default used to pad failure responses.
func Zero(t ParamType) Value {
	switch t {
	case ParamString:
		return String("")
	case ParamScalar:
		return Scalar(0)
	case ParamBool:
		return Bool(false)
	case ParamObject:
		return Object("")
	case ParamArray:
		return Array()
	default:
		return Value{}
	}
}

// Integer reports the scalar as an int64 when it has no fractional part.
func (v Value) Integer() (int64, bool) {
	if v.Type != ParamScalar || math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
		return 0, false
	}
	if v.Num != math.Trunc(v.Num) || math.Abs(v.Num) > 1<<53 {
		return 0, false
	}
	return int64(v.Num), true
}

func (v Value) String() string {
	switch v.Type {
	case ParamString:
		return fmt.Sprintf("%q", v.Str)
	case ParamScalar:
		return fmt.Sprintf("%g", v.Num)
	case ParamBool:
		return fmt.Sprintf("%t", v.Bool)
	case ParamObject:
		return "obj:" + v.Ref
	case ParamArray:
		return fmt.Sprintf("%v", v.Items)
	default:
		return "nil"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case ParamString:
		return json.Marshal(v.Str)
	case ParamScalar:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return nil, fmt.Errorf("scalar not representable: %v", v.Num)
		}
		return json.Marshal(v.Num)
	case ParamBool:
		return json.Marshal(v.Bool)
	case ParamObject:
		return json.Marshal(map[string]string{"net_id": v.Ref})
	case ParamArray:
		items := v.Items
		if items == nil {
			items = []any{}
		}
		return json.Marshal(items)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*v = FromJSON(raw)
	return nil
}

// FromJSON maps an already-decoded JSON value onto a Value by its JSON kind.
func FromJSON(raw any) Value {
	switch x := raw.(type) {
	case string:
		return String(x)
	case float64:
		return Scalar(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}
		}
		return Scalar(f)
	case bool:
		return Bool(x)
	case []any:
		return Array(x...)
	case map[string]any:
		ref, _ := x["net_id"].(string)
		return Object(ref)
	default:
		return Value{}
	}
}
