package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeParams_KindsFollowJSON(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`"T1"`),
		json.RawMessage(`250`),
		json.RawMessage(`true`),
		json.RawMessage(`[1,"a"]`),
		json.RawMessage(`{"net_id":"2:41"}`),
		json.RawMessage(`null`),
	}
	vals, err := DecodeParams(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []ParamType{ParamString, ParamScalar, ParamBool, ParamArray, ParamObject, ""}
	for i, v := range vals {
		if v.Type != want[i] {
			t.Fatalf("param %d: got %q want %q", i, v.Type, want[i])
		}
	}
	if vals[4].Ref != "2:41" {
		t.Fatalf("object ref: %q", vals[4].Ref)
	}
}

func TestDecodeParams_NumericStringStaysString(t *testing.T) {
	vals, err := DecodeParams([]json.RawMessage{json.RawMessage(`"100"`)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if vals[0].Type != ParamString {
		t.Fatalf("numeric string must not be coerced: %q", vals[0].Type)
	}
}

func TestValueInteger(t *testing.T) {
	if n, ok := Scalar(42).Integer(); !ok || n != 42 {
		t.Fatalf("expected 42, got %d %v", n, ok)
	}
	if _, ok := Scalar(1.5).Integer(); ok {
		t.Fatalf("fractional scalar must not be an integer")
	}
	if _, ok := String("42").Integer(); ok {
		t.Fatalf("string must not be an integer")
	}
}

func TestZeroEncodesDeclaredKind(t *testing.T) {
	for _, pt := range []ParamType{ParamString, ParamScalar, ParamBool, ParamArray, ParamObject} {
		b, err := json.Marshal(Zero(pt))
		if err != nil {
			t.Fatalf("marshal %s: %v", pt, err)
		}
		var back Value
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", pt, err)
		}
		if back.Type != pt {
			t.Fatalf("zero %s came back as %q (%s)", pt, back.Type, b)
		}
	}
}
