package dispatch

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/schema"
)

type okResolver struct{}

func (okResolver) Resolve(context.Context, string) (bool, error) { return true, nil }

func echoDefaults(reg *schema.Registry) Handler {
	return func(_ context.Context, c Call) Result {
		m, _ := reg.Response(c.Name)
		return OK(m.Defaults()[1:]...)
	}
}

func TestDispatch_UnknownMessageRunsNoHandler(t *testing.T) {
	reg := schema.Default()
	d := New(reg, Options{})
	var calls atomic.Int64
	for _, name := range reg.Requests() {
		if err := d.Register(name, func(context.Context, Call) Result { calls.Add(1); return OK() }); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	resp := d.Dispatch(context.Background(), Request{ID: "1", Name: "stealEverythingRequest"})
	if resp.Code != protocol.CodeUnknownMessage {
		t.Fatalf("code=%v", resp.Code)
	}
	if resp.Name != "stealEverythingResponse" || len(resp.Params) != 1 {
		t.Fatalf("resp=%+v", resp)
	}
	if calls.Load() != 0 {
		t.Fatalf("handler invoked %d times", calls.Load())
	}
	if d.Stats().Rejected != 1 {
		t.Fatalf("stats=%+v", d.Stats())
	}
}

func TestDispatch_SchemaFailureUsesPairedDefaults(t *testing.T) {
	reg := schema.Default()
	d := New(reg, Options{})
	var calls atomic.Int64
	_ = d.Register(schema.RewardRedeemVehicle, func(context.Context, Call) Result { calls.Add(1); return OK() })

	resp := d.Dispatch(context.Background(), Request{
		ID:     "2",
		Name:   schema.RewardRedeemVehicle,
		Params: []protocol.Value{protocol.String("Exile_Car_Offroad"), protocol.Scalar(1234)},
	})
	if resp.Code != protocol.CodeTypeMismatch || calls.Load() != 0 {
		t.Fatalf("code=%v calls=%d", resp.Code, calls.Load())
	}
	if err := reg.ValidateResponse(resp.Name, resp.Params); err != nil {
		t.Fatalf("failure response not schema-conformant: %v", err)
	}
	if n, _ := resp.Params[0].Integer(); n != int64(protocol.CodeTypeMismatch) {
		t.Fatalf("params[0]=%v", resp.Params[0])
	}
}

func TestDispatch_DeclaredButUnregistered(t *testing.T) {
	d := New(schema.Default(), Options{})
	resp := d.Dispatch(context.Background(), Request{Name: schema.RewardLoadAll})
	if resp.Code != protocol.CodeNotImplemented {
		t.Fatalf("code=%v", resp.Code)
	}
	if len(resp.Params) != 2 || resp.Params[1].Type != protocol.ParamArray {
		t.Fatalf("params=%v", resp.Params)
	}
}

func TestDispatch_RoundTripEveryPair(t *testing.T) {
	reg := schema.Default()
	d := New(reg, Options{Resolver: okResolver{}})
	for _, name := range reg.Requests() {
		if err := d.Register(name, echoDefaults(reg)); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	for _, name := range reg.Requests() {
		m, _ := reg.Lookup(name)
		params := m.Defaults()
		for i, p := range m.Params {
			if p.Type == protocol.ParamObject {
				params[i] = protocol.Object("obj:1")
			}
		}
		resp := d.Dispatch(context.Background(), Request{ID: name, Name: name, Params: params})
		if resp.Code != protocol.CodeOK {
			t.Fatalf("%s: code=%v", name, resp.Code)
		}

		raw, err := protocol.EncodeParams(resp.Params)
		if err != nil {
			t.Fatalf("%s: encode: %v", name, err)
		}
		b, _ := json.Marshal(raw)
		var back []json.RawMessage
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("%s: unmarshal: %v", name, err)
		}
		decoded, err := protocol.DecodeParams(back)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		want, _ := reg.Response(name)
		if len(decoded) != len(want.Params) {
			t.Fatalf("%s: got %d params want %d", name, len(decoded), len(want.Params))
		}
		for i, p := range want.Params {
			if decoded[i].Type != p.Type {
				t.Fatalf("%s: param %d (%s) got %s want %s", name, i, p.Name, decoded[i].Type, p.Type)
			}
		}
	}
}

func TestDispatch_RetriesTransient(t *testing.T) {
	reg := schema.Default()
	d := New(reg, Options{Retries: 2})
	var calls atomic.Int64
	_ = d.Register(schema.RewardLoadAll, func(context.Context, Call) Result {
		if calls.Add(1) < 3 {
			return Fail(protocol.CodeTransient)
		}
		return OK(protocol.Array())
	})
	resp := d.Dispatch(context.Background(), Request{Name: schema.RewardLoadAll})
	if resp.Code != protocol.CodeOK || calls.Load() != 3 {
		t.Fatalf("code=%v calls=%d", resp.Code, calls.Load())
	}
	if d.Stats().Retried != 2 {
		t.Fatalf("stats=%+v", d.Stats())
	}

	calls.Store(-10)
	resp = d.Dispatch(context.Background(), Request{Name: schema.RewardLoadAll})
	if resp.Code != protocol.CodeTransient {
		t.Fatalf("exhausted retries must surface transient, got %v", resp.Code)
	}
}

func TestDispatch_NonConformantOutputIsInternal(t *testing.T) {
	reg := schema.Default()
	d := New(reg, Options{})
	_ = d.Register(schema.Exec, func(context.Context, Call) Result { return OK(protocol.Scalar(1)) })
	_ = d.Register(schema.RewardLoadAll, func(context.Context, Call) Result { panic("boom") })

	resp := d.Dispatch(context.Background(), Request{Name: schema.Exec, Params: []protocol.Value{protocol.String("x"), protocol.String("server")}})
	if resp.Code != protocol.CodeInternal || resp.Params[1].Type != protocol.ParamString {
		t.Fatalf("resp=%+v", resp)
	}
	resp = d.Dispatch(context.Background(), Request{Name: schema.RewardLoadAll})
	if resp.Code != protocol.CodeInternal {
		t.Fatalf("panic must become internal, got %v", resp.Code)
	}
}

func TestDispatch_FailureKeepsConformingValues(t *testing.T) {
	reg := schema.Default()
	d := New(reg, Options{})
	_ = d.Register(schema.PayTerritory, func(context.Context, Call) Result {
		return Fail(protocol.CodeInsufficientFunds, protocol.String("T1"), protocol.String("oops"))
	})
	resp := d.Dispatch(context.Background(), Request{Name: schema.PayTerritory, Params: []protocol.Value{protocol.String("T1")}})
	if resp.Code != protocol.CodeInsufficientFunds {
		t.Fatalf("code=%v", resp.Code)
	}
	if resp.Params[1].Str != "T1" || resp.Params[2].Type != protocol.ParamScalar {
		t.Fatalf("params=%v", resp.Params)
	}
}

func TestRegister_RejectsUndeclared(t *testing.T) {
	d := New(schema.Default(), Options{})
	if err := d.Register("payTerritoryResponse", func(context.Context, Call) Result { return OK() }); err == nil {
		t.Fatalf("expected response name rejected")
	}
	if err := d.Register(schema.Gamble, func(context.Context, Call) Result { return OK() }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Register(schema.Gamble, func(context.Context, Call) Result { return OK() }); err == nil {
		t.Fatalf("expected duplicate rejected")
	}
}
