package schema

import (
	"encoding/json"
	"testing"

	"github.com/itsthedevman/esm-arma/internal/protocol"
)

func TestCompile_ValidatesSamples(t *testing.T) {
	c, err := Default().Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var frame any
	_ = json.Unmarshal([]byte(`{
	  "type":"REQUEST",
	  "protocol_version":"1.0",
	  "id":"r1",
	  "name":"rewardRedeemVehicleRequest",
	  "params":["Exile_Car_Offroad_Red","1234"]
	}`), &frame)
	if err := c.ValidateFrame(frame); err != nil {
		t.Fatalf("validate frame: %v", err)
	}

	var noID any
	_ = json.Unmarshal([]byte(`{"type":"REQUEST","protocol_version":"1.0","name":"x","params":[]}`), &noID)
	if err := c.ValidateFrame(noID); err == nil {
		t.Fatalf("expected frame without id rejected")
	}

	var params any
	_ = json.Unmarshal([]byte(`[{"net_id":"flag:1"}]`), &params)
	if err := c.ValidateParams(FlagStealStarted, params); err != nil {
		t.Fatalf("validate flag params: %v", err)
	}
	_ = json.Unmarshal([]byte(`["flag:1"]`), &params)
	if err := c.ValidateParams(FlagStealStarted, params); err == nil {
		t.Fatalf("expected string rejected for OBJECT")
	}
	_ = json.Unmarshal([]byte(`["T1", 5]`), &params)
	if err := c.ValidateParams(PayTerritory, params); err == nil {
		t.Fatalf("expected extra positional param rejected")
	}
}

func TestCompile_DefaultsConformForEveryMessage(t *testing.T) {
	r := Default()
	c, err := r.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for _, name := range r.Names() {
		m, _ := r.Lookup(name)
		if err := c.ValidateValues(name, m.Defaults()); err != nil {
			t.Fatalf("%s: defaults do not conform: %v", name, err)
		}
	}
	if err := c.ValidateValues(RewardLoadAll, nil); err != nil {
		t.Fatalf("empty request must conform: %v", err)
	}
	bad := []protocol.Value{protocol.Scalar(0), protocol.Scalar(1)}
	if err := c.ValidateValues("rewardLoadAllResponse", bad); err == nil {
		t.Fatalf("expected scalar rejected for ARRAY")
	}
}
