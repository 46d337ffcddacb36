package economy

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/schema"
	"github.com/itsthedevman/esm-arma/internal/store"
)

var (
	rewardCodeRE = regexp.MustCompile(`^[0-9A-F]{8}$`)
	pinRE        = regexp.MustCompile(`^[0-9]{4}$`)
)

func seedPlayer(f *fixture, uid string) {
	f.mem.Seed(store.Mutation{
		Accounts: []store.Account{{UID: uid}},
		Objects:  []store.Object{{NetID: store.PlayerNetID(uid), Kind: store.ObjectPlayer, OwnerUID: uid}},
	})
}

func grant(t *testing.T, f *fixture, uid string, rtype store.RewardType, classname string, qty, expiresIn int64) (string, string) {
	t.Helper()
	resp := f.call("admin", true, schema.RewardPlayer,
		protocol.String(uid), protocol.String(string(rtype)), protocol.String(classname), protocol.Int(qty), protocol.Int(expiresIn))
	expectCode(t, resp, protocol.CodeOK)
	return resp.Params[1].Str, resp.Params[2].Str
}

func TestNewRewardCodeAndPin(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c := NewRewardCode()
		if !rewardCodeRE.MatchString(c) {
			t.Fatalf("code %q", c)
		}
		seen[c] = true
		p, err := NewPin()
		if err != nil || !pinRE.MatchString(p) {
			t.Fatalf("pin %q err=%v", p, err)
		}
	}
	if len(seen) < 190 {
		t.Fatalf("only %d distinct codes out of 200", len(seen))
	}
}

func TestRewardPlayer_RequiresAdmin(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedPlayer(f, "u1")
	resp := f.call("u1", false, schema.RewardPlayer,
		protocol.String("u1"), protocol.String("respect"), protocol.String(""), protocol.Int(10), protocol.Int(0))
	expectCode(t, resp, protocol.CodeAccessDenied)
	resp = f.call("admin", true, schema.RewardPlayer,
		protocol.String("u1"), protocol.String("tank"), protocol.String(""), protocol.Int(10), protocol.Int(0))
	expectCode(t, resp, protocol.CodeBadRequest)
	resp = f.call("admin", true, schema.RewardPlayer,
		protocol.String("nobody"), protocol.String("respect"), protocol.String(""), protocol.Int(10), protocol.Int(0))
	expectCode(t, resp, protocol.CodeInvalidTarget)
}

func TestRewardPlayer_VehicleGetsPinAndLoadAllLists(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedPlayer(f, "u1")

	code, pin := grant(t, f, "u1", store.RewardVehicle, "B_Quadbike_01_F", 1, 3600)
	if !rewardCodeRE.MatchString(code) || !pinRE.MatchString(pin) {
		t.Fatalf("code=%q pin=%q", code, pin)
	}
	itemCode, itemPin := grant(t, f, "u1", store.RewardClassname, "Exile_Item_Matches", 2, 0)
	if itemPin != "" {
		t.Fatalf("item reward got pin %q", itemPin)
	}

	resp := f.call("u1", false, schema.RewardLoadAll)
	expectCode(t, resp, protocol.CodeOK)
	rows := resp.Params[1].Items
	if len(rows) != 2 {
		t.Fatalf("rows=%v", rows)
	}
	byCode := map[string][]any{}
	for _, r := range rows {
		row := r.([]any)
		byCode[row[0].(string)] = row
	}
	if row := byCode[code]; row == nil || row[1] != "vehicle" || row[4] != f.now.Add(time.Hour).Unix() {
		t.Fatalf("vehicle row=%v", row)
	}
	if row := byCode[itemCode]; row == nil || row[3] != int64(2) || row[4] != int64(0) {
		t.Fatalf("item row=%v", row)
	}
	f.audit.Close()
	if f.sink.count(audit.KindRewardPlayer) != 2 {
		t.Fatalf("reward audits=%d", f.sink.count(audit.KindRewardPlayer))
	}
}

func TestRewardRedeemItem_OnlyOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedPlayer(f, "u1")
	code, _ := grant(t, f, "u1", store.RewardClassname, "Exile_Item_Matches", 3, 0)

	resp := f.call("u1", false, schema.RewardRedeemItem, protocol.String(code), protocol.String(ContainerInventory), protocol.String(""))
	expectCode(t, resp, protocol.CodeOK)
	if resp.Params[3].Str != "Exile_Item_Matches" || scalarAt(t, resp, 4) != 3 || scalarAt(t, resp, 5) != 0 {
		t.Fatalf("params=%v", resp.Params)
	}
	applies := f.mem.Applies()

	resp = f.call("u1", false, schema.RewardRedeemItem, protocol.String(code), protocol.String(ContainerInventory), protocol.String(""))
	expectCode(t, resp, protocol.CodeAlreadyRedeemed)
	if f.mem.Applies() != applies {
		t.Fatalf("second redemption wrote to the store")
	}
	if items := f.mem.Items(store.PlayerNetID("u1")); len(items) != 1 || items[0].Quantity != 3 {
		t.Fatalf("items=%v", items)
	}
}

func TestRewardRedeemItem_PoptabsAndRespect(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedPlayer(f, "u1")
	lockerCode, _ := grant(t, f, "u1", store.RewardLockerPoptabs, "", 500, 0)
	respectCode, _ := grant(t, f, "u1", store.RewardRespect, "", 25, 0)

	for _, code := range []string{lockerCode, respectCode} {
		resp := f.call("u1", false, schema.RewardRedeemItem, protocol.String(code), protocol.String(ContainerInventory), protocol.String(""))
		expectCode(t, resp, protocol.CodeOK)
	}
	if a := f.account(t, "u1"); a.Locker != 500 || a.Respect != 25 {
		t.Fatalf("account=%+v", a)
	}
}

func TestRewardRedeemItem_Rejections(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedPlayer(f, "u1")
	seedPlayer(f, "u2")
	code, _ := grant(t, f, "u1", store.RewardClassname, "Exile_Item_Rope", 1, 0)
	f.mem.Seed(store.Mutation{
		Rewards: []store.Reward{{Code: "OLD00001", OwnerUID: "u1", Type: store.RewardRespect, Quantity: 1, ExpiresAt: f.now.Add(-time.Minute)}},
		Objects: []store.Object{{NetID: "vehicle:99", Kind: store.ObjectVehicle, OwnerUID: "u2"}},
	})

	redeem := func(uid, code, ctype, netID string) protocol.Code {
		return f.call(uid, false, schema.RewardRedeemItem, protocol.String(code), protocol.String(ctype), protocol.String(netID)).Code
	}
	cases := []struct {
		name                    string
		uid, code, ctype, netID string
		want                    protocol.Code
	}{
		{"unknown code", "u1", "FFFFFFFF", ContainerInventory, "", protocol.CodeInvalidRedemptionCode},
		{"foreign code", "u2", code, ContainerInventory, "", protocol.CodeInvalidRedemptionCode},
		{"expired", "u1", "OLD00001", ContainerInventory, "", protocol.CodeInvalidRedemptionCode},
		{"bad container type", "u1", code, "backpack", "", protocol.CodeBadRequest},
		{"someone else's inventory", "u1", code, ContainerInventory, store.PlayerNetID("u2"), protocol.CodeUnresolvedReference},
		{"missing vehicle", "u1", code, ContainerVehicle, "vehicle:404", protocol.CodeUnresolvedReference},
		{"player is not a vehicle", "u1", code, ContainerVehicle, store.PlayerNetID("u1"), protocol.CodeUnresolvedReference},
	}
	for _, tc := range cases {
		if got := redeem(tc.uid, tc.code, tc.ctype, tc.netID); got != tc.want {
			t.Fatalf("%s: code=%v want %v", tc.name, got, tc.want)
		}
	}

	resp := f.call("u1", false, schema.RewardRedeemItem, protocol.String(code), protocol.String(ContainerVehicle), protocol.String("vehicle:99"))
	expectCode(t, resp, protocol.CodeOK)
	if scalarAt(t, resp, 5) != 1 || resp.Params[6].Str != "vehicle:99" || len(f.mem.Items("vehicle:99")) != 1 {
		t.Fatalf("params=%v", resp.Params)
	}
}

func TestRewardRedeemVehicle_Pin(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedPlayer(f, "u1")
	code, pin := grant(t, f, "u1", store.RewardVehicle, "B_Quadbike_01_F", 1, 0)
	wrong := "0000"
	if pin == wrong {
		wrong = "1111"
	}

	resp := f.call("u1", false, schema.RewardRedeemVehicle, protocol.String("B_Quadbike_01_F"), protocol.String(wrong))
	expectCode(t, resp, protocol.CodeInvalidPin)
	r, err := f.mem.Reward(context.Background(), code)
	if err != nil || r.Redeemed() {
		t.Fatalf("reward after wrong pin: %+v err=%v", r, err)
	}

	resp = f.call("u1", false, schema.RewardRedeemVehicle, protocol.String("B_Heli_01_F"), protocol.String(pin))
	expectCode(t, resp, protocol.CodeInvalidRedemptionCode)

	resp = f.call("u1", false, schema.RewardRedeemVehicle, protocol.String("B_Quadbike_01_F"), protocol.String(pin))
	expectCode(t, resp, protocol.CodeOK)
	netID := resp.Params[3].Str
	if resp.Params[1].Str != code || netID == "" {
		t.Fatalf("params=%v", resp.Params)
	}
	obj, err := f.mem.Object(context.Background(), netID)
	if err != nil || obj.Kind != store.ObjectVehicle || obj.OwnerUID != "u1" {
		t.Fatalf("vehicle=%+v err=%v", obj, err)
	}

	resp = f.call("u1", false, schema.RewardRedeemVehicle, protocol.String("B_Quadbike_01_F"), protocol.String(pin))
	expectCode(t, resp, protocol.CodeInvalidRedemptionCode)
}

func TestRewardRedeemItem_RefusesVehicleRewards(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedPlayer(f, "u1")
	code, _ := grant(t, f, "u1", store.RewardVehicle, "B_Quadbike_01_F", 1, 0)
	resp := f.call("u1", false, schema.RewardRedeemItem, protocol.String(code), protocol.String(ContainerInventory), protocol.String(""))
	expectCode(t, resp, protocol.CodeBadRequest)
}
