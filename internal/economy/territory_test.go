package economy

import (
	"context"
	"sync"
	"testing"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/dispatch"
	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/schema"
	"github.com/itsthedevman/esm-arma/internal/store"
)

func seedTerritory(f *fixture, locker int64) {
	f.mem.Seed(store.Mutation{
		Accounts: []store.Account{
			{UID: "owner", Locker: locker},
			{UID: "mod", Locker: locker},
			{UID: "member", Locker: locker},
			{UID: "outsider", Locker: locker},
		},
		Territories: []store.Territory{{
			ID:             "T1",
			Name:           "Castle",
			FlagNetID:      "flag:1",
			OwnerUID:       "owner",
			Level:          2,
			ObjectCount:    10,
			PaymentCounter: 3,
			Members:        map[string]store.Role{"mod": store.RoleModerator, "member": store.RoleMember},
		}},
		Objects: []store.Object{{NetID: "flag:1", Kind: store.ObjectFlag, TerritoryID: "T1"}},
	})
}

func TestPayTerritory_ChargesBasePlusTax(t *testing.T) {
	f := newFixture(t, fixtureOpts{settings: map[string]any{"taxes_territory_payment": 10}})
	seedTerritory(f, 1000)

	resp := f.call("member", false, schema.PayTerritory, protocol.String("T1"))
	expectCode(t, resp, protocol.CodeOK)
	// base = level 2 * 10 objects * 10 per object = 200, tax 10% = 20
	if scalarAt(t, resp, 2) != 220 || scalarAt(t, resp, 3) != 20 || scalarAt(t, resp, 4) != 780 {
		t.Fatalf("params=%v", resp.Params)
	}
	tr := f.territory(t, "T1")
	if tr.Balance != 200 || tr.PaymentCounter != 0 || !tr.LastPaidAt.Equal(f.now) {
		t.Fatalf("territory=%+v", tr)
	}
	if a := f.account(t, "member"); a.Locker != 780 {
		t.Fatalf("locker=%d", a.Locker)
	}
	f.audit.Close()
	if f.sink.count(audit.KindPayTerritory) != 1 {
		t.Fatalf("expected one pay audit")
	}
}

func TestPayTerritory_InsufficientFundsMutatesNothing(t *testing.T) {
	f := newFixture(t, fixtureOpts{settings: map[string]any{"taxes_territory_payment": 10}})
	seedTerritory(f, 219)
	before := f.mem.Applies()

	resp := f.call("member", false, schema.PayTerritory, protocol.String("T1"))
	expectCode(t, resp, protocol.CodeInsufficientFunds)
	if f.mem.Applies() != before {
		t.Fatalf("store mutated on insufficient funds")
	}
	if a := f.account(t, "member"); a.Locker != 219 {
		t.Fatalf("payer locker changed: %d", a.Locker)
	}
	if tr := f.territory(t, "T1"); tr.Balance != 0 || tr.PaymentCounter != 3 {
		t.Fatalf("territory changed: %+v", tr)
	}
	if err := f.d.Registry().ValidateResponse(resp.Name, resp.Params); err != nil {
		t.Fatalf("failure response not conformant: %v", err)
	}
}

func TestPayTerritory_AccessAndTargets(t *testing.T) {
	f := newFixture(t, fixtureOpts{settings: map[string]any{"territory_admin_uids": []any{"outsider"}}})
	seedTerritory(f, 1000)
	f.mem.Seed(store.Mutation{Accounts: []store.Account{{UID: "stranger", Locker: 1000}}})

	expectCode(t, f.call("stranger", false, schema.PayTerritory, protocol.String("T1")), protocol.CodeAccessDenied)
	expectCode(t, f.call("outsider", false, schema.PayTerritory, protocol.String("T1")), protocol.CodeOK)
	expectCode(t, f.call("owner", false, schema.PayTerritory, protocol.String("T404")), protocol.CodeInvalidTarget)
}

func TestUpgradeTerritory(t *testing.T) {
	f := newFixture(t, fixtureOpts{settings: map[string]any{"taxes_territory_upgrade": 25}})
	seedTerritory(f, 5000)

	expectCode(t, f.call("member", false, schema.UpgradeTerritory, protocol.String("T1")), protocol.CodeAccessDenied)

	resp := f.call("mod", false, schema.UpgradeTerritory, protocol.String("T1"))
	expectCode(t, resp, protocol.CodeOK)
	// level 2 -> 3 costs 2000 + 25% tax
	if scalarAt(t, resp, 2) != 3 || scalarAt(t, resp, 3) != 2500 || scalarAt(t, resp, 4) != 500 || scalarAt(t, resp, 5) != 2500 {
		t.Fatalf("params=%v", resp.Params)
	}
	if tr := f.territory(t, "T1"); tr.Level != 3 || tr.Balance != 2000 {
		t.Fatalf("territory=%+v", tr)
	}
	expectCode(t, f.call("owner", false, schema.UpgradeTerritory, protocol.String("T1")), protocol.CodeMaxLevel)
}

func TestUpgradeTerritory_InsufficientFunds(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedTerritory(f, 1999)
	before := f.mem.Applies()
	expectCode(t, f.call("owner", false, schema.UpgradeTerritory, protocol.String("T1")), protocol.CodeInsufficientFunds)
	if f.mem.Applies() != before {
		t.Fatalf("store mutated")
	}
}

func TestConcurrentPayAndUpgradeAreSerializable(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, fixtureOpts{})
		f.mem.Seed(store.Mutation{
			Accounts: []store.Account{{UID: "owner", Locker: 100000}},
			Territories: []store.Territory{{
				ID: "T1", OwnerUID: "owner", Level: 1, ObjectCount: 10, Members: map[string]store.Role{},
			}},
		})

		var wg sync.WaitGroup
		codes := make([]protocol.Code, 2)
		for j, name := range []string{schema.PayTerritory, schema.UpgradeTerritory} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				codes[j] = f.call("owner", false, name, protocol.String("T1")).Code
			}()
		}
		wg.Wait()
		if codes[0] != protocol.CodeOK || codes[1] != protocol.CodeOK {
			t.Fatalf("iteration %d: codes=%v", i, codes)
		}

		tr := f.territory(t, "T1")
		a := f.account(t, "owner")
		// pay then upgrade: 100 + 1000; upgrade then pay: 1000 + 200
		if tr.Balance != 1100 && tr.Balance != 1200 {
			t.Fatalf("iteration %d: balance %d matches no sequential order", i, tr.Balance)
		}
		if a.Locker+tr.Balance != 100000 || tr.Level != 2 {
			t.Fatalf("iteration %d: lost update locker=%d balance=%d level=%d", i, a.Locker, tr.Balance, tr.Level)
		}
	}
}

func TestPromoteDemote(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedTerritory(f, 0)
	expectCode(t, f.call("mod", false, schema.PromotePlayer, protocol.String("T1"), protocol.String("member")), protocol.CodeAccessDenied)
	expectCode(t, f.call("owner", false, schema.PromotePlayer, protocol.String("T1"), protocol.String("outsider")), protocol.CodeInvalidTarget)

	resp := f.call("owner", false, schema.PromotePlayer, protocol.String("T1"), protocol.String("member"))
	expectCode(t, resp, protocol.CodeOK)
	if resp.Params[3].Str != string(store.RoleModerator) {
		t.Fatalf("role=%v", resp.Params[3])
	}

	resp = f.call("owner", false, schema.PromotePlayer, protocol.String("T1"), protocol.String("owner"))
	expectCode(t, resp, protocol.CodeOK)
	if resp.Params[3].Str != string(store.RoleOwner) {
		t.Fatalf("promoting the owner must be a no-op, got %v", resp.Params[3])
	}

	expectCode(t, f.call("owner", false, schema.DemotePlayer, protocol.String("T1"), protocol.String("owner")), protocol.CodeInvalidTarget)

	resp = f.call("owner", false, schema.DemotePlayer, protocol.String("T1"), protocol.String("member"))
	expectCode(t, resp, protocol.CodeOK)
	resp = f.call("owner", false, schema.DemotePlayer, protocol.String("T1"), protocol.String("member"))
	expectCode(t, resp, protocol.CodeOK)
	if resp.Params[3].Str != string(store.RoleMember) {
		t.Fatalf("demoting a member must be a no-op, got %v", resp.Params[3])
	}

	// moderator to owner hands the territory over
	resp = f.call("owner", false, schema.PromotePlayer, protocol.String("T1"), protocol.String("mod"))
	expectCode(t, resp, protocol.CodeOK)
	tr := f.territory(t, "T1")
	if tr.OwnerUID != "mod" {
		t.Fatalf("owner=%s", tr.OwnerUID)
	}
	if r, _ := tr.Role("owner"); r != store.RoleModerator {
		t.Fatalf("previous owner role=%s", r)
	}
	expectCode(t, f.call("owner", false, schema.DemotePlayer, protocol.String("T1"), protocol.String("member")), protocol.CodeAccessDenied)
}

func TestAddRemovePlayer(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedTerritory(f, 0)

	expectCode(t, f.call("member", false, schema.AddPlayerToTerritory, protocol.String("T1"), protocol.String("outsider")), protocol.CodeAccessDenied)
	expectCode(t, f.call("mod", false, schema.AddPlayerToTerritory, protocol.String("T1"), protocol.String("ghost")), protocol.CodeInvalidTarget)
	resp := f.call("mod", false, schema.AddPlayerToTerritory, protocol.String("T1"), protocol.String("outsider"))
	expectCode(t, resp, protocol.CodeOK)
	if r, ok := f.territory(t, "T1").Role("outsider"); !ok || r != store.RoleMember {
		t.Fatalf("outsider role=%s %v", r, ok)
	}
	before := f.mem.Applies()
	expectCode(t, f.call("mod", false, schema.AddPlayerToTerritory, protocol.String("T1"), protocol.String("outsider")), protocol.CodeOK)
	if f.mem.Applies() != before {
		t.Fatalf("re-adding a member must not mutate")
	}

	expectCode(t, f.call("member", false, schema.RemovePlayerFromTerritory, protocol.String("T1"), protocol.String("outsider")), protocol.CodeAccessDenied)
	expectCode(t, f.call("mod", false, schema.RemovePlayerFromTerritory, protocol.String("T1"), protocol.String("owner")), protocol.CodeInvalidTarget)
	expectCode(t, f.call("mod", false, schema.RemovePlayerFromTerritory, protocol.String("T1"), protocol.String("outsider")), protocol.CodeOK)
	expectCode(t, f.call("member", false, schema.RemovePlayerFromTerritory, protocol.String("T1"), protocol.String("member")), protocol.CodeOK)
	expectCode(t, f.call("owner", false, schema.RemovePlayerFromTerritory, protocol.String("T1"), protocol.String("mod")), protocol.CodeOK)

	tr := f.territory(t, "T1")
	if got := tr.MemberUIDs(); len(got) != 1 || got[0] != "owner" {
		t.Fatalf("members=%v", got)
	}
}

func TestFlagStealStarted_NotifiesMembers(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedTerritory(f, 0)
	f.mem.Seed(store.Mutation{Objects: []store.Object{{NetID: "veh:1", Kind: store.ObjectVehicle}}})

	resp := f.call("thief", false, schema.FlagStealStarted, protocol.Object("flag:1"))
	expectCode(t, resp, protocol.CodeOK)
	if resp.Params[1].Str != "T1" || scalarAt(t, resp, 2) != 3 {
		t.Fatalf("params=%v", resp.Params)
	}
	if n := f.mem.Notifications("mod"); len(n) != 1 || n[0].Title != "Flag Steal Started!" {
		t.Fatalf("notifications=%+v", n)
	}

	expectCode(t, f.call("thief", false, schema.FlagStealStarted, protocol.Object("flag:9")), protocol.CodeUnresolvedReference)
	expectCode(t, f.call("thief", false, schema.FlagStealStarted, protocol.Object("veh:1")), protocol.CodeUnresolvedReference)
}

func TestPayTerritory_CompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	seedTerritory(f, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := f.d.Dispatch(ctx, dispatch.Request{
		ID:       "t",
		Name:     schema.PayTerritory,
		Identity: dispatch.Identity{UID: "member", SessionID: "s-member"},
		Params:   []protocol.Value{protocol.String("T1")},
	})
	expectCode(t, resp, protocol.CodeOK)
	if a := f.account(t, "member"); a.Locker != 800 {
		t.Fatalf("locker=%d want=800", a.Locker)
	}
	if tr := f.territory(t, "T1"); tr.Balance != 200 || tr.PaymentCounter != 0 {
		t.Fatalf("territory=%+v", tr)
	}
}
