package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_ApplyIsAllOrNothing(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Seed(Mutation{Accounts: []Account{{UID: "u1", Locker: 100}}})

	err := m.Apply(ctx, Mutation{
		Accounts:    []Account{{UID: "u1", Locker: 0}},
		Territories: []Territory{{ID: ""}},
	})
	if err == nil {
		t.Fatalf("expected invalid mutation rejected")
	}
	a, _ := m.Account(ctx, "u1")
	if a.Locker != 100 {
		t.Fatalf("partial apply observed: locker=%d", a.Locker)
	}
}

func TestMemory_HookAbortsApply(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SetApplyHook(func(Mutation) error { return ErrUnavailable })
	if err := m.Apply(ctx, Mutation{Accounts: []Account{{UID: "u1"}}}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := m.Account(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	m.SetApplyHook(nil)
	if err := m.Apply(ctx, Mutation{Accounts: []Account{{UID: "u1"}}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if m.Applies() != 1 {
		t.Fatalf("applies=%d", m.Applies())
	}
}

func TestMemory_TerritoryReadsAreCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Seed(Mutation{Territories: []Territory{{ID: "T1", OwnerUID: "o", Members: map[string]Role{"a": RoleMember}}}})

	tr, _ := m.Territory(ctx, "T1")
	tr.Members["b"] = RoleModerator
	again, _ := m.Territory(ctx, "T1")
	if _, ok := again.Members["b"]; ok {
		t.Fatalf("read aliased arena state")
	}
	if r, ok := again.Role("o"); !ok || r != RoleOwner {
		t.Fatalf("owner role: %v %v", r, ok)
	}
	if got := again.MemberUIDs(); len(got) != 2 || got[0] != "a" || got[1] != "o" {
		t.Fatalf("members: %v", got)
	}
}

func TestMemory_CanceledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Account(ctx, "u1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestResolver(t *testing.T) {
	m := NewMemory()
	m.Seed(Mutation{Objects: []Object{{NetID: "flag:1", Kind: ObjectFlag, TerritoryID: "T1"}}})
	r := Resolver{Store: m}
	ok, err := r.Resolve(context.Background(), "flag:1")
	if err != nil || !ok {
		t.Fatalf("resolve: %v %v", ok, err)
	}
	ok, err = r.Resolve(context.Background(), "flag:2")
	if err != nil || ok {
		t.Fatalf("missing object must resolve false without error: %v %v", ok, err)
	}
}

func TestReward_ExpiryAndRedeemed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := Reward{ExpiresAt: now}
	if !r.Expired(now) || r.Expired(now.Add(-time.Second)) {
		t.Fatalf("expiry boundary")
	}
	if (Reward{}).Expired(now) {
		t.Fatalf("zero expiry must never expire")
	}
	r.RedeemedAt = now
	if !r.Redeemed() {
		t.Fatalf("redeemed")
	}
}

func TestMemory_SpawnAndExecute(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	o1, _ := m.SpawnVehicle(ctx, "u1", "Exile_Car_Hatchback", "1234")
	o2, _ := m.SpawnVehicle(ctx, "u1", "Exile_Car_Hatchback", "1234")
	if o1.NetID == o2.NetID || o1.Kind != ObjectVehicle {
		t.Fatalf("spawn: %+v %+v", o1, o2)
	}
	if _, err := m.Object(ctx, o1.NetID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("spawned vehicle must not exist before apply")
	}
	res, err := m.Execute(ctx, "hint 'hi'", "server")
	if err != nil || res != "queued:1" {
		t.Fatalf("execute: %q %v", res, err)
	}
	if calls := m.Execs(); len(calls) != 1 || calls[0].ExecuteOn != "server" {
		t.Fatalf("execs: %+v", calls)
	}
}
