// Package store defines the authoritative player and territory state the
// economy reads and mutates, and an in-memory implementation of it.
package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrUnavailable = errors.New("store: unavailable")
)

type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleOwner     Role = "owner"
)

// Rank orders roles member < moderator < owner. Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleModerator:
		return 2
	case RoleOwner:
		return 3
	default:
		return 0
	}
}

type Account struct {
	UID     string
	Name    string
	Money   int64
	Locker  int64
	Respect int64
}

type Territory struct {
	ID             string
	Name           string
	FlagNetID      string
	OwnerUID       string
	Level          int64
	ObjectCount    int64
	Balance        int64
	PaymentCounter int64
	LastPaidAt     time.Time
	Members        map[string]Role
}

// Role returns the uid's role. The owner is always reported as RoleOwner.
func (t Territory) Role(uid string) (Role, bool) {
	if uid != "" && uid == t.OwnerUID {
		return RoleOwner, true
	}
	r, ok := t.Members[uid]
	return r, ok
}

// MemberUIDs returns every uid with a role, owner included, sorted.
func (t Territory) MemberUIDs() []string {
	seen := map[string]bool{}
	var out []string
	if t.OwnerUID != "" {
		seen[t.OwnerUID] = true
		out = append(out, t.OwnerUID)
	}
	for uid := range t.Members {
		if !seen[uid] {
			seen[uid] = true
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}

func (t Territory) Clone() Territory {
	m := make(map[string]Role, len(t.Members))
	for k, v := range t.Members {
		m[k] = v
	}
	t.Members = m
	return t
}

type RewardType string

const (
	RewardClassname     RewardType = "classname"
	RewardVehicle       RewardType = "vehicle"
	RewardPlayerPoptabs RewardType = "player_poptabs"
	RewardLockerPoptabs RewardType = "locker_poptabs"
	RewardRespect       RewardType = "respect"
)

func (t RewardType) Valid() bool {
	switch t {
	case RewardClassname, RewardVehicle, RewardPlayerPoptabs, RewardLockerPoptabs, RewardRespect:
		return true
	default:
		return false
	}
}

// Reward is a redemption record owned by one player.
type Reward struct {
	Code          string
	OwnerUID      string
	Type          RewardType
	Classname     string
	Quantity      int64
	Pin           string
	Source        string
	ContainerType string
	VehicleNetID  string
	CreatedAt     time.Time
	ExpiresAt     time.Time // zero never expires
	RedeemedAt    time.Time
}

func (r Reward) Redeemed() bool { return !r.RedeemedAt.IsZero() }

func (r Reward) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

type ObjectKind string

const (
	ObjectPlayer  ObjectKind = "player"
	ObjectVehicle ObjectKind = "vehicle"
	ObjectFlag    ObjectKind = "flag"
)

// PlayerNetID is the net id of a player's own object, used when a request
// names the caller's inventory without a reference.
func PlayerNetID(uid string) string { return "player:" + uid }

// Object is an in-session entity addressed by its net id.
type Object struct {
	NetID       string
	Kind        ObjectKind
	OwnerUID    string
	TerritoryID string
	Classname   string
}

// Item is a delivery of quantity x classname into a container object.
type Item struct {
	ContainerNetID string
	Classname      string
	Quantity       int64
}

type Notification struct {
	UID       string
	Kind      string
	Title     string
	Body      string
	CreatedAt time.Time
}

// Mutation is applied all-or-nothing. Accounts, territories, rewards and
// objects are full-row upserts; items and notifications are appended.
type Mutation struct {
	Accounts      []Account
	Territories   []Territory
	Rewards       []Reward
	Objects       []Object
	Items         []Item
	Notifications []Notification
}

func (m Mutation) Empty() bool {
	return len(m.Accounts) == 0 && len(m.Territories) == 0 && len(m.Rewards) == 0 &&
		len(m.Objects) == 0 && len(m.Items) == 0 && len(m.Notifications) == 0
}

type Store interface {
	Account(ctx context.Context, uid string) (Account, error)
	Territory(ctx context.Context, id string) (Territory, error)
	Reward(ctx context.Context, code string) (Reward, error)
	Rewards(ctx context.Context, uid string) ([]Reward, error)
	Object(ctx context.Context, netID string) (Object, error)
	Apply(ctx context.Context, m Mutation) error
}

// Session allocates in-session entities. The returned object is not
// persisted until it is applied in a Mutation.
type Session interface {
	SpawnVehicle(ctx context.Context, ownerUID, classname, pin string) (Object, error)
}

// Executor runs an administrative code string on the game side.
type Executor interface {
	Execute(ctx context.Context, code, executeOn string) (string, error)
}

// Resolver answers OBJECT references by looking them up in a Store.
type Resolver struct{ Store Store }

func (r Resolver) Resolve(ctx context.Context, netID string) (bool, error) {
	_, err := r.Store.Object(ctx, netID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
