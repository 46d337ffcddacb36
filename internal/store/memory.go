package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type ExecCall struct {
	Code      string
	ExecuteOn string
}

// Memory is an arena of records addressed by stable id. Reads return
// copies, so callers never share state with the arena.
type Memory struct {
	mu            sync.RWMutex
	accounts      map[string]Account
	territories   map[string]Territory
	rewards       map[string]Reward
	objects       map[string]Object
	items         map[string][]Item
	notifications []Notification
	execs         []ExecCall

	applies   atomic.Int64
	nextNetID atomic.Int64

	hook atomic.Pointer[func(Mutation) error]
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    map[string]Account{},
		territories: map[string]Territory{},
		rewards:     map[string]Reward{},
		objects:     map[string]Object{},
		items:       map[string][]Item{},
	}
}

// SetApplyHook installs fn to run before each Apply. A non-nil error
// aborts the Apply with no change.
func (m *Memory) SetApplyHook(fn func(Mutation) error) {
	if fn == nil {
		m.hook.Store(nil)
		return
	}
	m.hook.Store(&fn)
}

// Applies counts successful Apply calls.
func (m *Memory) Applies() int64 { return m.applies.Load() }

func (m *Memory) Account(ctx context.Context, uid string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[uid]
	if !ok {
		return Account{}, fmt.Errorf("account %s: %w", uid, ErrNotFound)
	}
	return a, nil
}

func (m *Memory) Territory(ctx context.Context, id string) (Territory, error) {
	if err := ctx.Err(); err != nil {
		return Territory{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.territories[id]
	if !ok {
		return Territory{}, fmt.Errorf("territory %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

func (m *Memory) Reward(ctx context.Context, code string) (Reward, error) {
	if err := ctx.Err(); err != nil {
		return Reward{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rewards[code]
	if !ok {
		return Reward{}, fmt.Errorf("reward %s: %w", code, ErrNotFound)
	}
	return r, nil
}

func (m *Memory) Rewards(ctx context.Context, uid string) ([]Reward, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Reward
	for _, r := range m.rewards {
		if r.OwnerUID == uid {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) Object(ctx context.Context, netID string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[netID]
	if !ok {
		return Object{}, fmt.Errorf("object %s: %w", netID, ErrNotFound)
	}
	return o, nil
}

func (m *Memory) Apply(ctx context.Context, mut Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p := m.hook.Load(); p != nil {
		if err := (*p)(mut); err != nil {
			return err
		}
	}
	for _, a := range mut.Accounts {
		if strings.TrimSpace(a.UID) == "" {
			return fmt.Errorf("apply: account with empty uid")
		}
	}
	for _, t := range mut.Territories {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("apply: territory with empty id")
		}
	}
	for _, r := range mut.Rewards {
		if strings.TrimSpace(r.Code) == "" {
			return fmt.Errorf("apply: reward with empty code")
		}
	}
	for _, o := range mut.Objects {
		if strings.TrimSpace(o.NetID) == "" {
			return fmt.Errorf("apply: object with empty net id")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range mut.Accounts {
		m.accounts[a.UID] = a
	}
	for _, t := range mut.Territories {
		m.territories[t.ID] = t.Clone()
	}
	for _, r := range mut.Rewards {
		m.rewards[r.Code] = r
	}
	for _, o := range mut.Objects {
		m.objects[o.NetID] = o
	}
	for _, it := range mut.Items {
		m.items[it.ContainerNetID] = append(m.items[it.ContainerNetID], it)
	}
	m.notifications = append(m.notifications, mut.Notifications...)
	m.applies.Add(1)
	return nil
}

func (m *Memory) SpawnVehicle(ctx context.Context, ownerUID, classname, pin string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	n := m.nextNetID.Add(1)
	return Object{
		NetID:     fmt.Sprintf("vehicle:%d", n),
		Kind:      ObjectVehicle,
		OwnerUID:  ownerUID,
		Classname: classname,
	}, nil
}

func (m *Memory) Execute(ctx context.Context, code, executeOn string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs = append(m.execs, ExecCall{Code: code, ExecuteOn: executeOn})
	return fmt.Sprintf("queued:%d", len(m.execs)), nil
}

// Items returns everything delivered into a container.
func (m *Memory) Items(netID string) []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Item(nil), m.items[netID]...)
}

func (m *Memory) Notifications(uid string) []Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Notification
	for _, n := range m.notifications {
		if n.UID == uid {
			out = append(out, n)
		}
	}
	return out
}

func (m *Memory) Execs() []ExecCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ExecCall(nil), m.execs...)
}

// Seed applies a mutation outside any request, for fixtures and dev data.
func (m *Memory) Seed(mut Mutation) {
	if err := m.Apply(context.Background(), mut); err != nil {
		panic(err)
	}
}
