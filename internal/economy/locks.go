package economy

import (
	"context"
	"sort"
	"sync"
)

func AccountKey(uid string) string  { return "account:" + uid }
func TerritoryKey(id string) string { return "territory:" + id }
func RewardKey(code string) string  { return "reward:" + code }

// Locks serializes work per entity key. Entries exist only while held or
// awaited, so the arena does not grow with the number of entities.
type Locks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocks() *Locks {
	return &Locks{m: map[string]*lockEntry{}}
}

// Lock acquires every key in sorted order. On ctx expiry the keys taken so
// far are released and ctx's error is returned.
func (l *Locks) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = uniqueSorted(keys)
	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}
	for _, k := range keys {
		e := l.acquireRef(k)
		select {
		case e.ch <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			l.dropRef(k)
			release()
			return func() {}, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Locks) acquireRef(k string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.m[k]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.m[k] = e
	}
	e.refs++
	return e
}

func (l *Locks) dropRef(k string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.m[k]
	e.refs--
	if e.refs == 0 {
		delete(l.m, k)
	}
}

func (l *Locks) unlock(k string) {
	l.mu.Lock()
	e := l.m[k]
	l.mu.Unlock()
	<-e.ch
	l.dropRef(k)
}

// Len reports how many keys are currently held or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
