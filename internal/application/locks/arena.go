// Package locks provides scoped per-key mutual exclusion.
package locks

import "sync"

// Key identifies one contract version.
type Key struct {
	ContractID string
	Version    string
}

// Arena hands out at most one Guard per key at a time. Acquisition never
// blocks: a held key is reported to the caller instead.
type Arena struct {
	mu   sync.Mutex
	held map[Key]struct{}
}

func NewArena() *Arena {
	return &Arena{held: make(map[Key]struct{})}
}

// TryAcquire takes k if nobody holds it.
func (a *Arena) TryAcquire(k Key) (*Guard, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.held[k]; ok {
		return nil, false
	}
	a.held[k] = struct{}{}
	return &Guard{arena: a, key: k}, true
}

// Held reports whether k is currently taken.
func (a *Arena) Held(k Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.held[k]
	return ok
}

// Len is the number of keys held.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}

// Guard is the proof of holding a key. Release is idempotent.
type Guard struct {
	arena *Arena
	key   Key
	once  sync.Once
}

func (g *Guard) Key() Key { return g.key }

func (g *Guard) Release() {
	g.once.Do(func() {
		g.arena.mu.Lock()
		delete(g.arena.held, g.key)
		g.arena.mu.Unlock()
	})
}
