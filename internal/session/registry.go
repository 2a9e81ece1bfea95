package session

import (
	"sort"
	"sync"
	"sync/atomic"
)

type slot struct {
	// op serializes compound operations on one instance
	op sync.Mutex
	mu sync.Mutex
	h  *Handle
	// refs counts Lock holders and waiters
	refs int
	// dead slots are out of the map, callers must load a fresh one
	dead bool
}

// Registry maps instance ids to live handles, at most one per id.
// Locking is per id; unrelated instances never contend. A slot is dropped
// once it holds no handle and nobody waits on its lock.
type Registry struct {
	slots sync.Map // string -> *slot
	n     atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{}
}

// claim returns the live slot of id with s.mu held.
func (r *Registry) claim(id string) *slot {
	for {
		v, _ := r.slots.LoadOrStore(id, &slot{})
		s := v.(*slot)
		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// lookup returns the live slot of id with s.mu held, or nil.
func (r *Registry) lookup(id string) *slot {
	for {
		v, ok := r.slots.Load(id)
		if !ok {
			return nil
		}
		s := v.(*slot)
		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// reap drops s from the map when it is idle. s.mu must be held.
func (r *Registry) reap(id string, s *slot) {
	if s.h != nil || s.refs > 0 || s.dead {
		return
	}
	s.dead = true
	r.slots.CompareAndDelete(id, s)
}

// Get returns the live handle or nil.
func (r *Registry) Get(id string) *Handle {
	s := r.lookup(id)
	if s == nil {
		return nil
	}
	defer s.mu.Unlock()
	return s.h
}

// Put registers h, failing with ErrAlreadyRegistered if id is occupied.
func (r *Registry) Put(id string, h *Handle) error {
	s := r.claim(id)
	defer s.mu.Unlock()
	if s.h != nil {
		return ErrAlreadyRegistered
	}
	s.h = h
	r.n.Add(1)
	return nil
}

// Remove clears id and returns what was registered. Safe on absent ids.
func (r *Registry) Remove(id string) *Handle {
	s := r.lookup(id)
	if s == nil {
		return nil
	}
	defer s.mu.Unlock()
	h := s.h
	if h != nil {
		s.h = nil
		r.n.Add(-1)
	}
	r.reap(id, s)
	return h
}

// RemoveHandle clears id only while it still maps to h.
func (r *Registry) RemoveHandle(id string, h *Handle) bool {
	s := r.lookup(id)
	if s == nil {
		return false
	}
	defer s.mu.Unlock()
	if s.h != h || h == nil {
		return false
	}
	s.h = nil
	r.n.Add(-1)
	r.reap(id, s)
	return true
}

// Lock takes the operation lock of id and returns its release func.
func (r *Registry) Lock(id string) func() {
	s := r.claim(id)
	s.refs++
	s.mu.Unlock()

	s.op.Lock()
	return func() {
		s.op.Unlock()
		s.mu.Lock()
		s.refs--
		r.reap(id, s)
		s.mu.Unlock()
	}
}

func (r *Registry) Len() int {
	return int(r.n.Load())
}

// IDs returns the registered ids in lexical order.
func (r *Registry) IDs() []string {
	var ids []string
	r.slots.Range(func(k, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if s.h != nil {
			ids = append(ids, k.(string))
		}
		s.mu.Unlock()
		return true
	})
	sort.Strings(ids)
	return ids
}

// slotCount reports how many ids currently own a slot.
func (r *Registry) slotCount() int {
	n := 0
	r.slots.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
