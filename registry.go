package safepoint

import (
	"slices"
	"sync"
)

// registry tracks the threads currently participating in safepoints, keyed
// by goroutine id.
//
// Mutations are performed with the Manager's driving lock held, the
// registry's own lock only guards concurrent readers (e.g. the poll slow
// path, and diagnostics).
type registry struct {
	threads map[uint64]*Thread
	mu      sync.RWMutex
}

func newRegistry() *registry {
	return &registry{threads: make(map[uint64]*Thread)}
}

// add returns false if the goroutine is already registered.
func (r *registry) add(t *Thread) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[t.goid]; ok {
		return false
	}
	r.threads[t.goid] = t
	return true
}

// remove returns false if t is not registered.
func (r *registry) remove(t *Thread) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.threads[t.goid] != t {
		return false
	}
	delete(r.threads, t.goid)
	return true
}

func (r *registry) lookup(goid uint64) *Thread {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.threads[goid]
}

func (r *registry) contains(t *Thread) bool {
	return t != nil && r.lookup(t.goid) == t
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}

// snapshot returns the registered threads, ordered by id.
func (r *registry) snapshot() []*Thread {
	r.mu.RLock()
	threads := make([]*Thread, 0, len(r.threads))
	for _, t := range r.threads {
		threads = append(threads, t)
	}
	r.mu.RUnlock()
	slices.SortFunc(threads, func(a, b *Thread) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})
	return threads
}
