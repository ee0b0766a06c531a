package live

import "sync"

type Refresher interface {
	Refresh()
}

// Registry maps change keys (a room id, a participant id) to the feeds that
// must re-fetch when that key changes.
type Registry struct {
	mu   sync.Mutex
	subs map[string]map[Refresher]struct{}
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]map[Refresher]struct{})}
}

func (r *Registry) Add(key string, s Refresher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[key]
	if !ok {
		set = make(map[Refresher]struct{})
		r.subs[key] = set
	}
	set[s] = struct{}{}
}

func (r *Registry) Remove(key string, s Refresher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[key]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.subs, key)
	}
}

// Notify wakes every feed registered under any of keys.
func (r *Registry) Notify(keys ...string) {
	r.mu.Lock()
	var targets []Refresher
	for _, key := range keys {
		for s := range r.subs[key] {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.Refresh()
	}
}

// Len returns the number of registered feeds across all keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, set := range r.subs {
		n += len(set)
	}
	return n
}
