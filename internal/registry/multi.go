package registry

import "sync"

// Classed values report the class they belong to. MultiRegistry uses it to
// tell same-kind replacements from foreign registrations.
type Classed interface {
	Class() string
}

// MultiRegistry keeps every registration made for a key and exposes one
// current value. The first class registered for a key fixes the accepted
// class: later values of that class replace the current one, values of any
// other class are ignored. Closing a registration recomputes the current
// value from the remaining candidates.
type MultiRegistry[K comparable, V Classed] struct {
	mu         sync.RWMutex
	candidates map[K][]*entry[V]
	current    map[K]V
}

func NewMulti[K comparable, V Classed]() *MultiRegistry[K, V] {
	return &MultiRegistry[K, V]{}
}

// Register adds v as a candidate for key. It never fails; a value of a
// foreign class is recorded but never becomes current.
func (r *MultiRegistry[K, V]) Register(key K, v V) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.candidates == nil {
		r.candidates = make(map[K][]*entry[V])
		r.current = make(map[K]V)
	}
	e := &entry[V]{value: v}
	r.candidates[key] = append(r.candidates[key], e)
	r.update(key)
	return newRegistration(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.candidates[key]
		for i, c := range list {
			if c == e {
				r.candidates[key] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		r.update(key)
	})
}

// update must be called with mu held.
func (r *MultiRegistry[K, V]) update(key K) {
	list := r.candidates[key]
	if len(list) == 0 {
		delete(r.candidates, key)
		delete(r.current, key)
		return
	}
	class := list[0].value.Class()
	best := list[0].value
	for _, c := range list[1:] {
		if c.value.Class() == class {
			best = c.value
		}
	}
	r.current[key] = best
}

// Get returns the current value for key.
func (r *MultiRegistry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.current[key]
	return v, ok
}

// Keys lists keys that have a current value.
func (r *MultiRegistry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]K, 0, len(r.current))
	for k := range r.current {
		out = append(out, k)
	}
	return out
}
