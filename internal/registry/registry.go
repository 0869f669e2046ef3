// Package registry holds the runtime lookup tables that map wire type codes
// to parsers and payload discriminants to serializers.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyRegistered is returned when a key already has a handler.
var ErrAlreadyRegistered = errors.New("already registered")

// Registration undoes one registration. Close is idempotent and never
// removes an entry installed by a different registration.
type Registration struct {
	once   sync.Once
	remove func()
}

func newRegistration(remove func()) *Registration {
	return &Registration{remove: remove}
}

// Close removes the entry this registration created.
func (r *Registration) Close() error {
	if r == nil {
		return nil
	}
	r.once.Do(func() {
		if r.remove != nil {
			r.remove()
		}
	})
	return nil
}

// entry is boxed so Close can compare identity instead of value.
type entry[V any] struct {
	value V
}

type table[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]*entry[V]
}

func (t *table[K, V]) register(kind string, k K, v V) (*Registration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.m[k]; ok {
		return nil, fmt.Errorf("%s for %v: %w", kind, k, ErrAlreadyRegistered)
	}
	if t.m == nil {
		t.m = make(map[K]*entry[V])
	}
	e := &entry[V]{value: v}
	t.m[k] = e
	return newRegistration(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.m[k] == e {
			delete(t.m, k)
		}
	}), nil
}

func (t *table[K, V]) get(k K) (V, bool) {
	t.mu.RLock()
	e, ok := t.m[k]
	t.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (t *table[K, V]) keys() []K {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]K, 0, len(t.m))
	for k := range t.m {
		out = append(out, k)
	}
	return out
}

// Registry maps parse keys K to parsers P and payload discriminants D to
// serializers S. The zero value is ready to use.
type Registry[K comparable, D comparable, P any, S any] struct {
	parsers     table[K, P]
	serializers table[D, S]
}

// New returns an empty registry.
func New[K comparable, D comparable, P any, S any]() *Registry[K, D, P, S] {
	return &Registry[K, D, P, S]{}
}

// RegisterParser installs p for key. It fails if key already has a parser.
func (r *Registry[K, D, P, S]) RegisterParser(key K, p P) (*Registration, error) {
	return r.parsers.register("parser", key, p)
}

// RegisterSerializer installs s for discriminant d. It fails if d already
// has a serializer.
func (r *Registry[K, D, P, S]) RegisterSerializer(d D, s S) (*Registration, error) {
	return r.serializers.register("serializer", d, s)
}

// Parser returns the parser registered for key.
func (r *Registry[K, D, P, S]) Parser(key K) (P, bool) {
	return r.parsers.get(key)
}

// Serializer returns the serializer registered for d.
func (r *Registry[K, D, P, S]) Serializer(d D) (S, bool) {
	return r.serializers.get(d)
}

// ParserKeys lists registered parse keys in no particular order.
func (r *Registry[K, D, P, S]) ParserKeys() []K { return r.parsers.keys() }

// SerializerKeys lists registered discriminants in no particular order.
func (r *Registry[K, D, P, S]) SerializerKeys() []D { return r.serializers.keys() }
