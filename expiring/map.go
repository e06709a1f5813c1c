// Package expiring provides a TTL-bound key/value store with lazy,
// amortized eviction. All entries of a single Map share one TTL, so
// insertion order and expiry order coincide; cleanup walks from the oldest
// entry and stops at the first live one, costing O(expired) per call.
//
// A Map is not safe for concurrent use. Callers that share a Map across
// goroutines must serialize access themselves.
package expiring

import (
	"container/list"
	"time"

	"github.com/pkg/errors"
)

// ErrDuplicateKey is returned by Add when the key is already present.
var ErrDuplicateKey = errors.New("key already present")

type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
}

// Map is a TTL-expiring key/value store. Eviction happens lazily at the
// start of every Add/Get/Remove call; an idle Map never frees expired
// entries on its own.
type Map[K comparable, V any] struct {
	ttl     time.Duration
	now     func() time.Time
	order   *list.List // oldest at front
	entries map[K]*list.Element
}

// Option configures a Map.
type Option[K comparable, V any] func(*Map[K, V])

// WithNowFunc sets the clock function (primarily for testing).
func WithNowFunc[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(m *Map[K, V]) {
		m.now = now
	}
}

// New creates a Map whose entries expire ttl after insertion.
func New[K comparable, V any](ttl time.Duration, options ...Option[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		ttl:     ttl,
		now:     time.Now,
		order:   list.New(),
		entries: make(map[K]*list.Element),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Add stores value under key. It fails with ErrDuplicateKey if key is
// already present and not yet expired.
func (m *Map[K, V]) Add(key K, value V) error {
	m.cleanup()
	if _, ok := m.entries[key]; ok {
		return errors.Wrapf(ErrDuplicateKey, "[Map.Add] key %v", key)
	}
	elem := m.order.PushBack(&entry[K, V]{key: key, value: value, insertedAt: m.now()})
	m.entries[key] = elem
	return nil
}

// Get returns the value stored under key, or false if the key is absent
// or expired.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.cleanup()
	elem, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return elem.Value.(*entry[K, V]).value, true
}

// Remove deletes and returns the value stored under key. The second return
// is false if the key is absent or expired; a second Remove of the same key
// always reports false.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	m.cleanup()
	elem, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := m.order.Remove(elem).(*entry[K, V])
	delete(m.entries, key)
	return e.value, true
}

// Len reports the number of live entries after evicting expired ones.
func (m *Map[K, V]) Len() int {
	m.cleanup()
	return len(m.entries)
}

// cleanup evicts expired entries oldest-first. Entries share one TTL, so
// the walk stops at the first entry that is still live.
func (m *Map[K, V]) cleanup() {
	now := m.now()
	for front := m.order.Front(); front != nil; front = m.order.Front() {
		e := front.Value.(*entry[K, V])
		if !now.After(e.insertedAt.Add(m.ttl)) {
			break
		}
		m.order.Remove(front)
		delete(m.entries, e.key)
	}
}
