/*
 * Copyright 2025 Holger de Carne
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package store provides the in-memory keyed stores backing the provider's
// authorization requests and grants.
package store

import (
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// NoExpiry disables expiry for a store entry.
const NoExpiry time.Duration = 0

// Store is a concurrency-safe mapping from opaque string keys to values.
//
// Entries added with a positive lifetime disappear once the lifetime has
// passed. Reads never extend an entry's lifetime.
type Store[V any] struct {
	name   string
	cache  *ttlcache.Cache[string, V]
	logger *slog.Logger
}

// New creates a new store. Entries put without an explicit lifetime use the
// given default lifetime (NoExpiry for unlimited).
func New[V any](name string, lifetime time.Duration) *Store[V] {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, V](lifetime),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)
	return &Store[V]{
		name:   name,
		cache:  cache,
		logger: slog.With(slog.String("store", name)),
	}
}

func (s *Store[V]) Name() string {
	return s.name
}

// Put adds or replaces the entry for key using the store's default lifetime.
func (s *Store[V]) Put(key string, value V) {
	s.cache.Set(key, value, ttlcache.DefaultTTL)
}

// PutWithLifetime adds or replaces the entry for key using the given lifetime.
func (s *Store[V]) PutWithLifetime(key string, value V, lifetime time.Duration) {
	if lifetime <= 0 {
		lifetime = ttlcache.NoTTL
	}
	s.cache.Set(key, value, lifetime)
}

// Get returns the live entry for key.
func (s *Store[V]) Get(key string) (V, bool) {
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		var none V
		return none, false
	}
	return item.Value(), true
}

// Take returns the live entry for key and removes it in the same step.
// Of two concurrent Take calls for the same key at most one succeeds.
func (s *Store[V]) Take(key string) (V, bool) {
	item, found := s.cache.GetAndDelete(key)
	if !found || item.IsExpired() {
		var none V
		return none, false
	}
	return item.Value(), true
}

func (s *Store[V]) Remove(key string) {
	s.cache.Delete(key)
}

func (s *Store[V]) Len() int {
	return s.cache.Len()
}

// Clear removes all entries.
func (s *Store[V]) Clear() {
	s.logger.Debug("clearing store", slog.Int("entries", s.cache.Len()))
	s.cache.DeleteAll()
}

// DeleteExpired purges all expired entries.
func (s *Store[V]) DeleteExpired() {
	before := s.cache.Len()
	s.cache.DeleteExpired()
	purged := before - s.cache.Len()
	if purged > 0 {
		s.logger.Debug("purged expired entries", slog.Int("count", purged))
	}
}
