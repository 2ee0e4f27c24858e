// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import "sync"

// memoryStore is a Store that lives only as long as the process. It backs tests and sessions that must not
// touch the user's token file.
type memoryStore struct {
	mu  sync.RWMutex
	set *tokenSet
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{set: newTokenSet()}
}

func (m *memoryStore) Find(q Query) ([]TokenCacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.set.find(q), nil
}

func (m *memoryStore) Add(entries []TokenCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.set.addAll(entries)
}

func (m *memoryStore) Remove(q Query) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.set.remove(q), nil
}
