// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenCacheEntry is a single cached token. Entries are unique by user, client, authority and resource.
//
// The JSON shape matches the token file written by earlier versions of the CLI, so existing caches keep working.
type TokenCacheEntry struct {
	UserID       string    `json:"userId"`
	ClientID     string    `json:"_clientId"`
	Authority    string    `json:"_authority"`
	Resource     string    `json:"resource"`
	TenantID     string    `json:"tenantId,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresOn    time.Time `json:"expiresOn"`
	// IsMRRT marks a refresh token that can be redeemed for any resource under the same authority.
	IsMRRT bool `json:"isMRRT"`
}

// Expired reports whether the access token is no longer usable at t.
func (e TokenCacheEntry) Expired(t time.Time) bool {
	return !e.ExpiresOn.After(t)
}

type cacheKey struct {
	userID    string
	clientID  string
	authority string
	resource  string
}

// User names and authorities are case-insensitive.
func (e TokenCacheEntry) key() cacheKey {
	return cacheKey{
		userID:    strings.ToLower(e.UserID),
		clientID:  e.ClientID,
		authority: strings.ToLower(strings.TrimSuffix(e.Authority, "/")),
		resource:  e.Resource,
	}
}

func (e TokenCacheEntry) validate() error {
	if e.UserID == "" || e.ClientID == "" || e.Authority == "" || e.Resource == "" {
		return fmt.Errorf(
			"%w: userId, clientId, authority and resource are required (got %q, %q, %q, %q)",
			ErrInvalidCacheEntry, e.UserID, e.ClientID, e.Authority, e.Resource)
	}

	return nil
}

// ErrInvalidCacheEntry is returned when an entry lacks one of the fields that make up its key.
var ErrInvalidCacheEntry = errors.New("invalid token cache entry")

// Query selects cache entries. Empty fields match any value.
type Query struct {
	UserID    string
	ClientID  string
	Authority string
	Resource  string
	// MRRTOnly restricts matches to entries carrying a multi-resource refresh token.
	MRRTOnly bool
	// ValidAt, when set, restricts matches to entries whose access token has not expired at that time.
	ValidAt time.Time
}

// Matches reports whether e satisfies every constraint of the query.
func (q Query) Matches(e TokenCacheEntry) bool {
	if q.UserID != "" && !strings.EqualFold(q.UserID, e.UserID) {
		return false
	}
	if q.ClientID != "" && q.ClientID != e.ClientID {
		return false
	}
	if q.Authority != "" &&
		!strings.EqualFold(strings.TrimSuffix(q.Authority, "/"), strings.TrimSuffix(e.Authority, "/")) {
		return false
	}
	if q.Resource != "" && q.Resource != e.Resource {
		return false
	}
	if q.MRRTOnly && !e.IsMRRT {
		return false
	}
	if !q.ValidAt.IsZero() && e.Expired(q.ValidAt) {
		return false
	}

	return true
}

// Store is a durable collection of token cache entries.
//
// Implementations serialize writers: Add and Remove are atomic with respect to each other and to Find,
// and either apply every entry or none.
type Store interface {
	// Find returns the entries matching q, in insertion order.
	Find(q Query) ([]TokenCacheEntry, error)
	// Add inserts entries, replacing any existing entry with the same key in place.
	Add(entries []TokenCacheEntry) error
	// Remove deletes the entries matching q and returns how many were removed.
	Remove(q Query) (int, error)
}

// tokenSet is the in-memory form of the cache. Keys are structural, so a key can never appear twice, while
// order keeps the serialized array stable across rewrites.
type tokenSet struct {
	order   []cacheKey
	entries map[cacheKey]TokenCacheEntry
}

func newTokenSet() *tokenSet {
	return &tokenSet{entries: map[cacheKey]TokenCacheEntry{}}
}

func (s *tokenSet) clone() *tokenSet {
	c := &tokenSet{
		order:   append([]cacheKey(nil), s.order...),
		entries: make(map[cacheKey]TokenCacheEntry, len(s.entries)),
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}

	return c
}

// upsert adds e, or replaces the entry sharing its key without moving it. An MRRT entry is never downgraded:
// a non-MRRT replacement contributes its access token but the multi-resource refresh token is kept.
func (s *tokenSet) upsert(e TokenCacheEntry) {
	k := e.key()
	existing, has := s.entries[k]
	if !has {
		s.order = append(s.order, k)
		s.entries[k] = e
		return
	}

	if existing.IsMRRT && !e.IsMRRT {
		e.IsMRRT = true
		e.RefreshToken = existing.RefreshToken
	}

	s.entries[k] = e
}

func (s *tokenSet) find(q Query) []TokenCacheEntry {
	var res []TokenCacheEntry
	for _, k := range s.order {
		if e := s.entries[k]; q.Matches(e) {
			res = append(res, e)
		}
	}

	return res
}

func (s *tokenSet) remove(q Query) int {
	kept := s.order[:0]
	removed := 0
	for _, k := range s.order {
		if q.Matches(s.entries[k]) {
			delete(s.entries, k)
			removed++
			continue
		}
		kept = append(kept, k)
	}
	s.order = kept

	return removed
}

// addAll validates every entry before applying any of them.
func (s *tokenSet) addAll(entries []TokenCacheEntry) error {
	for _, e := range entries {
		if err := e.validate(); err != nil {
			return err
		}
	}

	for _, e := range entries {
		s.upsert(e)
	}

	return nil
}

func (s *tokenSet) MarshalJSON() ([]byte, error) {
	arr := make([]TokenCacheEntry, 0, len(s.order))
	for _, k := range s.order {
		arr = append(arr, s.entries[k])
	}

	return json.Marshal(arr)
}

// UnmarshalJSON reads the array form. Duplicate keys written by older clients collapse into one entry.
func (s *tokenSet) UnmarshalJSON(data []byte) error {
	var arr []TokenCacheEntry
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}

	*s = *newTokenSet()
	for _, e := range arr {
		s.upsert(e)
	}

	return nil
}
