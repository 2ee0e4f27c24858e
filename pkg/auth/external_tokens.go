// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/azure/azure-xplat-cli/pkg/cloud"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// ConsoleTokensEnvVar carries the tokens handed over by a cloud console host.
const ConsoleTokensEnvVar = "AZURE_CONSOLE_TOKENS"

// ExternalToken is an access token acquired outside of the CLI, with its decoded claims.
type ExternalToken struct {
	Raw    string
	Claims TokenClaims
}

// ParseExternalTokens splits a semicolon separated list of access tokens and decodes each one. Every token must
// name its tenant, user and resource.
func ParseExternalTokens(blob string) ([]ExternalToken, error) {
	var tokens []ExternalToken
	for _, raw := range strings.Split(blob, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		claims, err := GetClaimsFromAccessToken(raw)
		if err != nil {
			return nil, fmt.Errorf("external token %d: %w", len(tokens)+1, err)
		}

		if claims.TenantID == "" || claims.UserID() == "" || claims.Resource() == "" {
			return nil, fmt.Errorf("external token %d: tid, upn and aud claims are required", len(tokens)+1)
		}

		tokens = append(tokens, ExternalToken{Raw: raw, Claims: claims})
	}

	if len(tokens) == 0 {
		return nil, ErrNoExternalTokens
	}

	return tokens, nil
}

// ExternalTokensFromEnv returns the credential handed over through [ConsoleTokensEnvVar].
func ExternalTokensFromEnv() (ExternalTokens, error) {
	raw := os.Getenv(ConsoleTokensEnvVar)
	if strings.TrimSpace(raw) == "" {
		return ExternalTokens{}, ErrNoExternalTokens
	}

	return ExternalTokens{Raw: raw}, nil
}

func (t ExternalToken) expiresOn() time.Time {
	if t.Claims.ExpiresAt == nil {
		return time.Time{}
	}

	return t.Claims.ExpiresAt.Time
}

func (t ExternalToken) oauth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: t.Raw,
		TokenType:   "Bearer",
		Expiry:      t.expiresOn(),
	}
}

// CacheEntry converts the token to a cache entry under the common authority of cfg's cloud. Tokens from a
// trusted host are always stored as multi-resource.
func (t ExternalToken) CacheEntry(cfg cloud.AuthConfig, clientID string) TokenCacheEntry {
	return TokenCacheEntry{
		UserID:      t.Claims.UserID(),
		ClientID:    clientID,
		Authority:   cfg.ForTenant(cloud.CommonTenant).Authority(),
		Resource:    t.Claims.Resource(),
		TenantID:    t.Claims.TenantID,
		TokenType:   "Bearer",
		AccessToken: t.Raw,
		ExpiresOn:   t.expiresOn().UTC(),
		IsMRRT:      true,
	}
}

func findTokenForResource(tokens []ExternalToken, resource string) (ExternalToken, bool) {
	want := strings.TrimSuffix(resource, "/")
	for _, t := range tokens {
		if strings.EqualFold(strings.TrimSuffix(t.Claims.Resource(), "/"), want) {
			return t, true
		}
	}

	return ExternalToken{}, false
}

// Merger reconciles external tokens with a token cache.
type Merger struct {
	store    Store
	clientID string
}

// NewMerger creates a Merger writing to store. An empty clientID uses [DefaultClientID].
func NewMerger(store Store, clientID string) *Merger {
	if clientID == "" {
		clientID = DefaultClientID
	}

	return &Merger{store: store, clientID: clientID}
}

// Merge writes one entry per token. An entry sharing the key of a cached entry replaces it in place, and tokens
// for other resources are added next to the user's existing entries. Merging the same tokens twice leaves the
// cache as merging them once. Merge returns the entries written.
func (m *Merger) Merge(cfg cloud.AuthConfig, tokens []ExternalToken) ([]TokenCacheEntry, error) {
	entries := make([]TokenCacheEntry, 0, len(tokens))
	for _, t := range tokens {
		entries = append(entries, t.CacheEntry(cfg, m.clientID))
	}

	existing := map[cacheKey]bool{}
	for _, userID := range distinctUsers(entries) {
		found, err := m.store.Find(Query{UserID: userID, ClientID: m.clientID})
		if err != nil {
			log.Warnf("reading existing tokens for %s, treating cache as empty: %v", userID, err)
			continue
		}
		for _, e := range found {
			existing[e.key()] = true
		}
	}

	replaced := 0
	for _, e := range entries {
		if existing[e.key()] {
			replaced++
		}
	}

	if err := m.store.Add(entries); err != nil {
		return nil, fmt.Errorf("saving external tokens: %w", err)
	}

	log.WithFields(log.Fields{
		"replaced": replaced,
		"added":    len(entries) - replaced,
	}).Debug("merged external tokens")

	return entries, nil
}

func distinctUsers(entries []TokenCacheEntry) []string {
	seen := map[string]bool{}
	var users []string
	for _, e := range entries {
		k := strings.ToLower(e.UserID)
		if !seen[k] {
			seen[k] = true
			users = append(users, e.UserID)
		}
	}

	return users
}
