// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/azure/azure-xplat-cli/pkg/cloud"
	"github.com/benbjohnson/clock"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/oauth2"
)

// UserType tells human users apart from application identities.
type UserType string

const (
	UserTypeUser             UserType = "user"
	UserTypeServicePrincipal UserType = "servicePrincipal"
)

// Tokens are treated as expired this long before they actually expire.
const cExpiryBuffer = 5 * time.Minute

// Used when the identity provider does not report a lifetime.
const cDefaultTokenLifetime = time.Hour

// AuthContext is the result of signing in. It mints tokens for further tenants and resources without prompting
// again, and remembers every token it minted so the caller can persist them once the whole operation succeeds.
//
// An AuthContext is safe for concurrent use.
type AuthContext struct {
	UserID   string
	TenantID string
	UserType UserType
	ClientID string

	config     cloud.AuthConfig
	handle     credentialHandle
	clock      clock.Clock
	classifier *Classifier
	memo       *ttlcache.Cache[string, azcore.AccessToken]

	mu     sync.Mutex
	minted []TokenCacheEntry
}

func (a *Authenticator) newAuthContext(
	cfg cloud.AuthConfig, userID string, tenantID string, userType UserType, handle credentialHandle,
) *AuthContext {
	clientID := a.clientID
	if userType == UserTypeServicePrincipal {
		clientID = userID
	}

	return &AuthContext{
		UserID:     userID,
		TenantID:   tenantID,
		UserType:   userType,
		ClientID:   clientID,
		config:     cfg,
		handle:     handle,
		clock:      a.clock,
		classifier: a.classifier,
		memo: ttlcache.New[string, azcore.AccessToken](
			ttlcache.WithDisableTouchOnHit[string, azcore.AccessToken](),
		),
	}
}

// Token returns an access token for resource in tenantID. An empty tenantID is the tenant signed in to and an
// empty resource is the management resource.
func (c *AuthContext) Token(ctx context.Context, tenantID string, resource string) (azcore.AccessToken, error) {
	if tenantID == "" {
		tenantID = c.TenantID
	}
	if resource == "" {
		resource = c.config.ResourceID
	}

	key := memoKey(tenantID, resource)
	if item := c.memo.Get(key); item != nil && !c.expired(item.Value().ExpiresOn) {
		return item.Value(), nil
	}

	cfg := c.config.ForTenant(tenantID)
	tok, err := c.handle.token(ctx, cfg, resource)
	if err != nil {
		return azcore.AccessToken{}, c.classifier.Classify(err)
	}

	return c.record(cfg, tenantID, resource, tok), nil
}

// Entries returns the cache entries for every token minted so far, in the order they were minted.
func (c *AuthContext) Entries() []TokenCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]TokenCacheEntry(nil), c.minted...)
}

// TokenCredential adapts the context to the azcore credential interface, scoped to tenantID.
func (c *AuthContext) TokenCredential(tenantID string) azcore.TokenCredential {
	return &tokenCredential{authCtx: c, tenantID: tenantID}
}

func (c *AuthContext) expired(expiresOn time.Time) bool {
	return !expiresOn.After(c.clock.Now().Add(cExpiryBuffer))
}

// record remembers a freshly minted token. cfg is the configuration the token was requested with, which may
// still name the common tenant, while tenantID is the tenant the token was issued by.
func (c *AuthContext) record(cfg cloud.AuthConfig, tenantID string, resource string, tok *oauth2.Token) azcore.AccessToken {
	expiresOn := tok.Expiry
	if expiresOn.IsZero() {
		expiresOn = c.clock.Now().Add(cDefaultTokenLifetime)
	}

	at := azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: expiresOn}
	c.remember(tenantID, resource, at)

	if !c.handle.persistent() {
		return at
	}

	entry := TokenCacheEntry{
		UserID:       c.UserID,
		ClientID:     c.ClientID,
		Authority:    cfg.Authority(),
		Resource:     resource,
		TenantID:     tenantID,
		TokenType:    tok.Type(),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresOn:    expiresOn.UTC(),
		IsMRRT:       c.handle.multiResource() && tok.RefreshToken != "",
	}

	c.mu.Lock()
	c.minted = append(c.minted, entry)
	c.mu.Unlock()

	return at
}

// remember serves at for later requests of the same tenant and resource until it is about to expire.
func (c *AuthContext) remember(tenantID string, resource string, at azcore.AccessToken) {
	if ttl := at.ExpiresOn.Sub(c.clock.Now()) - cExpiryBuffer; ttl > 0 {
		c.memo.Set(memoKey(tenantID, resource), at, ttl)
	}
}

func memoKey(tenantID string, resource string) string {
	return strings.ToLower(tenantID) + "|" + resource
}

// credentialHandle mints tokens for a signed in identity.
type credentialHandle interface {
	token(ctx context.Context, cfg cloud.AuthConfig, resource string) (*oauth2.Token, error)
	// persistent reports whether minted tokens belong in the token cache.
	persistent() bool
	// multiResource reports whether refresh tokens minted by the handle are valid for any resource.
	multiResource() bool
}

// refreshTokenHandle redeems the refresh token of a user sign in. The identity provider may rotate the refresh
// token on every redemption, so the latest one is kept.
type refreshTokenHandle struct {
	grants   *grantClient
	clientID string

	mu           sync.Mutex
	refreshToken string
}

func (h *refreshTokenHandle) token(ctx context.Context, cfg cloud.AuthConfig, resource string) (*oauth2.Token, error) {
	h.mu.Lock()
	rt := h.refreshToken
	h.mu.Unlock()

	if rt == "" {
		return nil, errors.New("no refresh token was issued at sign in")
	}

	tok, err := h.grants.refresh(ctx, cfg, h.clientID, rt, resource)
	if err != nil {
		return nil, err
	}

	if tok.RefreshToken != "" {
		h.mu.Lock()
		h.refreshToken = tok.RefreshToken
		h.mu.Unlock()
	}

	return tok, nil
}

func (h *refreshTokenHandle) persistent() bool    { return true }
func (h *refreshTokenHandle) multiResource() bool { return true }

// clientCredentialHandle repeats the client credentials grant of a service principal for each tenant and resource.
type clientCredentialHandle struct {
	mint func(ctx context.Context, cfg cloud.AuthConfig, resource string) (*oauth2.Token, error)
}

func (h *clientCredentialHandle) token(ctx context.Context, cfg cloud.AuthConfig, resource string) (*oauth2.Token, error) {
	return h.mint(ctx, cfg, resource)
}

func (h *clientCredentialHandle) persistent() bool    { return true }
func (h *clientCredentialHandle) multiResource() bool { return false }

// staticTokenHandle serves tokens handed over by a trusted host. It cannot mint anything new, so it only knows
// the tenant and resources the tokens were issued for.
type staticTokenHandle struct {
	tenantID string
	tokens   []ExternalToken
}

func (h *staticTokenHandle) token(_ context.Context, cfg cloud.AuthConfig, resource string) (*oauth2.Token, error) {
	if !strings.EqualFold(cfg.TenantID, h.tenantID) {
		return nil, fmt.Errorf("external tokens were issued for tenant %s, not %s", h.tenantID, cfg.TenantID)
	}

	t, has := findTokenForResource(h.tokens, resource)
	if !has {
		return nil, fmt.Errorf("no external token was provided for resource %s", resource)
	}

	return t.oauth2Token(), nil
}

// External tokens are merged into the cache by [Merger], not recorded per use.
func (h *staticTokenHandle) persistent() bool    { return false }
func (h *staticTokenHandle) multiResource() bool { return false }

// managedIdentityHandle asks the host for a token on every call. The host endpoint only serves its own tenant.
type managedIdentityHandle struct {
	client *managedIdentityClient
}

func (h *managedIdentityHandle) token(ctx context.Context, _ cloud.AuthConfig, resource string) (*oauth2.Token, error) {
	return h.client.token(ctx, resource)
}

func (h *managedIdentityHandle) persistent() bool    { return false }
func (h *managedIdentityHandle) multiResource() bool { return false }

// tokenCredential implements azcore.TokenCredential over an AuthContext.
type tokenCredential struct {
	authCtx  *AuthContext
	tenantID string
}

func (t *tokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if len(options.Scopes) != 1 {
		return azcore.AccessToken{}, errors.New("GetToken() requires exactly one scope")
	}

	tenantID := t.tenantID
	if options.TenantID != "" {
		tenantID = options.TenantID
	}

	return t.authCtx.Token(ctx, tenantID, cloud.ResourceFromScope(options.Scopes[0]))
}
