// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/azure/azure-xplat-cli/pkg/cloud"
	log "github.com/sirupsen/logrus"
)

// ErrNoCachedToken is returned when the token cache holds nothing for the requested user.
var ErrNoCachedToken = errors.New("no cached token found for the user, run `azure login` to login")

// ResumeUser rebuilds the context of an earlier user sign in from the token cache, without prompting. Access
// tokens that are still valid are served from the cache, and further tokens are minted with the cached
// multi-resource refresh token. A refresh token issued by the authority of cfg is preferred over one issued by
// another authority of the same cloud.
//
// Like [Authenticator.Authenticate], ResumeUser does not write to store.
func (a *Authenticator) ResumeUser(cfg cloud.AuthConfig, store Store, userID string) (*AuthContext, error) {
	if userID == "" {
		return nil, errors.New("a user name is required")
	}

	all, err := store.Find(Query{UserID: userID, ClientID: a.clientID})
	if err != nil {
		return nil, fmt.Errorf("reading token cache: %w", err)
	}
	if len(all) == 0 {
		return nil, ErrNoCachedToken
	}

	refresh, err := a.findRefreshToken(cfg, store, userID)
	if err != nil {
		return nil, err
	}

	tenantID := cfg.TenantID
	if cfg.IsMultiTenant() {
		for _, e := range all {
			if e.TenantID != "" {
				tenantID = e.TenantID
				break
			}
		}
	}

	handle := &refreshTokenHandle{
		grants:       a.grants,
		clientID:     a.clientID,
		refreshToken: refresh.RefreshToken,
	}
	authCtx := a.newAuthContext(cfg, all[0].UserID, tenantID, UserTypeUser, handle)

	valid, err := store.Find(Query{UserID: userID, ClientID: a.clientID, ValidAt: a.clock.Now().Add(cExpiryBuffer)})
	if err != nil {
		return nil, fmt.Errorf("reading token cache: %w", err)
	}
	for _, e := range valid {
		if e.TenantID == "" {
			continue
		}
		authCtx.remember(e.TenantID, e.Resource, azcore.AccessToken{Token: e.AccessToken, ExpiresOn: e.ExpiresOn})
	}

	log.WithFields(log.Fields{
		"user":   authCtx.UserID,
		"tenant": tenantID,
		"cached": len(valid),
	}).Debug("resumed sign in from token cache")

	return authCtx, nil
}

// findRefreshToken returns the multi-resource entry to redeem, or an entry without a refresh token when the cache
// only holds access tokens.
func (a *Authenticator) findRefreshToken(cfg cloud.AuthConfig, store Store, userID string) (TokenCacheEntry, error) {
	for _, q := range []Query{
		{UserID: userID, ClientID: a.clientID, Authority: cfg.Authority(), MRRTOnly: true},
		{UserID: userID, ClientID: a.clientID, MRRTOnly: true},
	} {
		entries, err := store.Find(q)
		if err != nil {
			return TokenCacheEntry{}, fmt.Errorf("reading token cache: %w", err)
		}
		for _, e := range entries {
			if e.RefreshToken != "" {
				return e, nil
			}
		}
	}

	return TokenCacheEntry{}, nil
}
