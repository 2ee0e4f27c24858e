// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims contains the claims of an access token that identify the caller.
// https://learn.microsoft.com/entra/identity-platform/access-token-claims-reference
type TokenClaims struct {
	jwt.RegisteredClaims

	TenantID          string `json:"tid,omitempty"`
	UPN               string `json:"upn,omitempty"`
	UniqueName        string `json:"unique_name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Oid               string `json:"oid,omitempty"`
	AppID             string `json:"appid,omitempty"`
	AzpID             string `json:"azp,omitempty"`
	IdentityProvider  string `json:"idp,omitempty"`
}

// UserID returns the best user identifier carried by the token: the UPN for work accounts, unique_name for
// guest and live accounts, then the v2 preferred_username. Application tokens fall back to the app id.
func (c TokenClaims) UserID() string {
	for _, v := range []string{c.UPN, c.UniqueName, c.PreferredUsername, c.AppID, c.AzpID} {
		if v != "" {
			return v
		}
	}

	return ""
}

// Resource returns the first audience of the token, which is the resource it was issued for.
func (c TokenClaims) Resource() string {
	if len(c.Audience) == 0 {
		return ""
	}

	return c.Audience[0]
}

var errMalformedToken = errors.New("malformed access token")

// GetClaimsFromAccessToken extracts claims from an access token. The signature is not verified: the token was
// received from the identity provider over TLS, or handed over by a trusted host.
func GetClaimsFromAccessToken(token string) (TokenClaims, error) {
	var claims TokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenClaims{}, fmt.Errorf("%w: %w", errMalformedToken, err)
	}

	return claims, nil
}

// GetTenantIdFromToken extracts the "tid" claim from an access token.
func GetTenantIdFromToken(token string) (string, error) {
	claims, err := GetClaimsFromAccessToken(token)
	if err != nil {
		return "", err
	}

	if claims.TenantID == "" {
		return "", errors.New("no tid claim")
	}

	return claims.TenantID, nil
}
