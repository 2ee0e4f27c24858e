// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/azure/azure-xplat-cli/pkg/cloud"
	"golang.org/x/oauth2"
)

// Credential is what the caller signs in with. The set of credentials is closed: each kind knows how to
// authenticate itself through an [Authenticator].
type Credential interface {
	authenticate(ctx context.Context, a *Authenticator, cfg cloud.AuthConfig) (*AuthContext, error)
	kind() string
}

// UsernamePassword signs in a work or school account with the resource owner password grant.
type UsernamePassword struct {
	Username string
	Password string
}

// Interactive signs in through the device code flow. Prompt receives the code to show the operator.
type Interactive struct {
	Prompt UserCodePrompt
}

// ServicePrincipalSecret signs in an application with a client secret.
type ServicePrincipalSecret struct {
	AppID  string
	Secret string
}

// ServicePrincipalCertificate signs in an application with a certificate. CertificateData is PEM or PKCS#12
// content holding the certificate and its RSA private key.
type ServicePrincipalCertificate struct {
	AppID           string
	CertificateData []byte
	// Password decrypts PKCS#12 data, if needed.
	Password string
	// Thumbprint is the hex SHA-1 thumbprint of the certificate. It is computed when empty.
	Thumbprint string
}

// ExternalTokens signs in with access tokens acquired by a trusted host, such as a cloud console.
// Raw is a semicolon separated list of tokens.
type ExternalTokens struct {
	Raw string
}

// ManagedIdentity signs in with the identity of the host, through its local token endpoint.
type ManagedIdentity struct {
	// Port of the local token endpoint. Zero uses the default port.
	Port int
}

func (UsernamePassword) kind() string            { return "password" }
func (Interactive) kind() string                 { return "deviceCode" }
func (ServicePrincipalSecret) kind() string      { return "servicePrincipalSecret" }
func (ServicePrincipalCertificate) kind() string { return "servicePrincipalCertificate" }
func (ExternalTokens) kind() string              { return "externalTokens" }
func (ManagedIdentity) kind() string             { return "managedIdentity" }

func (c UsernamePassword) authenticate(ctx context.Context, a *Authenticator, cfg cloud.AuthConfig) (*AuthContext, error) {
	if c.Username == "" {
		return nil, errors.New("a username is required")
	}

	tok, err := a.grants.password(ctx, cfg, a.clientID, c.Username, c.Password)
	if err != nil {
		return nil, err
	}

	return a.newUserContext(cfg, c.Username, tok)
}

func (c Interactive) authenticate(ctx context.Context, a *Authenticator, cfg cloud.AuthConfig) (*AuthContext, error) {
	if c.Prompt == nil {
		return nil, errors.New("interactive sign in requires a user code prompt")
	}

	code, err := a.acquireUserCode(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c.Prompt(*code)

	return a.authenticateWithDeviceCode(ctx, cfg, code)
}

func (c ServicePrincipalSecret) authenticate(
	ctx context.Context, a *Authenticator, cfg cloud.AuthConfig,
) (*AuthContext, error) {
	if cfg.IsMultiTenant() {
		return nil, ErrTenantRequired
	}

	handle := &clientCredentialHandle{
		mint: func(ctx context.Context, cfg cloud.AuthConfig, resource string) (*oauth2.Token, error) {
			return a.grants.clientSecret(ctx, cfg, c.AppID, c.Secret, resource)
		},
	}

	return a.newServicePrincipalContext(ctx, cfg, c.AppID, handle)
}

func (c ServicePrincipalCertificate) authenticate(
	ctx context.Context, a *Authenticator, cfg cloud.AuthConfig,
) (*AuthContext, error) {
	if cfg.IsMultiTenant() {
		return nil, ErrTenantRequired
	}

	signer, err := newCertificateSigner(c.CertificateData, c.Password, c.Thumbprint)
	if err != nil {
		return nil, err
	}

	handle := &clientCredentialHandle{
		mint: func(ctx context.Context, cfg cloud.AuthConfig, resource string) (*oauth2.Token, error) {
			assertion, err := signer.assertion(c.AppID, cfg.TokenEndpoint(), a.clock.Now())
			if err != nil {
				return nil, err
			}
			return a.grants.clientAssertion(ctx, cfg, c.AppID, assertion, resource)
		},
	}

	return a.newServicePrincipalContext(ctx, cfg, c.AppID, handle)
}

func (c ExternalTokens) authenticate(_ context.Context, a *Authenticator, cfg cloud.AuthConfig) (*AuthContext, error) {
	tokens, err := ParseExternalTokens(c.Raw)
	if err != nil {
		return nil, err
	}

	management, has := findTokenForResource(tokens, cfg.ResourceID)
	if !has {
		return nil, ErrNoManagementToken
	}

	claims := management.Claims
	handle := &staticTokenHandle{tenantID: claims.TenantID, tokens: tokens}
	authCtx := a.newAuthContext(cfg, claims.UserID(), claims.TenantID, UserTypeUser, handle)
	authCtx.record(cfg.ForTenant(claims.TenantID), claims.TenantID, cfg.ResourceID, management.oauth2Token())

	return authCtx, nil
}

func (c ManagedIdentity) authenticate(ctx context.Context, a *Authenticator, cfg cloud.AuthConfig) (*AuthContext, error) {
	endpoint := a.msiEndpoint
	if endpoint == "" {
		endpoint = managedIdentityEndpoint(c.Port)
	}

	handle := &managedIdentityHandle{
		client: &managedIdentityClient{
			httpClient: a.httpClient,
			endpoint:   endpoint,
			backoff:    a.msiBackoff,
		},
	}

	tok, err := handle.token(ctx, cfg, cfg.ResourceID)
	if err != nil {
		return nil, err
	}

	claims, err := GetClaimsFromAccessToken(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("reading managed identity token: %w", err)
	}

	userID := claims.UserID()
	if userID == "" {
		userID = cManagedIdentityUser
	}

	authCtx := a.newAuthContext(cfg, userID, claims.TenantID, UserTypeServicePrincipal, handle)
	authCtx.record(cfg.ForTenant(claims.TenantID), claims.TenantID, cfg.ResourceID, tok)

	return authCtx, nil
}
