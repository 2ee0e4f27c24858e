// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"context"
	"net/http"

	"github.com/azure/azure-xplat-cli/pkg/cloud"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// cOfflineAccessScope asks the identity provider to include a refresh token in user flows.
const cOfflineAccessScope = "offline_access"

const (
	cClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	cGrantTypeRefresh    = "refresh_token"
)

type correlationIDKey struct{}

// WithCorrelationID attaches an id that is sent as the client-request-id header on every identity provider call
// made with ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID returns the id attached with [WithCorrelationID], if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// correlationTransport stamps the correlation id of the request context onto outgoing requests.
type correlationTransport struct {
	inner http.RoundTripper
}

func (t *correlationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := CorrelationID(req.Context()); id != "" {
		req = req.Clone(req.Context())
		req.Header.Set("client-request-id", id)
		req.Header.Set("return-client-request-id", "true")
	}

	return t.inner.RoundTrip(req)
}

func newHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}

	inner := base.Transport
	if inner == nil {
		inner = http.DefaultTransport
	}

	c := *base
	c.Transport = &correlationTransport{inner: inner}
	return &c
}

// grantClient performs OAuth2 grant exchanges against the tenant-scoped endpoints of an AuthConfig.
type grantClient struct {
	httpClient *http.Client
}

func (g *grantClient) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

// userConfig is the public client configuration used by the password and device code grants.
func userConfig(cfg cloud.AuthConfig, clientID string, resource string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:       cfg.AuthorizeEndpoint(),
			TokenURL:      cfg.TokenEndpoint(),
			DeviceAuthURL: cfg.DeviceCodeEndpoint(),
			AuthStyle:     oauth2.AuthStyleInParams,
		},
		Scopes: []string{cloud.ScopeForResource(resource), cOfflineAccessScope},
	}
}

func (g *grantClient) password(
	ctx context.Context, cfg cloud.AuthConfig, clientID string, username string, password string,
) (*oauth2.Token, error) {
	return userConfig(cfg, clientID, cfg.ResourceID).PasswordCredentialsToken(g.withClient(ctx), username, password)
}

func (g *grantClient) deviceAuth(ctx context.Context, cfg cloud.AuthConfig, clientID string) (*oauth2.DeviceAuthResponse, error) {
	return userConfig(cfg, clientID, cfg.ResourceID).DeviceAuth(g.withClient(ctx))
}

// deviceToken polls until the operator completes the device code flow, the code expires or ctx is done.
func (g *grantClient) deviceToken(
	ctx context.Context, cfg cloud.AuthConfig, clientID string, da *oauth2.DeviceAuthResponse,
) (*oauth2.Token, error) {
	return userConfig(cfg, clientID, cfg.ResourceID).DeviceAccessToken(g.withClient(ctx), da)
}

// refresh redeems a refresh token for resource under the tenant of cfg. The client credentials config carries the
// grant because it, unlike oauth2.Config, accepts an explicit scope and grant type per request.
func (g *grantClient) refresh(
	ctx context.Context, cfg cloud.AuthConfig, clientID string, refreshToken string, resource string,
) (*oauth2.Token, error) {
	cc := &clientcredentials.Config{
		ClientID:  clientID,
		TokenURL:  cfg.TokenEndpoint(),
		Scopes:    []string{cloud.ScopeForResource(resource), cOfflineAccessScope},
		AuthStyle: oauth2.AuthStyleInParams,
		EndpointParams: map[string][]string{
			"grant_type":    {cGrantTypeRefresh},
			"refresh_token": {refreshToken},
		},
	}

	return cc.Token(g.withClient(ctx))
}

// clientSecret performs the client credentials grant with a shared secret.
func (g *grantClient) clientSecret(
	ctx context.Context, cfg cloud.AuthConfig, clientID string, secret string, resource string,
) (*oauth2.Token, error) {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     cfg.TokenEndpoint(),
		Scopes:       []string{cloud.ScopeForResource(resource)},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	return cc.Token(g.withClient(ctx))
}

// clientAssertion performs the client credentials grant with a signed JWT assertion.
func (g *grantClient) clientAssertion(
	ctx context.Context, cfg cloud.AuthConfig, clientID string, assertion string, resource string,
) (*oauth2.Token, error) {
	cc := &clientcredentials.Config{
		ClientID:  clientID,
		TokenURL:  cfg.TokenEndpoint(),
		Scopes:    []string{cloud.ScopeForResource(resource)},
		AuthStyle: oauth2.AuthStyleInParams,
		EndpointParams: map[string][]string{
			"client_assertion_type": {cClientAssertionType},
			"client_assertion":      {assertion},
		},
	}

	return cc.Token(g.withClient(ctx))
}
