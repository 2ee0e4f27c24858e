// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/azure/azure-xplat-cli/pkg/cloud"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testManagementResource = "https://management.core.windows.net/"
	testGraphResource      = "https://graph.windows.net/"
	testVaultResource      = "https://vault.azure.net"
)

// newTestToken builds a signed JWT carrying claims. The signature is never checked by the code under test.
func newTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	if _, has := claims["exp"]; !has {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-a-real-key"))
	require.NoError(t, err)
	return signed
}

type tokenRequest struct {
	tenant    string
	form      url.Values
	requestID string
}

// stubProvider is an identity provider serving the v2 token and devicecode endpoints of any tenant.
type stubProvider struct {
	t      *testing.T
	server *httptest.Server

	// onToken answers token requests. It returns the status code and JSON body.
	onToken func(req tokenRequest) (int, any)
	// onDeviceCode answers device authorization requests.
	onDeviceCode func(req tokenRequest) (int, any)

	mu       sync.Mutex
	requests []tokenRequest
}

func newStubProvider(t *testing.T) *stubProvider {
	p := &stubProvider{t: t}
	p.server = httptest.NewServer(http.HandlerFunc(p.serveHTTP))
	t.Cleanup(p.server.Close)
	return p
}

func (p *stubProvider) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	req := tokenRequest{
		tenant:    parts[0],
		form:      r.PostForm,
		requestID: r.Header.Get("client-request-id"),
	}

	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	status, body := http.StatusNotFound, any(map[string]string{"error": "not_found"})
	switch {
	case strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") && p.onToken != nil:
		status, body = p.onToken(req)
	case strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/devicecode") && p.onDeviceCode != nil:
		status, body = p.onDeviceCode(req)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (p *stubProvider) recorded() []tokenRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]tokenRequest(nil), p.requests...)
}

func (p *stubProvider) authConfig(tenantID string) cloud.AuthConfig {
	env := cloud.Environment{
		Name:                       "Stub",
		ActiveDirectoryEndpointURL: p.server.URL,
		ActiveDirectoryResourceID:  testManagementResource,
		ResourceManagerEndpointURL: "https://management.azure.com/",
	}

	cfg, err := env.AuthConfig(tenantID)
	require.NoError(p.t, err)
	return cfg
}

func tokenResponse(accessToken string, refreshToken string) map[string]any {
	res := map[string]any{
		"token_type":   "Bearer",
		"access_token": accessToken,
		"expires_in":   3600,
	}
	if refreshToken != "" {
		res["refresh_token"] = refreshToken
	}

	return res
}

func errorResponse(code string, description string, errorCodes ...int) map[string]any {
	return map[string]any{
		"error":             code,
		"error_description": description,
		"error_codes":       errorCodes,
		"trace_id":          "trace",
		"correlation_id":    "correlation",
	}
}
