// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package account

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/azure/azure-xplat-cli/pkg/auth"
	"github.com/azure/azure-xplat-cli/pkg/cloud"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testManagementResource = "https://management.core.windows.net/"

func newTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	claims["exp"] = time.Now().Add(time.Hour).Unix()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-a-real-key"))
	require.NoError(t, err)
	return signed
}

// newStubIdentityProvider issues tokens for any tenant. Password sign ins land in homeTenant, and every token
// names the tenant it was requested for.
func newStubIdentityProvider(t *testing.T, homeTenant string) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		tenant := strings.Split(strings.Trim(r.URL.Path, "/"), "/")[0]
		claims := jwt.MapClaims{"tid": tenant, "aud": testManagementResource}
		res := map[string]any{"token_type": "Bearer", "expires_in": 3600}

		reject := func(status int, code string, description string) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": code, "error_description": description})
		}

		switch r.PostForm.Get("grant_type") {
		case "password":
			if r.PostForm.Get("password") != "pass" {
				reject(http.StatusBadRequest, "invalid_grant", "AADSTS50076: multi-factor authentication required")
				return
			}
			claims["tid"] = homeTenant
			claims["upn"] = r.PostForm.Get("username")
			res["refresh_token"] = "rt"
		case "refresh_token":
			if r.PostForm.Get("refresh_token") == "revoked" {
				reject(http.StatusBadRequest, "invalid_grant", "AADSTS70043: the refresh token has expired")
				return
			}
			claims["upn"] = "user@contoso.com"
			res["refresh_token"] = "rt"
		case "client_credentials":
			if r.PostForm.Get("client_secret") == "revoked" {
				reject(http.StatusUnauthorized, "invalid_client", "AADSTS7000222: the client secret has expired")
				return
			}
			claims["appid"] = r.PostForm.Get("client_id")
		}

		res["access_token"] = newTestToken(t, claims)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	}))
	t.Cleanup(server.Close)

	return server
}

func testEnvironment(identityURL string) cloud.Environment {
	return cloud.Environment{
		Name:                       "StubCloud",
		ActiveDirectoryEndpointURL: identityURL,
		ActiveDirectoryResourceID:  testManagementResource,
		ResourceManagerEndpointURL: "https://management.azure.com/",
	}
}

type subscriptionFixture struct {
	ID   string
	Name string
}

// fakeDirectoryTransport answers ARM requests. The tenant of each request is taken from its bearer token.
type fakeDirectoryTransport struct {
	t *testing.T

	tenants       []string
	tenantsStatus int
	subscriptions map[string][]subscriptionFixture
	failing       map[string]bool
	delays        map[string]time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu       sync.Mutex
	requests []string
}

func (f *fakeDirectoryTransport) Do(req *http.Request) (*http.Response, error) {
	token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	tenant, err := auth.GetTenantIdFromToken(token)
	if err != nil {
		return f.respond(req, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "InvalidToken"}})
	}

	f.mu.Lock()
	f.requests = append(f.requests, tenant+" "+req.URL.Path)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if d, has := f.delays[tenant]; has {
		time.Sleep(d)
	}

	path := strings.TrimSuffix(req.URL.Path, "/")
	switch {
	case path == "/tenants":
		if f.tenantsStatus != 0 {
			return f.respond(req, f.tenantsStatus, map[string]any{
				"error": map[string]string{"code": "Forbidden", "message": "tenant listing failed"},
			})
		}
		value := []map[string]any{}
		for _, id := range f.tenants {
			value = append(value, map[string]any{"id": "/tenants/" + id, "tenantId": id, "displayName": id})
		}
		return f.respond(req, http.StatusOK, map[string]any{"value": value})

	case path == "/subscriptions":
		if f.failing[tenant] {
			return f.respond(req, http.StatusForbidden, map[string]any{
				"error": map[string]string{"code": "AuthorizationFailed", "message": "no access to " + tenant},
			})
		}
		value := []map[string]any{}
		for _, s := range f.subscriptions[tenant] {
			value = append(value, map[string]any{
				"id":             "/subscriptions/" + s.ID,
				"subscriptionId": s.ID,
				"displayName":    s.Name,
				"state":          "Enabled",
				"tenantId":       tenant,
			})
		}
		return f.respond(req, http.StatusOK, map[string]any{"value": value})

	case strings.HasSuffix(path, "/providers"):
		return f.respond(req, http.StatusOK, map[string]any{"value": []map[string]any{
			{"namespace": "Microsoft.Compute", "registrationState": "Registered"},
			{"namespace": "Microsoft.Web", "registrationState": "NotRegistered"},
		}})
	}

	return f.respond(req, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "NotFound"}})
}

func (f *fakeDirectoryTransport) respond(req *http.Request, status int, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	require.NoError(f.t, err)

	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(data)),
		Request:    req,
	}, nil
}

func (f *fakeDirectoryTransport) subscriptionRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, r := range f.requests {
		if strings.HasSuffix(r, " /subscriptions") {
			n++
		}
	}
	return n
}
