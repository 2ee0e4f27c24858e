// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateUsernamePassword(t *testing.T) {
	p := newStubProvider(t)
	p.onToken = func(req tokenRequest) (int, any) {
		switch req.form.Get("grant_type") {
		case "password":
			require.Equal(t, "common", req.tenant)
			require.Equal(t, "user@contoso.com", req.form.Get("username"))
			require.Equal(t, "pass", req.form.Get("password"))
			require.Equal(t, DefaultClientID, req.form.Get("client_id"))
			require.Contains(t, req.form.Get("scope"), testManagementResource+"/.default")
			require.Contains(t, req.form.Get("scope"), "offline_access")
			return http.StatusOK, tokenResponse(newTestToken(t, jwt.MapClaims{
				"tid": "T1",
				"upn": "user@contoso.com",
				"aud": testManagementResource,
			}), "rt-1")
		case "refresh_token":
			require.Equal(t, "rt-1", req.form.Get("refresh_token"))
			return http.StatusOK, tokenResponse(newTestToken(t, jwt.MapClaims{
				"tid": req.tenant,
				"upn": "user@contoso.com",
			}), "rt-2")
		}
		return http.StatusBadRequest, errorResponse("unsupported_grant_type", "unexpected grant")
	}

	a := NewAuthenticator(nil)
	authCtx, err := a.Authenticate(context.Background(), p.authConfig(""), UsernamePassword{
		Username: "user@contoso.com",
		Password: "pass",
	})
	require.NoError(t, err)
	require.Equal(t, "user@contoso.com", authCtx.UserID)
	require.Equal(t, "T1", authCtx.TenantID)
	require.Equal(t, UserTypeUser, authCtx.UserType)

	entries := authCtx.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, p.server.URL+"/common", entries[0].Authority)
	require.Equal(t, testManagementResource, entries[0].Resource)
	require.Equal(t, "rt-1", entries[0].RefreshToken)
	require.True(t, entries[0].IsMRRT)

	// the token for the home tenant is reused rather than minted again
	_, err = authCtx.Token(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, p.recorded(), 1)

	// a token for another tenant is minted silently from the refresh token
	_, err = authCtx.Token(context.Background(), "T2", testManagementResource)
	require.NoError(t, err)

	requests := p.recorded()
	require.Len(t, requests, 2)
	require.Equal(t, "T2", requests[1].tenant)

	entries = authCtx.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, p.server.URL+"/T2", entries[1].Authority)
	require.Equal(t, "T2", entries[1].TenantID)
	require.Equal(t, "rt-2", entries[1].RefreshToken)
}

func TestAuthenticateMfaRequired(t *testing.T) {
	p := newStubProvider(t)
	p.onToken = func(req tokenRequest) (int, any) {
		return http.StatusBadRequest, errorResponse(
			"invalid_grant",
			"AADSTS50076: Due to a configuration change made by your administrator, "+
				"you must use multi-factor authentication to access this resource.",
			50076)
	}

	a := NewAuthenticator(nil)
	_, err := a.Authenticate(context.Background(), p.authConfig(""), UsernamePassword{
		Username: "user@contoso.com",
		Password: "pass",
	})
	require.Error(t, err)

	var classified *ClassifiedError
	require.ErrorAs(t, err, &classified)
	require.True(t, classified.RequiresInteractiveFallback)
	require.Equal(t, http.StatusBadRequest, classified.StatusCode)
	require.NotNil(t, classified.Response)
	require.Equal(t, []int{50076}, classified.Response.ErrorCodes)
	require.Contains(t, err.Error(), "AADSTS50076")
}

func TestAuthenticateBadPassword(t *testing.T) {
	p := newStubProvider(t)
	p.onToken = func(req tokenRequest) (int, any) {
		return http.StatusBadRequest, errorResponse(
			"invalid_grant", "AADSTS50126: Error validating credentials due to invalid username or password.", 50126)
	}

	a := NewAuthenticator(nil)
	_, err := a.Authenticate(context.Background(), p.authConfig(""), UsernamePassword{
		Username: "user@contoso.com",
		Password: "wrong",
	})

	var classified *ClassifiedError
	require.ErrorAs(t, err, &classified)
	require.False(t, classified.RequiresInteractiveFallback)
	require.True(t, classified.IsUnauthorized())
}

func TestAuthenticateInteractive(t *testing.T) {
	p := newStubProvider(t)
	p.onDeviceCode = func(req tokenRequest) (int, any) {
		return http.StatusOK, map[string]any{
			"device_code":      "device-code",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://microsoft.com/devicelogin",
			"expires_in":       900,
			"interval":         1,
		}
	}
	p.onToken = func(req tokenRequest) (int, any) {
		require.Equal(t, "device-code", req.form.Get("device_code"))
		return http.StatusOK, tokenResponse(newTestToken(t, jwt.MapClaims{
			"tid":         "T1",
			"unique_name": "live.com#user@outlook.com",
		}), "rt")
	}

	var prompted DeviceCode
	a := NewAuthenticator(nil)
	authCtx, err := a.Authenticate(context.Background(), p.authConfig(""), Interactive{
		Prompt: func(code DeviceCode) { prompted = code },
	})
	require.NoError(t, err)
	require.Equal(t, "ABCD-EFGH", prompted.UserCode)
	require.Equal(t, "https://microsoft.com/devicelogin", prompted.VerificationURL)
	require.Contains(t, prompted.Message, "ABCD-EFGH")
	require.Equal(t, "live.com#user@outlook.com", authCtx.UserID)
	require.Equal(t, "T1", authCtx.TenantID)
}

func TestAuthenticateWithDeviceCodeCancelled(t *testing.T) {
	p := newStubProvider(t)
	p.onDeviceCode = func(req tokenRequest) (int, any) {
		return http.StatusOK, map[string]any{
			"device_code":      "device-code",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://microsoft.com/devicelogin",
			"expires_in":       900,
			"interval":         1,
		}
	}
	p.onToken = func(req tokenRequest) (int, any) {
		return http.StatusBadRequest, errorResponse("authorization_pending", "AADSTS70016: pending")
	}

	a := NewAuthenticator(nil)
	cfg := p.authConfig("")

	code, err := a.AcquireUserCode(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = a.AuthenticateWithDeviceCode(ctx, cfg, code)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAuthenticateInteractiveRequiresPrompt(t *testing.T) {
	a := NewAuthenticator(nil)
	p := newStubProvider(t)
	_, err := a.Authenticate(context.Background(), p.authConfig(""), Interactive{})
	require.Error(t, err)
	require.Empty(t, p.recorded())
}

func TestAuthenticateServicePrincipalSecret(t *testing.T) {
	p := newStubProvider(t)
	p.onToken = func(req tokenRequest) (int, any) {
		require.Equal(t, "client_credentials", req.form.Get("grant_type"))
		require.Equal(t, "fooTenant", req.tenant)
		require.Equal(t, "sp-app-id", req.form.Get("client_id"))
		require.Equal(t, "sp-secret", req.form.Get("client_secret"))
		return http.StatusOK, tokenResponse(newTestToken(t, jwt.MapClaims{
			"tid":   "fooTenant",
			"appid": "sp-app-id",
		}), "")
	}

	a := NewAuthenticator(nil)

	t.Run("TenantRequired", func(t *testing.T) {
		_, err := a.Authenticate(context.Background(), p.authConfig(""), ServicePrincipalSecret{
			AppID:  "sp-app-id",
			Secret: "sp-secret",
		})
		require.ErrorIs(t, err, ErrTenantRequired)
	})

	t.Run("Success", func(t *testing.T) {
		authCtx, err := a.Authenticate(context.Background(), p.authConfig("fooTenant"), ServicePrincipalSecret{
			AppID:  "sp-app-id",
			Secret: "sp-secret",
		})
		require.NoError(t, err)
		require.Equal(t, "sp-app-id", authCtx.UserID)
		require.Equal(t, "fooTenant", authCtx.TenantID)
		require.Equal(t, UserTypeServicePrincipal, authCtx.UserType)

		entries := authCtx.Entries()
		require.Len(t, entries, 1)
		require.Equal(t, "sp-app-id", entries[0].ClientID)
		require.False(t, entries[0].IsMRRT)
	})
}

func TestAuthenticateServicePrincipalCertificate(t *testing.T) {
	certPEM, cert := newTestCertificate(t)

	p := newStubProvider(t)
	p.onToken = func(req tokenRequest) (int, any) {
		require.Equal(t, "client_credentials", req.form.Get("grant_type"))
		require.Equal(t, cClientAssertionType, req.form.Get("client_assertion_type"))
		require.Empty(t, req.form.Get("client_secret"))

		var claims jwt.RegisteredClaims
		token, err := jwt.ParseWithClaims(req.form.Get("client_assertion"), &claims, func(*jwt.Token) (any, error) {
			return cert.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)
		require.NotEmpty(t, token.Header["x5t"])
		require.Equal(t, "sp-app-id", claims.Issuer)
		require.Equal(t, "sp-app-id", claims.Subject)
		require.Equal(t, jwt.ClaimStrings{p.server.URL + "/fooTenant/oauth2/v2.0/token"}, claims.Audience)

		return http.StatusOK, tokenResponse(newTestToken(t, jwt.MapClaims{"tid": "fooTenant"}), "")
	}

	a := NewAuthenticator(nil)
	authCtx, err := a.Authenticate(context.Background(), p.authConfig("fooTenant"), ServicePrincipalCertificate{
		AppID:           "sp-app-id",
		CertificateData: certPEM,
	})
	require.NoError(t, err)
	require.Equal(t, "sp-app-id", authCtx.UserID)
}

func TestAuthenticateServicePrincipalBadCertificate(t *testing.T) {
	p := newStubProvider(t)
	a := NewAuthenticator(nil)
	_, err := a.Authenticate(context.Background(), p.authConfig("fooTenant"), ServicePrincipalCertificate{
		AppID:           "sp-app-id",
		CertificateData: []byte("not a certificate"),
	})
	require.Error(t, err)
	require.Empty(t, p.recorded())
}

func TestAuthenticateSendsCorrelationID(t *testing.T) {
	p := newStubProvider(t)
	p.onToken = func(req tokenRequest) (int, any) {
		return http.StatusOK, tokenResponse(newTestToken(t, jwt.MapClaims{"tid": "T1", "upn": "u"}), "rt")
	}

	a := NewAuthenticator(nil)
	ctx := WithCorrelationID(context.Background(), "correlation-1")
	_, err := a.Authenticate(ctx, p.authConfig(""), UsernamePassword{Username: "u", Password: "p"})
	require.NoError(t, err)
	require.Equal(t, "correlation-1", p.recorded()[0].requestID)
}

func TestAuthenticateManagedIdentity(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.Header.Get("Metadata"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, testManagementResource, r.PostForm.Get("resource"))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		token := newTestToken(t, jwt.MapClaims{"tid": "T1", "appid": "msi-app"})
		_, _ = w.Write([]byte(`{"access_token":"` + token + `","expires_on":"` +
			strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10) + `","token_type":"Bearer"}`))
	}))
	t.Cleanup(server.Close)

	a := NewAuthenticator(&AuthenticatorOptions{
		ManagedIdentityEndpoint: server.URL,
		ManagedIdentityBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
		},
	})

	p := newStubProvider(t)
	authCtx, err := a.Authenticate(context.Background(), p.authConfig(""), ManagedIdentity{})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, "msi-app", authCtx.UserID)
	require.Equal(t, "T1", authCtx.TenantID)
	require.Equal(t, UserTypeServicePrincipal, authCtx.UserType)
	require.Empty(t, authCtx.Entries())
}

func TestManagedIdentityDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	a := NewAuthenticator(&AuthenticatorOptions{
		ManagedIdentityEndpoint: server.URL,
		ManagedIdentityBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
		},
	})

	p := newStubProvider(t)
	_, err := a.Authenticate(context.Background(), p.authConfig(""), ManagedIdentity{})
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestTokenCredential(t *testing.T) {
	p := newStubProvider(t)
	p.onToken = func(req tokenRequest) (int, any) {
		return http.StatusOK, tokenResponse(newTestToken(t, jwt.MapClaims{"tid": req.tenant, "upn": "u"}), "rt")
	}

	a := NewAuthenticator(nil)
	authCtx, err := a.Authenticate(context.Background(), p.authConfig("T1"), UsernamePassword{Username: "u", Password: "p"})
	require.NoError(t, err)

	cred := authCtx.TokenCredential("T2")
	_, err = cred.GetToken(context.Background(), policy.TokenRequestOptions{
		Scopes: []string{testManagementResource + "/.default"},
	})
	require.NoError(t, err)

	requests := p.recorded()
	require.Equal(t, "T2", requests[len(requests)-1].tenant)
	require.Equal(t, testManagementResource+"/.default offline_access", requests[len(requests)-1].form.Get("scope"))

	_, err = cred.GetToken(context.Background(), policy.TokenRequestOptions{})
	require.Error(t, err)
}

func TestTokenMintFailureIsClassified(t *testing.T) {
	p := newStubProvider(t)
	p.onToken = func(req tokenRequest) (int, any) {
		if req.form.Get("grant_type") == "refresh_token" {
			return http.StatusBadRequest, errorResponse("interaction_required", "AADSTS50079: enroll in MFA", 50079)
		}
		return http.StatusOK, tokenResponse(newTestToken(t, jwt.MapClaims{"tid": "T1", "upn": "u"}), "rt")
	}

	a := NewAuthenticator(nil)
	authCtx, err := a.Authenticate(context.Background(), p.authConfig(""), UsernamePassword{Username: "u", Password: "p"})
	require.NoError(t, err)

	_, err = authCtx.Token(context.Background(), "T2", "")
	var classified *ClassifiedError
	require.True(t, errors.As(err, &classified))
	require.True(t, classified.RequiresInteractiveFallback)
	require.Len(t, authCtx.Entries(), 1)
}

func newTestCertificate(t *testing.T) ([]byte, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sp-app-id"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})...)

	return data, cert
}
