// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

// Package auth signs callers in to Azure Active Directory and manages the tokens that result.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/azure/azure-xplat-cli/pkg/cloud"
	"github.com/benbjohnson/clock"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// DefaultClientID is the public client application id of the CLI.
const DefaultClientID = "04b07795-8ddb-461a-bbee-02f9e1bf7b46"

var tracer = otel.Tracer("github.com/azure/azure-xplat-cli/pkg/auth")

// UserCodePrompt shows a device code to the operator. It is called once, before polling starts.
type UserCodePrompt func(code DeviceCode)

// DeviceCode is the first half of the device code flow.
type DeviceCode struct {
	UserCode        string
	VerificationURL string
	Message         string
	ExpiresOn       time.Time

	response *oauth2.DeviceAuthResponse
}

// AuthenticatorOptions configures an Authenticator. The zero value is usable.
type AuthenticatorOptions struct {
	// ClientID of the public client used by user flows. Defaults to [DefaultClientID].
	ClientID string
	// HTTPClient used for every identity provider call.
	HTTPClient *http.Client
	Clock      clock.Clock
	// Classifier annotates failures. Defaults to [DefaultClassificationRules].
	Classifier *Classifier
	// ManagedIdentityEndpoint overrides the local managed identity token endpoint.
	ManagedIdentityEndpoint string
	// ManagedIdentityBackoff controls retries against the managed identity endpoint.
	ManagedIdentityBackoff func() retry.Backoff
}

// Authenticator exchanges credentials for an AuthContext.
type Authenticator struct {
	clientID    string
	httpClient  *http.Client
	grants      *grantClient
	clock       clock.Clock
	classifier  *Classifier
	msiEndpoint string
	msiBackoff  func() retry.Backoff
}

// NewAuthenticator creates an Authenticator. options may be nil.
func NewAuthenticator(options *AuthenticatorOptions) *Authenticator {
	if options == nil {
		options = &AuthenticatorOptions{}
	}

	a := &Authenticator{
		clientID:    options.ClientID,
		httpClient:  newHTTPClient(options.HTTPClient),
		clock:       options.Clock,
		classifier:  options.Classifier,
		msiEndpoint: options.ManagedIdentityEndpoint,
		msiBackoff:  options.ManagedIdentityBackoff,
	}

	if a.clientID == "" {
		a.clientID = DefaultClientID
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.classifier == nil {
		a.classifier = NewClassifier()
	}
	if a.msiBackoff == nil {
		a.msiBackoff = defaultManagedIdentityBackoff
	}
	a.grants = &grantClient{httpClient: a.httpClient}

	return a
}

// ClientID is the public client application id used for user flows.
func (a *Authenticator) ClientID() string {
	return a.clientID
}

// Authenticate signs in with cred against the tenant of cfg. Failures are returned as *ClassifiedError.
//
// Authenticate does not touch any token cache: tokens minted while signing in are available from
// [AuthContext.Entries] for the caller to persist.
func (a *Authenticator) Authenticate(ctx context.Context, cfg cloud.AuthConfig, cred Credential) (*AuthContext, error) {
	if cred == nil {
		return nil, errors.New("no credential provided")
	}

	ctx, span := tracer.Start(ctx, "auth.authenticate", trace.WithAttributes(
		attribute.String("auth.credential", cred.kind()),
		attribute.String("auth.tenant", cfg.TenantID),
	))
	defer span.End()

	authCtx, err := cred.authenticate(ctx, a, cfg)
	if err != nil {
		return nil, a.fail(span, cred.kind(), err)
	}

	log.WithFields(log.Fields{
		"credential": cred.kind(),
		"user":       authCtx.UserID,
		"tenant":     authCtx.TenantID,
	}).Debug("authenticated")

	return authCtx, nil
}

// AcquireUserCode starts the device code flow. The returned code is shown to the operator and then passed to
// [Authenticator.AuthenticateWithDeviceCode].
func (a *Authenticator) AcquireUserCode(ctx context.Context, cfg cloud.AuthConfig) (*DeviceCode, error) {
	ctx, span := tracer.Start(ctx, "auth.acquireUserCode")
	defer span.End()

	code, err := a.acquireUserCode(ctx, cfg)
	if err != nil {
		return nil, a.fail(span, Interactive{}.kind(), err)
	}

	return code, nil
}

// AuthenticateWithDeviceCode blocks until the operator completes sign in, the code expires or ctx is done.
// Cancelling ctx stops polling immediately.
func (a *Authenticator) AuthenticateWithDeviceCode(
	ctx context.Context, cfg cloud.AuthConfig, code *DeviceCode,
) (*AuthContext, error) {
	ctx, span := tracer.Start(ctx, "auth.authenticateWithDeviceCode")
	defer span.End()

	authCtx, err := a.authenticateWithDeviceCode(ctx, cfg, code)
	if err != nil {
		return nil, a.fail(span, Interactive{}.kind(), err)
	}

	return authCtx, nil
}

func (a *Authenticator) fail(span trace.Span, kind string, err error) *ClassifiedError {
	classified := a.classifier.Classify(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, "authentication failed")
	log.WithFields(log.Fields{
		"credential":  kind,
		"interactive": classified.RequiresInteractiveFallback,
		"status":      classified.StatusCode,
	}).Debugf("authentication failed: %v", err)

	return classified
}

func (a *Authenticator) acquireUserCode(ctx context.Context, cfg cloud.AuthConfig) (*DeviceCode, error) {
	res, err := a.grants.deviceAuth(ctx, cfg, a.clientID)
	if err != nil {
		return nil, err
	}

	url := res.VerificationURI
	if url == "" {
		url = res.VerificationURIComplete
	}

	return &DeviceCode{
		UserCode:        res.UserCode,
		VerificationURL: url,
		Message: fmt.Sprintf(
			"To sign in, use a web browser to open the page %s and enter the code %s to authenticate.", url, res.UserCode),
		ExpiresOn: res.Expiry,
		response:  res,
	}, nil
}

func (a *Authenticator) authenticateWithDeviceCode(
	ctx context.Context, cfg cloud.AuthConfig, code *DeviceCode,
) (*AuthContext, error) {
	if code == nil || code.response == nil {
		return nil, errors.New("device code was not acquired with AcquireUserCode")
	}

	tok, err := a.grants.deviceToken(ctx, cfg, a.clientID, code.response)
	if err != nil {
		return nil, err
	}

	return a.newUserContext(cfg, "", tok)
}

// newUserContext builds the context of a user sign in. The tenant is taken from the token, which matters when
// signing in against the common endpoint. userID defaults to the user named by the token.
func (a *Authenticator) newUserContext(cfg cloud.AuthConfig, userID string, tok *oauth2.Token) (*AuthContext, error) {
	claims, err := GetClaimsFromAccessToken(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("reading access token: %w", err)
	}

	tenantID := claims.TenantID
	if tenantID == "" {
		if cfg.IsMultiTenant() {
			return nil, errors.New("access token has no tid claim")
		}
		tenantID = cfg.TenantID
	}

	if userID == "" {
		userID = claims.UserID()
	}

	handle := &refreshTokenHandle{
		grants:       a.grants,
		clientID:     a.clientID,
		refreshToken: tok.RefreshToken,
	}

	authCtx := a.newAuthContext(cfg, userID, tenantID, UserTypeUser, handle)
	authCtx.record(cfg, tenantID, cfg.ResourceID, tok)

	return authCtx, nil
}

func (a *Authenticator) newServicePrincipalContext(
	ctx context.Context, cfg cloud.AuthConfig, appID string, handle *clientCredentialHandle,
) (*AuthContext, error) {
	if appID == "" {
		return nil, errors.New("an application id is required")
	}

	tok, err := handle.token(ctx, cfg, cfg.ResourceID)
	if err != nil {
		return nil, err
	}

	authCtx := a.newAuthContext(cfg, appID, cfg.TenantID, UserTypeServicePrincipal, handle)
	authCtx.record(cfg, cfg.TenantID, cfg.ResourceID, tok)

	return authCtx, nil
}
