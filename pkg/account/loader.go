// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/azure/azure-xplat-cli/pkg/auth"
	"github.com/azure/azure-xplat-cli/pkg/cloud"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LoadOptions selects how [Loader.Load] signs in.
type LoadOptions struct {
	// Interactive signs in with the device code flow. It is implied when no username is given.
	Interactive bool
	// ServicePrincipal treats the username as an application id and the password as its secret.
	ServicePrincipal bool
	// CloudConsoleLogin uses the tokens handed over by a cloud console host instead of signing in.
	CloudConsoleLogin bool
	// ManagedIdentity signs in with the identity of the host.
	ManagedIdentity bool

	// Certificate, with ServicePrincipal, is PEM or PKCS#12 data used instead of a secret.
	Certificate []byte
	// Thumbprint of Certificate, computed when empty.
	Thumbprint string
	// ConsoleTokens is the external token blob. Empty reads [auth.ConsoleTokensEnvVar].
	ConsoleTokens string
	// Prompt shows the device code to the operator in interactive sign in.
	Prompt auth.UserCodePrompt

	// DefaultSubscriptionID pins the default subscription when the account can access it.
	DefaultSubscriptionID string
	// ResolveProviders looks up the registered resource providers of every subscription.
	ResolveProviders bool
}

// LoaderOptions configures a Loader. The zero value is usable.
type LoaderOptions struct {
	// TenantConcurrency bounds the tenants queried at once.
	TenantConcurrency int
	// Secrets, when set, keeps service principal secrets for later silent sign in.
	Secrets *auth.SecretStore
}

// Loader signs in and loads the subscriptions of the resulting identity.
type Loader struct {
	env           cloud.Environment
	authenticator *auth.Authenticator
	store         auth.Store
	directory     Directory
	options       LoaderOptions
}

func NewLoader(
	env cloud.Environment,
	authenticator *auth.Authenticator,
	store auth.Store,
	directory Directory,
	options *LoaderOptions,
) *Loader {
	l := &Loader{
		env:           env,
		authenticator: authenticator,
		store:         store,
		directory:     directory,
	}
	if options != nil {
		l.options = *options
	}

	return l
}

// Load signs in and returns every subscription the identity can access.
//
// When tenant is empty a user signs in against the common tenant and every tenant the user belongs to is
// searched. A tenant whose subscriptions cannot be listed is skipped. Tokens are written to the token cache only
// once the whole load succeeded.
func (l *Loader) Load(
	ctx context.Context, username string, password string, tenant string, options LoadOptions,
) (*Account, error) {
	correlationID := uuid.NewString()
	ctx = auth.WithCorrelationID(ctx, correlationID)
	logger := log.WithField("correlationId", correlationID)

	ctx, span := tracer.Start(ctx, "account.load", trace.WithAttributes(
		attribute.String("account.correlationId", correlationID),
		attribute.String("account.environment", l.env.Name),
	))
	defer span.End()

	account, err := l.load(ctx, logger, username, password, tenant, options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("account.subscriptions", len(account.Subscriptions)))
	return account, nil
}

func (l *Loader) load(
	ctx context.Context,
	logger *log.Entry,
	username string,
	password string,
	tenant string,
	options LoadOptions,
) (*Account, error) {
	cfg, err := l.env.AuthConfig(tenant)
	if err != nil {
		return nil, err
	}

	cred, err := credentialFor(username, password, options)
	if err != nil {
		return nil, err
	}

	session, err := l.authenticator.Authenticate(ctx, cfg, cred)
	if err != nil {
		return nil, err
	}

	logger = logger.WithFields(log.Fields{"user": session.UserID, "tenant": session.TenantID})

	tenantIDs := []string{session.TenantID}
	if discoversTenants(cfg, cred) {
		tenants, err := DiscoverTenants(ctx, l.directory, session)
		if err != nil {
			return nil, err
		}
		tenantIDs = idsOf(tenants)
	}

	enumerator := NewEnumerator(l.directory, l.options.TenantConcurrency, l.env.Name, options.ResolveProviders)
	subscriptions, err := enumerator.Enumerate(ctx, session, tenantIDs)
	if err != nil {
		return nil, err
	}

	markDefault(subscriptions, options.DefaultSubscriptionID)

	if err := l.persist(cfg, cred, session, tenant); err != nil {
		return nil, err
	}

	logger.Debugf("loaded %d subscription(s) from %d tenant(s)", len(subscriptions), len(tenantIDs))

	return &Account{
		Subscriptions:   subscriptions,
		User:            User{Name: session.UserID, Type: session.UserType},
		TenantID:        session.TenantID,
		ClientID:        session.ClientID,
		EnvironmentName: l.env.Name,
		Session:         session,
	}, nil
}

// persist writes the tokens minted during the load. External tokens are merged as handed over. A service
// principal secret is kept only once its tokens are saved.
func (l *Loader) persist(cfg cloud.AuthConfig, cred auth.Credential, session *auth.AuthContext, tenant string) error {
	if c, ok := cred.(auth.ExternalTokens); ok {
		tokens, err := auth.ParseExternalTokens(c.Raw)
		if err != nil {
			return err
		}
		if _, err := auth.NewMerger(l.store, l.authenticator.ClientID()).Merge(cfg, tokens); err != nil {
			return err
		}
	}

	if entries := session.Entries(); len(entries) > 0 {
		if err := l.store.Add(entries); err != nil {
			return fmt.Errorf("saving tokens: %w", err)
		}
	}

	if c, ok := cred.(auth.ServicePrincipalSecret); ok && l.options.Secrets != nil {
		if err := l.options.Secrets.SetServicePrincipalSecret(tenant, c.AppID, c.Secret); err != nil {
			log.Warnf("unable to store service principal secret: %v", err)
		}
	}

	return nil
}

// credentialFor selects the credential variant described by the load options.
func credentialFor(username string, password string, options LoadOptions) (auth.Credential, error) {
	switch {
	case options.CloudConsoleLogin:
		if options.ConsoleTokens != "" {
			return auth.ExternalTokens{Raw: options.ConsoleTokens}, nil
		}
		return auth.ExternalTokensFromEnv()
	case options.ManagedIdentity:
		return auth.ManagedIdentity{}, nil
	case options.ServicePrincipal:
		if username == "" {
			return nil, errors.New("a service principal sign in requires the application id as username")
		}
		if len(options.Certificate) > 0 {
			return auth.ServicePrincipalCertificate{
				AppID:           username,
				CertificateData: options.Certificate,
				Thumbprint:      options.Thumbprint,
			}, nil
		}
		return auth.ServicePrincipalSecret{AppID: username, Secret: password}, nil
	case options.Interactive || username == "":
		return auth.Interactive{Prompt: options.Prompt}, nil
	default:
		return auth.UsernamePassword{Username: username, Password: password}, nil
	}
}

// Only user sign ins against the common tenant search other tenants. Service principals, external tokens and
// managed identities are bound to a single tenant.
func discoversTenants(cfg cloud.AuthConfig, cred auth.Credential) bool {
	if !cfg.IsMultiTenant() {
		return false
	}

	switch cred.(type) {
	case auth.UsernamePassword, auth.Interactive:
		return true
	default:
		return false
	}
}
