// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/azure/azure-xplat-cli/pkg/auth"
	log "github.com/sirupsen/logrus"
)

// ErrLoginExpired is returned when the stored credentials of a subscription were rejected.
var ErrLoginExpired = errors.New("the stored credentials are no longer valid, run `azure login` to login again")

// Session rebuilds the sign in that loaded sub without prompting. Users are resumed from the token cache and
// service principals sign in again with their stored secret.
func (l *Loader) Session(ctx context.Context, sub Subscription) (*auth.AuthContext, error) {
	cfg, err := l.env.AuthConfig(sub.TenantID)
	if err != nil {
		return nil, err
	}

	switch sub.User.Type {
	case auth.UserTypeServicePrincipal:
		if l.options.Secrets == nil {
			return nil, fmt.Errorf("no secret store is available for service principal '%s': %w",
				sub.User.Name, ErrNotLoggedIn)
		}

		secret, err := l.options.Secrets.ServicePrincipalSecret(sub.TenantID, sub.User.Name)
		if errors.Is(err, auth.ErrSecretNotFound) {
			return nil, fmt.Errorf("no secret is stored for service principal '%s': %w", sub.User.Name, ErrNotLoggedIn)
		} else if err != nil {
			return nil, err
		}

		session, err := l.authenticator.Authenticate(ctx, cfg, auth.ServicePrincipalSecret{
			AppID:  sub.User.Name,
			Secret: secret,
		})
		if err != nil {
			return nil, relogin(err)
		}
		return session, nil
	default:
		session, err := l.authenticator.ResumeUser(cfg, l.store, sub.User.Name)
		if errors.Is(err, auth.ErrNoCachedToken) {
			return nil, fmt.Errorf("%w: %w", ErrNotLoggedIn, err)
		} else if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// AccessToken returns a token for resource in the tenant of sub and saves any token minted for it. An empty
// resource, or any alias of the management plane, selects the management resource.
func (l *Loader) AccessToken(ctx context.Context, sub Subscription, resource string) (azcore.AccessToken, error) {
	if resource == "" || l.env.IsManagementResource(resource) {
		resource = l.env.ActiveDirectoryResourceID
	}

	session, err := l.Session(ctx, sub)
	if err != nil {
		return azcore.AccessToken{}, err
	}

	tok, err := session.Token(ctx, sub.TenantID, resource)
	if err != nil {
		return azcore.AccessToken{}, relogin(err)
	}

	if entries := session.Entries(); len(entries) > 0 {
		if err := l.store.Add(entries); err != nil {
			return azcore.AccessToken{}, fmt.Errorf("saving tokens: %w", err)
		}
	}

	log.WithFields(log.Fields{
		"subscription": sub.ID,
		"resource":     resource,
	}).Debug("acquired access token")

	return tok, nil
}

// relogin marks failures where the identity provider rejected the stored credential.
func relogin(err error) error {
	var classified *auth.ClassifiedError
	if errors.As(err, &classified) && classified.IsUnauthorized() {
		return fmt.Errorf("%w: %w", ErrLoginExpired, err)
	}

	return err
}
