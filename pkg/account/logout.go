// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package account

import (
	"fmt"

	"github.com/azure/azure-xplat-cli/pkg/auth"
	log "github.com/sirupsen/logrus"
)

// Logout forgets userName on this machine: its profile subscriptions, its cached tokens and, for a service
// principal, its stored secrets. secrets may be nil.
func Logout(profile *Profile, store auth.Store, secrets *auth.SecretStore, userName string) error {
	removed, err := profile.RemoveUser(userName)
	if err != nil {
		return err
	}

	tokens, err := store.Remove(auth.Query{UserID: userName})
	if err != nil {
		return fmt.Errorf("removing cached tokens: %w", err)
	}

	if len(removed) == 0 && tokens == 0 {
		return fmt.Errorf("%w: no account named '%s'", ErrNotLoggedIn, userName)
	}

	if secrets != nil {
		for _, s := range removed {
			if s.User.Type != auth.UserTypeServicePrincipal {
				continue
			}
			if err := secrets.RemoveServicePrincipalSecret(s.TenantID, userName); err != nil {
				log.Warnf("unable to remove service principal secret: %v", err)
			}
		}
	}

	log.WithField("user", userName).Debugf("removed %d subscription(s) and %d token(s)", len(removed), tokens)
	return nil
}
