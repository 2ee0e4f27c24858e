// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
	log "github.com/sirupsen/logrus"
)

const cKeyringServiceName = "azure-xplat-cli"

// ErrSecretNotFound is returned when no secret is stored for a service principal.
var ErrSecretNotFound = errors.New("no secret stored for service principal")

// SecretStore keeps service principal secrets in the OS keyring, so that later commands can mint tokens
// silently.
type SecretStore struct {
	ring keyring.Keyring
}

// NewSecretStore wraps an opened keyring.
func NewSecretStore(ring keyring.Keyring) *SecretStore {
	return &SecretStore{ring: ring}
}

// ErrNoKeyring is returned when none of the allowed keyring backends is available.
var ErrNoKeyring = errors.New("no OS keyring is available")

// OpenSecretStore opens the OS keyring of the current user, restricted to allowedBackends when given. The file
// backend is never used: it would keep secrets under a fixed passphrase.
func OpenSecretStore(allowedBackends []keyring.BackendType) (*SecretStore, error) {
	if allowedBackends == nil {
		allowedBackends = keyring.AvailableBackends()
	}

	backends := withoutFileBackend(allowedBackends)
	if len(backends) == 0 {
		return nil, ErrNoKeyring
	}

	ring, err := keyring.Open(keyring.Config{
		AllowedBackends:          backends,
		ServiceName:              cKeyringServiceName,
		KeychainTrustApplication: true,
		LibSecretCollectionName:  cKeyringServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}

	return NewSecretStore(ring), nil
}

func withoutFileBackend(backends []keyring.BackendType) []keyring.BackendType {
	res := make([]keyring.BackendType, 0, len(backends))
	for _, b := range backends {
		if b != keyring.FileBackend {
			res = append(res, b)
		}
	}

	return res
}

func secretKey(tenantID string, appID string) string {
	return fmt.Sprintf("sp:%s:%s", strings.ToLower(tenantID), strings.ToLower(appID))
}

// SetServicePrincipalSecret stores secret for appID in tenantID, replacing any previous value.
func (s *SecretStore) SetServicePrincipalSecret(tenantID string, appID string, secret string) error {
	key := secretKey(tenantID, appID)
	log.Debugf("keyring key: %s", key)

	return s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(secret),
		Label: "service principal secret",
	})
}

// ServicePrincipalSecret returns the secret stored for appID in tenantID.
func (s *SecretStore) ServicePrincipalSecret(tenantID string, appID string) (string, error) {
	item, err := s.ring.Get(secretKey(tenantID, appID))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrSecretNotFound
	} else if err != nil {
		return "", fmt.Errorf("reading keyring: %w", err)
	}

	return string(item.Data), nil
}

// RemoveServicePrincipalSecret deletes the secret for appID in tenantID. A missing secret is not an error.
func (s *SecretStore) RemoveServicePrincipalSecret(tenantID string, appID string) error {
	err := s.ring.Remove(secretKey(tenantID, appID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("removing keyring item: %w", err)
	}

	return nil
}
