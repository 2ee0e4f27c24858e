// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package cmd

import (
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/azure/azure-xplat-cli/pkg/account"
	"github.com/azure/azure-xplat-cli/pkg/auth"
	"github.com/azure/azure-xplat-cli/pkg/cloud"
	"github.com/azure/azure-xplat-cli/pkg/config"
	"github.com/azure/azure-xplat-cli/pkg/ioc"
	log "github.com/sirupsen/logrus"
)

// ConfigDir is the directory holding the user configuration, token cache and profile.
type ConfigDir string

const (
	cDefaultSubscriptionKey = "defaults.subscription"
	cTenantConcurrencyKey   = "auth.tenantConcurrency"
)

func newContainer() *ioc.Container {
	container := ioc.NewContainer()
	container.RegisterSingleton(func() (ConfigDir, error) {
		dir, err := config.GetUserConfigDir()
		return ConfigDir(dir), err
	})
	RegisterDependencies(container)

	return container
}

// RegisterDependencies registers every service a command resolves, except ConfigDir. A policy.Transporter
// registered by the caller replaces the HTTP transport of ARM requests.
func RegisterDependencies(container *ioc.Container) {
	container.RegisterSingleton(func() config.FileConfigManager {
		return config.NewFileConfigManager(config.NewManager())
	})

	container.RegisterSingleton(func(dir ConfigDir, manager config.FileConfigManager) (config.Config, error) {
		return config.LoadOrEmpty(manager, userConfigPath(dir))
	})

	container.RegisterSingleton(cloud.FromConfig)

	container.RegisterSingleton(func(dir ConfigDir) auth.Store {
		return auth.NewFileStore(auth.DefaultTokenFilePath(string(dir)))
	})

	container.RegisterSingleton(func(dir ConfigDir) *account.Profile {
		return account.NewProfile(account.DefaultProfilePath(string(dir)))
	})

	container.RegisterSingleton(func() *auth.Authenticator {
		return auth.NewAuthenticator(nil)
	})

	container.RegisterSingleton(func(env cloud.Environment) account.Directory {
		var transport policy.Transporter
		if err := container.Resolve(&transport); err != nil {
			transport = nil
		}
		return account.NewDirectory(env, transport)
	})

	container.RegisterSingleton(func(
		env cloud.Environment,
		authenticator *auth.Authenticator,
		store auth.Store,
		directory account.Directory,
		cfg config.Config,
	) *account.Loader {
		return account.NewLoader(env, authenticator, store, directory, &account.LoaderOptions{
			TenantConcurrency: tenantConcurrency(cfg),
			Secrets:           resolveSecretStore(container),
		})
	})
}

func userConfigPath(dir ConfigDir) string {
	return filepath.Join(string(dir), "config.json")
}

// The keyring is optional: without one, service principal secrets are not kept.
func resolveSecretStore(container *ioc.Container) *auth.SecretStore {
	var secrets *auth.SecretStore
	if err := container.Resolve(&secrets); err == nil {
		return secrets
	}

	secrets, err := auth.OpenSecretStore(nil)
	if err != nil {
		log.Debugf("service principal secrets will not be stored: %v", err)
		return nil
	}

	return secrets
}

func tenantConcurrency(cfg config.Config) int {
	v, has := cfg.Get(cTenantConcurrencyKey)
	if !has {
		return 0
	}

	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		log.Warnf("ignoring %s: expected a number, got %v", cTenantConcurrencyKey, v)
		return 0
	}
}
