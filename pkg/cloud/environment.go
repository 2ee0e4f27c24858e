// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

// Package cloud describes the Azure clouds the CLI can sign in to and derives the authentication
// configuration used against each of them.
package cloud

import (
	"errors"
	"fmt"
	"strings"

	"dario.cat/mergo"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/azure/azure-xplat-cli/pkg/config"
)

const (
	AzureCloud        = "AzureCloud"
	AzureChinaCloud   = "AzureChinaCloud"
	AzureUSGovernment = "AzureUSGovernment"
)

// Config paths consulted by [FromConfig].
const (
	cCloudNameKey      = "cloud.name"
	cCloudOverridesKey = "cloud.overrides"
)

// ErrInvalidEnvironment is returned when an Environment lacks the fields required to authenticate.
var ErrInvalidEnvironment = errors.New("invalid cloud environment")

// Environment is the immutable descriptor of a single Azure cloud.
type Environment struct {
	Name                       string `json:"name"`
	ActiveDirectoryEndpointURL string `json:"activeDirectoryEndpointUrl"`
	ActiveDirectoryResourceID  string `json:"activeDirectoryResourceId"`
	ResourceManagerEndpointURL string `json:"resourceManagerEndpointUrl"`
	GraphResourceID            string `json:"activeDirectoryGraphResourceId,omitempty"`
	KeyVaultResourceID         string `json:"keyVaultResourceId,omitempty"`
}

var builtinEnvironments = map[string]Environment{
	AzureCloud: {
		Name:                       AzureCloud,
		ActiveDirectoryEndpointURL: "https://login.microsoftonline.com",
		ActiveDirectoryResourceID:  "https://management.core.windows.net/",
		ResourceManagerEndpointURL: "https://management.azure.com/",
		GraphResourceID:            "https://graph.windows.net/",
		KeyVaultResourceID:         "https://vault.azure.net",
	},
	AzureChinaCloud: {
		Name:                       AzureChinaCloud,
		ActiveDirectoryEndpointURL: "https://login.chinacloudapi.cn",
		ActiveDirectoryResourceID:  "https://management.core.chinacloudapi.cn/",
		ResourceManagerEndpointURL: "https://management.chinacloudapi.cn/",
		GraphResourceID:            "https://graph.chinacloudapi.cn/",
		KeyVaultResourceID:         "https://vault.azure.cn",
	},
	AzureUSGovernment: {
		Name:                       AzureUSGovernment,
		ActiveDirectoryEndpointURL: "https://login.microsoftonline.us",
		ActiveDirectoryResourceID:  "https://management.core.usgovcloudapi.net/",
		ResourceManagerEndpointURL: "https://management.usgovcloudapi.net/",
		GraphResourceID:            "https://graph.windows.net/",
		KeyVaultResourceID:         "https://vault.usgovcloudapi.net",
	},
}

// Lookup returns the built-in environment with the given name (case-insensitive).
func Lookup(name string) (Environment, error) {
	for key, env := range builtinEnvironments {
		if strings.EqualFold(key, name) {
			return env, nil
		}
	}

	return Environment{}, fmt.Errorf("%w: unknown cloud '%s'", ErrInvalidEnvironment, name)
}

// WithOverrides returns a copy of base where every non-empty field of overrides replaces the base value.
func WithOverrides(base Environment, overrides Environment) (Environment, error) {
	merged := base
	if err := mergo.Merge(&merged, overrides, mergo.WithOverride); err != nil {
		return Environment{}, fmt.Errorf("merging cloud overrides: %w", err)
	}

	return merged, nil
}

// FromConfig resolves the environment selected in user configuration. The cloud defaults to AzureCloud,
// and fields under "cloud.overrides" are merged over the selected built-in cloud.
func FromConfig(cfg config.Config) (Environment, error) {
	name, has := cfg.GetString(cCloudNameKey)
	if !has || name == "" {
		name = AzureCloud
	}

	env, err := Lookup(name)
	if err != nil {
		return Environment{}, err
	}

	var overrides Environment
	has, err = cfg.GetSection(cCloudOverridesKey, &overrides)
	if err != nil {
		return Environment{}, fmt.Errorf("reading cloud overrides: %w", err)
	}

	if has {
		if env, err = WithOverrides(env, overrides); err != nil {
			return Environment{}, err
		}
	}

	return env, env.Validate()
}

// Validate checks that the fields needed for authentication and subscription discovery are present.
func (e Environment) Validate() error {
	var missing []string
	if e.ActiveDirectoryEndpointURL == "" {
		missing = append(missing, "activeDirectoryEndpointUrl")
	}
	if e.ActiveDirectoryResourceID == "" {
		missing = append(missing, "activeDirectoryResourceId")
	}
	if e.ResourceManagerEndpointURL == "" {
		missing = append(missing, "resourceManagerEndpointUrl")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: '%s' is missing %s", ErrInvalidEnvironment, e.Name, strings.Join(missing, ", "))
	}

	return nil
}

// Configuration converts the environment to the azcore cloud configuration used by ARM clients.
func (e Environment) Configuration() cloud.Configuration {
	return cloud.Configuration{
		ActiveDirectoryAuthorityHost: strings.TrimSuffix(e.ActiveDirectoryEndpointURL, "/") + "/",
		Services: map[cloud.ServiceName]cloud.ServiceConfiguration{
			cloud.ResourceManager: {
				Audience: e.ActiveDirectoryResourceID,
				Endpoint: e.ResourceManagerEndpointURL,
			},
		},
	}
}

// IsManagementResource reports whether resource identifies the management plane of this cloud.
// Trailing slashes are not significant.
func (e Environment) IsManagementResource(resource string) bool {
	normalize := func(s string) string {
		return strings.ToLower(strings.TrimSuffix(s, "/"))
	}

	r := normalize(resource)
	return r == normalize(e.ActiveDirectoryResourceID) || r == normalize(e.ResourceManagerEndpointURL)
}
