// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package cloud

import (
	"fmt"
	"strings"
)

// CommonTenant is the tenant used when the caller did not pin one, which lets the identity provider pick
// the user's home tenant and enables multi-tenant discovery.
const CommonTenant = "common"

// AuthConfig is the per-attempt authentication target: the tenant, the identity provider base and the resource
// that management-plane tokens are requested for.
type AuthConfig struct {
	TenantID     string
	AuthorityURL string
	ResourceID   string
}

// AuthConfig derives the authentication configuration for tenantID. An empty tenantID resolves to
// [CommonTenant].
func (e Environment) AuthConfig(tenantID string) (AuthConfig, error) {
	if e.ActiveDirectoryEndpointURL == "" || e.ActiveDirectoryResourceID == "" {
		return AuthConfig{}, fmt.Errorf(
			"%w: '%s' needs activeDirectoryEndpointUrl and activeDirectoryResourceId to authenticate",
			ErrInvalidEnvironment,
			e.Name)
	}

	if tenantID == "" {
		tenantID = CommonTenant
	}

	return AuthConfig{
		TenantID:     tenantID,
		AuthorityURL: e.ActiveDirectoryEndpointURL,
		ResourceID:   e.ActiveDirectoryResourceID,
	}, nil
}

// ForTenant returns a copy of the configuration targeting another tenant.
func (c AuthConfig) ForTenant(tenantID string) AuthConfig {
	c.TenantID = tenantID
	return c
}

// IsMultiTenant reports whether the configuration targets the common endpoint rather than a specific tenant.
func (c AuthConfig) IsMultiTenant() bool {
	return strings.EqualFold(c.TenantID, CommonTenant)
}

// Authority is the tenant-scoped authority, e.g. https://login.microsoftonline.com/<tenant>.
func (c AuthConfig) Authority() string {
	return strings.TrimSuffix(c.AuthorityURL, "/") + "/" + c.TenantID
}

// TokenEndpoint is the OAuth2 token endpoint of the tenant-scoped authority.
func (c AuthConfig) TokenEndpoint() string {
	return c.Authority() + "/oauth2/v2.0/token"
}

// DeviceCodeEndpoint is the OAuth2 device authorization endpoint of the tenant-scoped authority.
func (c AuthConfig) DeviceCodeEndpoint() string {
	return c.Authority() + "/oauth2/v2.0/devicecode"
}

// AuthorizeEndpoint is the OAuth2 authorization endpoint of the tenant-scoped authority.
func (c AuthConfig) AuthorizeEndpoint() string {
	return c.Authority() + "/oauth2/v2.0/authorize"
}

// ScopeForResource converts an AAD v1 resource identifier to the equivalent v2 scope.
func ScopeForResource(resource string) string {
	return resource + "/.default"
}

// ResourceFromScope is the inverse of [ScopeForResource].
func ResourceFromScope(scope string) string {
	return strings.TrimSuffix(scope, "/.default")
}
