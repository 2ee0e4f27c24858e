// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/azure/azure-xplat-cli/pkg/cloud"
)

const cRegisteredState = "Registered"

// Tenant is a directory the identity is a member of.
type Tenant struct {
	ID            string
	DisplayName   string
	DefaultDomain string
}

// SubscriptionRecord is a subscription as reported by the directory.
type SubscriptionRecord struct {
	ID          string
	DisplayName string
	State       string
	TenantID    string
}

// Directory queries the subscription directory of a cloud. Every call is authorized by cred.
type Directory interface {
	ListTenants(ctx context.Context, cred azcore.TokenCredential) ([]Tenant, error)
	ListSubscriptions(ctx context.Context, cred azcore.TokenCredential) ([]SubscriptionRecord, error)
	ListRegisteredProviders(ctx context.Context, cred azcore.TokenCredential, subscriptionID string) ([]string, error)
}

type armDirectory struct {
	armClientOptions *arm.ClientOptions
}

// NewDirectory creates a Directory over the Azure Resource Manager endpoint of env. transport may be nil to use
// the default HTTP transport.
func NewDirectory(env cloud.Environment, transport policy.Transporter) Directory {
	options := &arm.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Cloud:     env.Configuration(),
			Transport: transport,
		},
	}

	return &armDirectory{armClientOptions: options}
}

func (d *armDirectory) ListTenants(ctx context.Context, cred azcore.TokenCredential) ([]Tenant, error) {
	client, err := armsubscriptions.NewTenantsClient(cred, d.armClientOptions)
	if err != nil {
		return nil, fmt.Errorf("creating tenants client: %w", err)
	}

	tenants := []Tenant{}
	pager := client.NewListPager(nil)

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed getting next page of tenants: %w", err)
		}

		for _, tenant := range page.TenantListResult.Value {
			if tenant != nil && tenant.TenantID != nil {
				tenants = append(tenants, Tenant{
					ID:            *tenant.TenantID,
					DisplayName:   valueOrEmpty(tenant.DisplayName),
					DefaultDomain: valueOrEmpty(tenant.DefaultDomain),
				})
			}
		}
	}

	return tenants, nil
}

func (d *armDirectory) ListSubscriptions(ctx context.Context, cred azcore.TokenCredential) ([]SubscriptionRecord, error) {
	client, err := armsubscriptions.NewClient(cred, d.armClientOptions)
	if err != nil {
		return nil, fmt.Errorf("creating subscriptions client: %w", err)
	}

	subscriptions := []SubscriptionRecord{}
	pager := client.NewListPager(nil)

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed getting next page of subscriptions: %w", err)
		}

		for _, s := range page.SubscriptionListResult.Value {
			if s == nil || s.SubscriptionID == nil {
				continue
			}

			record := SubscriptionRecord{
				ID:          *s.SubscriptionID,
				DisplayName: valueOrEmpty(s.DisplayName),
				TenantID:    valueOrEmpty(s.TenantID),
			}
			if s.State != nil {
				record.State = string(*s.State)
			}

			subscriptions = append(subscriptions, record)
		}
	}

	return subscriptions, nil
}

func (d *armDirectory) ListRegisteredProviders(
	ctx context.Context, cred azcore.TokenCredential, subscriptionID string,
) ([]string, error) {
	client, err := armresources.NewProvidersClient(subscriptionID, cred, d.armClientOptions)
	if err != nil {
		return nil, fmt.Errorf("creating providers client: %w", err)
	}

	providers := []string{}
	pager := client.NewListPager(nil)

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed getting next page of providers: %w", err)
		}

		for _, p := range page.ProviderListResult.Value {
			if p == nil || p.Namespace == nil {
				continue
			}
			if strings.EqualFold(valueOrEmpty(p.RegistrationState), cRegisteredState) {
				providers = append(providers, strings.ToLower(*p.Namespace))
			}
		}
	}

	return providers, nil
}

func valueOrEmpty(v *string) string {
	if v == nil {
		return ""
	}

	return *v
}
