// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package account

import (
	"context"
	"fmt"

	"github.com/azure/azure-xplat-cli/pkg/auth"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DiscoverTenants lists the tenants visible to an identity that signed in without naming a tenant. Tenants are
// returned in directory order. A failure is fatal: no partial list is returned.
func DiscoverTenants(ctx context.Context, directory Directory, session *auth.AuthContext) ([]Tenant, error) {
	ctx, span := tracer.Start(ctx, "account.discoverTenants")
	defer span.End()

	tenants, err := directory.ListTenants(ctx, session.TokenCredential(""))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing tenants failed")
		return nil, fmt.Errorf("listing tenants: %w", err)
	}

	span.SetAttributes(attribute.Int("account.tenants", len(tenants)))
	log.WithField("user", session.UserID).Debugf("discovered %d tenant(s)", len(tenants))

	return tenants, nil
}

func idsOf(tenants []Tenant) []string {
	ids := make([]string, 0, len(tenants))
	for _, t := range tenants {
		ids = append(ids, t.ID)
	}

	return ids
}

func tenantSpan(ctx context.Context, tenantID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "account.enumerateTenant", trace.WithAttributes(attribute.String("account.tenant", tenantID)))
}
