// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package account

import (
	"context"
	"fmt"

	"github.com/azure/azure-xplat-cli/pkg/auth"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/azure/azure-xplat-cli/pkg/account")

const (
	DefaultTenantConcurrency = 4
	MaxTenantConcurrency     = 8
)

// ClampTenantConcurrency bounds a configured concurrency to 1..[MaxTenantConcurrency]. Zero or less selects
// [DefaultTenantConcurrency].
func ClampTenantConcurrency(n int) int {
	switch {
	case n <= 0:
		return DefaultTenantConcurrency
	case n > MaxTenantConcurrency:
		return MaxTenantConcurrency
	default:
		return n
	}
}

// Enumerator lists the subscriptions of each tenant an identity can access.
type Enumerator struct {
	directory        Directory
	concurrency      int
	resolveProviders bool
	environmentName  string
}

// NewEnumerator creates an Enumerator querying at most concurrency tenants at once.
func NewEnumerator(directory Directory, concurrency int, environmentName string, resolveProviders bool) *Enumerator {
	return &Enumerator{
		directory:        directory,
		concurrency:      ClampTenantConcurrency(concurrency),
		resolveProviders: resolveProviders,
		environmentName:  environmentName,
	}
}

type tenantResult struct {
	subscriptions []Subscription
	err           error
}

// Enumerate returns the subscriptions of every tenant, tenants in the given order and subscriptions in directory
// order, whatever order the queries complete in. Tokens for each tenant are minted silently from session.
//
// A tenant whose query fails contributes no subscriptions and is logged. When every tenant fails the result is
// empty; only cancellation of ctx is returned as an error.
func (e *Enumerator) Enumerate(ctx context.Context, session *auth.AuthContext, tenantIDs []string) ([]Subscription, error) {
	results := make([]tenantResult, len(tenantIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, tenantID := range tenantIDs {
		g.Go(func() error {
			subs, err := e.enumerateTenant(gctx, session, tenantID)
			results[i] = tenantResult{subscriptions: subs, err: err}
			return nil
		})
	}

	// per-tenant failures are carried in results, never returned to the group
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subscriptions := []Subscription{}
	var errs error
	failed := 0
	for i, res := range results {
		if res.err != nil {
			failed++
			errs = multierr.Append(errs, res.err)
			log.WithField("tenant", tenantIDs[i]).Warnf("skipping tenant: %v", res.err)
			continue
		}
		subscriptions = append(subscriptions, res.subscriptions...)
	}

	if failed > 0 && failed == len(tenantIDs) {
		log.Warnf("no subscriptions could be loaded from any tenant: %v", errs)
	}

	return subscriptions, nil
}

func (e *Enumerator) enumerateTenant(
	ctx context.Context, session *auth.AuthContext, tenantID string,
) ([]Subscription, error) {
	ctx, span := tenantSpan(ctx, tenantID)
	defer span.End()

	cred := session.TokenCredential(tenantID)

	records, err := e.directory.ListSubscriptions(ctx, cred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing subscriptions failed")
		return nil, fmt.Errorf("failed to load subscriptions from tenant '%s': %w", tenantID, err)
	}

	subscriptions := make([]Subscription, 0, len(records))
	for _, r := range records {
		sub := Subscription{
			ID:       r.ID,
			Name:     r.DisplayName,
			TenantID: tenantID,
			User: User{
				Name: session.UserID,
				Type: session.UserType,
			},
			State:           r.State,
			EnvironmentName: e.environmentName,
		}

		if e.resolveProviders {
			providers, err := e.directory.ListRegisteredProviders(ctx, cred, r.ID)
			if err != nil {
				log.WithField("subscription", r.ID).Debugf("unable to list registered providers: %v", err)
			} else {
				sub.RegisteredProviders = providers
			}
		}

		subscriptions = append(subscriptions, sub)
	}

	return subscriptions, nil
}
