// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

// Package account discovers the tenants and subscriptions an identity can use and assembles them into the
// signed in account.
package account

import (
	"errors"
	"strings"

	"github.com/azure/azure-xplat-cli/pkg/auth"
)

// ErrNotLoggedIn is returned when no account has been loaded yet.
var ErrNotLoggedIn = errors.New("not logged in, run `azure login` to login")

// ErrSubscriptionNotFound is returned when a subscription is not part of the account.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// User is the identity a subscription is accessed with.
type User struct {
	Name string        `json:"name"`
	Type auth.UserType `json:"type"`
}

// Subscription is a subscription visible to the signed in identity.
type Subscription struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	TenantID            string   `json:"tenantId"`
	User                User     `json:"user"`
	State               string   `json:"state"`
	RegisteredProviders []string `json:"registeredProviders,omitempty"`
	IsDefault           bool     `json:"isDefault"`
	EnvironmentName     string   `json:"environmentName"`
}

// Account is the result of one load: every subscription found, plus what is needed to mint tokens later
// without signing in again.
type Account struct {
	Subscriptions []Subscription
	User          User
	// TenantID is the tenant the identity signed in to.
	TenantID string
	// ClientID is the application the cached tokens were issued to.
	ClientID        string
	EnvironmentName string

	// Session mints further tokens for the signed in identity during this process.
	Session *auth.AuthContext
}

// Default returns the default subscription, if any.
func (a *Account) Default() (Subscription, bool) {
	for _, s := range a.Subscriptions {
		if s.IsDefault {
			return s, true
		}
	}

	return Subscription{}, false
}

// markDefault flags exactly one subscription as the default: the pinned one when it is present, otherwise the
// first one.
func markDefault(subscriptions []Subscription, pinnedID string) {
	if len(subscriptions) == 0 {
		return
	}

	idx := 0
	for i, s := range subscriptions {
		if pinnedID != "" && strings.EqualFold(s.ID, pinnedID) {
			idx = i
			break
		}
	}

	for i := range subscriptions {
		subscriptions[i].IsDefault = i == idx
	}
}
