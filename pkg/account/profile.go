// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package account

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/azure/azure-xplat-cli/pkg/config"
)

const cProfileFileName = "azureProfile.json"

const cSubscriptionsKey = "subscriptions"

// DefaultProfilePath returns the location of the profile inside configDir.
func DefaultProfilePath(configDir string) string {
	return filepath.Join(configDir, cProfileFileName)
}

// Profile persists the subscriptions of every account loaded on this machine.
type Profile struct {
	path    string
	manager config.FileConfigManager

	mu sync.Mutex
}

func NewProfile(path string) *Profile {
	return &Profile{
		path:    path,
		manager: config.NewFileConfigManager(config.NewManager()),
	}
}

// Subscriptions returns every stored subscription. An empty profile has none.
func (p *Profile) Subscriptions() ([]Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, subs, err := p.load()
	return subs, err
}

// Save stores the subscriptions of account. Every subscription already stored for the same user is replaced and
// those of other users are kept. When account has a default subscription it becomes the only default.
func (p *Profile) Save(account *Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, existing, err := p.load()
	if err != nil {
		return err
	}

	_, hasDefault := account.Default()

	merged := []Subscription{}
	for _, s := range existing {
		if strings.EqualFold(s.User.Name, account.User.Name) {
			continue
		}
		if hasDefault {
			s.IsDefault = false
		}
		merged = append(merged, s)
	}
	merged = append(merged, account.Subscriptions...)

	return p.save(cfg, merged)
}

// DefaultSubscription returns the default subscription.
func (p *Profile) DefaultSubscription() (Subscription, error) {
	subs, err := p.Subscriptions()
	if err != nil {
		return Subscription{}, err
	}

	if len(subs) == 0 {
		return Subscription{}, ErrNotLoggedIn
	}

	for _, s := range subs {
		if s.IsDefault {
			return s, nil
		}
	}

	return subs[0], nil
}

// Subscription returns the stored subscription with the given id or name. An empty idOrName selects the default.
func (p *Profile) Subscription(idOrName string) (Subscription, error) {
	if idOrName == "" {
		return p.DefaultSubscription()
	}

	subs, err := p.Subscriptions()
	if err != nil {
		return Subscription{}, err
	}

	idx := indexOf(subs, idOrName)
	if idx < 0 {
		return Subscription{}, fmt.Errorf("%w: '%s'", ErrSubscriptionNotFound, idOrName)
	}

	return subs[idx], nil
}

// SetDefaultSubscription makes the subscription with the given id or name the default.
func (p *Profile) SetDefaultSubscription(idOrName string) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, subs, err := p.load()
	if err != nil {
		return Subscription{}, err
	}

	idx := indexOf(subs, idOrName)
	if idx < 0 {
		return Subscription{}, fmt.Errorf("%w: '%s'", ErrSubscriptionNotFound, idOrName)
	}

	for i := range subs {
		subs[i].IsDefault = i == idx
	}

	if err := p.save(cfg, subs); err != nil {
		return Subscription{}, err
	}

	return subs[idx], nil
}

// RemoveUser deletes the subscriptions of userName and returns them.
func (p *Profile) RemoveUser(userName string) ([]Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, subs, err := p.load()
	if err != nil {
		return nil, err
	}

	var kept, removed []Subscription
	for _, s := range subs {
		if strings.EqualFold(s.User.Name, userName) {
			removed = append(removed, s)
		} else {
			kept = append(kept, s)
		}
	}

	if len(removed) == 0 {
		return nil, nil
	}

	if len(kept) > 0 && !anyDefault(kept) {
		kept[0].IsDefault = true
	}

	return removed, p.save(cfg, kept)
}

// Clear deletes the profile.
func (p *Profile) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing profile: %w", err)
	}

	return nil
}

func (p *Profile) load() (config.Config, []Subscription, error) {
	cfg, err := config.LoadOrEmpty(p.manager, p.path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading profile: %w", err)
	}

	subs := []Subscription{}
	if _, err := cfg.GetSection(cSubscriptionsKey, &subs); err != nil {
		return nil, nil, fmt.Errorf("reading profile subscriptions: %w", err)
	}

	return cfg, subs, nil
}

func (p *Profile) save(cfg config.Config, subs []Subscription) error {
	if err := cfg.Set(cSubscriptionsKey, subs); err != nil {
		return err
	}

	if err := p.manager.Save(cfg, p.path); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}

	return nil
}

// indexOf matches ids case-insensitively first, then exact names.
func indexOf(subs []Subscription, idOrName string) int {
	for i, s := range subs {
		if strings.EqualFold(s.ID, idOrName) {
			return i
		}
	}
	for i, s := range subs {
		if s.Name == idOrName {
			return i
		}
	}

	return -1
}

func anyDefault(subs []Subscription) bool {
	for _, s := range subs {
		if s.IsDefault {
			return true
		}
	}

	return false
}
