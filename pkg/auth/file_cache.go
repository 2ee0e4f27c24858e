// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/azure/azure-xplat-cli/pkg/osutil"
	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// cTokenFileName is the name of the token cache file inside the user config directory.
const cTokenFileName = "accessTokens.json"

// fileStore implements Store over a JSON array on disk. Writers in this process are serialized by mu, writers in
// other processes by an advisory lock on [path].lock. Every write replaces the file atomically, so a failed
// write leaves the previous contents in place.
type fileStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileStore creates a Store persisted at path. The file does not need to exist yet.
func NewFileStore(path string) Store {
	return &fileStore{path: path}
}

// DefaultTokenFilePath returns the location of the token cache inside configDir.
func DefaultTokenFilePath(configDir string) string {
	return filepath.Join(configDir, cTokenFileName)
}

func (f *fileStore) Find(q Query) ([]TokenCacheEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	fl, err := f.newLock()
	if err != nil {
		return nil, err
	}
	if err := fl.RLock(); err != nil {
		return nil, fmt.Errorf("locking file %s: %w", fl.Path(), err)
	}
	defer f.unlock(fl)

	set, err := f.read()
	if err != nil {
		return nil, err
	}

	return set.find(q), nil
}

func (f *fileStore) Add(entries []TokenCacheEntry) error {
	return f.update(func(set *tokenSet) (bool, error) {
		if err := set.addAll(entries); err != nil {
			return false, err
		}
		return len(entries) > 0, nil
	})
}

func (f *fileStore) Remove(q Query) (int, error) {
	removed := 0
	err := f.update(func(set *tokenSet) (bool, error) {
		removed = set.remove(q)
		return removed > 0, nil
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

// update runs a read-modify-write cycle under both locks. mutate reports whether the set changed.
func (f *fileStore) update(mutate func(set *tokenSet) (bool, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl, err := f.newLock()
	if err != nil {
		return err
	}
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("locking file %s: %w", fl.Path(), err)
	}
	defer f.unlock(fl)

	set, err := f.read()
	if err != nil {
		return err
	}

	changed, err := mutate(set)
	if err != nil || !changed {
		return err
	}

	return f.write(set)
}

// read loads the cache file. A missing or empty file is an empty cache.
func (f *fileStore) read() (*tokenSet, error) {
	contents, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(contents) == 0) {
		return newTokenSet(), nil
	} else if err != nil {
		return nil, fmt.Errorf("reading token cache: %w", err)
	}

	set := newTokenSet()
	if err := json.Unmarshal(contents, set); err != nil {
		return nil, fmt.Errorf("parsing token cache %s: %w", f.path, err)
	}

	return set, nil
}

func (f *fileStore) write(set *tokenSet) error {
	contents, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling token cache: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary token cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token cache: %w", err)
	}
	if err := tmp.Chmod(osutil.PermissionFileOwnerOnly); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing token cache: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing token cache: %w", err)
	}

	return nil
}

// newLock returns the cross-process lock guarding the cache file, creating the cache directory if needed.
func (f *fileStore) newLock() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), osutil.PermissionDirectoryOwnerOnly); err != nil {
		return nil, fmt.Errorf("creating token cache directory: %w", err)
	}

	return flock.New(f.path + ".lock"), nil
}

func (f *fileStore) unlock(fl *flock.Flock) {
	if err := fl.Unlock(); err != nil {
		log.Warnf("failed to release file lock: %v", err)
	}
}
