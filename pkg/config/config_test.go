// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_SetGetUnsetWithValue(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value any
	}{
		{
			name:  "RootValue",
			path:  "a",
			value: "apple",
		},
		{
			name:  "NestedValue",
			path:  "defaults.subscription",
			value: "00000000-0000-0000-0000-000000000001",
		},
		{
			name:  "DeepNestedValue",
			path:  "cloud.overrides.name",
			value: "CustomCloud",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := NewConfig(nil)
			err := cfg.Set(test.path, test.value)
			require.NoError(t, err)

			value, ok := cfg.Get(test.path)
			require.True(t, ok)
			require.Equal(t, test.value, value)

			err = cfg.Unset(test.path)
			require.NoError(t, err)

			value, ok = cfg.Get(test.path)
			require.Nil(t, value)
			require.False(t, ok)
		})
	}
}

func Test_SetThroughLeafFails(t *testing.T) {
	cfg := NewConfig(nil)
	require.NoError(t, cfg.Set("defaults", "not-a-map"))
	require.Error(t, cfg.Set("defaults.subscription", "sub"))
}

func Test_UnsetMissingPath(t *testing.T) {
	cfg := NewEmptyConfig()
	require.NoError(t, cfg.Unset("does.not.exist"))
	require.True(t, cfg.IsEmpty())
}

func Test_GetSection(t *testing.T) {
	type section struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	cfg := NewConfig(map[string]any{
		"auth": map[string]any{
			"name":  "value",
			"count": 3,
		},
	})

	var s section
	ok, err := cfg.GetSection("auth", &s)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, section{Name: "value", Count: 3}, s)

	ok, err = cfg.GetSection("missing", &s)
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_FileConfigManager_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	m := NewFileConfigManager(NewManager())

	cfg, err := LoadOrEmpty(m, path)
	require.NoError(t, err)
	require.True(t, cfg.IsEmpty())

	require.NoError(t, cfg.Set("defaults.subscription", "SUBSCRIPTION_ID"))
	require.NoError(t, cfg.Set("auth.tenantConcurrency", float64(6)))
	require.NoError(t, m.Save(cfg, path))

	loaded, err := m.Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Raw(), loaded.Raw())

	// a shorter document must not leave trailing bytes of the previous one behind.
	require.NoError(t, loaded.Unset("auth"))
	require.NoError(t, m.Save(loaded, path))

	reloaded, err := m.Load(path)
	require.NoError(t, err)
	value, ok := reloaded.GetString("defaults.subscription")
	require.True(t, ok)
	require.Equal(t, "SUBSCRIPTION_ID", value)
	_, ok = reloaded.Get("auth")
	require.False(t, ok)
}

func Test_GetUserConfigDir_EnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	t.Setenv(cConfigDirEnvVar, dir)

	got, err := GetUserConfigDir()
	require.NoError(t, err)
	require.Equal(t, dir, got)
	require.DirExists(t, dir)

	file, err := GetUserConfigFilePath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "config.json"), file)
}
