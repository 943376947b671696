package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raiden-shogun/pwapi/internal/config"
	"github.com/raiden-shogun/pwapi/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
alliance_id: 13033
keys:
  everything:
    - "aaaa1111"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.politicsandwar.com", cfg.Upstream.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Upstream.CallTimeout)
	assert.Equal(t, 1000, cfg.Quota.LimitPerWindow)
	assert.Equal(t, time.Hour, cfg.Quota.Window)
	assert.Equal(t, 5*time.Minute, cfg.Health.RecoveryPeriod)
	assert.Equal(t, 5*time.Minute, cfg.Cache.BulkTTL)
	assert.Equal(t, 30*time.Minute, cfg.Cache.AllianceTTL)
}

func TestLoadRejectsMissingAllianceID(t *testing.T) {
	path := writeConfig(t, `
keys:
  everything:
    - "aaaa1111"
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownScope(t *testing.T) {
	path := writeConfig(t, `
alliance_id: 13033
keys:
  galactic:
    - "aaaa1111"
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestCredentialsExpandWithStableIDs(t *testing.T) {
	path := writeConfig(t, `
alliance_id: 13033
keys:
  everything:
    - "aaaa1111"
    - "bbbb2222"
  alliance:
    - "cccc3333"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	creds, err := cfg.Credentials()
	require.NoError(t, err)
	require.Len(t, creds, 3)

	byID := map[string]domain.Credential{}
	for _, c := range creds {
		byID[c.ID] = c
	}
	assert.Equal(t, domain.ScopeEverything, byID["everything-1"].Scope)
	assert.Equal(t, "bbbb2222", byID["everything-2"].Secret)
	assert.Equal(t, domain.ScopeAlliance, byID["alliance-1"].Scope)
}

func TestCredentialsRejectEmptySecret(t *testing.T) {
	path := writeConfig(t, `
alliance_id: 13033
keys:
  everything:
    - ""
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}
