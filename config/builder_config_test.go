package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBusConfig_HasSaneDefaults(t *testing.T) {
	cfg := DefaultBusConfig()
	assert.Equal(t, "polybus", cfg.Name)
	assert.Equal(t, 30*time.Second, cfg.Retry.DelayIncrement())
	assert.Equal(t, 3, cfg.Retry.DelayedRetryBudget)
	assert.Equal(t, 3, cfg.Retry.ImmediateRetryBudget)
}

func TestLoad_ParsesFullyPopulatedFile(t *testing.T) {
	path := writeConfig(t, `
name: orders-bus
retry:
  delay_seconds: 15
  delayed_retry_budget: 5
  immediate_retry_budget: 2
properties:
  region: us-east-1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "orders-bus", cfg.Name)
	assert.Equal(t, 15*time.Second, cfg.Retry.DelayIncrement())
	assert.Equal(t, 5, cfg.Retry.DelayedRetryBudget)
	assert.Equal(t, 2, cfg.Retry.ImmediateRetryBudget)
	assert.Equal(t, "us-east-1", cfg.Properties["region"])
}

func TestLoad_FillsMissingFieldsFromDefaults(t *testing.T) {
	path := writeConfig(t, `
retry:
  delayed_retry_budget: 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "polybus", cfg.Name)
	assert.Equal(t, 30*time.Second, cfg.Retry.DelayIncrement())
	assert.Equal(t, 7, cfg.Retry.DelayedRetryBudget)
	assert.Equal(t, 3, cfg.Retry.ImmediateRetryBudget)
}

func TestLoad_MissingFile_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML_Errors(t *testing.T) {
	path := writeConfig(t, "name: [this is not, valid: yaml")
	_, err := Load(path)
	assert.Error(t, err)
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
