package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/siteforge/internal/config"
	"github.com/jonathan/siteforge/internal/safefetch"
	"github.com/jonathan/siteforge/internal/types"
)

// memoryConfig returns the default configuration with every external backend unset.
func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, env := range []string{"DATABASE_URL", "REDIS_URL", "GEMINI_API_KEY", "SITEFORGE_DATABASE_URL", "SITEFORGE_REDIS_URL"} {
		t.Setenv(env, "")
	}
	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)
	cfg.Log.Output = filepath.Join(t.TempDir(), "siteforge.log")
	return cfg
}

func TestDirectivesCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"directives", "--json"})
	defer rootCmd.SetArgs(nil)
	t.Cleanup(func() { directivesJSON = false })

	require.NoError(t, rootCmd.Execute())

	var list []types.DesignDirective
	require.NoError(t, json.Unmarshal(out.Bytes(), &list))
	assert.Len(t, list, 4)
}

func TestNewApp_MemoryBackends(t *testing.T) {
	cfg := memoryConfig(t)

	a, err := newApp(context.Background(), cfg, false)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	assert.NotNil(t, a.audits)
	assert.Nil(t, a.generations)
	assert.NotNil(t, a.memBridge)
	assert.Nil(t, a.health)
}

func TestNewApp_GenerationNeedsAPIKey(t *testing.T) {
	cfg := memoryConfig(t)

	_, err := newApp(context.Background(), cfg, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestNewApp_CLIBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Generation.Backend = config.BackendCLI

	a, err := newApp(context.Background(), cfg, true)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	assert.NotNil(t, a.generations)
}

func TestRunAuditWithProgress_BlockedTarget(t *testing.T) {
	cfg := memoryConfig(t)
	a, err := newApp(context.Background(), cfg, false)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	_, err = runAuditWithProgress(context.Background(), a.audits, "http://169.254.169.254/latest/meta-data", nil)
	var blocked *safefetch.BlockedError
	require.True(t, errors.As(err, &blocked), "got %v", err)
	assert.Equal(t, safefetch.ReasonReservedAddr, blocked.Reason)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{"name":"Acme Plumbing","phone":"555-0100","services":["Drain cleaning"]}`), 0o600))
	profile, err := loadProfile(valid)
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing", profile.Name)
	assert.Equal(t, []string{"Drain cleaning"}, profile.Services)

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"email":"not-an-email"}`), 0o600))
	_, err = loadProfile(invalid)
	assert.ErrorContains(t, err, "invalid profile")

	_, err = loadProfile(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "failed to read profile")
}

func TestPrintAudit_JSON(t *testing.T) {
	var out bytes.Buffer
	job := &types.AuditJob{URL: "https://acme.example", Status: types.AuditStatusComplete}

	require.NoError(t, printAudit(&out, job, true))
	var decoded types.AuditJob
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, job.URL, decoded.URL)
}
