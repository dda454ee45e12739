package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaultsGeneratesInstanceID(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "sqlite"}}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.True(t, generated["server.instance_id"])
	require.True(t, generated["database.path"])
	require.NotEmpty(t, cfg.Server.InstanceID)
	require.Equal(t, defaultSQLitePath, cfg.Database.Path)
}

func TestApplyRuntimeDefaultsKeepsConfiguredValues(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{InstanceID: "worker-1"},
		Database: DatabaseConfig{Driver: "postgres", Host: "db"},
		Jobs:     JobsConfig{AuditRetention: AuditJobConfig{JobConfig: JobConfig{Enabled: true}, Days: 30}},
	}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, "worker-1", cfg.Server.InstanceID)
	require.Empty(t, cfg.Database.Path)
	require.True(t, cfg.Jobs.AuditRetention.Enabled)
}

func TestApplyRuntimeDefaultsDisablesAuditRetentionWithoutDays(t *testing.T) {
	cfg := &Config{Jobs: JobsConfig{AuditRetention: AuditJobConfig{JobConfig: JobConfig{Enabled: true}}}}

	_, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.False(t, cfg.Jobs.AuditRetention.Enabled)
}

func TestApplyRuntimeDefaultsRejectsNil(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.Error(t, err)
}
