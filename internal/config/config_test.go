package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "housing.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "housing:", cfg.Storage.Redis.Prefix)
	assert.Equal(t, "fs", cfg.Storage.Blob.Driver)
	assert.Equal(t, 5, cfg.Storage.Blob.Keep)
	assert.Equal(t, "us-east-1", cfg.Storage.Blob.S3.Region)
	assert.False(t, cfg.Storage.Breaker)
	assert.Empty(t, cfg.Events.AMQPURL)
	assert.Equal(t, "housing.occupancy", cfg.Events.Exchange)
	assert.Equal(t, MetricsExpvar, cfg.Metrics.Exporter)
	assert.Equal(t, "@every 15m", cfg.Reconcile.Schedule)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFromLookupOverrides(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"HOUSING_STORAGE_DRIVER":     "BLOB",
		"HOUSING_BLOB_DRIVER":        "s3",
		"HOUSING_BLOB_S3_BUCKET":     "state",
		"HOUSING_BLOB_S3_PATH_STYLE": "true",
		"HOUSING_BLOB_KEEP":          "2",
		"HOUSING_REDIS_DB":           "3",
		"HOUSING_STORAGE_BREAKER":    "1",
		"HOUSING_METRICS":            "prometheus",
	}))
	require.NoError(t, err)

	assert.Equal(t, DriverBlob, cfg.Storage.Driver)
	assert.Equal(t, "s3", cfg.Storage.Blob.Driver)
	assert.Equal(t, "state", cfg.Storage.Blob.S3.Bucket)
	assert.True(t, cfg.Storage.Blob.S3.PathStyle)
	assert.Equal(t, 2, cfg.Storage.Blob.Keep)
	assert.Equal(t, 3, cfg.Storage.Redis.DB)
	assert.True(t, cfg.Storage.Breaker)
	assert.Equal(t, MetricsPrometheus, cfg.Metrics.Exporter)
}

func TestFromLookupRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad int":         {"HOUSING_REDIS_DB": "three"},
		"bad bool":        {"HOUSING_STORAGE_BREAKER": "maybe"},
		"unknown driver":  {"HOUSING_STORAGE_DRIVER": "mongo"},
		"unknown blob":    {"HOUSING_STORAGE_DRIVER": "blob", "HOUSING_BLOB_DRIVER": "gcs"},
		"s3 no bucket":    {"HOUSING_STORAGE_DRIVER": "blob", "HOUSING_BLOB_DRIVER": "s3"},
		"keep zero":       {"HOUSING_STORAGE_DRIVER": "blob", "HOUSING_BLOB_KEEP": "0"},
		"unknown metrics": {"HOUSING_METRICS": "statsd"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromLookup(lookupFrom(vars))
			require.Error(t, err)
		})
	}
}

func TestLoadReadsDotenvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HOUSING_SQLITE_PATH=/tmp/from-file.db\nHOUSING_REDIS_PREFIX=file:\n"), 0o600))
	t.Setenv("HOUSING_REDIS_PREFIX", "env:")
	t.Setenv("HOUSING_SQLITE_PATH", "")
	require.NoError(t, os.Unsetenv("HOUSING_SQLITE_PATH"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-file.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "env:", cfg.Storage.Redis.Prefix)
}

func TestLoadIgnoresMissingDotenv(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
