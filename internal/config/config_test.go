package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bjaus/docsync/internal/config"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func valid() config.Config {
	return config.Config{
		Mongo:    config.Mongo{URI: "mongodb://localhost:27017", Database: "logistics"},
		Postgres: config.Postgres{DSN: "postgres://localhost/logistics"},
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := valid()
	require.NoError(t, cfg.Validate())

	require.Equal(t, config.DefaultBatchSize, cfg.BatchSize)
	require.Equal(t, config.DefaultWorkers, cfg.Workers)
	require.Equal(t, config.DefaultResolveThreshold, cfg.ResolveThreshold)
	require.Equal(t, config.DefaultLoadChunkSize, cfg.LoadChunkSize)
	require.Equal(t, config.DefaultMongoTimeout, cfg.Mongo.Timeout)
	require.Equal(t, config.DefaultCheckpointPath, cfg.Checkpoint.Path)
	require.False(t, cfg.Checkpoint.UsesObjectStore())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{
			name:    "missing mongo uri",
			mutate:  func(c *config.Config) { c.Mongo.URI = "" },
			wantErr: "MONGO_URI is required",
		},
		{
			name:    "missing postgres dsn",
			mutate:  func(c *config.Config) { c.Postgres.DSN = "" },
			wantErr: "POSTGRES_DSN is required",
		},
		{
			name:    "bucket without endpoint",
			mutate:  func(c *config.Config) { c.Checkpoint.Bucket = "etl"; c.Checkpoint.AccessKey = "a"; c.Checkpoint.SecretKey = "b" },
			wantErr: "CHECKPOINT_ENDPOINT is required",
		},
		{
			name:    "bucket without credentials",
			mutate:  func(c *config.Config) { c.Checkpoint.Bucket = "etl"; c.Checkpoint.Endpoint = "localhost:9000" },
			wantErr: "credentials are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestReadEnv(t *testing.T) {
	var cfg config.Config
	err := cfg.ReadEnv(envMap(map[string]string{
		"MONGO_URI":         "mongodb://mongo:27017",
		"MONGO_DATABASE":    "logistics",
		"POSTGRES_DSN":      "postgres://pg/logistics",
		"ETL_BATCH_SIZE":    "250",
		"ETL_DEBUG":         "true",
		"CHECKPOINT_BUCKET": "etl-state",
	}))
	require.NoError(t, err)
	require.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
	require.Equal(t, 250, cfg.BatchSize)
	require.True(t, cfg.Debug)
	require.True(t, cfg.Checkpoint.UsesObjectStore())
}

func TestReadEnv_InvalidNumber(t *testing.T) {
	var cfg config.Config
	err := cfg.ReadEnv(envMap(map[string]string{"ETL_BATCH_SIZE": "lots"}))
	require.ErrorContains(t, err, "ETL_BATCH_SIZE")
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mongo:
  uri: mongodb://file:27017
  database: from_file
  timeout: 2s
postgres:
  dsn: postgres://file/db
batch_size: 50
workers: 2
`), 0o600))

	t.Setenv("MONGO_DATABASE", "from_env")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "mongodb://file:27017", cfg.Mongo.URI)
	require.Equal(t, "from_env", cfg.Mongo.Database)
	require.Equal(t, 2*time.Second, cfg.Mongo.Timeout)
	require.Equal(t, 50, cfg.BatchSize)
	require.Equal(t, 2, cfg.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config file")
}

func TestApplyFlags(t *testing.T) {
	cfg := valid()
	cfg.Checkpoint.Bucket = "etl-state"

	fs := config.Flags("docsync")
	require.NoError(t, fs.Parse([]string{"--batch-size=10", "--checkpoint=/tmp/cp.json", "--debug"}))
	require.NoError(t, config.ApplyFlags(fs, &cfg))

	require.Equal(t, 10, cfg.BatchSize)
	require.Equal(t, "/tmp/cp.json", cfg.Checkpoint.Path)
	require.False(t, cfg.Checkpoint.UsesObjectStore())
	require.True(t, cfg.Debug)
	require.Zero(t, cfg.Workers, "unset flags leave the config alone")
}
