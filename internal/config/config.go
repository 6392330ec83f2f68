// Package config loads run configuration from defaults, an optional YAML
// file, the environment (including a .env file) and command-line flags, in
// that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultBatchSize        = 1000
	DefaultWorkers          = 3
	DefaultResolveThreshold = 1000
	DefaultLoadChunkSize    = 1000
	DefaultMongoTimeout     = 5 * time.Second
	DefaultMaxConns         = 10
	DefaultDrainTimeout     = 5 * time.Minute
	DefaultCheckpointPath   = "checkpoint.json"
	DefaultCheckpointObject = "docsync/checkpoint.json"
)

// Mongo holds source store settings.
type Mongo struct {
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Postgres holds target store settings.
type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// Checkpoint selects the checkpoint backend. When Bucket is set the
// checkpoint lives in an S3-compatible object store, otherwise in Path.
type Checkpoint struct {
	Path      string `yaml:"path"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Object    string `yaml:"object"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// UsesObjectStore reports whether the object store backend is configured.
func (c Checkpoint) UsesObjectStore() bool { return c.Bucket != "" }

// Notify configures the failure hook.
type Notify struct {
	WebhookURL string `yaml:"webhook_url"`
	// LogURL is attached to failure notifications as the log reference.
	LogURL string `yaml:"log_url"`
}

// Config is the complete run configuration.
type Config struct {
	Mongo      Mongo      `yaml:"mongo"`
	Postgres   Postgres   `yaml:"postgres"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	Notify     Notify     `yaml:"notify"`

	BatchSize        int           `yaml:"batch_size"`
	Workers          int           `yaml:"workers"`
	ResolveThreshold int           `yaml:"resolve_threshold"`
	LoadChunkSize    int           `yaml:"load_chunk_size"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	Debug            bool          `yaml:"debug"`
}

// Load builds a Config from the YAML file at path (optional), the process
// environment and a .env file in the working directory, then validates it.
func Load(path string) (Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.readEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// readEnv overrides fields whose environment variable is set.
func (c *Config) readEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
		return nil
	}

	str("MONGO_URI", &c.Mongo.URI)
	str("MONGO_DATABASE", &c.Mongo.Database)
	str("POSTGRES_DSN", &c.Postgres.DSN)
	str("CHECKPOINT_PATH", &c.Checkpoint.Path)
	str("CHECKPOINT_ENDPOINT", &c.Checkpoint.Endpoint)
	str("CHECKPOINT_BUCKET", &c.Checkpoint.Bucket)
	str("CHECKPOINT_OBJECT", &c.Checkpoint.Object)
	str("CHECKPOINT_ACCESS_KEY", &c.Checkpoint.AccessKey)
	str("CHECKPOINT_SECRET_KEY", &c.Checkpoint.SecretKey)
	str("CHECKPOINT_REGION", &c.Checkpoint.Region)
	str("NOTIFY_WEBHOOK_URL", &c.Notify.WebhookURL)
	str("NOTIFY_LOG_URL", &c.Notify.LogURL)

	return errors.Join(
		num("ETL_BATCH_SIZE", &c.BatchSize),
		num("ETL_WORKERS", &c.Workers),
		num("ETL_RESOLVE_THRESHOLD", &c.ResolveThreshold),
		num("ETL_LOAD_CHUNK_SIZE", &c.LoadChunkSize),
		flag("CHECKPOINT_USE_SSL", &c.Checkpoint.UseSSL),
		flag("ETL_DEBUG", &c.Debug),
	)
}

// Validate fills defaults and rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.ResolveThreshold <= 0 {
		c.ResolveThreshold = DefaultResolveThreshold
	}
	if c.LoadChunkSize <= 0 {
		c.LoadChunkSize = DefaultLoadChunkSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.Mongo.Timeout <= 0 {
		c.Mongo.Timeout = DefaultMongoTimeout
	}
	if c.Postgres.MaxConns <= 0 {
		c.Postgres.MaxConns = DefaultMaxConns
	}

	var errs []error
	if c.Mongo.URI == "" {
		errs = append(errs, errors.New("MONGO_URI is required"))
	}
	if c.Mongo.Database == "" {
		errs = append(errs, errors.New("MONGO_DATABASE is required"))
	}
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required"))
	}

	if c.Checkpoint.UsesObjectStore() {
		if c.Checkpoint.Object == "" {
			c.Checkpoint.Object = DefaultCheckpointObject
		}
		if c.Checkpoint.Endpoint == "" {
			errs = append(errs, errors.New("CHECKPOINT_ENDPOINT is required with CHECKPOINT_BUCKET"))
		}
		if c.Checkpoint.AccessKey == "" || c.Checkpoint.SecretKey == "" {
			errs = append(errs, errors.New("checkpoint object store credentials are required"))
		}
	} else if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = DefaultCheckpointPath
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Flags returns the command-line flags understood by ApplyFlags.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.Int("batch-size", DefaultBatchSize, "documents per extracted batch")
	fs.Int("workers", DefaultWorkers, "concurrent kinds in the first stage")
	fs.String("checkpoint", "", "checkpoint file path")
	fs.Bool("debug", false, "enable debug logging")
	return fs
}

// ApplyFlags overrides cfg with flags explicitly set on the command line.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	var errs []error
	if fs.Changed("batch-size") {
		n, err := fs.GetInt("batch-size")
		errs = append(errs, err)
		cfg.BatchSize = n
	}
	if fs.Changed("workers") {
		n, err := fs.GetInt("workers")
		errs = append(errs, err)
		cfg.Workers = n
	}
	if fs.Changed("checkpoint") {
		p, err := fs.GetString("checkpoint")
		errs = append(errs, err)
		cfg.Checkpoint.Path = p
		cfg.Checkpoint.Bucket = ""
	}
	if fs.Changed("debug") {
		d, err := fs.GetBool("debug")
		errs = append(errs, err)
		cfg.Debug = d
	}
	return errors.Join(errs...)
}
