// Package config loads housingcore runtime settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Storage drivers accepted by HOUSING_STORAGE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverBlob     = "blob"
)

// Metrics exporters accepted by HOUSING_METRICS.
const (
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Config is the full runtime configuration.
type Config struct {
	Storage   Storage
	Events    Events
	Metrics   Metrics
	Reconcile Reconcile
	LogLevel  string
}

// Storage selects and parameterises the repository backend.
type Storage struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	Redis       Redis
	Blob        Blob
	Breaker     bool
}

// Redis holds connection settings for the redis repository.
type Redis struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Blob holds settings for the blob snapshot repository.
type Blob struct {
	Driver string
	FSRoot string
	S3     S3
	Prefix string
	Keep   int
}

// S3 holds S3 or MinIO connection settings.
type S3 struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// Events configures occupancy event publishing. An empty URL disables it.
type Events struct {
	AMQPURL  string
	Exchange string
}

// Metrics configures the metrics exporter.
type Metrics struct {
	Exporter string
	Addr     string
}

// Reconcile configures the periodic reconciliation job.
type Reconcile struct {
	Schedule string
}

// Load reads the named dotenv files (".env" when none are given) into the
// process environment without overriding variables already set, then parses
// the configuration. Missing dotenv files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup parses the configuration through lookup.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}
	cfg := Config{
		Storage: Storage{
			Driver:      strings.ToLower(e.str("HOUSING_STORAGE_DRIVER", DriverSQLite)),
			SQLitePath:  e.str("HOUSING_SQLITE_PATH", "housing.db"),
			PostgresDSN: e.str("HOUSING_POSTGRES_DSN", "postgres://localhost/housing?sslmode=disable"),
			Redis: Redis{
				Addr:     e.str("HOUSING_REDIS_ADDR", "localhost:6379"),
				Password: e.str("HOUSING_REDIS_PASSWORD", ""),
				DB:       e.integer("HOUSING_REDIS_DB", 0),
				Prefix:   e.str("HOUSING_REDIS_PREFIX", "housing:"),
			},
			Blob: Blob{
				Driver: strings.ToLower(e.str("HOUSING_BLOB_DRIVER", "fs")),
				FSRoot: e.str("HOUSING_BLOB_FS_ROOT", "./blobdata"),
				S3: S3{
					Bucket:    e.str("HOUSING_BLOB_S3_BUCKET", ""),
					Region:    e.str("HOUSING_BLOB_S3_REGION", "us-east-1"),
					Endpoint:  e.str("HOUSING_BLOB_S3_ENDPOINT", ""),
					PathStyle: e.boolean("HOUSING_BLOB_S3_PATH_STYLE", false),
				},
				Prefix: e.str("HOUSING_BLOB_PREFIX", "housing/state/"),
				Keep:   e.integer("HOUSING_BLOB_KEEP", 5),
			},
			Breaker: e.boolean("HOUSING_STORAGE_BREAKER", false),
		},
		Events: Events{
			AMQPURL:  e.str("HOUSING_AMQP_URL", ""),
			Exchange: e.str("HOUSING_AMQP_EXCHANGE", "housing.occupancy"),
		},
		Metrics: Metrics{
			Exporter: strings.ToLower(e.str("HOUSING_METRICS", MetricsExpvar)),
			Addr:     e.str("HOUSING_METRICS_ADDR", ":9102"),
		},
		Reconcile: Reconcile{
			Schedule: e.str("HOUSING_RECONCILE_SCHEDULE", "@every 15m"),
		},
		LogLevel: e.str("LOG_LEVEL", "info"),
	}
	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects unknown driver names and out-of-range values.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverRedis, DriverBlob:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == DriverBlob {
		switch c.Storage.Blob.Driver {
		case "fs", "memory":
		case "s3":
			if c.Storage.Blob.S3.Bucket == "" {
				return errors.New("HOUSING_BLOB_S3_BUCKET required for s3 blob driver")
			}
		default:
			return fmt.Errorf("unknown blob driver %q", c.Storage.Blob.Driver)
		}
		if c.Storage.Blob.Keep < 1 {
			return fmt.Errorf("HOUSING_BLOB_KEEP must be at least 1, got %d", c.Storage.Blob.Keep)
		}
	}
	switch c.Metrics.Exporter {
	case MetricsExpvar, MetricsPrometheus:
	default:
		return fmt.Errorf("unknown metrics exporter %q", c.Metrics.Exporter)
	}
	return nil
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) integer(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func (e *env) boolean(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return def
	}
	return v
}
