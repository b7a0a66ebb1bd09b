// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"nexurabuild/internal/blob"
	"nexurabuild/internal/core"
	"nexurabuild/internal/observability"
)

// DefaultCORSOrigins are the web client origins allowed by default.
var DefaultCORSOrigins = []string{
	"http://localhost:5173",
	"https://nexura-build.web.app",
	"https://nexura-build.firebaseapp.com",
}

// Config is the full runtime configuration.
type Config struct {
	Port    int    `env:"PORT" envDefault:"5000"`
	Storage string `env:"NEXURA_STORAGE_DRIVER" envDefault:"sqlite"`

	SQLitePath   string        `env:"NEXURA_SQLITE_PATH" envDefault:"nexura.db"`
	PostgresDSN  string        `env:"NEXURA_POSTGRES_DSN"`
	StoreTimeout time.Duration `env:"NEXURA_STORE_TIMEOUT" envDefault:"5s"`

	TokenSecret string        `env:"ACCESS_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"NEXURA_TOKEN_TTL" envDefault:"1h"`

	// TokenIssuance exposes POST /jwt, which signs tokens without a
	// credential check. Production sets it false and relies on an upstream
	// identity provider sharing ACCESS_TOKEN_SECRET.
	TokenIssuance bool `env:"NEXURA_TOKEN_ISSUANCE" envDefault:"true"`

	CORSOrigins []string `env:"NEXURA_CORS_ORIGINS" envSeparator:","`

	Blob BlobConfig

	OTelEnabled  bool   `env:"NEXURA_OTEL_ENABLED" envDefault:"true"`
	OTelEndpoint string `env:"NEXURA_OTEL_ENDPOINT"`

	LogLevel  string `env:"NEXURA_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"NEXURA_LOG_FORMAT" envDefault:"text"`
}

// BlobConfig selects the agreement archive driver.
type BlobConfig struct {
	Driver     string `env:"NEXURA_BLOB_DRIVER" envDefault:"fs"`
	FSRoot     string `env:"NEXURA_BLOB_FS_ROOT" envDefault:"./archive"`
	S3Bucket   string `env:"NEXURA_BLOB_S3_BUCKET"`
	S3Region   string `env:"NEXURA_BLOB_S3_REGION" envDefault:"us-east-1"`
	S3Endpoint string `env:"NEXURA_BLOB_S3_ENDPOINT"`
	PathStyle  bool   `env:"NEXURA_BLOB_S3_PATH_STYLE"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = append([]string(nil), DefaultCORSOrigins...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that do not depend on the command being run.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	switch core.StorageDriver(c.Storage) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("NEXURA_POSTGRES_DSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NEXURA_STORAGE_DRIVER %q", c.Storage))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("NEXURA_STORE_TIMEOUT must be positive"))
	}
	if c.Blob.Driver == string(blob.DriverS3) && c.Blob.S3Bucket == "" {
		errs = append(errs, errors.New("NEXURA_BLOB_S3_BUCKET is required for the s3 driver"))
	}
	if _, err := observability.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RequireTokenSecret reports a missing ACCESS_TOKEN_SECRET.
func (c Config) RequireTokenSecret() error {
	if c.TokenSecret == "" {
		return errors.New("ACCESS_TOKEN_SECRET is required")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// StorageConfig returns the document store selection.
func (c Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage),
		SQLitePath:  c.SQLitePath,
		PostgresDSN: c.PostgresDSN,
	}
}

// BlobStoreConfig returns the archive store selection.
func (c Config) BlobStoreConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:    c.Blob.S3Bucket,
			Region:    c.Blob.S3Region,
			Endpoint:  c.Blob.S3Endpoint,
			PathStyle: c.Blob.PathStyle,
		},
	}
}

// TracingConfig returns the exporter settings.
func (c Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{Enabled: c.OTelEnabled, Endpoint: c.OTelEndpoint}
}
