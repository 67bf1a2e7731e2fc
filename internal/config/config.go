// Package config provides configuration loading and validation for the audit
// pipeline. It uses koanf to merge environment variables with optional file
// overrides; environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the pipeline process.
type Config struct {
	// Process settings
	Env         string `koanf:"env"`
	MetricsAddr string `koanf:"metrics_addr"`
	// InternalToken guards the metrics endpoint. Empty disables the check.
	InternalToken string `koanf:"internal_token"`

	// Storage. Empty DatabaseURL selects the in-memory stores (dev only).
	DatabaseURL string `koanf:"database_url"`

	// RedisURL enables shared event dedup across replicas. Empty selects the
	// in-process deduper.
	RedisURL string `koanf:"redis_url"`

	// StreamURL is the domain event stream endpoint. Empty disables the relay.
	StreamURL string `koanf:"stream_url"`

	// Ingest queue
	IngestCapacity     int           `koanf:"ingest_capacity"`
	IngestBatchSize    int           `koanf:"ingest_batch_size"`
	IngestBatchAge     time.Duration `koanf:"ingest_batch_age"`
	IngestFlushTimeout time.Duration `koanf:"ingest_flush_timeout"`

	// SLA reconciliation
	SlaInterval       time.Duration `koanf:"sla_interval"`
	SlaBatchSize      int           `koanf:"sla_batch_size"`
	SlaRetryDelay     time.Duration `koanf:"sla_retry_delay"`
	SlaWarnWithin     time.Duration `koanf:"sla_warn_within"`
	SlaCriticalWithin time.Duration `koanf:"sla_critical_within"`

	// Retention
	RetentionInterval   time.Duration `koanf:"retention_interval"`
	ArchiveAfter        time.Duration `koanf:"archive_after"`
	RetainFor           time.Duration `koanf:"retain_for"`
	DeleteBatchSize     int           `koanf:"delete_batch_size"`
	DeletePacingDelay   time.Duration `koanf:"delete_pacing_delay"`
	RetentionRetryDelay time.Duration `koanf:"retention_retry_delay"`
	AutoDelete          bool          `koanf:"auto_delete"`
	ArchiveDestination  string        `koanf:"archive_destination"`
	ArchiveFormat       string        `koanf:"archive_format"`

	// Archive sink (S3-compatible)
	ArchiveBucket          string `koanf:"archive_bucket"`
	ArchiveAccessKeyID     string `koanf:"archive_access_key_id"`
	ArchiveSecretAccessKey string `koanf:"archive_secret_access_key"`
	ArchiveEndpoint        string `koanf:"archive_endpoint"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrInvalidDuration          = errors.New("invalid duration value")
	ErrInvalidInt               = errors.New("invalid integer value")
	ErrRetainShorterThanArchive = errors.New("RETAIN_FOR must be longer than ARCHIVE_AFTER")
	ErrArchiveSinkIncomplete    = errors.New("ARCHIVE_DESTINATION requires ARCHIVE_BUCKET, ARCHIVE_ACCESS_KEY_ID and ARCHIVE_SECRET_ACCESS_KEY")
	ErrInvalidArchiveFormat     = errors.New("ARCHIVE_FORMAT must be json or csv")
	ErrInvalidSamplingRate      = errors.New("TRACING_SAMPLING_RATE must be between 0 and 1")
)

// Default values for non-secret configuration.
const (
	DefaultEnv         = "development"
	DefaultMetricsAddr = ":9090"

	DefaultIngestCapacity     = 1024
	DefaultIngestBatchSize    = 100
	DefaultIngestBatchAge     = 1 * time.Second
	DefaultIngestFlushTimeout = 10 * time.Second

	DefaultSlaInterval       = 1 * time.Minute
	DefaultSlaBatchSize      = 50
	DefaultSlaRetryDelay     = 10 * time.Second
	DefaultSlaWarnWithin     = 24 * time.Hour
	DefaultSlaCriticalWithin = 4 * time.Hour

	DefaultRetentionInterval   = 1 * time.Hour
	DefaultArchiveAfter        = 30 * 24 * time.Hour
	DefaultRetainFor           = 365 * 24 * time.Hour
	DefaultDeleteBatchSize     = 1000
	DefaultDeletePacingDelay   = 250 * time.Millisecond
	DefaultRetentionRetryDelay = 5 * time.Minute
	DefaultArchiveFormat       = "json"

	DefaultTracingSamplingRate = 0.1
)

// Load reads configuration from environment variables and an optional YAML
// file. Returns the loaded config and a slice of validation errors (empty if
// valid). A config file that cannot be loaded is itself an error.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	getInt := func(envKey, koanfKey string, def int) int {
		v, err := getEnvIntOrDefault(envKey, k.Int(koanfKey), def)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		return v
	}
	getDur := func(envKey, koanfKey string, def time.Duration) time.Duration {
		v, err := getEnvDurationOrDefault(envKey, k.Duration(koanfKey), def)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		return v
	}

	samplingRate, err := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Env:           getEnvOrDefault("AUDITPIPE_ENV", k.String("env"), DefaultEnv),
		MetricsAddr:   getEnvOrDefault("METRICS_ADDR", k.String("metrics_addr"), DefaultMetricsAddr),
		InternalToken: getEnvOrKoanf("INTERNAL_TOKEN", k, "internal_token"),
		DatabaseURL:   getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:      getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		StreamURL:     getEnvOrKoanf("STREAM_URL", k, "stream_url"),

		IngestCapacity:     getInt("INGEST_CAPACITY", "ingest_capacity", DefaultIngestCapacity),
		IngestBatchSize:    getInt("INGEST_BATCH_SIZE", "ingest_batch_size", DefaultIngestBatchSize),
		IngestBatchAge:     getDur("INGEST_BATCH_AGE", "ingest_batch_age", DefaultIngestBatchAge),
		IngestFlushTimeout: getDur("INGEST_FLUSH_TIMEOUT", "ingest_flush_timeout", DefaultIngestFlushTimeout),

		SlaInterval:       getDur("SLA_INTERVAL", "sla_interval", DefaultSlaInterval),
		SlaBatchSize:      getInt("SLA_BATCH_SIZE", "sla_batch_size", DefaultSlaBatchSize),
		SlaRetryDelay:     getDur("SLA_RETRY_DELAY", "sla_retry_delay", DefaultSlaRetryDelay),
		SlaWarnWithin:     getDur("SLA_WARN_WITHIN", "sla_warn_within", DefaultSlaWarnWithin),
		SlaCriticalWithin: getDur("SLA_CRITICAL_WITHIN", "sla_critical_within", DefaultSlaCriticalWithin),

		RetentionInterval:   getDur("RETENTION_INTERVAL", "retention_interval", DefaultRetentionInterval),
		ArchiveAfter:        getDur("ARCHIVE_AFTER", "archive_after", DefaultArchiveAfter),
		RetainFor:           getDur("RETAIN_FOR", "retain_for", DefaultRetainFor),
		DeleteBatchSize:     getInt("DELETE_BATCH_SIZE", "delete_batch_size", DefaultDeleteBatchSize),
		DeletePacingDelay:   getDur("DELETE_PACING_DELAY", "delete_pacing_delay", DefaultDeletePacingDelay),
		RetentionRetryDelay: getDur("RETENTION_RETRY_DELAY", "retention_retry_delay", DefaultRetentionRetryDelay),
		AutoDelete:          getEnvBoolOrDefault("AUTO_DELETE", k, "auto_delete", false),
		ArchiveDestination:  getEnvOrKoanf("ARCHIVE_DESTINATION", k, "archive_destination"),
		ArchiveFormat:       getEnvOrDefault("ARCHIVE_FORMAT", k.String("archive_format"), DefaultArchiveFormat),

		ArchiveBucket:          getEnvOrKoanf("ARCHIVE_BUCKET", k, "archive_bucket"),
		ArchiveAccessKeyID:     getEnvOrKoanf("ARCHIVE_ACCESS_KEY_ID", k, "archive_access_key_id"),
		ArchiveSecretAccessKey: getEnvOrKoanf("ARCHIVE_SECRET_ACCESS_KEY", k, "archive_secret_access_key"),
		ArchiveEndpoint:        getEnvOrKoanf("ARCHIVE_ENDPOINT", k, "archive_endpoint"),

		TracingEnabled:      getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), "otlp-http"),
		TracingOTLPEndpoint: getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate: samplingRate,
		TracingInsecure:     getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// Validate checks cross-field invariants. Returns a slice of validation
// errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.RetainFor <= c.ArchiveAfter {
		errs = append(errs, ErrRetainShorterThanArchive)
	}
	if c.ArchiveDestination != "" {
		if c.ArchiveBucket == "" || c.ArchiveAccessKeyID == "" || c.ArchiveSecretAccessKey == "" {
			errs = append(errs, ErrArchiveSinkIncomplete)
		}
	}
	switch c.ArchiveFormat {
	case "json", "csv":
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidArchiveFormat, c.ArchiveFormat))
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}

	return errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvBoolOrDefault parses a boolean from the environment, falling back to
// the koanf value, then the default. Env values accept true/1/yes/on and
// false/0/no/off, case-insensitively.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	if k.Exists(koanfKey) {
		return k.Bool(koanfKey)
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error if the environment
// variable is set but cannot be parsed.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidInt)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if
// set, otherwise the koanf value, or default. Accepts Go duration syntax
// (e.g. "90s", "24h").
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidDuration)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set,
// otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}
