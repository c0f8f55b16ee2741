package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDataDir is the default runtime data directory.
	DefaultDataDir = "./runtime-data"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultProviderBaseURL is the default OpenRouter-compatible endpoint.
	DefaultProviderBaseURL = "https://openrouter.ai/api/v1"

	// DefaultProviderTimeout bounds a single provider call.
	DefaultProviderTimeout = 2 * time.Minute

	// DefaultProviderRetries is the per-question attempt budget for
	// transient provider errors.
	DefaultProviderRetries = 3

	// DefaultWorkerLimit caps concurrent per-model workers within one run.
	DefaultWorkerLimit = 8

	// DefaultMongoDatabase is the default document store database name.
	DefaultMongoDatabase = "quizbench"

	// DefaultLogMaxSize is the default rotation threshold for run logs.
	DefaultLogMaxSize = "10MB"

	// DefaultLogMaxBackups is the default number of rotated log files kept.
	DefaultLogMaxBackups = 3
)

// Config is the root configuration for thelastquiz.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Runs     RunsConfig     `yaml:"runs" mapstructure:"runs"`
	RunLog   RunLogConfig   `yaml:"run_log" mapstructure:"run_log"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	DataDir  string `yaml:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
}

// StorageConfig selects and configures the persistence backend. The
// document store is preferred when its connection can be established;
// otherwise the engine falls back to append-only file storage under the
// data directory.
type StorageConfig struct {
	Mongo MongoConfig `yaml:"mongo,omitempty" mapstructure:"mongo"`
}

// MongoConfig contains document store connection settings.
type MongoConfig struct {
	URI      string `yaml:"uri,omitempty" mapstructure:"uri"`
	Database string `yaml:"database,omitempty" mapstructure:"database"`
}

// ProviderConfig contains LLM provider client settings.
type ProviderConfig struct {
	BaseURL    string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIKey     string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Timeout    time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
	MaxRetries int           `yaml:"max_retries,omitempty" mapstructure:"max_retries"`
}

// RunsConfig contains run orchestration settings.
type RunsConfig struct {
	WorkerLimit int `yaml:"worker_limit,omitempty" mapstructure:"worker_limit"`
}

// RunLogConfig governs the per-run execution log sink. These limits apply
// to execution logs only, never to result persistence.
type RunLogConfig struct {
	MaxSize    string        `yaml:"max_size,omitempty" mapstructure:"max_size"`
	MaxAge     time.Duration `yaml:"max_age,omitempty" mapstructure:"max_age"`
	MaxBackups int           `yaml:"max_backups,omitempty" mapstructure:"max_backups"`
}

// MaxSizeBytes returns the parsed rotation threshold in bytes.
func (c *RunLogConfig) MaxSizeBytes() (int64, error) {
	size, err := units.FromHumanSize(c.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("parsing run_log max_size %q: %w", c.MaxSize, err)
	}

	return size, nil
}

// ReportConfig configures the report generation collaborator.
type ReportConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Upload  *S3UploadConfig `yaml:"upload,omitempty" mapstructure:"upload"`
}

// S3UploadConfig contains S3 settings for mirroring report assets.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// Load reads the configuration from an optional YAML file, applying
// environment overrides (THELASTQUIZ_* plus the MONGODB_URI,
// MONGODB_DB_NAME and OPENROUTER_API_KEY variables recognized by the
// deployment scripts) and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("THELASTQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnvOverrides honors the well-known environment variables, taking
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	if uri := strings.TrimSpace(os.Getenv("MONGODB_URI")); uri != "" {
		c.Storage.Mongo.URI = uri
	}

	if name := strings.TrimSpace(os.Getenv("MONGODB_DB_NAME")); name != "" {
		c.Storage.Mongo.Database = name
	}

	if key := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")); key != "" {
		c.Provider.APIKey = key
	}
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.DataDir == "" {
		c.Global.DataDir = DefaultDataDir
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = DefaultMongoDatabase
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = DefaultProviderBaseURL
	}

	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = DefaultProviderTimeout
	}

	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = DefaultProviderRetries
	}

	if c.Runs.WorkerLimit == 0 {
		c.Runs.WorkerLimit = DefaultWorkerLimit
	}

	if c.RunLog.MaxSize == "" {
		c.RunLog.MaxSize = DefaultLogMaxSize
	}

	if c.RunLog.MaxBackups == 0 {
		c.RunLog.MaxBackups = DefaultLogMaxBackups
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Global.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	if dir := filepath.Dir(c.Global.DataDir); dir != "." && dir != ".." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("data directory parent %q does not exist", dir)
		}
	}

	if _, err := c.RunLog.MaxSizeBytes(); err != nil {
		return err
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive when enabled")
	}

	if c.Report.Upload != nil && c.Report.Upload.Enabled && c.Report.Upload.Bucket == "" {
		return fmt.Errorf("report.upload.bucket is required when upload is enabled")
	}

	return nil
}

// LegacyStorePath returns the location of the legacy embedded store.
func (c *Config) LegacyStorePath() string {
	return filepath.Join(c.Global.DataDir, "db", "quizbench.sqlite3")
}

// FileStoreDir returns the append-only file store directory.
func (c *Config) FileStoreDir() string {
	return filepath.Join(c.Global.DataDir, "store")
}

// LogsDir returns the execution log directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Global.DataDir, "logs")
}

// AssetsDir returns the root directory for generated run assets.
func (c *Config) AssetsDir() string {
	return filepath.Join(c.Global.DataDir, "assets")
}
