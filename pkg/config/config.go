package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	// IMPORTOOR_SERVER_LISTEN overrides server.listen.
	EnvPrefix = "IMPORTOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the default log output format.
	DefaultLogFormat = "text"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultDriver is the default database driver.
	DefaultDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "importoor.db"

	// DefaultMaxUploadSize is the default upper bound for an uploaded file.
	DefaultMaxUploadSize = "10MB"

	// DefaultImportTimeout bounds a single import request.
	DefaultImportTimeout = "60s"

	// DefaultArchivePrefix is the default S3 key prefix for archived files.
	DefaultArchivePrefix = "imports"

	redacted = "[REDACTED]"
)

// Config is the root configuration for importoor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Import   ImportConfig   `yaml:"import" mapstructure:"import"`
	Archive  *ArchiveConfig `yaml:"archive,omitempty" mapstructure:"archive"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Import  RateLimitTier `yaml:"import,omitempty" mapstructure:"import"`
	Query   RateLimitTier `yaml:"query,omitempty" mapstructure:"query"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// DSN returns the libpq style connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ImportConfig contains limits applied to uploaded files.
type ImportConfig struct {
	// MaxUploadSize accepts human readable sizes such as "10MB" or "512KiB".
	MaxUploadSize string `yaml:"max_upload_size" mapstructure:"max_upload_size"`
	Timeout       string `yaml:"timeout" mapstructure:"timeout"`
}

// MaxUploadBytes returns MaxUploadSize in bytes.
func (c *ImportConfig) MaxUploadBytes() (int64, error) {
	n, err := units.RAMInBytes(c.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("parsing max_upload_size %q: %w", c.MaxUploadSize, err)
	}

	return n, nil
}

// TimeoutDuration returns Timeout as a duration.
func (c *ImportConfig) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parsing import timeout %q: %w", c.Timeout, err)
	}

	return d, nil
}

// ArchiveConfig configures where raw uploaded files are kept after a
// successful import. Only one backend may be enabled at a time.
type ArchiveConfig struct {
	Local *LocalArchiveConfig `yaml:"local,omitempty" mapstructure:"local"`
	S3    *S3ArchiveConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
}

// LocalArchiveConfig writes archived files into a directory.
type LocalArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Directory string `yaml:"directory" mapstructure:"directory"`
	// Owner is an optional "UID:GID" applied to written files.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// S3ArchiveConfig writes archived files to S3-compatible storage.
type S3ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
}

// Load reads and merges the configuration files in order, applies
// environment overrides and defaults, and validates the result. With no
// paths the configuration is built from defaults and environment only.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	registerKeys(v, "", reflect.TypeOf(Config{}))

	for i, path := range paths {
		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// registerKeys makes every leaf key known to viper so that environment
// variables override values absent from the config files.
func registerKeys(v *viper.Viper, prefix string, t reflect.Type) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		ft := field.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}

		if ft.Kind() == reflect.Struct {
			registerKeys(v, key, ft)

			continue
		}

		_ = v.BindEnv(key)
	}
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.LogFormat == "" {
		c.Global.LogFormat = DefaultLogFormat
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Import.RequestsPerMinute == 0 {
		c.Server.RateLimit.Import.RequestsPerMinute = 10
	}

	if c.Server.RateLimit.Query.RequestsPerMinute == 0 {
		c.Server.RateLimit.Query.RequestsPerMinute = 120
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.Import.MaxUploadSize == "" {
		c.Import.MaxUploadSize = DefaultMaxUploadSize
	}

	if c.Import.Timeout == "" {
		c.Import.Timeout = DefaultImportTimeout
	}

	if c.Archive != nil && c.Archive.S3 != nil {
		if c.Archive.S3.Prefix == "" {
			c.Archive.S3.Prefix = DefaultArchivePrefix
		}

		if c.Archive.S3.Region == "" {
			c.Archive.S3.Region = "us-east-1"
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Global.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("global.log_format %q must be one of: text, json", c.Global.LogFormat)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required for the postgres driver")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.Import.RequestsPerMinute < 0 ||
			c.Server.RateLimit.Query.RequestsPerMinute < 0 {
			return fmt.Errorf("server.rate_limit requests_per_minute must be positive")
		}
	}

	size, err := c.Import.MaxUploadBytes()
	if err != nil {
		return err
	}

	if size <= 0 {
		return fmt.Errorf("import.max_upload_size must be positive")
	}

	timeout, err := c.Import.TimeoutDuration()
	if err != nil {
		return err
	}

	if timeout <= 0 {
		return fmt.Errorf("import.timeout must be positive")
	}

	return c.validateArchive()
}

func (c *Config) validateArchive() error {
	if c.Archive == nil {
		return nil
	}

	localEnabled := c.Archive.Local != nil && c.Archive.Local.Enabled
	s3Enabled := c.Archive.S3 != nil && c.Archive.S3.Enabled

	if localEnabled && s3Enabled {
		return fmt.Errorf("archive: only one of local or s3 may be enabled")
	}

	if localEnabled && c.Archive.Local.Directory == "" {
		return fmt.Errorf("archive.local.directory is required when local archiving is enabled")
	}

	if s3Enabled && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3.bucket is required when s3 archiving is enabled")
	}

	return nil
}

// Redacted returns a copy of the configuration with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c

	if out.Database.Postgres.Password != "" {
		out.Database.Postgres.Password = redacted
	}

	if c.Archive != nil {
		archive := *c.Archive

		if archive.S3 != nil {
			s3 := *archive.S3
			if s3.SecretAccessKey != "" {
				s3.SecretAccessKey = redacted
			}

			archive.S3 = &s3
		}

		out.Archive = &archive
	}

	return &out
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshalling config: %w", err)
	}

	return data, nil
}
