// Package config provides configuration loading and management for the loader service.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // schedule zones must resolve in minimal images

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/codefordc/housing-insights-loader/internal/telemetry"
)

const (
	// EnvPrefix is the prefix for environment variables read through viper
	EnvPrefix = "HI_LOADER"

	// BackupTypeFile keeps dataset snapshots in a local directory
	BackupTypeFile = "file"

	// BackupTypeS3 keeps dataset snapshots in an S3-compatible bucket
	BackupTypeS3 = "s3"
)

// Environment variables consulted when the matching secret file is not configured
const (
	EnvDatabasePassword = "HI_DATABASE_PASSWORD"
	EnvLoadDataPassword = "HI_LOAD_DATA_PASSWORD"
	EnvSMTPPassword     = "HI_SMTP_PASSWORD"
	EnvBackupAccessKey  = "HI_BACKUP_ACCESS_KEY"
	EnvBackupSecretKey  = "HI_BACKUP_SECRET_KEY"
)

const (
	defaultStatusDir    = "./data/status"
	defaultFetchTimeout = 2 * time.Minute
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// EvalSymlinks also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Schedule  ScheduleConfig    `yaml:"schedule"`
	Tables    []TableConfig     `yaml:"tables"`
	Backup    *BackupConfig     `yaml:"backup,omitempty"`
	Database  *DatabaseConfig   `yaml:"database,omitempty"`
	Trigger   TriggerConfig     `yaml:"trigger"`
	Mail      *MailConfig       `yaml:"mail,omitempty"`
	Status    StatusConfig      `yaml:"status"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`

	// LockFile, when set, is an advisory lock shared by every process that
	// refreshes the same database
	LockFile string `yaml:"lockFile,omitempty"`
}

// ScheduleConfig defines the daily refresh
type ScheduleConfig struct {
	// Disabled turns the daily refresh off; manual triggers still work
	Disabled bool `yaml:"disabled,omitempty"`

	// Hour and Minute of the daily fire, in Timezone. Defaults to midnight.
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`

	// Timezone is an IANA zone name. Defaults to America/New_York.
	Timezone string `yaml:"timezone,omitempty"`

	// Tables overrides the ordered daily table list
	Tables []string `yaml:"tables,omitempty"`
}

// TableConfig defines the upstream source of one base table
type TableConfig struct {
	// Name is the table identifier, e.g. "crime"
	Name string `yaml:"name"`

	// Source is the URL of the upstream JSON document
	Source string `yaml:"source"`

	// RecordsPath is a gjson path selecting the record array,
	// e.g. "features.#.properties". Empty means the document is the array.
	RecordsPath string `yaml:"recordsPath,omitempty"`

	// Timeout bounds one fetch attempt (e.g. "90s")
	Timeout string `yaml:"timeout,omitempty"`
}

// BackupConfig defines where last-known-good dataset snapshots live
type BackupConfig struct {
	// Type is "file" or "s3"
	Type string `yaml:"type"`

	// Dir is the snapshot directory for the file type
	Dir string `yaml:"dir,omitempty"`

	S3 *S3Config `yaml:"s3,omitempty"`
}

// S3Config defines an S3-compatible snapshot bucket
type S3Config struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	UseSSL   bool   `yaml:"useSSL,omitempty"`

	AccessKeyFile string `yaml:"accessKeyFile,omitempty"`
	SecretKeyFile string `yaml:"secretKeyFile,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing only the password
	PasswordFile string `yaml:"passwordFile,omitempty"`

	Database string `yaml:"database"`

	// SSLMode is disable, require, verify-ca or verify-full
	SSLMode string `yaml:"sslMode,omitempty"`

	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`
	MinIdleConns int32 `yaml:"minIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// TriggerConfig defines the shared secret gating manual refreshes
type TriggerConfig struct {
	PasswordFile string `yaml:"passwordFile,omitempty"`
}

// MailConfig defines SMTP delivery of refresh reports
type MailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Username string   `yaml:"username,omitempty"`

	PasswordFile string `yaml:"passwordFile,omitempty"`
}

// StatusConfig defines where per-table status is kept
type StatusConfig struct {
	DataDir string `yaml:"dataDir,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetStatusDir returns the status directory, using the default if not specified
func (c *Config) GetStatusDir() string {
	if c.Status.DataDir == "" {
		return defaultStatusDir
	}
	return c.Status.DataDir
}

// Table returns the configuration of the named table
func (c *Config) Table(name string) (TableConfig, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableConfig{}, false
}

// GetLocation resolves the schedule time zone
func (s *ScheduleConfig) GetLocation() (*time.Location, error) {
	name := s.Timezone
	if name == "" {
		name = "America/New_York"
	}
	return time.LoadLocation(name)
}

// GetTimeout returns the per-attempt fetch timeout
func (t *TableConfig) GetTimeout() time.Duration {
	if d, err := time.ParseDuration(t.Timeout); err == nil && d > 0 {
		return d
	}
	return defaultFetchTimeout
}

// GetPassword returns the database password from PasswordFile or HI_DATABASE_PASSWORD
func (d *DatabaseConfig) GetPassword() (string, error) {
	return readSecret("database password", d.PasswordFile, EnvDatabasePassword)
}

// GetConnectionString builds a PostgreSQL connection string.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String(), nil
}

// GetConnMaxLifetime parses ConnMaxLifetime, zero when unset or invalid
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	lifetime, err := time.ParseDuration(d.ConnMaxLifetime)
	if err != nil {
		return 0
	}
	return lifetime
}

// GetPassword returns the manual trigger secret from PasswordFile or HI_LOAD_DATA_PASSWORD
func (t *TriggerConfig) GetPassword() (string, error) {
	return readSecret("load data password", t.PasswordFile, EnvLoadDataPassword)
}

// GetPassword returns the SMTP password from PasswordFile or HI_SMTP_PASSWORD.
// An empty password is allowed for unauthenticated relays.
func (m *MailConfig) GetPassword() (string, error) {
	if m.PasswordFile == "" {
		return os.Getenv(EnvSMTPPassword), nil
	}
	return readSecret("SMTP password", m.PasswordFile, EnvSMTPPassword)
}

// GetCredentials returns the S3 access and secret keys
func (s *S3Config) GetCredentials() (accessKey, secretKey string, err error) {
	accessKey, err = readSecret("backup access key", s.AccessKeyFile, EnvBackupAccessKey)
	if err != nil {
		return "", "", err
	}
	secretKey, err = readSecret("backup secret key", s.SecretKeyFile, EnvBackupSecretKey)
	if err != nil {
		return "", "", err
	}
	return accessKey, secretKey, nil
}

// readSecret reads a secret from file when one is configured, otherwise from
// the environment. File contents are trimmed of surrounding whitespace.
func readSecret(what, file, envVar string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return "", fmt.Errorf("failed to read %s from file %s: %w", what, file, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s file %s is empty", what, file)
		}
		return secret, nil
	}

	if secret := os.Getenv(envVar); secret != "" {
		return secret, nil
	}

	return "", fmt.Errorf("no %s configured: set the password file or the %s environment variable", what, envVar)
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var result *multierror.Error

	if err := c.Schedule.validate(); err != nil {
		result = multierror.Append(result, err)
	}

	names := make(map[string]bool)
	for i, table := range c.Tables {
		if table.Name == "" {
			result = multierror.Append(result, fmt.Errorf("tables[%d]: name is required", i))
			continue
		}
		if names[table.Name] {
			result = multierror.Append(result, fmt.Errorf("tables[%d]: duplicate table '%s'", i, table.Name))
		}
		names[table.Name] = true

		if err := table.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("tables[%d] (%s): %w", i, table.Name, err))
		}
	}

	if c.Backup != nil {
		if err := c.Backup.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("backup: %w", err))
		}
	}

	if c.Mail != nil {
		if err := c.Mail.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("mail: %w", err))
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("telemetry: %w", err))
	}

	return result.ErrorOrNil()
}

func (s *ScheduleConfig) validate() error {
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("schedule.hour must be between 0 and 23, got %d", s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("schedule.minute must be between 0 and 59, got %d", s.Minute)
	}
	if _, err := s.GetLocation(); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}

func (t *TableConfig) validate() error {
	if t.Source == "" {
		return fmt.Errorf("source is required")
	}
	u, err := url.Parse(t.Source)
	if err != nil {
		return fmt.Errorf("invalid source URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source must be an http or https URL, got %q", t.Source)
	}
	if t.Timeout != "" {
		if _, err := time.ParseDuration(t.Timeout); err != nil {
			return fmt.Errorf("timeout must be a valid duration (e.g., '90s', '5m'): %w", err)
		}
	}
	return nil
}

func (b *BackupConfig) validate() error {
	switch b.Type {
	case BackupTypeFile:
		if b.Dir == "" {
			return fmt.Errorf("dir is required for file backups")
		}
	case BackupTypeS3:
		if b.S3 == nil {
			return fmt.Errorf("s3 section is required for s3 backups")
		}
		if b.S3.Endpoint == "" || b.S3.Bucket == "" {
			return fmt.Errorf("s3.endpoint and s3.bucket are required")
		}
	default:
		return fmt.Errorf("type must be %q or %q, got %q", BackupTypeFile, BackupTypeS3, b.Type)
	}
	return nil
}

func (m *MailConfig) validate() error {
	var result *multierror.Error
	if m.Host == "" {
		result = multierror.Append(result, fmt.Errorf("host is required"))
	}
	if m.Port <= 0 || m.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port must be between 1 and 65535, got %d", m.Port))
	}
	if m.From == "" {
		result = multierror.Append(result, fmt.Errorf("from is required"))
	}
	if len(m.To) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one recipient is required"))
	}
	return result.ErrorOrNil()
}
