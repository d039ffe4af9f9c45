package locksmith

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// ErrConfigValidation is returned when configuration validation fails
var ErrConfigValidation = errors.New("configuration validation failed")

// DefaultConfigFile is the configuration file looked up by the CLI.
const DefaultConfigFile = "locksmith.yaml"

// Config represents the locksmith configuration
type Config struct {
	Postgres   PostgresConfig   `yaml:"postgres"`
	Inspection InspectionConfig `yaml:"inspection"`
	Output     OutputConfig     `yaml:"output"`
	Restore    RestoreConfig    `yaml:"restore"`
}

// PostgresConfig selects the database instance inspections run against.
// When DSN is empty an ephemeral container is started from Image:Version.
type PostgresConfig struct {
	Image    string `yaml:"image"`
	Version  string `yaml:"version"`
	DSN      string `yaml:"dsn"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// InspectionConfig tunes the oracle
type InspectionConfig struct {
	// Timeout bounds statement execution plus lock monitoring.
	Timeout time.Duration `yaml:"timeout"`
	// MonitorTimeout bounds lock sampling alone. Exceeding it is not fatal.
	// An explicit zero leaves sampling bounded by Timeout only.
	MonitorTimeout time.Duration `yaml:"monitor_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	LockPolicy     string        `yaml:"lock_policy"`
}

// OutputConfig represents rendering defaults
type OutputConfig struct {
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
}

// RestoreConfig configures restoring binary dumps on servers reached by DSN
type RestoreConfig struct {
	Command string `yaml:"command"`
}

// LoadConfig loads configuration from the specified file
func LoadConfig(configPath string) (*Config, error) {
	// Load .env files first
	err := loadEnvFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment files: %w", err)
	}

	// Check if config file exists
	_, err = os.Stat(configPath)
	if configPath == "" || os.IsNotExist(err) {
		// Return default configuration if file doesn't exist
		config := DefaultConfig()
		expandConfigEnvVars(config)

		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes, validates and completes a YAML configuration document.
func ParseConfig(data []byte) (*Config, error) {
	// Parse YAML with strict mode to detect unknown fields
	var config Config

	err := yaml.UnmarshalWithOptions(data, &config, yaml.Strict())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config, monitorTimeoutSet(data))
	expandConfigEnvVars(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Inspection.Timeout <= 0 {
		return fmt.Errorf("%w: inspection.timeout must be positive", ErrConfigValidation)
	}

	if c.Inspection.PollInterval <= 0 {
		return fmt.Errorf("%w: inspection.poll_interval must be positive", ErrConfigValidation)
	}

	if c.Inspection.MonitorTimeout < 0 {
		return fmt.Errorf("%w: inspection.monitor_timeout must not be negative", ErrConfigValidation)
	}

	if c.Inspection.PollInterval >= c.Inspection.Timeout {
		return fmt.Errorf("%w: inspection.poll_interval (%s) must be shorter than inspection.timeout (%s)",
			ErrConfigValidation, c.Inspection.PollInterval, c.Inspection.Timeout)
	}

	if _, err := ParseLockPolicy(c.Inspection.LockPolicy); err != nil {
		return fmt.Errorf("%w: inspection.lock_policy: %w", ErrConfigValidation, err)
	}

	validFormats := map[string]bool{
		"table":    true,
		"json":     true,
		"yaml":     true,
		"markdown": true,
	}
	if !validFormats[c.Output.Format] {
		return fmt.Errorf("%w: invalid output format '%s': must be one of table, json, yaml, markdown", ErrConfigValidation, c.Output.Format)
	}

	if c.Postgres.DSN == "" && c.Postgres.Version == "" {
		return fmt.Errorf("%w: postgres.version is required when postgres.dsn is empty", ErrConfigValidation)
	}

	return nil
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	return &Config{
		Postgres: PostgresConfig{
			Image:    "postgres",
			Version:  "17-alpine",
			User:     "locksmith",
			Password: "locksmith",
			Database: "locksmith",
		},
		Inspection: InspectionConfig{
			Timeout:        60 * time.Second,
			MonitorTimeout: 30 * time.Second,
			PollInterval:   25 * time.Millisecond,
			LockPolicy:     string(LockPolicyStrongest),
		},
		Output: OutputConfig{
			Format: "table",
		},
		Restore: RestoreConfig{
			Command: "pg_restore",
		},
	}
}

// monitorTimeoutSet reports whether the document sets
// inspection.monitor_timeout, so that an explicit zero is kept.
func monitorTimeoutSet(data []byte) bool {
	var raw struct {
		Inspection map[string]any `yaml:"inspection"`
	}

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return false
	}

	_, ok := raw.Inspection["monitor_timeout"]

	return ok
}

func applyDefaults(config *Config, keepMonitorTimeout bool) {
	defaults := DefaultConfig()

	if config.Postgres.Image == "" {
		config.Postgres.Image = defaults.Postgres.Image
	}

	if config.Postgres.Version == "" && config.Postgres.DSN == "" {
		config.Postgres.Version = defaults.Postgres.Version
	}

	if config.Postgres.User == "" {
		config.Postgres.User = defaults.Postgres.User
	}

	if config.Postgres.Password == "" {
		config.Postgres.Password = defaults.Postgres.Password
	}

	if config.Postgres.Database == "" {
		config.Postgres.Database = defaults.Postgres.Database
	}

	if config.Inspection.Timeout == 0 {
		config.Inspection.Timeout = defaults.Inspection.Timeout
	}

	if config.Inspection.MonitorTimeout == 0 && !keepMonitorTimeout {
		config.Inspection.MonitorTimeout = defaults.Inspection.MonitorTimeout
	}

	if config.Inspection.PollInterval == 0 {
		config.Inspection.PollInterval = defaults.Inspection.PollInterval
	}

	if config.Inspection.LockPolicy == "" {
		config.Inspection.LockPolicy = defaults.Inspection.LockPolicy
	}

	if config.Output.Format == "" {
		config.Output.Format = defaults.Output.Format
	}

	if config.Restore.Command == "" {
		config.Restore.Command = defaults.Restore.Command
	}
}

// loadEnvFiles loads .env files if they exist
func loadEnvFiles() error {
	// Try to load .env file from current directory
	if fileExists(".env") {
		err := godotenv.Load(".env")
		if err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	return nil
}

var (
	bracedEnvVar = regexp.MustCompile(`\$\{([^}]+)\}`)
	bareEnvVar   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(s string) string {
	s = bracedEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})

	return bareEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[1:])
	})
}

func expandConfigEnvVars(config *Config) {
	config.Postgres.DSN = expandEnvVars(config.Postgres.DSN)
	config.Postgres.User = expandEnvVars(config.Postgres.User)
	config.Postgres.Password = expandEnvVars(config.Postgres.Password)
	config.Postgres.Database = expandEnvVars(config.Postgres.Database)
	config.Postgres.Version = expandEnvVars(config.Postgres.Version)
	config.Output.Path = expandEnvVars(config.Output.Path)
	config.Restore.Command = expandEnvVars(config.Restore.Command)
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
