package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sys/unix"
)

//go:embed sample_config.toml
var sampleConfig string

// State contains the local directory holding the checkpoint database, logs and lock files.
type State struct {
	Dir string `toml:"dir"`
}

// ObjectStore contains connection settings for the S3-compatible object store.
type ObjectStore struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	UsePathStyle    bool   `toml:"use_path_style"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	PageSize        int    `toml:"page_size"`
}

// Retry is the single retry policy applied to every object store call.
type Retry struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelayMS int     `toml:"base_delay_ms"`
	MaxDelayMS  int     `toml:"max_delay_ms"`
	Jitter      float64 `toml:"jitter"`
}

// Database contains the read-only connection to the application's relational store.
type Database struct {
	Driver   string `toml:"driver"` // postgres or sqlite
	DSN      string `toml:"dsn"`
	PageSize int    `toml:"page_size"`
}

// Environment overrides per deployment environment. Prefix defaults to the
// environment name; Bucket and DatabaseDSN fall back to the global sections.
type Environment struct {
	Prefix      string `toml:"prefix"`
	Bucket      string `toml:"bucket"`
	DatabaseDSN string `toml:"database_dsn"`
}

// Run contains defaults for reconciliation runs. CLI flags override them.
type Run struct {
	BatchSize           int `toml:"batch_size"`
	Workers             int `toml:"workers"`
	CheckThresholdHours int `toml:"check_threshold_hours"`
	SampleSize          int `toml:"sample_size"`
}

// Cache selects the file check cache backend.
type Cache struct {
	Backend       string `toml:"backend"` // sqlite, redis or none
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// Quarantine contains retention and locking settings for destructive runs.
type Quarantine struct {
	TTLDays        int `toml:"ttl_days"`
	LockTTLMinutes int `toml:"lock_ttl_minutes"`
}

// Collector contains reference extraction settings shared by all entities.
type Collector struct {
	// LegacyPlaceholders are sentinel values stored in deprecated URL columns
	// meaning "a file exists, its location is recorded elsewhere".
	LegacyPlaceholders []string `toml:"legacy_placeholders"`
	// LegacyHosts are hosts whose absolute URLs point into the managed bucket.
	LegacyHosts []string `toml:"legacy_hosts"`
}

// Metrics contains the optional Prometheus textfile output.
type Metrics struct {
	TextfilePath string `toml:"textfile_path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Field describes one file-bearing attribute of an entity.
type Field struct {
	Name            string `toml:"name"`
	Kind            string `toml:"kind"` // structured, legacy_url, json_path
	FlagColumn      string `toml:"flag_column"`
	FilenameColumn  string `toml:"filename_column"`
	URLColumn       string `toml:"url_column"`
	LegacyURLColumn string `toml:"legacy_url_column"`
	JSONColumn      string `toml:"json_column"`
	JSONPath        string `toml:"json_path"`
	AssetClass      string `toml:"asset_class"`
	Visibility      string `toml:"visibility"`
}

// Polymorphic describes a relation table whose rows belong to an owner
// identified by a (type, id) pair.
type Polymorphic struct {
	TypeColumn    string            `toml:"type_column"`
	OwnerIDColumn string            `toml:"owner_id_column"`
	TypeMap       map[string]string `toml:"type_map"`
}

// Entity describes where one relational table records expected files.
type Entity struct {
	Type        string       `toml:"type"`
	Table       string       `toml:"table"`
	IDColumn    string       `toml:"id_column"`
	Visibility  string       `toml:"visibility"`
	AssetClass  string       `toml:"asset_class"`
	Fields      []Field      `toml:"fields"`
	Polymorphic *Polymorphic `toml:"polymorphic,omitempty"`
}

// Config encapsulates all configuration values for filesweep.
//
// Configuration sections by subsystem:
//   - State: checkpoint database, logs and host lock files
//   - ObjectStore + Retry: the S3-compatible store and its retry policy
//   - Database: read-only access to the application's relational store
//   - Environments: per-environment prefix/bucket/DSN overrides
//   - Run: batch size, worker count, cache threshold defaults
//   - Cache: file check cache backend
//   - Quarantine: quarantine retention and run-lock expiry
//   - Collector + Entities: the reference catalog
//   - Metrics, Logging: run observability
type Config struct {
	State        State                  `toml:"state"`
	ObjectStore  ObjectStore            `toml:"object_store"`
	Retry        Retry                  `toml:"retry"`
	Database     Database               `toml:"database"`
	Environments map[string]Environment `toml:"environments"`
	Run          Run                    `toml:"run"`
	Cache        Cache                  `toml:"cache"`
	Quarantine   Quarantine             `toml:"quarantine"`
	Collector    Collector              `toml:"collector"`
	Metrics      Metrics                `toml:"metrics"`
	Logging      Logging                `toml:"logging"`
	Entities     []Entity               `toml:"entities"`
}

// ResolvedEnvironment is the effective configuration for one environment.
type ResolvedEnvironment struct {
	Name        string
	Prefix      string
	Bucket      string
	DatabaseDSN string
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/filesweep/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("filesweep.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, log and lock directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.State.Dir, c.LogDir(), c.LockDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
		// MkdirAll succeeds on an existing directory we cannot write to.
		if err := unix.Access(dir, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
			return fmt.Errorf("directory %q: insufficient permissions: %w", dir, err)
		}
	}
	return nil
}

// StateDBPath returns the SQLite database holding checkpoints, the quarantine ledger
// and the file check cache.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.State.Dir, "filesweep.db")
}

// LogDir returns the directory receiving the run log file.
func (c *Config) LogDir() string {
	return filepath.Join(c.State.Dir, "logs")
}

// LockDir returns the directory holding per-environment host lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.State.Dir, "locks")
}

// Environment resolves the effective settings for the named environment.
func (c *Config) Environment(name string) (ResolvedEnvironment, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !IsKnownEnvironment(name) {
		return ResolvedEnvironment{}, fmt.Errorf("unknown environment %q (expected one of %s)", name, strings.Join(KnownEnvironments, ", "))
	}
	env := c.Environments[name]
	resolved := ResolvedEnvironment{
		Name:        name,
		Prefix:      strings.Trim(strings.TrimSpace(env.Prefix), "/"),
		Bucket:      strings.TrimSpace(env.Bucket),
		DatabaseDSN: strings.TrimSpace(env.DatabaseDSN),
	}
	if resolved.Prefix == "" {
		resolved.Prefix = name
	}
	if resolved.Bucket == "" {
		resolved.Bucket = c.ObjectStore.Bucket
	}
	if resolved.DatabaseDSN == "" {
		resolved.DatabaseDSN = c.Database.DSN
	}
	if resolved.Bucket == "" {
		return ResolvedEnvironment{}, fmt.Errorf("object_store.bucket (or environments.%s.bucket) must be set", name)
	}
	if resolved.DatabaseDSN == "" {
		return ResolvedEnvironment{}, fmt.Errorf("database.dsn (or environments.%s.database_dsn) must be set", name)
	}
	return resolved, nil
}

// CheckThreshold returns the file check cache TTL.
func (c *Config) CheckThreshold() time.Duration {
	return time.Duration(c.Run.CheckThresholdHours) * time.Hour
}

// QuarantineTTL returns how long quarantined objects are kept before purge.
func (c *Config) QuarantineTTL() time.Duration {
	return time.Duration(c.Quarantine.TTLDays) * 24 * time.Hour
}

// LockTTL returns the expiry written into run-lock markers.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Quarantine.LockTTLMinutes) * time.Minute
}

// RetryBaseDelay returns the first backoff interval of the retry policy.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns the backoff ceiling of the retry policy.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Marshal renders the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
