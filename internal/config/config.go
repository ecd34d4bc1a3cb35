// Package config provides configuration loading and management for the sync service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/telemetry"
)

// EnvPrefix is the prefix for environment variable overrides (TMDB_SYNC_*).
const EnvPrefix = "TMDB_SYNC"

// Storage backends
const (
	// StorageTypeMemory keeps documents and cursors in process memory (tests and dry runs)
	StorageTypeMemory = "memory"

	// StorageTypeFile keeps cursors and run journals on the local filesystem
	StorageTypeFile = "file"

	// StorageTypeSQLite keeps cursors in an embedded SQLite database
	StorageTypeSQLite = "sqlite"

	// StorageTypePostgres uses PostgreSQL for documents, cursors and run journals
	StorageTypePostgres = "postgres"

	// StorageTypeMongo uses MongoDB for documents, cursors and run journals
	StorageTypeMongo = "mongo"
)

// Sync modes
const (
	// ModeFull walks the whole sequence and resets the cursor on completion
	ModeFull = "full"

	// ModeIncremental queries an "updated since" window and keeps the watermark on completion
	ModeIncremental = "incremental"
)

const (
	defaultBaseURL            = "https://api.themoviedb.org/3"
	defaultBatchSize          = 20
	defaultRequestTimeout     = 15 * time.Second
	defaultRequestsPerSecond  = 40
	defaultBurst              = 20
	defaultInitialBackoff     = 500 * time.Millisecond
	defaultMaxBackoff         = 30 * time.Second
	defaultBackoffMultiplier  = 2.0
	defaultBackoffJitter      = 0.2
	defaultMaxRetries         = 5
	defaultMaxConcurrentRuns  = 4
	defaultRunTimeout         = 2 * time.Hour
	defaultIncrementalOverlap = 24 * time.Hour
	defaultRunHistorySize     = 256
	defaultReporterQueueSize  = 64
	defaultDataDir            = "./data"
	defaultMongoDatabase      = "tmdb"
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

		// Note that this calls filepath.Clean internally.
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
	TMDB      TMDBConfig        `yaml:"tmdb"`
	Entities  []EntityConfig    `yaml:"entities"`
	Sync      SyncConfig        `yaml:"sync"`
	Storage   StorageConfig     `yaml:"storage"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// TMDBConfig holds the upstream catalog settings
type TMDBConfig struct {
	// BaseURL is the API root, defaults to https://api.themoviedb.org/3
	BaseURL string `yaml:"baseURL,omitempty"`

	// TokenFile is the path to a file holding the v4 read access token.
	// TMDB_SYNC_TMDB_TOKEN takes effect when no file is configured.
	TokenFile string `yaml:"tokenFile,omitempty"`

	// Language is passed as the language query parameter when set (e.g. "en-US")
	Language string `yaml:"language,omitempty"`

	RequestTimeout Duration `yaml:"requestTimeout,omitempty"`

	RateLimit RateLimitConfig `yaml:"rateLimit,omitempty"`
	Retry     RetryConfig     `yaml:"retry,omitempty"`

	token string
}

// RateLimitConfig configures the per-credential request budget
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// RetryConfig configures backoff for transient upstream failures
type RetryConfig struct {
	InitialInterval Duration `yaml:"initialInterval,omitempty"`
	MaxInterval     Duration `yaml:"maxInterval,omitempty"`
	Multiplier      float64  `yaml:"multiplier,omitempty"`
	// Jitter is the fraction of each interval added at random, in [0, Multiplier-1)
	Jitter     float64 `yaml:"jitter,omitempty"`
	MaxRetries int     `yaml:"maxRetries,omitempty"`
}

// EntityConfig enables one entity type for syncing
type EntityConfig struct {
	// Name must be one of the catalog's known entity types (e.g. "movie_popular")
	Name string `yaml:"name"`

	// Mode is "full" or "incremental"
	Mode string `yaml:"mode,omitempty"`

	// Interval schedules periodic runs. Empty means manual triggers only.
	Interval Duration `yaml:"interval,omitempty"`

	// MaxPages stops a run after this many pages; 0 means no limit
	MaxPages int `yaml:"maxPages,omitempty"`
}

// SyncConfig holds orchestrator limits
type SyncConfig struct {
	MaxConcurrentRuns int `yaml:"maxConcurrentRuns,omitempty"`
	// BatchSize bounds the records reconciled at once. Larger upstream pages
	// are reconciled in several batches before the cursor advances.
	BatchSize          int      `yaml:"batchSize,omitempty"`
	RunTimeout         Duration `yaml:"runTimeout,omitempty"`
	IncrementalOverlap Duration `yaml:"incrementalOverlap,omitempty"`
	RunHistorySize     int      `yaml:"runHistorySize,omitempty"`
	ReporterQueueSize  int      `yaml:"reporterQueueSize,omitempty"`
}

// StorageConfig selects the backends for documents and cursors
type StorageConfig struct {
	// Documents is one of memory, postgres, mongo
	Documents string `yaml:"documents"`

	// Cursors is one of memory, file, sqlite, postgres, mongo
	Cursors string `yaml:"cursors"`

	DataDir  string          `yaml:"dataDir,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
	Mongo    *MongoConfig    `yaml:"mongo,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	PasswordFile string `yaml:"passwordFile,omitempty"`

	Database        string   `yaml:"database"`
	SSLMode         string   `yaml:"sslMode,omitempty"`
	MaxOpenConns    int32    `yaml:"maxOpenConns,omitempty"`
	MaxIdleConns    int32    `yaml:"maxIdleConns,omitempty"`
	ConnMaxLifetime Duration `yaml:"connMaxLifetime,omitempty"`
}

// MongoConfig defines MongoDB connection settings
type MongoConfig struct {
	// URIFile is the path to a file containing the connection URI.
	// TMDB_SYNC_MONGO_URI takes effect when no file is configured.
	URIFile  string `yaml:"uriFile,omitempty"`
	Database string `yaml:"database,omitempty"`
}

// Duration is a time.Duration that unmarshals from strings like "30m"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoadConfig loads, defaults and validates configuration from a YAML file.
// Environment variables with the TMDB_SYNC_ prefix override secrets.
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

	return Parse(data)
}

// Parse decodes YAML configuration bytes, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var config Config
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func (c *Config) applyDefaults() {
	t := &c.TMDB
	if t.BaseURL == "" {
		t.BaseURL = defaultBaseURL
	}
	if t.RequestTimeout == 0 {
		t.RequestTimeout = Duration(defaultRequestTimeout)
	}
	if t.RateLimit.RequestsPerSecond == 0 {
		t.RateLimit.RequestsPerSecond = defaultRequestsPerSecond
	}
	if t.RateLimit.Burst == 0 {
		t.RateLimit.Burst = defaultBurst
	}
	if t.Retry.InitialInterval == 0 {
		t.Retry.InitialInterval = Duration(defaultInitialBackoff)
	}
	if t.Retry.MaxInterval == 0 {
		t.Retry.MaxInterval = Duration(defaultMaxBackoff)
	}
	if t.Retry.Multiplier == 0 {
		t.Retry.Multiplier = defaultBackoffMultiplier
	}
	if t.Retry.Jitter == 0 {
		t.Retry.Jitter = defaultBackoffJitter
	}
	if t.Retry.MaxRetries == 0 {
		t.Retry.MaxRetries = defaultMaxRetries
	}

	for i := range c.Entities {
		if c.Entities[i].Mode != "" {
			continue
		}
		// changes feeds only make sense over a window
		if catalog.EntityType(c.Entities[i].Name).SupportsIncremental() {
			c.Entities[i].Mode = ModeIncremental
		} else {
			c.Entities[i].Mode = ModeFull
		}
	}

	s := &c.Sync
	if s.MaxConcurrentRuns == 0 {
		s.MaxConcurrentRuns = defaultMaxConcurrentRuns
	}
	if s.BatchSize == 0 {
		s.BatchSize = defaultBatchSize
	}
	if s.RunTimeout == 0 {
		s.RunTimeout = Duration(defaultRunTimeout)
	}
	if s.IncrementalOverlap == 0 {
		s.IncrementalOverlap = Duration(defaultIncrementalOverlap)
	}
	if s.RunHistorySize == 0 {
		s.RunHistorySize = defaultRunHistorySize
	}
	if s.ReporterQueueSize == 0 {
		s.ReporterQueueSize = defaultReporterQueueSize
	}

	if c.Storage.Documents == "" {
		c.Storage.Documents = StorageTypeMemory
	}
	if c.Storage.Cursors == "" {
		c.Storage.Cursors = StorageTypeFile
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = defaultDataDir
	}
	if c.Storage.Mongo != nil && c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = defaultMongoDatabase
	}
}

func (c *Config) validate() error {
	var errs []error

	if len(c.Entities) == 0 {
		errs = append(errs, fmt.Errorf("at least one entity must be configured"))
	}
	seen := make(map[string]bool)
	for i, e := range c.Entities {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("entities[%d]: name is required", i))
			continue
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("entities[%d]: duplicate entity '%s'", i, e.Name))
		}
		seen[e.Name] = true
		entity, err := catalog.ParseEntityType(e.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("entities[%d]: %w", i, err))
		}
		switch {
		case e.Mode != ModeFull && e.Mode != ModeIncremental:
			errs = append(errs, fmt.Errorf("entities[%d] (%s): mode must be 'full' or 'incremental'", i, e.Name))
		case err == nil && (e.Mode == ModeIncremental) != entity.SupportsIncremental():
			errs = append(errs, fmt.Errorf("entities[%d] (%s): mode '%s' is not supported by this entity type", i, e.Name, e.Mode))
		}
		if e.Interval < 0 || e.MaxPages < 0 {
			errs = append(errs, fmt.Errorf("entities[%d] (%s): interval and maxPages must not be negative", i, e.Name))
		}
	}

	if _, err := url.ParseRequestURI(c.TMDB.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("tmdb.baseURL: %w", err))
	}
	r := c.TMDB.Retry
	if r.Multiplier <= 1 {
		errs = append(errs, fmt.Errorf("tmdb.retry.multiplier must be greater than 1"))
	} else if r.Jitter < 0 || r.Jitter >= r.Multiplier-1 {
		// a larger jitter could make a later wait shorter than an earlier one
		errs = append(errs, fmt.Errorf("tmdb.retry.jitter must be in [0, multiplier-1)"))
	}
	if r.MaxInterval < r.InitialInterval {
		errs = append(errs, fmt.Errorf("tmdb.retry.maxInterval must not be below initialInterval"))
	}
	if c.TMDB.RateLimit.RequestsPerSecond < 0 || c.TMDB.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Errorf("tmdb.rateLimit must have a positive burst"))
	}

	if c.Sync.MaxConcurrentRuns < 1 {
		errs = append(errs, fmt.Errorf("sync.maxConcurrentRuns must be positive"))
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("sync.batchSize must be positive"))
	}

	errs = append(errs, c.Storage.validate()...)
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func (s *StorageConfig) validate() []error {
	var errs []error
	switch s.Documents {
	case StorageTypeMemory, StorageTypePostgres, StorageTypeMongo:
	default:
		errs = append(errs, fmt.Errorf("storage.documents: unknown backend '%s'", s.Documents))
	}
	switch s.Cursors {
	case StorageTypeMemory, StorageTypeFile, StorageTypeSQLite, StorageTypePostgres, StorageTypeMongo:
	default:
		errs = append(errs, fmt.Errorf("storage.cursors: unknown backend '%s'", s.Cursors))
	}
	if (s.Documents == StorageTypePostgres || s.Cursors == StorageTypePostgres) && s.Database == nil {
		errs = append(errs, fmt.Errorf("storage.database is required for the postgres backend"))
	}
	if (s.Documents == StorageTypeMongo || s.Cursors == StorageTypeMongo) && s.Mongo == nil {
		errs = append(errs, fmt.Errorf("storage.mongo is required for the mongo backend"))
	}
	return errs
}

// Entity returns the configuration for the named entity type
func (c *Config) Entity(name string) (EntityConfig, bool) {
	for _, e := range c.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return EntityConfig{}, false
}

// GetToken returns the TMDB bearer token using the following priority:
// 1. Read from TokenFile if specified
// 2. Read from TMDB_SYNC_TMDB_TOKEN
func (t *TMDBConfig) GetToken() (string, error) {
	if t.token != "" {
		return t.token, nil
	}
	if t.TokenFile != "" {
		data, err := os.ReadFile(filepath.Clean(t.TokenFile))
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", t.TokenFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if token := newEnv().GetString("TMDB.TOKEN"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("no TMDB token configured: set tmdb.tokenFile or %s_TMDB_TOKEN", EnvPrefix)
}

// SetToken overrides the credential, bypassing file and environment lookup
func (t *TMDBConfig) SetToken(token string) {
	t.token = token
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from TMDB_SYNC_DATABASE_PASSWORD
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := newEnv().GetString("DATABASE.PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable", EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
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

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// GetURI returns the MongoDB connection URI from URIFile or TMDB_SYNC_MONGO_URI
func (m *MongoConfig) GetURI() (string, error) {
	if m.URIFile != "" {
		data, err := os.ReadFile(filepath.Clean(m.URIFile))
		if err != nil {
			return "", fmt.Errorf("failed to read mongo uri from file %s: %w", m.URIFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if uri := newEnv().GetString("MONGO.URI"); uri != "" {
		return uri, nil
	}
	return "", fmt.Errorf("no mongo uri configured: set uriFile or %s_MONGO_URI", EnvPrefix)
}
