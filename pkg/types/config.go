package types

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Config holds backend selection and engine tuning for Storage.Attach and
// eavl.Open.
type Config struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	// DataDir holds the SQLite database file.
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	// DSN is the PostgreSQL connection string.
	DSN       string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty" mapstructure:"log_level"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty" mapstructure:"log_format"`
	// RefTimeout bounds one remote schema fetch; RefRate caps fetches per second.
	RefTimeout time.Duration `json:"ref_timeout,omitempty" yaml:"ref_timeout,omitempty" mapstructure:"ref_timeout"`
	RefRate    float64       `json:"ref_rate,omitempty" yaml:"ref_rate,omitempty" mapstructure:"ref_rate"`
	// MigrationWorkers and MigrationBatch size the migration worker pool and
	// the number of entities processed between checkpoints.
	MigrationWorkers int `json:"migration_workers,omitempty" yaml:"migration_workers,omitempty" mapstructure:"migration_workers"`
	MigrationBatch   int `json:"migration_batch,omitempty" yaml:"migration_batch,omitempty" mapstructure:"migration_batch"`
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Engine defaults applied by WithDefaults.
const (
	DefaultRefTimeout       = 10 * time.Second
	DefaultRefRate          = 5.0
	DefaultMigrationWorkers = 4
	DefaultMigrationBatch   = 100
)

// Config validation errors.
var (
	ErrBackendEmpty     = errors.New("backend must not be empty")
	ErrBackendUnknown   = errors.New("unknown backend")
	ErrDataDirEmpty     = errors.New("data directory must not be empty")
	ErrDSNEmpty         = errors.New("dsn must not be empty")
	ErrWorkersInvalid   = errors.New("migration workers must be positive")
	ErrBatchSizeInvalid = errors.New("migration batch size must be positive")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
}

// WithDefaults returns a copy with zero tuning fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.RefTimeout == 0 {
		c.RefTimeout = DefaultRefTimeout
	}
	if c.RefRate == 0 {
		c.RefRate = DefaultRefRate
	}
	if c.MigrationWorkers == 0 {
		c.MigrationWorkers = DefaultMigrationWorkers
	}
	if c.MigrationBatch == 0 {
		c.MigrationBatch = DefaultMigrationBatch
	}
	return c
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return errors.Wrapf(ErrBackendUnknown, "%q", c.Backend)
	}
	switch c.Backend {
	case BackendSQLite:
		if c.DataDir == "" {
			return ErrDataDirEmpty
		}
	case BackendPostgres:
		if c.DSN == "" {
			return ErrDSNEmpty
		}
	}
	if c.MigrationWorkers < 0 {
		return ErrWorkersInvalid
	}
	if c.MigrationBatch < 0 {
		return ErrBatchSizeInvalid
	}
	return nil
}
