package cli

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/eavl/internal/paths"
	"github.com/mesh-intelligence/eavl/pkg/eavl"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Config keys. Each may be overridden by EAVL_<KEY>.
const (
	cfgKeyBackend          = "backend"
	cfgKeyDataDir          = "data_dir"
	cfgKeyDSN              = "dsn"
	cfgKeyLogLevel         = "log_level"
	cfgKeyLogFormat        = "log_format"
	cfgKeyRefTimeout       = "ref_timeout"
	cfgKeyRefRate          = "ref_rate"
	cfgKeyMigrationWorkers = "migration_workers"
	cfgKeyMigrationBatch   = "migration_batch"
)

// loadConfig reads config.yaml from the resolved config directory with
// viper. A missing file is not an error: defaults and EAVL_* variables
// still apply. The data directory follows paths.ResolveDataDir.
func (a *app) loadConfig() (types.Config, error) {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return types.Config{}, errors.Wrap(err, "resolve config dir")
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyDataDir, "")
	v.SetDefault(cfgKeyDSN, "")
	v.SetDefault(cfgKeyLogLevel, "")
	v.SetDefault(cfgKeyLogFormat, "")
	v.SetDefault(cfgKeyRefTimeout, types.DefaultRefTimeout)
	v.SetDefault(cfgKeyRefRate, types.DefaultRefRate)
	v.SetDefault(cfgKeyMigrationWorkers, types.DefaultMigrationWorkers)
	v.SetDefault(cfgKeyMigrationBatch, types.DefaultMigrationBatch)
	v.SetConfigFile(paths.ConfigFile(configDir))
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EAVL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !isMissing(err) {
		return types.Config{}, errors.Wrapf(err, "read %s", v.ConfigFileUsed())
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, errors.Wrap(err, "decode config")
	}
	if cfg.Backend == types.BackendSQLite {
		if cfg.DataDir, err = paths.ResolveDataDir(a.flags.dataDir, cfg.DataDir); err != nil {
			return types.Config{}, errors.Wrap(err, "resolve data dir")
		}
	}
	if a.flags.logLevel != "" {
		cfg.LogLevel = a.flags.logLevel
	}
	return cfg, nil
}

func isMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) || os.IsNotExist(errors.UnwrapAll(err))
}

// open loads the configuration and opens the engine. The caller closes it.
func (a *app) open() (*eavl.Engine, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Backend == types.BackendSQLite {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create data dir")
		}
	}
	return eavl.Open(cfg)
}

// withEngine opens the engine, runs fn and closes the engine.
func (a *app) withEngine(fn func(*eavl.Engine) error) (err error) {
	eng, err := a.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(eng)
}

// configFile is the structure written to config.yaml by init.
type configFile struct {
	Backend  string `yaml:"backend"`
	DataDir  string `yaml:"data_dir,omitempty"`
	DSN      string `yaml:"dsn,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`
}

// writeConfigIfMissing creates config.yaml unless it exists. It reports
// whether a file was written.
func writeConfigIfMissing(path string, cfg configFile) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Wrap(err, "stat config file")
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, errors.Wrap(err, "marshal config")
	}
	header := []byte("# eavl configuration. Keys may be overridden by EAVL_<KEY>.\n")
	return true, os.WriteFile(path, append(header, data...), 0o644)
}
