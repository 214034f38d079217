package cli

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/eavl/internal/paths"
	"github.com/mesh-intelligence/eavl/pkg/eavl"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

func newInitCmd(a *app) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write config.yaml and create the database",
		Long: "Create the configuration directory and config.yaml if missing, then\n" +
			"attach the configured backend once so its tables exist.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := paths.ResolveConfigDir(a.flags.configDir)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return errors.Wrap(err, "create config directory")
			}

			file := configFile{Backend: types.BackendSQLite, DataDir: a.flags.dataDir, LogLevel: a.flags.logLevel}
			if dsn != "" {
				file = configFile{Backend: types.BackendPostgres, DSN: dsn, LogLevel: a.flags.logLevel}
			}
			path := paths.ConfigFile(configDir)
			written, err := writeConfigIfMissing(path, file)
			if err != nil {
				return err
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := a.withEngine(func(*eavl.Engine) error { return nil }); err != nil {
				return err
			}
			result := map[string]any{"config": path, "written": written, "backend": cfg.Backend, "data_dir": cfg.DataDir}
			return a.done(cmd, result, "eavl initialized (%s backend, config %s)", cfg.Backend, path)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "use the postgres backend with this connection string")
	return cmd
}
