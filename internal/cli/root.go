// Package cli implements the eavl command-line interface over pkg/eavl.
//
// Every command opens the engine from config.yaml (see config.go), runs one
// operation and closes it again. Output is a pterm table by default and JSON
// with --json.
package cli

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/eavl/pkg/eavl"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values.
type rootFlags struct {
	configDir string
	dataDir   string
	logLevel  string
	jsonMode  bool
}

// app is the state shared by the commands of one root.
type app struct {
	flags rootFlags
}

// NewRootCmd creates the top-level "eavl" command with global flags and all
// subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "eavl",
		Short: "Schema-flexible entity storage",
		Long: "eavl stores entities as attribute rows bound to versioned schemas.\n" +
			"Classes inherit schemas, schema changes migrate existing entities,\n" +
			"and relation attributes form a graph that can be traversed.",
		Version:       eavl.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/eavl)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $XDG_DATA_HOME/eavl)")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output as JSON")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newSchemaCmd(a),
		newClassCmd(a),
		newEntityCmd(a),
		newGraphCmd(a),
		newExportCmd(a),
		newImportCmd(a),
	)
	return root
}

// Execute runs the root command with the process arguments and exits with
// the matching code.
func Execute() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes args and returns the exit code: 0 ok, 1 user error, 2 system
// error. Errors and their hints go to stderr.
func Run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	pterm.Error.WithWriter(stderr).Println(err.Error())
	for _, hint := range errors.GetAllHints(err) {
		pterm.Info.WithWriter(stderr).Println(hint)
	}
	return exitCode(err)
}

// userErrors are failures caused by the request rather than the system.
var userErrors = []error{
	types.ErrNotFound,
	types.ErrNotUnique,
	types.ErrConflict,
	types.ErrHasIncomingLinks,
	types.ErrInvalidFieldType,
	types.ErrValidation,
	types.ErrFutureTimestamp,
	types.ErrInvalidID,
	types.ErrInvalidData,
	types.ErrInvalidName,
	types.ErrInvalidVersion,
	types.ErrInvalidFilter,
	types.ErrInvalidParent,
	types.ErrInvalidValidator,
	types.ErrMissingDestination,
	types.ErrSchemaResolution,
	types.ErrBackendEmpty,
	types.ErrBackendUnknown,
	types.ErrDataDirEmpty,
	types.ErrDSNEmpty,
	types.ErrWorkersInvalid,
	types.ErrBatchSizeInvalid,
	errUsage,
}

// errUsage marks argument and flag mistakes.
var errUsage = errors.New("usage")

func exitCode(err error) int {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	// cobra reports unknown commands and flags as plain errors.
	msg := err.Error()
	if strings.HasPrefix(msg, "unknown ") || strings.Contains(msg, "arg(s)") || strings.Contains(msg, "flag") {
		return exitUserError
	}
	return exitSysError
}

func usageErrorf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), errUsage)
}
