package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/eavl/pkg/eavl"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <dir>",
		Short: "Write every table to <dir> as JSONL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				if err := eng.Export(args[0]); err != nil {
					return err
				}
				return a.done(cmd, map[string]string{"exported": args[0]}, "exported to %s", args[0])
			})
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Load the JSONL tables written by export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				if err := eng.Import(args[0]); err != nil {
					return err
				}
				return a.done(cmd, map[string]string{"imported": args[0]}, "imported from %s", args[0])
			})
		},
	}
}
