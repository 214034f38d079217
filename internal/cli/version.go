package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/eavl/pkg/eavl"
)

const modulePath = "github.com/mesh-intelligence/eavl"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the eavl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "eavl v%s\nmodule: %s\n", eavl.Version, modulePath)
			return nil
		},
	}
}
