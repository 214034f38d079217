package cli

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/eavl/pkg/eavl"
)

func newGraphCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Traverse relations between entities",
	}
	cmd.AddCommand(newGraphConnectedCmd(a), newGraphPathCmd(a), newGraphSubtreeCmd(a))
	return cmd
}

func newGraphConnectedCmd(a *app) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "connected <from> <to>",
		Short: "Report whether one entity reaches another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				ok, err := eng.IsConnectedTo(cmd.Context(), args[0], args[1], depth)
				if err != nil {
					return err
				}
				return a.emit(cmd, map[string]bool{"connected": ok}, func() [][]string {
					return [][]string{{"FROM", "TO", "CONNECTED"}, {args[0], args[1], strconv.FormatBool(ok)}}
				})
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum links to follow (default 6)")
	return cmd
}

func newGraphPathCmd(a *app) *cobra.Command {
	var (
		opts eavl.PathOptions
		all  bool
	)
	cmd := &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Find paths between two entities",
		Long: `Find paths depth first. The first path found is not necessarily the
shortest. With --all every path is collected, but a node is expanded once per
search, so paths through an already expanded node are not listed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Mode = eavl.PathFirst
			if all {
				opts.Mode = eavl.PathAll
			}
			opts.IDsOnly = !a.flags.jsonMode
			return a.withEngine(func(eng *eavl.Engine) error {
				paths, err := eng.FindPath(cmd.Context(), args[0], args[1], opts)
				if err != nil {
					return err
				}
				return a.emit(cmd, paths, func() [][]string {
					rows := [][]string{{"#", "LENGTH", "PATH"}}
					for i, p := range paths {
						rows = append(rows, []string{strconv.Itoa(i + 1), strconv.Itoa(len(p.IDs)), strings.Join(p.IDs, " -> ")})
					}
					return rows
				})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "collect every path instead of the first")
	cmd.Flags().IntVar(&opts.MaxDepth, "depth", 0, "maximum nodes per path (default 6)")
	cmd.Flags().StringSliceVar(&opts.AllowedLinkCodes, "codes", nil, "relation codes to follow")
	cmd.Flags().StringSliceVar(&opts.AllowedEntityTypes, "types", nil, "classes the path may pass through")
	return cmd
}

func newGraphSubtreeCmd(a *app) *cobra.Command {
	var opts eavl.SubtreeOptions
	cmd := &cobra.Command{
		Use:   "subtree <root>",
		Short: "List the entities reachable from a root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				nodes, err := eng.Subtree(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				return a.emit(cmd, nodes, func() [][]string {
					ids := make([]string, 0, len(nodes))
					for id := range nodes {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					rows := [][]string{{"ID", "TITLE", "OUTGOING"}}
					for _, id := range ids {
						n := nodes[id]
						rows = append(rows, []string{id, n.Entity.Title, strings.Join(n.Outgoing, ",")})
					}
					return rows
				})
			})
		},
	}
	cmd.Flags().IntVar(&opts.Depth, "depth", 1, "levels to follow")
	cmd.Flags().StringSliceVar(&opts.LinkCodes, "codes", nil, "relation codes to follow")
	cmd.Flags().StringSliceVar(&opts.EntityTypes, "types", nil, "classes to include")
	return cmd
}
