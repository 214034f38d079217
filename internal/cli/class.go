package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/eavl/pkg/eavl"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

func newClassCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "class",
		Short: "Manage entity classes and their schema sets",
	}
	cmd.AddCommand(
		newClassAddCmd(a),
		newClassListCmd(a),
		newClassShowCmd(a),
		newClassAttachCmd(a),
		newClassDetachCmd(a),
		newClassMoveCmd(a),
		newClassMigrateCmd(a),
		newClassPurgeCmd(a),
		newClassDeleteCmd(a),
	)
	return cmd
}

func newClassAddCmd(a *app) *cobra.Command {
	var parent, description string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				c, err := eng.CreateClass(args[0], description, parent)
				if err != nil {
					return err
				}
				return a.done(cmd, c, "created class %s (%s)", c.Title, c.ClassID)
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent class ID or title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func newClassListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List classes in tree order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				list, err := eng.ListClasses()
				if err != nil {
					return err
				}
				return a.emit(cmd, list, func() [][]string {
					rows := [][]string{{"ID", "TITLE", "PARENT", "DEPTH"}}
					for _, c := range list {
						indent := strings.Repeat("  ", len(c.Lineage())-1)
						rows = append(rows, []string{c.ClassID, indent + c.Title, c.ParentID, strconv.Itoa(len(c.Lineage()))})
					}
					return rows
				})
			})
		},
	}
}

// classView is the JSON shape of class show.
type classView struct {
	*types.EntityClass
	Direct    []*types.Schema `json:"direct_schemas"`
	Effective []*types.Schema `json:"effective_schemas"`
}

func newClassShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <class>",
		Short: "Show a class and its effective schema set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				c, err := eng.GetClass(args[0])
				if err != nil {
					return err
				}
				direct, err := eng.DirectSchemas(c.ClassID)
				if err != nil {
					return err
				}
				effective, err := eng.EffectiveSchemas(c.ClassID)
				if err != nil {
					return err
				}
				view := classView{EntityClass: c, Direct: direct, Effective: effective}
				return a.emit(cmd, view, func() [][]string {
					own := make(map[string]bool, len(direct))
					for _, s := range direct {
						own[s.SchemaID] = true
					}
					rows := [][]string{{"SCHEMA", "VERSION", "TYPE", "BOUND"}}
					for _, s := range effective {
						bound := "inherited"
						if own[s.SchemaID] {
							bound = "direct"
						}
						rows = append(rows, []string{s.Name, s.Version, s.FieldType.String(), bound})
					}
					return rows
				})
			})
		},
	}
}

func newClassAttachCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <class> <schema>...",
		Short: "Bind schemas to a class and migrate its entities",
		Long: `Bind schemas (ID, name or name@version) to a class. A schema replaces a
direct binding of the same name; entities of the class and its subclasses are
migrated to the new schema set.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				var reports []*eavl.Report
				for _, ref := range args[1:] {
					s, err := resolveSchema(eng, ref)
					if err != nil {
						return err
					}
					r, err := eng.AttachSchema(cmd.Context(), args[0], s.SchemaID)
					if err != nil {
						return err
					}
					reports = append(reports, r...)
				}
				return a.reports(cmd, reports)
			})
		},
	}
}

func newClassDetachCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detach <class> <name>...",
		Short: "Unbind schemas from a class and migrate its entities",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				var reports []*eavl.Report
				for _, name := range args[1:] {
					r, err := eng.DetachSchema(cmd.Context(), args[0], name)
					if err != nil {
						return err
					}
					reports = append(reports, r...)
				}
				return a.reports(cmd, reports)
			})
		},
	}
}

func newClassMoveCmd(a *app) *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "move <class>",
		Short: "Reparent a class and migrate the moved subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				reports, err := eng.MoveClass(cmd.Context(), args[0], parent)
				if err != nil {
					return err
				}
				return a.reports(cmd, reports)
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent class (empty makes it a root)")
	return cmd
}

func newClassMigrateCmd(a *app) *cobra.Command {
	var (
		diff   eavl.Diff
		resume bool
		dryRun []string
	)
	cmd := &cobra.Command{
		Use:   "migrate <class>",
		Short: "Run, preview or resume a class migration",
		Long: `Apply an explicit diff to the entities of a class, preview the diff a
schema set would cause (--diff), or resume an interrupted run (--resume).

Example:
  eavl class migrate device --updated code
  eavl class migrate device --diff code@1.1 name
  eavl class migrate device --resume`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				switch {
				case len(dryRun) > 0:
					ids := make([]string, len(dryRun))
					for i, ref := range dryRun {
						s, err := resolveSchema(eng, ref)
						if err != nil {
							return err
						}
						ids[i] = s.SchemaID
					}
					d, err := eng.DiffSchemas(args[0], ids)
					if err != nil {
						return err
					}
					return a.emit(cmd, d, diffRows(d))
				case resume:
					r, err := eng.ResumeMigration(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return a.reports(cmd, []*eavl.Report{r})
				case diff.Empty():
					return usageErrorf("nothing to migrate: pass --added, --removed, --updated, --diff or --resume")
				default:
					r, err := eng.Migrate(cmd.Context(), args[0], diff)
					if err != nil {
						return err
					}
					return a.reports(cmd, []*eavl.Report{r})
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&diff.Added, "added", nil, "schema names to add")
	cmd.Flags().StringSliceVar(&diff.Removed, "removed", nil, "schema names to remove")
	cmd.Flags().StringSliceVar(&diff.Updated, "updated", nil, "schema names to rebind")
	cmd.Flags().StringSliceVar(&dryRun, "diff", nil, "preview the diff to this schema set")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume an interrupted migration")
	return cmd
}

func newClassPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Hard-delete removed attributes and their values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				n, err := eng.Purge(cmd.Context())
				if err != nil {
					return err
				}
				return a.done(cmd, map[string]int{"purged": n}, "purged %d attributes", n)
			})
		},
	}
}

func newClassDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <class>",
		Short: "Delete a class without subclasses or entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				if err := eng.DeleteClass(args[0]); err != nil {
					return err
				}
				return a.done(cmd, map[string]string{"deleted": args[0]}, "deleted class %s", args[0])
			})
		},
	}
}

// reports prints migration reports. Per-entity migration errors are listed
// but do not fail the command.
func (a *app) reports(cmd *cobra.Command, reports []*eavl.Report) error {
	type view struct {
		*eavl.Report
		Errors []string `json:"errors,omitempty"`
	}
	views := make([]view, len(reports))
	for i, r := range reports {
		views[i] = view{Report: r}
		for _, err := range r.Errors {
			views[i].Errors = append(views[i].Errors, err.Error())
		}
	}
	return a.emit(cmd, views, func() [][]string {
		rows := [][]string{{"CLASS", "ENTITIES", "ADDED", "REMOVED", "UPDATED", "ERRORS"}}
		for _, v := range views {
			rows = append(rows, []string{
				v.ClassID, strconv.Itoa(v.Entities),
				strings.Join(v.Diff.Added, ","), strings.Join(v.Diff.Removed, ","), strings.Join(v.Diff.Updated, ","),
				strconv.Itoa(len(v.Errors)),
			})
		}
		return rows
	})
}

func diffRows(d eavl.Diff) func() [][]string {
	return func() [][]string {
		rows := [][]string{{"CHANGE", "SCHEMA"}}
		for _, n := range d.Added {
			rows = append(rows, []string{"added", n})
		}
		for _, n := range d.Removed {
			rows = append(rows, []string{"removed", n})
		}
		for _, n := range d.Updated {
			rows = append(rows, []string{"updated", n})
		}
		return rows
	}
}
