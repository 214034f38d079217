package cli

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/eavl/pkg/eavl"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

func newEntityCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Create, read, write and destroy entities",
	}
	cmd.AddCommand(
		newEntityCreateCmd(a),
		newEntityListCmd(a),
		newEntityGetCmd(a),
		newEntitySetCmd(a),
		newEntityDestroyCmd(a),
		newEntitySearchCmd(a),
		newEntityLinksCmd(a),
		newEntityLinkCmd(a),
	)
	return cmd
}

func newEntityCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <class> <title>",
		Short: "Create an entity with one attribute per class schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				e, err := eng.CreateEntity(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return a.done(cmd, e, "created %s (%s)", e.Title, e.EntityID)
			})
		},
	}
}

func newEntityListCmd(a *app) *cobra.Command {
	var (
		after string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list <class>",
		Short: "List the entities of a class in creation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				list, err := eng.ListEntities(args[0], after, limit)
				if err != nil {
					return err
				}
				return a.emit(cmd, list, entityRows(list))
			})
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "start after this entity ID")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entities")
	return cmd
}

func newEntityGetCmd(a *app) *cobra.Command {
	var (
		all      bool
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print the data document of an entity",
		Long: `Print the data document of an entity. By default each attribute shows its
newest value; --all lists time-series history newest first, optionally
within --from and --to (RFC 3339).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := types.DataOptions{LastOnly: !all}
			var err error
			if opts.From, err = parseTime(from); err != nil {
				return err
			}
			if opts.To, err = parseTime(to); err != nil {
				return err
			}
			return a.withEngine(func(eng *eavl.Engine) error {
				doc, err := eng.GetData(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				return a.emit(cmd, doc, func() [][]string {
					codes := make([]string, 0, len(doc.Attributes))
					for code := range doc.Attributes {
						codes = append(codes, code)
					}
					sort.Strings(codes)
					rows := [][]string{{"CODE", "VALUE"}}
					for _, code := range codes {
						rows = append(rows, []string{code, display(doc.Attributes[code])})
					}
					return rows
				})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include every value, not only the newest")
	cmd.Flags().StringVar(&from, "from", "", "oldest timestamp (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "newest timestamp (RFC 3339)")
	return cmd
}

func newEntitySetCmd(a *app) *cobra.Command {
	var (
		noValidate bool
		file       string
		at         string
	)
	cmd := &cobra.Command{
		Use:   "set <id> [code=value...]",
		Short: "Write attribute values",
		Long: `Write attribute values. Values are parsed as JSON and fall back to plain
strings. Every assignment is validated first and nothing is written when any
fails. --file reads a JSON document ({"attributes": {...}} or a plain object).
--at writes each value at the given time without validation.

Example:
  eavl entity set 0190... name=Ada age=36
  eavl entity set 0190... temperature=21.5 --at 2026-01-02T10:00:00Z`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			if file != "" {
				fromFile, err := readDocument(file)
				if err != nil {
					return err
				}
				for code, v := range fromFile {
					if _, ok := attrs[code]; !ok {
						attrs[code] = v
					}
				}
			}
			if len(attrs) == 0 {
				return usageErrorf("nothing to set")
			}
			ts, err := parseTime(at)
			if err != nil {
				return err
			}

			return a.withEngine(func(eng *eavl.Engine) error {
				if !ts.IsZero() {
					for code, v := range attrs {
						if err := eng.SetValue(cmd.Context(), args[0], code, v, ts); err != nil {
							return errors.Wrapf(err, "set %s", code)
						}
					}
				} else {
					errs, err := eng.SetData(cmd.Context(), args[0], attrs, !noValidate)
					if err != nil {
						return err
					}
					if len(errs) > 0 {
						return errs
					}
				}
				return a.done(cmd, map[string]any{"entity_id": args[0], "attributes": attrs}, "updated %d attributes", len(attrs))
			})
		},
	}
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "skip schema validation")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read attributes from a JSON document")
	cmd.Flags().StringVar(&at, "at", "", "timestamp for the written values (RFC 3339)")
	return cmd
}

func newEntityDestroyCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "destroy <id>",
		Short: "Destroy an entity",
		Long: `Destroy an entity. Entities that others link to are kept unless --force,
which clears the incoming links and destroys the outgoing targets too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				err := eng.DestroyEntity(cmd.Context(), args[0], force)
				if errors.Is(err, types.ErrHasIncomingLinks) {
					return errors.WithHint(err, "use --force to clear the incoming links")
				}
				if err != nil {
					return err
				}
				return a.done(cmd, map[string]string{"destroyed": args[0]}, "destroyed %s", args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "clear incoming links and cascade over outgoing ones")
	return cmd
}

func newEntitySearchCmd(a *app) *cobra.Command {
	var class, relatedTo, via string
	cmd := &cobra.Command{
		Use:   "search [code value]",
		Short: "Find entities by attribute value or by incoming relation",
		Long: `Find entities whose attribute holds a value, or with --related-to, the
entities linking to a target (optionally through --via).

Example:
  eavl entity search email ada@example.com --class person
  eavl entity search --related-to 0190... --via manager`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if relatedTo == "" && len(args) != 2 {
				return usageErrorf("search needs <code> <value> or --related-to")
			}
			return a.withEngine(func(eng *eavl.Engine) error {
				var (
					found []*types.Entity
					err   error
				)
				if relatedTo != "" {
					found, err = eng.SearchRelatedTo(class, relatedTo, via)
				} else {
					found, err = eng.SearchByAttribute(class, args[0], parseValue(args[1]))
				}
				if err != nil {
					return err
				}
				return a.emit(cmd, found, entityRows(found))
			})
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "restrict to a class")
	cmd.Flags().StringVar(&relatedTo, "related-to", "", "entity the results link to")
	cmd.Flags().StringVar(&via, "via", "", "relation code for --related-to")
	return cmd
}

func newEntityLinksCmd(a *app) *cobra.Command {
	var incoming bool
	cmd := &cobra.Command{
		Use:   "links <id>",
		Short: "List the relations of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				var (
					links []types.Link
					err   error
				)
				if incoming {
					links, err = eng.GetIncomingLinks(args[0])
				} else {
					links, err = eng.GetOutgoingLinks(args[0])
				}
				if err != nil {
					return err
				}
				return a.emit(cmd, links, linkRows(links))
			})
		},
	}
	cmd.Flags().BoolVar(&incoming, "incoming", false, "list links pointing at the entity")
	return cmd
}

func newEntityLinkCmd(a *app) *cobra.Command {
	var unlink bool
	cmd := &cobra.Command{
		Use:   "link <source> <code> [destination]",
		Short: "Point a relation attribute at another entity",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if unlink != (len(args) == 2) {
				return usageErrorf("pass a destination, or --unlink without one")
			}
			return a.withEngine(func(eng *eavl.Engine) error {
				if unlink {
					if err := eng.Unlink(cmd.Context(), args[0], args[1]); err != nil {
						return err
					}
					return a.done(cmd, map[string]string{"unlinked": args[1]}, "unlinked %s", args[1])
				}
				attr, err := eng.Link(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return a.done(cmd, attr, "linked %s -%s-> %s", args[0], args[1], args[2])
			})
		},
	}
	cmd.Flags().BoolVar(&unlink, "unlink", false, "clear the relation instead")
	return cmd
}

// readDocument reads attributes from a JSON file holding either a data
// document or a plain object.
func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read document")
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(types.ErrInvalidData, "decode %s: %v", path, err)
	}
	if attrs, ok := raw["attributes"].(map[string]any); ok {
		return attrs, nil
	}
	return raw, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(types.ErrInvalidData, "timestamp %q: %v", s, err)
	}
	return t, nil
}
