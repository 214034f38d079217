package cli

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/eavl/pkg/eavl"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

func newSchemaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage versioned schemas",
	}
	cmd.AddCommand(
		newSchemaAddCmd(a),
		newSchemaListCmd(a),
		newSchemaShowCmd(a),
		newSchemaCloneCmd(a),
		newSchemaDeleteCmd(a),
		newSchemaLoadCmd(a),
	)
	return cmd
}

func newSchemaAddCmd(a *app) *cobra.Command {
	var (
		doc        types.SchemaDocument
		multiple   bool
		validators []string
		def        string
		file       string
	)
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Save a schema",
		Long: `Save a schema from flags or from a JSON/YAML document (--file).
Saving a name that exists adds its next minor version.

Example:
  eavl schema add email --type email --unique global
  eavl schema add tags --type string --multiple --validator '{"type":"length","params":{"max":5}}'
  eavl schema add --file reading.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return errors.Wrap(err, "read schema document")
				}
				if err := yaml.Unmarshal(data, &doc); err != nil {
					return errors.Wrapf(types.ErrInvalidData, "decode %s: %v", file, err)
				}
			}
			if len(args) == 1 {
				doc.Name = args[0]
			}
			if doc.Name == "" {
				return usageErrorf("schema name is required")
			}
			if doc.Relation && doc.Type == "" {
				doc.Type = types.FieldUUID.String()
			}
			if multiple && doc.Type != types.ArrayType {
				doc.Items = &types.SchemaDocument{Type: doc.Type}
				doc.Type = types.ArrayType
			}
			for _, raw := range validators {
				var v types.Validator
				if err := json.Unmarshal([]byte(raw), &v); err != nil {
					return errors.Wrapf(types.ErrInvalidValidator, "%s: %v", raw, err)
				}
				doc.Validators = append(doc.Validators, v)
			}
			if def != "" {
				doc.Default = parseValue(def)
			}
			s, err := doc.Schema()
			if err != nil {
				return err
			}
			return a.withEngine(func(eng *eavl.Engine) error {
				saved, err := eng.SaveSchema(s)
				if err != nil {
					return err
				}
				return a.done(cmd, saved, "saved schema %s@%s (%s)", saved.Name, saved.Version, saved.SchemaID)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&doc.Type, "type", "", "field type (string, integer, float, uuid, ...)")
	f.StringVar(&doc.Title, "title", "", "display title")
	f.StringVar(&doc.Description, "description", "", "description")
	f.StringVar(&doc.Version, "version", "", "explicit version (default: next minor)")
	f.BoolVar(&multiple, "multiple", false, "hold a list of values")
	f.BoolVar(&doc.TimeSeries, "time-series", false, "keep a timestamped history")
	f.BoolVar(&doc.Relation, "relation", false, "link to another entity")
	f.StringVar(&doc.Unique, "unique", "", "uniqueness scope: none, global, entity")
	f.StringVar(&doc.Ref, "ref", "", "remote schema document to validate against")
	f.StringArrayVar(&validators, "validator", nil, "validator as JSON {type, params} (repeatable)")
	f.StringVar(&def, "default", "", "default value (JSON or string)")
	f.StringVarP(&file, "file", "f", "", "read the schema document from a JSON or YAML file")
	return cmd
}

func newSchemaListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [name]",
		Short: "List schemas, or every version of one name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return a.withEngine(func(eng *eavl.Engine) error {
				list, err := eng.ListSchemas(name)
				if err != nil {
					return err
				}
				return a.emit(cmd, list, schemaRows(list))
			})
		},
	}
}

func newSchemaShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|name[@version]>",
		Short: "Show one schema as a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				s, err := resolveSchema(eng, args[0])
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd, s)
				}
				out, err := yaml.Marshal(s.Document())
				if err != nil {
					return errors.Wrap(err, "encode schema")
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			})
		},
	}
}

func newSchemaCloneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clone <id|name[@version]>",
		Short: "Copy a schema to its next minor version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				s, err := resolveSchema(eng, args[0])
				if err != nil {
					return err
				}
				clone, err := eng.CloneSchema(s)
				if err != nil {
					return err
				}
				return a.done(cmd, clone, "cloned %s@%s to %s", s.Name, s.Version, clone.Version)
			})
		},
	}
}

func newSchemaDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|name@version>",
		Short: "Delete a schema no class uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *eavl.Engine) error {
				s, err := resolveSchema(eng, args[0])
				if err != nil {
					return err
				}
				if err := eng.DeleteSchema(s.SchemaID); err != nil {
					return err
				}
				return a.done(cmd, s, "deleted %s@%s", s.Name, s.Version)
			})
		},
	}
}

func newSchemaLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <catalog.yaml>",
		Short: "Save every schema of a YAML catalog",
		Long: `Load a catalog of schema documents:

  schemas:
    - name: email
      type: email
      unique: global
    - name: temperature
      type: float
      time_series: true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "open catalog")
			}
			defer f.Close()
			return a.withEngine(func(eng *eavl.Engine) error {
				loaded, err := eng.LoadSchemas(f)
				if err != nil {
					return err
				}
				return a.emit(cmd, loaded, schemaRows(loaded))
			})
		},
	}
}

// resolveSchema accepts a schema ID, a name (latest version) or
// name@version.
func resolveSchema(eng *eavl.Engine, ref string) (*types.Schema, error) {
	if name, version, ok := strings.Cut(ref, "@"); ok {
		return eng.ResolveSchema(name, version)
	}
	s, err := eng.GetSchema(ref)
	if err == nil || !errors.Is(err, types.ErrNotFound) {
		return s, err
	}
	return eng.ResolveSchema(ref, "")
}

func schemaRows(list []*types.Schema) func() [][]string {
	return func() [][]string {
		rows := [][]string{{"ID", "NAME", "VERSION", "TYPE", "FLAGS", "UNIQUE"}}
		for _, s := range list {
			var flags []string
			if s.IsMultiple {
				flags = append(flags, "multiple")
			}
			if s.IsTimeSeries {
				flags = append(flags, "time-series")
			}
			if s.IsRelation {
				flags = append(flags, "relation")
			}
			if s.Ref != "" {
				flags = append(flags, "ref")
			}
			rows = append(rows, []string{s.SchemaID, s.Name, s.Version, s.FieldType.String(), strings.Join(flags, ","), s.UniqueScope.String()})
		}
		return rows
	}
}
