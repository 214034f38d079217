package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// emit writes v as indented JSON in --json mode, otherwise renders the
// table produced by rows. rows returns the header first.
func (a *app) emit(cmd *cobra.Command, v any, rows func() [][]string) error {
	if a.flags.jsonMode {
		return printJSON(cmd, v)
	}
	data := rows()
	if len(data) <= 1 {
		pterm.Info.WithWriter(cmd.OutOrStdout()).Println("nothing found")
		return nil
	}
	return pterm.DefaultTable.
		WithHasHeader().
		WithWriter(cmd.OutOrStdout()).
		WithData(pterm.TableData(data)).
		Render()
}

// done reports a completed mutation. In --json mode v is printed instead.
func (a *app) done(cmd *cobra.Command, v any, format string, args ...any) error {
	if a.flags.jsonMode {
		return printJSON(cmd, v)
	}
	pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln(format, args...)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encode output")
	}
	return nil
}

// parseValue reads a command-line value as JSON, falling back to the raw
// string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// parseAssignments turns code=value arguments into an attribute map.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		code, raw, ok := strings.Cut(arg, "=")
		if !ok || code == "" {
			return nil, usageErrorf("invalid assignment %q (expected code=value)", arg)
		}
		out[code] = parseValue(raw)
	}
	return out, nil
}

// display renders a document value for a table cell.
func display(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func entityRows(entities []*types.Entity) func() [][]string {
	return func() [][]string {
		rows := [][]string{{"ID", "CLASS", "TITLE", "CREATED"}}
		for _, e := range entities {
			rows = append(rows, []string{e.EntityID, e.ClassID, e.Title, e.CreatedAt.Format(timeLayout)})
		}
		return rows
	}
}

func linkRows(links []types.Link) func() [][]string {
	return func() [][]string {
		rows := [][]string{{"SOURCE", "CODE", "DESTINATION"}}
		for _, l := range links {
			rows = append(rows, []string{l.SourceID, l.Code, l.DestinationID})
		}
		return rows
	}
}

const timeLayout = "2006-01-02 15:04:05"
