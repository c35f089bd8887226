// File: cmd/output.go
package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/autodevops/api/schemas"
)

var prettyJSON = json.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

func printJSON(w io.Writer, v any) error {
	data, err := prettyJSON.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

// compact renders a payload value on one line.
func compact(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	data, err := prettyJSON.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// printResult writes a handler result. A failed result is also returned as an error
// so the process exits non-zero.
func printResult(w io.Writer, res schemas.Result, asJSON bool) error {
	if asJSON {
		if err := printJSON(w, res); err != nil {
			return err
		}
	} else {
		tw := newTable(w)
		tw.AppendHeader(table.Row{"Field", "Value"})
		tw.AppendRow(table.Row{"agent", res.Agent})
		tw.AppendRow(table.Row{"status", res.Status})
		for _, kv := range [][2]string{{"action", res.Action}, {"message", res.Message}, {"error", res.Error}} {
			if kv[1] != "" {
				tw.AppendRow(table.Row{kv[0], kv[1]})
			}
		}
		keys := make([]string, 0, len(res.Data))
		for k := range res.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tw.AppendRow(table.Row{k, compact(res.Data[k])})
		}
		tw.Render()
	}
	if res.Status == schemas.StatusError {
		return fmt.Errorf("%s: %s", res.Agent, res.Error)
	}
	return nil
}

func printDecisions(w io.Writer, decisions []schemas.Decision) {
	if len(decisions) == 0 {
		fmt.Fprintln(w, "No decisions.")
		return
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Type", "Action", "Required", "Reason"})
	for _, d := range decisions {
		tw.AppendRow(table.Row{d.Type, d.Action, d.ActionRequired, d.Reason})
	}
	tw.Render()
}

// summarize picks a readable column from a stored document.
func summarize(doc map[string]any) string {
	for _, key := range []string{"message", "type", "name", "title"} {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}
	return strings.TrimSpace(compact(doc))
}
