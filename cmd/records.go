// File: cmd/records.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/autodevops/internal/observability"
	"github.com/xkilldash9x/autodevops/internal/store"
)

func newRecordsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	recordsCmd := &cobra.Command{
		Use:       "records <logs|actions|models|reviews>",
		Short:     "Show the most recent documents of an audit collection",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(store.Logs), string(store.Actions), string(store.Models), string(store.Reviews)},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cobra.OnlyValidArgs(cmd, args); err != nil {
				return err
			}
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			st, err := store.Open(cmd.Context(), cfg.Storage(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer st.Close()
			return runRecords(cmd.Context(), cmd.OutOrStdout(), st, store.Collection(args[0]), limit, asJSON)
		},
	}
	recordsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of most recent documents, 0 for all")
	recordsCmd.Flags().BoolVar(&asJSON, "json", false, "print the documents as JSON")
	return recordsCmd
}

func runRecords(ctx context.Context, out io.Writer, st store.Store, c store.Collection, limit int, asJSON bool) error {
	if limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	raw, err := st.Tail(ctx, c, limit)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c, err)
	}
	docs := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		var doc map[string]any
		if err := json.Unmarshal(r, &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}

	if asJSON {
		return printJSON(out, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintf(out, "No %s.\n", c)
		return nil
	}
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Timestamp", "Agent", "Status", "Summary"})
	for _, doc := range docs {
		status := doc["status"]
		if status == nil {
			status = doc["level"]
		}
		tw.AppendRow(table.Row{compact(doc["timestamp"]), compact(doc["agent"]), compact(status), summarize(doc)})
	}
	tw.Render()
	return nil
}
