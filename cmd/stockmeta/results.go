package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/stockmeta/internal/export"
	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/storage"
)

// --- results ---

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect, export or regenerate generated metadata",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current results",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		failedOnly, _ := cmd.Flags().GetBool("failed")
		return withEnv(func(e *env) error {
			results, err := e.store.ListResults()
			if err != nil {
				return err
			}
			records := export.FromStored(results)
			if failedOnly {
				records = filterFailed(records)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results.")
				return nil
			}
			renderRecords(cmd.OutOrStdout(), records)
			return nil
		})
	},
}

func filterFailed(records []orchestrator.Record) []orchestrator.Record {
	out := records[:0:0]
	for _, r := range records {
		if r.Failed {
			out = append(out, r)
		}
	}
	return out
}

func renderRecords(w io.Writer, records []orchestrator.Record) {
	tw := newTable(w, "#", "File", "Title / Description", "Keywords", "Category", "OK")
	for i, r := range records {
		text := r.Title
		if text == "" || r.Failed {
			text = r.Description
		}
		ok := "yes"
		if r.Failed {
			ok = "no"
		}
		tw.AppendRow([]any{i + 1, r.Filename, truncate(text, 60), len(r.Keywords), r.Category, ok})
	}
	tw.Render()
}

var resultsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export results as stock-site CSV, JSON or YAML",
	Long: `Export results as stock-site CSV, JSON or YAML.

Examples:
  stockmeta results export --site shutterstock
  stockmeta results export --format json --output meta.json
  stockmeta results export --session 3f2a... --site adobe-stock`,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		return withEnv(func(e *env) error {
			return exportResults(cmd, e, session)
		})
	},
}

func addExportFlags(cmd *cobra.Command) {
	cmd.Flags().String("format", "csv", "csv, json or yaml")
	cmd.Flags().String("site", "", "stock site CSV layout (default from config)")
	cmd.Flags().String("ext", "", "rewrite file extensions in the export, \"default\" keeps them")
	cmd.Flags().StringP("output", "o", "", "output file, - for stdout (CSV defaults to <site>_metadata.csv in export.dir)")
}

func exportResults(cmd *cobra.Command, e *env, session string) error {
	settings, err := e.settings()
	if err != nil {
		return err
	}
	formatName, _ := cmd.Flags().GetString("format")
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}
	opts := export.Options{Site: settings.Export.Site, FileExtension: settings.Export.FileExtension}
	if v, _ := cmd.Flags().GetString("site"); v != "" {
		if opts.Site, err = export.ParseSite(v); err != nil {
			return err
		}
	}
	if v, _ := cmd.Flags().GetString("ext"); v != "" {
		opts.FileExtension = v
	}

	var results []storage.Result
	if session != "" {
		if _, err := e.store.GetSession(session); err != nil {
			return fmt.Errorf("session %s: %w", session, err)
		}
		results, err = e.store.SessionResults(session)
	} else {
		results, err = e.store.ListResults()
	}
	if err != nil {
		return err
	}
	records := export.FromStored(results)
	if len(records) == 0 {
		return export.ErrEmpty
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" && format == export.FormatCSV {
		output = filepath.Join(settings.Export.Dir, export.Filename(opts.Site, records[0].Mode))
	}
	if output == "" || output == "-" {
		return export.Write(cmd.OutOrStdout(), records, format, opts)
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := export.Write(f, records, format, opts); err != nil {
		f.Close()
		os.Remove(output)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	printSuccess("Exported %d record(s) to %s", len(records), output)
	return nil
}

var resultsRegenerateCmd = &cobra.Command{
	Use:   "regenerate <filename>",
	Short: "Generate a result again with the current settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			settings, err := e.settings()
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, &settings); err != nil {
				return err
			}
			printStep("Regenerating %s with %s", args[0], settings.Provider)
			rec, err := e.svc.Regenerate(cmd.Context(), settings, args[0])
			if err != nil {
				return err
			}
			if rec.Failed {
				return fmt.Errorf("%s", rec.Description)
			}
			printSuccess("Regenerated %s", rec.Filename)
			renderRecords(cmd.OutOrStdout(), []orchestrator.Record{rec})
			return nil
		})
	},
}

var resultsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the current results (history keeps them)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			n, err := e.store.ClearResults()
			if err != nil {
				return err
			}
			printSuccess("Cleared %d result(s)", n)
			return nil
		})
	},
}

func init() {
	resultsListCmd.Flags().Bool("json", false, "print JSON")
	resultsListCmd.Flags().Bool("failed", false, "only failed records")
	addExportFlags(resultsExportCmd)
	resultsExportCmd.Flags().String("session", "", "export the records of a history session")
	addRunFlags(resultsRegenerateCmd)

	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsExportCmd)
	resultsCmd.AddCommand(resultsRegenerateCmd)
	resultsCmd.AddCommand(resultsClearCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse past generation runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		return withEnv(func(e *env) error {
			sessions, err := e.store.ListSessions(limit)
			if err != nil {
				return err
			}
			if asJSON {
				if sessions == nil {
					sessions = []storage.Session{}
				}
				return printJSON(cmd.OutOrStdout(), sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "Started", "Provider", "Mode", "Items", "OK", "Status")
			for _, s := range sessions {
				tw.AppendRow([]any{s.ID, s.StartedAt.Local().Format("2006-01-02 15:04"), providerLabel(s), s.Mode, s.Total, s.Succeeded, s.Status})
			}
			tw.Render()
			return nil
		})
	},
}

func providerLabel(s storage.Session) string {
	if s.Model == "" {
		return s.Provider
	}
	return s.Provider + "/" + s.Model
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run and its records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withEnv(func(e *env) error {
			sess, err := e.store.GetSession(args[0])
			if err != nil {
				return fmt.Errorf("session %s: %w", args[0], err)
			}
			results, err := e.store.SessionResults(sess.ID)
			if err != nil {
				return err
			}
			records := export.FromStored(results)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"session": sess, "results": records})
			}
			printStatus("Run", "%s", sess.ID)
			printStatus("Started", "%s", sess.StartedAt.Local().Format("2006-01-02 15:04:05"))
			if !sess.FinishedAt.IsZero() {
				printStatus("Finished", "%s", sess.FinishedAt.Local().Format("2006-01-02 15:04:05"))
			}
			printStatus("Provider", "%s", providerLabel(sess))
			printStatus("Mode", "%s", sess.Mode)
			printStatus("Outcome", "%s, %d of %d successful", sess.Status, sess.Succeeded, sess.Total)
			if len(records) > 0 {
				renderRecords(cmd.OutOrStdout(), records)
			}
			return nil
		})
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export the records of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			return exportResults(cmd, e, strings.TrimSpace(args[0]))
		})
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of runs")
	historyListCmd.Flags().Bool("json", false, "print JSON")
	historyShowCmd.Flags().Bool("json", false, "print JSON")
	addExportFlags(historyExportCmd)

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyExportCmd)
}
