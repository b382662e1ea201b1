package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kalambet/stockmeta/internal/config"
	"github.com/kalambet/stockmeta/internal/credentials"
	"github.com/kalambet/stockmeta/internal/storage"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- stage ---

var stageCmd = &cobra.Command{
	Use:   "stage <path>...",
	Short: "Add image and video files to the generation queue",
	Long: `Add image and video files to the generation queue. Directories are
scanned one level deep; unsupported files are skipped with a warning.

Examples:
  stockmeta stage photo.jpg clip.mp4
  stockmeta stage ./shoot-2024-05`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			paths, err := expandPaths(args)
			if err != nil {
				return err
			}
			staged := 0
			for _, p := range paths {
				it, err := e.svc.Stage(cmd.Context(), p)
				if err != nil {
					printWarning("skipped %s: %v", filepath.Base(p), err)
					continue
				}
				staged++
				printSuccess("Staged %s (%s)", it.Filename, it.MimeType)
			}
			if staged == 0 {
				return fmt.Errorf("no files were staged")
			}
			printStep("%d file(s) ready; run `stockmeta generate` to process them", staged)
			return nil
		})
	},
}

// expandPaths replaces directories with the regular files they contain.
func expandPaths(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		info, err := os.Stat(a)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, a)
			continue
		}
		entries, err := os.ReadDir(a)
		if err != nil {
			return nil, err
		}
		for _, de := range entries {
			if de.Type().IsRegular() && de.Name()[0] != '.' {
				out = append(out, filepath.Join(a, de.Name()))
			}
		}
	}
	return out, nil
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or clear the generation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List staged files",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withEnv(func(e *env) error {
			items, err := e.store.ListStaged()
			if err != nil {
				return err
			}
			if asJSON {
				if items == nil {
					items = []storage.StagedItem{}
				}
				return printJSON(cmd.OutOrStdout(), items)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
				return nil
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "File", "Type", "Status", "Staged")
			for _, it := range items {
				tw.AppendRow([]any{it.ID[:8], it.Filename, it.MimeType, it.Status, it.CreatedAt.Local().Format("2006-01-02 15:04")})
			}
			tw.Render()
			return nil
		})
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every staged file from the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			n, err := e.store.ClearQueue()
			if err != nil {
				return err
			}
			printSuccess("Removed %d staged file(s)", n)
			return nil
		})
	},
}

func init() {
	queueListCmd.Flags().Bool("json", false, "print JSON")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
}

// --- keys ---

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage provider API keys",
	Long: `Manage the ordered API key pool of each provider. Keys are rotated in
order when one hits its rate limit or is rejected. Extra keys can also be
supplied comma-separated in STOCKMETA_<PROVIDER>_API_KEYS.`,
}

var keysAddCmd = &cobra.Command{
	Use:   "add <provider> <key>",
	Short: "Append an API key to a provider's pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			if _, err := e.registry.Get(args[0]); err != nil {
				return err
			}
			idx, err := e.keys.Add(args[0], args[1])
			if err != nil {
				return err
			}
			printSuccess("Added %s key #%d (%s)", args[0], idx, credentials.Mask(args[1]))
			return nil
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list [provider]",
	Short: "List API keys (masked)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			providers := e.registry.Names()
			if len(args) == 1 {
				providers = args
			}
			tw := newTable(cmd.OutOrStdout(), "Provider", "#", "Key", "Source")
			for _, p := range providers {
				entries, err := e.keys.List(p)
				if err != nil {
					return err
				}
				active := ""
				if p == e.cfg.Provider.Active {
					active = " *"
				}
				if len(entries) == 0 {
					tw.AppendRow([]any{p + active, "-", "(none)", ""})
					continue
				}
				for _, en := range entries {
					tw.AppendRow([]any{p + active, en.Index, en.Masked, en.Origin})
				}
			}
			tw.Render()
			return nil
		})
	},
}

var keysRemoveCmd = &cobra.Command{
	Use:   "remove <provider> <index>",
	Short: "Remove a stored API key by its position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[1])
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid key index %q", args[1])
		}
		return withEnv(func(e *env) error {
			if err := e.keys.Remove(args[0], idx); err != nil {
				return err
			}
			printSuccess("Removed %s key #%d", args[0], idx)
			return nil
		})
	},
}

var keysUseCmd = &cobra.Command{
	Use:   "use <provider>",
	Short: "Select the provider used by generate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			a, err := e.registry.Get(args[0])
			if err != nil {
				return err
			}
			if err := setConfigKey("provider.active", a.Name()); err != nil {
				return err
			}
			// A model name is provider specific.
			if err := setConfigKey("provider.model", ""); err != nil {
				return err
			}
			printSuccess("Active provider is now %s", a.Name())
			return nil
		})
	},
}

func init() {
	keysCmd.AddCommand(keysAddCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRemoveCmd)
	keysCmd.AddCommand(keysUseCmd)
}

// --- config ---

// setConfigKey is config.SetKey; tests replace it.
var setConfigKey = config.SetKey

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		infos := config.ShowAll(cfg)
		if asJSON {
			return printJSON(cmd.OutOrStdout(), infos)
		}
		tw := newTable(cmd.OutOrStdout(), "Key", "Value", "Env")
		for _, ki := range infos {
			tw.AppendRow([]any{ki.Key, ki.Value, ki.EnvVar})
		}
		tw.Render()
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setConfigKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

// loadConfig is config.Load; tests replace it.
var loadConfig = config.Load

func init() {
	configShowCmd.Flags().Bool("json", false, "print JSON")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
