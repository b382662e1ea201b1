package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/kalambet/stockmeta/internal/api"
	"github.com/kalambet/stockmeta/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Control the run of a `stockmeta serve` instance",
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a run on the server over its staged files",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.RunRequest{}
		req.Provider, _ = cmd.Flags().GetString("provider")
		req.Model, _ = cmd.Flags().GetString("model")
		req.Mode, _ = cmd.Flags().GetString("mode")
		return remoteRun(cmd.Context(), "/runs", req)
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server's current run",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var view api.RunView
		if err := client.call(cmd.Context(), http.MethodGet, "/runs/current", nil, &view); err != nil {
			return err
		}
		printRunView(view)
		return nil
	},
}

func runControlCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return remoteRun(cmd.Context(), "/runs/current/"+action, nil)
		},
	}
}

func remoteRun(ctx context.Context, path string, body any) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	var view api.RunView
	if err := client.call(ctx, http.MethodPost, path, body, &view); err != nil {
		return err
	}
	printRunView(view)
	return nil
}

func printRunView(v api.RunView) {
	printStatus("Run", "%s", v.ID)
	printStatus("Provider", "%s (%s mode)", v.Provider, v.Mode)
	printStatus("State", "%s", stateLabel(v.Status.State))
	p := v.Status.Progress
	printStatus("Progress", "%s %.0f%% (%d/%d)", progressBar(p.Percent, 24), p.Percent, p.CurrentFile, p.TotalFiles)
	if p.Status != "" {
		printStatus("Status", "%s", p.Status)
	}
	printStatus("Key", "#%d", v.Status.KeyIndex)
	if v.Summary != nil {
		printStatus("Result", "%d of %d successful", v.Summary.Succeeded, v.Summary.Total)
	}
	if v.Error != "" {
		printError("%s", v.Error)
	}
}

func stateLabel(s orchestrator.State) string {
	switch s {
	case orchestrator.StateRunning:
		return colorize(stepStyle, string(s))
	case orchestrator.StatePaused:
		return colorize(warningStyle, string(s))
	case orchestrator.StateCompleted:
		return colorize(successStyle, string(s))
	case orchestrator.StateStopped:
		return colorize(errorStyle, string(s))
	default:
		return fmt.Sprint(s)
	}
}

func init() {
	addRunFlags(runStartCmd)
	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runControlCmd("pause", "Pause the current run after in-flight requests"))
	runCmd.AddCommand(runControlCmd("resume", "Resume a paused run"))
	runCmd.AddCommand(runControlCmd("stop", "Stop the current run"))
}
