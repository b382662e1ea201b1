package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/stockmeta/internal/export"
	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/pipeline"
	"github.com/kalambet/stockmeta/internal/prompt"
	"github.com/kalambet/stockmeta/internal/provider"
)

// controlInput carries the interactive p/s commands during generate.
var controlInput io.Reader = os.Stdin

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate metadata for every staged file",
	Long: `Generate metadata for every staged file with the active provider.

While running, type p + Enter to pause or resume and s + Enter to stop.
Ctrl-C also stops the run; items already finished are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			settings, err := e.settings()
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, &settings); err != nil {
				return err
			}
			return generate(cmd.Context(), e, settings)
		})
	},
}

func init() {
	addRunFlags(generateCmd)
	generateCmd.Flags().Int("concurrency", 0, "parallel requests (default from config)")
	generateCmd.Flags().Bool("no-rate-limit", false, "disable the per-key request budget")
	generateCmd.Flags().String("site", "", "stock site layout of the automatic CSV")
	generateCmd.Flags().Bool("csv", false, "write a CSV when the run finishes")
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("provider", "", "provider override (gemini, grok, mistral, groq, ollama)")
	cmd.Flags().String("model", "", "model override")
	cmd.Flags().String("mode", "", "metadata or prompt")
}

// applyRunFlags copies the flags that are set onto settings.
func applyRunFlags(cmd *cobra.Command, s *pipeline.Settings) error {
	flags := cmd.Flags()
	if v, _ := flags.GetString("provider"); v != "" {
		s.Provider = v
		s.Model = ""
	}
	if v, _ := flags.GetString("model"); v != "" {
		s.Model = v
	}
	if v, _ := flags.GetString("mode"); v != "" {
		mode, err := prompt.ParseMode(v)
		if err != nil {
			return err
		}
		s.Mode = mode
	}
	if flags.Lookup("concurrency") != nil {
		if v, _ := flags.GetInt("concurrency"); v > 0 {
			s.Concurrency = v
		}
	}
	if flags.Lookup("no-rate-limit") != nil {
		if v, _ := flags.GetBool("no-rate-limit"); v {
			s.Rate.Enabled = false
		}
	}
	if flags.Lookup("site") != nil {
		if v, _ := flags.GetString("site"); v != "" {
			site, err := export.ParseSite(v)
			if err != nil {
				return err
			}
			s.Export.Site = site
		}
	}
	if flags.Lookup("csv") != nil && flags.Changed("csv") {
		s.Export.AutoCSV, _ = flags.GetBool("csv")
	}
	return nil
}

func generate(ctx context.Context, e *env, settings pipeline.Settings) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adapter, err := e.registry.Get(settings.Provider)
	if err != nil {
		return err
	}
	if err := provider.Prepare(ctx, adapter, settings.Model, stderr); err != nil {
		return err
	}

	printStep("Generating with %s (%s mode)", adapter.Name(), settings.Mode)
	run, err := e.svc.Start(ctx, settings, consoleHooks())
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			printWarning("Stopping, press Ctrl-C again to abort")
			run.Session.Stop()
		case <-run.Done():
			return
		}
		select {
		case <-sigCh:
			cancel()
		case <-run.Done():
		}
	}()
	go readControls(controlInput, run.Session, run.Done())

	sum, err := run.Wait(context.Background())
	if err != nil {
		return err
	}
	if sum.Stopped {
		printWarning("%s %d of %d processed, %d successful.", sum.Status, sum.Processed, sum.Total, sum.Succeeded)
		return nil
	}
	printSuccess("%s", sum.Status)
	if sum.Failed() > 0 {
		printWarning("%d file(s) failed; see `stockmeta results list --failed`", sum.Failed())
	}
	return nil
}

func consoleHooks() orchestrator.Hooks {
	return orchestrator.Hooks{
		OnProgress: func(p orchestrator.Progress) {
			fmt.Fprintf(stderr, "%s %3.0f%% %d/%d %s\n",
				progressBar(p.Percent, 24), p.Percent, p.CurrentFile, p.TotalFiles,
				colorize(mutedStyle, p.Status))
		},
		OnResult: func(rec orchestrator.Record) {
			if rec.Failed {
				printError("%s: %s", rec.Filename, rec.Description)
				return
			}
			if rec.Mode == prompt.ModePrompt {
				printSuccess("%s: %s", rec.Filename, truncate(rec.Description, 70))
				return
			}
			printSuccess("%s: %s (%d keywords)", rec.Filename, truncate(rec.Title, 60), len(rec.Keywords))
		},
		OnNotice: func(n orchestrator.Notice) {
			msg := n.Message
			if n.Filename != "" {
				msg = n.Filename + ": " + msg
			}
			switch n.Level {
			case orchestrator.NoticeError:
				printError("%s", msg)
			case orchestrator.NoticeWarn:
				printWarning("%s", msg)
			default:
				printStep("%s", msg)
			}
		},
	}
}

// runControl is the part of a session the interactive keys drive.
type runControl interface {
	Pause()
	Resume()
	Stop()
	Paused() bool
}

// readControls applies p/s lines from r until done is closed or r ends.
func readControls(r io.Reader, sess runControl, done <-chan struct{}) {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if msg := handleControl(sess, line); msg != "" {
				printStep("%s", msg)
			}
		}
	}
}

func handleControl(sess runControl, line string) string {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "p", "pause", "r", "resume":
		if sess.Paused() {
			sess.Resume()
			return "Resumed"
		}
		sess.Pause()
		return "Pausing after in-flight requests"
	case "s", "stop", "q":
		sess.Stop()
		return "Stopping"
	case "":
		return ""
	default:
		return "Type p to pause or resume, s to stop"
	}
}
