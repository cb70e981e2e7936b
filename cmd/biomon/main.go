package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"biomon/internal/bootstrap"
	sessiondto "biomon/internal/modules/session/dto"
	"biomon/internal/platform/config"
	"biomon/internal/platform/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalOptions struct {
	dataDir  string
	logLevel string
	logJSON  bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "biomon",
		Short:         "Biometric session monitor for serial sensor boards",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", ".biomon", "directory for config, history and exports")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: trace|debug|info|warn|error")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs")

	root.AddCommand(newPortsCmd(opts))
	root.AddCommand(newMonitorCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newExportCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

// loadApp builds the application. With toFile set, logs go to the data dir
// instead of stderr so they do not tear the TUI.
func loadApp(opts *globalOptions, stderr io.Writer, toFile bool) (*bootstrap.App, func(), error) {
	cfg, err := config.New(opts.dataDir)
	if err != nil {
		return nil, nil, err
	}
	logOpts := logging.Options{Level: opts.logLevel, JSON: opts.logJSON}
	if toFile {
		logOpts.Path = cfg.LogPath
	}
	logger, closeLog, err := logging.New(logOpts, stderr)
	if err != nil {
		return nil, nil, err
	}
	app, err := bootstrap.New(cfg, logger)
	if err != nil {
		_ = closeLog()
		return nil, nil, err
	}
	cleanup := func() {
		if err := app.Close(); err != nil {
			logger.Warn("close app", "error", err)
		}
		_ = closeLog()
	}
	return app, cleanup, nil
}

func newPortsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List available serial ports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := loadApp(opts, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer cleanup()
			ports, err := app.SessionCLI.Ports(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range ports {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), p.Name)
			}
			return nil
		},
	}
}

func newMonitorCmd(opts *globalOptions) *cobra.Command {
	var port, replay string
	var subject sessiondto.SubjectInput
	var noTUI, export bool

	monitor := &cobra.Command{
		Use:   "monitor [--port <device> | --replay <capture file>]",
		Short: "Run a baseline and reading session",
		Long: "Run a session against a serial sensor board or a recorded capture file.\n" +
			"Without --no-tui the terminal UI opens; a session can also be started from its palette.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != "" && replay != "" {
				return fmt.Errorf("--port and --replay are mutually exclusive")
			}
			target, isReplay := port, false
			if replay != "" {
				target, isReplay = replay, true
			}
			if noTUI {
				if target == "" {
					return fmt.Errorf("--port or --replay is required with --no-tui")
				}
				return runHeadless(cmd, opts, target, isReplay, subject, export)
			}

			app, cleanup, err := loadApp(opts, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer cleanup()
			if target != "" {
				if _, err := app.SessionCLI.Start(cmd.Context(), target, isReplay, subject); err != nil {
					return err
				}
			}
			return bootstrap.RunTUI(app)
		},
	}
	monitor.Flags().StringVar(&port, "port", "", "serial device, e.g. /dev/ttyUSB0 or COM3")
	monitor.Flags().StringVar(&replay, "replay", "", "replay a recorded capture file instead of a serial port")
	monitor.Flags().StringVar(&subject.Name, "subject-name", "", "subject name")
	monitor.Flags().IntVar(&subject.Age, "subject-age", 0, "subject age")
	monitor.Flags().StringVar(&subject.Gender, "subject-gender", "", "subject gender")
	monitor.Flags().BoolVar(&noTUI, "no-tui", false, "print readings to stdout instead of opening the terminal UI")
	monitor.Flags().BoolVar(&export, "export", false, "write processed, summary and raw CSVs when the session ends")
	return monitor
}

func runHeadless(cmd *cobra.Command, opts *globalOptions, target string, replay bool, subject sessiondto.SubjectInput, export bool) error {
	app, cleanup, err := loadApp(opts, cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	started, err := app.SessionCLI.Start(ctx, target, replay, subject)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "session %s on %s baseline=%s reading=%s policy=%s\n", started.SessionID, started.Port, started.Baseline, started.Reading, started.Policy)

	updates, err := app.SessionCLI.Subscribe(ctx)
	if err != nil {
		return err
	}
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printSnapshots(out, updates)
	}()

	result, err := app.SessionCLI.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintln(out, "stopping...")
		if _, err := app.SessionCLI.Stop(context.Background()); err != nil {
			return err
		}
		result, err = app.SessionCLI.Wait(context.Background())
	}
	stop()
	<-printed

	printSummary(out, result.Summary)
	if result.ReportPath != "" {
		_, _ = fmt.Fprintf(out, "report: %s\n", result.ReportPath)
	}
	if export && result.Summary.SessionID != "" {
		paths, exportErr := writeExports(context.Background(), app, "", app.Config.ExportDir, allKinds)
		for _, p := range paths {
			_, _ = fmt.Fprintf(out, "exported %s\n", p)
		}
		if exportErr != nil {
			return exportErr
		}
	}
	return err
}

func printSnapshots(w io.Writer, updates <-chan sessiondto.Snapshot) {
	lastPhase := ""
	lastPoints := -1
	for snap := range updates {
		if snap.Phase != lastPhase {
			_, _ = fmt.Fprintf(w, "[%6.1fs] phase %s\n", snap.Elapsed, snap.Phase)
			lastPhase = snap.Phase
		}
		if snap.DataPoints == lastPoints {
			continue
		}
		lastPoints = snap.DataPoints
		var parts []string
		for _, r := range snap.Readings {
			if r.HasValue {
				parts = append(parts, fmt.Sprintf("%s=%g%s", r.Label, r.Value, r.Unit))
			}
		}
		line := fmt.Sprintf("[%6.1fs] %s", snap.Elapsed, strings.Join(parts, "  "))
		if snap.Classification != "" {
			line += "  " + snap.Classification
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func printSummary(w io.Writer, s sessiondto.SummaryOutput) {
	if s.SessionID == "" {
		return
	}
	status := "completed"
	if !s.Completed {
		status = "ended early"
	}
	_, _ = fmt.Fprintf(w, "session %s %s duration=%.1fs data_points=%d parse_errors=%d\n", s.SessionID, status, s.Duration, s.DataPoints, s.ParseErrors)
	for _, m := range s.Metrics {
		_, _ = fmt.Fprintf(w, "  %-18s baseline=%.2f final=%.2f change=%+.2f (%+.2f%%)\n", m.Label, m.Baseline, m.Final, m.Change, m.PercentChange)
	}
	if s.LastError != "" {
		_, _ = fmt.Fprintf(w, "  last error: %s\n", s.LastError)
	}
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and websocket stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := loadApp(opts, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer cleanup()
			if addr == "" {
				addr = app.Config.HTTP.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := bootstrap.NewHTTPServer(app, addr)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				app.Logger.Info("http listening", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (defaults to http.addr from config)")
	return serve
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	history := &cobra.Command{Use: "history", Short: "Stored session history"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := loadApp(opts, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer cleanup()
			items, err := app.SessionCLI.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			for _, s := range items {
				name := s.Subject.Name
				if name == "" {
					name = "-"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tcompleted=%t\t%.1fs\t%d points\n", s.SessionID, s.StartedAt.Local().Format("2006-01-02 15:04:05"), name, s.Completed, s.Duration, s.DataPoints)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")

	var sessionID string
	show := &cobra.Command{
		Use:   "show --id <session id>",
		Short: "Show a stored session summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(sessionID) == "" {
				return fmt.Errorf("--id is required")
			}
			app, cleanup, err := loadApp(opts, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer cleanup()
			s, err := app.SessionCLI.Show(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), s)
			return nil
		},
	}
	show.Flags().StringVar(&sessionID, "id", "", "session id")

	history.AddCommand(list, show)
	return history
}

var allKinds = []sessiondto.ExportKind{sessiondto.ExportProcessed, sessiondto.ExportSummary, sessiondto.ExportRaw}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var sessionID, kind, outDir string
	export := &cobra.Command{
		Use:   "export --session-id <id>",
		Short: "Export a stored session as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(sessionID) == "" {
				return fmt.Errorf("--session-id is required")
			}
			kinds := allKinds
			if kind != "all" {
				kinds = []sessiondto.ExportKind{sessiondto.ExportKind(kind)}
			}
			app, cleanup, err := loadApp(opts, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer cleanup()
			if outDir == "" {
				outDir = app.Config.ExportDir
			}
			paths, err := writeExports(cmd.Context(), app, sessionID, outDir, kinds)
			for _, p := range paths {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %s\n", p)
			}
			return err
		},
	}
	export.Flags().StringVar(&sessionID, "session-id", "", "stored session id")
	export.Flags().StringVar(&kind, "kind", "all", "export kind: processed|summary|raw|all")
	export.Flags().StringVar(&outDir, "out", "", "output directory (defaults to <data-dir>/exports)")
	return export
}

func writeExports(ctx context.Context, app *bootstrap.App, sessionID, dir string, kinds []sessiondto.ExportKind) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	var paths []string
	for _, kind := range kinds {
		out, err := app.SessionCLI.Export(ctx, sessionID, kind)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, out.Filename)
		if err := os.WriteFile(path, out.Content, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default biomon.yaml into the data dir",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.WriteDefault(opts.dataDir)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cfg
}
