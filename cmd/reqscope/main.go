package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ferrow/reqscope/internal/config"
	"github.com/ferrow/reqscope/internal/events"
	"github.com/ferrow/reqscope/internal/pipeline"
	"github.com/ferrow/reqscope/internal/runner"
	"github.com/ferrow/reqscope/internal/store"
	"github.com/ferrow/reqscope/internal/util"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	verbose    bool
	forceNew   bool
	refineText string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reqscope",
		Short: "ReqScope - Requirements Document Analyzer",
		Long: `ReqScope analyzes requirements documents through a checkpointed
multi-stage pipeline: extraction, categorization, technology detection,
upstream research, and report assembly. Interrupted runs resume from the
last completed stage.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <document>",
		Short: "Analyze a requirements document",
		Long: `Run the complete analysis pipeline over a document:
1. Extract structured requirements
2. Categorize them (MoSCoW)
3. Detect mentioned technologies
4. Research technologies against configured services
5. Assemble the report

Re-running on the same document resumes from its last checkpoint.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}
	analyzeCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	analyzeCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	analyzeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	analyzeCmd.Flags().BoolVar(&forceNew, "force-new", false, "Start a fresh session even if one exists for this document")

	refineCmd := &cobra.Command{
		Use:   "refine <document>",
		Short: "Refine a previous analysis with additional input",
		Long: `Re-run the pipeline for an already analyzed document, appending
additional text and bumping the session's iteration count. Fails if the
document has never been analyzed.`,
		Args: cobra.ExactArgs(1),
		RunE: runRefine,
	}
	refineCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	refineCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	refineCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	refineCmd.Flags().StringVar(&refineText, "input", "", "Additional requirement text to append")

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage analysis sessions",
		Long:  "Inspect the durable sessions and checkpoints behind resumable analyses",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		RunE:  listSessions,
	}
	listCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")

	inspectCmd := &cobra.Command{
		Use:   "inspect <session-id>",
		Short: "Inspect a session's latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectSession,
	}
	inspectCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")

	sessionsCmd.AddCommand(listCmd)
	sessionsCmd.AddCommand(inspectCmd)

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(sessionsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	return runPipeline(args[0], func(ctx context.Context, r *runner.Runner) (*runner.Result, error) {
		return r.Analyze(ctx, args[0], runner.Options{ForceNew: forceNew})
	})
}

func runRefine(cmd *cobra.Command, args []string) error {
	return runPipeline(args[0], func(ctx context.Context, r *runner.Runner) (*runner.Result, error) {
		return r.Refine(ctx, args[0], refineText, runner.Options{})
	})
}

func runPipeline(docPath string, run func(context.Context, *runner.Runner) (*runner.Result, error)) error {
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil && verbose {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger, logFile, err := runner.SetupLogger(cfg.Pipeline.OutputDir, logLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logFile.Sync()
		_ = logFile.Close()
	}()

	logger.Info("ReqScope starting",
		"version", Version,
		"config", configPath,
		"document", docPath)

	r, err := runner.New(cfg, secrets, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	var wg sync.WaitGroup
	defer func() {
		// Closing the runner closes the event channel, which ends the
		// renderer goroutine.
		if err := r.Close(); err != nil {
			logger.Error("Failed to close runner", "error", err)
		}
		wg.Wait()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		renderEvents(r.Events())
	}()

	result, err := run(ctx, r)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if result.Outcome == pipeline.Interrupted {
		fmt.Fprintf(os.Stderr, "\nInterrupted at stage %s. Re-run the same command to resume.\n",
			result.State.NextStage)
		return nil
	}

	printResult(result)
	return nil
}

// renderEvents consumes the progress channel until the runner closes it.
// Non-verbose mode drives a spinner; verbose mode prints each event.
func renderEvents(ch <-chan events.Event) {
	if verbose {
		for ev := range ch {
			fmt.Fprintf(os.Stderr, "[%s] %-6s %s: %s\n",
				ev.Timestamp.Format("15:04:05"), ev.Level.String(), ev.Stage, ev.Message)
		}
		return
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription("analyzing"),
		progressbar.OptionShowCount(),
	)
	for ev := range ch {
		bar.Describe(fmt.Sprintf("%s: %s", ev.Stage, util.TruncateString(ev.Message, 60)))
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
}

func printResult(result *runner.Result) {
	state := result.State
	fmt.Println(state.Summary)
	if result.ReportPath != "" {
		fmt.Printf("Report: %s\n", result.ReportPath)
	}
	fmt.Printf("Session: %s (upstream calls: %d, cache hits: %d, duration: %s)\n",
		result.SessionID,
		result.Stats.UpstreamCalls,
		result.Stats.CacheHits,
		result.Stats.TotalDuration.Round(time.Millisecond))
	if len(state.Errors) > 0 {
		fmt.Printf("Degraded steps (%d):\n", len(state.Errors))
		for _, e := range state.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

func listSessions(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-38s %-10s %-20s %s\n", "SESSION", "ITERATION", "CREATED", "DOCUMENT")
	for _, sess := range sessions {
		fmt.Printf("%-38s %-10d %-20s %s\n",
			sess.SessionID,
			sess.IterationCount,
			sess.CreatedAt.Format("2006-01-02 15:04:05"),
			sess.DocumentIdentity)
	}
	return nil
}

func inspectSession(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := st.SessionByID(args[0])
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session not found: %s", args[0])
	}

	count, err := st.CheckpointCount(sess.SessionID)
	if err != nil {
		return err
	}
	state, err := st.LoadLatestCheckpoint(sess.SessionID)
	if err != nil {
		return err
	}

	fmt.Printf("Session:     %s\n", sess.SessionID)
	fmt.Printf("Document:    %s\n", sess.DocumentIdentity)
	fmt.Printf("Iteration:   %d\n", sess.IterationCount)
	fmt.Printf("Created:     %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Checkpoints: %d\n", count)
	if state == nil {
		fmt.Println("Status:      no checkpoints yet")
		return nil
	}
	if state.NextStage == "" {
		fmt.Printf("Status:      complete (last stage: %s)\n", state.CurrentStage)
	} else {
		fmt.Printf("Status:      resumable at stage %s\n", state.NextStage)
	}
	fmt.Printf("Requirements: %d, findings: %d, errors: %d\n",
		len(state.Requirements), len(state.Findings), len(state.Errors))
	return nil
}

func openStore() (*store.Store, error) {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	storePath := cfg.Pipeline.StoreFile
	if storePath == "" {
		storePath = cfg.Pipeline.OutputDir + "/reqscope.db"
	}
	db, err := store.Open(storePath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return store.New(db, logger), nil
}

// loadEnvFile loads KEY=VALUE pairs from a file into the environment
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if err := os.Setenv(strings.TrimSpace(key), value); err != nil {
			return err
		}
	}
	return nil
}
