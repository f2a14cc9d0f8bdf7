package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/dotsyncd/internal/config"
	"github.com/schaermu/dotsyncd/internal/daemon"
	"github.com/schaermu/dotsyncd/internal/gitrepo"
	"github.com/schaermu/dotsyncd/internal/mirror"
	"github.com/schaermu/dotsyncd/internal/notify"
	"github.com/schaermu/dotsyncd/internal/sync"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	notifyVia string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dotsyncd",
	Short: "Keep your dotfiles mirrored in a git repository",
	Long: `dotsyncd mirrors user-designated configuration files and directories into
a version-controlled repository and keeps that repository in sync with a
remote.

Each cycle ensures the repository and its remote tracking branch exist,
mirrors the tracked paths (propagating deletions and honoring ignore
patterns), then commits and pushes any changes, recovering once from a
remote-ahead push rejection via fetch and rebase.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation cycle",
	Long: `Sync runs a single reconciliation cycle: it sets up the mirror repository
if needed, copies the tracked dotfiles into it, and commits and pushes
whatever changed. With no changes the cycle is a no-op.`,
	RunE: runSync,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run sync cycles on a schedule",
	Long: `Daemon runs reconciliation cycles continuously: on a fixed interval, on
filesystem changes to the tracked paths (when daemon.watch is enabled),
and on manual triggers via POST /sync (when daemon.trigger_addr is set).

Cycles never overlap; triggers arriving during a cycle coalesce into a
single follow-up run.`,
	RunE: runDaemon,
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Manage tracked dotfile paths",
}

var trackAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Start tracking a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackAdd,
}

var trackRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Stop tracking a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackRemove,
}

var ignoreCmd = &cobra.Command{
	Use:   "ignore",
	Short: "Manage ignore patterns",
}

var ignoreAddCmd = &cobra.Command{
	Use:   "add <pattern>",
	Short: "Add an ignore pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  runIgnoreAdd,
}

var ignoreRemoveCmd = &cobra.Command{
	Use:   "remove <pattern>",
	Short: "Remove an ignore pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  runIgnoreRemove,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dotsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/dotsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&notifyVia, "notify", "desktop", "notification channel (desktop, log, none)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Add commands
	trackCmd.AddCommand(trackAddCmd)
	trackCmd.AddCommand(trackRemoveCmd)
	ignoreCmd.AddCommand(ignoreAddCmd)
	ignoreCmd.AddCommand(ignoreRemoveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(ignoreCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	orchestrator := buildOrchestrator(cfg, logger)

	if err := orchestrator.Run(ctx); err != nil {
		return err
	}
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	orchestrator := buildOrchestrator(cfg, logger)
	return daemon.New(cfg, orchestrator, logger).Start(ctx)
}

func runTrackAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	path := args[0]
	expanded, err := config.ExpandHome(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return fmt.Errorf("cannot track %s: %w", path, err)
	}

	var added bool
	if info.IsDir() {
		added, err = store.AddDir(path)
	} else {
		added, err = store.AddFile(path)
	}
	if err != nil {
		return err
	}
	if !added {
		fmt.Printf("%s is already tracked\n", path)
		return nil
	}
	fmt.Printf("now tracking %s\n", path)
	return nil
}

func runTrackRemove(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	path := args[0]
	removedDir, err := store.RemoveDir(path)
	if err != nil {
		return err
	}
	removedFile, err := store.RemoveFile(path)
	if err != nil {
		return err
	}
	if !removedDir && !removedFile {
		return fmt.Errorf("%s is not tracked", path)
	}
	fmt.Printf("stopped tracking %s\n", path)
	return nil
}

func runIgnoreAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	added, err := store.AddPattern(args[0])
	if err != nil {
		return err
	}
	if !added {
		fmt.Printf("pattern %s already present\n", args[0])
		return nil
	}
	fmt.Printf("added ignore pattern %s\n", args[0])
	return nil
}

func runIgnoreRemove(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	removed, err := store.RemovePattern(args[0])
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("pattern %s not present", args[0])
	}
	fmt.Printf("removed ignore pattern %s\n", args[0])
	return nil
}

func buildOrchestrator(cfg *config.Config, logger *slog.Logger) *sync.Orchestrator {
	manager := gitrepo.NewManager(gitrepo.Options{
		Dir:              cfg.Repo.LocalDir,
		RemoteURL:        cfg.Repo.RemoteURL,
		Branch:           cfg.Repo.Branch,
		ListChangedFiles: cfg.Sync.CommitMessageFiles,
	}, gitrepo.NewExecRunner(), logger)

	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	engine := mirror.NewEngine(cfg.Ignore.Patterns, home, cfg.Sync.DeleteExtraneous, logger)

	return sync.NewOrchestrator(cfg, manager, engine, setupNotifier(logger), logger, dryRun)
}

func setupNotifier(logger *slog.Logger) notify.Notifier {
	switch notifyVia {
	case "log":
		return notify.NewLog(logger)
	case "none":
		return notify.Nop{}
	default:
		return notify.NewDesktop(logger)
	}
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultPath()
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	logger.Info("loading configuration", "path", path)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repo", cfg.Repo.LocalDir,
		"remote", cfg.Repo.RemoteURL,
		"dirs", len(cfg.Track.Dirs),
		"files", len(cfg.Track.Files))

	return cfg, nil
}

func openStore() (*config.Store, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.NewStore(path)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
