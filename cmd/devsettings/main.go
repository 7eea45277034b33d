package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/schaermu/devsettings/internal/config"
	"github.com/schaermu/devsettings/internal/discovery"
	"github.com/schaermu/devsettings/internal/manifest"
	"github.com/schaermu/devsettings/internal/prompt"
	"github.com/schaermu/devsettings/internal/report"
	"github.com/schaermu/devsettings/internal/shell"
	"github.com/schaermu/devsettings/internal/sync"
)

// DefaultPackage is the Composer package publishing the settings
const DefaultPackage = "mikebronner/development-settings"

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile      string
	logLevel     string
	logFormat    string
	projectDir   string
	sourceDir    string
	packageName  string
	manifestFile string
	jsonOutput   bool

	// Sync flags
	dryRun            bool
	noInteraction     bool
	overwriteModified bool
	noHooks           bool
	noComposer        bool
	composerBin       string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devsettings",
	Short: "Publish shared developer settings into a project",
	Long: `devsettings copies a shared set of configuration files (coding standards,
CI workflows, AI guidelines) and a dev-dependency list from a source package
into the current project.

Files the project edited locally are never overwritten without consent: a
checksum history of every published version tells our own earlier writes
apart from local edits.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize settings files and dev dependencies into the project",
	Long: `Sync discovers the files published by the source package, compares them with
the project and the manifest history, and copies what is new or outdated.

Files that were edited locally are only overwritten after confirmation.
Files the source package no longer ships are removed. Afterwards the
require-dev section of composer.json is merged, the post-sync hook runs when
a changed file matches its patterns, and composer installs or removes the
changed dev dependencies.`,
	RunE: runSync,
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect or extend the checksum manifest",
}

var manifestRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append the current checksum of every published file to the manifest",
	Long: `Record is meant for maintainers of the source package. Run it before tagging
a release so consumers recognise copies of this version as ours and update
them without asking.`,
	RunE: runManifestRecord,
}

var manifestShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the manifest",
	RunE:  runManifestShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the source package configuration",
	RunE:  runValidate,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return report.JSON(cmd.OutOrStdout(), config.Schema())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("devsettings %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is developer-settings.yaml in the source package)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", "", "project directory (default is the current directory)")
	rootCmd.PersistentFlags().StringVar(&sourceDir, "source", "", "source package directory (default is <project>/vendor/<package>)")
	rootCmd.PersistentFlags().StringVar(&packageName, "package", DefaultPackage, "Composer package publishing the settings")
	rootCmd.PersistentFlags().StringVar(&manifestFile, "manifest", "", "manifest file (default is manifest.json in the source package)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVar(&noInteraction, "no-interaction", false, "never prompt; locally modified files are skipped")
	syncCmd.Flags().BoolVar(&overwriteModified, "overwrite-modified", false, "overwrite locally modified files without asking")
	syncCmd.Flags().BoolVar(&noHooks, "no-hooks", false, "do not run the post-sync hook")
	syncCmd.Flags().BoolVar(&noComposer, "no-composer", false, "leave composer.json and vendor/ alone")
	syncCmd.Flags().StringVar(&composerBin, "composer-bin", "composer", "composer executable")

	manifestRecordCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be recorded without saving")

	// Add commands
	manifestCmd.AddCommand(manifestRecordCmd)
	manifestCmd.AddCommand(manifestShowCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger(cmd.ErrOrStderr())

	opts, err := resolveOptions()
	if err != nil {
		return err
	}

	var printer sync.Printer
	if !jsonOutput {
		printer = report.NewRenderer(cmd.OutOrStdout())
	}

	// Create sync engine
	engine := sync.NewEngine(afero.NewOsFs(), opts, newConfirmer(), shell.NewClient(), printer, logger)

	// Run sync
	result, err := engine.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	if jsonOutput {
		return report.JSON(cmd.OutOrStdout(), result)
	}
	printFollowUps(cmd.OutOrStdout(), result)
	return nil
}

// printFollowUps reports the hook and composer commands that ran after the summary
func printFollowUps(w io.Writer, result *sync.RunResult) {
	if result.Hook.Ran {
		status := "done"
		if !result.Hook.OK() {
			status = "failed"
		}
		_, _ = fmt.Fprintf(w, "  %s %s\n", result.Hook.Description, status)
	}
	if result.Install != nil {
		if result.Install.OK() {
			_, _ = fmt.Fprintln(w, "  + Dev dependencies installed successfully.")
		} else {
			_, _ = fmt.Fprintln(w, `  + Failed to install dev dependencies. Run "composer update" manually.`)
		}
	}
	if result.Remove != nil {
		if result.Remove.OK() {
			_, _ = fmt.Fprintln(w, "  - Dev dependencies removed successfully.")
		} else {
			_, _ = fmt.Fprintln(w, `  - Failed to remove dev dependencies. Run "composer remove" manually.`)
		}
	}
}

func runManifestRecord(cmd *cobra.Command, args []string) error {
	logger := setupLogger(cmd.ErrOrStderr())

	opts, err := resolveOptions()
	if err != nil {
		return err
	}

	engine := sync.NewEngine(afero.NewOsFs(), opts, nil, nil, nil, logger)
	added, err := engine.RecordSources()
	if err != nil {
		logger.Error("recording checksums failed", "error", err)
		return err
	}

	if jsonOutput {
		return report.JSON(cmd.OutOrStdout(), map[string]any{
			"manifest": engine.ManifestPath(),
			"recorded": added,
			"dry_run":  dryRun,
		})
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d new checksum(s) in %s\n", added, engine.ManifestPath())
	return nil
}

func runManifestShow(cmd *cobra.Command, args []string) error {
	opts, err := resolveOptions()
	if err != nil {
		return err
	}

	path := opts.ManifestPath
	if path == "" {
		path = filepath.Join(opts.SourceRoot, manifest.FileName)
	}

	m, err := manifest.LoadStrict(afero.NewOsFs(), path)
	if err != nil {
		return err
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runValidate(cmd *cobra.Command, args []string) error {
	logger := setupLogger(cmd.ErrOrStderr())

	opts, err := resolveOptions()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(logger, opts.SourceRoot)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	files, err := discovery.Discover(afero.NewOsFs(), opts.SourceRoot, cfg.Paths, logger)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d file(s), %d dev dependency change(s), %d hook pattern(s)\n",
		files.Len(), len(cfg.Composer.Install)+len(cfg.Composer.Remove), len(cfg.Hooks.Patterns))
	return nil
}

// resolveOptions turns the global flags into absolute engine options
func resolveOptions() (sync.Options, error) {
	project := projectDir
	if project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return sync.Options{}, fmt.Errorf("failed to get working directory: %w", err)
		}
		project = wd
	}
	project, err := filepath.Abs(project)
	if err != nil {
		return sync.Options{}, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	source := sourceDir
	if source == "" {
		source = filepath.Join(project, "vendor", filepath.FromSlash(packageName))
	}
	source, err = filepath.Abs(source)
	if err != nil {
		return sync.Options{}, fmt.Errorf("failed to resolve source directory: %w", err)
	}

	return sync.Options{
		ProjectRoot:  project,
		SourceRoot:   source,
		ManifestPath: manifestFile,
		ConfigPath:   cfgFile,
		ComposerBin:  composerBin,
		DryRun:       dryRun,
		NoHooks:      noHooks,
		NoComposer:   noComposer,
	}, nil
}

// newConfirmer picks how locally modified files are decided
func newConfirmer() prompt.Confirmer {
	switch {
	case overwriteModified:
		return prompt.NewStatic(true)
	case noInteraction || jsonOutput || !prompt.IsInteractive():
		return prompt.NonInteractive{}
	default:
		return prompt.NewHuh()
	}
}

func setupLogger(w io.Writer) *slog.Logger {
	// Parse log level
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

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger, sourceRoot string) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		found, err := config.Find(sourceRoot)
		if err != nil {
			return nil, err
		}
		configPath = found
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"directories", len(cfg.Paths.Directories),
		"files", len(cfg.Paths.Files),
		"install", len(cfg.Composer.Install),
		"remove", len(cfg.Composer.Remove))

	return cfg, nil
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
