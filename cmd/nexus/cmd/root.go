// Package cmd provides the CLI commands for nexus.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nexus/internal/config"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/logging"
	"github.com/Aman-CERP/nexus/internal/profiling"
	"github.com/Aman-CERP/nexus/pkg/nexus"
	"github.com/Aman-CERP/nexus/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	storePath string
	backend   string
	debug     bool
	noColor   bool
	profile   profiling.Options

	cfg            *config.Config
	loggingCleanup func()
	prevLogger     *slog.Logger
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the nexus CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "nexus",
		Short: "Local hybrid search over your files",
		Long: `nexus indexes local documents (text, markdown, HTML, DOCX, PDF and
images through OCR) into a lexical and a vector index, then answers
semantic, keyword or hybrid queries against them.

Everything runs locally. Re-running index only processes files that
changed since the last run.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("nexus version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.storePath, "store", "", "Store root directory (default from config)")
	cmd.PersistentFlags().StringVar(&opts.backend, "lexical-backend", "", "Lexical engine for a new store: sqlite (default) or bleve")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging, mirrored to stderr")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write an execution trace to this file")
	_ = cmd.PersistentFlags().MarkHidden("profile-trace")

	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		if err := opts.startLogging(); err != nil {
			return err
		}
		return opts.startProfiling()
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		err := opts.stopProfiling()
		opts.stopLogging()
		return err
	}

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newExplainCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command, printing a failure to stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprint(os.Stderr, nexuserrors.FormatForCLI(err))
	}
	return err
}

// config loads the effective configuration once per invocation and
// applies the persistent flag overrides.
func (o *globalOptions) config() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, err := config.Load(".")
	if err != nil {
		return nil, nexuserrors.ConfigError(err.Error(), err).
			WithSuggestion("Fix the config file or run 'nexus config init --force'")
	}
	if o.storePath != "" {
		cfg.Storage.Path = o.storePath
	}
	if o.backend != "" {
		cfg.Storage.LexicalBackend = o.backend
		if err := cfg.Validate(); err != nil {
			return nil, nexuserrors.ValidationError(err.Error(), err)
		}
	}
	o.cfg = cfg
	return cfg, nil
}

// open opens the library for the effective configuration.
func (o *globalOptions) open(ctx context.Context) (*nexus.Library, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	return nexus.Open(ctx, cfg.Storage.Path, cfg)
}

func (o *globalOptions) startLogging() error {
	logCfg := logging.DefaultConfig()
	if cfg, err := o.config(); err == nil {
		logCfg.Level = cfg.Logging.Level
		if cfg.Logging.FilePath != "" {
			logCfg.FilePath = cfg.Logging.FilePath
		}
		logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
		logCfg.MaxFiles = cfg.Logging.MaxFiles
	}
	if o.debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	o.prevLogger = slog.Default()
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		// Logging is best effort; commands still run without a log file.
		slog.Debug("logging_setup_failed", slog.String("error", err.Error()))
		return nil
	}
	o.loggingCleanup = cleanup
	return nil
}

func (o *globalOptions) stopLogging() {
	if o.loggingCleanup != nil {
		slog.SetDefault(o.prevLogger)
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
}

func (o *globalOptions) startProfiling() error {
	if !o.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(o.profile)
	if err != nil {
		return nexuserrors.InternalError("profiling: "+err.Error(), err)
	}
	o.profiler = s
	return nil
}

func (o *globalOptions) stopProfiling() error {
	if o.profiler == nil {
		return nil
	}
	err := o.profiler.Stop()
	o.profiler = nil
	if err != nil {
		return nexuserrors.InternalError("profiling: "+err.Error(), err)
	}
	return nil
}

// closeLibrary closes lib, logging a failure.
func closeLibrary(lib *nexus.Library) {
	if err := lib.Close(); err != nil {
		slog.Warn("library_close_failed", slog.String("error", err.Error()))
	}
}
