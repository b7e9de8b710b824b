// Command autoclose generates Close and Shutdown methods for annotated
// types described by a descriptor file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"autoclose/internal/cache"
	"autoclose/internal/config"
	"autoclose/internal/engine"
	"autoclose/internal/logging"
	"autoclose/internal/metrics"
	"autoclose/internal/synth"
)

// app carries the parsed global flags and the loaded configuration.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "autoclose",
		Short: "Generate teardown methods for annotated types",
		Long: `autoclose reads a descriptor of a Go package and generates, for every
annotated type, the Close and Shutdown methods that release its members,
run its hooks and delegate to its base type exactly once.

Generated files are written next to the descriptor unless -o is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Sync()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "Configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		a.generateCmd(),
		a.checkCmd(),
		a.watchCmd(),
		explainCmd(),
		codesCmd(),
	)
	return root
}

// setup loads configuration and initializes logging.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Initialize(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logging.Base()
	a.logger.Debug("configuration loaded", zap.String("path", a.configPath))
	return nil
}

// engine builds an engine for the descriptor at path. The returned
// cleanup closes the cache and exports metrics.
func (a *app) engine(path string, useCache bool) (*engine.Engine, func() error, error) {
	cfg := a.cfg
	collector := metrics.New()
	opts := engine.Options{
		Workers:   cfg.Generator.Workers,
		FactLimit: cfg.Facts.FactLimit,
		Synth: synth.Options{
			RuntimeImport: cfg.Generator.RuntimeImport,
			Header:        cfg.Generator.Header,
			OutputSuffix:  cfg.Generator.OutputSuffix,
		},
		FailOnWarning: cfg.Generator.FailOnWarning,
		Metrics:       collector,
	}

	var c *cache.Cache
	if useCache && cfg.Cache.Enabled {
		cachePath := cfg.Cache.Path
		if !filepath.IsAbs(cachePath) {
			cachePath = filepath.Join(filepath.Dir(path), cachePath)
		}
		var err error
		if c, err = cache.Open(cachePath); err != nil {
			return nil, nil, err
		}
		opts.Writer = c
		opts.Prune = true
	}

	cleanup := func() error {
		var err error
		if c != nil {
			err = multierr.Append(err, c.Close())
		}
		if cfg.Metrics.Textfile != "" {
			err = multierr.Append(err, collector.WriteTextfile(cfg.Metrics.Textfile))
		}
		return err
	}
	return engine.New(opts), cleanup, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
