// Package cli implements the medtrack command line
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/gmsas95/medtrack/internal/app"
	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/store"
)

var Version = "dev"

// runtime carries the global flags and the lazily opened application
type runtime struct {
	configPath string
	dataDir    string
	output     string
	actor      string

	app    *app.App
	logger *zap.Logger
}

// NewRootCommand builds the medtrack command tree
func NewRootCommand() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:           "medtrack",
		Short:         "Medication scheduling and adherence engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&rt.configPath, "config", "", "Path to config file")
	flags.StringVar(&rt.dataDir, "data", "", "Path to data directory")
	flags.StringVarP(&rt.output, "output", "o", "auto", "Output format: auto, json or text")
	flags.StringVar(&rt.actor, "by", config.GetEnvDefault("USER", "cli"), "Who performs status changes")

	root.AddCommand(
		initCmd(rt),
		serveCmd(rt),
		versionCmd(),
		infoCmd(rt),
		normalizeCmd(rt),
		addCmd(rt),
		listCmd(rt),
		showCmd(rt),
		generateCmd(rt),
		remindersCmd(rt),
		todayCmd(rt),
		takeCmd(rt),
		skipCmd(rt),
		snoozeCmd(rt),
		rescheduleCmd(rt),
		statusCmd(rt),
		adherenceCmd(rt),
		repairCmd(rt),
		sweepCmd(rt),
		prnCmd(rt),
		bucketsCmd(rt),
		importCmd(rt),
	)

	return root
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func (rt *runtime) loadConfig(watch bool) (*config.Config, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if !watch {
		return config.Load(rt.configPath, rt.dataDir)
	}
	return config.LoadAndWatch(rt.configPath, rt.dataDir, func(cfg *config.Config, err error) {
		if rt.app != nil {
			rt.app.ApplyConfig(cfg, err)
		}
	})
}

// open loads config, storage and the engine once per invocation
func (rt *runtime) open(watch bool) (*app.App, error) {
	if rt.app != nil {
		return rt.app, nil
	}

	cfg, err := rt.loadConfig(watch)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	st, err := store.New(cfg)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	a, err := app.New(cfg, st, logger, Version)
	if err != nil {
		st.Close()
		logger.Sync()
		return nil, err
	}

	rt.app = a
	rt.logger = logger
	return a, nil
}

func (rt *runtime) close() {
	if rt.app == nil {
		return
	}
	if err := rt.app.Store.Close(); err != nil {
		rt.logger.Warn("Failed to close store", zap.Error(err))
	}
	rt.logger.Sync()
	rt.app = nil
}

// textOutput reports whether w should get styled text instead of JSON
func (rt *runtime) textOutput(w io.Writer) bool {
	switch rt.output {
	case "json":
		return false
	case "text":
		return true
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
