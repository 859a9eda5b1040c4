package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/api"
	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/cron"
	"github.com/gmsas95/medtrack/internal/medication"
	"github.com/gmsas95/medtrack/internal/store"
)

type App struct {
	Config     *config.Config
	Store      *store.Store
	Service    *medication.Service
	Logger     *zap.Logger
	CronRunner *cron.Runner
	Version    string
}

// New wires the medication engine onto an open store
func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) (*App, error) {
	ms, err := medication.NewStore(st.DB())
	if err != nil {
		return nil, err
	}

	policy, err := PolicyFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:  cfg,
		Store:   st,
		Service: medication.NewService(ms, st, policy, logger),
		Logger:  logger,
		Version: version,
	}, nil
}

// PolicyFromConfig converts the schedule and bucket sections to an engine
// policy
func PolicyFromConfig(cfg *config.Config) (medication.Policy, error) {
	s := cfg.Schedule
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return medication.Policy{}, fmt.Errorf("invalid schedule.timezone: %w", err)
	}

	buckets := make([]medication.Bucket, 0, len(cfg.Buckets))
	for _, b := range cfg.Buckets {
		buckets = append(buckets, medication.Bucket{Name: b.Name, Label: b.Label, Time: b.Time})
	}
	if _, err := medication.NewClassifier(buckets); err != nil {
		return medication.Policy{}, err
	}

	return medication.Policy{
		MissedGrace:       time.Duration(s.MissedGraceMinutes) * time.Minute,
		OnTimeTolerance:   time.Duration(s.OnTimeToleranceMinutes) * time.Minute,
		RollingWindowDays: s.RollingWindowDays,
		UrgencyNow:        time.Duration(s.UrgencyNowMinutes) * time.Minute,
		UrgencySoon:       time.Duration(s.UrgencySoonMinutes) * time.Minute,
		MaxSnooze:         time.Duration(s.MaxSnoozeMinutes) * time.Minute,
		DefaultTimezone:   loc,
		DefaultBuckets:    buckets,
	}, nil
}

// ApplyConfig is the hot-reload callback: a valid config replaces the
// engine policy, a rejected one is logged and ignored.
func (app *App) ApplyConfig(cfg *config.Config, err error) {
	if err != nil {
		app.Logger.Warn("Ignoring config change", zap.Error(err))
		return
	}
	policy, err := PolicyFromConfig(cfg)
	if err != nil {
		app.Logger.Warn("Ignoring config change", zap.Error(err))
		return
	}
	app.Service.SetPolicy(policy)
	app.Logger.Info("Schedule policy reloaded",
		zap.Duration("missed_grace", policy.MissedGrace),
		zap.Int("rolling_window_days", policy.RollingWindowDays),
		zap.String("timezone", policy.DefaultTimezone.String()),
	)
}

// NewCronRunner builds the background sweep from the cron section
func (app *App) NewCronRunner() (*cron.Runner, error) {
	return cron.NewRunner(cron.Config{
		Spec:            app.Config.Cron.Spec,
		MaxConcurrent:   app.Config.Cron.MaxConcurrent,
		BreakerFailures: app.Config.Cron.BreakerFailures,
		BreakerTimeout:  time.Duration(app.Config.Cron.BreakerTimeout) * time.Second,
	}, app.Service, app.Logger)
}

// RunServer starts the sweep and the HTTP API and blocks until SIGINT or
// SIGTERM
func (app *App) RunServer() error {
	api.Version = app.Version
	server := api.New(app.Config, app.Service, app.Store, app.Logger)

	if app.Config.Cron.Enabled {
		runner, err := app.NewCronRunner()
		if err != nil {
			return err
		}
		app.CronRunner = runner
		if err := app.CronRunner.Start(); err != nil {
			app.Logger.Error("Failed to start cron runner", zap.Error(err))
		} else {
			server.SetSweeper(app.CronRunner)
		}
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start()
	}()

	app.Logger.Info("Server started",
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("storage", app.Store.Driver()),
		zap.String("version", app.Version),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-errc:
		app.Logger.Error("Server error", zap.Error(runErr))
	}

	app.Logger.Info("Shutting down...")

	if app.CronRunner != nil {
		app.CronRunner.Stop()
	}

	if err := server.Shutdown(); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}

	return runErr
}
