// Package cron runs the background schedule sweep: on every tick it keeps
// each patient's rolling window of dose events filled and repairs broken
// schedules.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/medication"
	"github.com/gmsas95/medtrack/internal/metrics"
)

// Config holds cron runner configuration
type Config struct {
	Spec            string        // robfig schedule, e.g. "@every 1h" or "0 * * * *"
	MaxConcurrent   int           // patients repaired in parallel
	BreakerFailures uint32        // consecutive failures that open the breaker
	BreakerTimeout  time.Duration // how long the breaker stays open
	PatientTimeout  time.Duration
}

// Repairer is the part of the medication service the sweep drives
type Repairer interface {
	ListPatientsWithReminders(ctx context.Context) ([]string, error)
	DiagnoseAndRepairSchedules(ctx context.Context, patientID string) (*medication.RepairReport, error)
}

// SweepResult summarizes one pass over all patients
type SweepResult struct {
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Patients     int               `json:"patients"`
	Repaired     int               `json:"repaired"`
	IssuesFound  int               `json:"issues_found"`
	FixesApplied int               `json:"fixes_applied"`
	Failed       int               `json:"failed"`
	Rejected     int               `json:"rejected"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// Runner manages the periodic sweep
type Runner struct {
	config   Config
	repairer Repairer
	logger   *zap.Logger
	cron     *cron.Cron
	breaker  *gobreaker.CircuitBreaker[*medication.RepairReport]
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	mu       sync.RWMutex
	sweepMu  sync.Mutex
	last     *SweepResult
}

// NewRunner creates a new cron runner
func NewRunner(config Config, repairer Repairer, logger *zap.Logger) (*Runner, error) {
	if config.Spec == "" {
		config.Spec = "@every 1h"
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 3
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = time.Minute
	}
	if config.PatientTimeout <= 0 {
		config.PatientTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	r := &Runner{
		config:   config,
		repairer: repairer,
		logger:   logger,
		cron:     c,
	}

	r.breaker = gobreaker.NewCircuitBreaker[*medication.RepairReport](gobreaker.Settings{
		Name:    "schedule-repair",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Repair breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	if _, err := c.AddFunc(config.Spec, r.tick); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", config.Spec, err)
	}

	return r, nil
}

// countsAsFailure reports whether err says something about the health of
// the store. Validation and state errors for one patient do not.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if !apperrors.IsAppError(err) {
		return true
	}
	return apperrors.IsRetryable(err)
}

// Start starts the cron runner. A stopped runner can be started again.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true
	r.cron.Start()
	r.logger.Info("Cron runner started", zap.String("spec", r.config.Spec))

	return nil
}

// Stop stops the cron runner and waits for a sweep in progress
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// LastSweep returns the result of the most recent completed sweep
func (r *Runner) LastSweep() *SweepResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *Runner) tick() {
	r.mu.RLock()
	ctx := r.ctx
	r.mu.RUnlock()
	if ctx == nil {
		return
	}
	if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("Sweep failed", zap.Error(err))
	}
}

// RunOnce sweeps every patient with reminder-enabled medications now.
// Sweeps never overlap; a second caller waits for the first to finish.
func (r *Runner) RunOnce(ctx context.Context) (*SweepResult, error) {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	result := &SweepResult{StartedAt: time.Now(), Errors: map[string]string{}}

	patients, err := r.repairer.ListPatientsWithReminders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	sort.Strings(patients)
	result.Patients = len(patients)

	if len(patients) > 0 {
		r.logger.Info("Sweeping patients", zap.Int("count", len(patients)))
	}

	// Execute repairs with semaphore for concurrency control
	sem := make(chan struct{}, r.config.MaxConcurrent)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

dispatch:
	for _, patientID := range patients {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			report, err := r.repairPatient(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				result.Rejected++
				result.Errors[id] = err.Error()
				metrics.RecordSweep("rejected")
			case err != nil:
				result.Failed++
				result.Errors[id] = err.Error()
				metrics.RecordSweep("failed")
			default:
				result.IssuesFound += report.IssuesFound
				result.FixesApplied += report.FixesApplied
				if report.FixesApplied > 0 {
					result.Repaired++
				}
				metrics.RecordSweep("ok")
			}
		}(patientID)
	}

	wg.Wait()
	result.FinishedAt = time.Now()

	r.mu.Lock()
	r.last = result
	r.mu.Unlock()

	r.logger.Info("Sweep completed",
		zap.Int("patients", result.Patients),
		zap.Int("repaired", result.Repaired),
		zap.Int("fixes", result.FixesApplied),
		zap.Int("failed", result.Failed),
		zap.Int("rejected", result.Rejected),
		zap.Duration("took", result.FinishedAt.Sub(result.StartedAt)),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Runner) repairPatient(ctx context.Context, patientID string) (*medication.RepairReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.PatientTimeout)
	defer cancel()

	report, err := r.breaker.Execute(func() (*medication.RepairReport, error) {
		return r.repairer.DiagnoseAndRepairSchedules(ctx, patientID)
	})
	if err != nil {
		r.logger.Error("Patient repair failed",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return nil, err
	}
	return report, nil
}

// BreakerState reports the repair breaker's state
func (r *Runner) BreakerState() gobreaker.State {
	return r.breaker.State()
}
