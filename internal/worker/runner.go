// Package worker runs the periodic sweeps that keep payments and
// notifications moving without an external scheduler: the notification queue,
// expired reservation cleanup and queued payment actions. It is decoupled
// from the HTTP layer; the internal endpoints call the same service methods
// directly.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nyashahama/dinnerhelp-backend/internal/cache"
	"github.com/nyashahama/dinnerhelp-backend/internal/metrics"
)

// ─── SWEEP ────────────────────────────────────────────────────────────────────

// Sweep is one named periodic job.
type Sweep struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// ─── RUNNER ───────────────────────────────────────────────────────────────────

// RunnerConfig holds tuning parameters for the Runner. Zero fields take the
// defaults from DefaultRunnerConfig.
type RunnerConfig struct {
	// SweepTimeout is the per-run context deadline. Default: 2 minutes.
	SweepTimeout time.Duration

	// RunOnStart runs every sweep once immediately instead of waiting for
	// the first tick. Default: true.
	RunOnStart *bool
}

// DefaultRunnerConfig returns safe production defaults.
func DefaultRunnerConfig() RunnerConfig {
	on := true
	return RunnerConfig{
		SweepTimeout: 2 * time.Minute,
		RunOnStart:   &on,
	}
}

// Runner ticks each sweep on its own interval. When several replicas share a
// Redis, a run is claimed under "sweep:<name>" first so only one replica
// executes each tick.
type Runner struct {
	sweeps []Sweep
	lock   cache.Deduper
	cfg    RunnerConfig
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewRunner constructs a Runner. A nil lock runs every tick locally. Call
// Start to begin processing.
func NewRunner(sweeps []Sweep, lock cache.Deduper, cfg RunnerConfig, logger *slog.Logger) *Runner {
	def := DefaultRunnerConfig()
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = def.SweepTimeout
	}
	if cfg.RunOnStart == nil {
		cfg.RunOnStart = def.RunOnStart
	}
	if lock == nil {
		lock = cache.Nop{}
	}
	return &Runner{
		sweeps: sweeps,
		lock:   lock,
		cfg:    cfg,
		logger: logger.With("component", "worker"),
	}
}

// Start launches one goroutine per sweep. It blocks until ctx is cancelled
// and every in-flight run has returned. Call it in a goroutine from main:
//
//	go runner.Start(ctx)
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("worker: starting", "sweeps", len(r.sweeps))

	for _, s := range r.sweeps {
		if s.Interval <= 0 || s.Run == nil {
			r.logger.Warn("worker: sweep disabled", "sweep", s.Name)
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, s)
	}

	<-ctx.Done()
	r.logger.Info("worker: shutting down, waiting for sweeps")
	r.wg.Wait()
	r.logger.Info("worker: stopped")
}

func (r *Runner) loop(ctx context.Context, s Sweep) {
	defer r.wg.Done()
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	if *r.cfg.RunOnStart {
		r.RunOnce(ctx, s)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx, s)
		}
	}
}

func lockTTL(interval time.Duration) time.Duration {
	return max(interval-time.Second, time.Second)
}

// RunOnce executes one run of s under the sweep timeout. It reports whether
// the sweep ran and succeeded; a run skipped because another replica holds
// the tick returns false without error.
func (r *Runner) RunOnce(ctx context.Context, s Sweep) (ran bool, err error) {
	log := r.logger.With("sweep", s.Name)

	// The claim expires just before the next tick so a crashed replica never
	// blocks the sweep for longer than one interval. A zero TTL would never
	// expire.
	claimed, lockErr := r.lock.Claim(ctx, "sweep:"+s.Name, lockTTL(s.Interval))
	if lockErr != nil {
		log.Warn("worker: sweep lock unavailable, running locally", "error", lockErr)
		claimed = true
	}
	if !claimed {
		metrics.SweepRuns.WithLabelValues(s.Name, metrics.OutcomeSkipped).Inc()
		log.Debug("worker: sweep claimed by another replica")
		return false, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.SweepTimeout)
	defer cancel()

	start := time.Now()
	err = s.Run(runCtx)
	metrics.SweepRuns.WithLabelValues(s.Name, metrics.Outcome(err)).Inc()
	if err != nil {
		log.Error("worker: sweep failed", "duration", time.Since(start), "error", err)
		return true, err
	}
	log.Debug("worker: sweep completed", "duration", time.Since(start))
	return true, nil
}
