package generation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultSweepInterval = 10 * time.Second
	defaultSweepMinAge   = 15 * time.Second
	defaultSweepBatch    = 50
	sweepTimeout         = 30 * time.Second
)

// SweeperConfig controls the pending job sweep
type SweeperConfig struct {
	Interval time.Duration
	MinAge   time.Duration
	Batch    int
}

// Sweeper reconciles pending jobs nobody is polling for, so failed tasks
// are refunded even when the client went away.
type Sweeper struct {
	svc    *Service
	cfg    SweeperConfig
	now    func() time.Time
	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper over svc
func NewSweeper(svc *Service, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.MinAge < 0 {
		cfg.MinAge = defaultSweepMinAge
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultSweepBatch
	}
	return &Sweeper{
		svc:    svc,
		cfg:    cfg,
		now:    time.Now,
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Start begins the background sweep
func (w *Sweeper) Start() {
	log.Info().Dur("interval", w.cfg.Interval).Msg("Starting generation sweeper...")
	w.wg.Add(1)
	go w.loop()
}

// Stop stops the sweep and waits for the current pass
func (w *Sweeper) Stop() {
	log.Info().Msg("Stopping generation sweeper...")
	close(w.stopCh)
	w.wg.Wait()
}

// Wake schedules an early pass. It never blocks.
func (w *Sweeper) Wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *Sweeper) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.pass()
		case <-w.wakeCh:
			w.pass()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Sweeper) pass() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := w.SweepOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Generation sweep failed")
	}
}

// SweepOutcome counts what one sweep pass did
type SweepOutcome struct {
	Checked   int
	Succeeded int
	Failed    int
	Refunded  int
	Errors    int
}

// SweepOnce reconciles one batch of pending jobs older than MinAge.
func (w *Sweeper) SweepOnce(ctx context.Context) (SweepOutcome, error) {
	var out SweepOutcome

	jobs, err := w.svc.jobs.ListPending(ctx, w.now().Add(-w.cfg.MinAge), w.cfg.Batch)
	if err != nil {
		return out, err
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		out.Checked++

		jobID := job.ID
		result, err := w.svc.Reconcile(ctx, ReconcileRequest{
			UserID: job.UserID,
			TaskID: job.RemoteTaskID,
			JobID:  &jobID,
		})
		if err != nil {
			out.Errors++
			log.Warn().Err(err).
				Str("job_id", job.ID.String()).
				Str("task_id", job.RemoteTaskID).
				Msg("Failed to reconcile pending job")
			continue
		}

		switch result.Status {
		case TaskSucceeded:
			out.Succeeded++
		case TaskFailed:
			out.Failed++
			if result.CreditsRefunded {
				out.Refunded++
			}
		}
	}

	if out.Succeeded+out.Failed > 0 {
		log.Info().
			Int("checked", out.Checked).
			Int("succeeded", out.Succeeded).
			Int("failed", out.Failed).
			Int("refunded", out.Refunded).
			Msg("Settled pending generation jobs")
	}
	return out, nil
}
