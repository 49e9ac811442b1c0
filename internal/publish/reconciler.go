package publish

import (
	"context"
	"errors"
	"sync"
	"time"

	"mediarelay/internal/cleanup"
	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
	"mediarelay/internal/s3"
	"mediarelay/internal/store"
)

// Reconciler is the scheduled sweep that resolves what the bounded
// poller leaves behind: non-terminal jobs older than a threshold get
// their polling resumed, and expired upload sessions get their staged
// chunks reclaimed.
type Reconciler struct {
	jobs      store.JobStore
	sessions  store.SessionStore
	poller    *Poller
	cleaner   *cleanup.Coordinator
	after     time.Duration
	interval  time.Duration
	collector *metrics.Collector
	logger    *logging.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReconciler(parent context.Context, jobs store.JobStore, sessions store.SessionStore, poller *Poller, cleaner *cleanup.Coordinator, after, interval time.Duration, collector *metrics.Collector, logger *logging.Logger) *Reconciler {
	ctx, cancel := context.WithCancel(parent)
	return &Reconciler{
		jobs:      jobs,
		sessions:  sessions,
		poller:    poller,
		cleaner:   cleaner,
		after:     after,
		interval:  interval,
		collector: collector,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-r.ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the loop and waits for an in-flight sweep to finish.
func (r *Reconciler) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

func (r *Reconciler) sweep() {
	r.sweepJobs()
	r.sweepSessions()
}

func (r *Reconciler) sweepJobs() {
	cutoff := r.now().Add(-r.after)
	jobs, err := r.jobs.ListNonTerminalBefore(r.ctx, cutoff)
	if err != nil {
		r.logger.Error("reconciler job scan failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	r.logger.Info("reconciling stale jobs", "count", len(jobs))
	for _, job := range jobs {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		resolved, err := r.poller.PollUntilTerminal(r.ctx, job.JobID)
		if errors.Is(err, errs.ErrPollTimeout) {
			// Still not terminal; the next sweep picks it up again.
			continue
		}
		if err != nil {
			r.logger.Error("reconcile poll failed", "job_id", job.JobID, "error", err)
			continue
		}
		if resolved.Terminal() {
			r.cleaner.Run(r.ctx, []string{resolved.ArtifactKey})
		}
	}
}

func (r *Reconciler) sweepSessions() {
	sessions, err := r.sessions.ListExpired(r.ctx, r.now())
	if err != nil {
		r.logger.Error("reconciler session scan failed", "error", err)
		return
	}

	for _, session := range sessions {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		result := r.cleaner.Run(r.ctx, []string{s3.StagingPrefix(session.SessionID)})
		if result.Err() != nil {
			// Leave the record so the next sweep retries the chunks.
			continue
		}
		if err := r.sessions.Delete(r.ctx, session.SessionID); err != nil {
			r.logger.Error("failed to delete expired session", "session_id", session.SessionID, "error", err)
			continue
		}
		r.collector.IncSessionsExpired()
		r.logger.Info("expired session reclaimed", "session_id", session.SessionID)
	}
}
