package publish

import (
	"context"
	"errors"
	"time"

	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
	"mediarelay/internal/models"
	"mediarelay/internal/notify"
	"mediarelay/internal/platform"
	"mediarelay/internal/store"
)

type Poller struct {
	jobs        store.JobStore
	tokens      TokenSource
	api         PlatformAPI
	notifier    notify.Notifier
	interval    time.Duration
	maxAttempts int
	collector   *metrics.Collector
	logger      *logging.Logger
	now         func() time.Time
}

func NewPoller(jobs store.JobStore, tokens TokenSource, api PlatformAPI, notifier notify.Notifier, interval time.Duration, maxAttempts int, collector *metrics.Collector, logger *logging.Logger) *Poller {
	return &Poller{
		jobs:        jobs,
		tokens:      tokens,
		api:         api,
		notifier:    notifier,
		interval:    interval,
		maxAttempts: maxAttempts,
		collector:   collector,
		logger:      logger,
		now:         time.Now,
	}
}

// PollUntilTerminal queries the platform at a fixed interval until the
// job reaches COMPLETE or FAILED, at most maxAttempts times. Exhausting
// the budget returns ErrPollTimeout and leaves the persisted job in its
// last observed non-terminal state: timeout is a poller-local condition,
// not a job transition. The reconciler resumes such jobs later.
func (p *Poller) PollUntilTerminal(ctx context.Context, jobID string) (*models.PublishJob, error) {
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return job, nil
	}
	if job.ExternalJobID == "" {
		return nil, errs.Wrap(errs.ErrValidation, "publish.poll",
			errors.New("job has no external handle"))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	attempts := job.Attempts
	budget := p.maxAttempts

	for i := 0; i < budget; i++ {
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}

		attempts++
		p.collector.IncStatusPolls()

		status, err := p.queryStatus(ctx, job)
		if err != nil {
			if errors.Is(err, errs.ErrReconnectRequired) {
				return job, err
			}
			p.logger.Warn("status poll failed", "job_id", jobID, "attempt", attempts, "error", err)
			continue
		}

		newState := mapPlatformStatus(status.Status)
		updated, terminal, err := p.applyStatus(ctx, job, newState, status.FailReason, attempts)
		if err != nil {
			p.logger.Error("failed to persist job state", "job_id", jobID, "state", newState, "error", err)
			continue
		}
		job = updated
		if terminal {
			p.emitTerminal(ctx, job)
			return job, nil
		}
	}

	p.collector.IncPollTimeouts()
	p.logger.Warn("status polling exhausted", "job_id", jobID,
		"attempts", attempts, "last_state", job.State)
	return job, errs.New(errs.ErrPollTimeout, "publish.poll")
}

func (p *Poller) queryStatus(ctx context.Context, job *models.PublishJob) (*platform.StatusResult, error) {
	token, err := p.tokens.GetValidToken(ctx, job.OwnerID)
	if err != nil {
		return nil, err
	}
	return p.api.Status(ctx, token, job.ExternalJobID)
}

// applyStatus persists the observed state. A stale-transition failure
// means another poller got there first; the fresh record wins.
func (p *Poller) applyStatus(ctx context.Context, job *models.PublishJob, newState, failReason string, attempts int) (*models.PublishJob, bool, error) {
	terminal := models.TerminalState(newState)

	if newState == job.State && !terminal {
		job.Attempts = attempts
		return job, false, nil
	}

	var terminalAt time.Time
	lastError := ""
	if terminal {
		terminalAt = p.now()
		if newState == models.JobFailed {
			lastError = failReason
		}
	}

	err := p.jobs.UpdateState(ctx, job.JobID, newState, attempts, lastError, terminalAt)
	if errors.Is(err, store.ErrStaleTransition) {
		fresh, getErr := p.jobs.Get(ctx, job.JobID)
		if getErr != nil {
			return job, false, getErr
		}
		return fresh, fresh.Terminal(), nil
	}
	if err != nil {
		return job, false, err
	}

	job.State = newState
	job.Attempts = attempts
	job.LastError = lastError
	job.TerminalAt = terminalAt
	return job, terminal, nil
}

func (p *Poller) emitTerminal(ctx context.Context, job *models.PublishJob) {
	p.logger.Info("publish job terminal", "job_id", job.JobID,
		"state", job.State, "attempts", job.Attempts)
	if p.notifier != nil {
		p.notifier.JobTerminal(ctx, models.TerminalEvent{
			JobID:      job.JobID,
			OwnerID:    job.OwnerID,
			ArtifactID: job.ArtifactID,
			State:      job.State,
			LastError:  job.LastError,
			TerminalAt: job.TerminalAt,
		})
	}
}

// mapPlatformStatus translates the platform's status vocabulary into the
// internal state machine. Unknown values count as still processing.
func mapPlatformStatus(status string) string {
	switch status {
	case platform.StatusPublished:
		return models.JobComplete
	case platform.StatusFailed:
		return models.JobFailed
	case platform.StatusProcessing, platform.StatusDownloaded:
		return models.JobProcessing
	default:
		return models.JobProcessing
	}
}
