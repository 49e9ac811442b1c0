// Package publish submits merged artifacts to the external platform and
// drives the resulting jobs to a terminal state.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
	"mediarelay/internal/models"
	"mediarelay/internal/platform"
	"mediarelay/internal/store"
)

// SubmitParams carries one publish request.
type SubmitParams struct {
	OwnerID     string
	SessionID   string
	ArtifactID  string
	ArtifactKey string
	ArtifactURL string
	MediaType   string
	Caption     string
	Settings    map[string]string
}

type Submitter struct {
	jobs      store.JobStore
	tokens    TokenSource
	api       PlatformAPI
	collector *metrics.Collector
	logger    *logging.Logger
	now       func() time.Time
}

func NewSubmitter(jobs store.JobStore, tokens TokenSource, api PlatformAPI, collector *metrics.Collector, logger *logging.Logger) *Submitter {
	return &Submitter{
		jobs:      jobs,
		tokens:    tokens,
		api:       api,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit hands the artifact's URL to the platform. A structured upstream
// rejection creates the job directly in FAILED with lastError set and
// returns it alongside ErrUpstreamSubmission; no retry happens at this
// layer. Token errors propagate unchanged with no submission attempted
// and no job created: ErrReconnectRequired needs user action, anything
// else stays retriable by the caller.
func (s *Submitter) Submit(ctx context.Context, p SubmitParams) (*models.PublishJob, error) {
	token, err := s.tokens.GetValidToken(ctx, p.OwnerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job := models.PublishJob{
		JobID:       uuid.NewString(),
		OwnerID:     p.OwnerID,
		SessionID:   p.SessionID,
		ArtifactID:  p.ArtifactID,
		ArtifactKey: p.ArtifactKey,
		State:       models.JobSubmitted,
		CreatedAt:   now,
	}

	result, err := s.api.Submit(ctx, token, platform.SubmitRequest{
		SourceURL: p.ArtifactURL,
		MediaType: p.MediaType,
		Caption:   p.Caption,
		Settings:  p.Settings,
	})
	if err != nil {
		var apiErr *platform.APIError
		if errors.As(err, &apiErr) {
			// Upstream rejected the publish: persist the job in FAILED so
			// the outcome is durable, then surface the taxonomy error.
			s.collector.IncSubmitRejections()
			job.State = models.JobFailed
			job.LastError = apiErr.ErrCode
			job.TerminalAt = now
			if createErr := s.jobs.Create(ctx, job); createErr != nil {
				s.logger.Error("failed to persist rejected job", "job_id", job.JobID, "error", createErr)
				return nil, createErr
			}
			s.logger.Warn("platform rejected submission", "job_id", job.JobID,
				"owner_id", p.OwnerID, "code", apiErr.ErrCode)
			return &job, errs.Wrap(errs.ErrUpstreamSubmission, "publish.submit", err)
		}
		// Transient failure after the local retry: no job record; the
		// caller re-invokes submit with the same artifact.
		return nil, err
	}

	job.ExternalJobID = result.ExternalJobID
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.collector.IncSubmissions()
	s.logger.Info("publish submitted", "job_id", job.JobID, "owner_id", p.OwnerID,
		"external_job_id", job.ExternalJobID)
	return &job, nil
}
