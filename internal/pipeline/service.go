// Package pipeline orchestrates the full publish flow: merge the
// session, submit the artifact's URL to the platform, drive the job to a
// terminal state with a server-owned poller, then clean up staging and
// transient artifacts regardless of outcome.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"mediarelay/internal/cleanup"
	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/merge"
	"mediarelay/internal/models"
	"mediarelay/internal/publish"
	"mediarelay/internal/s3"
	"mediarelay/internal/store"
)

// PublishParams is what the caller supplies to finalize and publish.
type PublishParams struct {
	OwnerID   string            `json:"-"`
	MediaType string            `json:"media_type"`
	Caption   string            `json:"caption,omitempty"`
	Settings  map[string]string `json:"settings,omitempty"`
}

type Service struct {
	merger     *merge.Assembler
	submitter  *publish.Submitter
	poller     *publish.Poller
	cleaner    *cleanup.Coordinator
	jobs       store.JobStore
	pollBudget time.Duration
	logger     *logging.Logger

	wg sync.WaitGroup
}

func NewService(merger *merge.Assembler, submitter *publish.Submitter, poller *publish.Poller, cleaner *cleanup.Coordinator, jobs store.JobStore, pollBudget time.Duration, logger *logging.Logger) *Service {
	return &Service{
		merger:     merger,
		submitter:  submitter,
		poller:     poller,
		cleaner:    cleaner,
		jobs:       jobs,
		pollBudget: pollBudget,
		logger:     logger,
	}
}

// FinalizeAndPublish merges the session and submits the artifact. The
// returned job is in SUBMITTED (polling continues server-side) or FAILED
// (upstream rejection, artifact already queued for cleanup).
//
// ErrReconnectRequired leaves the artifact in place: re-invoking after
// the user reconnects submits the same artifact without re-merging.
func (s *Service) FinalizeAndPublish(ctx context.Context, sessionID string, p PublishParams) (*models.PublishJob, error) {
	artifact, err := s.merger.MergeSession(ctx, sessionID, p.MediaType)
	if err != nil {
		return nil, err
	}

	job, err := s.submitter.Submit(ctx, publish.SubmitParams{
		OwnerID:     p.OwnerID,
		SessionID:   sessionID,
		ArtifactID:  artifact.ArtifactID,
		ArtifactKey: artifact.StorageKey,
		ArtifactURL: artifact.PublicURL,
		MediaType:   p.MediaType,
		Caption:     p.Caption,
		Settings:    p.Settings,
	})
	if err != nil {
		if errors.Is(err, errs.ErrUpstreamSubmission) && job != nil {
			// Submission-time rejection still cleans up the uploaded
			// artifact; the FAILED job record is the durable outcome.
			s.cleaner.Run(ctx, []string{artifact.StorageKey, s3.StagingPrefix(sessionID)})
			return job, err
		}
		return nil, err
	}

	s.spawnPoll(job.JobID, artifact.StorageKey, sessionID)
	return job, nil
}

// spawnPoll drives the job in the background, detached from the request
// that triggered it: the client disconnecting must not stop polling.
func (s *Service) spawnPoll(jobID, artifactKey, sessionID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.pollBudget)
		defer cancel()

		job, err := s.poller.PollUntilTerminal(ctx, jobID)
		if errors.Is(err, errs.ErrPollTimeout) {
			// Job stays in its last observed state; the reconciler sweep
			// resumes it later.
			return
		}
		if err != nil {
			s.logger.Error("background poll failed", "job_id", jobID, "error", err)
			return
		}
		if job.Terminal() {
			s.cleaner.Run(ctx, []string{artifactKey, s3.StagingPrefix(sessionID)})
		}
	}()
}

// JobStatus returns the persisted job record.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*models.PublishJob, error) {
	return s.jobs.Get(ctx, jobID)
}

// CleanupJob retries cleanup for a job's transient storage: the merged
// artifact and, when the job records its originating session, the staged
// chunks a best-effort pass may have left behind. Only valid once the
// job is terminal.
func (s *Service) CleanupJob(ctx context.Context, jobID string) (*cleanup.Result, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Terminal() {
		return nil, errs.Wrap(errs.ErrValidation, "pipeline.cleanup",
			errors.New("job is not terminal"))
	}

	refs := []string{job.ArtifactKey}
	if job.SessionID != "" {
		refs = append(refs, s3.StagingPrefix(job.SessionID))
	}
	return s.cleaner.Run(ctx, refs), nil
}

// Wait blocks until detached background polls finish. Called on shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}
