package models

import "time"

// Publish job states. Transitions are monotonic forward:
// SUBMITTED -> PROCESSING -> {COMPLETE, FAILED}, plus the direct
// SUBMITTED -> FAILED path for submission-time rejection.
const (
	JobSubmitted  = "SUBMITTED"
	JobProcessing = "PROCESSING"
	JobComplete   = "COMPLETE"
	JobFailed     = "FAILED"
)

// StateRank orders job states for monotonic transition guards.
// Higher rank never transitions to lower rank.
func StateRank(state string) int {
	switch state {
	case JobSubmitted:
		return 0
	case JobProcessing:
		return 1
	case JobComplete, JobFailed:
		return 2
	default:
		return -1
	}
}

// TerminalState reports whether state admits no further transition.
func TerminalState(state string) bool {
	return state == JobComplete || state == JobFailed
}

// PublishJob is one submission to the external platform and its lifecycle.
type PublishJob struct {
	JobID         string    `dynamodbav:"job_id" json:"job_id"`
	OwnerID       string    `dynamodbav:"owner_id" json:"owner_id"`
	SessionID     string    `dynamodbav:"session_id,omitempty" json:"session_id,omitempty"`
	ArtifactID    string    `dynamodbav:"artifact_id" json:"artifact_id"`
	ArtifactKey   string    `dynamodbav:"artifact_key" json:"-"`
	ExternalJobID string    `dynamodbav:"external_job_id,omitempty" json:"external_job_id,omitempty"`
	State         string    `dynamodbav:"state" json:"state"`
	Attempts      int       `dynamodbav:"attempts" json:"attempts"`
	LastError     string    `dynamodbav:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"created_at"`
	TerminalAt    time.Time `dynamodbav:"terminal_at,omitempty" json:"terminal_at,omitempty"`
}

// Terminal reports whether the job has reached COMPLETE or FAILED.
func (j *PublishJob) Terminal() bool {
	return TerminalState(j.State)
}

// TerminalEvent is the JSON payload published to the notification queue
// when a job reaches a terminal state.
type TerminalEvent struct {
	JobID      string    `json:"job_id"`
	OwnerID    string    `json:"owner_id"`
	ArtifactID string    `json:"artifact_id"`
	State      string    `json:"state"`
	LastError  string    `json:"last_error,omitempty"`
	TerminalAt time.Time `json:"terminal_at"`
}
