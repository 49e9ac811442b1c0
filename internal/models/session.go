package models

import "time"

// Merge states for an upload session. Transitions are one-way:
// pending -> merging -> consumed, with merging -> pending allowed only
// when a merge attempt fails and releases the flag.
const (
	MergePending  = "pending"
	MergeMerging  = "merging"
	MergeConsumed = "consumed"
)

// UploadSession tracks one resumable upload until it is merged or expires.
type UploadSession struct {
	SessionID       string           `dynamodbav:"session_id" json:"session_id"`
	OwnerID         string           `dynamodbav:"owner_id" json:"owner_id"`
	TotalChunks     int              `dynamodbav:"total_chunks" json:"total_chunks"`
	ReceivedIndices []int            `dynamodbav:"received_indices,numberset,omitempty" json:"received_indices,omitempty"`
	ChunkSizes      map[string]int64 `dynamodbav:"chunk_sizes" json:"chunk_sizes"`
	MergeState      string           `dynamodbav:"merge_state" json:"merge_state"`
	ArtifactID      string           `dynamodbav:"artifact_id,omitempty" json:"artifact_id,omitempty"`
	CreatedAt       time.Time        `dynamodbav:"created_at" json:"created_at"`
	ExpiresAt       time.Time        `dynamodbav:"expires_at" json:"expires_at"`
}

// Complete reports whether every chunk index 0..TotalChunks-1 has arrived.
// ReceivedIndices is a set, so a count comparison is sufficient.
func (s *UploadSession) Complete() bool {
	return s.TotalChunks > 0 && len(s.ReceivedIndices) == s.TotalChunks
}

// Expired reports whether the session is past its deadline.
func (s *UploadSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// TotalSize sums the recorded chunk sizes.
func (s *UploadSession) TotalSize() int64 {
	var total int64
	for _, size := range s.ChunkSizes {
		total += size
	}
	return total
}
