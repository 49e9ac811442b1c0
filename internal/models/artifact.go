package models

import "time"

// Artifact is the merged, retrievable result of a completed session.
// PublicURL is a presigned GET that the external platform pulls from.
type Artifact struct {
	ArtifactID  string    `dynamodbav:"artifact_id" json:"artifact_id"`
	OwnerID     string    `dynamodbav:"owner_id" json:"owner_id"`
	SessionID   string    `dynamodbav:"session_id" json:"session_id"`
	StorageKey  string    `dynamodbav:"storage_key" json:"-"`
	PublicURL   string    `dynamodbav:"public_url" json:"public_url"`
	SizeBytes   int64     `dynamodbav:"size_bytes" json:"size_bytes"`
	ContentType string    `dynamodbav:"content_type" json:"content_type"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"created_at"`
}
