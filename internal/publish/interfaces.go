package publish

import (
	"context"

	"mediarelay/internal/platform"
)

// PlatformAPI is the slice of the platform client the publish path uses.
type PlatformAPI interface {
	Submit(ctx context.Context, accessToken string, req platform.SubmitRequest) (*platform.SubmitResult, error)
	Status(ctx context.Context, accessToken, externalJobID string) (*platform.StatusResult, error)
}

// TokenSource yields a valid access token for an owner, refreshing as
// needed. Fails with ErrReconnectRequired when re-authorization is the
// only way forward.
type TokenSource interface {
	GetValidToken(ctx context.Context, ownerID string) (string, error)
}
