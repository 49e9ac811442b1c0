// Package credential owns the per-user token lifecycle for the external
// platform: read-through caching, proactive refresh inside a buffer
// window, refresh-token rotation, and a single-flight guard so concurrent
// callers never issue competing refreshes for the same owner.
package credential

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
	"mediarelay/internal/models"
	"mediarelay/internal/platform"
)

// PlatformAPI is the slice of the platform client the manager needs.
type PlatformAPI interface {
	RefreshToken(ctx context.Context, refreshToken string) (*platform.RefreshResult, error)
}

// Store is the credential persistence collaborator.
type Store interface {
	Get(ctx context.Context, ownerID, platform string) (*models.Credential, error)
	Put(ctx context.Context, cred models.Credential) error
}

type Manager struct {
	store           Store
	cache           Cache
	api             PlatformAPI
	platform        string
	refreshBuffer   time.Duration
	refreshTokenTTL time.Duration
	group           singleflight.Group
	now             func() time.Time
	collector       *metrics.Collector
	logger          *logging.Logger
}

func NewManager(store Store, cache Cache, api PlatformAPI, platformName string, refreshBuffer, refreshTokenTTL time.Duration, collector *metrics.Collector, logger *logging.Logger) *Manager {
	return &Manager{
		store:           store,
		cache:           cache,
		api:             api,
		platform:        platformName,
		refreshBuffer:   refreshBuffer,
		refreshTokenTTL: refreshTokenTTL,
		now:             time.Now,
		collector:       collector,
		logger:          logger,
	}
}

// GetValidToken returns an access token with at least refreshBuffer of
// remaining lifetime, refreshing first when needed. A refresh token past
// its policy lifetime fails with ErrReconnectRequired without any
// network call.
func (m *Manager) GetValidToken(ctx context.Context, ownerID string) (string, error) {
	now := m.now()

	cred, err := m.load(ctx, ownerID)
	if err != nil {
		return "", err
	}

	if cred.AccessValid(now, m.refreshBuffer) {
		return cred.AccessToken, nil
	}

	refreshed, err := m.refresh(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

func (m *Manager) load(ctx context.Context, ownerID string) (*models.Credential, error) {
	if m.cache != nil {
		cred, err := m.cache.Get(ctx, ownerID, m.platform)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn("credential cache read failed", "owner_id", ownerID, "error", err)
		}
	}

	cred, err := m.store.Get(ctx, ownerID, m.platform)
	if errors.Is(err, errs.ErrCredentialNotFound) {
		return nil, errs.Wrap(errs.ErrReconnectRequired, "credential.load", err)
	}
	if err != nil {
		return nil, err
	}

	m.applyDerivedExpiry(cred)
	m.cacheCredential(ctx, cred)
	return cred, nil
}

// refresh collapses concurrent refreshes for one owner into a single
// upstream call. A second in-flight refresh could invalidate the rotated
// refresh token the first call just received. The flight runs on a
// detached context: the leading caller cancelling mid-refresh must not
// fail every waiter sharing the result.
func (m *Manager) refresh(ctx context.Context, ownerID string) (*models.Credential, error) {
	refreshCtx := context.WithoutCancel(ctx)
	v, err, _ := m.group.Do(m.platform+":"+ownerID, func() (any, error) {
		return m.doRefresh(refreshCtx, ownerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Credential), nil
}

func (m *Manager) doRefresh(ctx context.Context, ownerID string) (*models.Credential, error) {
	// Re-read the store inside the flight: a waiter that queued behind a
	// finished refresh must see the rotated token, not its stale copy.
	cred, err := m.store.Get(ctx, ownerID, m.platform)
	if errors.Is(err, errs.ErrCredentialNotFound) {
		return nil, errs.Wrap(errs.ErrReconnectRequired, "credential.refresh", err)
	}
	if err != nil {
		return nil, err
	}
	m.applyDerivedExpiry(cred)

	now := m.now()
	if cred.AccessValid(now, m.refreshBuffer) {
		return cred, nil
	}

	if !cred.RefreshUsable(now) {
		m.logger.Info("refresh token past policy lifetime", "owner_id", ownerID, "platform", m.platform)
		return nil, errs.New(errs.ErrReconnectRequired, "credential.refresh")
	}

	result, err := m.api.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		m.collector.IncRefreshFailures()
		var apiErr *platform.APIError
		if errors.As(err, &apiErr) && apiErr.AuthRejection() {
			m.logger.Warn("platform rejected refresh token", "owner_id", ownerID, "code", apiErr.ErrCode)
			return nil, errs.Wrap(errs.ErrReconnectRequired, "credential.refresh", err)
		}
		// Transient: caller may retry.
		return nil, err
	}

	updated := *cred
	updated.AccessToken = result.AccessToken
	updated.AccessExpiry = now.Add(time.Duration(result.ExpiresIn) * time.Second)
	updated.UpdatedAt = now
	if result.RefreshToken != "" {
		// Platform rotated the refresh token; the old one is dead.
		updated.RefreshToken = result.RefreshToken
		updated.RefreshExpiry = now.Add(m.refreshTokenTTL)
	}

	if err := m.store.Put(ctx, updated); err != nil {
		return nil, err
	}
	m.cacheCredential(ctx, &updated)

	m.collector.IncRefreshes()
	m.logger.Info("credential refreshed", "owner_id", ownerID, "platform", m.platform,
		"access_expiry", updated.AccessExpiry, "rotated", result.RefreshToken != "")
	return &updated, nil
}

// applyDerivedExpiry fills in the refresh expiry when the platform never
// reported one: creation time plus the policy duration.
func (m *Manager) applyDerivedExpiry(cred *models.Credential) {
	if cred.RefreshExpiry.IsZero() {
		cred.RefreshExpiry = cred.CreatedAt.Add(m.refreshTokenTTL)
	}
}

// cacheCredential writes through with a TTL bounded by the access expiry.
func (m *Manager) cacheCredential(ctx context.Context, cred *models.Credential) {
	if m.cache == nil {
		return
	}
	ttl := time.Until(cred.AccessExpiry)
	if err := m.cache.Set(ctx, cred, ttl); err != nil {
		m.logger.Warn("credential cache write failed", "owner_id", cred.OwnerID, "error", err)
	}
}
