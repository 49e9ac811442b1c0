// Package platform talks to the external social platform's HTTP API:
// token refresh, submit-from-URL, and status queries. Transient network
// failures are retried once locally; structured rejections surface
// immediately with their error code.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediarelay/internal/retries"
)

// DefaultTimeout is the per-request timeout.
const DefaultTimeout = 10 * time.Second

// Platform job status vocabulary, as returned by the status endpoint.
const (
	StatusProcessing = "PROCESSING"
	StatusDownloaded = "DOWNLOADED"
	StatusPublished  = "PUBLISH_COMPLETE"
	StatusFailed     = "FAILED"
)

// Config configures the platform client from a platform profile.
type Config struct {
	TokenURL     string
	SubmitURL    string
	StatusURL    string
	ClientKey    string
	ClientSecret string
	Timeout      time.Duration
}

// APIError is a structured rejection from the platform. Code is the HTTP
// status, ErrCode the platform's error vocabulary.
type APIError struct {
	Code        int    `json:"-"`
	ErrCode     string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.ErrCode != "" {
		return fmt.Sprintf("platform error %d: %s: %s", e.Code, e.ErrCode, e.Description)
	}
	return fmt.Sprintf("platform error %d", e.Code)
}

// AuthRejection reports whether the error means the credential itself is
// no longer acceptable, as opposed to a transient or request problem.
func (e *APIError) AuthRejection() bool {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return true
	}
	switch e.ErrCode {
	case "invalid_grant", "invalid_token", "access_token_invalid", "expired_token":
		return true
	}
	return false
}

// RefreshResult is the token-refresh response. RefreshToken is empty when
// the platform did not rotate it.
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// SubmitRequest is the submit-from-URL payload.
type SubmitRequest struct {
	SourceURL string            `json:"source_url"`
	MediaType string            `json:"media_type"`
	Caption   string            `json:"caption,omitempty"`
	Settings  map[string]string `json:"settings,omitempty"`
}

// SubmitResult carries the platform's job handle.
type SubmitResult struct {
	ExternalJobID string `json:"publish_id"`
}

// StatusResult is one status-poll response.
type StatusResult struct {
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
}

type Client struct {
	config Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	form := url.Values{}
	form.Set("client_key", c.config.ClientKey)
	form.Set("client_secret", c.config.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	var result RefreshResult
	err := c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.do(req, &result)
	})
	if err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, errors.New("platform returned empty access token")
	}
	return &result, nil
}

// Submit asks the platform to pull the media from req.SourceURL.
func (c *Client) Submit(ctx context.Context, accessToken string, submitReq SubmitRequest) (*SubmitResult, error) {
	body, err := json.Marshal(submitReq)
	if err != nil {
		return nil, fmt.Errorf("marshal submit request: %w", err)
	}

	var result SubmitResult
	err = c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.SubmitURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+accessToken)
		return c.do(req, &result)
	})
	if err != nil {
		return nil, err
	}
	if result.ExternalJobID == "" {
		return nil, errors.New("platform returned empty publish id")
	}
	return &result, nil
}

// Status queries one publish job.
func (c *Client) Status(ctx context.Context, accessToken, externalJobID string) (*StatusResult, error) {
	body, err := json.Marshal(map[string]string{"publish_id": externalJobID})
	if err != nil {
		return nil, fmt.Errorf("marshal status request: %w", err)
	}

	var result StatusResult
	err = c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.StatusURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+accessToken)
		return c.do(req, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// doWithRetry retries transient network failures once. Structured
// rejections (APIError) are never retried here.
func (c *Client) doWithRetry(ctx context.Context, fn func() error) error {
	return retries.Retry(
		ctx,
		retries.TransientAttempts,
		500*time.Millisecond,
		fn,
		func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return false
			}
			return retries.IsTransientNetError(err)
		},
	)
}

// do performs one request, decoding a 2xx body into out and any other
// response into an APIError.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Code: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr)
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
