package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestClient(tokenURL, submitURL, statusURL string) *Client {
	return NewClient(Config{
		TokenURL:     tokenURL,
		SubmitURL:    submitURL,
		StatusURL:    statusURL,
		ClientKey:    "key-1",
		ClientSecret: "secret-1",
	})
}

func TestRefreshToken_SendsFormAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh-1" {
			t.Errorf("refresh_token = %q", got)
		}
		if got := r.PostForm.Get("client_key"); got != "key-1" {
			t.Errorf("client_key = %q", got)
		}
		json.NewEncoder(w).Encode(RefreshResult{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresIn:    86400,
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, "", "")
	result, err := client.RefreshToken(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("RefreshToken error: %v", err)
	}
	if result.AccessToken != "access-2" || result.RefreshToken != "refresh-2" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRefreshToken_InvalidGrantIsAuthRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "refresh token revoked",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, "", "")
	_, err := client.RefreshToken(context.Background(), "refresh-dead")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.ErrCode != "invalid_grant" {
		t.Errorf("ErrCode = %q", apiErr.ErrCode)
	}
	if !apiErr.AuthRejection() {
		t.Error("invalid_grant must be an auth rejection")
	}
}

func TestRefreshToken_EmptyAccessTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RefreshResult{ExpiresIn: 3600})
	}))
	defer server.Close()

	client := newTestClient(server.URL, "", "")
	if _, err := client.RefreshToken(context.Background(), "refresh-1"); err == nil {
		t.Error("expected error for empty access token")
	}
}

func TestSubmit_SendsBearerAndPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("Authorization = %q", got)
		}
		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.SourceURL != "https://cdn.example.com/a.mp4" || req.MediaType != "video" {
			t.Errorf("unexpected payload: %+v", req)
		}
		json.NewEncoder(w).Encode(SubmitResult{ExternalJobID: "pub-123"})
	}))
	defer server.Close()

	client := newTestClient("", server.URL, "")
	result, err := client.Submit(context.Background(), "access-1", SubmitRequest{
		SourceURL: "https://cdn.example.com/a.mp4",
		MediaType: "video",
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if result.ExternalJobID != "pub-123" {
		t.Errorf("ExternalJobID = %q", result.ExternalJobID)
	}
}

func TestSubmit_RejectionNotRetried(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "unaudited_client_can_only_post_to_private_accounts",
			"error_description": "client not approved for public posting",
		})
	}))
	defer server.Close()

	client := newTestClient("", server.URL, "")
	_, err := client.Submit(context.Background(), "access-1", SubmitRequest{
		SourceURL: "https://cdn.example.com/a.mp4",
		MediaType: "video",
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.AuthRejection() {
		t.Error("a policy rejection is not an auth rejection")
	}
	if calls.Load() != 1 {
		t.Errorf("structured rejection retried: %d calls", calls.Load())
	}
}

func TestStatus_DecodesFailReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req["publish_id"] != "pub-123" {
			t.Errorf("publish_id = %q", req["publish_id"])
		}
		json.NewEncoder(w).Encode(StatusResult{Status: StatusFailed, FailReason: "video_too_long"})
	}))
	defer server.Close()

	client := newTestClient("", "", server.URL)
	result, err := client.Status(context.Background(), "access-1", "pub-123")
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if result.Status != StatusFailed || result.FailReason != "video_too_long" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestAPIError_AuthRejection(t *testing.T) {
	tests := []struct {
		name string
		err  APIError
		want bool
	}{
		{"401", APIError{Code: http.StatusUnauthorized}, true},
		{"403", APIError{Code: http.StatusForbidden}, true},
		{"expired token code", APIError{Code: 400, ErrCode: "expired_token"}, true},
		{"rate limited", APIError{Code: http.StatusTooManyRequests, ErrCode: "rate_limit_exceeded"}, false},
		{"server error", APIError{Code: http.StatusInternalServerError}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.AuthRejection(); got != tt.want {
				t.Errorf("AuthRejection() = %t, expected %t", got, tt.want)
			}
		})
	}
}
