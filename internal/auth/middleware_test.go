package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestAPIKeyMiddleware_NoKeyConfigured(t *testing.T) {
	next, called := testHandler()
	handler := APIKeyMiddleware(&Config{APIKey: ""})(next)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !*called {
		t.Error("handler not reached with auth disabled")
	}
}

func TestAPIKeyMiddleware_BearerToken(t *testing.T) {
	next, called := testHandler()
	handler := APIKeyMiddleware(&Config{APIKey: "secret-key"})(next)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !*called {
		t.Error("valid bearer token rejected")
	}
}

func TestAPIKeyMiddleware_APIKeyHeader(t *testing.T) {
	next, called := testHandler()
	handler := APIKeyMiddleware(&Config{APIKey: "secret-key"})(next)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !*called {
		t.Error("valid X-API-Key rejected")
	}
}

func TestAPIKeyMiddleware_RejectsBadKey(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"missing credentials", func(r *http.Request) {}},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer wrong") }},
		{"wrong header key", func(r *http.Request) { r.Header.Set("X-API-Key", "wrong") }},
		{"malformed authorization", func(r *http.Request) { r.Header.Set("Authorization", "secret-key") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, called := testHandler()
			handler := APIKeyMiddleware(&Config{APIKey: "secret-key"})(next)

			req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if *called {
				t.Error("handler reached without valid credentials")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, expected 401", rec.Code)
			}
		})
	}
}
