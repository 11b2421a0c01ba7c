package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func cronProtected(secret string) (http.Handler, *bool) {
	reached := false
	handler := CronAuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &reached
}

func TestCronAuthMiddleware(t *testing.T) {
	const secret = "cron-secret-123"

	tests := []struct {
		name       string
		prepare    func(r *http.Request)
		wantStatus int
	}{
		{
			name:       "token query parameter",
			prepare:    func(r *http.Request) { r.URL.RawQuery = "token=cron-secret-123" },
			wantStatus: http.StatusOK,
		},
		{
			name:       "x-cron-token header",
			prepare:    func(r *http.Request) { r.Header.Set("x-cron-token", secret) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "x-cron-key header",
			prepare:    func(r *http.Request) { r.Header.Set("x-cron-key", secret) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "bearer authorization header",
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+secret) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "no credential",
			prepare:    func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong token",
			prepare:    func(r *http.Request) { r.Header.Set("x-cron-token", "nope") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "non-bearer authorization is ignored",
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Basic "+secret) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong query parameter with matching header still authorizes",
			prepare: func(r *http.Request) {
				r.URL.RawQuery = "token=wrong"
				r.Header.Set("x-cron-token", secret)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "matching bearer among wrong sources authorizes",
			prepare: func(r *http.Request) {
				r.Header.Set("x-cron-token", "wrong")
				r.Header.Set("x-cron-key", "also-wrong")
				r.Header.Set("Authorization", "Bearer "+secret)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "all sources wrong",
			prepare: func(r *http.Request) {
				r.URL.RawQuery = "token=wrong"
				r.Header.Set("x-cron-token", "also-wrong")
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, reached := cronProtected(secret)
			req := httptest.NewRequest("POST", "/cron/check-status", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if (tt.wantStatus == http.StatusOK) != *reached {
				t.Fatalf("handler reached=%t does not match expected status %d", *reached, tt.wantStatus)
			}
		})
	}
}

func TestCronAuthMiddleware_EmptySecretRejectsEverything(t *testing.T) {
	handler, reached := cronProtected("")
	req := httptest.NewRequest("POST", "/cron/check-status", nil)
	req.Header.Set("x-cron-token", "")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when no secret is configured, got %d", rec.Code)
	}
	if *reached {
		t.Fatal("handler must not run when no secret is configured")
	}
}
