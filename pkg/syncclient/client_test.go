package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTriggerStatusCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/registration/cron/check-status" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("x-cron-token"); got != "cron-secret" {
			t.Errorf("unexpected cron token %q", got)
		}
		json.NewEncoder(w).Encode(RunResult{Processed: 5, BecameReady: 2, Switched: 1})
	}))
	defer server.Close()

	client := NewClient(server.URL, "cron-secret")
	result, err := client.TriggerStatusCheck(context.Background())
	if err != nil {
		t.Fatalf("TriggerStatusCheck returned error: %v", err)
	}
	if result.Processed != 5 || result.BecameReady != 2 || result.Switched != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestTriggerStatusCheck_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "wrong-secret")
	if _, err := client.TriggerStatusCheck(context.Background()); err == nil {
		t.Fatal("expected an error for an unauthorized trigger")
	}
}
