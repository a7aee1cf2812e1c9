package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gh-token" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Secrets []string `json:"secrets"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if diff := cmp.Diff([]string{LLMAPIKey, StoreConfig}, req.Secrets); diff != "" {
			t.Errorf("requested secrets mismatch (-want +got):\n%s", diff)
		}
		_, _ = w.Write([]byte(`{"success":true,"secrets":{"LLM_API_KEY":"sk-1","FIRE_CONFIG":{"project_id":"p"}}}`))
	}))
	defer srv.Close()

	c := New(context.Background(), srv.URL, "gh-token", time.Second)
	got, err := c.Fetch(context.Background(), LLMAPIKey, StoreConfig)
	if err != nil {
		t.Fatalf("Fetch() returned unexpected error: %v", err)
	}
	want := map[string]string{LLMAPIKey: "sk-1", StoreConfig: `{"project_id":"p"}`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Fetch() mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		timeout time.Duration
		delay   time.Duration
	}{
		{name: "non-200", status: http.StatusForbidden, body: `denied`},
		{name: "invalid json", status: http.StatusOK, body: `not json`},
		{name: "reported failure", status: http.StatusOK, body: `{"success":false,"message":"bad token"}`},
		{name: "timeout", status: http.StatusOK, body: `{"success":true}`, timeout: 50 * time.Millisecond, delay: 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.delay > 0 {
					select {
					case <-time.After(tt.delay):
					case <-r.Context().Done():
						return
					}
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(context.Background(), srv.URL, "tok", tt.timeout)
			_, err := c.Fetch(context.Background(), LLMModels)
			var rce *RemoteConfigError
			if !errors.As(err, &rce) {
				t.Fatalf("Fetch() error = %v, want *RemoteConfigError", err)
			}
		})
	}
}

func TestAPIKeyMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"secrets":{}}`))
	}))
	defer srv.Close()

	_, err := New(context.Background(), srv.URL, "tok", 0).APIKey(context.Background())
	var rce *RemoteConfigError
	if !errors.As(err, &rce) {
		t.Fatalf("APIKey() error = %v, want *RemoteConfigError", err)
	}
}
