package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"strings"
	"testing"
)

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name      string
		event     string
		body      string
		wantIssue int
	}{{
		name:      "labeled with trigger",
		event:     "issues",
		body:      `{"action":"labeled","label":{"name":"PR-Arena"},"issue":{"number":5},"repository":{"full_name":"acme/widgets"},"sender":{"login":"alice"}}`,
		wantIssue: 5,
	}, {
		name:  "labeled with other label",
		event: "issues",
		body:  `{"action":"labeled","label":{"name":"bug"},"issue":{"number":5},"repository":{"full_name":"acme/widgets"}}`,
	}, {
		name:      "opened with trigger label",
		event:     "issues",
		body:      `{"action":"opened","issue":{"number":8,"labels":[{"name":"bug"},{"name":"pr-arena"}]},"repository":{"full_name":"acme/widgets"}}`,
		wantIssue: 8,
	}, {
		name:  "opened without trigger label",
		event: "issues",
		body:  `{"action":"opened","issue":{"number":8,"labels":[]},"repository":{"full_name":"acme/widgets"}}`,
	}, {
		name:  "pull request labeled",
		event: "issues",
		body:  `{"action":"labeled","label":{"name":"pr-arena"},"issue":{"number":9,"pull_request":{"url":"x"}},"repository":{"full_name":"acme/widgets"}}`,
	}, {
		name:  "other event",
		event: "push",
		body:  `{}`,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(tt.body))
			req.Header.Set("X-GitHub-Event", tt.event)
			req.Header.Set("X-Hub-Signature-256", sign(tt.body, "s3cret"))

			ev, err := ParseWebhook(req, "s3cret", "")
			if err != nil {
				t.Fatalf("ParseWebhook() returned unexpected error: %v", err)
			}
			if tt.wantIssue == 0 {
				if ev != nil {
					t.Errorf("ParseWebhook() = %+v, want nil", ev)
				}
				return
			}
			if ev == nil {
				t.Fatal("ParseWebhook() = nil, want event")
			}
			if ev.IssueNumber != tt.wantIssue || ev.Repo != "acme/widgets" {
				t.Errorf("ParseWebhook() = %+v", ev)
			}
		})
	}
}

func TestParseWebhookBadSignature(t *testing.T) {
	body := `{"action":"labeled"}`
	req := httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", sign(body, "other"))

	if _, err := ParseWebhook(req, "s3cret", ""); err == nil {
		t.Error("ParseWebhook() accepted a request signed with the wrong secret")
	}
}
