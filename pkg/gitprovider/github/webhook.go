package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/neulab/pr-arena/pkg/gitprovider"
)

// DefaultTriggerLabel is the issue label that requests an arena run.
const DefaultTriggerLabel = "pr-arena"

// ParseWebhook parses a GitHub "issues" webhook into a WebhookEvent.
// If secret is non-empty, the request signature is verified.
// Returns nil if the event does not request an arena run: the issue must be
// opened with triggerLabel already set, or labeled with it.
func ParseWebhook(r *http.Request, secret, triggerLabel string) (*gitprovider.WebhookEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	if secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			return nil, fmt.Errorf("missing webhook signature")
		}
		if !verifySignature(body, sig, secret) {
			return nil, fmt.Errorf("invalid webhook signature")
		}
	}

	if r.Header.Get("X-GitHub-Event") != "issues" {
		return nil, nil
	}
	if triggerLabel == "" {
		triggerLabel = DefaultTriggerLabel
	}
	return parseIssues(body, strings.ToLower(triggerLabel))
}

type ghLabel struct {
	Name string `json:"name"`
}

func parseIssues(body []byte, triggerLabel string) (*gitprovider.WebhookEvent, error) {
	var payload struct {
		Action string `json:"action"`
		Issue  struct {
			Number      int       `json:"number"`
			Labels      []ghLabel `json:"labels"`
			PullRequest *struct {
				URL string `json:"url"`
			} `json:"pull_request"`
		} `json:"issue"`
		Label      *ghLabel `json:"label"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		Sender struct {
			Login string `json:"login"`
		} `json:"sender"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing issues payload: %w", err)
	}

	if payload.Issue.PullRequest != nil {
		return nil, nil
	}

	switch payload.Action {
	case "opened":
		found := false
		for _, l := range payload.Issue.Labels {
			if strings.ToLower(l.Name) == triggerLabel {
				found = true
				break
			}
		}
		if !found {
			return nil, nil
		}
	case "labeled":
		if payload.Label == nil || strings.ToLower(payload.Label.Name) != triggerLabel {
			return nil, nil
		}
	default:
		return nil, nil
	}

	return &gitprovider.WebhookEvent{
		Action:      payload.Action,
		Repo:        payload.Repository.FullName,
		IssueNumber: payload.Issue.Number,
		Label:       triggerLabel,
		Sender:      payload.Sender.Login,
	}, nil
}

func verifySignature(payload []byte, signature, secret string) bool {
	sig := strings.TrimPrefix(signature, "sha256=")
	decoded, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	return hmac.Equal(decoded, expected)
}
