package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
)

// Default committer identity used when the working copy has none.
const (
	DefaultCommitterName  = "openhands"
	DefaultCommitterEmail = "openhands@all-hands.dev"
)

// CommitInfo describes the commit MakeCommit records.
type CommitInfo struct {
	IssueType   string
	IssueNumber int
	Attempt     int // 1 or 2
	Explanation string
	Duration    time.Duration
}

// CommitMessage builds the commit message for one attempt. The explanation
// is rendered as a numbered list when it is a JSON array, as the decoded
// value when it is other JSON, and verbatim otherwise.
func CommitMessage(info CommitInfo) (string, error) {
	var tail string
	switch info.Attempt {
	case 1:
		tail = "1st Model"
	case 2:
		tail = "2nd Model"
	default:
		return "", fmt.Errorf("invalid attempt number %d, expected 1 or 2", info.Attempt)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Fix %s #%d with %s", info.IssueType, info.IssueNumber, tail)

	if info.Explanation != "" {
		b.WriteString("\n\nSummary of Changes:")
		var decoded any
		if err := json.Unmarshal([]byte(info.Explanation), &decoded); err != nil {
			b.WriteString("\n" + info.Explanation)
		} else if items, ok := decoded.([]any); ok {
			for i, item := range items {
				fmt.Fprintf(&b, "\n%d. %s", i+1, jsonText(item))
			}
		} else {
			b.WriteString("\n" + jsonText(decoded))
		}
	}

	if info.Duration > 0 {
		secs := int(info.Duration / time.Second)
		fmt.Fprintf(&b, "\n\nDuration: %dm %ds", secs/60, secs%60)
	}
	return b.String(), nil
}

// jsonText renders a decoded JSON value for humans: strings without quotes,
// everything else in compact JSON.
func jsonText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// MakeCommit stages every change in dir and commits it, returning the new
// commit hash. A committer identity is configured when none is set. A tree
// with nothing to commit yields *NoChangesError.
func MakeCommit(ctx context.Context, git Git, dir string, info CommitInfo) (string, error) {
	log := clog.FromContext(ctx)

	name, err := git.ConfigGet(ctx, dir, "user.name")
	if err != nil {
		return "", fmt.Errorf("reading git identity: %w", err)
	}
	if name == "" {
		if err := git.ConfigSet(ctx, dir, "user.name", DefaultCommitterName); err != nil {
			return "", fmt.Errorf("configuring git identity: %w", err)
		}
		if err := git.ConfigSet(ctx, dir, "user.email", DefaultCommitterEmail); err != nil {
			return "", fmt.Errorf("configuring git identity: %w", err)
		}
		log.Infof("git user configured as %s", DefaultCommitterName)
	}

	if err := git.AddAll(ctx, dir); err != nil {
		return "", fmt.Errorf("staging changes: %w", err)
	}
	changed, err := git.HasChanges(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("checking for changes: %w", err)
	}
	if !changed {
		return "", &NoChangesError{Dir: dir}
	}

	msg, err := CommitMessage(info)
	if err != nil {
		return "", err
	}
	if err := git.Commit(ctx, dir, msg); err != nil {
		return "", fmt.Errorf("committing changes: %w", err)
	}

	hash, err := git.RevParse(ctx, dir, "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	log.Infof("committed %s in %s", hash, dir)
	return hash, nil
}
