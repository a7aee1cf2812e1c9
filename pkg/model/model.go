// Package model holds the records shared between the arena coordinator, the
// agent boundary, and the decision listener.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Issue is the GitHub issue (or pull request) an arena run works on.
type Issue struct {
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	HeadBranch string `json:"head_branch,omitempty"`
}

// FullName returns "owner/repo".
func (i Issue) FullName() string { return i.Owner + "/" + i.Repo }

// ResolverOutput is one line of output.jsonl, written by the agent framework
// and extended with the reconciliation results.
type ResolverOutput struct {
	Issue             Issue   `json:"issue"`
	IssueType         string  `json:"issue_type"`
	Instruction       string  `json:"instruction"`
	BaseCommit        string  `json:"base_commit"`
	GitPatch          *string `json:"git_patch"`
	Success           bool    `json:"success"`
	ResultExplanation string  `json:"result_explanation"`
	Error             *string `json:"error"`
	Model             string  `json:"model,omitempty"`
	CommitHash        string  `json:"commit_hash,omitempty"`
	RepoDir           string  `json:"repo_dir,omitempty"`
	BranchName        string  `json:"branch_name,omitempty"`
	DefaultBranch     string  `json:"default_branch,omitempty"`
	BaseURL           string  `json:"base_url,omitempty"`
	Duration          float64 `json:"duration,omitempty"`
}

// HasPatch reports whether the agent produced a non-empty patch.
func (o *ResolverOutput) HasPatch() bool {
	return o != nil && o.GitPatch != nil && strings.TrimSpace(*o.GitPatch) != ""
}

// Slot names one side of an arena run.
type Slot string

const (
	SlotA Slot = "modelA"
	SlotB Slot = "modelB"
)

// Attempt returns the 1-based attempt number of the slot.
func (s Slot) Attempt() int {
	if s == SlotB {
		return 2
	}
	return 1
}

// AttemptResult is the outcome of one model attempt. Every field is always
// present; the zero value means "not set".
type AttemptResult struct {
	Model       ModelEntry
	GitPatch    *string
	CommitHash  string
	BranchName  string
	Success     bool
	Explanation string
	Duration    time.Duration
	Error       string
}

// Failed reports whether the attempt disqualifies the run from a comparison.
func (a *AttemptResult) Failed() bool {
	return a.GitPatch == nil || !a.Success || a.Error != ""
}

// Status is the lifecycle state of an arena run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Winner is the human decision on an arena run.
type Winner string

const (
	WinnerA   Winner = "modelA"
	WinnerB   Winner = "modelB"
	WinnerTie Winner = "tie"
)

// ParseWinner validates a winner value.
func ParseWinner(s string) (Winner, error) {
	switch w := Winner(s); w {
	case WinnerA, WinnerB, WinnerTie:
		return w, nil
	}
	return "", fmt.Errorf("invalid winner %q, expected modelA, modelB or tie", s)
}

// ModelEntry pairs the LLM configuration string used to run an attempt with
// its public identifier.
type ModelEntry struct {
	Name string `json:"modelName" yaml:"name"`
	ID   string `json:"modelId" yaml:"id"`
}

// ArenaRun is a paired comparison of two attempts on one issue.
type ArenaRun struct {
	ID        string
	Issue     Issue
	A, B      AttemptResult
	Status    Status
	Winner    *Winner
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attempt returns the result stored in slot s.
func (r *ArenaRun) Attempt(s Slot) *AttemptResult {
	if s == SlotB {
		return &r.B
	}
	return &r.A
}

// Selection is the per-user record of one comparison.
type Selection struct {
	IssueID      string     `json:"issueId"`
	Choice       *Winner    `json:"choice"`
	SelectedAt   *time.Time `json:"selectedAt"`
	IsLatest     bool       `json:"isLatest"`
	Language     string     `json:"language"`
	IsAnonymous  bool       `json:"isAnonymous"`
	Deduplicated bool       `json:"deduplicated"`
	ModelA       ModelEntry `json:"modelA"`
	ModelB       ModelEntry `json:"modelB"`
}

// UserData is the per-user document keyed by the GitHub owner.
type UserData struct {
	GitHubID   string               `json:"githubId"`
	CreatedAt  time.Time            `json:"createdAt"`
	LastActive time.Time            `json:"lastActive"`
	Selections map[string]Selection `json:"selections"`
}
