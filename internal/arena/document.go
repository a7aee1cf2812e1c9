package arena

import (
	"context"
	"fmt"
	"time"

	"github.com/neulab/pr-arena/internal/docstore"
	"github.com/neulab/pr-arena/pkg/model"
)

// issueDocument is the stored form of an ArenaRun in issue_collection.
type issueDocument struct {
	RepoURL     string                         `json:"repo_url"`
	IssueName   string                         `json:"issue_name"`
	Owner       string                         `json:"owner"`
	Repo        string                         `json:"repo"`
	IssueNumber int                            `json:"issue_number"`
	IssueTitle  string                         `json:"issue_title"`
	Status      model.Status                   `json:"status"`
	Models      map[model.Slot]attemptDocument `json:"models"`
	Winner      *model.Winner                  `json:"winner"`
	CreatedAt   time.Time                      `json:"createdAt"`
	UpdatedAt   time.Time                      `json:"updatedAt"`
}

type attemptDocument struct {
	ModelID     string  `json:"modelId"`
	ModelName   string  `json:"modelName"`
	CommitHash  string  `json:"commit_hash"`
	AgentCode   string  `json:"agent_code"`
	BranchName  string  `json:"branch_name,omitempty"`
	Success     bool    `json:"success"`
	Explanation string  `json:"result_explanation,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Error       string  `json:"error,omitempty"`
}

func encodeAttempt(a model.AttemptResult) attemptDocument {
	d := attemptDocument{
		ModelID:     a.Model.ID,
		ModelName:   a.Model.Name,
		CommitHash:  a.CommitHash,
		BranchName:  a.BranchName,
		Success:     a.Success,
		Explanation: a.Explanation,
		Duration:    a.Duration.Seconds(),
		Error:       a.Error,
	}
	if a.GitPatch != nil {
		d.AgentCode = *a.GitPatch
	}
	return d
}

func (d attemptDocument) decode() model.AttemptResult {
	a := model.AttemptResult{
		Model:       model.ModelEntry{Name: d.ModelName, ID: d.ModelID},
		CommitHash:  d.CommitHash,
		BranchName:  d.BranchName,
		Success:     d.Success,
		Explanation: d.Explanation,
		Duration:    time.Duration(d.Duration * float64(time.Second)),
		Error:       d.Error,
	}
	if d.AgentCode != "" {
		code := d.AgentCode
		a.GitPatch = &code
	}
	return a
}

// EncodeRun returns the stored document for run.
func EncodeRun(run *model.ArenaRun) any {
	return issueDocument{
		RepoURL:     fmt.Sprintf("https://github.com/%s/%s", run.Issue.Owner, run.Issue.Repo),
		IssueName:   fmt.Sprintf("Issue #%d", run.Issue.Number),
		Owner:       run.Issue.Owner,
		Repo:        run.Issue.Repo,
		IssueNumber: run.Issue.Number,
		IssueTitle:  run.Issue.Title,
		Status:      run.Status,
		Models: map[model.Slot]attemptDocument{
			model.SlotA: encodeAttempt(run.A),
			model.SlotB: encodeAttempt(run.B),
		},
		Winner:    run.Winner,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
}

// DecodeRun rebuilds an ArenaRun from its stored document.
func DecodeRun(id string, data map[string]any) (*model.ArenaRun, error) {
	var d issueDocument
	if err := docstore.Decode(data, &d); err != nil {
		return nil, fmt.Errorf("decoding comparison %s: %w", id, err)
	}
	return &model.ArenaRun{
		ID: id,
		Issue: model.Issue{
			Owner:  d.Owner,
			Repo:   d.Repo,
			Number: d.IssueNumber,
			Title:  d.IssueTitle,
		},
		A:         d.Models[model.SlotA].decode(),
		B:         d.Models[model.SlotB].decode(),
		Status:    d.Status,
		Winner:    d.Winner,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

// SetCommitHash records hash as the commit of one slot of a stored
// comparison.
func SetCommitHash(ctx context.Context, store DocumentStore, id string, slot model.Slot, hash string, now time.Time) error {
	return store.Mutate(ctx, docstore.IssueCollection, id, func(cur map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return nil, docstore.ErrNotFound
		}
		models, _ := cur["models"].(map[string]any)
		if models == nil {
			models = map[string]any{}
		}
		attempt, _ := models[string(slot)].(map[string]any)
		if attempt == nil {
			attempt = map[string]any{}
		}
		attempt["commit_hash"] = hash
		models[string(slot)] = attempt
		cur["models"] = models
		cur["updatedAt"] = now.UTC().Format(time.RFC3339Nano)
		return cur, nil
	})
}
