// Package agent is the boundary to the external resolver that produces one
// attempt's patch. The reasoning loop, sandbox and LLM calls all live in that
// resolver; this package only starts it and collects its record.
package agent

import (
	"context"
	"strings"

	"github.com/neulab/pr-arena/pkg/model"
)

// Request describes one attempt.
type Request struct {
	Issue     model.Issue
	IssueType string

	// Model is the LLM configuration string, e.g. "litellm_proxy/deepseek-chat".
	Model   string
	APIKey  string
	BaseURL string

	MaxIterations       int
	PromptFile          string
	RepoInstructionFile string

	// OutputDir receives output.jsonl and the agent's workspace.
	OutputDir string

	Token    string
	Username string
}

// Runner produces the resolver record for one attempt.
type Runner interface {
	Resolve(ctx context.Context, req Request) (*model.ResolverOutput, error)
}

// DisplayName returns the model name without its provider prefix.
func DisplayName(llmModel string) string {
	if i := strings.LastIndex(llmModel, "/"); i >= 0 {
		return llmModel[i+1:]
	}
	return llmModel
}
