package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/neulab/pr-arena/pkg/model"
)

// Slack posts to a single channel with a bot token.
type Slack struct {
	api     *slack.Client
	channel string
}

// NewSlack creates a Slack notifier. opts are passed to the slack client,
// e.g. slack.OptionAPIURL in tests.
func NewSlack(botToken, channel string, opts ...slack.Option) *Slack {
	return &Slack{api: slack.New(botToken, opts...), channel: channel}
}

func (s *Slack) ComparisonReady(ctx context.Context, run *model.ArenaRun) error {
	header := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf(":crossed_swords: *Comparison ready*\n<%s|%s#%d: %s>",
			issueURL(run.Issue), run.Issue.FullName(), run.Issue.Number, run.Issue.Title),
		false, false)
	footer := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("Comparison `%s` | Branches `%s` / `%s`", run.ID, run.A.BranchName, run.B.BranchName),
			false, false),
	)
	fallback := fmt.Sprintf("Comparison ready for %s#%d", run.Issue.FullName(), run.Issue.Number)
	return s.post(ctx, fallback, slack.NewSectionBlock(header, nil, nil), slack.NewDividerBlock(), footer)
}

func (s *Slack) DecisionRecorded(ctx context.Context, run *model.ArenaRun) error {
	text := fmt.Sprintf(":trophy: *Winner for %s#%d:* %s\n%s (`%s`) vs %s (`%s`)",
		run.Issue.FullName(), run.Issue.Number, winnerLabel(run),
		run.A.Model.Name, run.A.Model.ID, run.B.Model.Name, run.B.Model.ID)
	block := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
	return s.post(ctx, fmt.Sprintf("Winner for %s#%d: %s", run.Issue.FullName(), run.Issue.Number, winnerLabel(run)), block)
}

func (s *Slack) post(ctx context.Context, fallback string, blocks ...slack.Block) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("posting to slack channel %s: %w", s.channel, err)
	}
	return nil
}
