// Package notify posts arena events to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/neulab/pr-arena/pkg/model"
)

// Notifier announces comparisons and their outcome.
type Notifier interface {
	// ComparisonReady is sent when both attempts are stored and a winner
	// can be picked. Model names are withheld.
	ComparisonReady(ctx context.Context, run *model.ArenaRun) error
	// DecisionRecorded is sent once a winner has been chosen.
	DecisionRecorded(ctx context.Context, run *model.ArenaRun) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) ComparisonReady(context.Context, *model.ArenaRun) error  { return nil }
func (Nop) DecisionRecorded(context.Context, *model.ArenaRun) error { return nil }

// Multi fans out to several notifiers. Failures are logged and joined.
type Multi []Notifier

func (m Multi) ComparisonReady(ctx context.Context, run *model.ArenaRun) error {
	var errs []error
	for _, n := range m {
		if err := n.ComparisonReady(ctx, run); err != nil {
			clog.FromContext(ctx).Warnf("comparison notification failed: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) DecisionRecorded(ctx context.Context, run *model.ArenaRun) error {
	var errs []error
	for _, n := range m {
		if err := n.DecisionRecorded(ctx, run); err != nil {
			clog.FromContext(ctx).Warnf("decision notification failed: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func issueURL(issue model.Issue) string {
	return fmt.Sprintf("https://github.com/%s/%s/issues/%d", issue.Owner, issue.Repo, issue.Number)
}

func winnerLabel(run *model.ArenaRun) string {
	if run.Winner == nil {
		return "undecided"
	}
	switch *run.Winner {
	case model.WinnerA:
		return run.A.Model.Name
	case model.WinnerB:
		return run.B.Model.Name
	}
	return "tie"
}
