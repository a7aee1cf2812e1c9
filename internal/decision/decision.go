// Package decision records winner selections and waits for them.
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/neulab/pr-arena/internal/arena"
	"github.com/neulab/pr-arena/internal/docstore"
	"github.com/neulab/pr-arena/internal/metrics"
	"github.com/neulab/pr-arena/pkg/eventbus"
	"github.com/neulab/pr-arena/pkg/model"
)

var (
	// ErrAlreadyDecided is returned when a comparison already has a winner.
	ErrAlreadyDecided = errors.New("comparison already decided")
	// ErrNotPending is returned for comparisons that failed and cannot be judged.
	ErrNotPending = errors.New("comparison is not awaiting a decision")
	// ErrInvalidWinner is returned for winners other than modelA, modelB or tie.
	ErrInvalidWinner = errors.New("invalid winner")
)

// Store is the document access the decision flow needs. *docstore.Store
// implements it.
type Store interface {
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	Mutate(ctx context.Context, collection, id string, fn func(cur map[string]any, exists bool) (map[string]any, error)) error
	Watch(ctx context.Context, collection, id string) (<-chan *eventbus.Change, error)
}

// Record stores the winner of comparison id and marks it completed.
func Record(ctx context.Context, store Store, id, winner string) (*model.ArenaRun, error) {
	w, err := model.ParseWinner(winner)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWinner, winner)
	}

	var stored map[string]any
	err = store.Mutate(ctx, docstore.IssueCollection, id, func(cur map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return nil, docstore.ErrNotFound
		}
		if cur["winner"] != nil || cur["status"] == string(model.StatusCompleted) {
			return nil, ErrAlreadyDecided
		}
		if cur["status"] != string(model.StatusPending) {
			return nil, ErrNotPending
		}
		cur["winner"] = string(w)
		cur["status"] = string(model.StatusCompleted)
		cur["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
		stored = cur
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveDecision(string(w))
	clog.FromContext(ctx).Infof("recorded winner %s for comparison %s", w, id)
	return arena.DecodeRun(id, stored)
}

// SelectedAttempt maps a winner to the attempt whose branch is kept. A tie
// keeps the first attempt.
func SelectedAttempt(ctx context.Context, w model.Winner) int {
	switch w {
	case model.WinnerA, model.WinnerTie:
		return 1
	case model.WinnerB:
		return 2
	}
	clog.FromContext(ctx).Errorf("unexpected winner %q, keeping attempt 1", w)
	return 1
}

// decided reports whether a snapshot carries a final decision.
func decided(data map[string]any) bool {
	return data["status"] == string(model.StatusCompleted) && data["winner"] != nil
}
