package decision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/neulab/pr-arena/internal/arena"
	"github.com/neulab/pr-arena/internal/docstore"
	"github.com/neulab/pr-arena/internal/envfile"
	"github.com/neulab/pr-arena/internal/notify"
	"github.com/neulab/pr-arena/pkg/model"
)

// Listener waits for the decision on one comparison and hands it to the
// workflow.
type Listener struct {
	store    Store
	env      *envfile.File
	notifier notify.Notifier
	now      func() time.Time
}

// NewListener creates a Listener. env and n may be nil.
func NewListener(store Store, env *envfile.File, n notify.Notifier) *Listener {
	if n == nil {
		n = notify.Nop{}
	}
	return &Listener{
		store:    store,
		env:      env,
		notifier: n,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Wait blocks until comparison id is completed with a winner, or ctx ends.
func (l *Listener) Wait(ctx context.Context, id string) (*model.ArenaRun, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes, err := l.store.Watch(wctx, docstore.IssueCollection, id)
	if err != nil {
		return nil, fmt.Errorf("watching comparison %s: %w", id, err)
	}
	log := clog.FromContext(ctx).With("comparison", id)
	log.Infof("waiting for decision")

	for change := range changes {
		log.Debugf("comparison changed (version %d, status %v)", change.Version, change.Data["status"])
		if decided(change.Data) {
			return arena.DecodeRun(id, change.Data)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("watch ended before a decision was made")
}

// Listen waits for the decision, writes SELECTED=<attempt> to the env file
// and marks the selection as the user's latest. Only waiting and the env
// write can fail; user record problems are logged.
func (l *Listener) Listen(ctx context.Context, owner, id string) (int, error) {
	run, err := l.Wait(ctx, id)
	if err != nil {
		return 0, err
	}
	n := SelectedAttempt(ctx, *run.Winner)

	if l.env != nil {
		if err := l.env.Append("SELECTED", strconv.Itoa(n)); err != nil {
			return n, fmt.Errorf("writing selection: %w", err)
		}
	}

	log := clog.FromContext(ctx)
	if err := l.updateUser(ctx, owner, id, *run.Winner); err != nil {
		log.Errorf("updating user record for %s: %v", owner, err)
	}
	if err := l.notifier.DecisionRecorded(ctx, run); err != nil {
		log.Warnf("notifying decision: %v", err)
	}
	log.Infof("comparison %s decided: %s (attempt %d)", id, *run.Winner, n)
	return n, nil
}

func (l *Listener) updateUser(ctx context.Context, owner, id string, w model.Winner) error {
	now := l.now()
	return l.store.Mutate(ctx, docstore.UserDataCollection, owner, func(cur map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			cur = map[string]any{"githubId": owner, "createdAt": now}
		}
		sels, _ := cur["selections"].(map[string]any)
		if sels == nil {
			sels = map[string]any{}
		}
		for _, v := range sels {
			if s, ok := v.(map[string]any); ok {
				s["isLatest"] = false
			}
		}
		sel, _ := sels[id].(map[string]any)
		if sel == nil {
			sel = map[string]any{"issueId": id}
		}
		sel["choice"] = string(w)
		sel["selectedAt"] = now
		sel["isLatest"] = true
		sels[id] = sel

		cur["selections"] = sels
		cur["lastActive"] = now
		return cur, nil
	})
}
