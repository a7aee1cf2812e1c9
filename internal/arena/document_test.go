package arena

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/neulab/pr-arena/internal/docstore"
	"github.com/neulab/pr-arena/pkg/model"
)

func TestEncodeDecodeRun(t *testing.T) {
	patch := "diff --git a/x b/x\n"
	winner := model.WinnerTie
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &model.ArenaRun{
		ID:    "c1",
		Issue: model.Issue{Owner: "acme", Repo: "widgets", Number: 4, Title: "Broken"},
		A: model.AttemptResult{
			Model:       model.ModelEntry{Name: "deepseek-chat", ID: "model4"},
			GitPatch:    &patch,
			CommitHash:  "abc",
			BranchName:  "openhands-fix-issue-4-try1",
			Success:     true,
			Explanation: "done",
			Duration:    90 * time.Second,
		},
		B: model.AttemptResult{
			Model: model.ModelEntry{Name: "gpt-4o", ID: "model2"},
			Error: "timed out",
		},
		Status:    model.StatusCompleted,
		Winner:    &winner,
		CreatedAt: created,
		UpdatedAt: created,
	}

	store, err := docstore.Open(filepath.Join(t.TempDir(), "doc.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, docstore.IssueCollection, "c1", EncodeRun(run)))

	data, err := store.Get(ctx, docstore.IssueCollection, "c1")
	require.NoError(t, err)
	require.Equal(t, "https://github.com/acme/widgets", data["repo_url"])
	require.Equal(t, "Issue #4", data["issue_name"])

	got, err := DecodeRun("c1", data)
	require.NoError(t, err)
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("DecodeRun() mismatch (-want +got):\n%s", diff)
	}
}

func TestSetCommitHash(t *testing.T) {
	store, err := docstore.Open(filepath.Join(t.TempDir(), "doc.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	now := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	require.ErrorIs(t, SetCommitHash(ctx, store, "missing", model.SlotA, "h", now), docstore.ErrNotFound)

	run := &model.ArenaRun{
		Issue:  model.Issue{Owner: "acme", Repo: "widgets", Number: 4},
		A:      model.AttemptResult{Model: model.ModelEntry{Name: "a", ID: "model1"}, CommitHash: "old"},
		B:      model.AttemptResult{Model: model.ModelEntry{Name: "b", ID: "model2"}},
		Status: model.StatusPending,
	}
	require.NoError(t, store.Set(ctx, docstore.IssueCollection, "c1", EncodeRun(run)))
	require.NoError(t, SetCommitHash(ctx, store, "c1", model.SlotB, "fresh", now))

	data, err := store.Get(ctx, docstore.IssueCollection, "c1")
	require.NoError(t, err)
	got, err := DecodeRun("c1", data)
	require.NoError(t, err)
	require.Equal(t, "old", got.A.CommitHash)
	require.Equal(t, "fresh", got.B.CommitHash)
	require.Equal(t, "b", got.B.Model.Name)
	require.True(t, got.UpdatedAt.Equal(now))
}
