package arena

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/neulab/pr-arena/internal/agent"
	"github.com/neulab/pr-arena/internal/config"
	"github.com/neulab/pr-arena/internal/docstore"
	"github.com/neulab/pr-arena/internal/envfile"
	"github.com/neulab/pr-arena/internal/reconcile"
	"github.com/neulab/pr-arena/pkg/model"
)

type fakeAgent struct {
	mu       sync.Mutex
	requests []agent.Request
	// outputs is keyed by display model name.
	outputs map[string]*model.ResolverOutput
	errs    map[string]error
}

func (f *fakeAgent) Resolve(_ context.Context, req agent.Request) (*model.ResolverOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	name := agent.DisplayName(req.Model)
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	out := *f.outputs[name]
	out.Issue = req.Issue
	return &out, nil
}

type fakeReconciler struct {
	mu       sync.Mutex
	requests []reconcile.Request
	err      error
}

func (f *fakeReconciler) Reconcile(_ context.Context, req reconcile.Request) (*reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return &reconcile.Result{WorkDir: req.OutputDir}, f.err
	}
	return &reconcile.Result{
		WorkDir:    filepath.Join(req.OutputDir, "patches", "issue_5"),
		CommitHash: "hash" + string(rune('0'+req.Attempt)),
		BranchName: "openhands-fix-issue-5-try" + string(rune('0'+req.Attempt)),
	}, nil
}

type fakeCloner struct{ urls []string }

func (f *fakeCloner) Clone(_ context.Context, url, dir string) error {
	f.urls = append(f.urls, url)
	return os.MkdirAll(dir, 0o755)
}

type countingNotifier struct{ ready int }

func (n *countingNotifier) ComparisonReady(context.Context, *model.ArenaRun) error {
	n.ready++
	return nil
}
func (n *countingNotifier) DecisionRecorded(context.Context, *model.ArenaRun) error { return nil }

type harness struct {
	coord    *Coordinator
	agent    *fakeAgent
	rec      *fakeReconciler
	cloner   *fakeCloner
	store    *docstore.Store
	envPath  string
	notifier *countingNotifier
	out      string
}

func strPtr(s string) *string { return &s }

func newHarness(t *testing.T, outputs map[string]*model.ResolverOutput) *harness {
	t.Helper()
	store, err := docstore.Open(filepath.Join(t.TempDir(), "arena.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	table, err := config.LoadModels("")
	require.NoError(t, err)

	h := &harness{
		agent:    &fakeAgent{outputs: outputs, errs: map[string]error{}},
		rec:      &fakeReconciler{},
		cloner:   &fakeCloner{},
		store:    store,
		envPath:  filepath.Join(t.TempDir(), "github_env"),
		notifier: &countingNotifier{},
		out:      t.TempDir(),
	}
	coord, err := New(Deps{
		Agent:      h.agent,
		Reconciler: h.rec,
		Cloner:     h.cloner,
		Store:      store,
		Models:     table,
		Env:        envfile.New(h.envPath),
		Notifier:   h.notifier,
	}, Options{
		Models:    []string{"litellm_proxy/deepseek-chat", "litellm_proxy/gpt-4o-2024-05-13"},
		OutputDir: h.out,
		Token:     "ghp",
		Push:      true,
		Rand:      rand.New(rand.NewPCG(1, 2)),
	})
	require.NoError(t, err)
	coord.newID = func() string { return "run-1" }
	coord.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	h.coord = coord
	return h
}

func successOutputs() map[string]*model.ResolverOutput {
	return map[string]*model.ResolverOutput{
		"deepseek-chat":     {GitPatch: strPtr("diff --git a/a b/a\n"), Success: true, ResultExplanation: "fixed", Duration: 30},
		"gpt-4o-2024-05-13": {GitPatch: strPtr("diff --git a/b b/b\n"), Success: true, ResultExplanation: "also fixed", Duration: 45},
	}
}

var testIssue = model.Issue{Owner: "acme", Repo: "widgets", Number: 5, Title: "Crash on start"}

func TestRunPending(t *testing.T) {
	h := newHarness(t, successOutputs())
	ctx := context.Background()

	run, err := h.coord.Run(ctx, testIssue)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, run.Status)
	require.NotEqual(t, run.A.Model.Name, run.B.Model.Name)

	// Attempts ran strictly in order, each in its own output directory.
	require.Len(t, h.agent.requests, 2)
	require.Equal(t, AttemptDir(h.out, model.SlotA), h.agent.requests[0].OutputDir)
	require.Equal(t, AttemptDir(h.out, model.SlotB), h.agent.requests[1].OutputDir)
	require.Len(t, h.rec.requests, 2)
	require.Equal(t, 1, h.rec.requests[0].Attempt)
	require.Equal(t, 2, h.rec.requests[1].Attempt)
	require.True(t, h.rec.requests[0].Push)
	require.Len(t, h.cloner.urls, 2)

	env, err := envfile.Read(h.envPath)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"UUID": "run-1", "FAILED": "FALSE"}, env); diff != "" {
		t.Errorf("env file mismatch (-want +got):\n%s", diff)
	}

	data, err := h.store.Get(ctx, docstore.IssueCollection, "run-1")
	require.NoError(t, err)
	stored, err := DecodeRun("run-1", data)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, stored.Status)
	require.Nil(t, stored.Winner)
	require.Equal(t, testIssue.Title, stored.Issue.Title)
	require.Equal(t, run.A.Model, stored.A.Model)
	require.Equal(t, "hash1", stored.A.CommitHash)
	require.Equal(t, "hash2", stored.B.CommitHash)
	require.NotEqual(t, config.UnknownModelID, stored.A.Model.ID)

	user, err := h.store.Get(ctx, docstore.UserDataCollection, "acme")
	require.NoError(t, err)
	var ud model.UserData
	require.NoError(t, docstore.Decode(user, &ud))
	require.Equal(t, "acme", ud.GitHubID)
	sel, ok := ud.Selections["run-1"]
	require.True(t, ok)
	require.True(t, sel.IsLatest)
	require.Nil(t, sel.Choice)
	require.Equal(t, run.B.Model, sel.ModelB)

	rec, err := model.LoadOutput(filepath.Join(AttemptDir(h.out, model.SlotA), model.OutputFile), 5)
	require.NoError(t, err)
	require.Equal(t, "hash1", rec.CommitHash)
	require.Equal(t, run.A.Model.Name, rec.Model)

	require.Equal(t, 1, h.notifier.ready)
}

func TestRunFailedWhenAttemptHasNoPatch(t *testing.T) {
	outputs := successOutputs()
	outputs["gpt-4o-2024-05-13"] = &model.ResolverOutput{Success: false, ResultExplanation: "gave up"}
	h := newHarness(t, outputs)
	ctx := context.Background()

	run, err := h.coord.Run(ctx, testIssue)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, run.Status)

	// Only the attempt with a patch is reconciled.
	require.Len(t, h.rec.requests, 1)

	env, err := envfile.Read(h.envPath)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"FAILED": "TRUE"}, env); diff != "" {
		t.Errorf("env file mismatch (-want +got):\n%s", diff)
	}

	data, err := h.store.Get(ctx, docstore.IssueCollection, "run-1")
	require.NoError(t, err)
	require.Equal(t, "failed", data["status"])

	_, err = h.store.Get(ctx, docstore.UserDataCollection, "acme")
	require.ErrorIs(t, err, docstore.ErrNotFound)
	require.Equal(t, 0, h.notifier.ready)
}

func TestRunContinuesAfterAgentError(t *testing.T) {
	h := newHarness(t, successOutputs())
	h.agent.errs["deepseek-chat"] = errors.New("sandbox crashed")

	run, err := h.coord.Run(context.Background(), testIssue)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, run.Status)
	require.Len(t, h.agent.requests, 2)

	failed := run.A
	if run.B.Model.Name == "deepseek-chat" {
		failed = run.B
	}
	require.Contains(t, failed.Error, "sandbox crashed")
	require.Nil(t, failed.GitPatch)
}

func TestRunReconcileErrorFailsRun(t *testing.T) {
	h := newHarness(t, successOutputs())
	h.rec.err = &reconcile.PushError{Branch: "b", Stderr: "rejected"}

	run, err := h.coord.Run(context.Background(), testIssue)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, run.Status)
	require.Len(t, h.rec.requests, 2)
	require.Contains(t, run.A.Error, "rejected")
}

func TestRunRejectsPullRequests(t *testing.T) {
	h := newHarness(t, successOutputs())
	h.coord.opts.IssueType = "pr"
	_, err := h.coord.Run(context.Background(), testIssue)
	require.Error(t, err)
	require.Empty(t, h.agent.requests)
}

func TestRunUsesExistingCheckout(t *testing.T) {
	h := newHarness(t, successOutputs())
	for _, s := range []model.Slot{model.SlotA, model.SlotB} {
		require.NoError(t, os.MkdirAll(filepath.Join(AttemptDir(h.out, s), "repo"), 0o755))
	}
	_, err := h.coord.Run(context.Background(), testIssue)
	require.NoError(t, err)
	require.Empty(t, h.cloner.urls)
}

func TestSampleModels(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 7))
	pool := []string{"a", "b", "c"}
	seen := map[[2]string]bool{}
	for range 300 {
		a, b, err := SampleModels(r, pool)
		require.NoError(t, err)
		require.NotEqual(t, a, b)
		seen[[2]string{a, b}] = true
	}
	// All six ordered pairs should come up.
	require.Len(t, seen, 6)

	_, _, err := SampleModels(r, []string{"a", "a", " a "})
	require.ErrorIs(t, err, ErrTooFewModels)
}

func TestParseModelList(t *testing.T) {
	got := ParseModelList(" x/a , b,, x/a,c ")
	if diff := cmp.Diff([]string{"x/a", "b", "c"}, got); diff != "" {
		t.Errorf("ParseModelList() mismatch (-want +got):\n%s", diff)
	}
}

func TestRunInUsesGivenDirectory(t *testing.T) {
	h := newHarness(t, successOutputs())
	dir := t.TempDir()
	_, err := h.coord.RunIn(context.Background(), testIssue, dir)
	require.NoError(t, err)
	require.Equal(t, AttemptDir(dir, model.SlotA), h.agent.requests[0].OutputDir)
	require.Equal(t, h.out, h.coord.opts.OutputDir)
}
