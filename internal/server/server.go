// Package server provides the pr-arena HTTP API: comparison reads, winner
// selection, a live event stream, metrics and the GitHub webhook trigger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/neulab/pr-arena/internal/arena"
	"github.com/neulab/pr-arena/internal/decision"
	"github.com/neulab/pr-arena/internal/docstore"
	"github.com/neulab/pr-arena/internal/metrics"
	ghprovider "github.com/neulab/pr-arena/pkg/gitprovider/github"
	"github.com/neulab/pr-arena/pkg/model"
)

// Store is the document access the server needs.
type Store interface {
	decision.Store
	List(ctx context.Context, collection string) ([]*docstore.Document, error)
	GetDocument(ctx context.Context, collection, id string) (*docstore.Document, error)
}

// Arena starts a run for an issue in its own output directory.
type Arena interface {
	RunIn(ctx context.Context, issue model.Issue, outputDir string) (*model.ArenaRun, error)
}

// IssueFetcher loads issue details for webhook-triggered runs.
type IssueFetcher interface {
	GetIssue(ctx context.Context, repo string, number int) (*model.Issue, error)
}

// Options configures a Server.
type Options struct {
	Addr string

	// Webhook settings. The webhook route is only mounted when an Arena is
	// given.
	WebhookSecret string
	TriggerLabel  string
	// RunDir is the parent of per-run output directories.
	RunDir string
}

// Server is the pr-arena HTTP API server.
type Server struct {
	store  Store
	arena  Arena
	issues IssueFetcher
	opts   Options
	router chi.Router

	// runMu serialises webhook-triggered runs.
	runMu sync.Mutex
	runs  sync.WaitGroup
	// baseCtx outlives requests; background runs use it.
	baseCtx context.Context
}

// New creates a Server. arena and issues may be nil to disable the webhook.
func New(store Store, arena Arena, issues IssueFetcher, opts Options) *Server {
	s := &Server{
		store:   store,
		arena:   arena,
		issues:  issues,
		opts:    opts,
		baseCtx: context.Background(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then waits for background runs.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	clog.FromContext(ctx).Infof("pr-arena server listening on %s", s.opts.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.runs.Wait()
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/comparisons", s.handleListComparisons)
		r.Get("/comparisons/{id}", s.handleGetComparison)
		r.Post("/comparisons/{id}/winner", s.handleSelectWinner)
		r.Get("/comparisons/{id}/events", s.handleComparisonEvents)
		if s.arena != nil && s.issues != nil {
			r.Post("/webhooks/github", s.handleWebhook)
		}
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	return r
}

// --- Request/Response types ---

type winnerRequest struct {
	Winner string `json:"winner"`
}

type attemptView struct {
	// Model is withheld until the comparison is decided.
	Model      *model.ModelEntry `json:"model,omitempty"`
	BranchName string            `json:"branch_name,omitempty"`
	CommitHash string            `json:"commit_hash,omitempty"`
	GitPatch   string            `json:"git_patch,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
}

type comparisonView struct {
	ID          string        `json:"id"`
	Repo        string        `json:"repo"`
	IssueNumber int           `json:"issue_number"`
	IssueTitle  string        `json:"issue_title,omitempty"`
	Status      model.Status  `json:"status"`
	Winner      *model.Winner `json:"winner"`
	ModelA      attemptView   `json:"modelA"`
	ModelB      attemptView   `json:"modelB"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newAttemptView(a model.AttemptResult, reveal bool) attemptView {
	v := attemptView{
		BranchName: a.BranchName,
		CommitHash: a.CommitHash,
		Success:    a.Success,
		Error:      a.Error,
	}
	if a.GitPatch != nil {
		v.GitPatch = *a.GitPatch
	}
	if reveal {
		m := a.Model
		v.Model = &m
	}
	return v
}

func newComparisonView(id string, version int64, data map[string]any) (*comparisonView, error) {
	run, err := arena.DecodeRun(id, data)
	if err != nil {
		return nil, err
	}
	reveal := run.Status != model.StatusPending
	return &comparisonView{
		ID:          run.ID,
		Repo:        run.Issue.FullName(),
		IssueNumber: run.Issue.Number,
		IssueTitle:  run.Issue.Title,
		Status:      run.Status,
		Winner:      run.Winner,
		ModelA:      newAttemptView(run.A, reveal),
		ModelB:      newAttemptView(run.B, reveal),
		Version:     version,
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
	}, nil
}

// --- Handlers ---

func (s *Server) handleListComparisons(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.List(r.Context(), docstore.IssueCollection)
	if err != nil {
		clog.FromContext(r.Context()).Errorf("listing comparisons: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list comparisons")
		return
	}
	status := r.URL.Query().Get("status")
	views := []*comparisonView{}
	for _, d := range docs {
		v, err := newComparisonView(d.ID, d.Version, d.Data)
		if err != nil {
			clog.FromContext(r.Context()).Warnf("skipping comparison %s: %v", d.ID, err)
			continue
		}
		if status != "" && string(v.Status) != status {
			continue
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetComparison(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), docstore.IssueCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "comparison not found")
		return
	}
	if err != nil {
		clog.FromContext(r.Context()).Errorf("reading comparison %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to read comparison")
		return
	}
	v, err := newComparisonView(doc.ID, doc.Version, doc.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSelectWinner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req winnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	_, err := decision.Record(r.Context(), s.store, id, req.Winner)
	switch {
	case errors.Is(err, decision.ErrInvalidWinner):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "comparison not found")
		return
	case errors.Is(err, decision.ErrAlreadyDecided), errors.Is(err, decision.ErrNotPending):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		clog.FromContext(r.Context()).Errorf("recording winner for %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to record winner")
		return
	}

	s.handleGetComparison(w, r)
}

func (s *Server) handleComparisonEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetDocument(r.Context(), docstore.IssueCollection, id); err != nil {
		writeError(w, http.StatusNotFound, "comparison not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	changes, err := s.store.Watch(r.Context(), docstore.IssueCollection, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to watch comparison")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The stream ends once the comparison is no longer pending.
	for change := range changes {
		v, err := newComparisonView(change.ID, change.Version, change.Data)
		if err != nil {
			clog.FromContext(r.Context()).Warnf("event stream for %s: %v", id, err)
			continue
		}
		if err := writeSSE(w, v); err != nil {
			return
		}
		flusher.Flush()
		if v.Status != model.StatusPending {
			return
		}
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	event, err := ghprovider.ParseWebhook(r, s.opts.WebhookSecret, s.opts.TriggerLabel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if event == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	issue, err := s.issues.GetIssue(r.Context(), event.Repo, event.IssueNumber)
	if err != nil {
		clog.FromContext(r.Context()).Errorf("fetching %s#%d: %v", event.Repo, event.IssueNumber, err)
		writeError(w, http.StatusBadGateway, "failed to fetch issue")
		return
	}

	dir := filepath.Join(s.opts.RunDir, fmt.Sprintf("%s-%s-%d-%d", issue.Owner, issue.Repo, issue.Number, time.Now().Unix()))
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.runMu.Lock()
		defer s.runMu.Unlock()

		ctx := s.baseCtx
		if _, err := s.arena.RunIn(ctx, *issue, dir); err != nil {
			clog.FromContext(ctx).Errorf("arena run for %s#%d: %v", event.Repo, event.IssueNumber, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"repo":   event.Repo,
		"issue":  fmt.Sprint(event.IssueNumber),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, v *comparisonView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", v.Version, v.Status, data)
	return err
}
