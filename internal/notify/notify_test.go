package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"

	"github.com/neulab/pr-arena/pkg/model"
)

func testRun() *model.ArenaRun {
	w := model.WinnerB
	return &model.ArenaRun{
		ID:     "c-123",
		Issue:  model.Issue{Owner: "acme", Repo: "widgets", Number: 9, Title: "Fix the widget"},
		A:      model.AttemptResult{Model: model.ModelEntry{Name: "gpt-4o", ID: "model2"}, BranchName: "openhands-fix-issue-9-try1"},
		B:      model.AttemptResult{Model: model.ModelEntry{Name: "deepseek-chat", ID: "model4"}, BranchName: "openhands-fix-issue-9-try2"},
		Status: model.StatusCompleted,
		Winner: &w,
	}
}

type recordingNotifier struct {
	ready, decided int
	err            error
}

func (r *recordingNotifier) ComparisonReady(context.Context, *model.ArenaRun) error {
	r.ready++
	return r.err
}

func (r *recordingNotifier) DecisionRecorded(context.Context, *model.ArenaRun) error {
	r.decided++
	return r.err
}

func TestMulti(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("boom")}
	m := Multi{bad, ok, Nop{}}

	if err := m.ComparisonReady(context.Background(), testRun()); err == nil {
		t.Error("ComparisonReady() error = nil, want joined failure")
	}
	if err := m.DecisionRecorded(context.Background(), testRun()); err == nil {
		t.Error("DecisionRecorded() error = nil, want joined failure")
	}
	if ok.ready != 1 || ok.decided != 1 {
		t.Errorf("healthy notifier calls = %d/%d, want 1/1", ok.ready, ok.decided)
	}
}

func TestWinnerLabel(t *testing.T) {
	run := testRun()
	if got := winnerLabel(run); got != "deepseek-chat" {
		t.Errorf("winnerLabel() = %q, want deepseek-chat", got)
	}
	tie := model.WinnerTie
	run.Winner = &tie
	if got := winnerLabel(run); got != "tie" {
		t.Errorf("winnerLabel(tie) = %q", got)
	}
	run.Winner = nil
	if got := winnerLabel(run); got != "undecided" {
		t.Errorf("winnerLabel(nil) = %q", got)
	}
}

func TestSlackPostsToChannel(t *testing.T) {
	var (
		mu    sync.Mutex
		forms []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing form: %v", err)
		}
		mu.Lock()
		forms = append(forms, map[string]string{
			"channel": r.FormValue("channel"),
			"text":    r.FormValue("text"),
			"blocks":  r.FormValue("blocks"),
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C1", "ts": "1.0"})
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", "C1", slack.OptionAPIURL(srv.URL+"/"))
	if err := s.ComparisonReady(context.Background(), testRun()); err != nil {
		t.Fatalf("ComparisonReady() returned unexpected error: %v", err)
	}
	if err := s.DecisionRecorded(context.Background(), testRun()); err != nil {
		t.Fatalf("DecisionRecorded() returned unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(forms) != 2 {
		t.Fatalf("got %d posts, want 2", len(forms))
	}
	if forms[0]["channel"] != "C1" {
		t.Errorf("channel = %q, want C1", forms[0]["channel"])
	}
	if strings.Contains(forms[0]["blocks"], "deepseek-chat") {
		t.Error("comparison notice reveals model names")
	}
	if !strings.Contains(forms[1]["text"], "deepseek-chat") {
		t.Errorf("decision text = %q, want winner name", forms[1]["text"])
	}
}

func TestSlackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", "nope", slack.OptionAPIURL(srv.URL+"/"))
	if err := s.ComparisonReady(context.Background(), testRun()); err == nil {
		t.Error("ComparisonReady() error = nil, want channel_not_found")
	}
}

func TestTelegramSendsMarkdownThenPlain(t *testing.T) {
	var (
		mu    sync.Mutex
		modes []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"arena","username":"arena_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if err := r.ParseForm(); err != nil {
				t.Errorf("parsing form: %v", err)
			}
			if got := r.FormValue("chat_id"); got != "42" {
				t.Errorf("chat_id = %q, want 42", got)
			}
			mu.Lock()
			modes = append(modes, r.FormValue("parse_mode"))
			first := len(modes) == 1
			mu.Unlock()
			if first {
				_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"group"}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	tg, err := NewTelegramWithEndpoint("123:ABC", 42, srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("NewTelegramWithEndpoint() returned unexpected error: %v", err)
	}
	if err := tg.ComparisonReady(context.Background(), testRun()); err != nil {
		t.Fatalf("ComparisonReady() returned unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(modes) != 2 || modes[0] != "MarkdownV2" || modes[1] != "" {
		t.Errorf("parse modes = %q, want [MarkdownV2 \"\"]", modes)
	}
}

func TestEscapeMarkdownRoundTrip(t *testing.T) {
	in := "owner/repo-name #12 (v1.2)!"
	if got := stripMarkdown(escapeMarkdown(in)); got != in {
		t.Errorf("stripMarkdown(escapeMarkdown(%q)) = %q", in, got)
	}
}
