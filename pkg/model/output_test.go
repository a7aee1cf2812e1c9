package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAppendAndLoadOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output1", OutputFile)
	patch := "diff --git a/x b/x\n"

	first := &ResolverOutput{Issue: Issue{Owner: "o", Repo: "r", Number: 3}, IssueType: "issue", Success: false}
	second := &ResolverOutput{Issue: Issue{Owner: "o", Repo: "r", Number: 4}, GitPatch: &patch, Success: true, Duration: 12.5}
	third := &ResolverOutput{Issue: Issue{Owner: "o", Repo: "r", Number: 3}, GitPatch: &patch, Success: true, Model: "m"}
	for _, rec := range []*ResolverOutput{first, second, third} {
		if err := AppendOutput(path, rec); err != nil {
			t.Fatalf("AppendOutput() returned unexpected error: %v", err)
		}
	}

	got, err := LoadOutput(path, 3)
	if err != nil {
		t.Fatalf("LoadOutput() returned unexpected error: %v", err)
	}
	if diff := cmp.Diff(third, got); diff != "" {
		t.Errorf("LoadOutput(3) mismatch (-want +got):\n%s", diff)
	}

	got, err = LoadOutput(path, 4)
	if err != nil {
		t.Fatalf("LoadOutput() returned unexpected error: %v", err)
	}
	if !got.HasPatch() || got.Duration != 12.5 {
		t.Errorf("LoadOutput(4) = %+v", got)
	}

	if _, err := LoadOutput(path, 99); !errors.Is(err, ErrOutputNotFound) {
		t.Errorf("LoadOutput(99) error = %v, want ErrOutputNotFound", err)
	}
}

func TestLoadOutputInvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), OutputFile)
	if err := os.WriteFile(path, []byte("{\"issue\":{\"number\":1}}\nnot json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOutput(path, 1); err == nil {
		t.Error("LoadOutput() accepted an invalid line")
	}
}

func TestParseWinner(t *testing.T) {
	for _, s := range []string{"modelA", "modelB", "tie"} {
		if _, err := ParseWinner(s); err != nil {
			t.Errorf("ParseWinner(%q) returned unexpected error: %v", s, err)
		}
	}
	if _, err := ParseWinner("modelC"); err == nil {
		t.Error("ParseWinner(modelC) error = nil")
	}
}

func TestAttemptFailed(t *testing.T) {
	patch := "x"
	tests := []struct {
		name string
		a    AttemptResult
		want bool
	}{
		{"no patch", AttemptResult{Success: true}, true},
		{"unsuccessful", AttemptResult{GitPatch: &patch}, true},
		{"errored", AttemptResult{GitPatch: &patch, Success: true, Error: "push rejected"}, true},
		{"ok", AttemptResult{GitPatch: &patch, Success: true}, false},
	}
	for _, tt := range tests {
		if got := tt.a.Failed(); got != tt.want {
			t.Errorf("%s: Failed() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
