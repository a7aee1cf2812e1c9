package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chainguard-dev/clog"
)

func TestWithWriter(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithWriter(context.Background(), &buf, false)

	clog.FromContext(ctx).With("issue", 7).Infof("attempt %d done", 1)
	clog.FromContext(ctx).Debugf("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "attempt 1 done" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["issue"] != float64(7) {
		t.Errorf("issue = %v, want 7", rec["issue"])
	}
}

func TestSetupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "prarena.log")
	ctx, closeFn, err := Setup(context.Background(), path, true)
	if err != nil {
		t.Fatalf("Setup() returned unexpected error: %v", err)
	}
	clog.FromContext(ctx).Debugf("debug enabled")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "debug enabled") {
		t.Errorf("log file = %q, want debug line", data)
	}
}
