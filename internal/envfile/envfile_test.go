package envfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "github_env")
	f := New(path)

	for _, kv := range [][2]string{{"UUID", "1234"}, {"FAILED", "FALSE"}, {"SELECTED", "2"}, {"FAILED", "TRUE"}} {
		if err := f.Append(kv[0], kv[1]); err != nil {
			t.Fatalf("Append(%s) returned unexpected error: %v", kv[0], err)
		}
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() returned unexpected error: %v", err)
	}
	want := map[string]string{"UUID": "1234", "FAILED": "TRUE", "SELECTED": "2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendRejectsBadInput(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "env"))
	if err := f.Append("A=B", "x"); err == nil {
		t.Error("Append() accepted a key containing '='")
	}
	if err := f.Append("A", "x\ny"); err == nil {
		t.Error("Append() accepted a multi-line value")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvVar, "")
	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv() returned nil error with GITHUB_ENV unset")
	}

	path := filepath.Join(t.TempDir(), "env")
	t.Setenv(EnvVar, path)
	f, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() returned unexpected error: %v", err)
	}
	if f.Path() != path {
		t.Errorf("Path() = %q, want %q", f.Path(), path)
	}
}

func TestReadMissingFile(t *testing.T) {
	got, err := Read(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("Read() returned unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Read() = %v, want empty", got)
	}
}

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir", "config.env")
	pairs := []Pair{{"B", "2"}, {"A", "x=y"}}
	if err := Write(path, []string{"generated"}, pairs); err != nil {
		t.Fatalf("Write() returned unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "# generated\n\nB=2\nA=x=y\n"; got != want {
		t.Errorf("file = %q, want %q", got, want)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() returned unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"A": "x=y", "B": "2"}, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
}

func TestReadSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env")
	if err := os.WriteFile(path, []byte("# A=comment\n\n  KEY = v \nnoequals\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() returned unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"KEY": " v"}, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
}
