package agent

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/neulab/pr-arena/pkg/model"
)

// fakeResolver writes a record for the issue passed in --issue-number and
// echoes the model it was given through the environment.
const fakeResolver = `#!/bin/sh
out=""
issue=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output-dir) out="$2"; shift ;;
    --issue-number) issue="$2"; shift ;;
  esac
  shift
done
echo "resolving with $LLM_MODEL"
echo "warning on stderr" >&2
printf '{"issue":{"owner":"o","repo":"r","number":%s},"issue_type":"issue","git_patch":"diff --git a/x b/x\\n","success":true,"result_explanation":"%s"}\n' "$issue" "$LLM_API_KEY" >> "$out/output.jsonl"
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "resolver.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandRunnerResolve(t *testing.T) {
	script := writeScript(t, fakeResolver)
	r := NewCommandRunner("sh "+script, "", nil)

	got, err := r.Resolve(context.Background(), Request{
		Issue:         model.Issue{Owner: "o", Repo: "r", Number: 17},
		IssueType:     "issue",
		Model:         "litellm_proxy/deepseek-chat",
		APIKey:        "sk-secret",
		MaxIterations: 5,
		OutputDir:     filepath.Join(t.TempDir(), "output1"),
	})
	if err != nil {
		t.Fatalf("Resolve() returned unexpected error: %v", err)
	}
	if got.Issue.Number != 17 || !got.HasPatch() || !got.Success {
		t.Errorf("Resolve() = %+v", got)
	}
	if got.Model != "deepseek-chat" {
		t.Errorf("Model = %q, want display name", got.Model)
	}
	if got.ResultExplanation != "sk-secret" {
		t.Errorf("API key did not reach the resolver environment: %q", got.ResultExplanation)
	}
	if got.Duration <= 0 {
		t.Errorf("Duration = %v, want wall-clock time", got.Duration)
	}
}

func TestCommandRunnerFailure(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho boom >&2\nexit 3\n")
	r := NewCommandRunner("sh "+script, "", nil)

	_, err := r.Resolve(context.Background(), Request{
		Issue:     model.Issue{Owner: "o", Repo: "r", Number: 1},
		Model:     "m",
		OutputDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("Resolve() error = nil, want exit status")
	}
}

func TestCommandRunnerMissingRecord(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nexit 0\n")
	r := NewCommandRunner("sh "+script, "", nil)

	_, err := r.Resolve(context.Background(), Request{
		Issue:     model.Issue{Owner: "o", Repo: "r", Number: 1},
		Model:     "m",
		OutputDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("Resolve() error = nil, want missing output")
	}
}

func TestArgvDocker(t *testing.T) {
	r := &CommandRunner{
		command:   []string{"python", "-m", "resolver"},
		image:     "ghcr.io/acme/runtime:1",
		dockerBin: "/usr/bin/docker",
	}
	req := Request{
		Issue:         model.Issue{Owner: "o", Repo: "r", Number: 2},
		IssueType:     "issue",
		MaxIterations: 50,
		OutputDir:     "/work/output2",
		PromptFile:    "/work/prompt.j2",
	}
	name, args := r.argv(req, []string{"LLM_API_KEY=sk", "GITHUB_TOKEN=ghp"})

	if name != "/usr/bin/docker" {
		t.Errorf("name = %q, want docker", name)
	}
	want := []string{
		"run", "--rm",
		"-v", "/work/output2:/work/output2",
		"-v", "/work/prompt.j2:/work/prompt.j2:ro",
		"-e", "LLM_API_KEY",
		"-e", "GITHUB_TOKEN",
		"ghcr.io/acme/runtime:1", "python", "-m", "resolver",
		"--repo", "o/r",
		"--issue-number", "2",
		"--issue-type", "issue",
		"--max-iterations", "50",
		"--output-dir", "/work/output2",
		"--prompt-file", "/work/prompt.j2",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(strings.Join(args, " "), "=sk") {
		t.Error("secret value leaked into argv")
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"litellm_proxy/claude-3-7-sonnet-20250219", "claude-3-7-sonnet-20250219"},
		{"deepseek-chat", "deepseek-chat"},
		{"a/b/c", "c"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.in); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
