// Package gitcmd runs the git binary against local working trees.
package gitcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/chainguard-dev/clog"
)

// CommandError is returned when git exits with a non-zero status.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("git %s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
	}
	return fmt.Sprintf("git %s: exit status %d: %s", strings.Join(e.Args, " "), e.ExitCode, msg)
}

// Runner invokes git with "-C <dir>" for every operation.
type Runner struct {
	gitBin string
	env    []string
}

// New creates a Runner using the git binary found on PATH.
func New() *Runner {
	return &Runner{gitBin: findGit()}
}

// Available reports whether a git binary can be executed.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func findGit() string {
	if p, err := exec.LookPath("git"); err == nil {
		return p
	}
	for _, c := range []string{"/usr/bin/git", "/usr/local/bin/git", "/opt/homebrew/bin/git"} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return "git"
}

// WithEnv returns a copy of r that appends env to the environment of every
// git invocation.
func (r *Runner) WithEnv(env ...string) *Runner {
	c := *r
	c.env = append(append([]string(nil), r.env...), env...)
	return &c
}

func (r *Runner) run(ctx context.Context, dir string, args ...string) (string, error) {
	full := args
	if dir != "" {
		full = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, r.gitBin, full...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, r.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	clog.FromContext(ctx).Debugf("running git %s", redact(args))
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &CommandError{
				Args:     redactArgs(args),
				ExitCode: exitErr.ExitCode(),
				Stderr:   redactText(stderr.String(), args),
			}
		}
		return stdout.String(), fmt.Errorf("running git %s: %w", redact(args), err)
	}
	return stdout.String(), nil
}

// Clone clones url into dir.
func (r *Runner) Clone(ctx context.Context, url, dir string) error {
	_, err := r.run(ctx, "", "clone", url, dir)
	return err
}

// Checkout checks out ref in dir.
func (r *Runner) Checkout(ctx context.Context, dir, ref string) error {
	_, err := r.run(ctx, dir, "checkout", ref)
	return err
}

// CreateBranch creates and switches to branch.
func (r *Runner) CreateBranch(ctx context.Context, dir, branch string) error {
	_, err := r.run(ctx, dir, "checkout", "-b", branch)
	return err
}

// AddAll stages every change in the working tree.
func (r *Runner) AddAll(ctx context.Context, dir string) error {
	_, err := r.run(ctx, dir, "add", ".")
	return err
}

// HasChanges reports whether the index differs from HEAD.
func (r *Runner) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := r.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Commit records the staged changes with message.
func (r *Runner) Commit(ctx context.Context, dir, message string) error {
	_, err := r.run(ctx, dir, "commit", "-m", message)
	return err
}

// Push pushes branch to remote, which may be a URL.
func (r *Runner) Push(ctx context.Context, dir, remote, branch string) error {
	_, err := r.run(ctx, dir, "push", remote, branch)
	return err
}

// RevParse resolves ref to a commit hash.
func (r *Runner) RevParse(ctx context.Context, dir, ref string) (string, error) {
	out, err := r.run(ctx, dir, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ConfigGet returns the value of key, or "" when it is unset.
func (r *Runner) ConfigGet(ctx context.Context, dir, key string) (string, error) {
	out, err := r.run(ctx, dir, "config", "--get", key)
	if err != nil {
		var ce *CommandError
		// git config --get exits 1 for a missing key.
		if errors.As(err, &ce) && ce.ExitCode == 1 {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ConfigSet writes key=value into the repository config of dir.
func (r *Runner) ConfigSet(ctx context.Context, dir, key, value string) error {
	_, err := r.run(ctx, dir, "config", key, value)
	return err
}

// redactArgs hides credentials embedded in remote URLs.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = redactURL(a)
	}
	return out
}

func redact(args []string) string {
	return strings.Join(redactArgs(args), " ")
}

func redactText(text string, args []string) string {
	for _, a := range args {
		if r := redactURL(a); r != a {
			text = strings.ReplaceAll(text, a, r)
		}
	}
	return text
}

func redactURL(s string) string {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return s
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok || strings.Contains(userinfo, "/") {
		return s
	}
	return scheme + "://***@" + host
}
