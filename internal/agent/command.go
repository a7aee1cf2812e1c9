package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/neulab/pr-arena/pkg/model"
)

// CommandRunner runs the resolver as a subprocess, on the host or inside a
// container when an image is configured.
type CommandRunner struct {
	command   []string
	image     string
	dockerBin string
	env       []string
}

// NewCommandRunner creates a runner for command (split on whitespace). env is
// added to the subprocess environment.
func NewCommandRunner(command, image string, env []string) *CommandRunner {
	r := &CommandRunner{
		command: strings.Fields(command),
		image:   image,
		env:     env,
	}
	if image != "" {
		r.dockerBin = findDocker()
	}
	return r
}

// findDocker locates the docker binary, checking PATH first and then
// well-known install locations.
func findDocker() string {
	if p, err := exec.LookPath("docker"); err == nil {
		return p
	}
	for _, c := range []string{
		"/usr/local/bin/docker",
		"/opt/homebrew/bin/docker",
		"/Applications/Docker.app/Contents/Resources/bin/docker",
	} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return "docker"
}

// Resolve runs the resolver and returns the record it appended for the issue.
func (r *CommandRunner) Resolve(ctx context.Context, req Request) (*model.ResolverOutput, error) {
	if len(r.command) == 0 {
		return nil, errors.New("no resolver command configured")
	}
	outDir, err := filepath.Abs(req.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	req.OutputDir = outDir

	log := clog.FromContext(ctx).With("model", req.Model, "issue", req.Issue.Number)
	env := r.childEnv(req)
	name, args := r.argv(req, env)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 0, 256*1024), 256*1024)
		for sc.Scan() {
			log.Debugf("resolver: %s", sc.Text())
		}
		_, _ = io.Copy(io.Discard, pr)
	}()

	log.Infof("starting resolver %s", r.command[0])
	start := time.Now()
	runErr := cmd.Run()
	pw.Close()
	<-done
	elapsed := time.Since(start)

	if runErr != nil {
		return nil, fmt.Errorf("resolver for %s: %w", req.Model, runErr)
	}

	out, err := model.LoadOutput(filepath.Join(outDir, model.OutputFile), req.Issue.Number)
	if err != nil {
		return nil, err
	}
	if out.Model == "" {
		out.Model = DisplayName(req.Model)
	}
	if out.Duration == 0 {
		out.Duration = elapsed.Seconds()
	}
	if out.BaseURL == "" {
		out.BaseURL = req.BaseURL
	}
	log.Infof("resolver finished in %s (success=%t, patch=%t)", elapsed.Round(time.Second), out.Success, out.HasPatch())
	return out, nil
}

// childEnv carries the secrets, so they never show up in the argument list.
func (r *CommandRunner) childEnv(req Request) []string {
	env := append([]string{}, r.env...)
	env = append(env,
		"LLM_MODEL="+req.Model,
		"LLM_API_KEY="+req.APIKey,
		"GITHUB_TOKEN="+req.Token,
	)
	if req.BaseURL != "" {
		env = append(env, "LLM_BASE_URL="+req.BaseURL)
	}
	if req.Username != "" {
		env = append(env, "GITHUB_USERNAME="+req.Username)
	}
	return env
}

func (r *CommandRunner) argv(req Request, env []string) (string, []string) {
	args := append([]string{}, r.command[1:]...)
	args = append(args,
		"--repo", req.Issue.FullName(),
		"--issue-number", strconv.Itoa(req.Issue.Number),
		"--issue-type", req.IssueType,
		"--max-iterations", strconv.Itoa(req.MaxIterations),
		"--output-dir", req.OutputDir,
	)
	if req.PromptFile != "" {
		args = append(args, "--prompt-file", req.PromptFile)
	}
	if req.RepoInstructionFile != "" {
		args = append(args, "--repo-instruction-file", req.RepoInstructionFile)
	}
	if r.image == "" {
		return r.command[0], args
	}

	docker := []string{"run", "--rm", "-v", req.OutputDir + ":" + req.OutputDir}
	for _, mount := range []string{req.PromptFile, req.RepoInstructionFile} {
		if mount != "" {
			docker = append(docker, "-v", mount+":"+mount+":ro")
		}
	}
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		docker = append(docker, "-e", k)
	}
	docker = append(docker, r.image, r.command[0])
	return r.dockerBin, append(docker, args...)
}
