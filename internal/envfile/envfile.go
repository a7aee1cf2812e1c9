// Package envfile reads and writes KEY=VALUE files: the side-channel file a
// CI runner exposes through GITHUB_ENV, and the local config file.
package envfile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// EnvVar names the variable holding the side-channel file path.
const EnvVar = "GITHUB_ENV"

// File is an append-only KEY=VALUE log.
type File struct {
	path string
	mu   sync.Mutex
}

// New returns a File writing to path.
func New(path string) *File {
	return &File{path: path}
}

// FromEnv returns the File named by GITHUB_ENV.
func FromEnv() (*File, error) {
	p := os.Getenv(EnvVar)
	if p == "" {
		return nil, fmt.Errorf("%s is not set", EnvVar)
	}
	return New(p), nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

func checkPair(key, value string) error {
	if key == "" || strings.ContainsAny(key, "=\n#") {
		return fmt.Errorf("invalid key %q", key)
	}
	if strings.Contains(value, "\n") {
		return fmt.Errorf("value for %s contains a newline", key)
	}
	return nil
}

// Append writes KEY=VALUE on its own line.
func (f *File) Append(key, value string) error {
	if err := checkPair(key, value); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.path, err)
	}
	if _, err := fmt.Fprintf(fh, "%s=%s\n", key, value); err != nil {
		fh.Close()
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	return fh.Close()
}

// Read parses path, the last value of a key winning. Blank lines and lines
// starting with '#' are skipped. A missing file yields an empty map.
func Read(path string) (map[string]string, error) {
	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	vals := map[string]string{}
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		vals[strings.TrimSpace(k)] = v
	}
	return vals, sc.Err()
}

// Pair is one KEY=VALUE line.
type Pair struct {
	Key, Value string
}

// Write replaces path with the comment lines in header followed by pairs in
// order. The file is private to the user and is swapped in with a rename, so
// readers never see a partial file.
func Write(path string, header []string, pairs []Pair) error {
	for _, p := range pairs {
		if err := checkPair(p.Key, p.Value); err != nil {
			return err
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".envfile-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, h := range header {
		fmt.Fprintf(w, "# %s\n", h)
	}
	if len(header) > 0 {
		w.WriteByte('\n')
	}
	for _, p := range pairs {
		fmt.Fprintf(w, "%s=%s\n", p.Key, p.Value)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
