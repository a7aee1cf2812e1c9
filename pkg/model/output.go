package model

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// OutputFile is the per-attempt record file name.
const OutputFile = "output.jsonl"

// ErrOutputNotFound is returned by LoadOutput when no record matches.
var ErrOutputNotFound = errors.New("no resolver output for issue")

// LoadOutput returns the last record in the JSONL file at path whose issue
// number is issueNumber.
func LoadOutput(path string, issueNumber int) (*ResolverOutput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var found *ResolverOutput
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec ResolverOutput
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if rec.Issue.Number == issueNumber {
			found = &rec
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if found == nil {
		return nil, fmt.Errorf("%w #%d in %s", ErrOutputNotFound, issueNumber, path)
	}
	return found, nil
}

// AppendOutput writes rec as one line at the end of path.
func AppendOutput(path string, rec *ResolverOutput) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
