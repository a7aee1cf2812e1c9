package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/chainguard-dev/clog"
)

// ApplyPatch parses patchText and applies every file section to the tree
// rooted at repoDir.
//
// A patch that fails to parse is rejected before any file is touched. Once
// parsed, file sections are independent: a section that cannot be resolved
// is recorded as a warning in the report and the remaining sections are
// still applied. All file access goes through an os.Root so that paths in
// the patch cannot escape repoDir.
func ApplyPatch(ctx context.Context, repoDir, patchText string) (*Report, error) {
	diffs, err := Parse(patchText)
	if err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(repoDir)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", repoDir, err)
	}
	defer root.Close()

	log := clog.FromContext(ctx)
	report := &Report{}
	for i := range diffs {
		d := &diffs[i]
		if w := applyOne(ctx, root, d, report); w != nil {
			log.Warnf("skipping %s", w)
			report.Warnings = append(report.Warnings, *w)
		}
	}
	log.Infof("patch applied to %s: %d written, %d deleted, %d skipped",
		repoDir, len(report.Written), len(report.Deleted), len(report.Warnings))
	return report, nil
}

func applyOne(ctx context.Context, root *os.Root, d *Diff, report *Report) *FileWarning {
	if d.IsDeletion() {
		if d.OldPath == "" || d.OldPath == DevNull {
			return &FileWarning{Path: d.Path(), Reason: "deletion does not name the file to delete"}
		}
		if err := root.Remove(d.OldPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &FileWarning{Path: d.OldPath, Reason: "file to delete does not exist"}
			}
			return &FileWarning{Path: d.OldPath, Reason: err.Error()}
		}
		report.Deleted = append(report.Deleted, d.OldPath)
		return nil
	}

	if d.Binary {
		return &FileWarning{Path: d.Path(), Reason: "binary patches are not supported"}
	}
	if d.Hunks == nil && !d.Rename {
		return &FileWarning{Path: d.Path(), Reason: "no hunk data to apply"}
	}

	var (
		original   []string
		newline    = defaultNewline()
		terminated = true
		perm       fs.FileMode = 0o644
	)
	if d.OldPath != "" && d.OldPath != DevNull {
		raw, err := root.ReadFile(d.OldPath)
		switch {
		case err == nil:
			original, newline, terminated = splitLines(raw)
			if info, err := root.Stat(d.OldPath); err == nil {
				perm = info.Mode().Perm()
			}
		case errors.Is(err, fs.ErrNotExist):
			// Treated as an empty original.
		default:
			return &FileWarning{Path: d.OldPath, Reason: err.Error()}
		}
	}

	lines, atEOF := applyHunks(ctx, d, original)
	// The no-newline marker only describes the last line when a hunk reached
	// it; otherwise the original ending is kept.
	terminate := terminated
	if atEOF && len(d.Hunks) > 0 {
		terminate = !d.NoNewlineAtEOF
	}

	if dir := filepath.Dir(d.NewPath); dir != "." {
		if err := root.MkdirAll(dir, 0o755); err != nil {
			return &FileWarning{Path: d.NewPath, Reason: err.Error()}
		}
	}
	if err := root.WriteFile(d.NewPath, joinLines(lines, newline, terminate), perm); err != nil {
		return &FileWarning{Path: d.NewPath, Reason: err.Error()}
	}
	report.Written = append(report.Written, d.NewPath)

	if d.Rename && d.OldPath != "" && d.OldPath != DevNull && d.OldPath != d.NewPath {
		if err := root.Remove(d.OldPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			clog.FromContext(ctx).Warnf("removing renamed file %s: %v", d.OldPath, err)
		}
	}
	return nil
}

// splitLines detects the line terminator of raw and splits it into logical
// lines: "\r\n" if it occurs anywhere, else "\n", else the platform default.
// terminated reports whether raw ended with that terminator.
func splitLines(raw []byte) (lines []string, newline string, terminated bool) {
	s := string(raw)
	switch {
	case strings.Contains(s, "\r\n"):
		newline = "\r\n"
	case strings.Contains(s, "\n"):
		newline = "\n"
	default:
		newline = defaultNewline()
	}
	if s == "" {
		return nil, newline, true
	}
	trimmed, terminated := strings.CutSuffix(s, newline)
	return strings.Split(trimmed, newline), newline, terminated
}

func joinLines(lines []string, newline string, terminateLast bool) []byte {
	var b strings.Builder
	for i, l := range lines {
		b.WriteString(l)
		if i < len(lines)-1 || terminateLast {
			b.WriteString(newline)
		}
	}
	return []byte(b.String())
}

func defaultNewline() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}
