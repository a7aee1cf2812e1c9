// Package patch parses unified diffs and applies them to a working tree.
//
// Parsing is strict: text that does not follow the unified diff structure is
// rejected as a whole. Application is lenient: hunks that do not match the
// original content byte for byte are applied on a best-effort basis and the
// mismatch is logged.
package patch

import (
	"fmt"
	"strings"
)

// DevNull is the path sentinel used by unified diffs for a missing side.
const DevNull = "/dev/null"

// ChangeKind classifies a single line inside a hunk.
type ChangeKind int

const (
	Context ChangeKind = iota
	Added
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Context:
		return "context"
	case Added:
		return "added"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change is one line of a hunk without its leading marker and line terminator.
type Change struct {
	Kind ChangeKind
	Text string
}

// Hunk is a contiguous change region of a file.
type Hunk struct {
	SourceStart  int
	SourceLength int
	TargetStart  int
	TargetLength int
	Changes      []Change
}

// sourceLines returns the lines the hunk expects to find in the original file.
func (h *Hunk) sourceLines() []string {
	var lines []string
	for _, c := range h.Changes {
		if c.Kind != Added {
			lines = append(lines, c.Text)
		}
	}
	return lines
}

// Diff is the parsed form of one file section of a unified diff.
type Diff struct {
	// OldPath is DevNull for a created file and empty when the diff never
	// named the original file.
	OldPath string
	// NewPath is DevNull for a deleted file.
	NewPath string

	// Hunks is nil when the section carried no hunk data (mode changes,
	// binary files, pure renames).
	Hunks []Hunk

	Rename bool
	Binary bool

	// NoNewlineAtEOF is set when the diff marks the last target line with
	// "\ No newline at end of file".
	NoNewlineAtEOF bool
}

// IsCreation reports whether the diff creates a new file.
func (d *Diff) IsCreation() bool { return d.OldPath == DevNull }

// IsDeletion reports whether the diff removes a file.
func (d *Diff) IsDeletion() bool { return d.NewPath == DevNull }

// Path returns the most descriptive path for log messages.
func (d *Diff) Path() string {
	if d.NewPath != "" && d.NewPath != DevNull {
		return d.NewPath
	}
	return d.OldPath
}

// MalformedPatchError reports diff text that does not follow the unified
// diff structure.
type MalformedPatchError struct {
	Line   int // 1-based line number in the patch text, 0 if unknown
	Reason string
}

func (e *MalformedPatchError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed patch at line %d: %s", e.Line, e.Reason)
	}
	return "malformed patch: " + e.Reason
}

// FileWarning records a file section that was skipped while applying an
// otherwise valid patch.
type FileWarning struct {
	Path   string
	Reason string
}

func (w FileWarning) String() string {
	return fmt.Sprintf("%s: %s", w.Path, w.Reason)
}

// Report summarises the effect of ApplyPatch on the working tree.
type Report struct {
	Written  []string
	Deleted  []string
	Warnings []FileWarning
}

// Clean reports whether every file section was applied.
func (r *Report) Clean() bool { return len(r.Warnings) == 0 }

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d written, %d deleted, %d skipped", len(r.Written), len(r.Deleted), len(r.Warnings))
	for _, w := range r.Warnings {
		b.WriteString("\n  ")
		b.WriteString(w.String())
	}
	return b.String()
}
