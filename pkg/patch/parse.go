package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRE = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse splits unified diff text into per-file diffs, preserving the order
// of files and of hunks within each file. It returns a *MalformedPatchError
// when a hunk header cannot be parsed or a file section names no new path.
func Parse(text string) ([]Diff, error) {
	p := &parser{lines: splitPatchLines(text)}
	return p.parse()
}

type section struct {
	diff      Diff
	startLine int

	gitOld, gitNew       string
	renameFrom, renameTo string
	newFile, deletedFile bool
	sawOld, sawNew       bool
}

type parser struct {
	lines []string
	i     int
	cur   *section
	diffs []Diff
}

func splitPatchLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func (p *parser) parse() ([]Diff, error) {
	for p.i < len(p.lines) {
		line := p.lines[p.i]
		lineNo := p.i + 1

		switch {
		case strings.HasPrefix(line, "diff --git "):
			if err := p.flush(); err != nil {
				return nil, err
			}
			p.cur = &section{startLine: lineNo}
			p.cur.gitOld, p.cur.gitNew = parseGitHeader(line[len("diff --git "):])

		case strings.HasPrefix(line, "--- ") && p.fileHeaderAt(p.i):
			if p.cur == nil || p.cur.sawOld {
				if err := p.flush(); err != nil {
					return nil, err
				}
				p.cur = &section{startLine: lineNo}
			}
			p.cur.diff.OldPath = parsePath(line[len("--- "):])
			p.cur.sawOld = true

		case strings.HasPrefix(line, "+++ ") && p.cur != nil && !p.cur.sawNew:
			p.cur.diff.NewPath = parsePath(line[len("+++ "):])
			p.cur.sawNew = true

		case strings.HasPrefix(line, "@@"):
			if p.cur == nil {
				return nil, &MalformedPatchError{Line: lineNo, Reason: "hunk header outside a file section"}
			}
			h, ok := parseHunkHeader(line)
			if !ok {
				return nil, &MalformedPatchError{Line: lineNo, Reason: fmt.Sprintf("invalid hunk header %q", line)}
			}
			p.i++
			p.readHunkBody(&h)
			p.cur.diff.Hunks = append(p.cur.diff.Hunks, h)
			continue

		case p.cur != nil && strings.HasPrefix(line, "rename from "):
			p.cur.renameFrom = parsePath(line[len("rename from "):])
			p.cur.diff.Rename = true

		case p.cur != nil && strings.HasPrefix(line, "rename to "):
			p.cur.renameTo = parsePath(line[len("rename to "):])
			p.cur.diff.Rename = true

		case p.cur != nil && strings.HasPrefix(line, "new file mode"):
			p.cur.newFile = true

		case p.cur != nil && strings.HasPrefix(line, "deleted file mode"):
			p.cur.deletedFile = true

		case p.cur != nil && (strings.HasPrefix(line, "Binary files ") || line == "GIT binary patch"):
			p.cur.diff.Binary = true
		}
		p.i++
	}

	if err := p.flush(); err != nil {
		return nil, err
	}
	return p.diffs, nil
}

// readHunkBody consumes hunk lines. The header counts decide where the body
// ends. Marker lines past the counts are still taken when they run up to the
// next section or the end of the patch. A format-patch signature ("-- ") or
// trailing text ends the body.
func (p *parser) readHunkBody(h *Hunk) {
	src, tgt := h.SourceLength, h.TargetLength
	lastKind, hasLast := Context, false
	overflowOK := false

	for p.i < len(p.lines) {
		line := p.lines[p.i]

		if strings.HasPrefix(line, `\`) {
			if hasLast && lastKind != Removed {
				p.cur.diff.NoNewlineAtEOF = true
			}
			p.i++
			continue
		}

		within := src > 0 || tgt > 0
		if p.startsSection(p.i, within) {
			return
		}

		var c Change
		switch {
		case line == "":
			if !within {
				return
			}
			c = Change{Kind: Context}
		case line[0] == ' ':
			c = Change{Kind: Context, Text: line[1:]}
		case line[0] == '+':
			c = Change{Kind: Added, Text: line[1:]}
		case line[0] == '-':
			c = Change{Kind: Removed, Text: line[1:]}
		default:
			return
		}
		if !within && !overflowOK {
			if !p.overflowRunsToBoundary(p.i) {
				return
			}
			overflowOK = true
		}

		switch c.Kind {
		case Context:
			src--
			tgt--
		case Added:
			tgt--
		case Removed:
			src--
		}
		h.Changes = append(h.Changes, c)
		lastKind, hasLast = c.Kind, true
		p.i++
	}
}

// overflowRunsToBoundary reports whether the lines from i up to the next
// section (or the end of the patch) all look like hunk content.
func (p *parser) overflowRunsToBoundary(i int) bool {
	for j := i; j < len(p.lines); j++ {
		line := p.lines[j]
		if j > i && p.startsSection(j, false) {
			return true
		}
		switch {
		case line == "-- ":
			return false
		case line == "":
			continue
		case strings.ContainsRune(` +-\`, rune(line[0])):
			continue
		}
		return false
	}
	return true
}

// startsSection reports whether line i opens a new hunk or file section.
// Inside the declared hunk length a "--- " line is only a header when the
// full ---/+++/@@ triple follows.
func (p *parser) startsSection(i int, within bool) bool {
	line := p.lines[i]
	switch {
	case strings.HasPrefix(line, "@@"), strings.HasPrefix(line, "diff --git "):
		return true
	case strings.HasPrefix(line, "--- ") && p.fileHeaderAt(i):
		if !within {
			return true
		}
		return i+2 < len(p.lines) && strings.HasPrefix(p.lines[i+2], "@@")
	}
	return false
}

func (p *parser) fileHeaderAt(i int) bool {
	return i+1 < len(p.lines) && strings.HasPrefix(p.lines[i+1], "+++ ")
}

func (p *parser) flush() error {
	s := p.cur
	if s == nil {
		return nil
	}
	p.cur = nil

	d := s.diff
	if !s.sawOld {
		switch {
		case s.newFile:
			d.OldPath = DevNull
		case s.renameFrom != "":
			d.OldPath = s.renameFrom
		default:
			d.OldPath = s.gitOld
		}
	}
	if !s.sawNew {
		switch {
		case s.deletedFile:
			d.NewPath = DevNull
		case s.renameTo != "":
			d.NewPath = s.renameTo
		default:
			d.NewPath = s.gitNew
		}
	}
	if d.NewPath == "" {
		return &MalformedPatchError{Line: s.startLine, Reason: "file section has no new path"}
	}

	p.diffs = append(p.diffs, d)
	return nil
}

func parseHunkHeader(line string) (Hunk, bool) {
	m := hunkHeaderRE.FindStringSubmatch(line)
	if m == nil {
		return Hunk{}, false
	}
	num := func(s string, fallback int) int {
		if s == "" {
			return fallback
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fallback
		}
		return n
	}
	return Hunk{
		SourceStart:  num(m[1], 0),
		SourceLength: num(m[2], 1),
		TargetStart:  num(m[3], 0),
		TargetLength: num(m[4], 1),
	}, true
}

// parseGitHeader extracts both paths from the remainder of a
// "diff --git a/X b/Y" line.
func parseGitHeader(rest string) (oldPath, newPath string) {
	if strings.HasPrefix(rest, `"`) {
		if q, err := strconv.QuotedPrefix(rest); err == nil {
			return parsePath(q), parsePath(strings.TrimSpace(rest[len(q):]))
		}
	}
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return parsePath(rest[:i]), parsePath(rest[i+1:])
	}
	if fields := strings.Fields(rest); len(fields) == 2 {
		return parsePath(fields[0]), parsePath(fields[1])
	}
	return "", ""
}

// parsePath normalises a header path: drops a trailing timestamp, unquotes
// C-style quoted names and strips one a/ or b/ prefix.
func parsePath(raw string) string {
	p := raw
	if i := strings.IndexByte(p, '\t'); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, `"`) {
		if u, err := strconv.Unquote(p); err == nil {
			p = u
		}
	}
	if p == DevNull {
		return DevNull
	}
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		p = p[2:]
	}
	return p
}
