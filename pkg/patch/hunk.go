package patch

import (
	"context"

	"github.com/chainguard-dev/clog"
)

// searchWindow bounds how far from its declared position a hunk is looked
// for when the original content has drifted.
const searchWindow = 200

// ApplyHunks applies the hunks of d to original and returns the new logical
// lines. Lines outside hunk ranges are copied verbatim.
//
// Each hunk is placed at its declared source position. When the expected
// context does not match there, the nearest exact match within searchWindow
// lines is used instead; failing that the hunk is applied at the declared
// position and every mismatching line is logged.
func ApplyHunks(ctx context.Context, d *Diff, original []string) []string {
	lines, _ := applyHunks(ctx, d, original)
	return lines
}

// applyHunks is ApplyHunks that also reports whether the last hunk consumed
// the original through its final line.
func applyHunks(ctx context.Context, d *Diff, original []string) ([]string, bool) {
	log := clog.FromContext(ctx)

	out := make([]string, 0, len(original))
	pos := 0

	for i := range d.Hunks {
		h := &d.Hunks[i]
		want := h.sourceLines()

		start := h.SourceStart - 1
		if h.SourceLength == 0 {
			// A zero-length source range names the line after which to insert.
			start = h.SourceStart
		}
		start = clamp(start, pos, len(original))

		if !matchesAt(original, start, want) {
			if found, ok := locate(original, pos, start, want); ok {
				log.Infof("hunk %d of %s matched %+d lines from its header", i+1, d.Path(), found-start)
				start = found
			} else {
				log.Warnf("hunk %d of %s does not match the original at line %d, applying anyway", i+1, d.Path(), start+1)
			}
		}

		out = append(out, original[pos:start]...)
		cur := start

		for _, c := range h.Changes {
			switch c.Kind {
			case Context:
				if cur < len(original) {
					if original[cur] != c.Text {
						log.Warnf("%s:%d: context mismatch: have %q, patch expects %q", d.Path(), cur+1, original[cur], c.Text)
					}
					cur++
				} else {
					log.Warnf("%s: context line %q lies past the end of the file", d.Path(), c.Text)
				}
				out = append(out, c.Text)
			case Removed:
				if cur < len(original) {
					if original[cur] != c.Text {
						log.Warnf("%s:%d: removed line mismatch: have %q, patch expects %q", d.Path(), cur+1, original[cur], c.Text)
					}
					cur++
				} else {
					log.Warnf("%s: removed line %q lies past the end of the file", d.Path(), c.Text)
				}
			case Added:
				out = append(out, c.Text)
			}
		}
		pos = cur
	}

	return append(out, original[pos:]...), pos == len(original)
}

func matchesAt(original []string, start int, want []string) bool {
	if start < 0 || start+len(want) > len(original) {
		return false
	}
	for i, w := range want {
		if original[start+i] != w {
			return false
		}
	}
	return true
}

// locate searches outward from start for an exact placement of want that
// does not overlap lines already consumed by earlier hunks.
func locate(original []string, floor, start int, want []string) (int, bool) {
	if len(want) == 0 {
		return 0, false
	}
	for delta := 1; delta <= searchWindow; delta++ {
		if after := start + delta; after+len(want) <= len(original) && matchesAt(original, after, want) {
			return after, true
		}
		if before := start - delta; before >= floor && matchesAt(original, before, want) {
			return before, true
		}
	}
	return 0, false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
