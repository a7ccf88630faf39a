// Package trailer formats and parses the commit-message trailers that
// carry typed metadata on checkpoint, patch, and anchor commit-like
// objects (spec §6): one "key: value" pair per line, after a blank line
// following the title.
package trailer

import (
	"sort"
	"strings"
)

// Kind values for the "warp-kind" trailer.
const (
	KindPatch      = "patch"
	KindCheckpoint = "checkpoint"
	KindAnchor     = "anchor"
)

// Well-known trailer keys.
const (
	KeyKind       = "warp-kind"
	KeyGraph      = "warp-graph"
	KeySchema     = "warp-schema"
	KeyStateHash  = "warp-state-hash"
	KeyFrontier   = "warp-frontier-oid"
	KeyIndex      = "warp-index-oid"
	KeyPatch      = "warp-patch-oid"
)

// Format renders a commit message: a title line, a blank line, then one
// trailer per line in the order given (conventionally kind/graph/schema
// first, then kind-specific keys). Keys are written in the order of
// pairs, not sorted, so callers control the canonical ordering.
func Format(title string, pairs [][2]string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	for _, kv := range pairs {
		b.WriteString(kv[0])
		b.WriteString(": ")
		b.WriteString(kv[1])
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Parse splits a commit message into its title and trailer map. Only
// lines of the form "key: value" appearing after the first blank line
// are treated as trailers; everything before that blank line is the
// title (including embedded newlines, rejoined with "\n").
func Parse(message string) (title string, trailers map[string]string) {
	lines := strings.Split(message, "\n")
	trailers = make(map[string]string)

	blankIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankIdx = i
			break
		}
	}
	if blankIdx == -1 {
		return strings.TrimRight(message, "\n"), trailers
	}

	title = strings.Join(lines[:blankIdx], "\n")
	for _, line := range lines[blankIdx+1:] {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ": ")
		if idx == -1 {
			continue
		}
		key := line[:idx]
		value := line[idx+2:]
		trailers[key] = value
	}
	return title, trailers
}

// SortedKeys returns the trailer map's keys in sorted order, for callers
// that want deterministic re-serialization.
func SortedKeys(trailers map[string]string) []string {
	keys := make([]string, 0, len(trailers))
	for k := range trailers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
