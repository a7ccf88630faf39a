package index

import "github.com/git-warp/warp"

// StalenessReport is the result of comparing an index's frontier (the
// writer tips visible when the index was built) against a current
// frontier: which writers have advanced since, and whether the index
// should be treated as stale.
type StalenessReport struct {
	Stale           bool
	AdvancedWriters []string
}

// CheckStaleness reports whether current has advanced past indexed for
// any writer. A writer missing from indexed but present in current
// counts as advanced (a new writer joined since the index was built).
// indexed entries for writers absent from current are ignored: a writer
// disappearing from the current frontier isn't something staleness
// tracks.
func CheckStaleness(indexed, current map[string]warp.OID) StalenessReport {
	var advanced []string
	for writer, currentTip := range current {
		indexedTip, ok := indexed[writer]
		if !ok || indexedTip != currentTip {
			advanced = append(advanced, writer)
		}
	}
	return StalenessReport{Stale: len(advanced) > 0, AdvancedWriters: advanced}
}
