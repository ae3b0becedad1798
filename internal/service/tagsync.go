package service

import (
	"sort"

	"docsentry/internal/models"
)

const anomalyTagPrefix = "anomaly:"

// Bare tag names written by pre-prefix versions of this system. They are
// stripped alongside anomaly:* tags on every sync.
var legacyAnomalyTagNames = map[string]struct{}{
	"balance_mismatch":    {},
	"check_sequence_gap":  {},
	"layout_irregularity": {},
	"page_discontinuity":  {},
	"duplicate_lines":     {},
	"reversed_columns":    {},
	"truncated_total":     {},
	"image_manipulation":  {},
	"detected":            {},
}

// ProjectTags maps detected anomaly types to their namespaced tag names,
// deduplicated and sorted.
func ProjectTags(types []models.AnomalyType) []string {
	seen := make(map[string]struct{}, len(types))
	var names []string
	for _, t := range types {
		name := anomalyTagPrefix + string(t)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OwnedTag reports whether this system manages the tag name. Owned tags are
// the anomaly:* namespace plus the legacy bare names; everything else
// belongs to the user and is never touched.
func OwnedTag(name string) bool {
	if len(name) >= len(anomalyTagPrefix) && name[:len(anomalyTagPrefix)] == anomalyTagPrefix {
		return true
	}
	_, legacy := legacyAnomalyTagNames[name]
	return legacy
}

// TagDiff is the outcome of comparing a document's current remote tags with
// the desired anomaly tag set.
type TagDiff struct {
	// KeepIDs are the unowned tag ids, preserved verbatim in any write.
	KeepIDs []int64
	// CurrentOwned are the owned tag names currently on the document, sorted.
	CurrentOwned []string
	// Desired are the owned tag names that should be on the document, sorted.
	Desired []string
}

// InSync reports whether the owned tag set already matches, meaning no
// remote write is needed.
func (d TagDiff) InSync() bool {
	if len(d.CurrentOwned) != len(d.Desired) {
		return false
	}
	for i := range d.CurrentOwned {
		if d.CurrentOwned[i] != d.Desired[i] {
			return false
		}
	}
	return true
}

// DiffTags splits a document's current tags into owned and unowned sets and
// pairs them with the desired owned names. Tag ids missing from the name map
// cannot be proven owned and are kept.
func DiffTags(currentIDs []int64, names map[int64]string, desired []string) TagDiff {
	diff := TagDiff{Desired: append([]string(nil), desired...)}
	sort.Strings(diff.Desired)

	for _, id := range currentIDs {
		name, known := names[id]
		if known && OwnedTag(name) {
			diff.CurrentOwned = append(diff.CurrentOwned, name)
			continue
		}
		diff.KeepIDs = append(diff.KeepIDs, id)
	}
	sort.Strings(diff.CurrentOwned)
	return diff
}
