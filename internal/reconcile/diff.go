package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"filesweep/internal/collector"
	"filesweep/internal/objectstore"
)

// InconsistencyKind labels an informational diff warning.
type InconsistencyKind string

const (
	// DuplicateReference means several references resolve to one key.
	DuplicateReference InconsistencyKind = "duplicate_reference"
	// ObjectCaseCollision means several stored keys differ only by case or separators.
	ObjectCaseCollision InconsistencyKind = "object_case_collision"
)

// Inconsistency is a non-fatal diff warning.
type Inconsistency struct {
	Kind    InconsistencyKind `json:"kind"`
	Key     string            `json:"key"`
	Sources []string          `json:"sources"`
}

func (i Inconsistency) String() string {
	return fmt.Sprintf("%s %s (%s)", i.Kind, i.Key, strings.Join(i.Sources, ", "))
}

// Result classifies every object and every distinct expected key exactly once:
//
//	MatchedCount + len(Orphans) == number of objects
//	MatchedCount + len(Missing) == number of distinct expected keys
type Result struct {
	Orphans      []objectstore.ObjectRecord
	Missing      []collector.FileReference
	MatchedCount int
	// MatchedKeys holds the raw keys of matched objects, sorted.
	MatchedKeys []string
	// ExpectedCount is the number of distinct normalized expected keys.
	ExpectedCount int
	Warnings      []Inconsistency
}

// NormalizeKey canonicalizes a key for comparison: NFC, Unicode case fold,
// no leading or trailing separator, no empty segments.
func NormalizeKey(key string) string {
	key = cases.Fold().String(norm.NFC.String(key))
	segments := strings.Split(key, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "/")
}

// Diff computes orphans (stored, unreferenced) and missing (referenced, not
// stored). Several references to the same key match a single object once and
// yield a DuplicateReference warning. When several objects normalize to the
// same key, the one whose raw key equals the reference is matched (otherwise
// the lowest raw key) and the rest are orphans.
func Diff(refs []collector.FileReference, objects []objectstore.ObjectRecord) Result {
	type refGroup struct {
		ref     collector.FileReference
		sources []string
	}
	expected := make(map[string]*refGroup, len(refs))
	order := make([]string, 0, len(refs))
	for _, ref := range refs {
		key := NormalizeKey(ref.ExpectedKey)
		if group, ok := expected[key]; ok {
			group.sources = append(group.sources, describe(ref))
			continue
		}
		expected[key] = &refGroup{ref: ref, sources: []string{describe(ref)}}
		order = append(order, key)
	}

	stored := make(map[string][]objectstore.ObjectRecord, len(objects))
	for _, obj := range objects {
		key := NormalizeKey(obj.Key)
		stored[key] = append(stored[key], obj)
	}

	var result Result
	result.ExpectedCount = len(expected)

	for key, group := range stored {
		sort.Slice(group, func(i, j int) bool { return group[i].Key < group[j].Key })
		ref, referenced := expected[key]
		if len(group) > 1 {
			sources := make([]string, len(group))
			for i, obj := range group {
				sources[i] = obj.Key
			}
			result.Warnings = append(result.Warnings, Inconsistency{Kind: ObjectCaseCollision, Key: key, Sources: sources})
		}
		if !referenced {
			result.Orphans = append(result.Orphans, group...)
			continue
		}
		match := 0
		for i, obj := range group {
			if obj.Key == ref.ref.ExpectedKey {
				match = i
				break
			}
		}
		result.MatchedCount++
		result.MatchedKeys = append(result.MatchedKeys, group[match].Key)
		for i, obj := range group {
			if i != match {
				result.Orphans = append(result.Orphans, obj)
			}
		}
	}

	for _, key := range order {
		group := expected[key]
		if len(group.sources) > 1 {
			result.Warnings = append(result.Warnings, Inconsistency{Kind: DuplicateReference, Key: key, Sources: group.sources})
		}
		if _, ok := stored[key]; !ok {
			result.Missing = append(result.Missing, group.ref)
		}
	}

	sort.Slice(result.Orphans, func(i, j int) bool { return result.Orphans[i].Key < result.Orphans[j].Key })
	sort.Slice(result.Missing, func(i, j int) bool { return result.Missing[i].ExpectedKey < result.Missing[j].ExpectedKey })
	sort.Strings(result.MatchedKeys)
	sort.Slice(result.Warnings, func(i, j int) bool {
		if result.Warnings[i].Key != result.Warnings[j].Key {
			return result.Warnings[i].Key < result.Warnings[j].Key
		}
		return result.Warnings[i].Kind < result.Warnings[j].Kind
	})
	return result
}

func describe(ref collector.FileReference) string {
	return fmt.Sprintf("%s/%s.%s[%s]", ref.EntityType, ref.EntityID, ref.FieldName, ref.SourceKind)
}
