package collector

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"filesweep/internal/objectstore"
)

// Record is one row read from the relational store.
type Record map[string]any

// ExtractContext carries everything a strategy needs besides the row itself.
// Visibility and AssetClass are the owning entity's defaults; field-level
// overrides live on Field.
type ExtractContext struct {
	Root         string
	EntityType   string
	EntityID     string
	Visibility   string
	AssetClass   string
	SourceKind   SourceKind
	Field        FieldSpec
	Placeholders map[string]struct{}
	LegacyHosts  map[string]struct{}
}

// Strategy derives references from one record. Strategies are pure.
type Strategy func(ec ExtractContext, rec Record) ([]FileReference, []Issue)

var strategies = map[SourceKind]Strategy{
	KindStructured: extractStructured,
	KindLegacyURL:  extractLegacyURL,
	KindJSONPath:   extractJSONPath,
}

// StrategyFor returns the extraction strategy for kind.
func StrategyFor(kind SourceKind) (Strategy, bool) {
	s, ok := strategies[kind]
	return s, ok
}

func (ec ExtractContext) kind(fallback SourceKind) SourceKind {
	if ec.SourceKind != "" {
		return ec.SourceKind
	}
	return fallback
}

func (ec ExtractContext) visibility() string {
	if ec.Field.Visibility != "" {
		return ec.Field.Visibility
	}
	if ec.Visibility != "" {
		return ec.Visibility
	}
	return "private"
}

func (ec ExtractContext) assetClass(slot string) string {
	for _, candidate := range []string{ec.Field.AssetClass, slot, ec.AssetClass, ec.Field.Name} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func (ec ExtractContext) issue(kind IssueKind, format string, args ...any) Issue {
	return Issue{
		Kind:       kind,
		EntityType: ec.EntityType,
		EntityID:   ec.EntityID,
		FieldName:  ec.Field.Name,
		Message:    fmt.Sprintf(format, args...),
	}
}

func (ec ExtractContext) reference(kind SourceKind, key string) FileReference {
	return FileReference{
		EntityType:  ec.EntityType,
		EntityID:    ec.EntityID,
		FieldName:   ec.Field.Name,
		SourceKind:  ec.kind(kind),
		ExpectedKey: key,
	}
}

// templatedKey renders {root}/{visibility}/{assetClass}/{entityType}/{entityId}/{filename}.
func (ec ExtractContext) templatedKey(slot, filename string) (string, error) {
	filename = strings.Trim(strings.TrimSpace(filename), "/")
	if err := checkPath(filename); err != nil {
		return "", err
	}
	return objectstore.JoinKey(ec.Root, ec.visibility(), ec.assetClass(slot), ec.EntityType, ec.EntityID, filename), nil
}

// rootedKey uses path verbatim, prefixing the environment root unless the
// path already starts with it.
func (ec ExtractContext) rootedKey(path string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if err := checkPath(path); err != nil {
		return "", err
	}
	root := strings.Trim(ec.Root, "/")
	if root == "" || path == root || strings.HasPrefix(path, root+"/") {
		return path, nil
	}
	return root + "/" + path, nil
}

func checkPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." || segment == "." {
			return fmt.Errorf("path %q contains a relative segment", path)
		}
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("path %q contains control characters", path)
		}
	}
	return nil
}

func extractStructured(ec ExtractContext, rec Record) ([]FileReference, []Issue) {
	var issues []Issue
	flag := truthy(rec[ec.Field.FlagColumn])
	filename := stringValue(rec[ec.Field.FilenameColumn])

	if flag {
		if strings.TrimSpace(filename) == "" {
			issues = append(issues, ec.issue(IssueDataQuality, "%s is set but %s is empty", ec.Field.FlagColumn, ec.Field.FilenameColumn))
		} else {
			key, err := ec.templatedKey("", filename)
			if err != nil {
				return nil, append(issues, ec.issue(IssueMalformed, "%s: %v", ec.Field.FilenameColumn, err))
			}
			return []FileReference{ec.reference(KindStructured, key)}, issues
		}
	}

	// The deprecated URL column only counts when the structured pair yields nothing.
	if ec.Field.LegacyURLColumn != "" {
		legacy := ec
		legacy.Field.URLColumn = ec.Field.LegacyURLColumn
		refs, legacyIssues := extractLegacyURL(legacy, rec)
		return refs, append(issues, legacyIssues...)
	}
	return nil, issues
}

// extractLegacyURL interprets a deprecated single-URL column. Placeholder
// detection is an exact match against the configured sentinel list; rows that
// carry a sentinel should be migrated to structured fields.
func extractLegacyURL(ec ExtractContext, rec Record) ([]FileReference, []Issue) {
	raw := strings.TrimSpace(stringValue(rec[ec.Field.URLColumn]))
	if raw == "" {
		return nil, nil
	}
	if _, ok := ec.Placeholders[raw]; ok {
		return nil, []Issue{ec.issue(IssueDataQuality, "%s holds placeholder sentinel %q", ec.Field.URLColumn, raw)}
	}

	path := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, []Issue{ec.issue(IssueMalformed, "%s: unparseable url: %v", ec.Field.URLColumn, err)}
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			if _, managed := ec.LegacyHosts[strings.ToLower(u.Hostname())]; !managed {
				// External asset; nothing to expect in the bucket.
				return nil, nil
			}
			path = u.Path
		case "s3":
			path = u.Path
		default:
			return nil, []Issue{ec.issue(IssueMalformed, "%s: unsupported url scheme %q", ec.Field.URLColumn, u.Scheme)}
		}
	} else if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}

	key, err := ec.rootedKey(path)
	if err != nil {
		return nil, []Issue{ec.issue(IssueMalformed, "%s: %v", ec.Field.URLColumn, err)}
	}
	return []FileReference{ec.reference(KindLegacyURL, key)}, nil
}

func extractJSONPath(ec ExtractContext, rec Record) ([]FileReference, []Issue) {
	doc, err := decodeDocument(rec[ec.Field.JSONColumn])
	if err != nil {
		return nil, []Issue{ec.issue(IssueMalformed, "%s: %v", ec.Field.JSONColumn, err)}
	}
	if doc == nil {
		return nil, nil
	}

	if ec.Field.JSONPath != "" {
		for _, segment := range strings.Split(ec.Field.JSONPath, ".") {
			obj, ok := doc.(map[string]any)
			if !ok {
				return nil, []Issue{ec.issue(IssueMalformed, "%s: %q is not an object at %q", ec.Field.JSONColumn, ec.Field.JSONPath, segment)}
			}
			doc, ok = obj[segment]
			if !ok || doc == nil {
				return nil, nil
			}
		}
	}

	var (
		refs   []FileReference
		issues []Issue
	)
	emit := func(slot string, descriptor any) {
		ref, issue, ok := ec.describe(slot, descriptor)
		if issue != nil {
			issues = append(issues, *issue)
		}
		if ok {
			refs = append(refs, ref)
		}
	}

	switch node := doc.(type) {
	case map[string]any:
		slots := make([]string, 0, len(node))
		for slot := range node {
			slots = append(slots, slot)
		}
		sort.Strings(slots)
		for _, slot := range slots {
			switch value := node[slot].(type) {
			case []any:
				for _, item := range value {
					emit(slot, item)
				}
			default:
				emit(slot, value)
			}
		}
	case []any:
		for _, item := range node {
			emit("", item)
		}
	default:
		emit("", node)
	}
	return refs, issues
}

// describe turns one file descriptor into a reference. A descriptor is a
// filename string or an object carrying key/path (used verbatim) or
// filename/name (templated).
func (ec ExtractContext) describe(slot string, descriptor any) (FileReference, *Issue, bool) {
	label := ec.Field.JSONColumn
	if slot != "" {
		label += "." + slot
	}
	switch d := descriptor.(type) {
	case nil:
		return FileReference{}, nil, false
	case string:
		if strings.TrimSpace(d) == "" {
			return FileReference{}, nil, false
		}
		if _, ok := ec.Placeholders[strings.TrimSpace(d)]; ok {
			issue := ec.issue(IssueDataQuality, "%s holds placeholder sentinel %q", label, d)
			return FileReference{}, &issue, false
		}
		key, err := ec.templatedKey(slot, d)
		if err != nil {
			issue := ec.issue(IssueMalformed, "%s: %v", label, err)
			return FileReference{}, &issue, false
		}
		return ec.reference(KindJSONPath, key), nil, true
	case map[string]any:
		for _, field := range []string{"key", "path"} {
			if v := stringValue(d[field]); strings.TrimSpace(v) != "" {
				key, err := ec.rootedKey(v)
				if err != nil {
					issue := ec.issue(IssueMalformed, "%s.%s: %v", label, field, err)
					return FileReference{}, &issue, false
				}
				return ec.reference(KindJSONPath, key), nil, true
			}
		}
		for _, field := range []string{"filename", "name"} {
			if v := stringValue(d[field]); strings.TrimSpace(v) != "" {
				key, err := ec.templatedKey(slot, v)
				if err != nil {
					issue := ec.issue(IssueMalformed, "%s.%s: %v", label, field, err)
					return FileReference{}, &issue, false
				}
				return ec.reference(KindJSONPath, key), nil, true
			}
		}
		issue := ec.issue(IssueMalformed, "%s: descriptor has no key, path, filename or name", label)
		return FileReference{}, &issue, false
	default:
		issue := ec.issue(IssueMalformed, "%s: unsupported descriptor type %T", label, descriptor)
		return FileReference{}, &issue, false
	}
}
