package collector_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"filesweep/internal/collector"
	"filesweep/internal/config"
	"filesweep/internal/refsource"
)

type tableSource struct {
	tables  map[string][]refsource.Row
	failOn  string
	queries []refsource.Query
}

func (s *tableSource) Scan(_ context.Context, q refsource.Query, fn func(refsource.Row) error) error {
	s.queries = append(s.queries, q)
	if q.Table == s.failOn {
		return &refsource.ScanError{Table: q.Table, Err: errors.New("connection lost")}
	}
	for _, row := range s.tables[q.Table] {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *tableSource) Close() {}

func testCatalog(t *testing.T) collector.Catalog {
	t.Helper()
	catalog, err := collector.CatalogFromConfig([]config.Entity{
		{
			Type: "users", Table: "users", IDColumn: "id", Visibility: "public", AssetClass: "avatars",
			Fields: []config.Field{{Name: "avatar", Kind: "structured", FlagColumn: "has_avatar", FilenameColumn: "avatar_filename"}},
		},
		{
			Type: "documents", Table: "documents", IDColumn: "id", Visibility: "private", AssetClass: "docs",
			Fields: []config.Field{{Name: "legacy", Kind: "legacy_url", URLColumn: "file_url"}},
		},
		{
			Type: "attachments", Table: "attachments", IDColumn: "id", Visibility: "private",
			Fields: []config.Field{{Name: "file", Kind: "structured", FlagColumn: "has_file", FilenameColumn: "filename", AssetClass: "attachments"}},
			Polymorphic: &config.Polymorphic{
				TypeColumn: "owner_type", OwnerIDColumn: "owner_id",
				TypeMap: map[string]string{"User": "users", "Document": "documents"},
			},
		},
	})
	if err != nil {
		t.Fatalf("CatalogFromConfig returned error: %v", err)
	}
	return catalog
}

func TestCollectWalksEveryEntityAndCountsIssues(t *testing.T) {
	source := &tableSource{tables: map[string][]refsource.Row{
		"users": {
			{"id": int64(1), "has_avatar": int64(1), "avatar_filename": "a.jpg"},
			{"id": int64(2), "has_avatar": int64(1), "avatar_filename": nil},
			{"id": int64(3), "has_avatar": int64(0), "avatar_filename": nil},
		},
		"documents": {
			{"id": "d1", "file_url": "__stored__"},
			{"id": "d2", "file_url": "private/docs/documents/d2/report.pdf"},
		},
		"attachments": {
			{"id": int64(7), "owner_type": "User", "owner_id": int64(1), "has_file": true, "filename": "cv.pdf"},
			{"id": int64(8), "owner_type": "Invoice", "owner_id": int64(9), "has_file": true, "filename": "x.pdf"},
		},
	}}

	c := collector.New(source, testCatalog(t), collector.Options{Placeholders: []string{"__stored__"}, PageSize: 50}, nil)
	var refs []collector.FileReference
	stats, err := c.Collect(context.Background(), "production", func(ref collector.FileReference) {
		refs = append(refs, ref)
	})
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}

	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, ref.ExpectedKey)
	}
	sort.Strings(keys)
	want := []string{
		"production/private/docs/documents/d2/report.pdf",
		"production/public/attachments/users/1/cv.pdf",
		"production/public/avatars/users/1/a.jpg",
	}
	if len(keys) != len(want) {
		t.Fatalf("got keys %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got keys %v, want %v", keys, want)
		}
	}

	if stats.Records != 7 || stats.References != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.DataQualityWarnings != 2 {
		t.Fatalf("expected 2 data quality warnings (flag without filename, placeholder), got %d", stats.DataQualityWarnings)
	}
	if stats.CollectionErrors != 1 {
		t.Fatalf("expected 1 collection error (unknown owner type), got %d", stats.CollectionErrors)
	}
	if stats.ByKind[collector.KindPolymorphic] != 1 || stats.ByKind[collector.KindStructured] != 1 || stats.ByKind[collector.KindLegacyURL] != 1 {
		t.Fatalf("unexpected per-kind counts: %v", stats.ByKind)
	}

	for _, ref := range refs {
		if ref.SourceKind == collector.KindPolymorphic && (ref.EntityType != "users" || ref.EntityID != "1") {
			t.Fatalf("polymorphic reference not resolved to owner: %+v", ref)
		}
	}

	if len(source.queries) != 3 || source.queries[0].PageSize != 50 {
		t.Fatalf("unexpected queries: %+v", source.queries)
	}
	cols := map[string]bool{}
	for _, col := range source.queries[2].Columns {
		cols[col] = true
	}
	for _, col := range []string{"id", "has_file", "filename", "owner_type", "owner_id"} {
		if !cols[col] {
			t.Fatalf("attachments query missing column %q: %v", col, source.queries[2].Columns)
		}
	}
}

func TestCollectSourceFailureIsFatal(t *testing.T) {
	source := &tableSource{failOn: "documents", tables: map[string][]refsource.Row{}}
	c := collector.New(source, testCatalog(t), collector.Options{}, nil)

	_, err := c.Collect(context.Background(), "staging", func(collector.FileReference) {})
	var scanErr *refsource.ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected ScanError, got %v", err)
	}
}

func TestCatalogRejectsUnknownKindAndDanglingTypeMap(t *testing.T) {
	_, err := collector.NewCatalog([]collector.EntitySpec{{
		Type: "users", Table: "users", IDColumn: "id",
		Fields: []collector.FieldSpec{{Name: "x", Kind: "blob"}},
	}})
	if err == nil {
		t.Fatal("expected unknown kind error")
	}

	_, err = collector.NewCatalog([]collector.EntitySpec{{
		Type: "attachments", Table: "attachments", IDColumn: "id",
		Fields:      []collector.FieldSpec{{Name: "f", Kind: collector.KindLegacyURL, URLColumn: "u"}},
		Polymorphic: &collector.PolymorphicSpec{TypeColumn: "t", OwnerIDColumn: "o", TypeMap: map[string]string{"User": "users"}},
	}})
	if err == nil {
		t.Fatal("expected dangling type map error")
	}
}
