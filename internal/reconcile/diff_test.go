package reconcile_test

import (
	"fmt"
	"testing"

	"filesweep/internal/collector"
	"filesweep/internal/objectstore"
	"filesweep/internal/reconcile"
)

func ref(key string) collector.FileReference {
	return collector.FileReference{EntityType: "users", EntityID: "1", FieldName: "avatar", SourceKind: collector.KindStructured, ExpectedKey: key}
}

func obj(key string) objectstore.ObjectRecord {
	return objectstore.ObjectRecord{Key: key, SizeBytes: 1}
}

func checkInvariants(t *testing.T, res reconcile.Result, objects int) {
	t.Helper()
	if res.MatchedCount+len(res.Orphans) != objects {
		t.Fatalf("matched %d + orphans %d != objects %d", res.MatchedCount, len(res.Orphans), objects)
	}
	if res.MatchedCount+len(res.Missing) != res.ExpectedCount {
		t.Fatalf("matched %d + missing %d != expected %d", res.MatchedCount, len(res.Missing), res.ExpectedCount)
	}
	if len(res.MatchedKeys) != res.MatchedCount {
		t.Fatalf("matched keys %d != matched count %d", len(res.MatchedKeys), res.MatchedCount)
	}
}

func TestDiffClassifiesSyntheticOverlap(t *testing.T) {
	var (
		refs    []collector.FileReference
		objects []objectstore.ObjectRecord
	)
	// refs 0..99, objects 10..129: overlap 10..99 is 90 keys.
	for i := 0; i < 100; i++ {
		refs = append(refs, ref(fmt.Sprintf("env/public/a/users/%03d/f.jpg", i)))
	}
	for i := 10; i < 130; i++ {
		objects = append(objects, obj(fmt.Sprintf("env/public/a/users/%03d/f.jpg", i)))
	}

	res := reconcile.Diff(refs, objects)
	if res.MatchedCount != 90 || len(res.Orphans) != 30 || len(res.Missing) != 10 {
		t.Fatalf("got matched=%d orphans=%d missing=%d", res.MatchedCount, len(res.Orphans), len(res.Missing))
	}
	checkInvariants(t, res, len(objects))
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
	if res.Orphans[0].Key != "env/public/a/users/100/f.jpg" || res.Missing[0].ExpectedKey != "env/public/a/users/000/f.jpg" {
		t.Fatalf("results not sorted: first orphan %q, first missing %q", res.Orphans[0].Key, res.Missing[0].ExpectedKey)
	}
}

func TestDiffExampleScenario(t *testing.T) {
	res := reconcile.Diff(
		[]collector.FileReference{ref("p/1/img.jpg"), ref("p/2/doc.pdf")},
		[]objectstore.ObjectRecord{obj("p/1/img.jpg"), obj("p/2/doc.pdf"), obj("p/3/stray.mp4")},
	)
	if res.MatchedCount != 2 || len(res.Missing) != 0 {
		t.Fatalf("got matched=%d missing=%d", res.MatchedCount, len(res.Missing))
	}
	if len(res.Orphans) != 1 || res.Orphans[0].Key != "p/3/stray.mp4" {
		t.Fatalf("unexpected orphans: %+v", res.Orphans)
	}
}

func TestDiffNormalizesCaseAndSeparators(t *testing.T) {
	res := reconcile.Diff(
		[]collector.FileReference{ref("/P/1//IMG.jpg/")},
		[]objectstore.ObjectRecord{obj("p/1/img.jpg")},
	)
	if res.MatchedCount != 1 || len(res.Orphans) != 0 || len(res.Missing) != 0 {
		t.Fatalf("expected normalized match, got %+v", res)
	}
}

func TestDiffDuplicateReferencesMatchOnce(t *testing.T) {
	legacy := ref("p/1/img.jpg")
	legacy.SourceKind = collector.KindLegacyURL
	res := reconcile.Diff(
		[]collector.FileReference{ref("p/1/img.jpg"), legacy, ref("p/9/gone.jpg")},
		[]objectstore.ObjectRecord{obj("p/1/img.jpg")},
	)
	checkInvariants(t, res, 1)
	if res.ExpectedCount != 2 || res.MatchedCount != 1 || len(res.Orphans) != 0 || len(res.Missing) != 1 {
		t.Fatalf("unexpected classification: %+v", res)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != reconcile.DuplicateReference || len(res.Warnings[0].Sources) != 2 {
		t.Fatalf("expected one duplicate warning with two sources, got %v", res.Warnings)
	}
}

func TestDiffObjectCollisionPrefersExactMatch(t *testing.T) {
	objects := []objectstore.ObjectRecord{obj("p/A.jpg"), obj("p/a.jpg"), obj("q/B.jpg"), obj("q/b.jpg")}
	res := reconcile.Diff([]collector.FileReference{ref("p/a.jpg"), ref("Q/B.JPG")}, objects)
	checkInvariants(t, res, len(objects))

	matched := map[string]bool{}
	for _, key := range res.MatchedKeys {
		matched[key] = true
	}
	if !matched["p/a.jpg"] {
		t.Fatalf("expected exact raw match p/a.jpg, got %v", res.MatchedKeys)
	}
	// No exact raw match for q: the lowest raw key wins.
	if !matched["q/B.jpg"] {
		t.Fatalf("expected lowest raw key q/B.jpg, got %v", res.MatchedKeys)
	}
	collisions := 0
	for _, w := range res.Warnings {
		if w.Kind == reconcile.ObjectCaseCollision {
			collisions++
		}
	}
	if collisions != 2 {
		t.Fatalf("expected two collision warnings, got %v", res.Warnings)
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := map[string]string{
		"":                          "",
		"/a/b/":                     "a/b",
		"a//b///c":                  "a/b/c",
		"Users/X.PNG":               "users/x.png",
		"cafe\u0301/Menu.pdf":       "caf\u00e9/menu.pdf",
		"\u00dcbersicht/\u00c4.txt": "\u00fcbersicht/\u00e4.txt",
	}
	for in, want := range tests {
		if got := reconcile.NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
