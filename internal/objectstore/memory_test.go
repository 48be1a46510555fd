package objectstore_test

import (
	"context"
	"errors"
	"testing"

	"filesweep/internal/objectstore"
)

func seed(m *objectstore.Memory, keys ...string) {
	for _, key := range keys {
		m.Put(key, []byte("data:"+key), nil)
	}
}

func TestMemoryListPaginatesInKeyOrder(t *testing.T) {
	store := objectstore.NewMemory()
	seed(store, "env/c", "env/a", "env/b", "other/z", "env/d", "env/e")

	var got []string
	pages := 0
	err := objectstore.Walk(context.Background(), store, objectstore.ListInput{Prefix: "env/", MaxKeys: 2}, func(page objectstore.ListPage) error {
		pages++
		for _, obj := range page.Objects {
			got = append(got, obj.Key)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk returned error: %v", err)
	}
	want := []string{"env/a", "env/b", "env/c", "env/d", "env/e"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
}

func TestMemoryListDelimiterRollsUpPrefixes(t *testing.T) {
	store := objectstore.NewMemory()
	seed(store, "env/public/a", "env/public/b", "env/private/c", "env/root.txt")

	page, err := store.List(context.Background(), objectstore.ListInput{Prefix: "env/", Delimiter: "/"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(page.CommonPrefixes) != 2 || page.CommonPrefixes[0] != "env/private/" || page.CommonPrefixes[1] != "env/public/" {
		t.Fatalf("unexpected common prefixes: %v", page.CommonPrefixes)
	}
	if len(page.Objects) != 1 || page.Objects[0].Key != "env/root.txt" {
		t.Fatalf("unexpected objects: %+v", page.Objects)
	}
}

func TestMemoryCopyReplacesMetadataAndStatReturnsIt(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()
	store.Put("env/a.jpg", []byte("jpeg"), map[string]string{"old": "1"})

	err := store.Copy(ctx, objectstore.CopyInput{SourceKey: "env/a.jpg", DestKey: "env/quarantine/b/a.jpg", Metadata: map[string]string{"original-key": "env/a.jpg"}})
	if err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}
	src, err := store.Stat(ctx, "env/a.jpg")
	if err != nil {
		t.Fatalf("Stat(src) returned error: %v", err)
	}
	dst, err := store.Stat(ctx, "env/quarantine/b/a.jpg")
	if err != nil {
		t.Fatalf("Stat(dst) returned error: %v", err)
	}
	if src.SizeBytes != dst.SizeBytes || src.ETag != dst.ETag {
		t.Fatalf("copy mismatch: %+v vs %+v", src, dst)
	}
	if dst.Metadata["original-key"] != "env/a.jpg" || dst.Metadata["old"] != "" {
		t.Fatalf("metadata not replaced: %v", dst.Metadata)
	}
	if muts := store.Mutations(); len(muts) != 1 || muts[0].Op != objectstore.OpCopy {
		t.Fatalf("unexpected mutations: %+v", muts)
	}
}

func TestMemoryStatMissingReturnsNotFound(t *testing.T) {
	store := objectstore.NewMemory()
	_, err := store.Stat(context.Background(), "nope")
	if !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if objectstore.Classify(err) != objectstore.ClassNotFound {
		t.Fatalf("unexpected class: %s", objectstore.Classify(err))
	}
}

func TestMemoryPutMarkerIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()
	if err := store.PutMarker(ctx, "env/.filesweep/run.lock", map[string]string{"run-id": "a"}, true); err != nil {
		t.Fatalf("first PutMarker returned error: %v", err)
	}
	err := store.PutMarker(ctx, "env/.filesweep/run.lock", map[string]string{"run-id": "b"}, true)
	if !errors.Is(err, objectstore.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if err := store.PutMarker(ctx, "env/.filesweep/run.lock", map[string]string{"run-id": "b"}, false); err != nil {
		t.Fatalf("overwrite PutMarker returned error: %v", err)
	}
	rec, _ := store.Stat(ctx, "env/.filesweep/run.lock")
	if rec.Metadata["run-id"] != "b" {
		t.Fatalf("marker not overwritten: %v", rec.Metadata)
	}
}

func TestMemoryCorruptCopiesChangesSize(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()
	store.Put("k", []byte("abcd"), nil)
	store.CorruptCopies(true)
	if err := store.Copy(ctx, objectstore.CopyInput{SourceKey: "k", DestKey: "k2"}); err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}
	rec, _ := store.Stat(ctx, "k2")
	if rec.SizeBytes != 3 {
		t.Fatalf("expected truncated copy, got size %d", rec.SizeBytes)
	}
}

func TestMemoryFailNextForScopesByPrefix(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemory()
	seed(store, "env/a", "env/b")
	boom := errors.New("boom")
	store.FailNextFor(objectstore.OpDelete, "env/b", boom, 1)

	if err := store.Delete(ctx, "env/a"); err != nil {
		t.Fatalf("Delete(env/a) returned error: %v", err)
	}
	if err := store.Delete(ctx, "env/b"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := store.Delete(ctx, "env/b"); err != nil {
		t.Fatalf("fault should be spent, got %v", err)
	}
	if store.Calls(objectstore.OpDelete) != 3 {
		t.Fatalf("unexpected delete calls: %d", store.Calls(objectstore.OpDelete))
	}
}

func TestJoinKeyAndRootPrefix(t *testing.T) {
	if got := objectstore.JoinKey("/staging/", "", "quarantine", "b1/"); got != "staging/quarantine/b1" {
		t.Fatalf("JoinKey = %q", got)
	}
	if got := objectstore.RootPrefix("/staging/"); got != "staging/" {
		t.Fatalf("RootPrefix = %q", got)
	}
	if got := objectstore.RootPrefix(""); got != "" {
		t.Fatalf("RootPrefix(empty) = %q", got)
	}
}
