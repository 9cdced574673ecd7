package reconcile

import (
	"context"
	"errors"
	"iter"
	"testing"

	"rmcloud/internal/artifactcache"
	"rmcloud/internal/cloud"
	"rmcloud/internal/logging"
)

func newCache(t *testing.T) *artifactcache.Cache {
	t.Helper()
	cache, err := artifactcache.New(t.TempDir(), logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return cache
}

func key(id string, version int, format artifactcache.Format) artifactcache.Key {
	return artifactcache.Key{DocumentID: id, Version: version, Format: format}
}

func TestReconcileRemovesUnlistedDocuments(t *testing.T) {
	cache := newCache(t)
	a1 := key("A", 1, artifactcache.FormatRaw)
	b2 := key("B", 2, artifactcache.FormatConverted)
	for _, k := range []artifactcache.Key{a1, b2} {
		if err := cache.Store(k, []byte("data")); err != nil {
			t.Fatal(err)
		}
	}

	var observed int
	r := New(cache, logging.NewNop())
	r.OnReconcile = func(removed int, err error) { observed = removed }

	tree := cloud.Tree{{ID: "A", Version: 1, Type: cloud.DocumentType, Name: "A"}}
	removed, err := r.Reconcile(context.Background(), tree)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if removed != 1 || observed != 1 {
		t.Fatalf("removed = %d observed = %d, want 1", removed, observed)
	}
	if _, ok, _ := cache.Lookup(a1); !ok {
		t.Fatal("listed artifact must survive")
	}
	if _, ok, _ := cache.Lookup(b2); ok {
		t.Fatal("unlisted artifact must be evicted")
	}
}

func TestReconcileEvictsOldVersionsAndCollections(t *testing.T) {
	cache := newCache(t)
	old := key("A", 1, artifactcache.FormatRaw)
	current := key("A", 2, artifactcache.FormatRaw)
	folder := key("F", 1, artifactcache.FormatRaw)
	for _, k := range []artifactcache.Key{old, current, folder} {
		if err := cache.Store(k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	tree := cloud.Tree{
		{ID: "A", Version: 2, Type: cloud.DocumentType},
		{ID: "F", Version: 1, Type: cloud.CollectionType},
	}
	removed, err := New(cache, nil).Reconcile(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, ok, _ := cache.Lookup(current); !ok {
		t.Fatal("current version must survive")
	}
}

func TestReconcileDisabledCache(t *testing.T) {
	var disabled *artifactcache.Cache
	removed, err := New(disabled, nil).Reconcile(context.Background(), nil)
	if err != nil || removed != 0 {
		t.Fatalf("disabled cache: removed=%d err=%v", removed, err)
	}
}

type faultyStore struct {
	keys      []artifactcache.Key
	listErr   error
	removeErr map[string]error
	removed   []artifactcache.Key
}

func (f *faultyStore) Keys() iter.Seq2[artifactcache.Key, error] {
	return func(yield func(artifactcache.Key, error) bool) {
		for _, k := range f.keys {
			if !yield(k, nil) {
				return
			}
		}
		if f.listErr != nil {
			yield(artifactcache.Key{}, f.listErr)
		}
	}
}

func (f *faultyStore) Remove(k artifactcache.Key) error {
	if err := f.removeErr[k.DocumentID]; err != nil {
		return err
	}
	f.removed = append(f.removed, k)
	return nil
}

func TestReconcileSkipsRemovalFailures(t *testing.T) {
	store := &faultyStore{
		keys:      []artifactcache.Key{key("X", 1, artifactcache.FormatRaw), key("Y", 1, artifactcache.FormatRaw)},
		removeErr: map[string]error{"X": errors.New("permission denied")},
	}
	removed, err := New(store, logging.NewNop()).Reconcile(context.Background(), nil)
	if err != nil {
		t.Fatalf("per-key failures must not abort: %v", err)
	}
	if removed != 1 || len(store.removed) != 1 || store.removed[0].DocumentID != "Y" {
		t.Fatalf("removed=%d keys=%v", removed, store.removed)
	}
}

func TestReconcileListingFailureAborts(t *testing.T) {
	store := &faultyStore{listErr: errors.New("cache dir unreadable")}
	if _, err := New(store, nil).Reconcile(context.Background(), nil); err == nil {
		t.Fatal("expected listing failure")
	}
}

type stubLister struct {
	tree cloud.Tree
	err  error
}

func (s stubLister) ListFiles(context.Context) (cloud.Tree, error) { return s.tree, s.err }

func TestRefreshOncePublishesIndexAndReconciles(t *testing.T) {
	cache := newCache(t)
	stale := key("gone", 3, artifactcache.FormatRaw)
	if err := cache.Store(stale, []byte("x")); err != nil {
		t.Fatal(err)
	}
	var holder cloud.IndexHolder
	tree := cloud.Tree{{ID: "A", Version: 7, Type: cloud.DocumentType}}
	refresher := NewRefresher(stubLister{tree: tree}, New(cache, nil), &holder, 0, 0, nil)

	if err := refresher.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}
	if v, ok := holder.LatestVersion("A"); !ok || v != 7 {
		t.Fatalf("index not published: %d %v", v, ok)
	}
	if _, ok, _ := cache.Lookup(stale); ok {
		t.Fatal("stale entry should be reconciled away")
	}

	failing := NewRefresher(stubLister{err: cloud.ErrNoToken}, New(cache, nil), &holder, 0, 0, nil)
	if err := failing.RefreshOnce(context.Background()); !errors.Is(err, cloud.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if _, ok := holder.LatestVersion("A"); !ok {
		t.Fatal("failed refresh must keep the previous index")
	}
}
