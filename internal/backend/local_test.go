package backend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boxdrive/boxdrive/internal/store"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return s
}

func TestLocalStoreConformance(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) store.ObjectStore {
		return newTestLocalStore(t)
	})
}

func TestLocalStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if err := s.CreateBucket(ctx, "b"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	etag, err := s.PutObject(ctx, "b", "nested/deep/key", []byte("persisted"), "text/plain")
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	obj, err := s2.GetObject(ctx, "b", "nested/deep/key")
	if err != nil {
		t.Fatalf("GetObject after reopen: %v", err)
	}
	if string(obj.Data) != "persisted" || obj.Info.ETag != etag || obj.Info.ContentType != "text/plain" {
		t.Errorf("object after reopen = %+v data=%q", obj.Info, obj.Data)
	}

	page, err := s2.ListObjects(ctx, "b", store.ListOptions{MaxKeys: 10})
	if err != nil {
		t.Fatalf("ListObjects after reopen: %v", err)
	}
	if len(page.Objects) != 1 || page.Objects[0].Key != "nested/deep/key" {
		t.Errorf("listing after reopen = %+v", page.Objects)
	}
}

func TestLocalStoreFlatKeyNamespace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if err := s.CreateBucket(ctx, "b"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	// "a" and "a/b" are distinct keys in the flat namespace; on disk one must
	// not shadow the other.
	keys := []string{"a", "a/b", "a/c", "a.b", "..", "50%off/réport.txt"}
	for _, key := range keys {
		if _, err := s.PutObject(ctx, "b", key, []byte("v:"+key), ""); err != nil {
			t.Fatalf("PutObject(%q): %v", key, err)
		}
	}
	for _, key := range keys {
		obj, err := s.GetObject(ctx, "b", key)
		if err != nil {
			t.Fatalf("GetObject(%q): %v", key, err)
		}
		if string(obj.Data) != "v:"+key {
			t.Errorf("GetObject(%q) data = %q", key, obj.Data)
		}
	}

	page, err := s.ListObjects(ctx, "b", store.ListOptions{MaxKeys: 100})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(page.Objects) != len(keys) {
		t.Fatalf("listed %d objects, want %d: %+v", len(page.Objects), len(keys), page.Objects)
	}
	for i := 1; i < len(page.Objects); i++ {
		if page.Objects[i-1].Key >= page.Objects[i].Key {
			t.Errorf("listing out of order: %q before %q", page.Objects[i-1].Key, page.Objects[i].Key)
		}
	}
	s.Close()

	s2, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	for _, key := range keys {
		if _, err := s2.GetObject(ctx, "b", key); err != nil {
			t.Errorf("GetObject(%q) after reopen: %v", key, err)
		}
	}
}

func TestEscapeKeyRoundTrip(t *testing.T) {
	keys := []string{"plain", "a/b/c", "a b", ".", "..", "a.b", "100%", "%2F", "\x00\xff"}
	seen := make(map[string]string)
	for _, key := range keys {
		name := escapeKey(key)
		if strings.ContainsRune(name, '/') || name == "." || name == ".." {
			t.Errorf("escapeKey(%q) = %q is not a safe filename", key, name)
		}
		if prev, ok := seen[name]; ok {
			t.Errorf("escapeKey collision: %q and %q both map to %q", prev, key, name)
		}
		seen[name] = key
		back, err := unescapeKey(name)
		if err != nil {
			t.Fatalf("unescapeKey(%q): %v", name, err)
		}
		if back != key {
			t.Errorf("round trip of %q = %q", key, back)
		}
	}
}

func TestLocalStoreCleansStaleTempFiles(t *testing.T) {
	dir := t.TempDir()

	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	s.Close()

	stale := filepath.Join(dir, ".tmp", "put-leftover")
	if err := os.WriteFile(stale, []byte("junk"), 0o644); err != nil {
		t.Fatalf("writing stale temp file: %v", err)
	}

	s2, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale temp file survived startup: %v", err)
	}
}
