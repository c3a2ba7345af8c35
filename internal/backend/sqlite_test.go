package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/boxdrive/boxdrive/internal/store"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "boxdrive.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func TestSQLiteStoreConformance(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) store.ObjectStore {
		return newTestSQLiteStore(t)
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "boxdrive.db")

	s, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.CreateBucket(ctx, "b"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	etag, err := s.PutObject(ctx, "b", "k", []byte("durable"), "")
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	obj, err := s2.GetObject(ctx, "b", "k")
	if err != nil {
		t.Fatalf("GetObject after reopen: %v", err)
	}
	if string(obj.Data) != "durable" || obj.Info.ETag != etag {
		t.Errorf("object after reopen = %+v data=%q", obj.Info, obj.Data)
	}
}

func TestSQLiteStorePrefixWithLikeMetachars(t *testing.T) {
	// Keys containing % and _ must be matched literally, not as LIKE
	// wildcards.
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	defer s.Close()

	if err := s.CreateBucket(ctx, "b"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	for _, key := range []string{"a%b/one", "axb/two", "a_b/three", "azb/four"} {
		if _, err := s.PutObject(ctx, "b", key, []byte(key), ""); err != nil {
			t.Fatalf("PutObject %q: %v", key, err)
		}
	}

	page, err := s.ListObjects(ctx, "b", store.ListOptions{Prefix: "a%b/", MaxKeys: 10})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(page.Objects) != 1 || page.Objects[0].Key != "a%b/one" {
		t.Errorf("prefix a%%b/ matched %+v", page.Objects)
	}

	page, err = s.ListObjects(ctx, "b", store.ListOptions{Prefix: "a_b/", MaxKeys: 10})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(page.Objects) != 1 || page.Objects[0].Key != "a_b/three" {
		t.Errorf("prefix a_b/ matched %+v", page.Objects)
	}
}
