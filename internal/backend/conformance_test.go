package backend

import (
	"bytes"
	"context"
	"errors"
	"testing"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/store"
)

// runStoreConformance exercises the full ObjectStore contract against a
// backend. Every backend runs the same suite so behavior cannot drift.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) store.ObjectStore) {
	t.Helper()
	ctx := context.Background()

	wantS3Code := func(t *testing.T, err error, code string) {
		t.Helper()
		var s3e *s3err.S3Error
		if !errors.As(err, &s3e) || s3e.Code != code {
			t.Fatalf("err = %v, want %s", err, code)
		}
	}

	t.Run("bucket lifecycle", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.CreateBucket(ctx, "alpha"); err != nil {
			t.Fatalf("CreateBucket: %v", err)
		}
		if err := s.CreateBucket(ctx, "alpha"); err == nil {
			t.Fatal("duplicate CreateBucket succeeded")
		} else {
			wantS3Code(t, err, "BucketAlreadyExists")
		}

		info, err := s.HeadBucket(ctx, "alpha")
		if err != nil {
			t.Fatalf("HeadBucket: %v", err)
		}
		if info.Name != "alpha" {
			t.Errorf("HeadBucket name = %q", info.Name)
		}
		if info.CreatedAt.IsZero() {
			t.Error("HeadBucket CreatedAt is zero")
		}

		if err := s.CreateBucket(ctx, "beta"); err != nil {
			t.Fatalf("CreateBucket beta: %v", err)
		}
		buckets, err := s.ListBuckets(ctx)
		if err != nil {
			t.Fatalf("ListBuckets: %v", err)
		}
		if len(buckets) != 2 || buckets[0].Name != "alpha" || buckets[1].Name != "beta" {
			t.Fatalf("ListBuckets = %+v, want alpha, beta in order", buckets)
		}

		if err := s.DeleteBucket(ctx, "beta"); err != nil {
			t.Fatalf("DeleteBucket: %v", err)
		}
		_, err = s.HeadBucket(ctx, "beta")
		wantS3Code(t, err, "NoSuchBucket")
		err = s.DeleteBucket(ctx, "beta")
		wantS3Code(t, err, "NoSuchBucket")
	})

	t.Run("missing bucket", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		_, err := s.PutObject(ctx, "ghost", "k", []byte("x"), "")
		wantS3Code(t, err, "NoSuchBucket")
		_, err = s.GetObject(ctx, "ghost", "k")
		wantS3Code(t, err, "NoSuchBucket")
		_, err = s.HeadObject(ctx, "ghost", "k")
		wantS3Code(t, err, "NoSuchBucket")
		err = s.DeleteObject(ctx, "ghost", "k")
		wantS3Code(t, err, "NoSuchBucket")
		_, err = s.ListObjects(ctx, "ghost", store.ListOptions{MaxKeys: 10})
		wantS3Code(t, err, "NoSuchBucket")
		_, err = s.ListObjectsV2(ctx, "ghost", store.ListOptionsV2{MaxKeys: 10})
		wantS3Code(t, err, "NoSuchBucket")
	})

	t.Run("object round trip", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.CreateBucket(ctx, "data"); err != nil {
			t.Fatalf("CreateBucket: %v", err)
		}

		payload := []byte("hello world")
		etag, err := s.PutObject(ctx, "data", "docs/readme.txt", payload, "text/plain")
		if err != nil {
			t.Fatalf("PutObject: %v", err)
		}
		// MD5("hello world")
		if etag != `"5eb63bbbe01eeed093cb22bb8f5acdc3"` {
			t.Errorf("ETag = %s", etag)
		}

		obj, err := s.GetObject(ctx, "data", "docs/readme.txt")
		if err != nil {
			t.Fatalf("GetObject: %v", err)
		}
		if !bytes.Equal(obj.Data, payload) {
			t.Errorf("payload = %q", obj.Data)
		}
		if obj.Info.ETag != etag {
			t.Errorf("GetObject ETag = %s, want %s", obj.Info.ETag, etag)
		}
		if obj.Info.ContentType != "text/plain" {
			t.Errorf("ContentType = %q", obj.Info.ContentType)
		}
		if obj.Info.Size != int64(len(payload)) {
			t.Errorf("Size = %d", obj.Info.Size)
		}
		if obj.Info.LastModified.IsZero() {
			t.Error("LastModified is zero")
		}

		head, err := s.HeadObject(ctx, "data", "docs/readme.txt")
		if err != nil {
			t.Fatalf("HeadObject: %v", err)
		}
		if head.ETag != etag || head.Size != int64(len(payload)) {
			t.Errorf("HeadObject = %+v", head)
		}

		_, err = s.GetObject(ctx, "data", "missing")
		wantS3Code(t, err, "NoSuchKey")
		_, err = s.HeadObject(ctx, "data", "missing")
		wantS3Code(t, err, "NoSuchKey")
	})

	t.Run("put replaces", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.CreateBucket(ctx, "data"); err != nil {
			t.Fatalf("CreateBucket: %v", err)
		}
		if _, err := s.PutObject(ctx, "data", "k", []byte("one"), "text/plain"); err != nil {
			t.Fatalf("PutObject: %v", err)
		}
		etag2, err := s.PutObject(ctx, "data", "k", []byte("two"), "application/json")
		if err != nil {
			t.Fatalf("PutObject replace: %v", err)
		}

		obj, err := s.GetObject(ctx, "data", "k")
		if err != nil {
			t.Fatalf("GetObject: %v", err)
		}
		if string(obj.Data) != "two" || obj.Info.ETag != etag2 || obj.Info.ContentType != "application/json" {
			t.Errorf("replaced object = %+v data=%q", obj.Info, obj.Data)
		}

		page, err := s.ListObjects(ctx, "data", store.ListOptions{MaxKeys: 10})
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		if len(page.Objects) != 1 {
			t.Errorf("list after replace has %d entries", len(page.Objects))
		}
	})

	t.Run("default content type", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.CreateBucket(ctx, "data"); err != nil {
			t.Fatalf("CreateBucket: %v", err)
		}
		if _, err := s.PutObject(ctx, "data", "k", []byte("x"), ""); err != nil {
			t.Fatalf("PutObject: %v", err)
		}
		head, err := s.HeadObject(ctx, "data", "k")
		if err != nil {
			t.Fatalf("HeadObject: %v", err)
		}
		if head.ContentType != store.DefaultContentType {
			t.Errorf("ContentType = %q, want %q", head.ContentType, store.DefaultContentType)
		}
	})

	t.Run("delete semantics", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.CreateBucket(ctx, "data"); err != nil {
			t.Fatalf("CreateBucket: %v", err)
		}
		if _, err := s.PutObject(ctx, "data", "k", []byte("x"), ""); err != nil {
			t.Fatalf("PutObject: %v", err)
		}

		err := s.DeleteBucket(ctx, "data")
		wantS3Code(t, err, "BucketNotEmpty")

		if err := s.DeleteObject(ctx, "data", "k"); err != nil {
			t.Fatalf("DeleteObject: %v", err)
		}
		// Idempotent.
		if err := s.DeleteObject(ctx, "data", "k"); err != nil {
			t.Fatalf("DeleteObject second: %v", err)
		}
		if err := s.DeleteBucket(ctx, "data"); err != nil {
			t.Fatalf("DeleteBucket after empty: %v", err)
		}
	})

	t.Run("listing", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.CreateBucket(ctx, "data"); err != nil {
			t.Fatalf("CreateBucket: %v", err)
		}
		for _, key := range []string{"a", "a/b", "a/c", "b", "logs/2024/x", "logs/2025/y"} {
			if _, err := s.PutObject(ctx, "data", key, []byte(key), ""); err != nil {
				t.Fatalf("PutObject %q: %v", key, err)
			}
		}

		page, err := s.ListObjects(ctx, "data", store.ListOptions{Delimiter: "/", MaxKeys: store.DefaultMaxKeys})
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		gotKeys := make([]string, len(page.Objects))
		for i := range page.Objects {
			gotKeys[i] = page.Objects[i].Key
		}
		if len(gotKeys) != 2 || gotKeys[0] != "a" || gotKeys[1] != "b" {
			t.Errorf("objects = %v, want [a b]", gotKeys)
		}
		if len(page.CommonPrefixes) != 2 || page.CommonPrefixes[0] != "a/" || page.CommonPrefixes[1] != "logs/" {
			t.Errorf("common prefixes = %v, want [a/ logs/]", page.CommonPrefixes)
		}

		// v1 pagination walk covers every key exactly once.
		var walked []string
		marker := ""
		for {
			page, err := s.ListObjects(ctx, "data", store.ListOptions{Marker: marker, MaxKeys: 2})
			if err != nil {
				t.Fatalf("ListObjects page: %v", err)
			}
			for i := range page.Objects {
				walked = append(walked, page.Objects[i].Key)
			}
			if !page.IsTruncated {
				break
			}
			marker = page.NextMarker
		}
		want := []string{"a", "a/b", "a/c", "b", "logs/2024/x", "logs/2025/y"}
		if len(walked) != len(want) {
			t.Fatalf("v1 walk = %v, want %v", walked, want)
		}
		for i := range want {
			if walked[i] != want[i] {
				t.Fatalf("v1 walk = %v, want %v", walked, want)
			}
		}

		// v2 token walk covers the same keys.
		walked = walked[:0]
		token := ""
		for {
			page, err := s.ListObjectsV2(ctx, "data", store.ListOptionsV2{ContinuationToken: token, MaxKeys: 2})
			if err != nil {
				t.Fatalf("ListObjectsV2 page: %v", err)
			}
			for i := range page.Objects {
				walked = append(walked, page.Objects[i].Key)
			}
			if !page.IsTruncated {
				break
			}
			token = page.NextContinuationToken
		}
		if len(walked) != len(want) {
			t.Fatalf("v2 walk = %v, want %v", walked, want)
		}
		for i := range want {
			if walked[i] != want[i] {
				t.Fatalf("v2 walk = %v, want %v", walked, want)
			}
		}

		// Prefix narrows the keyspace.
		page, err = s.ListObjects(ctx, "data", store.ListOptions{Prefix: "logs/", MaxKeys: store.DefaultMaxKeys})
		if err != nil {
			t.Fatalf("ListObjects prefix: %v", err)
		}
		if len(page.Objects) != 2 {
			t.Errorf("prefix listing = %+v", page.Objects)
		}

		// Malformed token surfaces InvalidToken.
		_, err = s.ListObjectsV2(ctx, "data", store.ListOptionsV2{ContinuationToken: "not-a-token!", MaxKeys: 10})
		wantS3Code(t, err, "InvalidToken")
	})

	t.Run("empty bucket listing", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.CreateBucket(ctx, "empty"); err != nil {
			t.Fatalf("CreateBucket: %v", err)
		}
		page, err := s.ListObjects(ctx, "empty", store.ListOptions{MaxKeys: store.DefaultMaxKeys})
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		if len(page.Objects) != 0 || len(page.CommonPrefixes) != 0 || page.IsTruncated {
			t.Errorf("empty bucket page = %+v", page)
		}
	})

	t.Run("health check", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if err := s.HealthCheck(ctx); err != nil {
			t.Fatalf("HealthCheck: %v", err)
		}
	})
}
