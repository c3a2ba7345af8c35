package backend

import (
	"context"
	"crypto/md5"
	"sort"
	"strings"
	"testing"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/boxdrive/boxdrive/internal/store"
)

// mockGCSClient implements GCSAPI for unit testing.
type mockGCSClient struct {
	objects map[string]*mockGCSObject
}

type mockGCSObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	updated     time.Time
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{objects: make(map[string]*mockGCSObject)}
}

func (m *mockGCSClient) Write(ctx context.Context, bucket, object string, data []byte, contentType string, metadata map[string]string) error {
	m.objects[object] = &mockGCSObject{
		data:        data,
		contentType: contentType,
		metadata:    metadata,
		updated:     time.Now().UTC(),
	}
	return nil
}

func (m *mockGCSClient) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	obj, ok := m.objects[object]
	if !ok {
		return nil, gcs.ErrObjectNotExist
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, nil
}

func (m *mockGCSClient) Delete(ctx context.Context, bucket, object string) error {
	if _, ok := m.objects[object]; !ok {
		return gcs.ErrObjectNotExist
	}
	delete(m.objects, object)
	return nil
}

func (m *mockGCSClient) Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error) {
	obj, ok := m.objects[object]
	if !ok {
		return nil, gcs.ErrObjectNotExist
	}
	return m.attrsFor(object, obj), nil
}

func (m *mockGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]*GCSAttrs, error) {
	var names []string
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]*GCSAttrs, 0, len(names))
	for _, name := range names {
		out = append(out, m.attrsFor(name, m.objects[name]))
	}
	return out, nil
}

func (m *mockGCSClient) attrsFor(name string, obj *mockGCSObject) *GCSAttrs {
	sum := md5.Sum(obj.data)
	return &GCSAttrs{
		Name:        name,
		Size:        int64(len(obj.data)),
		MD5:         sum[:],
		ContentType: obj.contentType,
		Updated:     obj.updated,
		Metadata:    obj.metadata,
	}
}

func TestGCPStoreConformance(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) store.ObjectStore {
		return NewGCPStoreWithClient("upstream", "test-project", "boxdrive/", newMockGCSClient())
	})
}

func TestGCPStoreKeyMapping(t *testing.T) {
	ctx := context.Background()
	mock := newMockGCSClient()
	s := NewGCPStoreWithClient("upstream", "test-project", "boxdrive/", mock)

	if err := s.CreateBucket(ctx, "docs"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if _, err := s.PutObject(ctx, "docs", "a/b.txt", []byte("text"), "text/plain"); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	if _, ok := mock.objects["boxdrive/.buckets/docs"]; !ok {
		t.Error("bucket marker not written at boxdrive/.buckets/docs")
	}
	if _, ok := mock.objects["boxdrive/docs/a/b.txt"]; !ok {
		t.Error("object not written under namespaced name")
	}
}
