package backend

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/boxdrive/boxdrive/internal/store"
)

// mockAzureClient implements AzureBlobAPI for unit testing.
type mockAzureClient struct {
	blobs map[string]*mockAzureBlob
}

type mockAzureBlob struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

var errBlobNotFound = errors.New("BlobNotFound: the specified blob does not exist")

func newMockAzureClient() *mockAzureClient {
	return &mockAzureClient{blobs: make(map[string]*mockAzureBlob)}
}

func (m *mockAzureClient) UploadBlob(ctx context.Context, container, blob string, data []byte, contentType string, metadata map[string]string) error {
	m.blobs[blob] = &mockAzureBlob{
		data:        data,
		contentType: contentType,
		metadata:    metadata,
		modified:    time.Now().UTC(),
	}
	return nil
}

func (m *mockAzureClient) DownloadBlob(ctx context.Context, container, blob string) ([]byte, error) {
	b, ok := m.blobs[blob]
	if !ok {
		return nil, errBlobNotFound
	}
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return data, nil
}

func (m *mockAzureClient) DeleteBlob(ctx context.Context, container, blob string) error {
	if _, ok := m.blobs[blob]; !ok {
		return errBlobNotFound
	}
	delete(m.blobs, blob)
	return nil
}

func (m *mockAzureClient) BlobProperties(ctx context.Context, container, blob string) (*AzureBlobProps, error) {
	b, ok := m.blobs[blob]
	if !ok {
		return nil, errBlobNotFound
	}
	return m.propsFor(blob, b), nil
}

func (m *mockAzureClient) ListBlobs(ctx context.Context, container, prefix string) ([]*AzureBlobProps, error) {
	var names []string
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]*AzureBlobProps, 0, len(names))
	for _, name := range names {
		out = append(out, m.propsFor(name, m.blobs[name]))
	}
	return out, nil
}

func (m *mockAzureClient) propsFor(name string, b *mockAzureBlob) *AzureBlobProps {
	return &AzureBlobProps{
		Name:         name,
		Size:         int64(len(b.data)),
		ContentType:  b.contentType,
		LastModified: b.modified,
		Metadata:     b.metadata,
	}
}

func TestAzureStoreConformance(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) store.ObjectStore {
		return NewAzureStoreWithClient("upstream", "https://acct.blob.core.windows.net", "boxdrive/", newMockAzureClient())
	})
}

func TestAzureStoreMetadataKeyCase(t *testing.T) {
	// Azure normalizes metadata keys; the gateway must find its digest
	// regardless of case.
	ctx := context.Background()
	mock := newMockAzureClient()
	s := NewAzureStoreWithClient("upstream", "https://acct.blob.core.windows.net", "", mock)

	if err := s.CreateBucket(ctx, "b"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	etag, err := s.PutObject(ctx, "b", "k", []byte("payload"), "")
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	// Simulate Azure's key normalization.
	blob := mock.blobs["b/k"]
	digest := blob.metadata["boxdrive_etag"]
	blob.metadata = map[string]string{"Boxdrive_etag": digest}

	head, err := s.HeadObject(ctx, "b", "k")
	if err != nil {
		t.Fatalf("HeadObject: %v", err)
	}
	if head.ETag != etag {
		t.Errorf("HeadObject ETag = %s, want %s", head.ETag, etag)
	}
}
