// Package backend provides the ObjectStore implementations: the in-memory
// reference backend, the local filesystem backend, the SQLite backend, and
// the AWS, GCP, and Azure gateway backends. All of them delegate page
// production to the listing engine so pagination behaves identically across
// backends.
package backend

import (
	"context"
	"crypto/md5"
	"fmt"
	"sort"
	"sync"
	"time"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/listing"
	"github.com/boxdrive/boxdrive/internal/store"
)

// memBucket holds one bucket's objects together with the lock that guards
// them. The sorted key index is maintained on every write so listings never
// sort under the read lock.
type memBucket struct {
	mu      sync.RWMutex
	created time.Time
	objects map[string]*store.Object
	index   []string // object keys in byte order
}

// MemoryStore is the in-memory ObjectStore. A top-level RWMutex guards the
// bucket map; each bucket carries its own RWMutex, so operations on
// different buckets never contend. All returned payloads and metadata are
// copies, callers can mutate them freely.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*memBucket
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*memBucket),
		now:     time.Now,
	}
}

// computeETag returns the quoted MD5 hex digest of data. Identical payloads
// always yield identical ETags.
func computeETag(data []byte) string {
	h := md5.Sum(data)
	return fmt.Sprintf(`"%x"`, h[:])
}

// bucket returns the named bucket under the top-level read lock.
func (m *MemoryStore) bucket(name string) (*memBucket, error) {
	m.mu.RLock()
	b, ok := m.buckets[name]
	m.mu.RUnlock()
	if !ok {
		return nil, s3err.ErrNoSuchBucket
	}
	return b, nil
}

// ListBuckets returns all buckets ordered by name.
func (m *MemoryStore) ListBuckets(ctx context.Context) ([]store.BucketInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]store.BucketInfo, len(names))
	for i, name := range names {
		infos[i] = store.BucketInfo{Name: name, CreatedAt: m.buckets[name].created}
	}
	return infos, nil
}

// CreateBucket creates a new, empty bucket.
func (m *MemoryStore) CreateBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.buckets[bucket]; exists {
		return s3err.ErrBucketAlreadyExists
	}
	m.buckets[bucket] = &memBucket{
		created: m.now().UTC(),
		objects: make(map[string]*store.Object),
	}
	return nil
}

// HeadBucket returns the metadata for the named bucket.
func (m *MemoryStore) HeadBucket(ctx context.Context, bucket string) (*store.BucketInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}
	return &store.BucketInfo{Name: bucket, CreatedAt: b.created}, nil
}

// DeleteBucket removes the named bucket if it is empty.
func (m *MemoryStore) DeleteBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		return s3err.ErrNoSuchBucket
	}

	b.mu.RLock()
	empty := len(b.objects) == 0
	b.mu.RUnlock()
	if !empty {
		return s3err.ErrBucketNotEmpty
	}

	delete(m.buckets, bucket)
	return nil
}

// PutObject creates or fully replaces an object and returns its ETag.
func (m *MemoryStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b, err := m.bucket(bucket)
	if err != nil {
		return "", err
	}

	if contentType == "" {
		contentType = store.DefaultContentType
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	etag := computeETag(payload)

	obj := &store.Object{
		Info: store.ObjectInfo{
			Key:          key,
			Size:         int64(len(payload)),
			ETag:         etag,
			ContentType:  contentType,
			LastModified: m.now().UTC(),
		},
		Data: payload,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[key]; !exists {
		i := sort.SearchStrings(b.index, key)
		b.index = append(b.index, "")
		copy(b.index[i+1:], b.index[i:])
		b.index[i] = key
	}
	b.objects[key] = obj

	return etag, nil
}

// GetObject returns a copy of the object's payload and metadata.
func (m *MemoryStore) GetObject(ctx context.Context, bucket, key string) (*store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, s3err.ErrNoSuchKey
	}

	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)
	return &store.Object{Info: obj.Info, Data: data}, nil
}

// HeadObject returns the object's metadata without its payload.
func (m *MemoryStore) HeadObject(ctx context.Context, bucket, key string) (*store.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, s3err.ErrNoSuchKey
	}
	info := obj.Info
	return &info, nil
}

// DeleteObject removes an object. Deleting an absent key is not an error.
func (m *MemoryStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[key]; !ok {
		return nil
	}
	delete(b.objects, key)
	i := sort.SearchStrings(b.index, key)
	b.index = append(b.index[:i], b.index[i+1:]...)

	return nil
}

// ListObjects produces one v1 page over a consistent snapshot of the bucket.
func (m *MemoryStore) ListObjects(ctx context.Context, bucket string, opts store.ListOptions) (*store.Page, error) {
	infos, err := m.snapshot(ctx, bucket)
	if err != nil {
		return nil, err
	}
	return listing.List(infos, opts)
}

// ListObjectsV2 produces one v2 page over a consistent snapshot of the bucket.
func (m *MemoryStore) ListObjectsV2(ctx context.Context, bucket string, opts store.ListOptionsV2) (*store.Page, error) {
	infos, err := m.snapshot(ctx, bucket)
	if err != nil {
		return nil, err
	}
	return listing.ListV2(infos, opts)
}

// snapshot copies the bucket's metadata in key order under the read lock.
// Consistency holds within a page; concurrent writes may land between pages.
func (m *MemoryStore) snapshot(ctx context.Context, bucket string) ([]store.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]store.ObjectInfo, len(b.index))
	for i, key := range b.index {
		infos[i] = b.objects[key].Info
	}
	return infos, nil
}

// HealthCheck always succeeds; the memory store has no external dependency.
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Close releases nothing for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ store.ObjectStore = (*MemoryStore)(nil)
