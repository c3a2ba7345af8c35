package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/listing"
	"github.com/boxdrive/boxdrive/internal/store"
)

// localMeta is the JSON sidecar persisted next to every object payload. The
// payload lives at <root>/<bucket>/<escaped-key>; the sidecar at
// <root>/.meta/<bucket>/<escaped-key>.json. Keys are percent-escaped into a
// single filename so the flat key namespace survives: "a" and "a/b" are
// distinct files, never a file/directory conflict.
type localMeta struct {
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// localBucketMeta marks bucket existence and records its creation time. It is
// stored at <root>/.meta/<bucket>.bucket, outside the key tree so no object
// key can collide with it.
type localBucketMeta struct {
	CreatedAt time.Time `json:"created_at"`
}

// LocalStore is the filesystem ObjectStore. Writes use the crash-only
// pattern: temp file in <root>/.tmp, fsync, rename. A per-bucket RWMutex
// keeps listings consistent against concurrent writes to the same bucket.
type LocalStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewLocalStore creates a LocalStore rooted at dir, creating the root, the
// metadata tree, and the temp directory if needed. Temp files left behind by
// a previous crash are removed.
func NewLocalStore(dir string) (*LocalStore, error) {
	for _, d := range []string{dir, filepath.Join(dir, ".meta"), filepath.Join(dir, ".tmp")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %q: %w", d, err)
		}
	}

	s := &LocalStore{root: dir, locks: make(map[string]*sync.RWMutex)}
	if err := s.cleanTempFiles(); err != nil {
		return nil, err
	}
	return s, nil
}

// cleanTempFiles removes stale temp files from incomplete writes.
func (s *LocalStore) cleanTempFiles() error {
	tmpDir := filepath.Join(s.root, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// lock returns the RWMutex for the named bucket, creating it on first use.
func (s *LocalStore) lock(bucket string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[bucket]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[bucket] = l
	}
	return l
}

// escapeKey maps an object key to a single filename. url.PathEscape encodes
// "/", "%", and every other byte unsafe in a filename, so the mapping is
// injective and reversible. The bare dot names are reserved by the
// filesystem and get fully encoded.
func escapeKey(key string) string {
	switch key {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(key)
}

// unescapeKey is the inverse of escapeKey.
func unescapeKey(name string) (string, error) {
	return url.PathUnescape(name)
}

func (s *LocalStore) dataPath(bucket, key string) string {
	return filepath.Join(s.root, bucket, escapeKey(key))
}

func (s *LocalStore) metaPath(bucket, key string) string {
	return filepath.Join(s.root, ".meta", bucket, escapeKey(key)+".json")
}

func (s *LocalStore) bucketMarkerPath(bucket string) string {
	return filepath.Join(s.root, ".meta", bucket+".bucket")
}

// writeFileAtomic writes data durably: temp file, fsync, rename.
func (s *LocalStore) writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %q: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, ".tmp"), "put-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file to %q: %w", path, err)
	}
	return nil
}

func (s *LocalStore) bucketExists(bucket string) (bool, error) {
	_, err := os.Stat(s.bucketMarkerPath(bucket))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking bucket %q: %w", bucket, err)
}

func (s *LocalStore) requireBucket(bucket string) error {
	ok, err := s.bucketExists(bucket)
	if err != nil {
		return err
	}
	if !ok {
		return s3err.ErrNoSuchBucket
	}
	return nil
}

// ListBuckets returns all buckets ordered by name.
func (s *LocalStore) ListBuckets(ctx context.Context) ([]store.BucketInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, ".meta"))
	if err != nil {
		return nil, fmt.Errorf("reading metadata directory: %w", err)
	}

	var infos []store.BucketInfo
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".bucket")
		if !ok || entry.IsDir() {
			continue
		}
		meta, err := s.readBucketMarker(name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, store.BucketInfo{Name: name, CreatedAt: meta.CreatedAt})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *LocalStore) readBucketMarker(bucket string) (*localBucketMeta, error) {
	raw, err := os.ReadFile(s.bucketMarkerPath(bucket))
	if err != nil {
		return nil, fmt.Errorf("reading bucket marker for %q: %w", bucket, err)
	}
	var meta localBucketMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decoding bucket marker for %q: %w", bucket, err)
	}
	return &meta, nil
}

// CreateBucket creates the bucket directory and its marker file.
func (s *LocalStore) CreateBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.lock(bucket)
	l.Lock()
	defer l.Unlock()

	exists, err := s.bucketExists(bucket)
	if err != nil {
		return err
	}
	if exists {
		return s3err.ErrBucketAlreadyExists
	}

	for _, d := range []string{filepath.Join(s.root, bucket), filepath.Join(s.root, ".meta", bucket)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating bucket directory %q: %w", d, err)
		}
	}

	raw, err := json.Marshal(localBucketMeta{CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding bucket marker: %w", err)
	}
	return s.writeFileAtomic(s.bucketMarkerPath(bucket), raw)
}

// HeadBucket returns the metadata for the named bucket.
func (s *LocalStore) HeadBucket(ctx context.Context, bucket string) (*store.BucketInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := s.lock(bucket)
	l.RLock()
	defer l.RUnlock()

	if err := s.requireBucket(bucket); err != nil {
		return nil, err
	}
	meta, err := s.readBucketMarker(bucket)
	if err != nil {
		return nil, err
	}
	return &store.BucketInfo{Name: bucket, CreatedAt: meta.CreatedAt}, nil
}

// DeleteBucket removes the bucket if it is empty.
func (s *LocalStore) DeleteBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.lock(bucket)
	l.Lock()
	defer l.Unlock()

	if err := s.requireBucket(bucket); err != nil {
		return err
	}

	keys, err := s.bucketKeys(bucket)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return s3err.ErrBucketNotEmpty
	}

	if err := os.RemoveAll(filepath.Join(s.root, ".meta", bucket)); err != nil {
		return fmt.Errorf("removing bucket metadata: %w", err)
	}
	if err := os.Remove(s.bucketMarkerPath(bucket)); err != nil {
		return fmt.Errorf("removing bucket marker: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.root, bucket)); err != nil {
		return fmt.Errorf("removing bucket directory: %w", err)
	}
	return nil
}

// PutObject writes the payload and its metadata sidecar atomically and
// returns the ETag.
func (s *LocalStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l := s.lock(bucket)
	l.Lock()
	defer l.Unlock()

	if err := s.requireBucket(bucket); err != nil {
		return "", err
	}

	if contentType == "" {
		contentType = store.DefaultContentType
	}
	etag := computeETag(data)

	if err := s.writeFileAtomic(s.dataPath(bucket, key), data); err != nil {
		return "", err
	}

	meta := localMeta{
		ETag:         etag,
		ContentType:  contentType,
		Size:         int64(len(data)),
		LastModified: time.Now().UTC(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding object metadata: %w", err)
	}
	if err := s.writeFileAtomic(s.metaPath(bucket, key), raw); err != nil {
		return "", err
	}
	return etag, nil
}

func (s *LocalStore) readMeta(bucket, key string) (*localMeta, error) {
	raw, err := os.ReadFile(s.metaPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, fmt.Errorf("reading metadata for %q/%q: %w", bucket, key, err)
	}
	var meta localMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata for %q/%q: %w", bucket, key, err)
	}
	return &meta, nil
}

// GetObject returns the payload and metadata of an object.
func (s *LocalStore) GetObject(ctx context.Context, bucket, key string) (*store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := s.lock(bucket)
	l.RLock()
	defer l.RUnlock()

	if err := s.requireBucket(bucket); err != nil {
		return nil, err
	}

	meta, err := s.readMeta(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.dataPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, fmt.Errorf("reading object %q/%q: %w", bucket, key, err)
	}

	return &store.Object{
		Info: store.ObjectInfo{
			Key:          key,
			Size:         meta.Size,
			ETag:         meta.ETag,
			ContentType:  meta.ContentType,
			LastModified: meta.LastModified,
		},
		Data: data,
	}, nil
}

// HeadObject returns the metadata of an object without reading its payload.
func (s *LocalStore) HeadObject(ctx context.Context, bucket, key string) (*store.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := s.lock(bucket)
	l.RLock()
	defer l.RUnlock()

	if err := s.requireBucket(bucket); err != nil {
		return nil, err
	}

	meta, err := s.readMeta(bucket, key)
	if err != nil {
		return nil, err
	}
	return &store.ObjectInfo{
		Key:          key,
		Size:         meta.Size,
		ETag:         meta.ETag,
		ContentType:  meta.ContentType,
		LastModified: meta.LastModified,
	}, nil
}

// DeleteObject removes the payload and sidecar. Deleting an absent key is
// not an error.
func (s *LocalStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.lock(bucket)
	l.Lock()
	defer l.Unlock()

	if err := s.requireBucket(bucket); err != nil {
		return err
	}

	dataPath := s.dataPath(bucket, key)
	if err := os.Remove(dataPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing object %q/%q: %w", bucket, key, err)
	}
	metaPath := s.metaPath(bucket, key)
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing metadata %q/%q: %w", bucket, key, err)
	}
	return nil
}

// ListObjects produces one v1 page over the bucket's sidecar metadata.
func (s *LocalStore) ListObjects(ctx context.Context, bucket string, opts store.ListOptions) (*store.Page, error) {
	infos, err := s.snapshot(ctx, bucket)
	if err != nil {
		return nil, err
	}
	return listing.List(infos, opts)
}

// ListObjectsV2 produces one v2 page over the bucket's sidecar metadata.
func (s *LocalStore) ListObjectsV2(ctx context.Context, bucket string, opts store.ListOptionsV2) (*store.Page, error) {
	infos, err := s.snapshot(ctx, bucket)
	if err != nil {
		return nil, err
	}
	return listing.ListV2(infos, opts)
}

// bucketKeys reads the bucket's flat metadata directory and returns its
// object keys in byte order.
func (s *LocalStore) bucketKeys(bucket string) ([]string, error) {
	metaRoot := filepath.Join(s.root, ".meta", bucket)
	entries, err := os.ReadDir(metaRoot)
	if err != nil {
		return nil, fmt.Errorf("reading bucket %q: %w", bucket, err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok {
			continue
		}
		key, err := unescapeKey(name)
		if err != nil {
			return nil, fmt.Errorf("decoding key %q in bucket %q: %w", name, bucket, err)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStore) snapshot(ctx context.Context, bucket string) ([]store.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := s.lock(bucket)
	l.RLock()
	defer l.RUnlock()

	if err := s.requireBucket(bucket); err != nil {
		return nil, err
	}

	keys, err := s.bucketKeys(bucket)
	if err != nil {
		return nil, err
	}

	infos := make([]store.ObjectInfo, 0, len(keys))
	for _, key := range keys {
		meta, err := s.readMeta(bucket, key)
		if err != nil {
			return nil, err
		}
		infos = append(infos, store.ObjectInfo{
			Key:          key,
			Size:         meta.Size,
			ETag:         meta.ETag,
			ContentType:  meta.ContentType,
			LastModified: meta.LastModified,
		})
	}
	return infos, nil
}

// HealthCheck verifies that the storage root is accessible.
func (s *LocalStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(s.root)
	return err
}

// Close releases nothing; all state is on disk.
func (s *LocalStore) Close() error {
	return nil
}

var _ store.ObjectStore = (*LocalStore)(nil)
