// GCP Cloud Storage gateway backend.
//
// Same upstream layout as the AWS gateway:
//
//	Objects:        {prefix}{boxdrive_bucket}/{key}
//	Bucket markers: {prefix}.buckets/{boxdrive_bucket}
//
// Credentials resolve via Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, gcloud auth, metadata server).

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/listing"
	"github.com/boxdrive/boxdrive/internal/store"
)

// GCSAPI is the subset of the GCS client interface the gateway uses.
// Narrow on purpose so tests can supply a mock.
type GCSAPI interface {
	// Write stores an object with the given content type and metadata.
	Write(ctx context.Context, bucket, object string, data []byte, contentType string, metadata map[string]string) error
	// Read returns the full payload of an object.
	Read(ctx context.Context, bucket, object string) ([]byte, error)
	// Delete deletes an object.
	Delete(ctx context.Context, bucket, object string) error
	// Attrs returns the attributes of an object.
	Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error)
	// ListObjects returns the attributes of every object under prefix, in
	// name order.
	ListObjects(ctx context.Context, bucket, prefix string) ([]*GCSAttrs, error)
}

// GCSAttrs holds the object attributes the gateway consumes.
type GCSAttrs struct {
	Name        string
	Size        int64
	MD5         []byte
	ContentType string
	Updated     time.Time
	Metadata    map[string]string
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) Write(ctx context.Context, bucket, object string, data []byte, contentType string, metadata map[string]string) error {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (c *realGCSClient) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error) {
	attrs, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return nil, err
	}
	return convertGCSAttrs(attrs), nil
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]*GCSAttrs, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var out []*GCSAttrs
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, convertGCSAttrs(attrs))
	}
	return out, nil
}

func convertGCSAttrs(attrs *gcs.ObjectAttrs) *GCSAttrs {
	return &GCSAttrs{
		Name:        attrs.Name,
		Size:        attrs.Size,
		MD5:         attrs.MD5,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		Metadata:    attrs.Metadata,
	}
}

// GCPStore is the ObjectStore gateway to an upstream GCS bucket. Listing
// runs the shared engine over a name-ordered upstream snapshot.
type GCPStore struct {
	// Bucket is the upstream GCS bucket name.
	Bucket string
	// Project is the GCP project ID.
	Project string
	// Prefix is the key prefix namespacing all BoxDrive data upstream.
	Prefix string
	client GCSAPI
}

// NewGCPStore creates a GCPStore proxying to the given upstream bucket using
// Application Default Credentials.
func NewGCPStore(ctx context.Context, bucket, project, prefix string) (*GCPStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	b := &GCPStore{
		Bucket:  bucket,
		Project: project,
		Prefix:  prefix,
		client:  &realGCSClient{client: client},
	}

	// Verify the upstream bucket is accessible.
	if _, err := b.client.ListObjects(ctx, bucket, "\x00nonexistent\x00"); err != nil {
		return nil, fmt.Errorf("cannot access upstream GCS bucket %q: %w", bucket, err)
	}

	slog.Info("GCP gateway backend initialized", "bucket", bucket, "project", project, "prefix", prefix)
	return b, nil
}

// NewGCPStoreWithClient creates a GCPStore with a pre-configured client.
// Used by tests with mock clients.
func NewGCPStoreWithClient(bucket, project, prefix string, client GCSAPI) *GCPStore {
	return &GCPStore{
		Bucket:  bucket,
		Project: project,
		Prefix:  prefix,
		client:  client,
	}
}

func (b *GCPStore) gcsKey(bucket, key string) string {
	return b.Prefix + bucket + "/" + key
}

func (b *GCPStore) markerKey(bucket string) string {
	return b.Prefix + ".buckets/" + bucket
}

func (b *GCPStore) requireBucket(ctx context.Context, bucket string) error {
	_, err := b.client.Attrs(ctx, b.Bucket, b.markerKey(bucket))
	if err != nil {
		if isGCSNotFound(err) {
			return s3err.ErrNoSuchBucket
		}
		return fmt.Errorf("checking bucket marker for %q: %w", bucket, err)
	}
	return nil
}

// ListBuckets enumerates marker objects; the marker's Updated time is the
// bucket creation time. Markers are never rewritten, so Updated equals the
// original creation time.
func (b *GCPStore) ListBuckets(ctx context.Context) ([]store.BucketInfo, error) {
	markerPrefix := b.Prefix + ".buckets/"
	attrs, err := b.client.ListObjects(ctx, b.Bucket, markerPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing bucket markers: %w", err)
	}

	var infos []store.BucketInfo
	for _, a := range attrs {
		name := strings.TrimPrefix(a.Name, markerPrefix)
		if name == "" {
			continue
		}
		infos = append(infos, store.BucketInfo{Name: name, CreatedAt: a.Updated})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// CreateBucket writes the bucket marker object.
func (b *GCPStore) CreateBucket(ctx context.Context, bucket string) error {
	err := b.requireBucket(ctx, bucket)
	if err == nil {
		return s3err.ErrBucketAlreadyExists
	}
	if !errors.Is(err, s3err.ErrNoSuchBucket) {
		return err
	}

	if err := b.client.Write(ctx, b.Bucket, b.markerKey(bucket), nil, store.DefaultContentType, nil); err != nil {
		return fmt.Errorf("writing bucket marker for %q: %w", bucket, err)
	}
	return nil
}

// HeadBucket reads the bucket marker.
func (b *GCPStore) HeadBucket(ctx context.Context, bucket string) (*store.BucketInfo, error) {
	attrs, err := b.client.Attrs(ctx, b.Bucket, b.markerKey(bucket))
	if err != nil {
		if isGCSNotFound(err) {
			return nil, s3err.ErrNoSuchBucket
		}
		return nil, fmt.Errorf("checking bucket marker for %q: %w", bucket, err)
	}
	return &store.BucketInfo{Name: bucket, CreatedAt: attrs.Updated}, nil
}

// DeleteBucket removes the marker if no objects remain under the bucket
// prefix.
func (b *GCPStore) DeleteBucket(ctx context.Context, bucket string) error {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return err
	}

	attrs, err := b.client.ListObjects(ctx, b.Bucket, b.Prefix+bucket+"/")
	if err != nil {
		return fmt.Errorf("checking bucket contents for %q: %w", bucket, err)
	}
	if len(attrs) > 0 {
		return s3err.ErrBucketNotEmpty
	}

	if err := b.client.Delete(ctx, b.Bucket, b.markerKey(bucket)); err != nil {
		return fmt.Errorf("deleting bucket marker for %q: %w", bucket, err)
	}
	return nil
}

// PutObject uploads the payload. The ETag is computed locally and stored as
// object metadata so it stays the authoritative value regardless of how GCS
// stores the payload.
func (b *GCPStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return "", err
	}

	if contentType == "" {
		contentType = store.DefaultContentType
	}
	etag := computeETag(data)

	metadata := map[string]string{"boxdrive-etag": strings.Trim(etag, `"`)}
	if err := b.client.Write(ctx, b.Bucket, b.gcsKey(bucket, key), data, contentType, metadata); err != nil {
		return "", fmt.Errorf("uploading to GCS: %w", err)
	}
	return etag, nil
}

// GetObject downloads the payload and metadata from upstream.
func (b *GCPStore) GetObject(ctx context.Context, bucket, key string) (*store.Object, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	name := b.gcsKey(bucket, key)
	attrs, err := b.client.Attrs(ctx, b.Bucket, name)
	if err != nil {
		if isGCSNotFound(err) {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, fmt.Errorf("reading object attrs from GCS: %w", err)
	}
	data, err := b.client.Read(ctx, b.Bucket, name)
	if err != nil {
		if isGCSNotFound(err) {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, fmt.Errorf("reading object from GCS: %w", err)
	}

	return &store.Object{
		Info: store.ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			ETag:         gcsETag(attrs),
			ContentType:  attrs.ContentType,
			LastModified: attrs.Updated,
		},
		Data: data,
	}, nil
}

// HeadObject reads upstream attributes without downloading the payload.
func (b *GCPStore) HeadObject(ctx context.Context, bucket, key string) (*store.ObjectInfo, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	attrs, err := b.client.Attrs(ctx, b.Bucket, b.gcsKey(bucket, key))
	if err != nil {
		if isGCSNotFound(err) {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, fmt.Errorf("reading object attrs from GCS: %w", err)
	}

	return &store.ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		ETag:         gcsETag(attrs),
		ContentType:  attrs.ContentType,
		LastModified: attrs.Updated,
	}, nil
}

// DeleteObject removes the upstream object. A missing upstream object is not
// an error.
func (b *GCPStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return err
	}

	err := b.client.Delete(ctx, b.Bucket, b.gcsKey(bucket, key))
	if err != nil && !isGCSNotFound(err) {
		return fmt.Errorf("deleting object from GCS: %w", err)
	}
	return nil
}

// ListObjects produces a v1 page over an upstream snapshot.
func (b *GCPStore) ListObjects(ctx context.Context, bucket string, opts store.ListOptions) (*store.Page, error) {
	infos, err := b.snapshot(ctx, bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}
	return listing.List(infos, opts)
}

// ListObjectsV2 produces a v2 page over an upstream snapshot.
func (b *GCPStore) ListObjectsV2(ctx context.Context, bucket string, opts store.ListOptionsV2) (*store.Page, error) {
	infos, err := b.snapshot(ctx, bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}
	return listing.ListV2(infos, opts)
}

// snapshot lists the bucket's upstream objects, already in name order, with
// the namespace prefix stripped.
func (b *GCPStore) snapshot(ctx context.Context, bucket, prefix string) ([]store.ObjectInfo, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	bucketPrefix := b.Prefix + bucket + "/"
	attrs, err := b.client.ListObjects(ctx, b.Bucket, bucketPrefix+prefix)
	if err != nil {
		return nil, fmt.Errorf("listing objects in GCS: %w", err)
	}

	infos := make([]store.ObjectInfo, 0, len(attrs))
	for _, a := range attrs {
		infos = append(infos, store.ObjectInfo{
			Key:          strings.TrimPrefix(a.Name, bucketPrefix),
			Size:         a.Size,
			ETag:         gcsETag(a),
			ContentType:  a.ContentType,
			LastModified: a.Updated,
		})
	}
	return infos, nil
}

// HealthCheck verifies that the upstream bucket is accessible.
func (b *GCPStore) HealthCheck(ctx context.Context) error {
	_, err := b.client.ListObjects(ctx, b.Bucket, "\x00nonexistent\x00")
	return err
}

// Close releases nothing; the GCS client reuses pooled connections.
func (b *GCPStore) Close() error {
	return nil
}

// gcsETag prefers the locally computed digest stored in object metadata,
// falling back to the upstream MD5.
func gcsETag(attrs *GCSAttrs) string {
	if v, ok := attrs.Metadata["boxdrive-etag"]; ok && v != "" {
		return `"` + v + `"`
	}
	return fmt.Sprintf(`"%x"`, attrs.MD5)
}

// isGCSNotFound reports whether err means the object does not exist.
func isGCSNotFound(err error) bool {
	return errors.Is(err, gcs.ErrObjectNotExist)
}

var _ store.ObjectStore = (*GCPStore)(nil)
