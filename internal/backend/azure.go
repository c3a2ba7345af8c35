// Azure Blob Storage gateway backend.
//
// Same upstream layout as the other gateways:
//
//	Objects:        {prefix}{boxdrive_bucket}/{key}
//	Bucket markers: {prefix}.buckets/{boxdrive_bucket}
//
// Credentials resolve via connection string, managed identity, or
// DefaultAzureCredential (env vars, Azure CLI, etc.).

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/listing"
	"github.com/boxdrive/boxdrive/internal/store"
)

// AzureBlobAPI is the subset of the Azure Blob client interface the gateway
// uses. Narrow on purpose so tests can supply a mock.
type AzureBlobAPI interface {
	// UploadBlob uploads data with the given content type and metadata,
	// overwriting any existing blob.
	UploadBlob(ctx context.Context, container, blob string, data []byte, contentType string, metadata map[string]string) error
	// DownloadBlob downloads a blob's contents.
	DownloadBlob(ctx context.Context, container, blob string) ([]byte, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, container, blob string) error
	// BlobProperties returns the properties of a blob.
	BlobProperties(ctx context.Context, container, blob string) (*AzureBlobProps, error)
	// ListBlobs returns the properties of every blob under prefix, in name
	// order.
	ListBlobs(ctx context.Context, container, prefix string) ([]*AzureBlobProps, error)
}

// AzureBlobProps holds the blob properties the gateway consumes.
type AzureBlobProps struct {
	Name         string
	Size         int64
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// AzureStore is the ObjectStore gateway to an upstream Azure Blob container.
// Listing runs the shared engine over a name-ordered upstream snapshot.
type AzureStore struct {
	// Container is the upstream Azure Blob container name.
	Container string
	// AccountURL is the storage account URL
	// (e.g. https://account.blob.core.windows.net).
	AccountURL string
	// Prefix is the key prefix namespacing all BoxDrive data upstream.
	Prefix string
	client AzureBlobAPI
}

// NewAzureStore creates an AzureStore proxying to the given container. If
// connectionString is non-empty it takes precedence; otherwise managed
// identity or DefaultAzureCredential is used.
func NewAzureStore(ctx context.Context, container, accountURL, prefix, connectionString string, useManagedIdentity bool) (*AzureStore, error) {
	client, err := newRealAzureClient(accountURL, connectionString, useManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	b := &AzureStore{
		Container:  container,
		AccountURL: accountURL,
		Prefix:     prefix,
		client:     client,
	}

	// Verify the upstream container is accessible.
	if _, err := b.client.ListBlobs(ctx, container, "\x00nonexistent\x00"); err != nil {
		return nil, fmt.Errorf("cannot access upstream Azure container %q: %w", container, err)
	}

	slog.Info("Azure gateway backend initialized", "container", container, "account", accountURL, "prefix", prefix)
	return b, nil
}

// NewAzureStoreWithClient creates an AzureStore with a pre-configured client.
// Used by tests with mock clients.
func NewAzureStoreWithClient(container, accountURL, prefix string, client AzureBlobAPI) *AzureStore {
	return &AzureStore{
		Container:  container,
		AccountURL: accountURL,
		Prefix:     prefix,
		client:     client,
	}
}

func (b *AzureStore) blobName(bucket, key string) string {
	return b.Prefix + bucket + "/" + key
}

func (b *AzureStore) markerName(bucket string) string {
	return b.Prefix + ".buckets/" + bucket
}

func (b *AzureStore) requireBucket(ctx context.Context, bucket string) error {
	_, err := b.client.BlobProperties(ctx, b.Container, b.markerName(bucket))
	if err != nil {
		if isAzureNotFound(err) {
			return s3err.ErrNoSuchBucket
		}
		return fmt.Errorf("checking bucket marker for %q: %w", bucket, err)
	}
	return nil
}

// ListBuckets enumerates marker blobs; the marker's LastModified is the
// bucket creation time.
func (b *AzureStore) ListBuckets(ctx context.Context) ([]store.BucketInfo, error) {
	markerPrefix := b.Prefix + ".buckets/"
	props, err := b.client.ListBlobs(ctx, b.Container, markerPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing bucket markers: %w", err)
	}

	var infos []store.BucketInfo
	for _, p := range props {
		name := strings.TrimPrefix(p.Name, markerPrefix)
		if name == "" {
			continue
		}
		infos = append(infos, store.BucketInfo{Name: name, CreatedAt: p.LastModified})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// CreateBucket writes the bucket marker blob.
func (b *AzureStore) CreateBucket(ctx context.Context, bucket string) error {
	err := b.requireBucket(ctx, bucket)
	if err == nil {
		return s3err.ErrBucketAlreadyExists
	}
	if !errors.Is(err, s3err.ErrNoSuchBucket) {
		return err
	}

	if err := b.client.UploadBlob(ctx, b.Container, b.markerName(bucket), nil, store.DefaultContentType, nil); err != nil {
		return fmt.Errorf("writing bucket marker for %q: %w", bucket, err)
	}
	return nil
}

// HeadBucket reads the bucket marker blob.
func (b *AzureStore) HeadBucket(ctx context.Context, bucket string) (*store.BucketInfo, error) {
	props, err := b.client.BlobProperties(ctx, b.Container, b.markerName(bucket))
	if err != nil {
		if isAzureNotFound(err) {
			return nil, s3err.ErrNoSuchBucket
		}
		return nil, fmt.Errorf("checking bucket marker for %q: %w", bucket, err)
	}
	return &store.BucketInfo{Name: bucket, CreatedAt: props.LastModified}, nil
}

// DeleteBucket removes the marker if no blobs remain under the bucket
// prefix.
func (b *AzureStore) DeleteBucket(ctx context.Context, bucket string) error {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return err
	}

	props, err := b.client.ListBlobs(ctx, b.Container, b.Prefix+bucket+"/")
	if err != nil {
		return fmt.Errorf("checking bucket contents for %q: %w", bucket, err)
	}
	if len(props) > 0 {
		return s3err.ErrBucketNotEmpty
	}

	if err := b.client.DeleteBlob(ctx, b.Container, b.markerName(bucket)); err != nil {
		return fmt.Errorf("deleting bucket marker for %q: %w", bucket, err)
	}
	return nil
}

// PutObject uploads the payload. The ETag is computed locally and stored as
// blob metadata; Azure's own ETag is a server-generated opaque value.
func (b *AzureStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return "", err
	}

	if contentType == "" {
		contentType = store.DefaultContentType
	}
	etag := computeETag(data)

	metadata := map[string]string{"boxdrive_etag": strings.Trim(etag, `"`)}
	if err := b.client.UploadBlob(ctx, b.Container, b.blobName(bucket, key), data, contentType, metadata); err != nil {
		return "", fmt.Errorf("uploading to Azure Blob: %w", err)
	}
	return etag, nil
}

// GetObject downloads the payload and properties from upstream.
func (b *AzureStore) GetObject(ctx context.Context, bucket, key string) (*store.Object, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	name := b.blobName(bucket, key)
	props, err := b.client.BlobProperties(ctx, b.Container, name)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, fmt.Errorf("getting blob properties from Azure: %w", err)
	}
	data, err := b.client.DownloadBlob(ctx, b.Container, name)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, fmt.Errorf("downloading blob from Azure: %w", err)
	}

	return &store.Object{
		Info: store.ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			ETag:         azureETag(props),
			ContentType:  props.ContentType,
			LastModified: props.LastModified,
		},
		Data: data,
	}, nil
}

// HeadObject reads blob properties without downloading the payload.
func (b *AzureStore) HeadObject(ctx context.Context, bucket, key string) (*store.ObjectInfo, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	props, err := b.client.BlobProperties(ctx, b.Container, b.blobName(bucket, key))
	if err != nil {
		if isAzureNotFound(err) {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, fmt.Errorf("getting blob properties from Azure: %w", err)
	}

	return &store.ObjectInfo{
		Key:          key,
		Size:         props.Size,
		ETag:         azureETag(props),
		ContentType:  props.ContentType,
		LastModified: props.LastModified,
	}, nil
}

// DeleteObject removes the upstream blob. A missing blob is not an error.
func (b *AzureStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return err
	}

	err := b.client.DeleteBlob(ctx, b.Container, b.blobName(bucket, key))
	if err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("deleting blob from Azure: %w", err)
	}
	return nil
}

// ListObjects produces a v1 page over an upstream snapshot.
func (b *AzureStore) ListObjects(ctx context.Context, bucket string, opts store.ListOptions) (*store.Page, error) {
	infos, err := b.snapshot(ctx, bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}
	return listing.List(infos, opts)
}

// ListObjectsV2 produces a v2 page over an upstream snapshot.
func (b *AzureStore) ListObjectsV2(ctx context.Context, bucket string, opts store.ListOptionsV2) (*store.Page, error) {
	infos, err := b.snapshot(ctx, bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}
	return listing.ListV2(infos, opts)
}

// snapshot lists the bucket's upstream blobs, already in name order, with
// the namespace prefix stripped.
func (b *AzureStore) snapshot(ctx context.Context, bucket, prefix string) ([]store.ObjectInfo, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	bucketPrefix := b.Prefix + bucket + "/"
	props, err := b.client.ListBlobs(ctx, b.Container, bucketPrefix+prefix)
	if err != nil {
		return nil, fmt.Errorf("listing blobs in Azure: %w", err)
	}

	infos := make([]store.ObjectInfo, 0, len(props))
	for _, p := range props {
		infos = append(infos, store.ObjectInfo{
			Key:          strings.TrimPrefix(p.Name, bucketPrefix),
			Size:         p.Size,
			ETag:         azureETag(p),
			ContentType:  p.ContentType,
			LastModified: p.LastModified,
		})
	}
	return infos, nil
}

// HealthCheck verifies that the upstream container is accessible.
func (b *AzureStore) HealthCheck(ctx context.Context) error {
	_, err := b.client.ListBlobs(ctx, b.Container, "\x00nonexistent\x00")
	return err
}

// Close releases nothing; the SDK client holds no long-lived resources.
func (b *AzureStore) Close() error {
	return nil
}

// azureETag reads the locally computed digest from blob metadata. Azure
// normalizes metadata keys, so look case-insensitively.
func azureETag(props *AzureBlobProps) string {
	for k, v := range props.Metadata {
		if strings.EqualFold(k, "boxdrive_etag") && v != "" {
			return `"` + v + `"`
		}
	}
	return ""
}

// isAzureNotFound reports whether err is a not-found error.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404") ||
		strings.Contains(msg, "blobnotfound") || strings.Contains(msg, "containernotfound") ||
		strings.Contains(msg, "the specified blob does not exist") ||
		strings.Contains(msg, "the specified container does not exist")
}

var _ store.ObjectStore = (*AzureStore)(nil)
