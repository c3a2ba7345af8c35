// AWS S3 gateway backend.
//
// All BoxDrive buckets live under a single upstream S3 bucket, namespaced by
// a key prefix:
//
//	Objects:        {prefix}{boxdrive_bucket}/{key}
//	Bucket markers: {prefix}.buckets/{boxdrive_bucket}
//
// A marker object records bucket existence; its upstream LastModified is the
// bucket creation time. Credentials resolve via the standard AWS credential
// chain (env vars, ~/.aws/credentials, IAM role, etc.).

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/listing"
	"github.com/boxdrive/boxdrive/internal/store"
)

// S3API is the subset of the AWS S3 client interface the gateway uses.
// Narrow on purpose so tests can supply a mock.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// AWSStore is the ObjectStore gateway to an upstream Amazon S3 bucket.
// Pagination is never delegated upstream: the gateway collects the ordered
// key snapshot and runs the shared listing engine over it, so marker and
// token behavior is identical to every other backend.
type AWSStore struct {
	// Bucket is the upstream S3 bucket name.
	Bucket string
	// Region is the AWS region of the upstream bucket.
	Region string
	// Prefix is the key prefix namespacing all BoxDrive data upstream.
	Prefix string
	client S3API
}

// NewAWSStore creates an AWSStore proxying to the given upstream bucket. The
// SDK client uses the default credential chain, with optional overrides for
// custom endpoint, path-style addressing, and static credentials.
func NewAWSStore(ctx context.Context, bucket, region, prefix, endpointURL string, usePathStyle bool, accessKeyID, secretAccessKey string) (*AWSStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))

	if accessKeyID != "" && secretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if endpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
		})
	}
	if usePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)

	b := &AWSStore{
		Bucket: bucket,
		Region: region,
		Prefix: prefix,
		client: client,
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("cannot access upstream S3 bucket %q: %w", bucket, err)
	}

	slog.Info("AWS gateway backend initialized", "bucket", bucket, "region", region, "prefix", prefix)
	return b, nil
}

// NewAWSStoreWithClient creates an AWSStore with a pre-configured client.
// Used by tests with mock clients.
func NewAWSStoreWithClient(bucket, region, prefix string, client S3API) *AWSStore {
	return &AWSStore{
		Bucket: bucket,
		Region: region,
		Prefix: prefix,
		client: client,
	}
}

// s3Key maps a BoxDrive bucket/key to an upstream S3 key.
func (b *AWSStore) s3Key(bucket, key string) string {
	return b.Prefix + bucket + "/" + key
}

// markerKey maps a BoxDrive bucket to its upstream marker object key.
func (b *AWSStore) markerKey(bucket string) string {
	return b.Prefix + ".buckets/" + bucket
}

func (b *AWSStore) requireBucket(ctx context.Context, bucket string) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.markerKey(bucket)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return s3err.ErrNoSuchBucket
		}
		return fmt.Errorf("checking bucket marker for %q: %w", bucket, err)
	}
	return nil
}

// ListBuckets enumerates marker objects; each marker's LastModified is the
// bucket creation time. Upstream already returns keys in byte order.
func (b *AWSStore) ListBuckets(ctx context.Context) ([]store.BucketInfo, error) {
	markerPrefix := b.Prefix + ".buckets/"

	var infos []store.BucketInfo
	var token *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.Bucket),
			Prefix:            aws.String(markerPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("listing bucket markers: %w", err)
		}
		for _, obj := range resp.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), markerPrefix)
			if name == "" {
				continue
			}
			infos = append(infos, store.BucketInfo{
				Name:      name,
				CreatedAt: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return infos, nil
}

// CreateBucket writes the bucket marker object.
func (b *AWSStore) CreateBucket(ctx context.Context, bucket string) error {
	err := b.requireBucket(ctx, bucket)
	if err == nil {
		return s3err.ErrBucketAlreadyExists
	}
	if !errors.Is(err, s3err.ErrNoSuchBucket) {
		return err
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.Bucket),
		Key:           aws.String(b.markerKey(bucket)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("writing bucket marker for %q: %w", bucket, err)
	}
	return nil
}

// HeadBucket reads the bucket marker.
func (b *AWSStore) HeadBucket(ctx context.Context, bucket string) (*store.BucketInfo, error) {
	resp, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.markerKey(bucket)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, s3err.ErrNoSuchBucket
		}
		return nil, fmt.Errorf("checking bucket marker for %q: %w", bucket, err)
	}
	return &store.BucketInfo{Name: bucket, CreatedAt: aws.ToTime(resp.LastModified)}, nil
}

// DeleteBucket removes the marker if no objects remain under the bucket
// prefix.
func (b *AWSStore) DeleteBucket(ctx context.Context, bucket string) error {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return err
	}

	resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.Bucket),
		Prefix:  aws.String(b.Prefix + bucket + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("checking bucket contents for %q: %w", bucket, err)
	}
	if len(resp.Contents) > 0 {
		return s3err.ErrBucketNotEmpty
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.markerKey(bucket)),
	})
	if err != nil {
		return fmt.Errorf("deleting bucket marker for %q: %w", bucket, err)
	}
	return nil
}

// PutObject uploads the payload. The ETag is computed locally before the
// upload: AWS returns a different ETag when server-side encryption is on, so
// the locally computed digest is stored as object metadata and is the
// authoritative value.
func (b *AWSStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return "", err
	}

	if contentType == "" {
		contentType = store.DefaultContentType
	}
	etag := computeETag(data)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.Bucket),
		Key:           aws.String(b.s3Key(bucket, key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata:      map[string]string{"boxdrive-etag": strings.Trim(etag, `"`)},
	})
	if err != nil {
		return "", fmt.Errorf("uploading to S3: %w", err)
	}
	return etag, nil
}

// GetObject downloads the payload and metadata from upstream.
func (b *AWSStore) GetObject(ctx context.Context, bucket, key string) (*store.Object, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(bucket, key)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, fmt.Errorf("getting object from S3: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object body: %w", err)
	}

	return &store.Object{
		Info: store.ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			ETag:         gatewayETag(resp.Metadata, resp.ETag),
			ContentType:  aws.ToString(resp.ContentType),
			LastModified: aws.ToTime(resp.LastModified),
		},
		Data: data,
	}, nil
}

// HeadObject reads upstream metadata without downloading the payload.
func (b *AWSStore) HeadObject(ctx context.Context, bucket, key string) (*store.ObjectInfo, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	resp, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(bucket, key)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, s3err.ErrNoSuchKey
		}
		return nil, fmt.Errorf("heading object in S3: %w", err)
	}

	return &store.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         gatewayETag(resp.Metadata, resp.ETag),
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

// DeleteObject removes the upstream object. Idempotent upstream as well.
func (b *AWSStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return err
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(bucket, key)),
	})
	if err != nil {
		return fmt.Errorf("deleting object from S3: %w", err)
	}
	return nil
}

// ListObjects produces a v1 page over an upstream key snapshot.
func (b *AWSStore) ListObjects(ctx context.Context, bucket string, opts store.ListOptions) (*store.Page, error) {
	infos, err := b.snapshot(ctx, bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}
	return listing.List(infos, opts)
}

// ListObjectsV2 produces a v2 page over an upstream key snapshot.
func (b *AWSStore) ListObjectsV2(ctx context.Context, bucket string, opts store.ListOptionsV2) (*store.Page, error) {
	infos, err := b.snapshot(ctx, bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}
	return listing.ListV2(infos, opts)
}

// snapshot pages through upstream ListObjectsV2 and collects the bucket's
// keys, already in byte order, with the namespace prefix stripped.
func (b *AWSStore) snapshot(ctx context.Context, bucket, prefix string) ([]store.ObjectInfo, error) {
	if err := b.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	bucketPrefix := b.Prefix + bucket + "/"

	var infos []store.ObjectInfo
	var token *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.Bucket),
			Prefix:            aws.String(bucketPrefix + prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("listing objects in S3: %w", err)
		}
		for _, obj := range resp.Contents {
			infos = append(infos, store.ObjectInfo{
				Key:          strings.TrimPrefix(aws.ToString(obj.Key), bucketPrefix),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return infos, nil
}

// HealthCheck verifies that the upstream bucket is accessible.
func (b *AWSStore) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.Bucket)})
	return err
}

// Close releases nothing; the SDK client holds no long-lived resources.
func (b *AWSStore) Close() error {
	return nil
}

// gatewayETag prefers the locally computed digest stored in object metadata
// over the upstream ETag, which diverges under server-side encryption.
func gatewayETag(metadata map[string]string, upstream *string) string {
	if v, ok := metadata["boxdrive-etag"]; ok && v != "" {
		return `"` + v + `"`
	}
	return aws.ToString(upstream)
}

// isAWSNotFound reports whether err is a 404/NoSuchKey/NotFound error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" || code == "NoSuchBucket" {
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}

var _ store.ObjectStore = (*AWSStore)(nil)
