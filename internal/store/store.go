// Package store defines the backend contract for BoxDrive: the ObjectStore
// interface every storage backend implements, and the bucket, object, and
// listing types exchanged across it. The REST layer and the listing engine
// depend only on this contract, never on a concrete backend.
package store

import (
	"context"
	"io"
	"time"
)

// DefaultMaxKeys is the listing page size applied by the REST layer when the
// request does not carry a max-keys parameter.
const DefaultMaxKeys = 1000

// MaxKeysCeiling is the hard upper bound on a listing page. Larger requested
// values are clamped, never rejected.
const MaxKeysCeiling = 1000

// DefaultContentType is assigned to objects stored without an explicit
// content type.
const DefaultContentType = "application/octet-stream"

// BucketInfo holds the metadata for a single bucket.
type BucketInfo struct {
	Name      string
	CreatedAt time.Time
}

// ObjectInfo is the payload-free projection of an object: everything a
// listing or head operation needs without transferring the data.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// Object is a stored object: its metadata plus the full payload.
type Object struct {
	Info ObjectInfo
	Data []byte
}

// ListOptions holds the filtering and pagination parameters for the v1
// (marker-based) listing protocol.
//
// MaxKeys is explicit at this level: 0 means an empty page whose IsTruncated
// flag still reports whether any matching key exists, and a negative value is
// an InvalidArgument. Callers wanting the protocol default pass DefaultMaxKeys.
type ListOptions struct {
	Prefix    string
	Delimiter string
	Marker    string
	MaxKeys   int
}

// ListOptionsV2 holds the filtering and pagination parameters for the v2
// (continuation-token-based) listing protocol. When both ContinuationToken
// and StartAfter are set, the token wins.
type ListOptionsV2 struct {
	Prefix            string
	Delimiter         string
	ContinuationToken string
	StartAfter        string
	MaxKeys           int
}

// Page is the result of one listing call. Objects and CommonPrefixes are
// each in ascending byte order and disjoint: no key appears both as an entry
// and inside a reported common prefix. IsTruncated is exact — true iff at
// least one more matching key lies beyond this page.
type Page struct {
	Objects        []ObjectInfo
	CommonPrefixes []string
	IsTruncated    bool

	// NextMarker resumes a v1 listing; set only on truncated pages.
	NextMarker string
	// NextContinuationToken resumes a v2 listing; set only on truncated pages.
	NextContinuationToken string
}

// ObjectStore is the capability contract every BoxDrive backend implements.
// All methods must be safe for concurrent use; per-bucket mutation is
// serialized against listing reads for that bucket, and operations on
// different buckets never block each other.
//
// A listing call observes one consistent snapshot of the bucket's key set
// for the duration of a single page. Snapshot consistency is NOT guaranteed
// across the pages of one pagination sequence: concurrent mutation between
// pages may change results, matching S3's own consistency model.
//
// Error values are the sentinel *errors.S3Error kinds: NoSuchBucket,
// NoSuchKey, BucketAlreadyExists, BucketNotEmpty, InvalidToken,
// InvalidArgument. Backends never retry or mask internally; every failure
// surfaces to the caller.
type ObjectStore interface {
	io.Closer

	// ListBuckets returns all buckets ordered by name.
	ListBuckets(ctx context.Context) ([]BucketInfo, error)

	// CreateBucket creates a new, empty bucket.
	// Fails with BucketAlreadyExists if the name is taken.
	CreateBucket(ctx context.Context, bucket string) error

	// HeadBucket returns the metadata for the named bucket.
	// Fails with NoSuchBucket if it does not exist.
	HeadBucket(ctx context.Context, bucket string) (*BucketInfo, error)

	// DeleteBucket removes the named bucket. Fails with NoSuchBucket if it
	// does not exist and with BucketNotEmpty if it still holds objects.
	DeleteBucket(ctx context.Context, bucket string) error

	// PutObject creates or fully replaces an object, returning the ETag of
	// the stored payload. The ETag is a pure function of data: identical
	// bytes always produce an identical ETag. An empty contentType defaults
	// to DefaultContentType. Fails with NoSuchBucket.
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)

	// GetObject returns the payload and metadata of an object.
	// Fails with NoSuchBucket or NoSuchKey.
	GetObject(ctx context.Context, bucket, key string) (*Object, error)

	// HeadObject returns the metadata of an object without its payload.
	// Fails with NoSuchBucket or NoSuchKey.
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// DeleteObject removes an object. Idempotent: deleting an absent key is
	// not an error. Fails with NoSuchBucket.
	DeleteObject(ctx context.Context, bucket, key string) error

	// ListObjects produces one page of the bucket's keys using marker
	// semantics (v1). Fails with NoSuchBucket.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) (*Page, error)

	// ListObjectsV2 produces one page of the bucket's keys using
	// continuation-token semantics. Fails with NoSuchBucket, or InvalidToken
	// for a malformed continuation token.
	ListObjectsV2(ctx context.Context, bucket string, opts ListOptionsV2) (*Page, error)

	// HealthCheck verifies that the backend is operational.
	HealthCheck(ctx context.Context) error
}
