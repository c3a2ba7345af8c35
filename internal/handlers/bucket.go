package handlers

import (
	"net/http"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/store"
	"github.com/boxdrive/boxdrive/internal/xmlutil"
)

// BucketHandler contains handlers for S3 bucket-level operations.
type BucketHandler struct {
	store        store.ObjectStore
	ownerID      string
	ownerDisplay string
	region       string
}

// NewBucketHandler creates a new BucketHandler backed by the given store.
func NewBucketHandler(s store.ObjectStore, ownerID, ownerDisplay, region string) *BucketHandler {
	return &BucketHandler{
		store:        s,
		ownerID:      ownerID,
		ownerDisplay: ownerDisplay,
		region:       region,
	}
}

// ListBuckets handles GET / and returns all buckets in creation order.
func (h *BucketHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.store.ListBuckets(r.Context())
	if err != nil {
		writeStoreError(w, r, "ListBuckets", err)
		return
	}

	var xmlBuckets []xmlutil.Bucket
	for _, b := range buckets {
		xmlBuckets = append(xmlBuckets, xmlutil.Bucket{
			Name:         b.Name,
			CreationDate: xmlutil.FormatTimeS3(b.CreatedAt),
		})
	}

	result := &xmlutil.ListAllMyBucketsResult{
		Owner: xmlutil.Owner{
			ID:          h.ownerID,
			DisplayName: h.ownerDisplay,
		},
		Buckets: xmlBuckets,
	}

	xmlutil.RenderListBuckets(w, result)
}

// CreateBucket handles PUT /{bucket} and creates a new bucket with the
// specified name.
func (h *BucketHandler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	bucketName := extractBucketName(r)

	if msg := validateBucketName(bucketName); msg != "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidBucketName)
		return
	}

	if err := h.store.CreateBucket(r.Context(), bucketName); err != nil {
		writeStoreError(w, r, "CreateBucket", err)
		return
	}

	w.Header().Set("Location", "/"+bucketName)
	w.WriteHeader(http.StatusOK)
}

// HeadBucket handles HEAD /{bucket} and checks whether the specified bucket
// exists. HEAD responses carry no body, status code only.
func (h *BucketHandler) HeadBucket(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.HeadBucket(r.Context(), extractBucketName(r)); err != nil {
		w.WriteHeader(statusForError(err))
		return
	}

	w.Header().Set("x-amz-bucket-region", h.region)
	w.WriteHeader(http.StatusOK)
}

// DeleteBucket handles DELETE /{bucket} and removes the specified bucket.
// The bucket must be empty.
func (h *BucketHandler) DeleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteBucket(r.Context(), extractBucketName(r)); err != nil {
		writeStoreError(w, r, "DeleteBucket", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetBucketLocation handles GET /{bucket}?location and returns the region
// constraint for the specified bucket.
func (h *BucketHandler) GetBucketLocation(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.HeadBucket(r.Context(), extractBucketName(r)); err != nil {
		writeStoreError(w, r, "GetBucketLocation", err)
		return
	}

	// us-east-1 quirk: the LocationConstraint element is empty.
	location := h.region
	if location == "us-east-1" {
		location = ""
	}
	xmlutil.RenderLocationConstraint(w, location)
}
