package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/store"
	"github.com/boxdrive/boxdrive/internal/xmlutil"
)

// maxKeyLength is the S3 limit on object key bytes.
const maxKeyLength = 1024

// ObjectHandler contains handlers for S3 object-level operations.
type ObjectHandler struct {
	store store.ObjectStore
}

// NewObjectHandler creates a new ObjectHandler backed by the given store.
func NewObjectHandler(s store.ObjectStore) *ObjectHandler {
	return &ObjectHandler{store: s}
}

// PutObject handles PUT /{bucket}/{key} and stores an object in the
// specified bucket. The ETag of the stored payload is returned in the
// response headers.
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request) {
	bucketName := extractBucketName(r)
	key := extractObjectKey(r)

	if key == "" || len(key) > maxKeyLength {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	etag, err := h.store.PutObject(r.Context(), bucketName, key, data, r.Header.Get("Content-Type"))
	if err != nil {
		writeStoreError(w, r, "PutObject", err)
		return
	}

	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
}

// GetObject handles GET /{bucket}/{key} and returns the object data and
// metadata. Supports single byte-range requests via the Range header.
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	obj, err := h.store.GetObject(r.Context(), extractBucketName(r), extractObjectKey(r))
	if err != nil {
		writeStoreError(w, r, "GetObject", err)
		return
	}

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		start, end, rangeErr := parseRange(rangeHeader, obj.Info.Size)
		if rangeErr != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", obj.Info.Size))
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidRange)
			return
		}

		setObjectResponseHeaders(w, &obj.Info)
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, obj.Info.Size))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(obj.Data[start : end+1])
		return
	}

	setObjectResponseHeaders(w, &obj.Info)
	w.WriteHeader(http.StatusOK)
	w.Write(obj.Data)
}

// HeadObject handles HEAD /{bucket}/{key} and returns the object metadata
// headers without the body.
func (h *ObjectHandler) HeadObject(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.HeadObject(r.Context(), extractBucketName(r), extractObjectKey(r))
	if err != nil {
		w.WriteHeader(statusForError(err))
		return
	}

	setObjectResponseHeaders(w, info)
	w.WriteHeader(http.StatusOK)
}

// DeleteObject handles DELETE /{bucket}/{key}. Deleting a key that does not
// exist still returns 204.
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteObject(r.Context(), extractBucketName(r), extractObjectKey(r)); err != nil {
		writeStoreError(w, r, "DeleteObject", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListObjects handles GET /{bucket} and returns a listing of objects in the
// bucket using the V1 marker-based API format.
func (h *ObjectHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	bucketName := extractBucketName(r)
	q := r.URL.Query()

	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	marker := q.Get("marker")
	encodingType := q.Get("encoding-type")

	maxKeys, err := parseMaxKeys(q.Get("max-keys"))
	if err != nil {
		writeStoreError(w, r, "ListObjects", err)
		return
	}

	page, err := h.store.ListObjects(r.Context(), bucketName, store.ListOptions{
		Prefix:    prefix,
		Delimiter: delimiter,
		Marker:    marker,
		MaxKeys:   maxKeys,
	})
	if err != nil {
		writeStoreError(w, r, "ListObjects", err)
		return
	}

	result := &xmlutil.ListBucketResult{
		Name:         bucketName,
		Prefix:       xmlutil.EncodeKeyURL(prefix, encodingType),
		Marker:       xmlutil.EncodeKeyURL(marker, encodingType),
		MaxKeys:      maxKeys,
		IsTruncated:  page.IsTruncated,
		EncodingType: encodingType,
	}

	if delimiter != "" {
		result.Delimiter = xmlutil.EncodeKeyURL(delimiter, encodingType)
	}
	if page.IsTruncated && page.NextMarker != "" {
		result.NextMarker = xmlutil.EncodeKeyURL(page.NextMarker, encodingType)
	}

	fillListContents(&result.Contents, &result.CommonPrefixes, page, encodingType)

	xmlutil.RenderListObjects(w, result)
}

// ListObjectsV2 handles GET /{bucket}?list-type=2 and returns a listing of
// objects using the V2 continuation-token API format.
func (h *ObjectHandler) ListObjectsV2(w http.ResponseWriter, r *http.Request) {
	bucketName := extractBucketName(r)
	q := r.URL.Query()

	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	startAfter := q.Get("start-after")
	continuationToken := q.Get("continuation-token")
	encodingType := q.Get("encoding-type")

	maxKeys, err := parseMaxKeys(q.Get("max-keys"))
	if err != nil {
		writeStoreError(w, r, "ListObjectsV2", err)
		return
	}

	page, err := h.store.ListObjectsV2(r.Context(), bucketName, store.ListOptionsV2{
		Prefix:            prefix,
		Delimiter:         delimiter,
		ContinuationToken: continuationToken,
		StartAfter:        startAfter,
		MaxKeys:           maxKeys,
	})
	if err != nil {
		writeStoreError(w, r, "ListObjectsV2", err)
		return
	}

	result := &xmlutil.ListBucketV2Result{
		Name:         bucketName,
		Prefix:       xmlutil.EncodeKeyURL(prefix, encodingType),
		MaxKeys:      maxKeys,
		KeyCount:     len(page.Objects) + len(page.CommonPrefixes),
		IsTruncated:  page.IsTruncated,
		EncodingType: encodingType,
	}

	if delimiter != "" {
		result.Delimiter = xmlutil.EncodeKeyURL(delimiter, encodingType)
	}
	if startAfter != "" {
		result.StartAfter = xmlutil.EncodeKeyURL(startAfter, encodingType)
	}
	if continuationToken != "" {
		result.ContinuationToken = continuationToken
	}
	if page.IsTruncated && page.NextContinuationToken != "" {
		result.NextContinuationToken = page.NextContinuationToken
	}

	fillListContents(&result.Contents, &result.CommonPrefixes, page, encodingType)

	xmlutil.RenderListObjectsV2(w, result)
}

// fillListContents converts a store page into the XML Contents and
// CommonPrefixes elements shared by both listing formats.
func fillListContents(contents *[]xmlutil.Object, prefixes *[]xmlutil.CommonPrefix, page *store.Page, encodingType string) {
	for _, obj := range page.Objects {
		*contents = append(*contents, xmlutil.Object{
			Key:          xmlutil.EncodeKeyURL(obj.Key, encodingType),
			LastModified: xmlutil.FormatTimeS3(obj.LastModified),
			ETag:         obj.ETag,
			Size:         obj.Size,
			StorageClass: "STANDARD",
		})
	}
	for _, cp := range page.CommonPrefixes {
		*prefixes = append(*prefixes, xmlutil.CommonPrefix{
			Prefix: xmlutil.EncodeKeyURL(cp, encodingType),
		})
	}
}
