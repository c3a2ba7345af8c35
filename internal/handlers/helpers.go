// Package handlers implements HTTP request handlers for the S3-compatible API.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/store"
	"github.com/boxdrive/boxdrive/internal/xmlutil"
)

// bucketNameRegex validates S3 bucket naming rules: 3-63 characters,
// lowercase letters, digits, dots, and hyphens, starting and ending with
// a letter or digit.
var bucketNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{1,61}[a-z0-9]$`)

// ipAddressRegex matches strings formatted like IPv4 addresses, which are
// forbidden as bucket names.
var ipAddressRegex = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// validateBucketName checks a bucket name against S3 naming rules and
// returns a non-empty error message when the name is invalid.
func validateBucketName(name string) string {
	if len(name) < 3 || len(name) > 63 {
		return "bucket name must be between 3 and 63 characters"
	}
	if !bucketNameRegex.MatchString(name) {
		return "bucket name contains invalid characters"
	}
	if ipAddressRegex.MatchString(name) {
		return "bucket name must not be formatted as an IP address"
	}
	if strings.Contains(name, "..") {
		return "bucket name must not contain consecutive periods"
	}
	if strings.HasPrefix(name, "xn--") {
		return "bucket name must not start with the prefix xn--"
	}
	if strings.HasSuffix(name, "-s3alias") || strings.HasSuffix(name, "--ol-s3") {
		return "bucket name must not end with a reserved suffix"
	}
	return ""
}

// extractBucketName returns the bucket name from the request path.
func extractBucketName(r *http.Request) string {
	if b := chi.URLParam(r, "bucket"); b != "" {
		return b
	}
	path := strings.TrimPrefix(r.URL.Path, "/")
	if idx := strings.Index(path, "/"); idx >= 0 {
		return path[:idx]
	}
	return path
}

// extractObjectKey returns the object key from the request path. Keys may
// contain slashes, so everything after the bucket segment belongs to the key.
func extractObjectKey(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if idx := strings.Index(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return ""
}

// parseRange parses a Range header of the form "bytes=start-end",
// "bytes=start-", or "bytes=-suffix" against an object of the given size.
// Only a single range is supported. The returned end is clamped to the last
// byte of the object.
func parseRange(rangeHeader string, size int64) (start, end int64, err error) {
	const prefix = "bytes="
	if !strings.HasPrefix(rangeHeader, prefix) {
		return 0, 0, fmt.Errorf("invalid range header: %s", rangeHeader)
	}
	spec := strings.TrimPrefix(rangeHeader, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("multiple ranges not supported: %s", rangeHeader)
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, fmt.Errorf("invalid range spec: %s", spec)
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		// Suffix range: last N bytes.
		n, parseErr := strconv.ParseInt(endStr, 10, 64)
		if parseErr != nil || n <= 0 {
			return 0, 0, fmt.Errorf("invalid suffix range: %s", spec)
		}
		if size == 0 {
			return 0, 0, fmt.Errorf("range not satisfiable for empty object")
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("invalid range start: %s", spec)
	}
	if start >= size {
		return 0, 0, fmt.Errorf("range start %d beyond object size %d", start, size)
	}

	if endStr == "" {
		return start, size - 1, nil
	}

	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("invalid range end: %s", spec)
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

// parseMaxKeys parses the max-keys query parameter. An absent parameter
// yields the default page size; a non-integer or negative value is an
// InvalidArgument error. Values above the ceiling are clamped by the
// listing engine, not here.
func parseMaxKeys(value string) (int, error) {
	if value == "" {
		return store.DefaultMaxKeys, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, s3err.ErrInvalidArgument
	}
	return n, nil
}

// writeStoreError maps a store-layer error onto an XML error response.
// Unexpected errors are logged and reported as InternalError.
func writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var s3e *s3err.S3Error
	if errors.As(err, &s3e) {
		xmlutil.WriteErrorResponse(w, r, s3e)
		return
	}
	slog.Error("request failed", "op", op, "error", err)
	xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
}

// statusForError returns the HTTP status for a store-layer error. HEAD
// responses use this directly since they carry no XML body.
func statusForError(err error) int {
	var s3e *s3err.S3Error
	if errors.As(err, &s3e) {
		return s3e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// setObjectResponseHeaders sets the standard object metadata headers shared
// by GetObject and HeadObject responses.
func setObjectResponseHeaders(w http.ResponseWriter, info *store.ObjectInfo) {
	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("ETag", info.ETag)
	w.Header().Set("Last-Modified", xmlutil.FormatTimeHTTP(info.LastModified))
	w.Header().Set("Accept-Ranges", "bytes")
}
