// Package errors defines S3-compatible error types used throughout BoxDrive.
package errors

import "fmt"

// S3Error represents an S3 API error with a machine-readable code,
// human-readable message, and HTTP status code. The store layer returns
// these values directly; the REST layer maps them to XML error bodies.
type S3Error struct {
	// Code is the S3 error code (e.g., "NoSuchBucket", "InvalidArgument").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 409).
	HTTPStatus int
}

// Error implements the error interface for S3Error.
func (e *S3Error) Error() string {
	return fmt.Sprintf("S3Error %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Pre-defined S3 errors for common conditions.
var (
	// ErrNoSuchBucket is returned when the specified bucket does not exist.
	ErrNoSuchBucket = &S3Error{
		Code:       "NoSuchBucket",
		Message:    "The specified bucket does not exist",
		HTTPStatus: 404,
	}

	// ErrNoSuchKey is returned when the specified object key does not exist.
	ErrNoSuchKey = &S3Error{
		Code:       "NoSuchKey",
		Message:    "The specified key does not exist",
		HTTPStatus: 404,
	}

	// ErrBucketAlreadyExists is returned when creating a bucket that already exists.
	ErrBucketAlreadyExists = &S3Error{
		Code:       "BucketAlreadyExists",
		Message:    "The requested bucket name is not available",
		HTTPStatus: 409,
	}

	// ErrBucketNotEmpty is returned when deleting a bucket that still holds objects.
	ErrBucketNotEmpty = &S3Error{
		Code:       "BucketNotEmpty",
		Message:    "The bucket you tried to delete is not empty",
		HTTPStatus: 409,
	}

	// ErrInvalidToken is returned when a continuation token cannot be decoded.
	ErrInvalidToken = &S3Error{
		Code:       "InvalidToken",
		Message:    "The provided token is malformed or otherwise invalid",
		HTTPStatus: 400,
	}

	// ErrInvalidArgument is returned when an argument value is invalid.
	ErrInvalidArgument = &S3Error{
		Code:       "InvalidArgument",
		Message:    "Invalid Argument",
		HTTPStatus: 400,
	}

	// ErrInvalidBucketName is returned when the bucket name is invalid.
	ErrInvalidBucketName = &S3Error{
		Code:       "InvalidBucketName",
		Message:    "The specified bucket is not valid",
		HTTPStatus: 400,
	}

	// ErrInvalidRange is returned when the requested byte range is not satisfiable.
	ErrInvalidRange = &S3Error{
		Code:       "InvalidRange",
		Message:    "The requested range is not satisfiable",
		HTTPStatus: 416,
	}

	// ErrInternalError is returned for unexpected internal failures.
	ErrInternalError = &S3Error{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}

	// ErrNotImplemented is returned when a feature is not implemented.
	ErrNotImplemented = &S3Error{
		Code:       "NotImplemented",
		Message:    "A header you provided implies functionality that is not implemented",
		HTTPStatus: 501,
	}

	// ErrMethodNotAllowed is returned when the HTTP method is not supported.
	ErrMethodNotAllowed = &S3Error{
		Code:       "MethodNotAllowed",
		Message:    "The specified method is not allowed against this resource",
		HTTPStatus: 405,
	}
)
