package xmlutil

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
)

func TestEncodeKeyURL(t *testing.T) {
	tests := []struct {
		key          string
		encodingType string
		want         string
	}{
		{"photos/2024/cat.jpg", "", "photos/2024/cat.jpg"},
		{"photos/2024/cat.jpg", "url", "photos/2024/cat.jpg"},
		// The delimiter stays literal; spaces encode as %20, never "+".
		{"folder/my file.txt", "url", "folder/my%20file.txt"},
		{"a+b&c=d", "url", "a%2Bb%26c%3Dd"},
		{"100%/off", "url", "100%25/off"},
		{"unicode/héllo", "url", "unicode/h%C3%A9llo"},
		{"trailing/", "url", "trailing/"},
		{"", "url", ""},
	}
	for _, tt := range tests {
		if got := EncodeKeyURL(tt.key, tt.encodingType); got != tt.want {
			t.Errorf("EncodeKeyURL(%q, %q) = %q, want %q", tt.key, tt.encodingType, got, tt.want)
		}
	}
}

func TestFormatTimeS3(t *testing.T) {
	ts := time.Date(2024, 3, 15, 9, 30, 45, 120_000_000, time.UTC)
	if got, want := FormatTimeS3(ts), "2024-03-15T09:30:45.120Z"; got != want {
		t.Errorf("FormatTimeS3 = %q, want %q", got, want)
	}
}

func TestRenderErrorIncludesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("x-amz-request-id", "abc123")
	req := httptest.NewRequest("GET", "/bucket/key", nil)

	WriteErrorResponse(rec, req, s3err.ErrNoSuchKey)

	body := rec.Body.String()
	if rec.Code != s3err.ErrNoSuchKey.HTTPStatus {
		t.Errorf("status = %d, want %d", rec.Code, s3err.ErrNoSuchKey.HTTPStatus)
	}
	for _, want := range []string{"<Code>NoSuchKey</Code>", "<RequestId>abc123</RequestId>", "<Resource>/bucket/key</Resource>"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q: %s", want, body)
		}
	}
}
