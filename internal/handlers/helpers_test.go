package handlers

import "testing"

func TestValidateBucketName(t *testing.T) {
	valid := []string{"abc", "my-bucket", "my.bucket.2024", "a1b", "bucket123"}
	for _, name := range valid {
		if msg := validateBucketName(name); msg != "" {
			t.Errorf("validateBucketName(%q) = %q, want valid", name, msg)
		}
	}

	invalid := []string{
		"ab",
		"Invalid",
		"-starts-with-dash",
		"ends-with-dash-",
		"has_underscore",
		"10.0.0.1",
		"a..b.c",
		"xn--bucket",
		"my-bucket-s3alias",
		"my-bucket--ol-s3",
	}
	for _, name := range invalid {
		if msg := validateBucketName(name); msg == "" {
			t.Errorf("validateBucketName(%q) = valid, want error", name)
		}
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{"full span", "bytes=0-9", 10, 0, 9, false},
		{"interior", "bytes=2-5", 10, 2, 5, false},
		{"open ended", "bytes=5-", 10, 5, 9, false},
		{"suffix", "bytes=-4", 10, 6, 9, false},
		{"suffix larger than object", "bytes=-100", 10, 0, 9, false},
		{"end clamped", "bytes=5-100", 10, 5, 9, false},
		{"start at size", "bytes=10-", 10, 0, 0, true},
		{"start past size", "bytes=99-", 10, 0, 0, true},
		{"inverted", "bytes=5-2", 10, 0, 0, true},
		{"suffix of empty object", "bytes=-1", 0, 0, 0, true},
		{"zero suffix", "bytes=-0", 10, 0, 0, true},
		{"multiple ranges", "bytes=0-1,3-4", 10, 0, 0, true},
		{"missing unit", "0-4", 10, 0, 0, true},
		{"garbage", "bytes=abc-def", 10, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseRange(tt.header, tt.size)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseRange(%q, %d) = (%d, %d), want error", tt.header, tt.size, start, end)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRange(%q, %d) error: %v", tt.header, tt.size, err)
			}
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("parseRange(%q, %d) = (%d, %d), want (%d, %d)",
					tt.header, tt.size, start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestParseMaxKeys(t *testing.T) {
	if n, err := parseMaxKeys(""); err != nil || n != 1000 {
		t.Errorf("parseMaxKeys(\"\") = (%d, %v), want (1000, nil)", n, err)
	}
	if n, err := parseMaxKeys("25"); err != nil || n != 25 {
		t.Errorf("parseMaxKeys(\"25\") = (%d, %v), want (25, nil)", n, err)
	}
	if n, err := parseMaxKeys("0"); err != nil || n != 0 {
		t.Errorf("parseMaxKeys(\"0\") = (%d, %v), want (0, nil)", n, err)
	}
	for _, bad := range []string{"-1", "abc", "1.5", " 5"} {
		if _, err := parseMaxKeys(bad); err == nil {
			t.Errorf("parseMaxKeys(%q) = nil error, want InvalidArgument", bad)
		}
	}
}
