package keyspace

import "testing"

func TestCollapse(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		prefix    string
		delimiter string
		want      string
		collapsed bool
	}{
		{"no delimiter", "a/b", "", "", "", false},
		{"flat key", "a", "", "/", "", false},
		{"one level", "a/b", "", "/", "a/", true},
		{"two levels collapse to first", "a/b/c", "", "/", "a/", true},
		{"prefix consumes first delimiter", "a/b/c", "a/", "/", "a/b/", true},
		{"prefix not ending in delimiter", "photos/2024/jan", "pho", "/", "photos/", true},
		{"key equal to delimiter", "/", "", "/", "/", true},
		{"trailing delimiter", "a/", "", "/", "a/", true},
		{"multi-byte delimiter", "a--b--c", "", "--", "a--", true},
		{"prefix equals key", "a/b", "a/b", "/", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, collapsed := Collapse(tt.key, tt.prefix, tt.delimiter)
			if got != tt.want || collapsed != tt.collapsed {
				t.Errorf("Collapse(%q, %q, %q) = (%q, %v), want (%q, %v)",
					tt.key, tt.prefix, tt.delimiter, got, collapsed, tt.want, tt.collapsed)
			}
		})
	}
}
