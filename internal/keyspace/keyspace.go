// Package keyspace implements the pure delimiter-grouping primitive behind
// S3-style listings: collapsing an object key to the common prefix it groups
// under. All comparisons are byte-wise; the package performs no I/O.
package keyspace

import "strings"

// Collapse returns the common prefix that key collapses to under the given
// listing prefix and delimiter, and whether it collapses at all. A key
// collapses when the delimiter occurs in the part of the key after the
// listing prefix; the common prefix runs from the start of the key through
// the first such delimiter occurrence, inclusive.
//
// Collapse assumes key already starts with prefix. With an empty delimiter
// no key collapses (flat listing).
func Collapse(key, prefix, delimiter string) (string, bool) {
	if delimiter == "" {
		return "", false
	}
	rest := key[len(prefix):]
	idx := strings.Index(rest, delimiter)
	if idx < 0 {
		return "", false
	}
	return key[:len(prefix)+idx+len(delimiter)], true
}
