// Package listing implements the pagination engine shared by every BoxDrive
// backend: it turns an ordered snapshot of a bucket's objects plus the
// listing parameters into one page of entries and common prefixes, for both
// the marker-based (v1) and continuation-token-based (v2) protocols.
//
// The engine is stateless; all pagination state travels in the marker or
// token, so it is safe to share across concurrent callers.
package listing

import (
	"fmt"
	"strings"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
	"github.com/boxdrive/boxdrive/internal/keyspace"
	"github.com/boxdrive/boxdrive/internal/store"
)

// List produces one v1 page from an ordered object snapshot. The listing
// starts strictly after opts.Marker. On truncation, NextMarker is the last
// raw key considered — not the common-prefix string — so a listing that
// stops inside a common-prefix group still resumes correctly.
func List(objects []store.ObjectInfo, opts store.ListOptions) (*store.Page, error) {
	page, lastKey, err := paginate(objects, opts.Prefix, opts.Delimiter, opts.Marker, opts.MaxKeys)
	if err != nil {
		return nil, err
	}
	if page.IsTruncated {
		page.NextMarker = lastKey
	}
	return page, nil
}

// ListV2 produces one v2 page from an ordered object snapshot. The listing
// starts strictly after the key carried in opts.ContinuationToken, or after
// opts.StartAfter when no token is present; the token takes precedence. A
// malformed token fails with InvalidToken.
func ListV2(objects []store.ObjectInfo, opts store.ListOptionsV2) (*store.Page, error) {
	after := opts.StartAfter
	if opts.ContinuationToken != "" {
		key, err := DecodeContinuationToken(opts.ContinuationToken)
		if err != nil {
			return nil, err
		}
		after = key
	}

	page, lastKey, err := paginate(objects, opts.Prefix, opts.Delimiter, after, opts.MaxKeys)
	if err != nil {
		return nil, err
	}
	if page.IsTruncated {
		page.NextContinuationToken = EncodeContinuationToken(lastKey)
	}
	return page, nil
}

// paginate walks the ordered snapshot once, collapsing keys into common
// prefixes as it goes, and cuts the page after maxKeys merged items. It
// returns the page and the last raw key that contributed to it.
//
// Keys that collapse into the most recently emitted common prefix are
// absorbed without consuming page budget: they are represented by that
// prefix. Because the input is sorted, keys sharing a common prefix are
// contiguous, so tracking only the last emitted prefix suffices.
func paginate(objects []store.ObjectInfo, prefix, delimiter, after string, maxKeys int) (*store.Page, string, error) {
	if maxKeys < 0 {
		return nil, "", s3err.ErrInvalidArgument
	}
	if maxKeys > store.MaxKeysCeiling {
		maxKeys = store.MaxKeysCeiling
	}

	page := &store.Page{}
	count := 0
	lastKey := ""
	lastPrefix := "" // last emitted common prefix; empty after a literal entry
	prevKey := ""

	for i := range objects {
		obj := &objects[i]

		// A backend handing the engine unsorted keys is a contract
		// violation, not an input error: fail loudly instead of producing
		// a silently wrong page.
		if prevKey != "" && obj.Key <= prevKey {
			panic(fmt.Sprintf("listing: backend produced out-of-order keys: %q after %q", obj.Key, prevKey))
		}
		prevKey = obj.Key

		if !strings.HasPrefix(obj.Key, prefix) {
			continue
		}
		if after != "" && obj.Key <= after {
			continue
		}

		cp, collapsed := keyspace.Collapse(obj.Key, prefix, delimiter)
		if collapsed && cp == lastPrefix {
			// Absorbed into the common prefix already on the page.
			lastKey = obj.Key
			continue
		}

		// This key would start a new item. With the page full, its
		// existence is exactly what IsTruncated reports.
		if count >= maxKeys {
			page.IsTruncated = true
			break
		}

		if collapsed {
			page.CommonPrefixes = append(page.CommonPrefixes, cp)
			lastPrefix = cp
		} else {
			page.Objects = append(page.Objects, *obj)
			lastPrefix = ""
		}
		count++
		lastKey = obj.Key
	}

	return page, lastKey, nil
}
