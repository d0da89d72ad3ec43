// Package statestore provides the key/value persistence boundary used by the
// workflow state manager and the agent directory. Values are opaque byte
// blobs; each stored value carries a version token ("etag") enabling
// compare-and-swap writes.
package statestore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no value exists for the key.
	ErrNotFound = errors.New("statestore: key not found")

	// ErrVersionConflict is returned by Save when the expected etag no
	// longer matches the stored version. Callers re-read and retry.
	ErrVersionConflict = errors.New("statestore: version conflict")
)

// EtagAbsent is the version token for a key that does not exist yet. A Save
// guarded by it is create-only: if the key appeared in the meantime the
// write loses with ErrVersionConflict instead of clobbering the concurrent
// creation. It cannot collide with real etags, which are fixed-width hex.
const EtagAbsent = "-"

// Store is a versioned key/value store.
//
// Save with an empty expectedEtag is an unconditional write. EtagAbsent
// makes the write conditional on the key still being absent. Any other
// expectedEtag makes the write conditional on the stored version still
// matching; a mismatch (including the key having been deleted) yields
// ErrVersionConflict.
type Store interface {
	// Get returns the stored value and its current etag.
	Get(ctx context.Context, key string) (value []byte, etag string, err error)

	// Save writes value under key, optionally guarded by expectedEtag.
	Save(ctx context.Context, key string, value []byte, expectedEtag string) error
}
