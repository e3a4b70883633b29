// Package backend defines the Cache Backend Interface: the
// four-operation contract every concrete cache storage implementation
// must satisfy. No inheritance, no reflection — a tagged choice resolved
// once at startup from --backend.
package backend

import (
	"context"
	"errors"

	"github.com/FollowTheProcess/capsules/internal/manifest"
)

// ErrAbsent is returned by LookupEntry and FetchBlob when the requested
// key simply isn't present. It is not a failure: it is the signal that
// drives LOOKUP -> EXECUTE.
var ErrAbsent = errors.New("backend: absent")

// Backend is the abstract cache storage contract. All four operations are
// idempotent. Implementations must distinguish ErrAbsent (ok, not found)
// from any other error (transport failure, and therefore recoverable via
// conservative degradation).
type Backend interface {
	// LookupEntry fetches the manifest for an inputs hash, or ErrAbsent.
	LookupEntry(ctx context.Context, inputsHash string) (manifest.Manifest, error)
	// PutEntry unconditionally overwrites any prior entry for the same
	// inputs hash (last write wins).
	PutEntry(ctx context.Context, inputsHash string, m manifest.Manifest) error
	// FetchBlob returns the whole blob for a content hash, or ErrAbsent.
	FetchBlob(ctx context.Context, contentHash string) ([]byte, error)
	// PutBlob uploads a blob. Conditional-or-idempotent: uploading a blob
	// that already exists must succeed without corrupting the existing
	// copy.
	PutBlob(ctx context.Context, contentHash string, data []byte) error
}
