package backend

import (
	"context"

	"github.com/FollowTheProcess/capsules/internal/manifest"
)

// Dummy implements Backend as a pure no-op: every lookup is absent, every
// put discards its argument and succeeds. It is capsules' default backend,
// so enabling capsules is itself a no-op until real storage is configured
// via --backend=s3.
type Dummy struct{}

// NewDummy builds a Dummy backend.
func NewDummy() Dummy {
	return Dummy{}
}

// LookupEntry always reports absent.
func (Dummy) LookupEntry(_ context.Context, _ string) (manifest.Manifest, error) {
	return manifest.Manifest{}, ErrAbsent
}

// PutEntry discards m and succeeds.
func (Dummy) PutEntry(_ context.Context, _ string, _ manifest.Manifest) error {
	return nil
}

// FetchBlob always reports absent.
func (Dummy) FetchBlob(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrAbsent
}

// PutBlob discards data and succeeds.
func (Dummy) PutBlob(_ context.Context, _ string, _ []byte) error {
	return nil
}
