// Package fingerprint implements the Inputs-Hash Aggregator: it combines the ordered input set, the capsule id, tool tags, and
// a version salt into the single inputs hash that drives every cache
// decision. The shape — write bytes into one hasher instance in a fixed
// order, never rely on map/container iteration order — tool tags are sorted
// before folding in for the same reason.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/FollowTheProcess/capsules/internal/fileset"
)

// sep is the separator byte written between fields so that adjacent values
// can never be confused for one another (e.g. path "ab" + hash "c" must not
// collide with path "a" + hash "bc").
const sep = 0x00

// salt guards against cross-version cache reuse. Bumping it is the
// documented mechanism for invalidating every existing
// cache entry after a semantic change to hashing itself.
const salt = "capsules-inputs-hash-v1"

// sortedToolTags orders tool tags before they're folded into the hash:
// sorted order stays stable across CLI flag reordering between otherwise
// identical invocations, where "as given" order would not.
func sortedToolTags(tags []string) []string {
	sorted := make([]string, len(tags))
	copy(sorted, tags)
	sort.Strings(sorted)
	return sorted
}

// InputsHash computes the single inputs hash for a capsule invocation. The
// inputs slice must already be in lexicographic path order, as returned by
// fileset.Collect — this function does not re-sort it, since doing so
// silently would hide a caller bug in the ordering contract.
func InputsHash(capsuleID string, inputs []fileset.Entry, toolTags []string) string {
	h := sha256.New()

	h.Write([]byte(salt))
	h.Write([]byte{sep})

	h.Write([]byte(capsuleID))
	h.Write([]byte{sep})

	for _, in := range inputs {
		h.Write([]byte(in.Path))
		h.Write([]byte{sep})
		h.Write([]byte(in.Hash))
		h.Write([]byte{sep})
	}

	h.Write([]byte{sep, sep})

	for _, tag := range sortedToolTags(toolTags) {
		h.Write([]byte(tag))
		h.Write([]byte{sep})
	}

	return hex.EncodeToString(h.Sum(nil))
}
