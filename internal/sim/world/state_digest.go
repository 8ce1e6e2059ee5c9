package world

import (
	"encoding/hex"
	"encoding/json"

	"lukechampine.com/blake3"
)

// stateDigest hashes the canonical snapshot encoding. Lists in the snapshot
// are id-ordered and encoding/json sorts map keys, so equal states give equal
// digests.
func (w *World) stateDigest() string {
	b, err := json.Marshal(w.ExportSnapshot())
	if err != nil {
		// Snapshot types are plain data; this only fails on NaN/Inf.
		w.logf("digest: %v", err)
		return ""
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Digest returns the digest of committed state. World goroutine only.
func (w *World) Digest() string { return w.stateDigest() }
