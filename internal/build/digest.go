package build

import (
	"encoding/hex"
	"sync"

	"github.com/zeebo/blake3"
)

// Digest is the BLAKE3 fingerprint of an output file's bytes.
type Digest [32]byte

// String returns the hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Sum returns the digest of data.
func Sum(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// DigestCache remembers the digest of every output file the Builder wrote
// so rewriting identical bytes can be skipped.
type DigestCache struct {
	entries map[string]Digest
	mutex   sync.RWMutex
}

// NewDigestCache creates an empty cache.
func NewDigestCache() *DigestCache {
	return &DigestCache{entries: make(map[string]Digest)}
}

// Get returns the digest recorded for path.
func (dc *DigestCache) Get(path string) (Digest, bool) {
	dc.mutex.RLock()
	defer dc.mutex.RUnlock()
	d, ok := dc.entries[path]
	return d, ok
}

// Set records the digest written to path.
func (dc *DigestCache) Set(path string, d Digest) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()
	dc.entries[path] = d
}

// Delete forgets path and, when prefix is true, everything below it.
func (dc *DigestCache) Delete(path string, prefix bool) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()
	delete(dc.entries, path)
	if !prefix {
		return
	}
	for key := range dc.entries {
		if isBelow(path, key) {
			delete(dc.entries, key)
		}
	}
}

// Move re-keys path (and everything below it) to newPath.
func (dc *DigestCache) Move(path, newPath string) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()
	moved := make(map[string]Digest)
	for key, d := range dc.entries {
		switch {
		case key == path:
			moved[newPath] = d
		case isBelow(path, key):
			moved[newPath+key[len(path):]] = d
		default:
			continue
		}
		delete(dc.entries, key)
	}
	for key, d := range moved {
		dc.entries[key] = d
	}
}

// Clear forgets every entry.
func (dc *DigestCache) Clear() {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()
	dc.entries = make(map[string]Digest)
}

// Len returns the number of recorded files.
func (dc *DigestCache) Len() int {
	dc.mutex.RLock()
	defer dc.mutex.RUnlock()
	return len(dc.entries)
}
