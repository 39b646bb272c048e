// Package quickhash provides a fast non-cryptographic string hash used for
// cache keys. It must never be used for anything security-sensitive.
package quickhash

import (
	"encoding/hex"
	"hash/fnv"
)

// Sum returns the FNV-1a 32-bit hash of s as lowercase hex.
func Sum(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	var buf [4]byte
	return hex.EncodeToString(h.Sum(buf[:0]))
}

// Sum32 returns the raw FNV-1a 32-bit hash of s.
func Sum32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
