package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"relkit/pkg/primitives"
)

// Hasher maps a key to a 64-bit hash. The table masks the hash down to its
// directory depth, so hashers must spread entropy into the low bits;
// xxhash does.
type Hasher[K any] func(K) uint64

// PageIDHasher hashes page ids for the buffer pool's page directory.
func PageIDHasher(pid primitives.PageID) uint64 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(pid))
	return xxhash.Sum64(buf[:])
}

// Int64Hasher hashes int64 keys.
func Int64Hasher(k int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k))
	return xxhash.Sum64(buf[:])
}

// IntHasher hashes int keys.
func IntHasher(k int) uint64 {
	return Int64Hasher(int64(k))
}

// StringHasher hashes string keys.
func StringHasher(k string) uint64 {
	return xxhash.Sum64String(k)
}

// IdentityHasher uses the key's own low bits as the hash. Only useful in
// tests that need full control over bucket placement.
func IdentityHasher(k int) uint64 {
	return uint64(k)
}
