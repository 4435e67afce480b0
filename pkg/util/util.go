// Package util contains small numeric helpers shared across packages.
//
// Grounded on biscuit/src/util/util.go's generic Min; Rounddown/Roundup
// and the unsafe-pointer Readn/Writen byte-packing helpers aren't
// carried over since pkg/mem already has its own Rounddown/Roundup over
// plain ints and nothing in this module packs values through raw byte
// offsets the way biscuit's on-disk inode layout did.
package util

// / Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// / Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}
