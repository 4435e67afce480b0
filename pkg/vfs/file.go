// Package vfs implements the versioned file system: files and
// directories whose every flushed generation is retained in a backward
// history chain, so a path can be resolved "as of" any past timestamp
// (spec.md §4.6/§4.7).
//
// Grounded throughout on original_source/fs/fs.c. That C code works
// directly on disk-mapped memory (diskaddr returns a live pointer into
// the mapped disk image, so a "File" is just a typed view of a block's
// bytes); this port keeps that shape by storing File-array and
// indirect-block content as native Go slices keyed by block number
// (FileSystem.dirBlocks/indBlocks) rather than serializing them, while
// still routing plain file *data* through pkg/blk's byte-oriented
// cache — the same split the original draws between a block
// interpreted as `struct File[]`/`uint32_t[]` versus raw bytes.
package vfs

import "exovisor/pkg/blk"

// / NDIRECT is the number of direct block pointers a file holds inline.
const NDIRECT = 10

// / NINDIRECT is the number of block pointers held in one indirect block.
const NINDIRECT = blk.BSIZE / 4

// / BLKFILES is the number of File records packed into one directory or
// / history block (ground: fs_init's static_assert(sizeof(File)==256)
// / against a 4096-byte block — 4096/256 = 16).
const BLKFILES = 16

// / MAXNAMELEN bounds a single path element's length.
const MAXNAMELEN = 128

// / File types.
const (
	FTYPE_REG = iota
	FTYPE_DIR
)

// / ref identifies one File record's storage location: the block that
// / holds it and its slot within that block's BLKFILES-sized array.
// / A zero ref (block 0) means "none" (ground: free_block's comment that
// / "blockno zero is the null pointer of block numbers").
type ref struct {
	block int
	slot  int
}

func (r ref) isNil() bool { return r.block == 0 }

// / Record is one version of one file or directory.
type Record struct {
	Name      string
	Type      int
	Size      int64
	Direct    [NDIRECT]int
	Indirect  int
	Dirty     bool
	Timestamp int64
	NextFile  ref
}
