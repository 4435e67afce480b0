package vfs

import "exovisor/pkg/errs"

// / loadRecord dereferences r to the live Record it names. The returned
// / pointer aliases the backing block's slice element directly, matching
// / the original's direct-memory-mapped struct File* semantics.
func (fs *FileSystem) loadRecord(r ref) *Record {
	return &fs.dirBlocks[r.block][r.slot]
}

// / dirLookup searches dir's content blocks for a record named name
// / (ground: dir_lookup). dir's content is always an exact multiple of
// / BLKFILES records, mirroring the C invariant that a directory's size
// / is always a multiple of the block size.
func (fs *FileSystem) dirLookup(dir *Record, name string) (ref, errs.Err_t) {
	nblock := int(dir.Size) / blkSize
	for i := 0; i < nblock; i++ {
		bno, errc := fs.fileLookupDiskbno(dir, i)
		if errc != 0 {
			return ref{}, errc
		}
		recs := fs.dirBlocks[bno]
		for j := range recs {
			if recs[j].Name == name {
				return ref{bno, j}, 0
			}
		}
	}
	return ref{}, errs.NOT_FOUND
}

// / dirAllocFile finds or grows a free slot for a new entry in dir
// / (ground: dir_alloc_file). It applies dir's own block-level COW
// / (copyBlock) before claiming a slot in an existing block, since dir's
// / content blocks can be shared with an earlier version of dir itself.
func (fs *FileSystem) dirAllocFile(dir *Record) (ref, errs.Err_t) {
	// dir.Dirty is set below on both successful return paths —
	// ground: dir_alloc_file sets dir->f_dirty = true after the loop
	// regardless of whether it found a free slot or had to grow.
	nblock := int(dir.Size) / blkSize
	for i := 0; i < nblock; i++ {
		get, set, errc := fs.blockSlot(dir, i, true)
		if errc != 0 {
			return ref{}, errc
		}
		bno := get()
		recs := fs.dirBlocks[bno]
		for j := range recs {
			if recs[j].Name == "" {
				if errc := fs.copyBlock(dir, i, bno, set); errc != 0 {
					return ref{}, errc
				}
				dir.Dirty = true
				return ref{get(), j}, 0
			}
		}
	}

	dir.Size += int64(blkSize)
	bno, errc := fs.fileGetDiskbno(dir, nblock)
	if errc != 0 {
		return ref{}, errc
	}
	fs.dirBlocks[bno] = make([]Record, BLKFILES)
	dir.Dirty = true
	return ref{bno, 0}, 0
}
