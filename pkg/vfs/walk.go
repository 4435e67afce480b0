package vfs

import "exovisor/pkg/errs"

// / blockSlot locates the storage slot for f's filebno'th block: one of
// / f.Direct's entries, or an entry of f's indirect block (allocated on
// / demand when allocIndirect is set). It returns accessors rather than
// / a pointer, the idiomatic Go stand-in for file_block_walk's
// / **ppdiskbno out-parameter.
func (fs *FileSystem) blockSlot(f *Record, filebno int, allocIndirect bool) (get func() int, set func(int), errc errs.Err_t) {
	switch {
	case filebno < NDIRECT:
		idx := filebno
		return func() int { return f.Direct[idx] },
			func(v int) { f.Direct[idx] = v },
			0

	case filebno < NDIRECT+NINDIRECT:
		if f.Indirect == 0 {
			if !allocIndirect {
				return nil, nil, errs.NOT_FOUND
			}
			b, errc := fs.allocBlock()
			if errc != 0 {
				return nil, nil, errc
			}
			f.Indirect = b
			fs.indBlocks[b] = make([]int, NINDIRECT)
		}
		idx := filebno - NDIRECT
		ind := fs.indBlocks[f.Indirect]
		return func() int { return ind[idx] },
			func(v int) { ind[idx] = v },
			0

	default:
		return nil, nil, errs.INVAL
	}
}

// / fileGetDiskbno returns the disk block backing f's filebno'th block,
// / allocating one if the slot is currently unset (ground:
// / file_get_diskbno, which always walks with alloc=1).
func (fs *FileSystem) fileGetDiskbno(f *Record, filebno int) (int, errs.Err_t) {
	get, set, errc := fs.blockSlot(f, filebno, true)
	if errc != 0 {
		return 0, errc
	}
	bno := get()
	if bno == 0 {
		nb, errc := fs.allocBlock()
		if errc != 0 {
			return 0, errc
		}
		set(nb)
		bno = nb
	}
	return bno, 0
}

// / fileLookupDiskbno returns the disk block backing f's filebno'th
// / block without allocating (ground: file_block_walk called with
// / alloc=0, as dir_lookup does via file_get_block's underlying walk).
func (fs *FileSystem) fileLookupDiskbno(f *Record, filebno int) (int, errs.Err_t) {
	get, _, errc := fs.blockSlot(f, filebno, false)
	if errc != 0 {
		return 0, errc
	}
	return get(), 0
}

// / fileFreeBlock drops the disk block backing f's filebno'th block, if
// / any (ground: file_free_block).
func (fs *FileSystem) fileFreeBlock(f *Record, filebno int) errs.Err_t {
	get, set, errc := fs.blockSlot(f, filebno, false)
	if errc == errs.NOT_FOUND {
		return 0
	}
	if errc != 0 {
		return errc
	}
	if b := get(); b != 0 {
		fs.freeBlock(b)
		set(0)
	}
	return 0
}

// / copyBlock implements the history-chain block-level COW invariant
// / (spec.md §4.6): if f has an older version (f.NextFile) that is still
// / sharing the very same disk block at index i, a private copy is made
// / before any write touches it, and diskbno is repointed at the copy
// / (ground: copy_block).
func (fs *FileSystem) copyBlock(f *Record, i int, diskbno int, set func(int)) errs.Err_t {
	if f.NextFile.isNil() {
		return 0
	}
	prev := fs.loadRecord(f.NextFile)
	prevBno, errc := fs.fileGetDiskbno(prev, i)
	if errc != 0 {
		return errc
	}
	if diskbno != prevBno || diskbno == 0 {
		return 0
	}
	nb, errc := fs.allocBlock()
	if errc != 0 {
		return errc
	}
	fs.cloneBlock(diskbno, nb, f.Type == FTYPE_DIR)
	set(nb)
	return 0
}

// / cloneBlock duplicates one block's contents into a freshly allocated
// / block, dispatching on whether the block holds raw file bytes or a
// / directory/history File array.
func (fs *FileSystem) cloneBlock(src, dst int, isDir bool) {
	if isDir {
		old := fs.dirBlocks[src]
		cp := make([]Record, len(old))
		copy(cp, old)
		fs.dirBlocks[dst] = cp
		return
	}
	buf, err := fs.cache.Get(src)
	if err != nil {
		panic(err)
	}
	dbuf, err := fs.cache.Get(dst)
	if err != nil {
		panic(err)
	}
	*dbuf = *buf
	fs.cache.MarkDirty(dst)
}
