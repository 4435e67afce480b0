package vfs

import "exovisor/pkg/errs"

// / Remove deletes the file or directory named by path: it frees every
// / data block reachable from the record and blanks its directory slot.
// / fs.c doesn't carry a file_remove of its own (only user/rm.c's
// / `remove` syscall, whose kernel side isn't in the kept source); this
// / follows the same disk-layout rules the rest of the package does —
// / an empty Name marks a slot free, exactly as dir_lookup/alloc_file
// / test for it.
func (fs *FileSystem) Remove(path string) errs.Err_t {
	res, errc := fs.walkPath(path, fs.now())
	if errc != 0 {
		return errc
	}
	rec := fs.loadRecord(res.file)
	nblocks := int((rec.Size + int64(blkSize) - 1) / int64(blkSize))
	for i := 0; i < nblocks; i++ {
		if errc := fs.fileFreeBlock(rec, i); errc != 0 {
			return errc
		}
	}
	if rec.Indirect != 0 {
		fs.freeBlock(rec.Indirect)
		rec.Indirect = 0
	}
	rec.Name = ""
	return 0
}

// / ReadDir lists the non-empty entry names of the directory at path
// / (supplemented: fs.c's dir_lookup walks these same blocks for one
// / name, this just returns all of them).
func (fs *FileSystem) ReadDir(path string) ([]string, errs.Err_t) {
	res, errc := fs.walkPath(path, fs.now())
	if errc != 0 {
		return nil, errc
	}
	dir := fs.loadRecord(res.file)
	if dir.Type != FTYPE_DIR {
		return nil, errs.INVAL
	}

	var names []string
	nblock := int(dir.Size) / blkSize
	for i := 0; i < nblock; i++ {
		bno, errc := fs.fileLookupDiskbno(dir, i)
		if errc != 0 {
			return nil, errc
		}
		for _, rec := range fs.dirBlocks[bno] {
			if rec.Name != "" {
				names = append(names, rec.Name)
			}
		}
	}
	return names, 0
}

// / Rename moves the entry at oldPath to newPath by relinking its
// / directory slot rather than copying its content (supplemented: the
// / user-space idiom for a rename is cp-then-rm, ground: user/cp.c +
// / user/rm.c, but relinking avoids the O(size) data copy a real rename
// / shouldn't pay for).
func (fs *FileSystem) Rename(oldPath, newPath string) errs.Err_t {
	oldRes, errc := fs.walkPath(oldPath, fs.now())
	if errc != 0 {
		return errc
	}
	newRes, errc := fs.walkPath(newPath, fs.now())
	if errc == 0 {
		return errs.FILE_EXISTS
	}
	if errc != errs.NOT_FOUND || !newRes.haveDir {
		return errc
	}

	slot, errc := fs.dirAllocFile(fs.loadRecord(newRes.dir))
	if errc != 0 {
		return errc
	}
	// dirAllocFile may have copied a directory block shared with a
	// snapshot, so resolve the old entry again to get its live slot.
	oldRes, errc = fs.walkPath(oldPath, fs.now())
	if errc != 0 {
		return errc
	}
	moved := *fs.loadRecord(oldRes.file)
	moved.Name = newRes.lastElem
	*fs.loadRecord(slot) = moved

	old := fs.loadRecord(oldRes.file)
	old.Name = ""
	return 0
}

// / Checkout overwrites the unqualified form of a "path@timestamp"
// / reference with that historical version's contents, becoming the
// / new current version on its next flush (ground: user/checkout.c,
// / which performs the same open-old/open-new-truncated/copy dance in
// / user space; this hoists it into the file system layer as one call).
func (fs *FileSystem) Checkout(pathAtTimestamp string) errs.Err_t {
	plainPath, _, errc := splitTimestamp(pathAtTimestamp, fs.now())
	if errc != 0 {
		return errc
	}

	oldRes, errc := fs.walkPath(pathAtTimestamp, fs.now())
	if errc != 0 {
		return errc
	}
	old := fs.loadRecord(oldRes.file)

	curRes, errc := fs.walkPath(plainPath, fs.now())
	var target ref
	if errc == 0 {
		target = curRes.file
		if errc := fs.SetSize(target, 0); errc != 0 {
			return errc
		}
	} else if errc == errs.NOT_FOUND {
		target, errc = fs.Create(plainPath, old.Type == FTYPE_DIR)
		if errc != 0 {
			return errc
		}
	} else {
		return errc
	}

	buf := make([]byte, blkSize)
	var offset int64
	for offset < old.Size {
		n, errc := fs.Read(oldRes.file, buf, offset)
		if errc != 0 {
			return errc
		}
		if n == 0 {
			break
		}
		if _, errc := fs.Write(target, buf[:n], offset); errc != 0 {
			return errc
		}
		offset += int64(n)
	}
	return 0
}
