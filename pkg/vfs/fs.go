package vfs

import (
	"exovisor/pkg/blk"
	"exovisor/pkg/errs"
	"exovisor/pkg/util"
)

const blkSize = blk.BSIZE

// / Clock supplies the current wall-clock time in milliseconds, the same
// / role original_source/kern/time.c's time_msec plays for
// / get_timestamp_from_path and file_create's timestamp stamping.
type Clock interface {
	Msec() int64
}

// / FileSystem is the versioned file system: a block cache, a bitmap
// / allocator, and a root directory whose every flushed generation
// / remains reachable through its history chain.
type FileSystem struct {
	cache   *blk.Cache
	nblocks int
	bitmap  []bool

	dirBlocks map[int][]Record
	indBlocks map[int][]int

	root     Record
	rootRef  ref
	rootSlot []Record // single-element backing slice rootRef points into

	curFileBlock int // ground: alloc_file's cached block-in-progress

	clock Clock
}

// / New creates a file system over disk with the given block cache
// / capacity, formatting a fresh empty root directory (ground: fs_init,
// / minus check_super/check_bitmap's on-disk magic-number validation —
// / this port always starts from a freshly formatted image rather than
// / attaching to an existing one; see cmd/mkvfs for writing a real disk
// / image).
func New(disk blk.Disk_i, cacheCap int, clock Clock) *FileSystem {
	n := disk.NumBlocks()
	fs := &FileSystem{
		cache:     blk.NewCache(disk, cacheCap),
		nblocks:   n,
		bitmap:    make([]bool, n),
		dirBlocks: make(map[int][]Record),
		indBlocks: make(map[int][]int),
		clock:     clock,
	}
	for b := 1; b < n; b++ {
		fs.bitmap[b] = true
	}
	// The root's own storage lives at block -1, a value allocBlock never
	// hands out (it starts at 1; 0 is the reserved null block number),
	// so it can never collide with a real ref and never needs freeing.
	fs.rootSlot = []Record{{Name: "/", Type: FTYPE_DIR}}
	fs.rootRef = ref{block: -1, slot: 0}
	fs.dirBlocks[-1] = fs.rootSlot
	return fs
}

func (fs *FileSystem) now() int64 {
	if fs.clock == nil {
		return 0
	}
	return fs.clock.Msec()
}

// / Create makes a new regular file or directory at path, failing with
// / FILE_EXISTS if something is already there (ground: file_create).
func (fs *FileSystem) Create(path string, isDir bool) (ref, errs.Err_t) {
	timestamp := fs.now()
	res, errc := fs.walkPath(path, timestamp)
	if errc == 0 {
		return ref{}, errs.FILE_EXISTS
	}
	if errc != errs.NOT_FOUND || !res.haveDir {
		return ref{}, errc
	}

	slot, errc := fs.dirAllocFile(fs.loadRecord(res.dir))
	if errc != 0 {
		return ref{}, errc
	}
	rec := fs.loadRecord(slot)
	*rec = Record{
		Name:      res.lastElem,
		Type:      ftype(isDir),
		Timestamp: timestamp,
		Dirty:     true,
	}

	fs.flush(fs.loadRecord(res.dir), timestamp)
	return slot, 0
}

func ftype(isDir bool) int {
	if isDir {
		return FTYPE_DIR
	}
	return FTYPE_REG
}

// / Open resolves path to its current (or "@timestamp"-qualified) record
// / (ground: file_open).
func (fs *FileSystem) Open(path string) (ref, errs.Err_t) {
	res, errc := fs.walkPath(path, fs.now())
	if errc != 0 {
		return ref{}, errc
	}
	return res.file, 0
}

// / Read reads up to len(buf) bytes from f starting at offset, returning
// / the number of bytes actually read (ground: file_read).
func (fs *FileSystem) Read(r ref, buf []byte, offset int64) (int, errs.Err_t) {
	f := fs.loadRecord(r)
	if offset >= f.Size {
		return 0, 0
	}
	count := int64(len(buf))
	if offset+count > f.Size {
		count = f.Size - offset
	}

	var n int64
	for n < count {
		pos := offset + n
		bno, errc := fs.fileLookupDiskbno(f, int(pos/int64(blkSize)))
		if errc != 0 {
			return int(n), errc
		}
		data, err := fs.cache.Get(bno)
		if err != nil {
			return int(n), errs.NO_DISK
		}
		within := int64(blkSize) - pos%int64(blkSize)
		want := util.Min(count-n, within)
		copy(buf[n:n+want], data[pos%int64(blkSize):])
		n += want
	}
	return int(n), 0
}

// / Write writes buf into f starting at offset, extending f's size as
// / needed, and applies block-level COW before each block it touches
// / (ground: file_write).
func (fs *FileSystem) Write(r ref, buf []byte, offset int64) (int, errs.Err_t) {
	f := fs.loadRecord(r)
	if offset+int64(len(buf)) > f.Size {
		if errc := fs.SetSize(r, offset+int64(len(buf))); errc != 0 {
			return 0, errc
		}
	}

	var n int64
	count := int64(len(buf))
	for n < count {
		pos := offset + n
		filebno := int(pos / int64(blkSize))
		get, set, errc := fs.blockSlot(f, filebno, true)
		if errc != 0 {
			return int(n), errc
		}
		bno := get()
		if bno == 0 {
			nb, errc := fs.allocBlock()
			if errc != 0 {
				return int(n), errc
			}
			set(nb)
			bno = nb
		}
		if errc := fs.copyBlock(f, filebno, bno, set); errc != 0 {
			return int(n), errc
		}
		bno = get()

		data, err := fs.cache.Get(bno)
		if err != nil {
			return int(n), errs.NO_DISK
		}
		within := int64(blkSize) - pos%int64(blkSize)
		want := util.Min(count-n, within)
		copy(data[pos%int64(blkSize):], buf[n:n+want])
		fs.cache.MarkDirty(bno)
		n += want
	}
	f.Dirty = true
	return int(n), 0
}

// / SetSize updates f's size field and marks it dirty (ground:
// / file_set_size, which does exactly this and nothing more). It does
// / not free blocks beyond newsize on shrink: the live record and its
// / most recent snapshot share block numbers at rest (copyBlock only
// / diverges a block on the next write that actually touches it), so
// / freeing here would mark a block the history chain still reaches as
// / free and hand it back out from under a snapshot. copyBlock's
// / sharing check is what actually reclaims storage, by copying instead
// / of overwriting shared blocks on write.
func (fs *FileSystem) SetSize(r ref, newsize int64) errs.Err_t {
	f := fs.loadRecord(r)
	f.Size = newsize
	f.Dirty = true
	return 0
}

// / History fills buf with up to len(buf) past timestamps of f, starting
// / from the offset'th entry, newest first along the chain (ground:
// / file_history). The live record is included only while it is dirty.
func (fs *FileSystem) History(r ref, buf []int64, offset int) int {
	f := fs.loadRecord(r)
	cur := r
	if !f.Dirty {
		cur = f.NextFile
	}
	i := 0
	for !cur.isNil() {
		rec := fs.loadRecord(cur)
		if offset > 0 {
			offset--
		} else if i < len(buf) {
			buf[i] = rec.Timestamp
			i++
		} else {
			break
		}
		cur = rec.NextFile
	}
	return i
}

// / flush splices f's current contents into a fresh history snapshot if
// / dirty, then marks every data block f covers dirty in pkg/blk's
// / cache; the blocks reach disk on the next Sync or when evicted
// / (ground: file_flush, adapted to this port's in-memory-and-cache
// / split: meta blocks live in fs.dirBlocks/fs.indBlocks and are not
// / written to disk).
func (fs *FileSystem) flush(f *Record, timestamp int64) {
	if f.Dirty {
		f.Dirty = false
		f.Timestamp = timestamp

		snap, errc := fs.allocFile()
		if errc != 0 {
			panic("out of disk space flushing file history")
		}
		*fs.loadRecord(snap) = *f
		f.NextFile = snap
	}

	nblocks := int((f.Size + int64(blkSize) - 1) / int64(blkSize))
	for i := 0; i < nblocks; i++ {
		bno, errc := fs.fileLookupDiskbno(f, i)
		if errc != 0 || bno == 0 {
			continue
		}
		fs.cache.MarkDirty(bno)
	}
}

// / Flush is the public form of flush, for callers (cmd/exosim, cmd/mkvfs)
// / outside this package.
func (fs *FileSystem) Flush(r ref) {
	fs.flush(fs.loadRecord(r), fs.now())
}

// / Sync writes every dirty cached block out to disk — "a big hammer"
// / exactly as fs_sync's comment describes it.
func (fs *FileSystem) Sync() error {
	return fs.cache.Flush()
}
