package vfs

import "exovisor/pkg/errs"

// / allocBlock scans the bitmap for a free block and marks it in-use.
// / Block 0 is never handed out (the null block number).
// /
// / Ground: fs.c's alloc_block, minus the immediate flush_block of the
// / changed bitmap — this port keeps the bitmap purely in memory; it is
// / never written to disk, not even by Sync, since there is no
// / bitmap-block disk format here.
func (fs *FileSystem) allocBlock() (int, errs.Err_t) {
	for b := 1; b < fs.nblocks; b++ {
		if fs.bitmap[b] {
			fs.bitmap[b] = false
			return b, 0
		}
	}
	return 0, errs.NO_DISK
}

// / freeBlock returns blockno to the free pool. Freeing block 0 is a
// / programming error (ground: free_block's panic on that case).
func (fs *FileSystem) freeBlock(blockno int) {
	if blockno == 0 {
		panic("attempt to free zero block")
	}
	fs.bitmap[blockno] = true
	delete(fs.dirBlocks, blockno)
	delete(fs.indBlocks, blockno)
}

// / allocFile hands out a slot for one history-chain snapshot, packing
// / BLKFILES records per block and only moving to a new block once full.
// / Ported verbatim from alloc_file, including the quirk Open Question
// / 9a resolves: it scans only BLKFILES-1 slots for an empty name before
// / falling through to claim the final slot and reset its block cache —
// / so the very last slot of a block is never matched by the name-scan,
// / only ever landed on by exhaustion.
func (fs *FileSystem) allocFile() (ref, errs.Err_t) {
	if fs.curFileBlock == 0 {
		b, errc := fs.allocBlock()
		if errc != 0 {
			return ref{}, errc
		}
		fs.curFileBlock = b
		fs.dirBlocks[b] = make([]Record, BLKFILES)
	}

	recs := fs.dirBlocks[fs.curFileBlock]
	for i := 0; i < BLKFILES-1; i++ {
		if recs[i].Name == "" {
			return ref{fs.curFileBlock, i}, 0
		}
	}
	r := ref{fs.curFileBlock, BLKFILES - 1}
	fs.curFileBlock = 0
	return r, 0
}
