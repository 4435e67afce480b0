// Package blk implements the kernel's block cache: an LRU of fixed-size
// disk blocks sitting in front of a Disk_i, with dirty tracking and a
// write-through Flush (spec.md §4.6's versioned file system is built
// entirely on top of this cache).
//
// Grounded on biscuit/src/fs/blk.go's Bdev_block_t/BlkList_t: the same
// list.List-backed block list idiom, simplified from biscuit's async
// request/channel disk protocol to a synchronous Disk_i since this
// kernel has no interrupt-driven disk controller to model.
package blk

import (
	"container/list"
	"fmt"
	"sync"
)

// / BSIZE is the size of a disk block in bytes.
const BSIZE = 4096

// / Disk_i is the synchronous backing store a Cache reads through and
// / writes back to.
type Disk_i interface {
	ReadBlock(blkno int, buf []byte) error
	WriteBlock(blkno int, buf []byte) error
	NumBlocks() int
}

// / Debug gates the cache's verbose per-operation logging, the
// / simulated-kernel analogue of biscuit's bdev_debug package variable.
var Debug = false

// / block is one cached disk block plus its LRU list element.
type block struct {
	blkno int
	data  [BSIZE]byte
	dirty bool
	elem  *list.Element
}

// / Cache is an LRU block cache of bounded capacity over a Disk_i.
type Cache struct {
	mu       sync.Mutex
	disk     Disk_i
	capacity int
	lru      *list.List // front = most recently used
	index    map[int]*block
}

// / NewCache creates a cache of the given capacity (in blocks) over disk.
func NewCache(disk Disk_i, capacity int) *Cache {
	return &Cache{
		disk:     disk,
		capacity: capacity,
		lru:      list.New(),
		index:    make(map[int]*block),
	}
}

func (c *Cache) touch(b *block) {
	if b.elem != nil {
		c.lru.MoveToFront(b.elem)
		return
	}
	b.elem = c.lru.PushFront(b)
}

// / Get returns the contents of blkno, reading through to disk on a
// / cache miss and evicting the least-recently-used block (writing it
// / back first if dirty) if the cache is full (ground: Bdev_block_t.Read, minus the async
// / request/AckCh protocol biscuit uses for a real disk controller).
func (c *Cache) Get(blkno int) (*[BSIZE]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.index[blkno]; ok {
		c.touch(b)
		return &b.data, nil
	}

	if len(c.index) >= c.capacity {
		if err := c.evictOneLocked(); err != nil {
			return nil, err
		}
	}

	b := &block{blkno: blkno}
	if err := c.disk.ReadBlock(blkno, b.data[:]); err != nil {
		return nil, err
	}
	if Debug {
		fmt.Printf("blk: read %d\n", blkno)
	}
	c.index[blkno] = b
	c.touch(b)
	return &b.data, nil
}

// / MarkDirty flags blkno's cached contents as needing write-back. The
// / caller must have mutated the slice returned by Get in place.
func (c *Cache) MarkDirty(blkno int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.index[blkno]; ok {
		b.dirty = true
	}
}

// / evictOneLocked writes back and drops the least-recently-used block.
// / Called with c.mu held.
func (c *Cache) evictOneLocked() error {
	e := c.lru.Back()
	if e == nil {
		return nil
	}
	b := e.Value.(*block)
	if b.dirty {
		if err := c.disk.WriteBlock(b.blkno, b.data[:]); err != nil {
			return err
		}
	}
	c.lru.Remove(e)
	delete(c.index, b.blkno)
	return nil
}

// / Flush writes back every dirty block without evicting it (ground:
// / biscuit's fs_sync, applied at the cache layer rather than the whole
// / file system).
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.lru.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if !b.dirty {
			continue
		}
		if err := c.disk.WriteBlock(b.blkno, b.data[:]); err != nil {
			return err
		}
		b.dirty = false
	}
	return nil
}
