package vfs

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"exovisor/pkg/blk"
	"exovisor/pkg/errs"
)

type memDisk struct {
	blocks [][blk.BSIZE]byte
}

func newMemDisk(n int) *memDisk { return &memDisk{blocks: make([][blk.BSIZE]byte, n)} }

func (d *memDisk) ReadBlock(blkno int, buf []byte) error {
	copy(buf, d.blocks[blkno][:])
	return nil
}
func (d *memDisk) WriteBlock(blkno int, buf []byte) error {
	copy(d.blocks[blkno][:], buf)
	return nil
}
func (d *memDisk) NumBlocks() int { return len(d.blocks) }

type fakeClock struct{ t int64 }

func (c *fakeClock) Msec() int64 { return c.t }

func newFS(t *testing.T) (*FileSystem, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: 1000}
	fs := New(newMemDisk(256), 32, clock)
	return fs, clock
}

func TestCreateThenOpenRoundTrips(t *testing.T) {
	fs, _ := newFS(t)
	r, errc := fs.Create("/hello.txt", false)
	require.Zero(t, errc)
	require.Equal(t, FTYPE_REG, fs.loadRecord(r).Type)

	opened, errc := fs.Open("/hello.txt")
	require.Zero(t, errc)
	require.Equal(t, r, opened)
}

func TestCreateDuplicateFails(t *testing.T) {
	fs, _ := newFS(t)
	_, errc := fs.Create("/a", false)
	require.Zero(t, errc)
	_, errc = fs.Create("/a", false)
	require.Equal(t, errs.FILE_EXISTS, errc)
}

func TestOpenMissingFails(t *testing.T) {
	fs, _ := newFS(t)
	_, errc := fs.Open("/nope")
	require.Equal(t, errs.NOT_FOUND, errc)
}

func TestWriteThenReadBack(t *testing.T) {
	fs, _ := newFS(t)
	r, _ := fs.Create("/data", false)

	payload := []byte("hello, versioned world")
	n, errc := fs.Write(r, payload, 0)
	require.Zero(t, errc)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, errc = fs.Read(r, buf, 0)
	require.Zero(t, errc)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestWriteSpanningMultipleBlocks(t *testing.T) {
	fs, _ := newFS(t)
	r, _ := fs.Create("/big", false)

	payload := make([]byte, blkSize*2+100)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, errc := fs.Write(r, payload, 0)
	require.Zero(t, errc)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, errc = fs.Read(r, buf, 0)
	require.Zero(t, errc)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestFlushRecordsHistoryEntry(t *testing.T) {
	fs, clock := newFS(t)
	r, _ := fs.Create("/versioned", false)
	fs.Write(r, []byte("v1"), 0)

	clock.t = 2000
	fs.Flush(r)

	rec := fs.loadRecord(r)
	require.False(t, rec.Dirty, "expected flush to clear dirty bit")
	require.False(t, rec.NextFile.isNil(), "expected a history snapshot to be recorded")

	var hist [4]int64
	n := fs.History(r, hist[:], 0)
	require.Equal(t, 1, n)
}

func TestRemoveFreesDirectorySlot(t *testing.T) {
	fs, _ := newFS(t)
	_, errc := fs.Create("/gone", false)
	require.Zero(t, errc)

	require.Zero(t, fs.Remove("/gone"))
	_, errc = fs.Open("/gone")
	require.Equal(t, errs.NOT_FOUND, errc)

	// Slot should be reusable by a fresh create.
	_, errc = fs.Create("/gone", false)
	require.Zero(t, errc)
}

func TestReadDirListsEntries(t *testing.T) {
	fs, _ := newFS(t)
	fs.Create("/a", false)
	fs.Create("/b", false)
	fs.Create("/c", true)

	names, errc := fs.ReadDir("/")
	require.Zero(t, errc)
	require.ElementsMatch(t, []string{"a", "b", "c"}, names)
}

func TestRenameMovesEntry(t *testing.T) {
	fs, _ := newFS(t)
	r, _ := fs.Create("/old", false)
	fs.Write(r, []byte("payload"), 0)

	require.Zero(t, fs.Rename("/old", "/new"))

	_, errc := fs.Open("/old")
	require.Equal(t, errs.NOT_FOUND, errc)

	newRef, errc := fs.Open("/new")
	require.Zero(t, errc)

	buf := make([]byte, 7)
	n, errc := fs.Read(newRef, buf, 0)
	require.Zero(t, errc)
	require.Equal(t, "payload", string(buf[:n]))
}

func TestCheckoutRestoresOlderVersion(t *testing.T) {
	fs, clock := newFS(t)
	r, _ := fs.Create("/doc", false)
	fs.Write(r, []byte("version one"), 0)
	fs.Flush(r)
	snapshotTime := clock.t

	clock.t = 3000
	fs.SetSize(r, 0)
	fs.Write(r, []byte("version two, longer"), 0)
	fs.Flush(r)

	clock.t = 4000
	path := "/doc@c" + strconv.FormatInt(snapshotTime, 10)
	require.Zero(t, fs.Checkout(path))

	cur, errc := fs.Open("/doc")
	require.Zero(t, errc)

	rec := fs.loadRecord(cur)
	buf := make([]byte, rec.Size)
	n, errc := fs.Read(cur, buf, 0)
	require.Zero(t, errc)
	require.Equal(t, "version one", string(buf[:n]))
}

func TestTimeQualifiedPathResolvesOldVersion(t *testing.T) {
	fs, clock := newFS(t)
	r, _ := fs.Create("/log", false)
	fs.Write(r, []byte("first"), 0)
	fs.Flush(r)
	firstStamp := clock.t

	clock.t = 5000
	fs.SetSize(r, 0)
	fs.Write(r, []byte("second"), 0)
	fs.Flush(r)

	old, errc := fs.Open("/log@c" + strconv.FormatInt(firstStamp, 10))
	require.Zero(t, errc)

	oldRec := fs.loadRecord(old)
	buf := make([]byte, oldRec.Size)
	n, errc := fs.Read(old, buf, 0)
	require.Zero(t, errc)
	require.Equal(t, "first", string(buf[:n]))
}
