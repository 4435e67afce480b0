// Command mkvfs formats a fresh versioned-file-system disk image: it
// builds an empty root directory in memory with pkg/vfs, optionally
// seeds it with files copied in from the host filesystem, and writes
// the dirty file data blocks in the block cache out to a flat disk
// image file. Directory records and the allocation bitmap live only in
// pkg/vfs's memory and are not written to the image.
//
// Grounded on original_source/fs/mkfs.c, whose job is exactly this:
// build an in-memory image and blast it to disk in one shot, rather
// than attaching to and incrementally updating an existing one.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"exovisor/pkg/blk"
	"exovisor/pkg/vfs"
)

// / fileDisk is a blk.Disk_i backed by a flat, pre-sized file on the
// / host filesystem, standing in for mkfs.c's raw block device.
type fileDisk struct {
	f    *os.File
	n    int
	size int64
}

func createFileDisk(path string, nblocks int) (*fileDisk, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	size := int64(nblocks) * blk.BSIZE
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &fileDisk{f: f, n: nblocks, size: size}, nil
}

func (d *fileDisk) ReadBlock(blkno int, buf []byte) error {
	_, err := d.f.ReadAt(buf[:blk.BSIZE], int64(blkno)*blk.BSIZE)
	return err
}

func (d *fileDisk) WriteBlock(blkno int, buf []byte) error {
	_, err := d.f.WriteAt(buf[:blk.BSIZE], int64(blkno)*blk.BSIZE)
	return err
}

func (d *fileDisk) NumBlocks() int { return d.n }

func (d *fileDisk) Close() error { return d.f.Close() }

// / realClock reports wall-clock time in milliseconds, the formatting
// / tool's Clock for file_create's timestamp stamping.
type realClock struct{}

func (realClock) Msec() int64 { return time.Now().UnixMilli() }

func main() {
	log := logrus.New()

	var (
		nblocks  int
		cacheCap int
		seedDir  string
	)

	root := &cobra.Command{
		Use:   "mkvfs <image-path>",
		Short: "Format a fresh versioned file system disk image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imagePath := args[0]

			disk, err := createFileDisk(imagePath, nblocks)
			if err != nil {
				return fmt.Errorf("create disk image: %w", err)
			}
			defer disk.Close()

			fs := vfs.New(disk, cacheCap, realClock{})

			if seedDir != "" {
				if err := seedFrom(fs, seedDir, log); err != nil {
					return fmt.Errorf("seed from %s: %w", seedDir, err)
				}
			}

			if err := fs.Sync(); err != nil {
				return fmt.Errorf("sync disk image: %w", err)
			}

			log.WithFields(logrus.Fields{
				"image":   imagePath,
				"blocks":  nblocks,
				"seedDir": seedDir,
			}).Info("formatted file system image")
			return nil
		},
	}

	root.Flags().IntVar(&nblocks, "blocks", 4096, "number of blk.BSIZE blocks in the image")
	root.Flags().IntVar(&cacheCap, "cache", 256, "block cache capacity in blocks")
	root.Flags().StringVar(&seedDir, "seed", "", "host directory whose top-level files are copied into the new root")

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("mkvfs failed")
	}
}

// / seedFrom copies every regular file directly under dir into fs's
// / root, preserving only the name (ground: mkfs.c walking its input
// / directory tree and calling file_create/file_write per entry).
func seedFrom(fs *vfs.FileSystem, dir string, log *logrus.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		data, err := os.ReadFile(dir + "/" + ent.Name())
		if err != nil {
			return err
		}
		r, errc := fs.Create("/"+ent.Name(), false)
		if errc != 0 {
			return errc.AsError()
		}
		if _, errc := fs.Write(r, data, 0); errc != 0 {
			return errc.AsError()
		}
		fs.Flush(r)
		log.WithFields(logrus.Fields{"name": ent.Name(), "bytes": len(data)}).Debug("seeded file")
	}
	return nil
}
