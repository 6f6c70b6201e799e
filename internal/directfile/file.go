// Package directfile implements a single on-disk file opened with
// unbuffered direct I/O: a fixed 4096-byte directory header followed by
// 0..255 variable-length, block-aligned containers.
package directfile

import (
	"fmt"
	"os"

	"github.com/ncw/directio"

	"striper/internal/errs"
	"striper/internal/record"
)

// DirectFile is a single OS file holding one Directory and a sequence of
// Containers packed end-to-end, written or read with O_DIRECT.
type DirectFile struct {
	path    string
	file    *os.File
	dir     *directory
	writing bool
	maxSize uint64
	index   int // next container to read, for read-mode files
}

// OpenWrite creates a new DirectFile for writing. maxSize of 0 means
// unbounded (still subject to the 255-entry directory cap). The file is
// opened with CREATE|EXCL, so opening an existing path fails.
func OpenWrite(path string, maxSize uint64) (*DirectFile, error) {
	f, err := directio.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_SYNC, 0666)
	if err != nil {
		return nil, &errs.IoError{Op: "open_write", Path: path, Err: err}
	}
	return &DirectFile{
		path:    path,
		file:    f,
		dir:     &directory{},
		writing: true,
		maxSize: maxSize,
	}, nil
}

// OpenRead opens an existing DirectFile for reading. The directory is read
// and validated immediately; a missing or corrupt directory is fatal.
func OpenRead(path string) (*DirectFile, error) {
	f, err := directio.OpenFile(path, os.O_RDONLY|os.O_SYNC, 0)
	if err != nil {
		return nil, &errs.IoError{Op: "open_read", Path: path, Err: err}
	}
	buf := directio.AlignedBlock(StorageSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil || n != StorageSize {
		_ = f.Close()
		if err == nil {
			err = fmt.Errorf("short read: got %d, want %d", n, StorageSize)
		}
		return nil, &errs.IoError{Op: "read_directory", Path: path, Err: err}
	}
	dir, err := decodeDirectory(buf)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &DirectFile{path: path, file: f, dir: dir, writing: false}, nil
}

// Entries returns the number of containers currently recorded in the
// directory.
func (f *DirectFile) Entries() int { return f.dir.entries() }

// AllocRead reads the next not-yet-read container into a freshly
// allocated aligned buffer, advances the read cursor, and returns the
// buffer and its size. It returns errs.ErrEndOfStream once every container
// has been read.
func (f *DirectFile) AllocRead() ([]byte, int, error) {
	if f.writing {
		return nil, 0, fmt.Errorf("striper: AllocRead on a write-mode DirectFile")
	}
	if f.index >= f.dir.entries() {
		return nil, 0, errs.ErrEndOfStream
	}
	begin, end := f.dir.containerRange(f.index)
	f.index++
	sz := int(end - begin)

	buf := directio.AlignedBlock(sz)
	n, err := f.file.ReadAt(buf, int64(begin))
	if err != nil || n != sz {
		if err == nil {
			err = fmt.Errorf("short read: got %d, want %d", n, sz)
		}
		return nil, 0, &errs.IoError{Op: "pread", Path: f.path, Err: err}
	}
	return buf, sz, nil
}

// WriteFree appends a new directory entry for a container of sz bytes and
// issues a single pwrite of buf at the resulting offset. It takes ownership
// of buf: the caller must not use it again. sz must be a multiple of
// record.IOBlockSize. It returns errs.ErrEndOfSpace when the file has
// reached its max_size or the 255-entry directory cap; the buffer is
// *not* consumed in that case, so the caller can hand it to the next file.
func (f *DirectFile) WriteFree(buf []byte, sz int) error {
	if !f.writing {
		return fmt.Errorf("striper: WriteFree on a read-mode DirectFile")
	}
	if sz%record.IOBlockSize != 0 {
		return fmt.Errorf("striper: write size %d not a multiple of %d", sz, record.IOBlockSize)
	}
	off, err := f.dir.append(uint64(sz), f.maxSize)
	if err != nil {
		return err
	}
	n, err := f.file.WriteAt(buf[:sz], int64(off))
	if err != nil || n != sz {
		if err == nil {
			err = fmt.Errorf("short write: wrote %d, want %d", n, sz)
		}
		return &errs.IoError{Op: "pwrite", Path: f.path, Err: err}
	}
	return nil
}

// Close finalizes the file. For a write-mode DirectFile, the in-memory
// directory is serialized into an aligned StorageSize block and written to
// offset 0 before the underlying file descriptor is closed.
func (f *DirectFile) Close() error {
	if f.writing {
		buf := encodeDirectory(f.dir)
		if _, err := f.file.WriteAt(buf, 0); err != nil {
			_ = f.file.Close()
			return &errs.IoError{Op: "write_directory", Path: f.path, Err: err}
		}
	}
	return f.file.Close()
}

// Sizes returns the per-container byte sizes recorded in the directory.
func (f *DirectFile) Sizes() []int { return f.dir.sizes() }

// Ping reads only the directory of the DirectFile at path and returns the
// per-container sizes, without opening it for sequential reads. Used by
// offline rotate/shuffle planners.
func Ping(path string) ([]int, error) {
	f, err := OpenRead(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Sizes(), nil
}
