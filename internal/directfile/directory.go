package directfile

import (
	"encoding/binary"
	"fmt"

	"github.com/ncw/directio"

	"striper/internal/errs"
)

const (
	// DirectoryMagic identifies the directory header ("PICF").
	DirectoryMagic uint32 = 0x50494346
	// DirectoryVersion is the only directory format version this package
	// produces or accepts. A mismatch is fatal.
	DirectoryVersion uint32 = 1
	// MaxEntries is the maximum number of containers a single DirectFile
	// may hold.
	MaxEntries = 255
	// StorageSize is the fixed size, at offset 0 of every DirectFile, that
	// the Directory occupies on disk.
	StorageSize = 4096

	directoryHeaderSize = 16 // magic(4) + version(4) + entries(4) + padding(4)
)

// directory is the in-memory representation of a DirectFile's directory: a
// list of cumulative end byte offsets, one per container. Container i spans
// [end[i-1], end[i]), with container 0 beginning at StorageSize.
type directory struct {
	ends []uint64
}

// containerRange returns the [begin, end) byte range of container i.
func (d *directory) containerRange(i int) (begin, end uint64) {
	end = d.ends[i]
	if i == 0 {
		begin = StorageSize
	} else {
		begin = d.ends[i-1]
	}
	return begin, end
}

// back returns the end offset of the last container, or StorageSize when
// the directory is empty.
func (d *directory) back() uint64 {
	if len(d.ends) == 0 {
		return StorageSize
	}
	return d.ends[len(d.ends)-1]
}

// append records a new container of sz bytes immediately after the current
// last container, enforcing the 255-entry cap and max_size. It returns the
// byte offset the container must be written at.
func (d *directory) append(sz uint64, maxSize uint64) (uint64, error) {
	if len(d.ends) >= MaxEntries {
		return 0, errs.ErrEndOfSpace
	}
	off := d.back()
	newEnd := off + sz
	if maxSize > 0 && newEnd > maxSize {
		return 0, errs.ErrEndOfSpace
	}
	d.ends = append(d.ends, newEnd)
	return off, nil
}

func (d *directory) entries() int { return len(d.ends) }

// sizes returns the per-container byte sizes, in order, for Ping.
func (d *directory) sizes() []int {
	out := make([]int, len(d.ends))
	for i := range d.ends {
		begin, end := d.containerRange(i)
		out[i] = int(end - begin)
	}
	return out
}

// decodeDirectory parses a StorageSize-byte aligned buffer into a directory,
// validating magic, version, and the entry count.
func decodeDirectory(buf []byte) (*directory, error) {
	if len(buf) < directoryHeaderSize {
		return nil, &errs.CorruptData{Reason: "directory header truncated"}
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != DirectoryMagic {
		return nil, &errs.CorruptData{Reason: fmt.Sprintf("bad directory magic 0x%08x", magic)}
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != DirectoryVersion {
		return nil, &errs.CorruptData{Reason: fmt.Sprintf("unsupported directory version %d", version)}
	}
	entries := binary.LittleEndian.Uint32(buf[8:12])
	if entries > MaxEntries {
		return nil, &errs.CorruptData{Reason: fmt.Sprintf("directory entries %d exceeds limit %d", entries, MaxEntries)}
	}
	need := directoryHeaderSize + int(entries)*8
	if len(buf) < need {
		return nil, &errs.CorruptData{Reason: "directory entries truncated"}
	}
	d := &directory{ends: make([]uint64, entries)}
	for i := range d.ends {
		d.ends[i] = binary.LittleEndian.Uint64(buf[directoryHeaderSize+i*8:])
	}
	return d, nil
}

// encodeDirectory serializes d into a freshly allocated StorageSize-byte
// aligned buffer, ready to be pwritten at offset 0.
func encodeDirectory(d *directory) []byte {
	buf := directio.AlignedBlock(StorageSize)
	binary.LittleEndian.PutUint32(buf[0:4], DirectoryMagic)
	binary.LittleEndian.PutUint32(buf[4:8], DirectoryVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(d.ends)))
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	for i, e := range d.ends {
		binary.LittleEndian.PutUint64(buf[directoryHeaderSize+i*8:], e)
	}
	return buf
}
