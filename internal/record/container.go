package record

import (
	"encoding/binary"
	"fmt"

	"github.com/ncw/directio"

	"striper/internal/errs"
)

const (
	// ContainerMagic identifies a container header on disk ("PICC").
	ContainerMagic uint32 = 0x50494343

	// MaxContainerSize is the largest permitted container buffer.
	MaxContainerSize = 10 << 30 // 10 GiB

	// IOBlockSize is the unit every container buffer size, and every
	// pread/pwrite offset and length, must be a multiple of.
	IOBlockSize = 512

	// containerHeaderSize is the packed on-disk size of a container header:
	// magic(4) + count(4) + data_size(4) + data_crc(4).
	containerHeaderSize = 16
)

// Container is a single aligned buffer holding a header plus a packed,
// contiguous sequence of records. It owns its aligned buffer until Pack
// detaches it.
type Container struct {
	buf     []byte
	records []Record
	next    int // offset of the next free byte in buf
}

// Empty allocates a new, empty Container backed by an aligned buffer of
// exactly capacity bytes. capacity must be a multiple of IOBlockSize and
// greater than the header size.
func Empty(capacity int) (*Container, error) {
	if capacity%IOBlockSize != 0 {
		return nil, fmt.Errorf("striper: container capacity %d not a multiple of %d", capacity, IOBlockSize)
	}
	if capacity <= containerHeaderSize {
		return nil, fmt.Errorf("striper: container capacity %d too small", capacity)
	}
	if capacity > MaxContainerSize {
		return nil, fmt.Errorf("striper: container capacity %d exceeds limit %d", capacity, MaxContainerSize)
	}
	buf := directio.AlignedBlock(capacity)
	return &Container{buf: buf, next: containerHeaderSize}, nil
}

// FromBuffer adopts an aligned buffer of sz bytes read from disk, parsing
// its header and every record it holds. If extend is greater than sz, the
// buffer is reallocated to extend bytes and the original contents copied
// in, leaving room to Add further records before repacking.
func FromBuffer(buf []byte, sz int, extend int) (*Container, error) {
	if sz%IOBlockSize != 0 {
		return nil, fmt.Errorf("striper: container size %d not a multiple of %d", sz, IOBlockSize)
	}
	if sz < containerHeaderSize {
		return nil, &errs.CorruptData{Reason: "container shorter than header"}
	}
	if extend > sz {
		if extend%IOBlockSize != 0 {
			return nil, fmt.Errorf("striper: extended container size %d not a multiple of %d", extend, IOBlockSize)
		}
		grown := directio.AlignedBlock(extend)
		copy(grown, buf[:sz])
		buf = grown
		sz = extend
	}
	buf = buf[:sz]

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != ContainerMagic {
		return nil, &errs.CorruptData{Reason: fmt.Sprintf("bad container magic 0x%08x", magic)}
	}
	count := binary.LittleEndian.Uint32(buf[4:8])
	dataSize := binary.LittleEndian.Uint32(buf[8:12])
	dataCRC := binary.LittleEndian.Uint32(buf[12:16])

	dataBegin := containerHeaderSize
	dataEnd := dataBegin + int(dataSize)
	if dataEnd > len(buf) {
		return nil, &errs.CorruptData{Reason: "container data_size overruns buffer"}
	}
	if CRCVerificationEnabled() {
		if got := ChecksumCastagnoli(buf[dataBegin:dataEnd]); got != dataCRC {
			return nil, &errs.CorruptData{Reason: fmt.Sprintf("container CRC mismatch: got 0x%08x, want 0x%08x", got, dataCRC)}
		}
	}

	c := &Container{buf: buf}
	off := dataBegin
	for i := uint32(0); i < count; i++ {
		if off >= dataEnd {
			return nil, &errs.CorruptData{Reason: "container record count exceeds data region"}
		}
		rec, consumed, err := Load(buf[off:dataEnd])
		if err != nil {
			return nil, err
		}
		c.records = append(c.records, rec)
		off += consumed
	}
	c.next = off
	return c, nil
}

// Size returns the number of records currently held.
func (c *Container) Size() int { return len(c.records) }

// At returns the i-th record view.
func (c *Container) At(i int) Record { return c.records[i] }

// Records returns all record views held by the container, in order. The
// returned slice must not be mutated or retained past the container's
// lifetime.
func (c *Container) Records() []Record { return c.records }

// Add serializes r into the container's remaining space and appends a view
// to the internal index. It returns false, performing no mutation, when r
// would not fit.
func (c *Container) Add(r Record) (bool, error) {
	sz := r.StorageSize()
	if c.next+sz >= len(c.buf) {
		return false, nil
	}
	saved, n, err := Save(c.buf[c.next:], r)
	if err != nil {
		return false, err
	}
	if n != sz {
		return false, fmt.Errorf("striper: internal error: saved %d bytes, expected %d", n, sz)
	}
	c.records = append(c.records, saved)
	c.next += n
	return true, nil
}

// Pack zero-fills the header region and any trailing gap, rounds the end up
// to IOBlockSize, computes the CRC-32C over the data region, writes the
// header, and detaches the buffer: ownership passes to the caller and the
// Container becomes empty. A packed Container may not be reused.
func (c *Container) Pack() ([]byte, int, error) {
	if c.buf == nil {
		return nil, 0, fmt.Errorf("striper: container already packed")
	}
	dataBegin := containerHeaderSize
	dataEnd := c.next
	packEnd := roundUp(dataEnd, IOBlockSize)
	if packEnd > len(c.buf) {
		return nil, 0, fmt.Errorf("striper: internal error: packed size %d exceeds buffer %d", packEnd, len(c.buf))
	}

	for i := 0; i < dataBegin; i++ {
		c.buf[i] = 0
	}
	for i := dataEnd; i < packEnd; i++ {
		c.buf[i] = 0
	}

	dataSize := dataEnd - dataBegin
	crc := ChecksumCastagnoli(c.buf[dataBegin:dataEnd])

	binary.LittleEndian.PutUint32(c.buf[0:4], ContainerMagic)
	binary.LittleEndian.PutUint32(c.buf[4:8], uint32(len(c.records)))
	binary.LittleEndian.PutUint32(c.buf[8:12], uint32(dataSize))
	binary.LittleEndian.PutUint32(c.buf[12:16], crc)

	buf := c.buf[:packEnd]
	c.buf = nil
	c.records = nil
	c.next = 0
	return buf, packEnd, nil
}

// PackedSize previews the buffer length Pack would currently return,
// without mutating the container. It is used by the offline shuffle utility
// to size its output containers to the largest source container.
func (c *Container) PackedSize() int {
	return roundUp(c.next, IOBlockSize)
}
