package record

import (
	"encoding/binary"
	"fmt"

	"striper/internal/errs"
)

const (
	// Magic identifies a record header on disk ("PICR").
	Magic uint32 = 0x50494352

	// MaxImageSize is the largest permitted image payload.
	MaxImageSize = 32 << 20
	// MaxExtraSize is the largest permitted extra payload.
	MaxExtraSize = 1 << 20

	// HeaderAlign is the alignment every record's total storage size is
	// rounded up to.
	HeaderAlign = 16

	// headerSize is the packed on-disk size of a record header:
	// magic(4) + meta(8) + image_size(4) + extra_size(4).
	headerSize = 4 + metaSize + 4 + 4
)

// Record is the logical unit of the storage engine: metadata plus an opaque
// image blob and an opaque extra blob. A Record returned by Load is a view:
// Image and Extra are subslices of the buffer passed to Load and must not
// outlive it.
type Record struct {
	Meta  Meta
	Image []byte
	Extra []byte
}

// StorageSize returns the total on-disk size of r, including its header and
// the zero padding required to align the next record to HeaderAlign.
func (r Record) StorageSize() int {
	return roundUp(headerSize+len(r.Image)+len(r.Extra), HeaderAlign)
}

func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}

// Save serializes r into dst, which must be at least r.StorageSize() bytes.
// It returns a view record whose Image/Extra point into dst (never into r's
// own buffers) and the number of bytes written.
func Save(dst []byte, r Record) (Record, int, error) {
	if len(r.Image) > MaxImageSize {
		return Record{}, 0, fmt.Errorf("striper: image size %d exceeds limit %d", len(r.Image), MaxImageSize)
	}
	if len(r.Extra) > MaxExtraSize {
		return Record{}, 0, fmt.Errorf("striper: extra size %d exceeds limit %d", len(r.Extra), MaxExtraSize)
	}
	sz := r.StorageSize()
	if len(dst) < sz {
		return Record{}, 0, fmt.Errorf("striper: destination buffer too small: have %d, need %d", len(dst), sz)
	}

	binary.LittleEndian.PutUint32(dst[0:4], Magic)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(r.Meta.Label))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(r.Meta.Serial))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(len(r.Image)))
	binary.LittleEndian.PutUint32(dst[16:20], uint32(len(r.Extra)))

	off := headerSize
	imageStart := off
	copy(dst[off:off+len(r.Image)], r.Image)
	off += len(r.Image)
	extraStart := off
	copy(dst[off:off+len(r.Extra)], r.Extra)
	off += len(r.Extra)

	for i := off; i < sz; i++ {
		dst[i] = 0
	}

	saved := Record{
		Meta:  r.Meta,
		Image: dst[imageStart : imageStart+len(r.Image) : imageStart+len(r.Image)],
		Extra: dst[extraStart : extraStart+len(r.Extra) : extraStart+len(r.Extra)],
	}
	return saved, sz, nil
}

// Load parses a record header at the start of src and returns a view record
// borrowing Image/Extra from src, plus the number of bytes consumed
// (the record's storage size). src must be properly aligned and at least
// long enough to hold the header.
func Load(src []byte) (Record, int, error) {
	if len(src) < headerSize {
		return Record{}, 0, &errs.CorruptData{Reason: "record header truncated"}
	}
	magic := binary.LittleEndian.Uint32(src[0:4])
	if magic != Magic {
		return Record{}, 0, &errs.CorruptData{Reason: fmt.Sprintf("bad record magic 0x%08x", magic)}
	}
	meta := Meta{
		Label:  int32(binary.LittleEndian.Uint32(src[4:8])),
		Serial: int32(binary.LittleEndian.Uint32(src[8:12])),
	}
	imageSize := binary.LittleEndian.Uint32(src[12:16])
	extraSize := binary.LittleEndian.Uint32(src[16:20])
	if imageSize > MaxImageSize {
		return Record{}, 0, &errs.CorruptData{Reason: fmt.Sprintf("image size %d exceeds limit", imageSize)}
	}
	if extraSize > MaxExtraSize {
		return Record{}, 0, &errs.CorruptData{Reason: fmt.Sprintf("extra size %d exceeds limit", extraSize)}
	}

	rec := Record{Meta: meta}
	off := headerSize
	end := off + int(imageSize)
	if end > len(src) {
		return Record{}, 0, &errs.CorruptData{Reason: "image payload truncated"}
	}
	rec.Image = src[off:end:end]
	off = end
	end = off + int(extraSize)
	if end > len(src) {
		return Record{}, 0, &errs.CorruptData{Reason: "extra payload truncated"}
	}
	rec.Extra = src[off:end:end]

	sz := rec.StorageSize()
	if sz > len(src) {
		return Record{}, 0, &errs.CorruptData{Reason: "record storage size overruns buffer"}
	}
	return rec, sz, nil
}
