// Package codec declares the boundary between this engine and whatever
// image codec a caller links in. The engine never decodes or encodes pixel
// formats itself; it only ever moves the opaque Image byte payload of a
// record.
package codec

import "image"

// Decoder turns an encoded image payload (as stored in Record.Image) into
// an in-memory image. DataMux calls a Decoder on every record it pulls; a
// non-nil error is treated as a DecodeError and the record is skipped.
type Decoder func([]byte) (image.Image, error)

// Encoder is the inverse of Decoder, provided for symmetry with callers
// that re-encode a decoded image before writing it back into a Record.
type Encoder func(image.Image) ([]byte, error)
