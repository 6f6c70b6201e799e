package record

// Meta carries the essential metadata of an image record: its training
// label and a serial number unique within the owning dataset.
type Meta struct {
	Label  int32 // -1: unknown
	Serial int32
}

const metaSize = 8
