package dataset

// Flags controls DataSet write and read behavior.
type Flags uint8

const (
	// WriteShuffle re-shuffles the per-stream write order every time every
	// stream has received one record (a "round"), instead of always
	// striping in the same stream order.
	WriteShuffle Flags = 1 << iota

	// ReadRR selects round-robin reads: one record per stream per call,
	// cycling through streams, instead of draining stream 0 to exhaustion
	// before moving to stream 1.
	ReadRR

	// ReadLoop changes how DataSet iteration treats an exhausted stream.
	// Alone, the DataSet-level pointer wraps around the full stream list
	// on end-of-stream, skipping streams already marked exhausted,
	// rather than dropping out of sequential order for good. Even so,
	// since no individual stream is reopened, a full lap with nothing
	// left unexhausted still ends in errs.ErrEndOfStream. Combined with
	// ReadRR, every underlying InputStream is itself opened in loop
	// mode, so reads never exhaust at all.
	ReadLoop
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }
