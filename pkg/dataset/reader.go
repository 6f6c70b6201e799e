package dataset

import (
	"errors"
	"fmt"

	"striper/internal/errs"
	"striper/internal/iosched"
	"striper/internal/record"
	"striper/pkg/stream"
)

type readSub struct {
	in        *stream.InputStream
	exhausted bool

	container *record.Container
	idx       int
}

// next returns the next Record from sub, pulling a fresh Container from its
// InputStream whenever the current one is exhausted. This is the boundary
// where the Stream layer's Container-granularity I/O becomes the DataSet
// layer's Record-granularity read API: round-robin rotates one record per
// stream per call, not one container.
func (sub *readSub) next() (record.Record, error) {
	for sub.container == nil || sub.idx >= sub.container.Size() {
		c, err := sub.in.Read()
		if err != nil {
			return record.Record{}, err
		}
		sub.container = c
		sub.idx = 0
	}
	rec := sub.container.At(sub.idx)
	sub.idx++
	return rec, nil
}

// Reader is a DataSet opened for reading. Its iteration order over the
// NStream per-stream InputStreams is governed by Flags, per the four
// combinations of ReadRR and ReadLoop:
//
//   - neither: sequential drain, stream 0 through n_stream-1 in order.
//     Read returns errs.ErrEndOfStream once the last stream is exhausted.
//   - ReadRR only: round-robin across streams, dropping each from the
//     live rotation as it exhausts. Read returns errs.ErrEndOfStream once
//     every stream has exhausted.
//   - ReadLoop only: sequential, but the stream pointer wraps around the
//     full stream list instead of stopping at the end, skipping streams
//     already marked exhausted. Functionally still terminates in
//     errs.ErrEndOfStream once a full lap finds every stream exhausted,
//     since no individual stream is reopened.
//   - ReadRR and ReadLoop: each underlying InputStream is itself opened
//     in loop mode, so no stream ever raises errs.ErrEndOfStream; Read
//     runs forever, round-robining across all streams.
type Reader struct {
	dir      string
	geometry Geometry
	flags    Flags
	sched    *iosched.Scheduler

	subs []*readSub
	live []int // indices into subs still in rotation; used by ReadRR
	pos  int   // rotation/sequential pointer

	closed bool
}

// Open opens dir (previously populated by a Writer or Rotate) for reading,
// with n_stream inferred from the number of integer-named subdirectories.
func Open(dir string, flags Flags) (*Reader, error) {
	ids, err := listSubDirIDs(dir)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, &errs.CorruptData{Path: dir, Reason: "dataset directory has no streams"}
	}
	sched, err := iosched.Acquire()
	if err != nil {
		return nil, err
	}

	perStreamLoop := flags.has(ReadRR) && flags.has(ReadLoop)
	r := &Reader{
		dir:      dir,
		geometry: Geometry{NStream: len(ids)},
		flags:    flags,
		sched:    sched,
	}
	for _, id := range ids {
		in, err := stream.NewInputStream(subDirPath(dir, id), sched, perStreamLoop)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.subs = append(r.subs, &readSub{in: in})
	}
	r.live = make([]int, len(r.subs))
	for i := range r.live {
		r.live[i] = i
	}
	return r, nil
}

// Read returns the next Record per the mode described on Reader.
func (r *Reader) Read() (record.Record, error) {
	switch {
	case r.flags.has(ReadRR):
		return r.readRR()
	case r.flags.has(ReadLoop):
		return r.readLoopSequential()
	default:
		return r.readSequential()
	}
}

func (r *Reader) readSequential() (record.Record, error) {
	for r.pos < len(r.subs) {
		rec, err := r.subs[r.pos].next()
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, errs.ErrEndOfStream) {
			return record.Record{}, err
		}
		r.pos++
	}
	return record.Record{}, errs.ErrEndOfStream
}

// readRR round-robins across the live rotation, dropping a stream out of
// rotation as soon as it reports errs.ErrEndOfStream.
func (r *Reader) readRR() (record.Record, error) {
	for len(r.live) > 0 {
		if r.pos >= len(r.live) {
			r.pos = 0
		}
		idx := r.live[r.pos]
		rec, err := r.subs[idx].next()
		if err == nil {
			r.pos++
			return rec, nil
		}
		if !errors.Is(err, errs.ErrEndOfStream) {
			return record.Record{}, err
		}
		r.live = append(r.live[:r.pos], r.live[r.pos+1:]...)
		// don't advance r.pos: the slice shifted left under it.
	}
	return record.Record{}, errs.ErrEndOfStream
}

// readLoopSequential advances a pointer that wraps around the full stream
// list, skipping any stream already marked exhausted, per the ReadLoop-only
// row of Reader's table.
func (r *Reader) readLoopSequential() (record.Record, error) {
	n := len(r.subs)
	for lap := 0; lap < n; {
		sub := r.subs[r.pos]
		if sub.exhausted {
			r.pos = (r.pos + 1) % n
			lap++
			continue
		}
		rec, err := sub.next()
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, errs.ErrEndOfStream) {
			return record.Record{}, err
		}
		sub.exhausted = true
		lap = 0
	}
	return record.Record{}, errs.ErrEndOfStream
}

func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var closeErrs []error
	for _, sub := range r.subs {
		if sub == nil || sub.in == nil {
			continue
		}
		if err := sub.in.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("striper: closing stream: %w", err))
		}
	}
	iosched.Release()
	return errors.Join(closeErrs...)
}
