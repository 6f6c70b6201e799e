package stream

import (
	"errors"

	"striper/internal/directfile"
	"striper/internal/errs"
	"striper/internal/iosched"
	"striper/internal/record"
)

// InputStream reads a directory of DirectFiles named 0, 1, 2, ... in
// ascending order, with at most one container's worth of I/O outstanding
// at a time via a single-slot prefetch pipeline.
type InputStream struct {
	dir    string
	sched  *iosched.Scheduler
	device int
	loop   bool

	ids   []int
	index int
	file  *directfile.DirectFile

	pending *iosched.Future
	slotBuf []byte
	slotSz  int
	slotErr error
}

// NewInputStream opens dir for reading. When loop is true, exhausting the
// last file rewinds to the first instead of raising errs.ErrEndOfStream.
func NewInputStream(dir string, sched *iosched.Scheduler, loop bool) (*InputStream, error) {
	ids, err := listFileIDs(dir)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, &errs.CorruptData{Path: dir, Reason: "stream directory has no files"}
	}
	dev, err := sched.DeviceFor(dir)
	if err != nil {
		return nil, err
	}
	s := &InputStream{dir: dir, sched: sched, device: dev, loop: loop, ids: ids}
	s.pending = sched.Schedule(dev, s.prefetch)
	return s, nil
}

func (s *InputStream) Dir() string { return s.dir }
func (s *InputStream) Device() int { return s.device }

// prefetch runs on the stream's device worker. It opens the next file as
// needed, reads one container's worth of bytes into the slot, and rolls
// over to subsequent files on errs.ErrEndOfStream.
func (s *InputStream) prefetch() error {
	for i := 0; i <= len(s.ids); i++ {
		if s.file == nil {
			if s.index >= len(s.ids) {
				if s.loop {
					s.index = 0
				} else {
					s.slotBuf, s.slotSz, s.slotErr = nil, 0, errs.ErrEndOfStream
					return nil
				}
			}
			f, err := directfile.OpenRead(filePath(s.dir, s.ids[s.index]))
			if err != nil {
				return err
			}
			s.index++
			s.file = f
		}
		buf, sz, err := s.file.AllocRead()
		if err == nil {
			s.slotBuf, s.slotSz, s.slotErr = buf, sz, nil
			return nil
		}
		if errors.Is(err, errs.ErrEndOfStream) {
			_ = s.file.Close()
			s.file = nil
			continue
		}
		return err
	}
	s.slotBuf, s.slotSz, s.slotErr = nil, 0, errs.ErrEndOfStream
	return nil
}

// Read awaits the pending prefetch, wraps the filled buffer in a new
// Container, immediately reschedules the next prefetch, and returns the
// container. It returns errs.ErrEndOfStream when the stream (and, in loop
// mode, every rewind) is exhausted.
func (s *InputStream) Read() (*record.Container, error) {
	if err := s.pending.Wait(); err != nil {
		return nil, err
	}
	buf, sz, err := s.slotBuf, s.slotSz, s.slotErr
	s.slotBuf, s.slotSz, s.slotErr = nil, 0, nil
	if err != nil {
		return nil, err
	}
	s.pending = s.sched.Schedule(s.device, s.prefetch)

	c, err := record.FromBuffer(buf, sz, 0)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Ping lists the sorted file ids in the stream's directory without opening
// any of them for sequential reads.
func Ping(dir string) ([]int, error) {
	return listFileIDs(dir)
}

// Rewind closes the currently open file, if any, resets the stream to its
// first file, and reschedules a fresh prefetch, so a fully drained,
// non-looping stream can be read again without reopening it.
func (s *InputStream) Rewind() error {
	if err := s.pending.Wait(); err != nil && !errors.Is(err, errs.ErrEndOfStream) {
		return err
	}
	s.slotBuf, s.slotSz, s.slotErr = nil, 0, nil
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return err
		}
		s.file = nil
	}
	s.index = 0
	s.pending = s.sched.Schedule(s.device, s.prefetch)
	return nil
}

// Close waits for any outstanding prefetch and closes the currently open
// file, if any.
func (s *InputStream) Close() error {
	_ = s.pending.Wait()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
