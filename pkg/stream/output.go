package stream

import (
	"errors"
	"sync"

	"striper/internal/directfile"
	"striper/internal/errs"
	"striper/internal/iosched"
	"striper/internal/record"
)

// OutputStream writes Containers into a directory of DirectFiles named
// 0, 1, 2, ..., rolling over to a new file id whenever the current one
// reports end-of-space, via a single-slot flush pipeline.
type OutputStream struct {
	dir     string
	sched   *iosched.Scheduler
	device  int
	maxSize uint64

	nextID int
	file   *directfile.DirectFile

	pending  *iosched.Future
	slotBuf  []byte
	slotSize int

	containersWritten int

	// statsMu guards nextID and containersWritten, which flush (running on
	// the device worker goroutine) mutates and Stats (called from the
	// caller's goroutine, potentially while a flush is in flight) reads.
	statsMu sync.Mutex
}

// NewOutputStream prepares dir, which must already exist, to receive
// DirectFiles of at most maxSize bytes each. It does not create dir.
func NewOutputStream(dir string, sched *iosched.Scheduler, maxSize uint64) (*OutputStream, error) {
	dev, err := sched.DeviceFor(dir)
	if err != nil {
		return nil, err
	}
	return &OutputStream{dir: dir, sched: sched, device: dev, maxSize: maxSize}, nil
}

func (s *OutputStream) Dir() string { return s.dir }
func (s *OutputStream) Device() int { return s.device }

// Stats reports the id of the file currently (or, before the first flush,
// about to be) open for writing and the number of containers successfully
// flushed so far. It is a best-effort snapshot for offline tooling such as
// Locator reporting, not a precise synchronization point: a flush may be
// in flight on the device worker when Stats is called.
func (s *OutputStream) Stats() (fileID, containersWritten int) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	fileID = s.nextID
	if fileID > 0 {
		fileID--
	}
	return fileID, s.containersWritten
}

// Write awaits any previous flush, packs c's buffer into the flush slot,
// and schedules the flush task. c is empty and must not be reused after
// Write returns.
func (s *OutputStream) Write(c *record.Container) error {
	if s.pending != nil {
		if err := s.pending.Wait(); err != nil {
			return err
		}
	}
	buf, sz, err := c.Pack()
	if err != nil {
		return err
	}
	s.slotBuf, s.slotSize = buf, sz
	s.pending = s.sched.Schedule(s.device, s.flush)
	return nil
}

// flush runs on the stream's device worker. It opens the current file on
// first use, writes the packed buffer, and retries exactly once against a
// newly rolled-over file on errs.ErrEndOfSpace. A second failure is fatal.
func (s *OutputStream) flush() error {
	buf, sz := s.slotBuf, s.slotSize
	s.slotBuf, s.slotSize = nil, 0

	for attempt := 0; attempt < 2; attempt++ {
		if s.file == nil {
			s.statsMu.Lock()
			id := s.nextID
			s.statsMu.Unlock()
			f, err := directfile.OpenWrite(filePath(s.dir, id), s.maxSize)
			if err != nil {
				return err
			}
			s.statsMu.Lock()
			s.nextID++
			s.statsMu.Unlock()
			s.file = f
		}
		err := s.file.WriteFree(buf, sz)
		if err == nil {
			s.statsMu.Lock()
			s.containersWritten++
			s.statsMu.Unlock()
			return nil
		}
		if errors.Is(err, errs.ErrEndOfSpace) {
			_ = s.file.Close()
			s.file = nil
			continue
		}
		return err
	}
	return errs.ErrEndOfSpace
}

// Close awaits any outstanding flush and closes the currently open file, if
// any, which serializes its directory to disk.
func (s *OutputStream) Close() error {
	if s.pending != nil {
		if err := s.pending.Wait(); err != nil {
			return err
		}
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
