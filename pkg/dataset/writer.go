package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"os"

	"striper/internal/iosched"
	"striper/internal/record"
	"striper/pkg/stream"
)

type writeSub struct {
	out       *stream.OutputStream
	container *record.Container
}

// Writer is a DataSet opened for writing: a directory holding
// Geometry.NStream subdirectories, each backed by an OutputStream, with
// writes striped across all of them.
type Writer struct {
	dir      string
	geometry Geometry
	flags    Flags
	sched    *iosched.Scheduler

	subs       []*writeSub
	writeIndex []int
	next       int
	rng        *rand.Rand

	closed bool
}

// Create creates dir and Geometry.NStream subdirectories under it, each
// backed by a fresh OutputStream. dir must not already exist.
func Create(dir string, geometry Geometry, flags Flags) (*Writer, error) {
	if err := geometry.validate(); err != nil {
		return nil, err
	}
	sched, err := iosched.Acquire()
	if err != nil {
		return nil, err
	}

	if err := os.Mkdir(dir, 0755); err != nil {
		iosched.Release()
		return nil, fmt.Errorf("striper: creating dataset directory: %w", err)
	}

	w := &Writer{
		dir:        dir,
		geometry:   geometry,
		flags:      flags,
		sched:      sched,
		writeIndex: make([]int, geometry.NStream),
		rng:        rand.New(rand.NewSource(1)),
	}
	for i := range w.writeIndex {
		w.writeIndex[i] = i
	}

	for i := 0; i < geometry.NStream; i++ {
		sub := subDirPath(dir, i)
		if err := os.Mkdir(sub, 0755); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("striper: creating stream directory: %w", err)
		}
		out, err := stream.NewOutputStream(sub, sched, geometry.FileSize)
		if err != nil {
			_ = w.Close()
			return nil, err
		}
		container, err := record.Empty(geometry.ContainerSize)
		if err != nil {
			_ = w.Close()
			return nil, err
		}
		w.subs = append(w.subs, &writeSub{out: out, container: container})
	}
	return w, nil
}

// Write stripes rec into the next stream in write order. It returns a
// Locator for the record: Stream and Offset are exact, while File and
// Container come from the OutputStream's Stats snapshot (the file open at
// the time and the number of containers flushed so far across all of the
// stream's files), so they are advisory.
func (w *Writer) Write(rec record.Record) (Locator, error) {
	idx := w.writeIndex[w.next]
	sub := w.subs[idx]

	for {
		fileID, containerID := sub.out.Stats()
		offset := sub.container.Size()

		ok, err := sub.container.Add(rec)
		if err != nil {
			return Locator{}, err
		}
		if ok {
			w.next++
			if w.next == len(w.subs) {
				w.next = 0
				if w.flags.has(WriteShuffle) {
					w.rng.Shuffle(len(w.writeIndex), func(i, j int) {
						w.writeIndex[i], w.writeIndex[j] = w.writeIndex[j], w.writeIndex[i]
					})
				}
			}
			return Locator{
				Stream:    uint32(idx),
				File:      uint32(fileID),
				Container: uint32(containerID),
				Offset:    uint32(offset),
			}, nil
		}

		// A record must fit an empty container of ContainerSize.
		if sub.container.Size() == 0 {
			return Locator{}, fmt.Errorf("striper: record storage size %d exceeds container capacity %d",
				rec.StorageSize(), w.geometry.ContainerSize)
		}
		if err := sub.out.Write(sub.container); err != nil {
			return Locator{}, err
		}
		fresh, err := record.Empty(w.geometry.ContainerSize)
		if err != nil {
			return Locator{}, err
		}
		sub.container = fresh
	}
}

// Close flushes every non-empty per-stream container, closes every
// OutputStream, and releases the scheduler reference.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var closeErrs []error
	for _, sub := range w.subs {
		if sub.container != nil && sub.container.Size() > 0 {
			if err := sub.out.Write(sub.container); err != nil {
				closeErrs = append(closeErrs, fmt.Errorf("striper: flushing stream: %w", err))
			}
			sub.container = nil
		}
		if err := sub.out.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("striper: closing stream: %w", err))
		}
	}
	iosched.Release()
	return errors.Join(closeErrs...)
}
