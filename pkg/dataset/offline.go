package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"os"

	"striper/internal/directfile"
	"striper/internal/errs"
	"striper/internal/record"
	"striper/pkg/stream"
)

// Rotate re-stripes the DataSet at inputDir across nStream streams, writing
// the result to outputDir (which must not already exist). If nStream is 0,
// the input's own stream count is kept. Every file from every input stream
// is assigned to an output stream round-robin in (stream, file) iteration
// order; assignment is planned purely on file identity, with no attempt to
// rebalance by record or byte count. An output stream that would receive no
// file is not created, so with fewer input files than nStream the output
// holds one stream per input file.
// Each assigned file is independently internally shuffled via
// directfile.Shuffle before being written to its output stream.
func Rotate(inputDir, outputDir string, nStream int, rng *rand.Rand) error {
	inIDs, err := listSubDirIDs(inputDir)
	if err != nil {
		return err
	}
	if nStream == 0 {
		nStream = len(inIDs)
	}
	if nStream == 0 {
		return &errs.CorruptData{Path: inputDir, Reason: "dataset directory has no streams"}
	}

	jobs := make([][]string, nStream)
	next := 0
	for _, st := range inIDs {
		stPath := subDirPath(inputDir, st)
		fileIDs, err := stream.Ping(stPath)
		if err != nil {
			return err
		}
		for _, f := range fileIDs {
			jobs[next] = append(jobs[next], filePathIn(stPath, f))
			next = (next + 1) % nStream
		}
	}

	if err := os.Mkdir(outputDir, 0755); err != nil {
		return fmt.Errorf("striper: creating rotate output directory: %w", err)
	}
	for i, paths := range jobs {
		if len(paths) == 0 {
			continue
		}
		stPath := subDirPath(outputDir, i)
		if err := os.Mkdir(stPath, 0755); err != nil {
			return fmt.Errorf("striper: creating rotate output stream directory: %w", err)
		}
		for j, path := range paths {
			outPath := filePathIn(stPath, j)
			if err := directfile.Shuffle(path, outPath, rng); err != nil {
				return err
			}
		}
	}
	return nil
}

func filePathIn(dir string, id int) string {
	return subDirPath(dir, id)
}

// countSerials drains path (opened as a plain sequential, non-looping
// Reader) and adds delta to a running per-serial tally.
func countSerials(path string, tally map[int32]int, delta int) error {
	r, err := Open(path, 0)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		rec, err := r.Read()
		if errors.Is(err, errs.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}
		tally[rec.Meta.Serial] += delta
	}
}

// VerifyContent checks that the two DataSets at path1 and path2 hold exactly
// the same multiset of record serials, regardless of how those records are
// distributed or ordered across streams. This is the check used to confirm Rotate
// preserved content. It returns a *errs.CorruptData error naming the first
// serial found with a non-zero net count, or nil if every serial cancels.
func VerifyContent(path1, path2 string) error {
	tally := make(map[int32]int)
	if err := countSerials(path1, tally, 1); err != nil {
		return err
	}
	if err := countSerials(path2, tally, -1); err != nil {
		return err
	}
	for serial, count := range tally {
		if count != 0 {
			return &errs.CorruptData{
				Path:   path1,
				Reason: fmt.Sprintf("serial %d count mismatch between datasets: net %d", serial, count),
			}
		}
	}
	return nil
}

// Sample walks the stream and file layout of the DataSet at dir, opening
// each DirectFile directly and reading and parsing every container rather
// than going through a Stream's prefetch pipeline, and returns a Locator for
// every record it finds. Container is the container's index within its
// file and Offset is the record's index within its container, both taken
// from the on-disk layout; the Locator a Writer hands back is a best-effort
// snapshot and can differ from these.
func Sample(dir string) ([]Locator, error) {
	streamIDs, err := listSubDirIDs(dir)
	if err != nil {
		return nil, err
	}
	var locs []Locator
	for _, st := range streamIDs {
		stPath := subDirPath(dir, st)
		fileIDs, err := stream.Ping(stPath)
		if err != nil {
			return nil, err
		}
		for _, f := range fileIDs {
			path := filePathIn(stPath, f)
			df, err := directfile.OpenRead(path)
			if err != nil {
				return nil, err
			}
			for container := 0; ; container++ {
				buf, sz, err := df.AllocRead()
				if errors.Is(err, errs.ErrEndOfStream) {
					break
				}
				if err != nil {
					_ = df.Close()
					return nil, err
				}
				c, err := record.FromBuffer(buf, sz, 0)
				if err != nil {
					_ = df.Close()
					return nil, err
				}
				for offset := 0; offset < c.Size(); offset++ {
					locs = append(locs, Locator{
						Stream:    uint32(st),
						File:      uint32(f),
						Container: uint32(container),
						Offset:    uint32(offset),
					})
				}
			}
			if err := df.Close(); err != nil {
				return nil, err
			}
		}
	}
	return locs, nil
}
