package dataset

import (
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"striper/internal/directfile"
	"striper/internal/errs"
	"striper/internal/record"
	"striper/pkg/stream"
)

// skipIfNoDirectIO probes O_DIRECT support in dir (common on tmpfs-backed
// test temp directories) before a test commits to a full dataset layout,
// mirroring internal/directfile's openWriteOrSkip.
func skipIfNoDirectIO(t *testing.T, dir string) {
	probe := filepath.Join(dir, "probe")
	f, err := directfile.OpenWrite(probe, 0)
	if err != nil {
		if strings.Contains(err.Error(), "invalid argument") {
			t.Skipf("O_DIRECT unsupported on this filesystem: %v", err)
		}
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
}

func writeSerials(t *testing.T, dir string, geometry Geometry, flags Flags, n int) {
	w, err := Create(dir, geometry, flags)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := w.Write(record.Record{
			Meta:  record.Meta{Label: int32(i / 1000), Serial: int32(i)},
			Image: make([]byte, 4189),
			Extra: make([]byte, 523),
		})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

// TestWriteReadSequentialNoLoss: writing N records into a DataSet and
// reading it back sequentially with no flags yields the same multiset of
// serials, each seen exactly once.
func TestWriteReadSequentialNoLoss(t *testing.T) {
	base := t.TempDir()
	skipIfNoDirectIO(t, base)
	dir := filepath.Join(base, "ds")

	const n = 5000
	geometry := Geometry{NStream: 3, FileSize: 5 * 100 * 1000 * 1000, ContainerSize: 2 * 10 * 1000 * 1000}
	writeSerials(t, dir, geometry, 0, n)

	r, err := Open(dir, 0)
	require.NoError(t, err)
	defer r.Close()

	seen := make(map[int32]bool)
	for {
		rec, err := r.Read()
		if errors.Is(err, errs.ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		serial := rec.Meta.Serial
		require.False(t, seen[serial], "serial %d seen twice", serial)
		seen[serial] = true
	}
	require.Len(t, seen, n)
}

// TestRoundRobinDeterminism: with ReadRR, the i-th record of the first
// pass comes from stream i mod n_stream, so for i < n_stream the i-th
// record returned has serial == i whenever records were written in plain
// ascending stripe order.
func TestRoundRobinDeterminism(t *testing.T) {
	base := t.TempDir()
	skipIfNoDirectIO(t, base)
	dir := filepath.Join(base, "ds")

	const nStream = 4
	const n = 200
	geometry := Geometry{NStream: nStream, FileSize: 100 * 1000 * 1000, ContainerSize: 1 << 20}
	writeSerials(t, dir, geometry, 0, n)

	r, err := Open(dir, ReadRR)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < nStream; i++ {
		rec, err := r.Read()
		require.NoError(t, err)
		require.Equal(t, int32(i), rec.Meta.Serial)
	}
}

// TestRoundRobinLoopNeverExhausts: with ReadRR|ReadLoop, reading well
// past the dataset's total record count never raises
// errs.ErrEndOfStream, and each block of n records covers the full serial
// set exactly once.
func TestRoundRobinLoopNeverExhausts(t *testing.T) {
	base := t.TempDir()
	skipIfNoDirectIO(t, base)
	dir := filepath.Join(base, "ds")

	const nStream = 2
	const n = 100
	geometry := Geometry{NStream: nStream, FileSize: 100 * 1000 * 1000, ContainerSize: 1 << 20}
	writeSerials(t, dir, geometry, 0, n)

	r, err := Open(dir, ReadRR|ReadLoop)
	require.NoError(t, err)
	defer r.Close()

	for pass := 0; pass < 2; pass++ {
		seen := make(map[int32]bool)
		for i := 0; i < n; i++ {
			rec, err := r.Read()
			require.NoError(t, err)
			seen[rec.Meta.Serial] = true
		}
		require.Len(t, seen, n)
	}
}

// TestFileRolloverPreservesContent: with a file_size small enough that one
// stream needs several DirectFiles, the OutputStream must roll over to
// file 1, 2, ... transparently and the dataset still reads back with no
// loss.
func TestFileRolloverPreservesContent(t *testing.T) {
	base := t.TempDir()
	skipIfNoDirectIO(t, base)
	dir := filepath.Join(base, "ds")

	const n = 2000
	geometry := Geometry{NStream: 2, FileSize: 64 * 1024, ContainerSize: 8 * 1024}
	writeSerials(t, dir, geometry, 0, n)

	ids, err := stream.Ping(subDirPath(dir, 0))
	require.NoError(t, err)
	require.True(t, len(ids) > 1, "expected rollover to create more than one file, got %v", ids)

	r, err := Open(dir, 0)
	require.NoError(t, err)
	defer r.Close()

	seen := make(map[int32]bool)
	for {
		rec, err := r.Read()
		if errors.Is(err, errs.ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		seen[rec.Meta.Serial] = true
	}
	require.Len(t, seen, n)
}

// TestWriteShuffleStillLosesNothing: WriteShuffle only permutes which
// stream each record lands in, never the record set itself.
func TestWriteShuffleStillLosesNothing(t *testing.T) {
	base := t.TempDir()
	skipIfNoDirectIO(t, base)
	dir := filepath.Join(base, "ds")

	const n = 1000
	geometry := Geometry{NStream: 3, FileSize: 50 * 1000 * 1000, ContainerSize: 1 << 20}
	writeSerials(t, dir, geometry, WriteShuffle, n)

	r, err := Open(dir, 0)
	require.NoError(t, err)
	defer r.Close()

	seen := make(map[int32]bool)
	for {
		rec, err := r.Read()
		if errors.Is(err, errs.ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		seen[rec.Meta.Serial] = true
	}
	require.Len(t, seen, n)
}

// TestWriteRejectsRecordLargerThanContainer: a record whose storage size
// exceeds the container capacity can never be striped and must surface an
// error instead of flushing empty containers.
func TestWriteRejectsRecordLargerThanContainer(t *testing.T) {
	base := t.TempDir()
	skipIfNoDirectIO(t, base)
	dir := filepath.Join(base, "ds")

	w, err := Create(dir, Geometry{NStream: 1, FileSize: 0, ContainerSize: 1024}, 0)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write(record.Record{
		Meta:  record.Meta{Label: 0, Serial: 0},
		Image: make([]byte, 4096),
	})
	require.Error(t, err)
}

// TestRotatePreservesContent: rotating a DataSet into a new directory
// preserves the exact multiset of record serials, regardless of n_stream
// or internal shuffling.
func TestRotatePreservesContent(t *testing.T) {
	base := t.TempDir()
	skipIfNoDirectIO(t, base)
	inDir := filepath.Join(base, "in")
	outDir := filepath.Join(base, "out")

	const n = 3000
	geometry := Geometry{NStream: 3, FileSize: 50 * 1000 * 1000, ContainerSize: 1 << 20}
	writeSerials(t, inDir, geometry, 0, n)

	require.NoError(t, Rotate(inDir, outDir, 5, rand.New(rand.NewSource(7))))
	require.NoError(t, VerifyContent(inDir, outDir))
}

// TestVerifyContentDetectsMismatch exercises VerifyContent's failure path:
// two datasets with different serial multisets (0..9 versus 0..4) must not
// cancel to zero.
func TestVerifyContentDetectsMismatch(t *testing.T) {
	base := t.TempDir()
	skipIfNoDirectIO(t, base)
	dirA := filepath.Join(base, "a")
	dirB := filepath.Join(base, "b")

	geometry := Geometry{NStream: 1, FileSize: 50 * 1000 * 1000, ContainerSize: 1 << 20}
	writeSerials(t, dirA, geometry, 0, 10)
	writeSerials(t, dirB, geometry, 0, 5)

	err := VerifyContent(dirA, dirB)
	require.Error(t, err)
	var corrupt *errs.CorruptData
	require.ErrorAs(t, err, &corrupt)
}

// TestSampleListsEveryRecord checks that Sample's Locator count matches the
// number of records written, without requiring knowledge of internal
// striping order.
func TestSampleListsEveryRecord(t *testing.T) {
	base := t.TempDir()
	skipIfNoDirectIO(t, base)
	dir := filepath.Join(base, "ds")

	const n = 250
	geometry := Geometry{NStream: 2, FileSize: 50 * 1000 * 1000, ContainerSize: 1 << 20}
	writeSerials(t, dir, geometry, 0, n)

	locs, err := Sample(dir)
	require.NoError(t, err)
	require.Len(t, locs, n)
}
