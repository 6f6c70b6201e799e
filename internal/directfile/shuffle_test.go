package directfile

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"striper/internal/errs"
	"striper/internal/record"
)

// writeSerialFile writes n single-record containers with serials 0..n-1
// into a fresh DirectFile at path.
func writeSerialFile(t *testing.T, path string, n int) {
	f := openWriteOrSkip(t, path, 0)
	for i := 0; i < n; i++ {
		buf, sz := packedRecord(t, 4096, record.Record{
			Meta:  record.Meta{Label: int32(i), Serial: int32(i)},
			Image: make([]byte, 100+i),
		})
		require.NoError(t, f.WriteFree(buf, sz))
	}
	require.NoError(t, f.Close())
}

// readSerials drains every container of the DirectFile at path and returns
// the serial of every record, in file order.
func readSerials(t *testing.T, path string) []int32 {
	f, err := OpenRead(path)
	require.NoError(t, err)
	defer f.Close()

	var serials []int32
	for {
		buf, sz, err := f.AllocRead()
		if errors.Is(err, errs.ErrEndOfStream) {
			return serials
		}
		require.NoError(t, err)
		c, err := record.FromBuffer(buf, sz, 0)
		require.NoError(t, err)
		for i := 0; i < c.Size(); i++ {
			serials = append(serials, c.At(i).Meta.Serial)
		}
	}
}

// TestShufflePreservesRecordMultiset: shuffling a file yields an output
// whose multiset of records equals the input's.
func TestShufflePreservesRecordMultiset(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in")
	outPath := filepath.Join(dir, "out")

	const n = 40
	writeSerialFile(t, inPath, n)
	require.NoError(t, Shuffle(inPath, outPath, rand.New(rand.NewSource(11))))

	got := readSerials(t, outPath)
	require.Len(t, got, n)
	seen := make(map[int32]bool)
	for _, s := range got {
		require.False(t, seen[s], "serial %d duplicated by shuffle", s)
		seen[s] = true
	}
}

func TestShuffleRefusesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in")
	writeSerialFile(t, inPath, 3)

	// Shuffling onto the input path itself must fail on CREATE|EXCL.
	err := Shuffle(inPath, inPath, rand.New(rand.NewSource(1)))
	require.Error(t, err)
}
