package directfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"striper/internal/errs"
)

func TestDirectoryAppendAndRange(t *testing.T) {
	d := &directory{}
	off, err := d.append(1024, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(StorageSize), off)

	off, err = d.append(2048, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(StorageSize+1024), off)

	require.Equal(t, 2, d.entries())
	require.Equal(t, []int{1024, 2048}, d.sizes())
}

func TestDirectoryAppendEnforcesMaxSize(t *testing.T) {
	// max_size is an absolute end offset, so it must cover the 4096-byte
	// directory region plus the first container.
	d := &directory{}
	_, err := d.append(1024, StorageSize+1024)
	require.NoError(t, err)
	_, err = d.append(1, StorageSize+1024)
	require.ErrorIs(t, err, errs.ErrEndOfSpace)
}

func TestDirectoryAppendEnforcesEntryCap(t *testing.T) {
	d := &directory{}
	for i := 0; i < MaxEntries; i++ {
		_, err := d.append(1, 0)
		require.NoError(t, err)
	}
	_, err := d.append(1, 0)
	require.ErrorIs(t, err, errs.ErrEndOfSpace)
}

func TestDirectoryEncodeDecodeRoundTrip(t *testing.T) {
	d := &directory{ends: []uint64{5000, 9000, 20000}}
	buf := encodeDirectory(d)
	require.Len(t, buf, StorageSize)

	decoded, err := decodeDirectory(buf)
	require.NoError(t, err)
	require.Equal(t, d.ends, decoded.ends)
}

func TestDecodeDirectoryRejectsBadMagic(t *testing.T) {
	buf := make([]byte, StorageSize)
	_, err := decodeDirectory(buf)
	require.Error(t, err)
}
