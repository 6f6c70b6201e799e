package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainerAddPackLoadRoundTrip(t *testing.T) {
	c, err := Empty(4096)
	require.NoError(t, err)

	recs := []Record{
		{Meta: Meta{Label: 1, Serial: 1}, Image: []byte("aaa")},
		{Meta: Meta{Label: 2, Serial: 2}, Image: []byte("bbbbb"), Extra: []byte("x")},
	}
	for _, r := range recs {
		ok, err := c.Add(r)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 2, c.Size())

	buf, sz, err := c.Pack()
	require.NoError(t, err)
	require.Equal(t, 0, sz%IOBlockSize)

	loaded, err := FromBuffer(buf, sz, 0)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Size())
	for i, r := range recs {
		require.Equal(t, r.Meta, loaded.At(i).Meta)
		require.Equal(t, r.Image, loaded.At(i).Image)
	}
}

func TestContainerAddReturnsFalseWhenFull(t *testing.T) {
	c, err := Empty(IOBlockSize)
	require.NoError(t, err)

	rec := Record{Meta: Meta{Label: 1, Serial: 1}, Image: make([]byte, 1024)}
	ok, err := c.Add(rec)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFromBufferDetectsCRCMismatch(t *testing.T) {
	c, err := Empty(4096)
	require.NoError(t, err)
	ok, err := c.Add(Record{Meta: Meta{Label: 1, Serial: 1}, Image: []byte("hello")})
	require.NoError(t, err)
	require.True(t, ok)

	buf, sz, err := c.Pack()
	require.NoError(t, err)
	buf[containerHeaderSize] ^= 0xFF // corrupt first data byte

	_, err = FromBuffer(buf, sz, 0)
	require.Error(t, err)
}

func TestFromBufferSkipsCRCWhenDisabled(t *testing.T) {
	c, err := Empty(4096)
	require.NoError(t, err)
	ok, err := c.Add(Record{Meta: Meta{Label: 1, Serial: 1}, Image: []byte("hello")})
	require.NoError(t, err)
	require.True(t, ok)
	buf, sz, err := c.Pack()
	require.NoError(t, err)
	buf[containerHeaderSize+headerSize] ^= 0xFF // corrupt first image byte, leaving the magic intact

	SetCRCVerification(false)
	defer SetCRCVerification(true)

	loaded, err := FromBuffer(buf, sz, 0)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Size())
}

func TestFromBufferExtendGrowsBuffer(t *testing.T) {
	c, err := Empty(IOBlockSize * 2)
	require.NoError(t, err)
	ok, err := c.Add(Record{Meta: Meta{Label: 1, Serial: 1}, Image: []byte("hello")})
	require.NoError(t, err)
	require.True(t, ok)
	buf, sz, err := c.Pack()
	require.NoError(t, err)

	grown, err := FromBuffer(buf, sz, sz+2*IOBlockSize)
	require.NoError(t, err)
	require.Equal(t, 1, grown.Size())

	// The extended container has room for records the original didn't.
	ok, err = grown.Add(Record{Meta: Meta{Label: 2, Serial: 2}, Image: make([]byte, IOBlockSize)})
	require.NoError(t, err)
	require.True(t, ok)

	repacked, rsz, err := grown.Pack()
	require.NoError(t, err)
	reloaded, err := FromBuffer(repacked, rsz, 0)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Size())
	require.Equal(t, int32(2), reloaded.At(1).Meta.Serial)
}

func TestPackDetachesBuffer(t *testing.T) {
	c, err := Empty(4096)
	require.NoError(t, err)
	_, _, err = c.Pack()
	require.NoError(t, err)

	_, _, err = c.Pack()
	require.Error(t, err)
}
