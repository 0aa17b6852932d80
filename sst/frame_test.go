package sst

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFrameRoundTrip checks property 2 from the design's testable
// properties: decode(encode(sid, p)) == (sid, p) for well-formed
// frames.
func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		sid     StreamID
		payload []byte
	}{
		{1, []byte("hello")},
		{0, []byte{1, 2, 3}},
		{maxStreamAllocations, bytes.Repeat([]byte{0xAB}, 4096)},
		{7, nil},
	}

	alloc := newChunkAllocator()
	for _, c := range cases {
		buf, err := encodeFrame(nil, c.sid, c.payload)
		require.NoError(t, err)

		r := bufio.NewReader(bytes.NewReader(buf))
		sid, payload, release, err := readFrame(r, 1<<26, alloc)
		require.NoError(t, err)
		require.Equal(t, c.sid, sid)
		require.Equal(t, c.payload, payload)
		release()
	}
}

// TestFrameRoundTripConcatenated checks that reassembly is
// idempotent under arbitrary chunking: several frames back to back on
// one reader decode in order regardless of how bufio fills its
// internal buffer.
func TestFrameRoundTripConcatenated(t *testing.T) {
	alloc := newChunkAllocator()
	var wire []byte
	want := []struct {
		sid     StreamID
		payload []byte
	}{
		{1, []byte("first")},
		{3, []byte("second")},
		{5, []byte("third")},
	}
	for _, w := range want {
		buf, err := encodeFrame(nil, w.sid, w.payload)
		require.NoError(t, err)
		wire = append(wire, buf...)
	}

	r := bufio.NewReaderSize(bytes.NewReader(wire), 1) // bufio's 16-byte minimum buffer: frames straddle refills
	for _, w := range want {
		sid, payload, release, err := readFrame(r, 1<<26, alloc)
		require.NoError(t, err)
		require.Equal(t, w.sid, sid)
		require.Equal(t, w.payload, payload)
		release()
	}
}

func TestEncodeFrameRejectsOversizePayload(t *testing.T) {
	_, err := encodeFrame(nil, 1, make([]byte, maxUint30))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	alloc := newChunkAllocator()
	r := bufio.NewReader(bytes.NewReader([]byte{0x00}))
	_, _, _, err := readFrame(r, 1<<26, alloc)
	require.ErrorIs(t, err, ErrBadLength)
}
