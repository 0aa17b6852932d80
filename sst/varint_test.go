package sst

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 2, 63, 64, 127, 128, 300, 1 << 20, 1<<30 - 1, 1 << 40, 1<<62 - 1}
	for _, v := range values {
		buf := putVarint(nil, v)
		require.LessOrEqual(t, len(buf), maxStreamIDBytes)

		r := bufio.NewReader(bytes.NewReader(buf))
		got, err := readVarint(r, maxStreamIDBytes)
		require.NoError(t, err)
		require.Equal(t, v, got)

		got2, n, err := decodeVarintBytes(buf, maxStreamIDBytes)
		require.NoError(t, err)
		require.Equal(t, v, got2)
		require.Equal(t, len(buf), n)
	}
}

func TestVarintLenMatchesEncoding(t *testing.T) {
	for _, v := range []uint64{0, 1, 200, 1 << 20, 1 << 40} {
		buf := putVarint(nil, v)
		require.Equal(t, len(buf), varintLen(v))
	}
}

func TestReadVarintRejectsUnterminated(t *testing.T) {
	// every byte has its continuation bit set: never terminates within maxBytes
	raw := bytes.Repeat([]byte{0xFF}, maxLengthBytes)
	r := bufio.NewReader(bytes.NewReader(raw))
	_, err := readVarint(r, maxLengthBytes)
	require.Error(t, err)
}
