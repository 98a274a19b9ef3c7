package erasurecoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p, err := NewParams(4, 1)
	require.NoError(t, err)
	require.Equal(t, 2, p.K)

	payload := bytes.Repeat([]byte("conductor"), 100)
	shards, err := Encode(p, payload)
	require.NoError(t, err)
	require.Len(t, shards, 4)

	out, err := Decode(p, shards)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecodeWithExactlyKFragments(t *testing.T) {
	p, _ := NewParams(4, 1)
	payload := []byte("exactly k of n fragments must reconstruct")

	shards, err := Encode(p, payload)
	require.NoError(t, err)

	// drop 2f fragments, keep exactly k
	shards[0] = nil
	shards[2] = nil
	out, err := Decode(p, shards)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecodeWithFewerThanKFails(t *testing.T) {
	p, _ := NewParams(4, 1)
	shards, err := Encode(p, []byte("not enough fragments"))
	require.NoError(t, err)

	shards[0] = nil
	shards[1] = nil
	shards[3] = nil
	_, err = Decode(p, shards)
	require.Error(t, err)
}

func TestInvalidGeometry(t *testing.T) {
	_, err := NewParams(3, 1) // k = 1 is allowed; n=2f is not
	require.NoError(t, err)
	_, err = NewParams(2, 1)
	require.Error(t, err)
	_, err = NewParams(0, 0)
	require.Error(t, err)
}

func TestLargerFederation(t *testing.T) {
	p, err := NewParams(7, 2)
	require.NoError(t, err)
	require.Equal(t, 3, p.K)

	payload := bytes.Repeat([]byte{0xab}, 4096)
	shards, err := Encode(p, payload)
	require.NoError(t, err)

	shards[1] = nil
	shards[4] = nil
	shards[5] = nil
	shards[6] = nil
	out, err := Decode(p, shards)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}
