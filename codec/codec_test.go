package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type inner struct {
	A uint32
	B []byte
}

type outer struct {
	Flag  bool
	Day   uint64
	Index uint16
	Raw   [32]byte
	Items []inner
	Name  string
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := outer{
		Flag:  true,
		Day:   12345,
		Index: 7,
		Items: []inner{{A: 1, B: []byte{0xde, 0xad}}, {A: 2, B: nil}},
		Name:  "conductor",
	}
	in.Raw[0] = 0xff
	in.Raw[31] = 0x01

	enc, err := Encode(in)
	require.NoError(t, err)

	var out outer
	require.NoError(t, Decode(enc, &out))
	require.Equal(t, in.Flag, out.Flag)
	require.Equal(t, in.Day, out.Day)
	require.Equal(t, in.Index, out.Index)
	require.Equal(t, in.Raw, out.Raw)
	require.Equal(t, in.Name, out.Name)
	require.Len(t, out.Items, 2)
	require.Equal(t, in.Items[0].B, out.Items[0].B)
}

func TestEncodeDeterministic(t *testing.T) {
	in := outer{Day: 9, Items: []inner{{A: 3, B: []byte{1, 2, 3}}}}
	a := MustEncode(in)
	b := MustEncode(in)
	require.Equal(t, a, b)
}

func TestDecodeRejectsHugeLength(t *testing.T) {
	// u32 length prefix of 2^31-1 with no payload behind it
	enc := []byte{0xff, 0xff, 0xff, 0x7f}
	var out []byte

	err := Decode(enc, &out)
	require.Error(t, err)
}
