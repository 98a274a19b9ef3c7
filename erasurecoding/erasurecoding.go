// Package erasurecoding fragments reliable-broadcast payloads with
// Reed-Solomon coding: n fragments, any k = n-2f reconstruct.
package erasurecoding

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/chorus-fed/conductor/common"
)

// Params fixes the coding geometry for a validator set of size n tolerating
// f faults.
type Params struct {
	N int // total fragments, one per validator
	F int // fault tolerance
	K int // reconstruction threshold, n - 2f
}

// NewParams validates and returns the coding geometry.
func NewParams(n, f int) (Params, error) {
	k := n - 2*f
	if n < 2 || f < 0 || k <= 0 {
		return Params{}, fmt.Errorf("invalid coding geometry n=%d f=%d", n, f)
	}
	return Params{N: n, F: f, K: k}, nil
}

// Encode splits the payload into p.N equal-size fragments, of which any p.K
// reconstruct the original. The payload length is embedded so Decode can
// strip shard padding.
func Encode(p Params, payload []byte) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	framed := make([]byte, 0, 4+len(payload))
	framed = append(framed, common.Uint32ToBytes(uint32(len(payload)))...)
	framed = append(framed, payload...)

	encoder, err := reedsolomon.New(p.K, p.N-p.K)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	shards, err := encoder.Split(framed)
	if err != nil {
		return nil, fmt.Errorf("failed to split data: %w", err)
	}
	if err := encoder.Encode(shards); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}
	return shards, nil
}

// Decode reconstructs the original payload from fragments. The slice must
// have length p.N with nil entries for missing fragments; at least p.K
// fragments must be present.
func Decode(p Params, fragments [][]byte) ([]byte, error) {
	if len(fragments) != p.N {
		return nil, errors.New("fragment count does not match coding geometry")
	}

	decoder, err := reedsolomon.New(p.K, p.N-p.K)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.ReconstructData(fragments); err != nil {
		return nil, fmt.Errorf("failed to reconstruct data: %w", err)
	}

	framed := common.ConcatenateByteSlices(fragments[:p.K])
	if len(framed) < 4 {
		return nil, errors.New("reconstructed data too short")
	}
	length := common.BytesToUint32(framed[:4])
	if int(length) > len(framed)-4 {
		return nil, errors.New("reconstructed length prefix out of range")
	}
	return framed[4 : 4+length], nil
}
