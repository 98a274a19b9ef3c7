package common

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// ComputeHash computes the BLAKE2b-256 hash of the given data.
func ComputeHash(data []byte) []byte {
	hash := blake2b.Sum256(data)
	return hash[:]
}

// Blake2Hash hashes data and returns it as a Hash.
func Blake2Hash(data []byte) Hash {
	return BytesToHash(ComputeHash(data))
}

// Blake2HashConcat hashes the concatenation of the given byte slices.
func Blake2HashConcat(parts ...[]byte) Hash {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	return BytesToHash(h.Sum(nil))
}

// ComputeLeafHash hashes a merkle leaf prefixed with the bytes "leaf".
func ComputeLeafHash(data []byte) Hash {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("leaf"))
	h.Write(data)
	return Hash(h.Sum(nil))
}

func Uint64ToBytes(val uint64) []byte {
	bytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(bytes, val)
	return bytes
}

// Uint64ToBytesBE is used where the wire format calls for big-endian,
// e.g. day-seed derivation.
func Uint64ToBytesBE(val uint64) []byte {
	bytes := make([]byte, 8)
	binary.BigEndian.PutUint64(bytes, val)
	return bytes
}

func Uint32ToBytes(val uint32) []byte {
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, val)
	return bytes
}

func Uint16ToBytes(value uint16) []byte {
	bytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(bytes, value)
	return bytes
}

func BytesToUint64(data []byte) uint64 {
	if len(data) < 8 {
		panic("BytesToUint64: byte slice too short")
	}
	return binary.LittleEndian.Uint64(data)
}

func BytesToUint32(data []byte) uint32 {
	if len(data) < 4 {
		panic("BytesToUint32: byte slice too short")
	}
	return binary.LittleEndian.Uint32(data)
}

func IsNilHash(h Hash) bool {
	return h == Hash{}
}

// ConcatenateByteSlices joins the given slices into one buffer.
func ConcatenateByteSlices(slices [][]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range slices {
		out = append(out, s...)
	}
	return out
}
