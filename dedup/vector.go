package dedup

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Normalize scales v to unit L2 length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) * inv)
	}
	return v
}

// Similarity is the dot product of two normalized vectors, clamped to [-1, 1].
// Vectors of different length are unrelated and score 0.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return math.Max(-1, math.Min(1, dot))
}

// Digest is the hex sha256 of the little-endian float32 encoding of v.
// It is the embedding anchor written into a registration box.
func Digest(v []float32) string {
	sum := DigestBytes(v)
	return hex.EncodeToString(sum[:])
}

// DigestBytes is the raw form of Digest.
func DigestBytes(v []float32) [sha256.Size]byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return sha256.Sum256(buf)
}
