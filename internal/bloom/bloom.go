// Package bloom implements the probabilistic set-membership filter used by
// each SST to reject point lookups for absent keys. It uses the
// Kirsch-Mitzenmacher double-hashing scheme: two 64-bit hashes, the xxhash
// digests of the key and of the key plus a salt byte, are combined to simulate
// k independent hash functions, avoiding k separate hash computations per
// key.
package bloom

import (
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/kamil-kielbasa/aeternusdb/internal/encoding"
)

// targetFalsePositiveRate is the design point (~1% FPR,
// ~10 bits per key).
const targetFalsePositiveRate = 0.01

// Filter is a fixed-size bit array plus a hash-function count.
type Filter struct {
	numBits   uint64
	numHashes uint32
	bits      []byte
}

// New builds a filter sized for expectedKeys entries at the target false
// positive rate. It contains no keys yet; call Add for each key before
// use.
func New(expectedKeys int) *Filter {
	if expectedKeys < 1 {
		expectedKeys = 1
	}
	numBits := optimalNumBits(expectedKeys, targetFalsePositiveRate)
	numHashes := optimalNumHashes(numBits, uint64(expectedKeys))
	return &Filter{
		numBits:   numBits,
		numHashes: numHashes,
		bits:      make([]byte, (numBits+7)/8),
	}
}

func optimalNumBits(n int, fpRate float64) uint64 {
	bits := -1.44 * float64(n) * math.Log2(fpRate)
	if bits < 8 {
		bits = 8
	}
	return uint64(math.Ceil(bits))
}

func optimalNumHashes(numBits uint64, n uint64) uint32 {
	if n == 0 {
		return 1
	}
	k := math.Round(float64(numBits) / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return uint32(k)
}

// hashPair derives two 64-bit hashes from two xxhash digests (of the key,
// and of the key plus a salt byte), per the Kirsch-Mitzenmacher construction: h_i(x) = h1(x) + i*h2(x).
func hashPair(key []byte) (h1, h2 uint64) {
	h1 = xxhash.Sum64(key)
	// A distinct seed for the second hash avoids h1 == h2 correlation;
	// mixing in a fixed salt byte is cheaper than hashing twice with two
	// different algorithms.
	h2 = xxhash.Sum64(append(append([]byte(nil), key...), 0x9e))
	return h1, h2
}

func (f *Filter) bitIndexes(key []byte) []uint64 {
	h1, h2 := hashPair(key)
	idx := make([]uint64, f.numHashes)
	for i := uint32(0); i < f.numHashes; i++ {
		combined := h1 + uint64(i)*h2
		idx[i] = combined % f.numBits
	}
	return idx
}

// Add marks key as present.
func (f *Filter) Add(key []byte) {
	for _, bit := range f.bitIndexes(key) {
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MayContain reports whether key is possibly present. False negatives are
// impossible; false positives occur at approximately the configured rate.
func (f *Filter) MayContain(key []byte) bool {
	if f == nil || len(f.bits) == 0 {
		return true
	}
	for _, bit := range f.bitIndexes(key) {
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// NumBits and NumHashes report the filter's tuning parameters, exposed
// primarily for tests and tooling.
func (f *Filter) NumBits() uint64   { return f.numBits }
func (f *Filter) NumHashes() uint32 { return f.numHashes }

// Encode serializes the filter as {num_bits: u64, num_hashes: u32,
// bit_array: bytes}.
func (f *Filter) Encode(e *encoding.Encoder) {
	e.PutUint64(f.numBits)
	e.PutUint32(f.numHashes)
	e.PutBytes(f.bits)
}

// Decode parses a filter previously written by Encode.
func Decode(d *encoding.Decoder) (*Filter, error) {
	numBits, err := d.Uint64()
	if err != nil {
		return nil, errors.Wrap(err, "bloom: decode num_bits")
	}
	numHashes, err := d.Uint32()
	if err != nil {
		return nil, errors.Wrap(err, "bloom: decode num_hashes")
	}
	bits, err := d.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "bloom: decode bit_array")
	}
	if numBits == 0 {
		return nil, errors.New("bloom: zero-size filter")
	}
	return &Filter{numBits: numBits, numHashes: numHashes, bits: bits}, nil
}
