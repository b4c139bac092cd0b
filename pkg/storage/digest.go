package storage

import (
	"crypto/sha256"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
	"github.com/tcfw/noise/pkg/message"
)

const (
	// DigestBits is the size of a membership digest in bits
	DigestBits = 1 << 20

	// positions are folded into [0, usableBits) so the last bit is free
	// to act as a sentinel keeping the serialized digest at full length
	usableBits = DigestBits - 1
	sentinel   = usableBits

	// NumHashes is the number of bits each record contributes
	NumHashes = 5

	DigestSize = DigestBits / 8
)

// Digest is the membership vector summarising the records held by a store.
// A set bit means a record may be present, a clear bit means it is not.
type Digest struct {
	bits *bitset.BitSet
}

func NewDigest() *Digest {
	d := &Digest{bits: bitset.New(DigestBits)}
	d.bits.Set(sentinel)
	return d
}

// Positions returns the NumHashes bit positions of a record
func Positions(r *message.Record) []uint {
	ph := sha256.Sum256(r.Payload[:])
	h1, h2 := murmur3.Sum128(ph[:])

	pos := make([]uint, NumHashes)
	for i := 0; i < NumHashes; i++ {
		pos[i] = nthHash(h1, h2, i)
	}

	return pos
}

func nthHash(h1, h2 uint64, n int) uint {
	v := (int64(h1) + int64(n)*int64(h2)) % usableBits
	if v < 0 {
		v += usableBits
	}
	return uint(v)
}

func (d *Digest) Set(pos uint) {
	d.bits.Set(pos)
}

func (d *Digest) Flip(pos uint) {
	d.bits.Flip(pos)
}

func (d *Digest) Test(pos uint) bool {
	return d.bits.Test(pos)
}

// Add contributes the positions of r
func (d *Digest) Add(r *message.Record) {
	d.AddPositions(Positions(r))
}

func (d *Digest) AddPositions(pos []uint) {
	for _, p := range pos {
		d.bits.Set(p)
	}
}

// ContainsAll applies the exact-K-hit rule to a set of positions
func (d *Digest) ContainsAll(pos []uint) bool {
	for _, p := range pos {
		if !d.bits.Test(p) {
			return false
		}
	}
	return true
}

// Contains reports whether r may be present under the digest
func (d *Digest) Contains(r *message.Record) bool {
	return d.ContainsAll(Positions(r))
}

// Count is the number of set bits, sentinel included
func (d *Digest) Count() uint {
	return d.bits.Count()
}

func (d *Digest) Clone() *Digest {
	return &Digest{bits: d.bits.Clone()}
}

func (d *Digest) Equal(o *Digest) bool {
	return d.bits.Equal(o.bits)
}

// SetPositions lists every set bit in ascending order
func (d *Digest) SetPositions() []uint {
	pos := make([]uint, 0, d.bits.Count())
	for i, ok := d.bits.NextSet(0); ok; i, ok = d.bits.NextSet(i + 1) {
		pos = append(pos, i)
	}
	return pos
}

// Difference holds the bits set locally but not in remote: positions
// belonging to records the remote side may lack
func Difference(local, remote *Digest) *Digest {
	return &Digest{bits: local.bits.Difference(remote.bits)}
}

// Marshal produces the DigestSize wire form, bit i stored as bit i%8 of byte i/8
func (d *Digest) Marshal() []byte {
	b := make([]byte, DigestSize)
	for i, ok := d.bits.NextSet(0); ok && i < DigestBits; i, ok = d.bits.NextSet(i + 1) {
		b[i/8] |= 1 << (i % 8)
	}
	return b
}

func UnmarshalDigest(b []byte) (*Digest, error) {
	if len(b) != DigestSize {
		return nil, errors.Errorf("digest is %d bytes, expected %d", len(b), DigestSize)
	}

	d := &Digest{bits: bitset.New(DigestBits)}
	for i, v := range b {
		if v == 0 {
			continue
		}
		for j := uint(0); j < 8; j++ {
			if v&(1<<j) != 0 {
				d.bits.Set(uint(i)*8 + j)
			}
		}
	}

	return d, nil
}
