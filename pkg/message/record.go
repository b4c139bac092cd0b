package message

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
)

const (
	Version2 uint8 = 2

	// PayloadSize is the fixed payload length of every record on the wire
	PayloadSize = 240

	// EncodedSize is the length of an encoded record
	EncodedSize = 1 + 1 + 8 + PayloadSize + 4 + 16

	HashSize = sha256.Size
)

// OpaqueType marks a record with no typed interpretation
var OpaqueType = uuid.Nil

// ID is the local lookup key of a record, the low 8 bytes of its hash
type ID uint64

type Record struct {
	Version    uint8
	ZeroBits   uint8
	Timestamp  int64
	Payload    [PayloadSize]byte
	Counter    uint32
	PublicType uuid.UUID
}

// New builds an unsigned record. Payloads shorter than PayloadSize are
// padded with random bytes.
func New(payload []byte, zeroBits uint8, publicType uuid.UUID) (*Record, error) {
	if len(payload) > PayloadSize {
		return nil, ErrPayloadTooLarge
	}

	r := &Record{
		Version:    Version2,
		ZeroBits:   zeroBits,
		Timestamp:  time.Now().UnixMilli(),
		PublicType: publicType,
	}

	n := copy(r.Payload[:], payload)
	if n < PayloadSize {
		if _, err := rand.Read(r.Payload[n:]); err != nil {
			return nil, errors.Wrap(err, "padding payload")
		}
	}

	return r, nil
}

func (r *Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

func (r *Record) Hash() [HashSize]byte {
	var b [EncodedSize]byte
	r.put(b[:])
	return sha256.Sum256(b[:])
}

func (r *Record) ID() ID {
	h := r.Hash()
	return IDFromHash(h[:])
}

func IDFromHash(h []byte) ID {
	return ID(binary.BigEndian.Uint64(h[len(h)-8:]))
}

// Bytes returns the 8 byte big endian form used in store keys
func (id ID) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parsing message id")
	}
	return ID(v), nil
}

// CID is the content address of the record
func (r *Record) CID() (cid.Cid, error) {
	h := r.Hash()
	mh, err := multihash.Encode(h[:], multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}

	return cid.NewCidV1(cid.Raw, mh), nil
}

// Equal reports whether both records have byte identical encodings
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}

	var a, b [EncodedSize]byte
	r.put(a[:])
	o.put(b[:])
	return bytes.Equal(a[:], b[:])
}

func (r *Record) IsOpaque() bool {
	return r.PublicType == OpaqueType
}

func (r *Record) Copy() *Record {
	nr := *r
	return &nr
}
