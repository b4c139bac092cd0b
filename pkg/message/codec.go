package message

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	offVersion   = 0
	offZeroBits  = 1
	offTimestamp = 2
	offPayload   = 10
	offCounter   = offPayload + PayloadSize
	offType      = offCounter + 4
)

func (r *Record) put(b []byte) {
	b[offVersion] = r.Version
	b[offZeroBits] = r.ZeroBits
	binary.BigEndian.PutUint64(b[offTimestamp:], uint64(r.Timestamp))
	copy(b[offPayload:offCounter], r.Payload[:])
	binary.BigEndian.PutUint32(b[offCounter:], r.Counter)
	copy(b[offType:], r.PublicType[:])
}

// Marshal encodes the record into its fixed size wire form
func (r *Record) Marshal() []byte {
	b := make([]byte, EncodedSize)
	r.put(b)
	return b
}

func (r *Record) WriteTo(w io.Writer) (int64, error) {
	var b [EncodedSize]byte
	r.put(b[:])

	n, err := w.Write(b[:])
	return int64(n), err
}

// Unmarshal decodes exactly EncodedSize bytes
func Unmarshal(b []byte) (*Record, error) {
	if len(b) < EncodedSize {
		return nil, ErrTruncatedStream
	}
	if len(b) > EncodedSize {
		return nil, errors.Errorf("record is %d bytes, expected %d", len(b), EncodedSize)
	}

	r := &Record{
		Version:   b[offVersion],
		ZeroBits:  b[offZeroBits],
		Timestamp: int64(binary.BigEndian.Uint64(b[offTimestamp:])),
		Counter:   binary.BigEndian.Uint32(b[offCounter:]),
	}
	copy(r.Payload[:], b[offPayload:offCounter])
	copy(r.PublicType[:], b[offType:EncodedSize])

	return r, nil
}

// ReadFrom reads a single record from the stream without validating it
func ReadFrom(rd io.Reader) (*Record, error) {
	var b [EncodedSize]byte
	if _, err := io.ReadFull(rd, b[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncatedStream
		}
		return nil, errors.Wrap(err, "reading record")
	}

	return Unmarshal(b[:])
}
