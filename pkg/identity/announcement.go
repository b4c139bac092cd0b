package identity

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/multiformats/go-multibase"
	"github.com/pkg/errors"

	"github.com/tcfw/noise/pkg/message"
)

const (
	// DefaultZeroBits is the difficulty identity announcements are signed at
	DefaultZeroBits = 22

	MinUsernameLen = 5
	MaxUsernameLen = 31

	KeySize = 33

	// djbType prefixes a serialized curve25519 public key
	djbType = 0x05
)

var (
	// AnnouncementType tags identity announcement records
	AnnouncementType = uuid.MustParse("2273200d-3560-4275-adfc-090ba13954d8")

	ErrInvalidUsername = errors.New("username must be 5 to 31 bytes of utf-8")
	ErrInvalidKey      = errors.New("identity key must be a 0x05 prefixed curve25519 key")
)

var _ message.Typed = (*Announcement)(nil)

// Announcement is a remote identity as seen in a stored record
type Announcement struct {
	id message.ID

	Username string
	DeviceID uint32
	Key      [KeySize]byte
}

func (a *Announcement) PublicType() uuid.UUID {
	return AnnouncementType
}

func (a *Announcement) RecordID() message.ID {
	return a.id
}

// PublicKey is the raw curve25519 key without its type prefix
func (a *Announcement) PublicKey() []byte {
	return a.Key[1:]
}

// EncodedKey renders the identity key as base58btc multibase
func (a *Announcement) EncodedKey() string {
	// only fails for unknown encodings
	s, _ := multibase.Encode(multibase.Base58BTC, a.Key[:])
	return s
}

func (a *Announcement) validate() error {
	if n := len(a.Username); n < MinUsernameLen || n > MaxUsernameLen || !utf8.ValidString(a.Username) {
		return ErrInvalidUsername
	}
	if a.Key[0] != djbType {
		return ErrInvalidKey
	}
	return nil
}

func (a *Announcement) Marshal() ([]byte, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}

	b := make([]byte, 0, 1+len(a.Username)+4+KeySize)
	b = append(b, byte(len(a.Username)))
	b = append(b, a.Username...)
	var dev [4]byte
	binary.BigEndian.PutUint32(dev[:], a.DeviceID)
	b = append(b, dev[:]...)
	b = append(b, a.Key[:]...)

	return b, nil
}

// UnmarshalAnnouncement reads an announcement from the front of a record
// payload; trailing padding is ignored
func UnmarshalAnnouncement(p []byte) (*Announcement, error) {
	if len(p) < 1 {
		return nil, errors.New("empty announcement")
	}

	n := int(p[0])
	if n < MinUsernameLen || n > MaxUsernameLen {
		return nil, ErrInvalidUsername
	}

	if len(p) < 1+n+4+KeySize {
		return nil, errors.Errorf("announcement truncated at %d bytes", len(p))
	}

	a := &Announcement{
		Username: string(p[1 : 1+n]),
		DeviceID: binary.BigEndian.Uint32(p[1+n:]),
	}
	copy(a.Key[:], p[1+n+4:])

	if err := a.validate(); err != nil {
		return nil, err
	}

	return a, nil
}

// Codec builds the registry entry for identity announcements
func Codec() message.TypeCodec {
	return message.TypeCodec{
		Name: "identity",
		Decode: func(r *message.Record) (message.Typed, error) {
			a, err := UnmarshalAnnouncement(r.Payload[:])
			if err != nil {
				return nil, err
			}
			a.id = r.ID()
			return a, nil
		},
		Encode: func(t message.Typed) ([]byte, error) {
			a, ok := t.(*Announcement)
			if !ok {
				return nil, errors.Errorf("expected identity announcement, got %T", t)
			}
			return a.Marshal()
		},
	}
}

func Register(reg *message.Registry) error {
	return reg.Register(AnnouncementType, Codec())
}
