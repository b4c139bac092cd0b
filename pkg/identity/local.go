package identity

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

// Local is an identity owned by this node
type Local struct {
	Username string
	DeviceID uint32

	private [curve25519.ScalarSize]byte
	public  [curve25519.PointSize]byte
}

// Generate creates a fresh curve25519 key pair and device id
func Generate(rand io.Reader, username string) (*Local, error) {
	var seed [curve25519.ScalarSize + 4]byte
	if _, err := io.ReadFull(rand, seed[:]); err != nil {
		return nil, errors.Wrap(err, "reading key material")
	}

	l, err := FromPrivateKey(username, binary.BigEndian.Uint32(seed[curve25519.ScalarSize:]), seed[:curve25519.ScalarSize])
	if err != nil {
		return nil, err
	}

	return l, nil
}

func FromPrivateKey(username string, deviceID uint32, priv []byte) (*Local, error) {
	if len(priv) != curve25519.ScalarSize {
		return nil, errors.Errorf("private key is %d bytes", len(priv))
	}

	l := &Local{Username: username, DeviceID: deviceID}
	copy(l.private[:], priv)

	// clamp
	l.private[0] &= 248
	l.private[31] &= 127
	l.private[31] |= 64

	pub, err := curve25519.X25519(l.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "deriving public key")
	}
	copy(l.public[:], pub)

	if err := l.Announcement().validate(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Local) PrivateKey() []byte {
	return l.private[:]
}

func (l *Local) PublicKey() []byte {
	return l.public[:]
}

// IdentityKey is the public key with its type prefix
func (l *Local) IdentityKey() [KeySize]byte {
	var k [KeySize]byte
	k[0] = djbType
	copy(k[1:], l.public[:])
	return k
}

func (l *Local) Announcement() *Announcement {
	return &Announcement{
		Username: l.Username,
		DeviceID: l.DeviceID,
		Key:      l.IdentityKey(),
	}
}
