package identity

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/multiformats/go-multibase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	pebblestore "github.com/tcfw/noise/internal/storage"
	"github.com/tcfw/noise/pkg/message"
)

func TestAnnouncementRoundTrip(t *testing.T) {
	l, err := Generate(rand.Reader, "alice_w")
	if err != nil {
		t.Fatal(err)
	}

	b, err := l.Announcement().Marshal()
	if err != nil {
		t.Fatal(err)
	}

	assert.Len(t, b, 1+7+4+KeySize)
	assert.Equal(t, byte(7), b[0])
	assert.Equal(t, byte(djbType), b[1+7+4])

	//padding after the announcement is ignored
	padded := append(b, 0xde, 0xad)

	a, err := UnmarshalAnnouncement(padded)
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, l.Username, a.Username)
	assert.Equal(t, l.DeviceID, a.DeviceID)
	assert.Equal(t, l.PublicKey(), a.PublicKey())
}

func TestUsernameLength(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"abcd", false},
		{"abcde", true},
		{"abcdefghijabcdefghijabcdefghija", true},
		{"abcdefghijabcdefghijabcdefghijab", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Generate(rand.Reader, tc.name)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidUsername)
			}
		})
	}
}

func TestKeyAgreement(t *testing.T) {
	a, err := Generate(rand.Reader, "alice")
	require.NoError(t, err)
	b, err := Generate(rand.Reader, "bobby")
	require.NoError(t, err)

	ab, err := curve25519.X25519(a.PrivateKey(), b.Announcement().PublicKey())
	require.NoError(t, err)
	ba, err := curve25519.X25519(b.PrivateKey(), a.Announcement().PublicKey())
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
}

func TestCodecDecodesRecord(t *testing.T) {
	l, err := Generate(rand.Reader, "carol")
	require.NoError(t, err)

	p, err := l.Announcement().Marshal()
	require.NoError(t, err)

	r, err := message.New(p, 8, AnnouncementType)
	require.NoError(t, err)

	reg := message.NewRegistry(nil)
	require.NoError(t, Register(reg))

	typed := reg.Decode(r)
	if assert.NotNil(t, typed) {
		a := typed.(*Announcement)
		assert.Equal(t, "carol", a.Username)
		assert.Equal(t, r.ID(), a.RecordID())
	}

	//a corrupt key prefix leaves the record opaque
	r.Payload[1+5+4] = 0x00
	assert.Nil(t, reg.Decode(r))
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise", "identity.yaml")

	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	l, err := Generate(rand.Reader, "dave_")
	if err != nil {
		t.Fatal(err)
	}

	require.NoError(t, fs.Add(l))
	assert.Error(t, fs.Add(l))

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	got, err := reopened.Find("dave_")
	require.NoError(t, err)
	assert.Equal(t, l.PublicKey(), got.PublicKey())
	assert.Equal(t, l.DeviceID, got.DeviceID)
	assert.Len(t, reopened.List(), 1)
}

func TestAnnounceAndRemotes(t *testing.T) {
	ctx := context.Background()

	reg := message.NewRegistry(nil)
	require.NoError(t, Register(reg))

	s, err := pebblestore.NewPebbleStore(ctx, "noise", pebblestore.WithFS(vfs.NewMem()), pebblestore.WithRegistry(reg))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	l, err := Generate(rand.Reader, "erin_")
	require.NoError(t, err)

	r, err := Announce(ctx, s, l, 8)
	require.NoError(t, err)

	ids, err := Remotes(ctx, s)
	require.NoError(t, err)

	if assert.Len(t, ids, 1) {
		assert.Equal(t, "erin_", ids[0].Username)
		assert.Equal(t, r.ID(), ids[0].RecordID())
	}
}

func TestEncodedKey(t *testing.T) {
	l, err := Generate(rand.Reader, "frank")
	require.NoError(t, err)

	a := l.Announcement()
	s := a.EncodedKey()
	assert.Equal(t, byte('z'), s[0])

	_, raw, err := multibase.Decode(s)
	require.NoError(t, err)
	assert.Equal(t, a.Key[:], raw)
}
