package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcfw/noise/pkg/message"
	"github.com/tcfw/noise/pkg/storage"
)

const testZeroBits = 8

var counterType = uuid.MustParse("6f0fb5cf-4c43-4c59-9a57-8c1c1f1b2e11")

type counterMsg struct {
	id    message.ID
	Value uint32
}

func (c *counterMsg) PublicType() uuid.UUID { return counterType }
func (c *counterMsg) RecordID() message.ID  { return c.id }

func counterCodec() message.TypeCodec {
	return message.TypeCodec{
		Name: "counter",
		Decode: func(r *message.Record) (message.Typed, error) {
			return &counterMsg{id: r.ID(), Value: binary.BigEndian.Uint32(r.Payload[:4])}, nil
		},
		Encode: func(t message.Typed) ([]byte, error) {
			c, ok := t.(*counterMsg)
			if !ok {
				return nil, errors.New("not a counter")
			}
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, c.Value)
			return b, nil
		},
	}
}

func newTestStore(t *testing.T) *PebbleStore {
	reg := message.NewRegistry(nil)
	if err := reg.Register(counterType, counterCodec()); err != nil {
		t.Fatal(err)
	}

	s, err := NewPebbleStore(context.Background(), "noise", WithFS(vfs.NewMem()), WithRegistry(reg), WithSignWorkers(2))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestCreateAndSign(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, err := s.CreateAndSign(ctx, []byte("This is a test message"), testZeroBits, message.OpaqueType)
	if err != nil {
		t.Fatal(err)
	}

	assert.True(t, r.IsValid())

	got, err := s.Get(ctx, r.ID())
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, r.Equal(got))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateAndSignPayloadTooLarge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateAndSign(ctx, make([]byte, message.PayloadSize+1), testZeroBits, message.OpaqueType)
	assert.ErrorIs(t, err, message.ErrPayloadTooLarge)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	d, err := s.Digest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), d.Count())
}

func TestSamePayloadTwiceIsTwoRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r1, err := s.CreateAndSign(ctx, []byte("again"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)
	r2, err := s.CreateAndSign(ctx, []byte("again"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)

	assert.NotEqual(t, r1.ID(), r2.ID())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFullPayloadTwiceIsTwoRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	payload := bytes.Repeat([]byte{0x42}, message.PayloadSize)

	ids := map[message.ID]struct{}{}
	for i := 0; i < 20; i++ {
		r1, err := s.CreateAndSign(ctx, payload, 0, message.OpaqueType)
		require.NoError(t, err)
		r2, err := s.CreateAndSign(ctx, payload, 0, message.OpaqueType)
		require.NoError(t, err)

		assert.False(t, r1.Equal(r2))
		ids[r1.ID()] = struct{}{}
		ids[r2.ID()] = struct{}{}
	}

	assert.Len(t, ids, 40)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
}

func TestNextTimestampIsMonotonic(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, int64(1000), s.nextTimestamp(1000))
	assert.Equal(t, int64(1001), s.nextTimestamp(1000))
	assert.Equal(t, int64(1002), s.nextTimestamp(999))
	assert.Equal(t, int64(5000), s.nextTimestamp(5000))
}

func TestCancelledScans(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateAndSign(context.Background(), []byte("scan"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Count(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Digest(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, err := s.CreateAndSign(ctx, []byte("dup"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)

	saved, res, err := s.SaveStatus(ctx, r.Copy())
	require.NoError(t, err)
	assert.Equal(t, storage.Duplicate, res)
	assert.True(t, r.Equal(saved))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSaveInvalid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, err := message.New([]byte("unsigned"), 32, message.OpaqueType)
	require.NoError(t, err)

	_, err = s.Save(ctx, r)
	assert.ErrorIs(t, err, message.ErrInvalidMessage)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDigestHasRecordBits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, err := s.CreateAndSign(ctx, []byte("bits"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)

	d, err := s.Digest(ctx)
	require.NoError(t, err)

	// positions may collide with each other
	expected := map[uint]struct{}{}
	for _, p := range storage.Positions(r) {
		expected[p] = struct{}{}
	}
	assert.Equal(t, uint(len(expected)+1), d.Count())
	assert.True(t, d.Contains(r))
}

func TestDeleteRemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, err := s.CreateTyped(ctx, &counterMsg{Value: 7}, testZeroBits)
	require.NoError(t, err)

	_, err = s.Typed(ctx, r.ID())
	require.NoError(t, err)

	ok, err := s.Delete(ctx, r)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Get(ctx, r.ID())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Typed(ctx, r.ID())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	d, err := s.Digest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), d.Count())

	ok, err = s.Delete(ctx, r)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r1, err := s.CreateAndSign(ctx, []byte("one"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)
	r2, err := s.CreateAndSign(ctx, []byte("two"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)

	d := storage.NewDigest()
	d.Add(r1)

	var found []message.ID
	err = s.Query(ctx, d, func(r *message.Record) error {
		found = append(found, r.ID())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []message.ID{r1.ID()}, found)

	//with any one of r1's bits missing nothing matches
	for _, p := range storage.Positions(r1) {
		flipped := storage.NewDigest()
		flipped.Add(r1)
		flipped.Flip(p)
		if flipped.Contains(r2) {
			continue
		}

		found = nil
		err = s.Query(ctx, flipped, func(r *message.Record) error {
			found = append(found, r.ID())
			return nil
		})
		require.NoError(t, err)
		assert.Empty(t, found, "position %d flipped", p)
	}
}

func TestMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r1, err := s.CreateAndSign(ctx, []byte("shared"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)
	r2, err := s.CreateAndSign(ctx, []byte("only here"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)

	remote := storage.NewDigest()
	remote.Add(r1)

	var found []message.ID
	err = s.Missing(ctx, remote, func(r *message.Record) error {
		found = append(found, r.ID())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []message.ID{r2.ID()}, found)
}

func TestUnknownTypeStoredOpaque(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, err := s.CreateAndSign(ctx, []byte("mystery"), testZeroBits, uuid.New())
	require.NoError(t, err)

	_, err = s.Get(ctx, r.ID())
	require.NoError(t, err)

	_, err = s.Typed(ctx, r.ID())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWalkTyped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateTyped(ctx, &counterMsg{Value: 1}, testZeroBits)
	require.NoError(t, err)
	_, err = s.CreateTyped(ctx, &counterMsg{Value: 2}, testZeroBits)
	require.NoError(t, err)
	_, err = s.CreateAndSign(ctx, []byte("opaque"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)

	sum := uint32(0)
	err = s.WalkTyped(ctx, counterType, func(tm message.Typed) error {
		sum += tm.(*counterMsg).Value
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), sum)
}

func TestConcurrentSaveSingleRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, err := message.New([]byte("race"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)
	r, err = message.Sign(ctx, r, 1)
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		stored int
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, res, err := s.SaveStatus(ctx, r.Copy())
			if err != nil {
				t.Error(err)
				return
			}
			if res == storage.Stored {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, stored)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReopenWarmsSeenFilter(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()

	s, err := NewPebbleStore(ctx, "noise", WithFS(fs))
	require.NoError(t, err)

	r, err := s.CreateAndSign(ctx, []byte("persisted"), testZeroBits, message.OpaqueType)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(ctx, "noise", WithFS(fs))
	require.NoError(t, err)
	defer s.Close()

	_, res, err := s.SaveStatus(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, storage.Duplicate, res)
}
