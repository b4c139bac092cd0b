package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tcfw/noise/internal/metrics"
	"github.com/tcfw/noise/internal/utils/logging"
	"github.com/tcfw/noise/pkg/message"
	"github.com/tcfw/noise/pkg/storage"
)

var (
	_ storage.Store = (*PebbleStore)(nil)
)

const (
	cacheSize = 1 << 20 * 16

	idLen  = 8
	posLen = 4
)

type metadataKeyType byte

const (
	recordTPrefix metadataKeyType = iota + 1
	typedTPrefix
	bloomTPrefix
)

type typedRow struct {
	Type []byte `msgpack:"t"`
	Name string `msgpack:"n"`
	Data []byte `msgpack:"d"`
}

// PebbleStore keeps base records, typed projections and bloom
// associations in a single pebble keyspace. Every save and delete touches
// all three inside one batch.
type PebbleStore struct {
	db       *pebble.DB
	registry *message.Registry
	seen     *storage.SeenFilter
	logger   *logrus.Entry

	signWorkers int
	fs          vfs.FS

	// serialises duplicate checks with the writes that follow them
	mu sync.Mutex

	// last timestamp handed to a locally created record, unix millis
	lastCreated int64
}

type Option func(*PebbleStore) error

func WithRegistry(r *message.Registry) Option {
	return func(s *PebbleStore) error {
		s.registry = r
		return nil
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *PebbleStore) error {
		s.logger = l
		return nil
	}
}

func WithSignWorkers(n int) Option {
	return func(s *PebbleStore) error {
		s.signWorkers = n
		return nil
	}
}

// WithFS swaps the filesystem, mostly used for vfs.NewMem() in tests
func WithFS(fs vfs.FS) Option {
	return func(s *PebbleStore) error {
		s.fs = fs
		return nil
	}
}

func NewPebbleStore(ctx context.Context, path string, opts ...Option) (*PebbleStore, error) {
	s := &PebbleStore{
		logger: logging.Component("store"),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.registry == nil {
		s.registry = message.NewRegistry(s.logger)
	}

	db, err := openPebble(path, s.fs)
	if err != nil {
		return nil, errors.Wrap(err, "opening message store")
	}
	s.db = db

	if err := s.warmSeenFilter(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "loading seen filter")
	}

	return s, nil
}

func openPebble(path string, fs vfs.FS) (*pebble.DB, error) {
	c := pebble.NewCache(cacheSize)
	tc := pebble.NewTableCache(c, 16, 100)
	defer tc.Unref()
	defer c.Unref()

	return pebble.Open(path, &pebble.Options{Cache: c, TableCache: tc, FS: fs})
}

func (s *PebbleStore) warmSeenFilter(ctx context.Context) error {
	n, err := s.Count(ctx)
	if err != nil {
		return err
	}

	s.seen = storage.NewSeenFilter(uint(n*2 + storage.DefaultSeenEstimate))

	return s.Walk(ctx, func(r *message.Record) error {
		h := r.Hash()
		s.seen.Add(h[:])
		return nil
	})
}

func (s *PebbleStore) Registry() *message.Registry {
	return s.registry
}

func (s *PebbleStore) CreateAndSign(ctx context.Context, payload []byte, zeroBits uint8, publicType uuid.UUID) (*message.Record, error) {
	r, err := message.New(payload, zeroBits, publicType)
	if err != nil {
		return nil, err
	}

	// a full payload carries no random padding, so only the timestamp
	// keeps two creations apart
	r.Timestamp = s.nextTimestamp(r.Timestamp)

	start := time.Now()
	signed, err := message.Sign(ctx, r, s.signWorkers)
	if err != nil {
		return nil, errors.Wrap(err, "signing message")
	}
	took := time.Since(start)
	metrics.SignDuration.Observe(took.Seconds())

	s.logger.WithField("took", took).WithField("zeroBits", zeroBits).Debug("signed message")

	return s.Save(ctx, signed)
}

// nextTimestamp returns now, or one past the last created timestamp when
// the clock has not moved on
func (s *PebbleStore) nextTimestamp(now int64) int64 {
	for {
		last := atomic.LoadInt64(&s.lastCreated)
		ts := now
		if ts <= last {
			ts = last + 1
		}
		if atomic.CompareAndSwapInt64(&s.lastCreated, last, ts) {
			return ts
		}
	}
}

func (s *PebbleStore) CreateTyped(ctx context.Context, t message.Typed, zeroBits uint8) (*message.Record, error) {
	payload, err := s.registry.Encode(t)
	if err != nil {
		return nil, errors.Wrap(err, "encoding typed message")
	}

	return s.CreateAndSign(ctx, payload, zeroBits, t.PublicType())
}

func (s *PebbleStore) Save(ctx context.Context, r *message.Record) (*message.Record, error) {
	saved, _, err := s.SaveStatus(ctx, r)
	return saved, err
}

func (s *PebbleStore) SaveStatus(ctx context.Context, r *message.Record) (*message.Record, storage.SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	if !r.IsValid() {
		metrics.StoreSaved.WithLabelValues("invalid").Inc()
		return nil, 0, message.ErrInvalidMessage
	}

	h := r.Hash()
	id := message.IDFromHash(h[:])
	enc := r.Marshal()
	typed := s.registry.Decode(r)

	logger := s.logger.WithField("id", id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen.MaybeSeen(h[:]) {
		existing, err := s.get(id)
		if err == nil {
			if !bytes.Equal(existing.Marshal(), enc) {
				metrics.StoreSaved.WithLabelValues("error").Inc()
				return nil, 0, storage.ErrIDCollision
			}

			metrics.StoreSaved.WithLabelValues("duplicate").Inc()
			logger.Debug("skipped saving an existing message")
			return existing, storage.Duplicate, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			metrics.StoreSaved.WithLabelValues("error").Inc()
			return nil, 0, errors.Wrap(err, "checking for existing message")
		}
	}

	b := s.db.NewBatch()
	defer b.Close()

	if err := b.Set(recordKey(id), enc, nil); err != nil {
		return nil, 0, errors.Wrap(err, "staging record")
	}

	if typed != nil {
		row, err := s.marshalTyped(typed)
		if err != nil {
			// the record is still stored and forwarded as opaque
			logger.WithError(err).Warn("could not encode typed projection")
			typed = nil
		} else if err := b.Set(typedKey(id), row, nil); err != nil {
			return nil, 0, errors.Wrap(err, "staging typed projection")
		}
	}

	for _, p := range storage.Positions(r) {
		if err := b.Set(bloomKey(id, p), nil, nil); err != nil {
			return nil, 0, errors.Wrap(err, "staging bloom position")
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		metrics.StoreSaved.WithLabelValues("error").Inc()
		return nil, 0, errors.Wrap(err, "committing message")
	}

	s.seen.Add(h[:])
	metrics.StoreSaved.WithLabelValues("stored").Inc()

	if typed != nil {
		logger = logger.WithField("type", r.PublicType)
	}
	logger.Debug("saved a message")

	return r.Copy(), storage.Stored, nil
}

func (s *PebbleStore) marshalTyped(t message.Typed) ([]byte, error) {
	c, ok := s.registry.Lookup(t.PublicType())
	if !ok {
		return nil, errors.Errorf("type %s not registered", t.PublicType())
	}

	data, err := c.Encode(t)
	if err != nil {
		return nil, err
	}

	tag := t.PublicType()
	return msgpack.Marshal(&typedRow{Type: tag[:], Name: c.Name, Data: data})
}

// Delete removes the typed projection, the base record and its bloom
// associations together. Missing typed rows are ignored.
func (s *PebbleStore) Delete(ctx context.Context, r *message.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	id := r.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	b := s.db.NewBatch()
	defer b.Close()

	if err := b.Delete(typedKey(id), nil); err != nil {
		return false, errors.Wrap(err, "staging typed delete")
	}
	if err := b.Delete(recordKey(id), nil); err != nil {
		return false, errors.Wrap(err, "staging record delete")
	}
	lower, upper := bloomRange(id)
	if err := b.DeleteRange(lower, upper, nil); err != nil {
		return false, errors.Wrap(err, "staging bloom delete")
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return false, errors.Wrap(err, "committing delete")
	}

	s.logger.WithField("id", id).Debug("deleted a message")

	return true, nil
}

func (s *PebbleStore) Get(ctx context.Context, id message.ID) (*message.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.get(id)
}

func (s *PebbleStore) get(id message.ID) (*message.Record, error) {
	d, done, err := s.db.Get(recordKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "looking up record")
	}
	defer done.Close()

	r, err := message.Unmarshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "decoding stored record")
	}

	return r, nil
}

func (s *PebbleStore) Typed(ctx context.Context, id message.ID) (message.Typed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row, err := s.typedRow(id)
	if err != nil {
		return nil, err
	}

	r, err := s.get(id)
	if err != nil {
		return nil, errors.Wrap(err, "looking up base record of typed row")
	}

	return s.decodeTyped(r, row)
}

func (s *PebbleStore) typedRow(id message.ID) (*typedRow, error) {
	d, done, err := s.db.Get(typedKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "looking up typed row")
	}
	defer done.Close()

	row := &typedRow{}
	if err := msgpack.Unmarshal(d, row); err != nil {
		return nil, errors.Wrap(err, "unmarshalling typed row")
	}

	return row, nil
}

func (s *PebbleStore) decodeTyped(r *message.Record, row *typedRow) (message.Typed, error) {
	tag, err := uuid.FromBytes(row.Type)
	if err != nil {
		return nil, errors.Wrap(err, "parsing typed row tag")
	}

	if tag != r.PublicType {
		return nil, errors.Errorf("typed row tag %s does not match record type %s", tag, r.PublicType)
	}

	t := s.registry.Decode(r)
	if t == nil {
		return nil, errors.Errorf("type %s (%s) no longer decodes", tag, row.Name)
	}

	return t, nil
}

func (s *PebbleStore) WalkTyped(ctx context.Context, tag uuid.UUID, fn func(message.Typed) error) error {
	iter := s.db.NewIter(prefixIterOptions(typedTPrefix))
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		row := &typedRow{}
		if err := msgpack.Unmarshal(iter.Value(), row); err != nil {
			return errors.Wrap(err, "unmarshalling typed row")
		}

		if !bytes.Equal(row.Type, tag[:]) {
			continue
		}

		id := message.ID(binary.BigEndian.Uint64(iter.Key()[1:]))
		r, err := s.get(id)
		if err != nil {
			return errors.Wrap(err, "looking up base record of typed row")
		}

		t, err := s.decodeTyped(r, row)
		if err != nil {
			s.logger.WithError(err).WithField("id", id).Warn("skipping typed row")
			continue
		}

		if err := fn(t); err != nil {
			return err
		}
	}

	return iter.Error()
}

func (s *PebbleStore) Count(ctx context.Context) (int, error) {
	iter := s.db.NewIter(prefixIterOptions(recordTPrefix))
	defer iter.Close()

	var n int
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n++
	}

	return n, iter.Error()
}

func (s *PebbleStore) Walk(ctx context.Context, fn storage.RecordFunc) error {
	iter := s.db.NewIter(prefixIterOptions(recordTPrefix))
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		r, err := message.Unmarshal(iter.Value())
		if err != nil {
			return errors.Wrap(err, "decoding stored record")
		}

		if err := fn(r); err != nil {
			return err
		}
	}

	return iter.Error()
}

// Digest rebuilds the membership digest from the bloom associations
func (s *PebbleStore) Digest(ctx context.Context) (*storage.Digest, error) {
	d := storage.NewDigest()

	iter := s.db.NewIter(prefixIterOptions(bloomTPrefix))
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_, pos, err := splitBloomKey(iter.Key())
		if err != nil {
			return nil, err
		}
		d.Set(pos)
	}

	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "reading bloom index")
	}

	return d, nil
}

func (s *PebbleStore) Query(ctx context.Context, d *storage.Digest, fn storage.RecordFunc) error {
	return s.matching(ctx, d.ContainsAll, fn)
}

func (s *PebbleStore) Missing(ctx context.Context, remote *storage.Digest, fn storage.RecordFunc) error {
	return s.matching(ctx, func(pos []uint) bool {
		return !remote.ContainsAll(pos)
	}, fn)
}

// matching walks the bloom associations grouped by record and hands
// each record whose positions satisfy pred to fn, one at a time
func (s *PebbleStore) matching(ctx context.Context, pred func([]uint) bool, fn storage.RecordFunc) error {
	iter := s.db.NewIter(prefixIterOptions(bloomTPrefix))
	defer iter.Close()

	var (
		cur    message.ID
		have   bool
		pos    = make([]uint, 0, storage.NumHashes)
		emitFn = func(id message.ID) error {
			if !pred(pos) {
				return nil
			}

			r, err := s.get(id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil
				}
				return err
			}

			return fn(r)
		}
	)

	for iter.First(); iter.Valid(); iter.Next() {
		id, p, err := splitBloomKey(iter.Key())
		if err != nil {
			return err
		}

		if have && id != cur {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emitFn(cur); err != nil {
				return err
			}
			pos = pos[:0]
		}

		cur, have = id, true
		pos = append(pos, p)
	}

	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "reading bloom index")
	}

	if have {
		return emitFn(cur)
	}

	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func recordKey(id message.ID) []byte {
	return idKey(recordTPrefix, id)
}

func typedKey(id message.ID) []byte {
	return idKey(typedTPrefix, id)
}

func idKey(kType metadataKeyType, id message.ID) []byte {
	k := make([]byte, 1+idLen)
	k[0] = byte(kType)
	binary.BigEndian.PutUint64(k[1:], uint64(id))
	return k
}

func bloomKey(id message.ID, pos uint) []byte {
	k := make([]byte, 1+idLen+posLen)
	k[0] = byte(bloomTPrefix)
	binary.BigEndian.PutUint64(k[1:], uint64(id))
	binary.BigEndian.PutUint32(k[1+idLen:], uint32(pos))
	return k
}

func bloomRange(id message.ID) ([]byte, []byte) {
	lower := idKey(bloomTPrefix, id)
	upper := make([]byte, len(lower), len(lower)+1)
	copy(upper, lower)
	return lower, append(upper, 0xff, 0xff, 0xff, 0xff, 0xff)
}

func splitBloomKey(k []byte) (message.ID, uint, error) {
	if len(k) != 1+idLen+posLen {
		return 0, 0, errors.Errorf("malformed bloom key of %d bytes", len(k))
	}

	id := message.ID(binary.BigEndian.Uint64(k[1:]))
	pos := uint(binary.BigEndian.Uint32(k[1+idLen:]))

	return id, pos, nil
}

func prefixIterOptions(kType metadataKeyType) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: []byte{byte(kType)},
		UpperBound: []byte{byte(kType) + 1},
	}
}
