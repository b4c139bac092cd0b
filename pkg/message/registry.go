package message

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Typed is a structured interpretation of a record payload. It refers
// back to its base record by id rather than embedding it.
type Typed interface {
	PublicType() uuid.UUID
	RecordID() ID
}

// Decoder builds a typed projection from a base record
type Decoder func(*Record) (Typed, error)

// Encoder produces the unpadded payload of a typed message
type Encoder func(Typed) ([]byte, error)

type TypeCodec struct {
	Name   string
	Decode Decoder
	Encode Encoder
}

// Registry maps public type tags to their codecs
type Registry struct {
	mu     sync.RWMutex
	codecs map[uuid.UUID]TypeCodec
	logger *logrus.Entry
}

func NewRegistry(l *logrus.Entry) *Registry {
	if l == nil {
		l = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Registry{
		codecs: make(map[uuid.UUID]TypeCodec),
		logger: l.WithField("component", "registry"),
	}
}

func (reg *Registry) Register(tag uuid.UUID, c TypeCodec) error {
	if tag == OpaqueType {
		return errors.New("cannot register the opaque type")
	}
	if c.Decode == nil || c.Encode == nil {
		return errors.Errorf("type %s missing codec functions", tag)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.codecs[tag]; ok {
		return errors.Errorf("type %s already registered", tag)
	}
	reg.codecs[tag] = c

	return nil
}

func (reg *Registry) Lookup(tag uuid.UUID) (TypeCodec, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	c, ok := reg.codecs[tag]
	return c, ok
}

// Decode returns the typed projection of r, or nil when the type is
// unknown or the payload cannot be interpreted. Failures never propagate;
// the record is still stored and forwarded as opaque.
func (reg *Registry) Decode(r *Record) Typed {
	if reg == nil || r.IsOpaque() {
		return nil
	}

	c, ok := reg.Lookup(r.PublicType)
	if !ok {
		return nil
	}

	t, err := c.Decode(r)
	if err != nil {
		reg.logger.WithError(err).
			WithField("type", r.PublicType).
			WithField("codec", c.Name).
			Warn("could not decode typed message, keeping opaque")
		return nil
	}

	return t
}

// Encode produces the payload for a typed message through its registered codec
func (reg *Registry) Encode(t Typed) ([]byte, error) {
	c, ok := reg.Lookup(t.PublicType())
	if !ok {
		return nil, errors.Errorf("type %s not registered", t.PublicType())
	}

	return c.Encode(t)
}
