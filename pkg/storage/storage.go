package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/tcfw/noise/pkg/message"
)

type SaveResult uint8

const (
	Stored SaveResult = iota + 1
	Duplicate
)

func (s SaveResult) String() string {
	switch s {
	case Stored:
		return "stored"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// RecordFunc is invoked once per record while walking a store. Returning
// an error stops the walk.
type RecordFunc func(*message.Record) error

// Store persists message records together with their typed projections
// and the bloom associations backing the membership digest.
type Store interface {
	CreateAndSign(ctx context.Context, payload []byte, zeroBits uint8, publicType uuid.UUID) (*message.Record, error)
	CreateTyped(ctx context.Context, t message.Typed, zeroBits uint8) (*message.Record, error)

	// Save validates and stores r. An exact duplicate is not an error; the
	// stored record is returned unchanged.
	Save(ctx context.Context, r *message.Record) (*message.Record, error)
	SaveStatus(ctx context.Context, r *message.Record) (*message.Record, SaveResult, error)

	Delete(ctx context.Context, r *message.Record) (bool, error)

	Get(ctx context.Context, id message.ID) (*message.Record, error)
	Typed(ctx context.Context, id message.ID) (message.Typed, error)
	Count(ctx context.Context) (int, error)

	Walk(ctx context.Context, fn RecordFunc) error
	WalkTyped(ctx context.Context, tag uuid.UUID, fn func(message.Typed) error) error

	Digest(ctx context.Context) (*Digest, error)

	// Query streams every record whose positions are all set in d
	Query(ctx context.Context, d *Digest, fn RecordFunc) error

	// Missing streams every record not fully covered by the remote digest
	Missing(ctx context.Context, remote *Digest, fn RecordFunc) error

	Registry() *message.Registry
	Close() error
}
