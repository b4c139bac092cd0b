package storage

import "github.com/pkg/errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrIDCollision = errors.New("record id already used by a different record")
)
