package identity

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tcfw/noise/pkg/message"
	"github.com/tcfw/noise/pkg/storage"
)

// Announce signs and stores an announcement for l so it replicates to peers
func Announce(ctx context.Context, s storage.Store, l *Local, zeroBits uint8) (*message.Record, error) {
	if zeroBits == 0 {
		zeroBits = DefaultZeroBits
	}

	r, err := s.CreateTyped(ctx, l.Announcement(), zeroBits)
	if err != nil {
		return nil, errors.Wrap(err, "announcing identity")
	}

	return r, nil
}

// Remotes lists every identity announcement held by the store
func Remotes(ctx context.Context, s storage.Store) ([]*Announcement, error) {
	var ids []*Announcement

	err := s.WalkTyped(ctx, AnnouncementType, func(t message.Typed) error {
		a, ok := t.(*Announcement)
		if !ok {
			return errors.Errorf("unexpected typed message %T", t)
		}
		ids = append(ids, a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}
