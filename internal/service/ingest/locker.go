package ingest

import (
	"context"

	"marketnotify/pkg/lock"
	"marketnotify/pkg/log"
)

// UserLocker serializes a user's batches across instances.
type UserLocker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

type redisUserLocker struct {
	locker *lock.Locker
}

// NewRedisUserLocker locks "<prefix><userID>" for the length of a batch.
func NewRedisUserLocker(locker *lock.Locker) UserLocker {
	return &redisUserLocker{locker: locker}
}

func (l *redisUserLocker) Lock(ctx context.Context, userID string) (func(), error) {
	held, err := l.locker.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := held.Unlock(context.Background()); err != nil {
			log.WithField("key", held.Key()).WithError(err).Warn("failed to release user lock")
		}
	}, nil
}
