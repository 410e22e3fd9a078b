package parking

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// SessionStore is the durable record of sessions. Every call must be
// idempotent by session id; the engine retries them outside its locks.
type SessionStore interface {
	InsertSession(ctx context.Context, s Session) error
	CompleteSession(ctx context.Context, sessionID string, fee float64, exitTime time.Time) error
	ListOpenSessions(ctx context.Context) ([]Session, error)
	// ListClosedSince returns sessions closed at or after since.
	ListClosedSince(ctx context.Context, since time.Time) ([]Session, error)
}

// Observer is told about session changes after they are stored. Errors are
// logged and otherwise ignored.
type Observer interface {
	SessionOpened(ctx context.Context, s Session) error
	SessionClosed(ctx context.Context, s Session) error
}

type discardStore struct{}

func (discardStore) InsertSession(context.Context, Session) error { return nil }

func (discardStore) CompleteSession(context.Context, string, float64, time.Time) error { return nil }

func (discardStore) ListOpenSessions(context.Context) ([]Session, error) { return nil, nil }

func (discardStore) ListClosedSince(context.Context, time.Time) ([]Session, error) { return nil, nil }

type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (p RetryPolicy) do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(tries),
	)
	return err
}

// syncSession writes the session's current state: the insert for every
// session, then the completion for a closed one.
func syncSession(ctx context.Context, store SessionStore, s Session) error {
	if err := store.InsertSession(ctx, s); err != nil {
		return err
	}
	if s.IsOpen() || s.ExitTime == nil {
		return nil
	}
	return store.CompleteSession(ctx, s.ID, s.Fee, *s.ExitTime)
}
