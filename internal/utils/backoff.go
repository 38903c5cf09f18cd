package utils

import (
	"context"
	"time"
)

// Backoff retries an operation with exponentially growing pauses.
type Backoff struct {
	base       time.Duration
	maxRetries int
}

func NewBackoff(base time.Duration, maxRetries int) Backoff {
	return Backoff{base: base, maxRetries: maxRetries}
}

// Do calls fn until it succeeds or maxRetries extra attempts have failed,
// waiting base<<i between attempts. A cancelled ctx stops the loop and its
// error is returned. fn may return Permanent(err) to stop retrying at once.
func (b Backoff) Do(ctx context.Context, fn func(i int) error) error {
	var err error
	for i := 0; i <= b.maxRetries; i++ {
		err = fn(i)
		if err == nil {
			return nil
		}
		if p, ok := err.(permanent); ok {
			return p.err
		}
		if i == b.maxRetries {
			break
		}
		t := time.NewTimer(time.Duration(1<<i) * b.base)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }

// Permanent marks err as not worth retrying.
func Permanent(err error) error { return permanent{err: err} }
