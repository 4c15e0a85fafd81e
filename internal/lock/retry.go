package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/faults"
)

// ErrNotAcquired is matched by every AcquisitionError.
var ErrNotAcquired = errors.New("lock not acquired")

// AcquisitionError is returned when AcquireWithRetry runs out of attempts or time.
type AcquisitionError struct {
	Key      string
	Attempts int
	Elapsed  time.Duration
	Last     error // last transient or context error, if any
}

func (e *AcquisitionError) Error() string {
	msg := fmt.Sprintf("could not acquire lock %s after %d attempts in %s", e.Key, e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *AcquisitionError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrNotAcquired}
	}
	return []error{ErrNotAcquired, e.Last}
}

// Policy bounds AcquireWithRetry. Attempts below 1 means a single attempt; Wait of zero means
// no wall-clock bound beyond ctx.
type Policy struct {
	Attempts int
	Wait     time.Duration
}

// AcquireWithRetry calls Acquire until it succeeds, backing off with jitter between attempts.
// Transient store errors consume an attempt; any other store error aborts immediately.
// There is no queueing among waiters: whichever caller's conditional write lands first wins.
func (s *Service) AcquireWithRetry(ctx context.Context, key, owner string, ttl time.Duration, p Policy) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	start := s.nowFunc()
	var deadline time.Time
	if p.Wait > 0 {
		deadline = start.Add(p.Wait)
	}

	var (
		last  error
		tried int
	)
	for tried < attempts {
		tried++
		ok, err := s.Acquire(ctx, key, owner, ttl)
		switch {
		case err == nil && ok:
			if tried > 1 {
				s.logs.Debug("lock acquired after retry", zap.String("lock_key", key), zap.Int("attempt", tried))
			}
			return nil
		case err != nil && !faults.IsTransient(err):
			return err
		case err != nil:
			last = err
			s.logs.Warn("transient lock error", zap.String("lock_key", key), zap.Int("attempt", tried), zap.Error(err))
		}
		if tried == attempts {
			break
		}

		delay, derr := s.backoff.BackoffDelay(tried, err)
		if derr != nil {
			last = derr
			break
		}
		if !deadline.IsZero() {
			remaining := deadline.Sub(s.nowFunc())
			if remaining <= 0 {
				break
			}
			if delay > remaining {
				delay = remaining
			}
		}
		if err := s.sleep(ctx, delay); err != nil {
			last = err
			break
		}
	}

	return &AcquisitionError{
		Key:      key,
		Attempts: tried,
		Elapsed:  s.nowFunc().Sub(start),
		Last:     last,
	}
}
