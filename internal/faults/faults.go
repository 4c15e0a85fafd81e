// Package faults classifies infrastructure errors into transient failures, which callers may
// retry with backoff, and permanent failures, which must not be retried.
package faults

import (
	"context"
	stderrors "errors"
	"net"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type transientError struct{ err error }

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf wraps err with a message and marks it retryable.
func Transientf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &transientError{err: errors.Wrapf(err, format, args...)}
}

// Permanent marks err as terminal. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return stderrors.As(err, &p)
}

var throttleCodes = map[string]struct{}{
	"ThrottlingException":                    {},
	"ProvisionedThroughputExceededException": {},
	"RequestLimitExceeded":                   {},
	"TransactionConflictException":           {},
	"InternalServerError":                    {},
	"ServiceUnavailable":                     {},
	"RequestThrottled":                       {},
}

// IsTransient reports whether err is worth retrying: explicitly marked errors, AWS SDK
// retryable errors and throttling codes, pgx errors that are safe to retry, and timeouts.
// Permanent marks win over everything else.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	var t *transientError
	if stderrors.As(err, &t) {
		return true
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if retry.IsErrorRetryables(retry.DefaultRetryables).IsErrorRetryable(err) == sdkaws.TrueTernary {
		return true
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		if _, ok := throttleCodes[apiErr.ErrorCode()]; ok {
			return true
		}
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
