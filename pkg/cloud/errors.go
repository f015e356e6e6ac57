package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Operations reported in OpError.
const (
	OpUpload   = "upload"
	OpDownload = "download"
	OpDelete   = "delete"
	OpQuota    = "quota"
	OpConnect  = "connect"
)

// OpError records a failed backend operation.
type OpError struct {
	Provider string
	Op       string
	Name     string // object name; empty for quota and connect
	Err      error
}

func (e *OpError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %s failed: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s failed: %v", e.Provider, e.Op, e.Name, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// WrapError builds an OpError, or returns nil if err is nil.
func WrapError(provider, op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Provider: provider, Op: op, Name: name, Err: err}
}

// RetryableError marks a transient failure (timeouts, throttling, 5xx) so
// that [Retry] attempts the operation again.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError. Retryable(nil) is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is, or wraps, a RetryableError.
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// Retry runs a backend operation until it succeeds, fails permanently, or
// has been tried attempts times. Only failures marked with [Retryable]
// (throttling, timeouts, provider-side 5xx) are tried again; an auth or
// not-found failure is returned at once so the manager can fail over. The
// wait starts at delay and doubles per attempt. Cancelling ctx ends the wait
// with ctx.Err().
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) || attempt >= attempts {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}

// RetryWithBackoff is [Retry] with 3 attempts and a 500ms initial delay.
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return Retry(ctx, 3, 500*time.Millisecond, fn)
}
