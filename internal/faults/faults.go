// Package faults classifies network-origin failures so callers can tell a
// bounded timeout from any other transport problem. Timeouts are safe to
// retry for read-only calls; charge submissions are never auto-retried.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTimeout marks a call that exceeded its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrTransport marks any other network or transport failure.
	ErrTransport = errors.New("transport failure")
)

// Wrap converts a raw transport error into ErrTimeout or ErrTransport,
// keeping the original detail in the message.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) {
		return fmt.Errorf("%s: %w: %s", op, ErrTimeout, err.Error())
	}
	return fmt.Errorf("%s: %w: %s", op, ErrTransport, err.Error())
}

// IsTimeout reports whether the error is deadline-shaped.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
