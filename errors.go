package xmemcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/pior/xmemcache/text"
)

var (
	// ErrCacheMiss is returned by the CAS engine when the key does not exist.
	// Plain reads report a miss with Item.Found instead.
	ErrCacheMiss = errors.New("memcache: cache miss")

	// ErrNoAvailableSession is returned when the server owning a key has no
	// live connection, or when no server is configured.
	ErrNoAvailableSession = errors.New("memcache: there is no available session at this moment")

	// ErrTimeout is returned when a call did not complete within its deadline.
	// It also matches context.DeadlineExceeded.
	ErrTimeout = errors.New("memcache: timeout")

	// ErrConnectionLost completes every command still in flight on a broken connection.
	ErrConnectionLost = errors.New("memcache: connection lost")

	// ErrSessionClosed is returned when sending on a connection that was already closed.
	ErrSessionClosed = errors.New("memcache: session closed")

	ErrCASRetriesExhausted = errors.New("memcache: compare-and-swap retries exhausted")
	ErrClientClosed        = errors.New("memcache: client closed")
	ErrServerExists        = errors.New("memcache: server already added")
	ErrServerNotFound      = errors.New("memcache: server not found")
)

// Errors raised by the protocol layer.
var (
	ErrInvalidKey       = text.ErrInvalidKey
	ErrInvalidArgument  = text.ErrInvalidArgument
	ErrValueTooLarge    = text.ErrValueTooLarge
	ErrIncrDecrNotFound = text.ErrIncrDecrNotFound
	ErrCanceled         = text.ErrCanceled
)

type (
	InvalidKeyError     = text.InvalidKeyError
	ClientError         = text.ClientError
	ServerError         = text.ServerError
	UnknownCommandError = text.UnknownCommandError
	ProtocolError       = text.ProtocolError
)

// waitError maps a context error from a bounded wait to the client errors.
func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// isConnectionFailure reports whether err says something about the health of
// the server rather than about the request.
func isConnectionFailure(err error) bool {
	return errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrNoAvailableSession) ||
		errors.Is(err, ErrTimeout)
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
