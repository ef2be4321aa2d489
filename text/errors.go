package text

import (
	"errors"
	"fmt"
)

// Error types for text protocol operations.
// They tell the session whether the stream is still usable after the error
// (see ShouldCloseConnection).

var (
	// ErrInvalidKey matches every *InvalidKeyError.
	ErrInvalidKey = errors.New("memcache: invalid key")

	// ErrInvalidArgument is returned for malformed non-key arguments.
	ErrInvalidArgument = errors.New("memcache: invalid argument")

	// ErrValueTooLarge is returned when a value exceeds the factory's MaxValueSize.
	ErrValueTooLarge = errors.New("memcache: value too large")

	// ErrIncrDecrNotFound is the NOT_FOUND reply of incr/decr.
	ErrIncrDecrNotFound = errors.New("memcache: the key's value is not found for increase or decrease")

	// ErrCanceled completes a command that was canceled before it was written.
	ErrCanceled = errors.New("memcache: command canceled before transmission")
)

// InvalidKeyError is returned when a key fails validation.
// The command is rejected before any network activity.
type InvalidKeyError struct {
	Key    string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	key := e.Key
	if len(key) > 32 {
		key = key[:32] + "..."
	}
	return fmt.Sprintf("memcache: invalid key %q: %s", key, e.Reason)
}

func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

// ClientError represents a CLIENT_ERROR response from memcached, such as
// incr on a non-numeric value. The reply is a complete line and the stream
// is still in sync.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return "memcache: CLIENT_ERROR " + e.Message
}

func (e *ClientError) ShouldCloseConnection() bool {
	return false
}

// ServerError represents a SERVER_ERROR response from memcached.
// Typically out of memory or an object too large for the slab allocator.
// The stream is still in sync.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "memcache: SERVER_ERROR " + e.Message
}

func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// UnknownCommandError represents a bare ERROR response: the server did not
// recognize the command, usually because it is older than the client expects.
type UnknownCommandError struct{}

func (e *UnknownCommandError) Error() string {
	return "memcache: nonexistent command, check your memcached version"
}

func (e *UnknownCommandError) ShouldCloseConnection() bool {
	return false
}

// ProtocolError is raised when a response line does not match the grammar
// of the command at the head of the queue.
type ProtocolError struct {
	Kind Kind
	Line string
}

func (e *ProtocolError) Error() string {
	line := e.Line
	if len(line) > 64 {
		line = line[:64] + "..."
	}
	return fmt.Sprintf("memcache: corrupt response to %s: unexpected %q", e.Kind, line)
}

func (e *ProtocolError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is implemented by errors that know whether the
// connection they came from is still usable.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err leaves the stream in an unknown
// state. Only protocol errors carry that information; regular outcomes such
// as ErrIncrDecrNotFound do not close the connection.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}
	return false
}
