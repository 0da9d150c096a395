package filter

import (
	"errors"
	"fmt"
)

// Error kinds for the filter protocol (spec.md §7). Parse and I/O
// errors are fatal to the session; a ProcessorError is caught at the
// state-machine layer, reported on the wire as status=error, and
// consumed — it never escapes Run as a session failure.
var (
	// ErrParse marks malformed input: bad pkt-line framing, a malformed
	// client hello (including unexpected trailing content), or a bad
	// command block (a missing/unknown command or a missing pathname).
	ErrParse = errors.New("filter: parse error")

	// ErrIO marks an underlying read/write failure mid-frame.
	ErrIO = errors.New("filter: i/o error")

	// ErrInvariant marks a programmer error in the core or in a
	// Processor implementation — e.g. a payload stream the state
	// machine expected to be drained was not. These are not part of
	// the wire protocol and should never be recovered from.
	ErrInvariant = errors.New("filter: internal invariant violated")
)

// SessionError wraps one of the sentinel errors above with session
// context, mirroring the teacher's ProtocolError{Type, Message}
// shape.
type SessionError struct {
	Kind    error
	Message string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SessionError) Unwrap() error { return e.Kind }

func parseErrorf(format string, args ...any) error {
	return &SessionError{Kind: ErrParse, Message: fmt.Sprintf(format, args...)}
}

func ioErrorf(cause error) error {
	return &SessionError{Kind: ErrIO, Message: cause.Error()}
}

func invariantf(format string, args ...any) error {
	return &SessionError{Kind: ErrInvariant, Message: fmt.Sprintf(format, args...)}
}

// IsParseError reports whether err is a protocol-level parse error.
func IsParseError(err error) bool { return errors.Is(err, ErrParse) }

// IsIOError reports whether err is a wrapped I/O failure.
func IsIOError(err error) bool { return errors.Is(err, ErrIO) }
