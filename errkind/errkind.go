// Package errkind tags the handful of error conditions spec.md §7 calls
// out by name. Wrap and Because return an *Error whose message is the
// plain formatted text, with the Kind kept alongside it rather than in the
// text, so callers that only want to log or exit a process can keep
// treating it as any other Go error, while a caller that cares can recover
// the Kind with KindOf.
package errkind

import "fmt"

// Kind names one of the error conditions spec.md §7 distinguishes.
type Kind int8

const (
	Unknown Kind = iota
	MissingSource
	DependencyCycle
	InvalidDepfile
	CommandFailure
	Interrupted
	LogIOError
	VersionIncompatible
)

func (this Kind) String() string {
	switch this {
	case MissingSource:
		return "missing source"
	case DependencyCycle:
		return "dependency cycle"
	case InvalidDepfile:
		return "invalid depfile"
	case CommandFailure:
		return "command failure"
	case Interrupted:
		return "interrupted"
	case LogIOError:
		return "log I/O error"
	case VersionIncompatible:
		return "version incompatible"
	default:
		return "unknown"
	}
}

// Error is a formatted message tagged with the Kind of problem it
// reports, so callers can distinguish "ran out of disk space writing the
// build log" (LogIOError, often worth retrying) from "the manifest names
// an input nothing produces" (MissingSource, never worth retrying)
// without parsing message text.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (this *Error) Error() string { return this.msg }
func (this *Error) Unwrap() error { return this.cause }

// Wrap formats a message the way fmt.Errorf would and tags it with kind.
func Wrap(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Because tags cause with kind, prefixing context the way fmt.Errorf's
// "%w" verb would but preserving errors.Is/As access to cause.
func Because(kind Kind, cause error, context string) error {
	return &Error{Kind: kind, msg: context + ": " + cause.Error(), cause: cause}
}

// KindOf recovers the Kind tagged onto err by Wrap or Because, or Unknown
// if err was never tagged (including err == nil and plain errors from
// other packages). err itself must be the *Error: a tagged error wrapped
// again with fmt.Errorf's %w reports Unknown.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Unknown
}
