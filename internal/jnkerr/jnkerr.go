// Package jnkerr defines the error-kind vocabulary shared by the chunk
// store, manifest codec, FUSE adapter and web service, so a single
// failure can be mapped to both an errno and an HTTP status from one
// place.
package jnkerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for errno and HTTP status mapping.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	// KindInvalidArgument covers malformed paths, unsafe components, bad endpoints.
	KindInvalidArgument
	// KindNotFound covers a missing manifest, chunk, or route.
	KindNotFound
	// KindIsDirectory covers an operation expecting a file that hit a directory.
	KindIsDirectory
	// KindNotDirectory covers an operation expecting a directory that hit a file.
	KindNotDirectory
	// KindCorruptManifest covers a manifest parse failure.
	KindCorruptManifest
	// KindIntegrityFault covers a SHA-256 mismatch on read.
	KindIntegrityFault
	// KindOutOfSpace covers a quota that would be exceeded on put.
	KindOutOfSpace
	// KindIOError covers an unexpected I/O failure.
	KindIOError
	// KindForbidden covers a mint attempted on an "end" node.
	KindForbidden
	// KindPeerFull covers a peer or bootstrap list at capacity.
	KindPeerFull
	// KindTransientPeer covers a sync timeout or connection refusal.
	KindTransientPeer
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid-argument"
	case KindNotFound:
		return "not-found"
	case KindIsDirectory:
		return "is-directory"
	case KindNotDirectory:
		return "not-directory"
	case KindCorruptManifest:
		return "corrupt-manifest"
	case KindIntegrityFault:
		return "integrity-fault"
	case KindOutOfSpace:
		return "out-of-space"
	case KindIOError:
		return "io-error"
	case KindForbidden:
		return "forbidden"
	case KindPeerFull:
		return "peer-full"
	case KindTransientPeer:
		return "transient-peer"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error, wrapping an optional underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}

	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error of the given kind wrapping err (which may be nil).
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Wrap is a convenience for New with a formatted message.
func Wrap(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to KindIOError for any
// error that is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindIOError
}
