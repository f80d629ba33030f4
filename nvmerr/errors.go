// Package nvmerr defines the allocator's error catalogue.
//
// Every failure the allocator can return carries a Kind, so callers can
// test "is this an exhaustion error" with errors.Is against the
// exported sentinels instead of comparing strings, while still getting
// a descriptive message for logs.
package nvmerr

import (
	"errors"
	"fmt"
)

// Kind classifies an allocator error.
type Kind int

const (
	// InvalidArgument covers zero size, oversized size, a zero base
	// passed to Init, or a region smaller than one slab. A region size
	// that is not a slab multiple is truncated, not rejected.
	InvalidArgument Kind = iota
	// Uninitialized is returned when an API is called before Init or
	// after Shutdown.
	Uninitialized
	// AlreadyInitialized is returned by a second Init without an
	// intervening Shutdown.
	AlreadyInitialized
	// Exhausted means the Space Manager has no extent >= slab size.
	Exhausted
	// OutOfHostMemory means DRAM metadata allocation failed.
	OutOfHostMemory
	// Duplicate means a Slab Index insert found an already-present key.
	Duplicate
	// Unavailable means the AllocAt target extent is not fully free.
	Unavailable
	// Mismatch means Restore found a slab at the target base with a
	// different size class.
	Mismatch
	// OutOfRange means a block index exceeds a slab's block count.
	OutOfRange
	// UnmanagedAddress means Free was called on an address whose slab
	// is not indexed.
	UnmanagedAddress
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case Uninitialized:
		return "uninitialized"
	case AlreadyInitialized:
		return "already_initialized"
	case Exhausted:
		return "exhausted"
	case OutOfHostMemory:
		return "out_of_host_memory"
	case Duplicate:
		return "duplicate"
	case Unavailable:
		return "unavailable"
	case Mismatch:
		return "mismatch"
	case OutOfRange:
		return "out_of_range"
	case UnmanagedAddress:
		return "unmanaged_address"
	default:
		return "unknown"
	}
}

// Error is the allocator's error type: a Kind plus a human-readable
// message. It supports errors.Is against the sentinels below.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is reports whether target is a sentinel of the same Kind, so
// errors.Is(err, nvmerr.ErrExhausted) works regardless of message text.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons against a bare kind.
var (
	ErrInvalidArgument  = &Error{Kind: InvalidArgument}
	ErrUninitialized    = &Error{Kind: Uninitialized}
	ErrAlreadyInit      = &Error{Kind: AlreadyInitialized}
	ErrExhausted        = &Error{Kind: Exhausted}
	ErrOutOfHostMemory  = &Error{Kind: OutOfHostMemory}
	ErrDuplicate        = &Error{Kind: Duplicate}
	ErrUnavailable      = &Error{Kind: Unavailable}
	ErrMismatch         = &Error{Kind: Mismatch}
	ErrOutOfRange       = &Error{Kind: OutOfRange}
	ErrUnmanagedAddress = &Error{Kind: UnmanagedAddress}
)
