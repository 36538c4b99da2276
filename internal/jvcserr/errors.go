// Package jvcserr defines the single error taxonomy shared by every
// vault, sheet, and wire-protocol boundary in JVCS.
package jvcserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way §7 of the design requires: some
// kinds are lifted into an action's typed result, others are fatal to
// the connection.
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindSerialization
	KindCrypto
	KindProtocol
	KindAuthentication
	KindFile
	KindNotFound
	KindUnsupported
	KindTimeout
	KindAlreadyExists
	KindPermissionDenied
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	case KindCrypto:
		return "crypto"
	case KindProtocol:
		return "protocol"
	case KindAuthentication:
		return "authentication"
	case KindFile:
		return "file"
	case KindNotFound:
		return "not_found"
	case KindUnsupported:
		return "unsupported"
	case KindTimeout:
		return "timeout"
	case KindAlreadyExists:
		return "already_exists"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Error is the concrete error value carried across every boundary
// named in §7. Op names the failing operation (e.g. "sheet.AddMapping")
// so logs and typed action results can point at the same place.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error. Use this instead of fmt.Errorf so the Kind
// survives errors.Is/As across action boundaries.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Recoverable reports whether the kind belongs to the set of errors
// that §7 requires be lifted into an action's result variant rather
// than surfaced to the outer task and terminate the connection.
func Recoverable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindNotFound, KindAlreadyExists, KindPermissionDenied, KindInvalidArgument:
		return true
	default:
		return false
	}
}

// Sentinel domain rejections named explicitly in §4.9/§7. These are
// always recoverable — callers compare with errors.Is.
var (
	ErrStructureChangesNotSolved = New(KindInvalidArgument, "track", errors.New("structure changes not solved"))
	ErrSheetInUse                = New(KindInvalidArgument, "sheet", errors.New("sheet in use"))
	ErrTargetIsSelf              = New(KindInvalidArgument, "share", errors.New("target is self"))
	ErrAlreadyStained            = New(KindInvalidArgument, "workspace", errors.New("workspace already stained with a different vault"))
	ErrHasConflicts              = New(KindAlreadyExists, "share", errors.New("merge has conflicts"))
)
