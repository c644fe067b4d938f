// Package cmn holds the small ambient conventions shared by every CoMo
// process: error kinds, leveled logging, debug assertions and the node
// environment. None of it is domain logic — it is the glue the teacher
// keeps in cmn/debug, cmn/nlog and cmn/mono, reworked around real
// third-party libraries instead of hand-rolled internals.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the way spec.md §7 does, independent of its
// Go type. The event loop and the resource scheduler switch on Kind, not
// on concrete error values.
type Kind int

const (
	KindIO Kind = iota
	KindPeerGone
	KindMalformed
	KindOverload
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindPeerGone:
		return "peer-gone"
	case KindMalformed:
		return "malformed"
	case KindOverload:
		return "overload"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type comoError struct {
	kind Kind
	err  error
}

func (e *comoError) Error() string { return fmt.Sprintf("[%s] %s", e.kind, e.err) }
func (e *comoError) Unwrap() error { return e.err }
func (e *comoError) Cause() error  { return e.err }

// Wrap attaches kind to err, annotating it with msg and a stack trace
// recorded by pkg/errors at the point Wrap is called.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &comoError{kind: kind, err: errors.Wrap(err, msg)}
}

func Errorf(kind Kind, format string, args ...interface{}) error {
	return &comoError{kind: kind, err: errors.Errorf(format, args...)}
}

// KindOf extracts the Kind a comoError was built with, defaulting to
// KindIO for errors that never went through Wrap/Errorf (e.g. a bare
// os.PathError bubbling out of the storage layer).
func KindOf(err error) Kind {
	var ce *comoError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return KindIO
}

// IsFatal reports whether err should abort the process that detected it
// (spec.md §7: "Fatal — unrecoverable invariant ... process aborts after
// logging"). Only pool corruption and peer-class mismatches are Fatal;
// every other kind is handled without tearing down the process.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }
