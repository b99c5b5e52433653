package etl

import (
	"fmt"

	"github.com/hazyhaar/fieldetl/pkg/bundle"
	"github.com/hazyhaar/fieldetl/pkg/frame"
	"github.com/pkg/errors"
)

// Class is the failure category of a run.
type Class string

const (
	UnresolvedLookup Class = "unresolved_lookup"
	UnknownOption    Class = "unknown_option"
	UnresolvedOther  Class = "unresolved_other"
	BundleRead       Class = "bundle_read"
	Database         Class = "database"
	CountMismatch    Class = "count_mismatch"
)

// Error is a classified run failure. SideFile names the file holding the
// offending rows, when one was written.
type Error struct {
	Class    Class
	Op       string
	SideFile string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Class)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.SideFile != "" {
		msg += " (rows written to " + e.SideFile + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Cause lets errors.Cause walk through an Error.
func (e *Error) Cause() error { return e.Err }

// Fail builds a classified error.
func Fail(class Class, op string, err error) error {
	return &Error{Class: class, Op: op, Err: err}
}

// Failf builds a classified error from a message.
func Failf(class Class, op, format string, args ...any) error {
	return &Error{Class: class, Op: op, Err: errors.Errorf(format, args...)}
}

// ClassOf returns the class of err. Unclassified errors are sorted by their
// sentinel; anything else came from a database call.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	switch {
	case errors.Is(err, frame.ErrUnknownType), errors.Is(err, bundle.ErrUnknownExtension),
		errors.Is(err, bundle.ErrUnknownCredentialMode):
		return UnknownOption
	case errors.Is(err, frame.ErrAmbiguousLookup):
		return UnresolvedLookup
	case errors.Is(err, bundle.ErrNoMatch):
		return BundleRead
	}
	return Database
}

// Classify wraps err as an *Error unless it already is one.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Class: ClassOf(err), Op: op, Err: err}
}
