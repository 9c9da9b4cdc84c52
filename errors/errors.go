// Package errors provides error handling for the web server.
//
// This package re-exports github.com/cockroachdb/errors, providing
// stack traces, wrapping with context, and sentinel comparison via Is.
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrTransientCopy) {
//	    // retry later
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// Error inspection
var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap
)

// Common sentinel errors for use across the server.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrTransientCopy indicates a plug-in image could not be copied to the
	// runtime directory right now, likely because a build is still writing
	// it. The loader retries on the next scan.
	ErrTransientCopy = New("plug-in image busy")

	// ErrPluginLink indicates a runtime file could not be linked into the
	// process.
	ErrPluginLink = New("unable to link plug-in")

	// ErrPluginEntrypoint indicates a linked plug-in library has no
	// LoadPlugin entrypoint.
	ErrPluginEntrypoint = New("plug-in entrypoint not found")

	// ErrPluginLoadFailed indicates the plug-in entrypoint ran but declined
	// to load, typically due to bad configuration.
	ErrPluginLoadFailed = New("plug-in failed to load")

	// ErrNoSuchResource indicates no registered resource owns a request path.
	ErrNoSuchResource = New("no such resource")
)

// IsTransient reports whether err is or wraps ErrTransientCopy.
func IsTransient(err error) bool {
	return err != nil && Is(err, ErrTransientCopy)
}
