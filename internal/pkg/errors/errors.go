// Package errors holds one sentinel shared by low-level plumbing that
// doesn't need the richer taxonomy in internal/violation: the codecs
// (internal/subject, internal/snapshot) that decode caller-supplied wire
// strings before any contract or machine is even in scope.
package errors

import "errors"

// ErrInvalidArgument wraps a decode failure on input that never reached
// a typed Violation boundary, so callers can errors.Is check for "this
// wasn't well-formed" without matching on string-formatted messages.
var ErrInvalidArgument = errors.New("invalid argument")
