// Package policystore defines the remote policy document contract and its error
// variants. Backends live in subpackages (glue, redis, postgres, memory).
package policystore

import (
	"context"
	"errors"
	"fmt"

	"catalogpolicy/internal/policy"
	"catalogpolicy/pkg/platform/sentinel"
)

// Version is an opaque revision token returned by Fetch. The zero value means
// no document exists.
type Version string

// NoVersion is the absent precondition.
const NoVersion Version = ""

// IsAbsent reports whether v carries no revision.
func (v Version) IsAbsent() bool {
	return v == NoVersion
}

// Store fetches and conditionally replaces one shared policy document.
//
// Implementations hold no cache and never retry. Fetch returns an error wrapping
// sentinel.ErrNotFound when no document exists. Replace returns an error wrapping
// sentinel.ErrConflict when precondition no longer matches the remote revision;
// with an absent precondition a backend may also reject the write as a conflict
// when a document appeared since the fetch. Every other failure is a
// *TransportError.
type Store interface {
	Fetch(ctx context.Context) (*policy.Document, Version, error)
	Replace(ctx context.Context, doc *policy.Document, precondition Version) error
}

// TransportError reports an infrastructure, auth or decoding failure talking to
// the store. It is fatal to the current invocation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("policy store %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport wraps err as a TransportError for op, unless it already is one or is
// one of the store sentinels.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) || IsNotFound(err) || IsConflict(err) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// NotFound wraps sentinel.ErrNotFound with backend context.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel.ErrNotFound)
}

// Conflict wraps sentinel.ErrConflict with backend context.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel.ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, sentinel.ErrConflict)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
