package sentinel

import "errors"

// Sentinel errors for remote state. Policy stores return these (optionally
// wrapped) so the reconciler can tell a missing document or a lost race apart
// from a transport failure, which has its own error type.
//
// - ErrNotFound: no policy document exists at the target
// - ErrConflict: the document changed since it was fetched (precondition rejected)
//
// For malformed input, use pkg/domain-errors directly.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
