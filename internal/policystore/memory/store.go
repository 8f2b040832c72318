// Package memory is an in-process policy store with a monotonically increasing
// revision. It backs tests, the CLI's dry runs and the server's memory backend.
package memory

import (
	"context"
	"strconv"
	"sync"

	"catalogpolicy/internal/policy"
	"catalogpolicy/internal/policystore"
)

type Store struct {
	mu       sync.RWMutex
	document []byte
	revision uint64
	exists   bool
	writes   int
}

// New returns an empty store: Fetch reports not found until the first Replace.
func New() *Store {
	return &Store{}
}

// NewWithDocument returns a store seeded with doc at revision 1.
func NewWithDocument(doc *policy.Document) (*Store, error) {
	data, err := doc.Marshal()
	if err != nil {
		return nil, err
	}
	return &Store{document: data, revision: 1, exists: true}, nil
}

func (s *Store) Fetch(ctx context.Context) (*policy.Document, policystore.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, policystore.NoVersion, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists {
		return nil, policystore.NoVersion, policystore.NotFound("memory policy document")
	}
	doc, err := policy.ParseDocument(s.document)
	if err != nil {
		return nil, policystore.NoVersion, policystore.Transport("fetch", err)
	}
	return doc, s.version(), nil
}

func (s *Store) Replace(ctx context.Context, doc *policy.Document, precondition policystore.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := doc.Marshal()
	if err != nil {
		return policystore.Transport("replace", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if precondition.IsAbsent() {
		if s.exists {
			return policystore.Conflict("memory policy document already exists at revision %d", s.revision)
		}
	} else if !s.exists || precondition != s.version() {
		return policystore.Conflict("memory policy document revision is %d, expected %s", s.revision, precondition)
	}

	s.document = data
	s.revision++
	s.exists = true
	s.writes++
	return nil
}

// Snapshot returns the stored document and whether one exists.
func (s *Store) Snapshot() (*policy.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.exists {
		return nil, false
	}
	doc, err := policy.ParseDocument(s.document)
	if err != nil {
		return nil, false
	}
	return doc, true
}

// Writes returns the number of accepted Replace calls.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) version() policystore.Version {
	return policystore.Version(strconv.FormatUint(s.revision, 10))
}
