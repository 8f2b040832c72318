// Package postgres keeps shared policy documents in a PostgreSQL table with an
// integer revision column used as the optimistic-concurrency guard.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"catalogpolicy/internal/policy"
	"catalogpolicy/internal/policystore"
	"catalogpolicy/pkg/requestcontext"
)

// Schema creates the documents table. The document column is TEXT, not JSONB:
// JSONB normalizes key order and would rewrite foreign statements.
const Schema = `
CREATE TABLE IF NOT EXISTS policy_documents (
	name       TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const undefinedTable = "42P01"

type Store struct {
	db   *sql.DB
	name string
}

// New returns a store for the document row identified by name.
func New(db *sql.DB, name string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if name == "" {
		return nil, fmt.Errorf("document name is required")
	}
	return &Store{db: db, name: name}, nil
}

// EnsureSchema creates the documents table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create policy_documents: %w", err)
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context) (*policy.Document, policystore.Version, error) {
	var (
		data    string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT document, version FROM policy_documents WHERE name = $1`, s.name,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policystore.NoVersion, policystore.NotFound("postgres policy document %s", s.name)
	}
	if err != nil {
		return nil, policystore.NoVersion, s.translate("fetch", err)
	}

	doc, err := policy.ParseDocument([]byte(data))
	if err != nil {
		return nil, policystore.NoVersion, policystore.Transport("fetch", fmt.Errorf("malformed document %s: %w", s.name, err))
	}
	return doc, policystore.Version(strconv.FormatInt(version, 10)), nil
}

func (s *Store) Replace(ctx context.Context, doc *policy.Document, precondition policystore.Version) error {
	data, err := doc.Marshal()
	if err != nil {
		return policystore.Transport("replace", err)
	}
	now := requestcontext.Now(ctx).UTC()

	var res sql.Result
	if precondition.IsAbsent() {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO policy_documents (name, document, version, updated_at)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (name) DO NOTHING`,
			s.name, string(data), now)
	} else {
		expected, perr := strconv.ParseInt(string(precondition), 10, 64)
		if perr != nil {
			return policystore.Transport("replace", fmt.Errorf("invalid version token %q: %w", precondition, perr))
		}
		res, err = s.db.ExecContext(ctx, `
			UPDATE policy_documents
			SET document = $2, version = version + 1, updated_at = $3
			WHERE name = $1 AND version = $4`,
			s.name, string(data), now, expected)
	}
	if err != nil {
		return s.translate("replace", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return policystore.Transport("replace", err)
	}
	if affected == 0 {
		return policystore.Conflict("postgres policy document %s changed since version %q", s.name, precondition)
	}
	return nil
}

func (s *Store) translate(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
		return policystore.Transport(op, fmt.Errorf("policy_documents table missing (run EnsureSchema): %w", err))
	}
	return policystore.Transport(op, err)
}
