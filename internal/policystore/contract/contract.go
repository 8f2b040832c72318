// Package contract holds the behavioral checks every policystore backend must
// pass. Backends run them from their own tests, including integration tests
// against real infrastructure.
package contract

import (
	"context"
	"testing"

	"catalogpolicy/internal/policy"
	"catalogpolicy/internal/policystore"
)

// Factory returns an empty store, isolated from other cases.
type Factory func(t *testing.T) policystore.Store

// ContractTest is one named check against a fresh store.
type ContractTest struct {
	Name string
	Run  func(t *testing.T, ctx context.Context, store policystore.Store)
}

// Suite runs the standard contract plus any backend-specific extras.
type Suite struct {
	Backend string
	New     Factory
	Extra   []ContractTest
}

func (s *Suite) Run(t *testing.T) {
	for _, test := range append(Standard(), s.Extra...) {
		t.Run(s.Backend+"/"+test.Name, func(t *testing.T) {
			test.Run(t, context.Background(), s.New(t))
		})
	}
}

// Standard is the contract from the policystore.Store documentation.
func Standard() []ContractTest {
	return []ContractTest{
		{
			Name: "fetch on empty store is not found",
			Run: func(t *testing.T, ctx context.Context, store policystore.Store) {
				_, version, err := store.Fetch(ctx)
				if !policystore.IsNotFound(err) {
					t.Fatalf("expected not found, got %v", err)
				}
				if !version.IsAbsent() {
					t.Fatalf("expected absent version, got %q", version)
				}
			},
		},
		{
			Name: "create then fetch returns document verbatim",
			Run: func(t *testing.T, ctx context.Context, store policystore.Store) {
				want := policy.NewDocument(
					policy.MustStatement(`{"Sid":"B","Effect":"Allow","Principal":{"AWS":"arn:aws:iam::111122223333:root"},"Action":"glue:GetTable","Resource":"*"}`),
					policy.MustStatement(`{"Sid":"A","Effect":"Deny","Condition":{"Bool":{"aws:SecureTransport":"false"}}}`),
				)
				if err := store.Replace(ctx, want, policystore.NoVersion); err != nil {
					t.Fatalf("create: %v", err)
				}
				got, version, err := store.Fetch(ctx)
				if err != nil {
					t.Fatalf("fetch: %v", err)
				}
				if version.IsAbsent() {
					t.Fatal("expected a version after create")
				}
				if !got.Equal(want) {
					t.Fatalf("document changed in storage: %v", got.Sids())
				}
			},
		},
		{
			Name: "replace with current version succeeds and advances version",
			Run: func(t *testing.T, ctx context.Context, store policystore.Store) {
				mustCreate(t, ctx, store, `{"Sid":"A"}`)
				_, v1, err := store.Fetch(ctx)
				if err != nil {
					t.Fatalf("fetch: %v", err)
				}
				next := policy.NewDocument(policy.MustStatement(`{"Sid":"A"}`), policy.MustStatement(`{"Sid":"B"}`))
				if err := store.Replace(ctx, next, v1); err != nil {
					t.Fatalf("replace: %v", err)
				}
				_, v2, err := store.Fetch(ctx)
				if err != nil {
					t.Fatalf("fetch: %v", err)
				}
				if v1 == v2 {
					t.Fatalf("version did not advance: %q", v2)
				}
			},
		},
		{
			Name: "replace with stale version conflicts",
			Run: func(t *testing.T, ctx context.Context, store policystore.Store) {
				mustCreate(t, ctx, store, `{"Sid":"A"}`)
				_, stale, err := store.Fetch(ctx)
				if err != nil {
					t.Fatalf("fetch: %v", err)
				}
				if err := store.Replace(ctx, policy.NewDocument(policy.MustStatement(`{"Sid":"Other"}`)), stale); err != nil {
					t.Fatalf("concurrent writer: %v", err)
				}
				err = store.Replace(ctx, policy.NewDocument(policy.MustStatement(`{"Sid":"Mine"}`)), stale)
				if !policystore.IsConflict(err) {
					t.Fatalf("expected conflict, got %v", err)
				}
				got, _, err := store.Fetch(ctx)
				if err != nil {
					t.Fatalf("fetch: %v", err)
				}
				if sids := got.Sids(); len(sids) != 1 || sids[0] != "Other" {
					t.Fatalf("rejected write leaked into storage: %v", sids)
				}
			},
		},
		{
			Name: "create over an existing document conflicts",
			Run: func(t *testing.T, ctx context.Context, store policystore.Store) {
				mustCreate(t, ctx, store, `{"Sid":"First"}`)
				err := store.Replace(ctx, policy.NewDocument(policy.MustStatement(`{"Sid":"Second"}`)), policystore.NoVersion)
				if !policystore.IsConflict(err) {
					t.Fatalf("expected conflict, got %v", err)
				}
			},
		},
	}
}

func mustCreate(t *testing.T, ctx context.Context, store policystore.Store, statements ...string) {
	t.Helper()
	doc := policy.NewDocument()
	for _, raw := range statements {
		doc.Statements = append(doc.Statements, policy.MustStatement(raw))
	}
	if err := store.Replace(ctx, doc, policystore.NoVersion); err != nil {
		t.Fatalf("create: %v", err)
	}
}
