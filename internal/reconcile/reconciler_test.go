package reconcile

//go:generate mockgen -source=reconciler.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"catalogpolicy/internal/policy"
	"catalogpolicy/internal/policystore"
	"catalogpolicy/internal/policystore/memory"
	"catalogpolicy/internal/reconcile/metrics"
	"catalogpolicy/internal/reconcile/mocks"
)

// =============================================================================
// Reconciler Test Suite
// =============================================================================
// The store is mocked so each test pins the exact sequence of remote calls:
// how many fetches, which precondition is sent, and that nothing is written
// when nothing changed.

type ReconcilerSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	store      *mocks.MockStore
	metrics    *metrics.Metrics
	reconciler *Reconciler
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	r, err := New(s.store,
		WithBackoff(BackoffConfig{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithPhysicalResourceID("catalog-policy"),
	)
	s.Require().NoError(err)
	s.reconciler = r
}

func (s *ReconcilerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func stmt(raw string) policy.Statement {
	return policy.MustStatement(raw)
}

func doc(raws ...string) *policy.Document {
	d := policy.NewDocument()
	for _, raw := range raws {
		d.Statements = append(d.Statements, stmt(raw))
	}
	return d
}

func createReq(raws ...string) Request {
	var statements []policy.Statement
	for _, raw := range raws {
		statements = append(statements, stmt(raw))
	}
	return Request{Operation: Create, OwnedStatements: statements, RequestID: "req-1"}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ReconcilerSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "policy store is required")
	})

	s.Run("zero attempts returns error", func() {
		_, err := New(s.store, WithMaxAttempts(0))
		s.Error(err)
	})

	s.Run("defaults", func() {
		r, err := New(s.store)
		s.Require().NoError(err)
		s.Equal(DefaultMaxAttempts, r.maxAttempts)
		s.Equal(DefaultBackoff, r.backoff)
		s.Equal(PhysicalResourceID("default"), r.PhysicalID())
		s.NotNil(r.logger)
	})
}

// =============================================================================
// Write Path
// =============================================================================

func (s *ReconcilerSuite) TestCreateAppendsAfterForeignStatements() {
	var written *policy.Document
	s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"A","Effect":"Allow"}`), policystore.Version("h1"), nil)
	s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), policystore.Version("h1")).
		DoAndReturn(func(_ context.Context, d *policy.Document, _ policystore.Version) error {
			written = d
			return nil
		})

	out := s.reconciler.Reconcile(context.Background(), createReq(`{"Sid":"B","Effect":"Deny"}`))

	s.True(out.Success)
	s.True(out.Written)
	s.Empty(out.Reason)
	s.Equal("req-1", out.CorrelationID)
	s.Equal("catalog-policy", out.PhysicalResourceID)
	s.Equal(1, out.Attempts)
	s.Require().NotNil(written)
	s.Equal([]string{"A", "B"}, written.Sids())
}

func (s *ReconcilerSuite) TestNotFoundCreatesWithoutPrecondition() {
	var written *policy.Document
	s.store.EXPECT().Fetch(gomock.Any()).Return(nil, policystore.NoVersion, policystore.NotFound("no policy"))
	s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), policystore.NoVersion).
		DoAndReturn(func(_ context.Context, d *policy.Document, _ policystore.Version) error {
			written = d
			return nil
		})

	out := s.reconciler.Reconcile(context.Background(), createReq(`{"Sid":"X"}`))

	s.True(out.Success)
	s.Require().NotNil(written)
	s.Equal([]string{"X"}, written.Sids())
	s.Equal(policy.DefaultVersion, written.Version)
}

func (s *ReconcilerSuite) TestDeleteRemovesOwnedStatement() {
	var written *policy.Document
	s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"A"}`, `{"Sid":"B"}`), policystore.Version("3"), nil)
	s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), policystore.Version("3")).
		DoAndReturn(func(_ context.Context, d *policy.Document, _ policystore.Version) error {
			written = d
			return nil
		})

	out := s.reconciler.Reconcile(context.Background(), Request{Operation: Delete, OwnedSids: []string{"B"}, RequestID: "req-2"})

	s.True(out.Success)
	s.Require().NotNil(written)
	s.Equal([]string{"A"}, written.Sids())
}

// =============================================================================
// Skipped Writes
// =============================================================================

func (s *ReconcilerSuite) TestDeleteOfAbsentStatementSkipsWrite() {
	s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"A"}`), policystore.Version("3"), nil)

	out := s.reconciler.Reconcile(context.Background(), Request{Operation: Delete, OwnedSids: []string{"B"}})

	s.True(out.Success)
	s.False(out.Written)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SkippedWrites))
}

func (s *ReconcilerSuite) TestDeleteWithNoDocumentSkipsWrite() {
	s.store.EXPECT().Fetch(gomock.Any()).Return(nil, policystore.NoVersion, policystore.NotFound("no policy"))

	out := s.reconciler.Reconcile(context.Background(), Request{Operation: Delete, OwnedSids: []string{"B"}})

	s.True(out.Success)
	s.False(out.Written)
}

func (s *ReconcilerSuite) TestUnchangedDocumentSkipsWrite() {
	s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"A"}`, `{"Sid":"B","Effect":"Allow"}`), policystore.Version("9"), nil)

	out := s.reconciler.Reconcile(context.Background(), Request{
		Operation:       Update,
		OwnedStatements: []policy.Statement{stmt(`{"Sid":"B","Effect":"Allow"}`)},
	})

	s.True(out.Success)
	s.False(out.Written)
}

// =============================================================================
// Conflict Retry
// =============================================================================

func (s *ReconcilerSuite) TestConflictRetryConverges() {
	const conflicts = 3
	s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"A"}`), policystore.Version("1"), nil).Times(conflicts + 1)
	s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), gomock.Any()).Return(policystore.Conflict("changed")).Times(conflicts)
	s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	out := s.reconciler.Reconcile(context.Background(), createReq(`{"Sid":"B"}`))

	s.True(out.Success)
	s.Equal(conflicts+1, out.Attempts)
	s.Equal(float64(conflicts), testutil.ToFloat64(s.metrics.Conflicts))
}

func (s *ReconcilerSuite) TestConflictRetryRefetchesEachCycle() {
	var preconditions []policystore.Version
	gomock.InOrder(
		s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"A"}`), policystore.Version("1"), nil),
		s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ *policy.Document, v policystore.Version) error {
				preconditions = append(preconditions, v)
				return policystore.Conflict("changed")
			}),
		s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"A"}`, `{"Sid":"C"}`), policystore.Version("2"), nil),
		s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, d *policy.Document, v policystore.Version) error {
				preconditions = append(preconditions, v)
				s.Equal([]string{"A", "C", "B"}, d.Sids())
				return nil
			}),
	)

	out := s.reconciler.Reconcile(context.Background(), createReq(`{"Sid":"B"}`))

	s.True(out.Success)
	s.Equal([]policystore.Version{"1", "2"}, preconditions)
}

func (s *ReconcilerSuite) TestConflictRetryExhausted() {
	s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"A"}`), policystore.Version("1"), nil).Times(DefaultMaxAttempts)
	s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), gomock.Any()).Return(policystore.Conflict("changed")).Times(DefaultMaxAttempts)

	out := s.reconciler.Reconcile(context.Background(), createReq(`{"Sid":"B"}`))

	s.False(out.Success)
	s.Equal(ReasonConflictExhausted, out.Reason)
	s.Equal(DefaultMaxAttempts, out.Attempts)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Outcomes.WithLabelValues("Create", "FAILED")))
}

func (s *ReconcilerSuite) TestCreateRaceOnAbsentDocumentRetries() {
	gomock.InOrder(
		s.store.EXPECT().Fetch(gomock.Any()).Return(nil, policystore.NoVersion, policystore.NotFound("no policy")),
		s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), policystore.NoVersion).Return(policystore.Conflict("already exists")),
		s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"Other"}`), policystore.Version("1"), nil),
		s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), policystore.Version("1")).Return(nil),
	)

	out := s.reconciler.Reconcile(context.Background(), createReq(`{"Sid":"Mine"}`))

	s.True(out.Success)
	s.Equal(2, out.Attempts)
}

// =============================================================================
// Terminal Failures
// =============================================================================

func (s *ReconcilerSuite) TestTransportErrorFailsWithoutRetry() {
	s.Run("on fetch", func() {
		s.store.EXPECT().Fetch(gomock.Any()).Return(nil, policystore.NoVersion,
			policystore.Transport("fetch", errors.New("AccessDeniedException: not authorized")))

		out := s.reconciler.Reconcile(context.Background(), createReq(`{"Sid":"B"}`))

		s.False(out.Success)
		s.Contains(out.Reason, "AccessDeniedException: not authorized")
		s.Equal(1, out.Attempts)
	})

	s.Run("on replace", func() {
		s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"A"}`), policystore.Version("1"), nil)
		s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(policystore.Transport("replace", errors.New("connection reset")))

		out := s.reconciler.Reconcile(context.Background(), createReq(`{"Sid":"B"}`))

		s.False(out.Success)
		s.Contains(out.Reason, "connection reset")
	})
}

func (s *ReconcilerSuite) TestInvalidRequestMakesNoStoreCalls() {
	s.Run("create without statements", func() {
		out := s.reconciler.Reconcile(context.Background(), Request{Operation: Create, RequestID: "req-3"})
		s.False(out.Success)
		s.Contains(out.Reason, "at least one statement")
		s.Equal("req-3", out.CorrelationID)
		s.Equal(0, out.Attempts)
	})

	s.Run("unknown operation", func() {
		out := s.reconciler.Reconcile(context.Background(), Request{Operation: "Upsert"})
		s.False(out.Success)
		s.Contains(out.Reason, "unknown request type")
	})
}

func (s *ReconcilerSuite) TestPanicInStoreBecomesFailure() {
	s.store.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(context.Context) (*policy.Document, policystore.Version, error) {
		panic("nil pointer in transport")
	})

	var out Outcome
	s.NotPanics(func() {
		out = s.reconciler.Reconcile(context.Background(), createReq(`{"Sid":"B"}`))
	})
	s.False(out.Success)
	s.Equal("internal error: nil pointer in transport", out.Reason)
}

// =============================================================================
// Deadlines
// =============================================================================

func (s *ReconcilerSuite) TestCancelledContextIsDeadlineExceeded() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := s.reconciler.Reconcile(ctx, createReq(`{"Sid":"B"}`))

	s.False(out.Success)
	s.Equal(ReasonDeadlineExceeded, out.Reason)
}

func (s *ReconcilerSuite) TestStoreClientTimeoutWithLiveContextIsTransportError() {
	s.store.EXPECT().Fetch(gomock.Any()).Return(nil, policystore.NoVersion,
		policystore.Transport("fetch", fmt.Errorf("operation error Glue: %w", context.DeadlineExceeded)))

	out := s.reconciler.Reconcile(context.Background(), createReq(`{"Sid":"B"}`))

	s.False(out.Success)
	s.NotEqual(ReasonDeadlineExceeded, out.Reason)
	s.Contains(out.Reason, "policy store fetch: operation error Glue")
}

func (s *ReconcilerSuite) TestDeadlineExpiringDuringStoreCall() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.store.EXPECT().Fetch(gomock.Any()).DoAndReturn(
		func(context.Context) (*policy.Document, policystore.Version, error) {
			cancel()
			return nil, policystore.NoVersion,
				policystore.Transport("fetch", fmt.Errorf("operation error Glue: %w", context.Canceled))
		})

	out := s.reconciler.Reconcile(ctx, createReq(`{"Sid":"B"}`))

	s.False(out.Success)
	s.Equal(ReasonDeadlineExceeded, out.Reason)
}

func (s *ReconcilerSuite) TestDeadlineDuringBackoff() {
	r, err := New(s.store, WithBackoff(BackoffConfig{InitialDelay: time.Hour}))
	s.Require().NoError(err)

	s.store.EXPECT().Fetch(gomock.Any()).Return(doc(`{"Sid":"A"}`), policystore.Version("1"), nil)
	s.store.EXPECT().Replace(gomock.Any(), gomock.Any(), gomock.Any()).Return(policystore.Conflict("changed"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	started := time.Now()
	out := r.Reconcile(ctx, createReq(`{"Sid":"B"}`))

	s.False(out.Success)
	s.Equal(ReasonDeadlineExceeded, out.Reason)
	s.Equal(1, out.Attempts)
	s.Less(time.Since(started), time.Minute)
}

// =============================================================================
// Properties Against the In-Memory Store
// =============================================================================

func newMemoryReconciler(t *testing.T, store Store, opts ...Option) *Reconciler {
	t.Helper()
	r, err := New(store, append([]Option{WithBackoff(BackoffConfig{})}, opts...)...)
	require.NoError(t, err)
	return r
}

func TestReconcileIsIdempotent(t *testing.T) {
	store, err := memory.NewWithDocument(doc(`{"Sid":"Foreign","Effect":"Allow","Action":"glue:GetTable"}`))
	require.NoError(t, err)
	r := newMemoryReconciler(t, store)
	req := createReq(`{"Sid":"Owned","Effect":"Allow","Action":"glue:CreateTable"}`)

	first := r.Reconcile(context.Background(), req)
	afterFirst, _ := store.Snapshot()
	second := r.Reconcile(context.Background(), Request{Operation: Update, OwnedStatements: req.OwnedStatements})
	afterSecond, _ := store.Snapshot()

	assert.True(t, first.Success)
	assert.True(t, first.Written)
	assert.True(t, second.Success)
	assert.False(t, second.Written)
	assert.True(t, afterFirst.Equal(afterSecond))
	assert.Equal(t, 1, store.Writes())
	assert.Equal(t, first.PhysicalResourceID, second.PhysicalResourceID)
}

func TestReconcilePreservesForeignStatements(t *testing.T) {
	foreign := []string{
		`{"Sid":"F1","Effect":"Allow","Principal":{"Service":"glue.amazonaws.com"},"Action":"glue:*","Resource":"*"}`,
		`{"Sid":"F2","Effect":"Deny","Action":"glue:DeleteDatabase","Resource":"*","Condition":{"StringNotEquals":{"aws:PrincipalAccount":"111122223333"}}}`,
		`{"Sid":"F3","Custom":{"nested":[1,2,3]}}`,
	}
	seed := doc(foreign[0], `{"Sid":"Mine","Effect":"Allow"}`, foreign[1], foreign[2])

	requests := []Request{
		{Operation: Create, OwnedStatements: []policy.Statement{stmt(`{"Sid":"Mine","Effect":"Deny"}`)}},
		{Operation: Update, OwnedSids: []string{"Mine"}, OwnedStatements: []policy.Statement{stmt(`{"Sid":"Renamed"}`)}},
		{Operation: Delete, OwnedSids: []string{"Mine"}},
	}
	for _, req := range requests {
		t.Run(string(req.Operation), func(t *testing.T) {
			store, err := memory.NewWithDocument(seed)
			require.NoError(t, err)

			out := newMemoryReconciler(t, store).Reconcile(context.Background(), req)
			require.True(t, out.Success, out.Reason)

			got, ok := store.Snapshot()
			require.True(t, ok)
			var kept []string
			for _, st := range got.Statements {
				if st.Sid() == "F1" || st.Sid() == "F2" || st.Sid() == "F3" {
					kept = append(kept, string(st.Raw()))
				}
			}
			assert.Equal(t, foreign, kept)
		})
	}
}

func TestReconcileAroundStatementsWithoutSid(t *testing.T) {
	seed, err := policy.ParseDocument([]byte(`{"Version":"2012-10-17","Statement":[` +
		`{"Effect":"Allow","Principal":{"AWS":"arn:aws:iam::444455556666:root"},"Action":"glue:*","Resource":"*"}]}`))
	require.NoError(t, err)
	store, err := memory.NewWithDocument(seed)
	require.NoError(t, err)
	r := newMemoryReconciler(t, store)

	created := r.Reconcile(context.Background(), createReq(`{"Sid":"B","Effect":"Allow"}`))
	require.True(t, created.Success, created.Reason)
	got, _ := store.Snapshot()
	assert.Equal(t, []string{"", "B"}, got.Sids())
	assert.Equal(t, seed.Statements[0].Raw(), got.Statements[0].Raw())

	deleted := r.Reconcile(context.Background(), Request{Operation: Delete, OwnedSids: []string{"B"}})
	require.True(t, deleted.Success, deleted.Reason)
	got, _ = store.Snapshot()
	assert.Equal(t, []string{""}, got.Sids())
	assert.Equal(t, seed.Statements[0].Raw(), got.Statements[0].Raw())
}

func TestUpdateWithRenamedSidRemovesOldStatement(t *testing.T) {
	store, err := memory.NewWithDocument(doc(`{"Sid":"A"}`, `{"Sid":"OldName"}`))
	require.NoError(t, err)

	out := newMemoryReconciler(t, store).Reconcile(context.Background(), Request{
		Operation:       Update,
		OwnedSids:       []string{"OldName", "NewName"},
		OwnedStatements: []policy.Statement{stmt(`{"Sid":"NewName"}`)},
	})
	require.True(t, out.Success, out.Reason)

	got, _ := store.Snapshot()
	assert.Equal(t, []string{"A", "NewName"}, got.Sids())
}

func TestReconcileScenarios(t *testing.T) {
	t.Run("create into foreign document", func(t *testing.T) {
		store, err := memory.NewWithDocument(doc(`{"Sid":"A"}`))
		require.NoError(t, err)
		out := newMemoryReconciler(t, store).Reconcile(context.Background(), createReq(`{"Sid":"B"}`))
		require.True(t, out.Success)
		got, _ := store.Snapshot()
		assert.Equal(t, []string{"A", "B"}, got.Sids())
	})

	t.Run("delete owned statement", func(t *testing.T) {
		store, err := memory.NewWithDocument(doc(`{"Sid":"A"}`, `{"Sid":"B"}`))
		require.NoError(t, err)
		out := newMemoryReconciler(t, store).Reconcile(context.Background(), Request{Operation: Delete, OwnedSids: []string{"B"}})
		require.True(t, out.Success)
		got, _ := store.Snapshot()
		assert.Equal(t, []string{"A"}, got.Sids())
	})

	t.Run("create with no document", func(t *testing.T) {
		store := memory.New()
		out := newMemoryReconciler(t, store).Reconcile(context.Background(), createReq(`{"Sid":"X"}`))
		require.True(t, out.Success)
		got, ok := store.Snapshot()
		require.True(t, ok)
		assert.Equal(t, []string{"X"}, got.Sids())
		assert.Equal(t, 1, store.Writes())
	})
}

func TestConcurrentReconcilersConverge(t *testing.T) {
	store := memory.New()
	r, err := New(store,
		WithMaxAttempts(50),
		WithBackoff(BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond, Jitter: true}),
	)
	require.NoError(t, err)

	const owners = 8
	g, ctx := errgroup.WithContext(context.Background())
	for i := range owners {
		g.Go(func() error {
			out := r.Reconcile(ctx, createReq(fmt.Sprintf(`{"Sid":"Owner%d","Effect":"Allow"}`, i)))
			if !out.Success {
				return fmt.Errorf("owner %d: %s", i, out.Reason)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got, ok := store.Snapshot()
	require.True(t, ok)
	assert.Len(t, got.Statements, owners)
	for i := range owners {
		assert.Contains(t, got.Sids(), fmt.Sprintf("Owner%d", i))
	}
}

func TestPhysicalResourceIDIsStable(t *testing.T) {
	a := PhysicalResourceID("glue:arn:aws:glue:eu-west-1:123456789012:catalog")
	b := PhysicalResourceID("glue:arn:aws:glue:eu-west-1:123456789012:catalog")
	c := PhysicalResourceID("glue:arn:aws:glue:eu-west-1:210987654321:catalog")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^catalog-policy-[0-9a-f-]{36}$`, a)
}
