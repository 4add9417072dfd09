package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/docstore"
	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/handler"
	"github.com/pkordes/tripsync/backend/internal/identity"
	"github.com/pkordes/tripsync/backend/internal/middleware"
	"github.com/pkordes/tripsync/backend/internal/repo"
	"github.com/pkordes/tripsync/backend/internal/service"
	"github.com/pkordes/tripsync/backend/internal/session"
	"github.com/pkordes/tripsync/backend/internal/tripsync"
	"github.com/pkordes/tripsync/backend/testutil"
)

var (
	alice = identity.User{ID: "alice", Email: "alice@example.com"}
	bob   = identity.User{ID: "bob", Email: "bob@example.com"}
)

// ---- mock ExportServicer ---------------------------------------------------

type mockExportServicer struct {
	export   func(ctx context.Context, userID, tripID string) ([]domain.ExportRow, error)
	expenses func(ctx context.Context, userID, tripID string) ([]domain.Expense, error)
}

func (m *mockExportServicer) Export(ctx context.Context, userID, tripID string) ([]domain.ExportRow, error) {
	return m.export(ctx, userID, tripID)
}
func (m *mockExportServicer) Expenses(ctx context.Context, userID, tripID string) ([]domain.Expense, error) {
	return m.expenses(ctx, userID, tripID)
}

// compile-time check: mockExportServicer must satisfy handler.ExportServicer.
var _ handler.ExportServicer = (*mockExportServicer)(nil)

// ---- harness ---------------------------------------------------------------

// testAPI is the full HTTP stack over an in-memory store: real engines,
// sessions and bearer-token auth.
type testAPI struct {
	t        *testing.T
	handler  http.Handler
	trips    repo.TripRepo
	sessions *session.Manager
	verifier *identity.JWTVerifier
}

// newTestAPI wires the API the way main.go does. A nil export uses the real
// ExportService.
func newTestAPI(t *testing.T, export handler.ExportServicer) *testAPI {
	t.Helper()
	logger := testutil.Logger(t)
	store := docstore.NewMemory(logger)
	t.Cleanup(func() { _ = store.Close() })

	trips := repo.NewTripRepo(store)
	invitations := repo.NewInvitationRepo(store)
	expenses := repo.NewDocExpenseRepo(store)
	sessions := session.NewManager(func() *tripsync.Engine {
		return tripsync.New(tripsync.Config{
			Trips:             trips,
			Invitations:       invitations,
			TripService:       service.NewTripService(trips, invitations, logger),
			InvitationService: service.NewInvitationService(trips, invitations, logger),
			CheckIn:           service.NewCheckInWorkflow(trips, expenses, logger),
			PollInterval:      20 * time.Millisecond,
			Logger:            logger,
		})
	}, logger)
	t.Cleanup(func() { _ = sessions.Close() })

	if export == nil {
		export = service.NewExportService(trips, expenses)
	}
	verifier := identity.NewJWTVerifier("test-secret")
	srv := handler.NewServer(sessions, export, logger, []string{"http://localhost:5173"})
	return &testAPI{
		t:        t,
		handler:  srv.Handler(middleware.NewAuthHandler(verifier, logger)),
		trips:    trips,
		sessions: sessions,
		verifier: verifier,
	}
}

func (a *testAPI) token(u identity.User) string {
	a.t.Helper()
	tok, err := a.verifier.Issue(u, time.Hour)
	require.NoError(a.t, err)
	return tok
}

// do sends a request as u (anonymous when u is the zero User) and returns the
// recorded response.
func (a *testAPI) do(u identity.User, method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		r = jsonBody(a.t, body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if u.ID != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(u))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

// seed writes a trip directly through the repo, as another device would.
func (a *testAPI) seed(kind domain.TripKind, t domain.Trip) domain.TripRecord {
	a.t.Helper()
	rec, err := a.trips.Save(context.Background(), domain.TripRecord{Trip: t, Kind: kind})
	require.NoError(a.t, err)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func day(n int) *time.Time {
	d := time.Date(2025, 6, n, 9, 0, 0, 0, time.UTC)
	return &d
}

// korea is a trip with three activities on days 3, 1 and 2, stored out of
// order.
func korea(owner string) domain.Trip {
	return domain.Trip{
		Name:        "Korea",
		Destination: "Seoul",
		StartDate:   *day(1),
		EndDate:     *day(3),
		OwnerID:     owner,
		Budget:      &domain.Budget{EstimatedCost: decimal.NewFromInt(300000), Currency: "KRW"},
		Activities: []domain.Activity{
			{ID: "a3", Title: "Namsan", StartDate: day(3)},
			{ID: "a1", Title: "Gyeongbokgung", StartDate: day(1),
				Budget: &domain.ActivityBudget{EstimatedCost: decimal.NewFromInt(90000), Currency: "KRW", Category: "sightseeing"}},
			{ID: "a2", Title: "Bukchon", StartDate: day(2)},
		},
	}
}
