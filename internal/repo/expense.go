package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/pkordes/tripsync/backend/internal/docstore"
	"github.com/pkordes/tripsync/backend/internal/domain"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ExpenseRepo is the expense ledger the check-in workflow writes to.
type ExpenseRepo interface {
	// CreateFromActivity records an expense for an activity and returns its id.
	// At most one expense exists per (tripID, activityID): a repeated call
	// returns the id of the existing entry and writes nothing.
	CreateFromActivity(ctx context.Context, amount decimal.Decimal, category, description, activityID, tripID string) (string, error)

	// ListByTrip returns the trip's expenses, oldest first.
	ListByTrip(ctx context.Context, tripID string) ([]domain.Expense, error)
}

// pgExpenseRepo is the Postgres implementation of ExpenseRepo.
type pgExpenseRepo struct {
	db db
}

// NewExpenseRepo constructs an ExpenseRepo backed by the expenses table.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewExpenseRepo(db db) ExpenseRepo {
	return &pgExpenseRepo{db: db}
}

// CreateFromActivity inserts the expense. The no-op DO UPDATE makes RETURNING
// yield the existing row on conflict, so the call is idempotent.
func (r *pgExpenseRepo) CreateFromActivity(ctx context.Context, amount decimal.Decimal, category, description, activityID, tripID string) (string, error) {
	const q = `
		INSERT INTO expenses (trip_id, activity_id, amount, category, description)
		VALUES (@trip_id, @activity_id, @amount::numeric, @category, @description)
		ON CONFLICT (trip_id, activity_id) DO UPDATE SET trip_id = EXCLUDED.trip_id
		RETURNING id`

	args := pgx.NamedArgs{
		"trip_id":     tripID,
		"activity_id": activityID,
		"amount":      amount.String(),
		"category":    category,
		"description": description,
	}

	var id pgtype.UUID
	if err := r.db.QueryRow(ctx, q, args).Scan(&id); err != nil {
		return "", fmt.Errorf("repo.ExpenseRepo.CreateFromActivity: %w", err)
	}
	return uuid.UUID(id.Bytes).String(), nil
}

// ListByTrip returns the trip's ledger entries ordered by creation time.
func (r *pgExpenseRepo) ListByTrip(ctx context.Context, tripID string) ([]domain.Expense, error) {
	const q = `
		SELECT id, trip_id, activity_id, amount::text, category, description, created_at
		FROM expenses
		WHERE trip_id = @trip_id
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.ExpenseRepo.ListByTrip: %w", err)
	}
	defer rows.Close()

	var out []domain.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.ExpenseRepo.ListByTrip: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.ExpenseRepo.ListByTrip: rows: %w", err)
	}
	return out, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(s scanner) (domain.Expense, error) {
	var (
		e      domain.Expense
		id     pgtype.UUID
		amount string
	)
	if err := s.Scan(&id, &e.TripID, &e.ActivityID, &amount, &e.Category, &e.Description, &e.CreatedAt); err != nil {
		return domain.Expense{}, err
	}
	e.ID = uuid.UUID(id.Bytes).String()
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Expense{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	e.Amount = d
	return e, nil
}

// docExpenseRepo keeps the ledger in the document store for the drivers that
// have no Postgres. The document id is derived from (tripID, activityID),
// which gives idempotency without a unique index.
type docExpenseRepo struct {
	store docstore.Store
	now   func() time.Time
}

// NewDocExpenseRepo constructs an ExpenseRepo backed by the provided store.
func NewDocExpenseRepo(store docstore.Store) ExpenseRepo {
	return &docExpenseRepo{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func expenseRef(tripID, activityID string) docstore.Ref {
	return docstore.Ref{Collection: ExpensesCollection, ID: tripID + ":" + activityID}
}

// CreateFromActivity returns the existing entry's id or writes a new one.
func (r *docExpenseRepo) CreateFromActivity(ctx context.Context, amount decimal.Decimal, category, description, activityID, tripID string) (string, error) {
	ref := expenseRef(tripID, activityID)
	existing, err := r.store.Get(ctx, ref)
	switch {
	case err == nil:
		e, err := decodeExpense(existing)
		if err != nil {
			return "", fmt.Errorf("repo.ExpenseRepo.CreateFromActivity: %w", err)
		}
		return e.ID, nil
	case !isNotFound(err):
		return "", fmt.Errorf("repo.ExpenseRepo.CreateFromActivity: %w", err)
	}

	e := domain.Expense{
		ID:          uuid.NewString(),
		TripID:      tripID,
		ActivityID:  activityID,
		Amount:      amount,
		Category:    category,
		Description: description,
		CreatedAt:   r.now(),
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("repo.ExpenseRepo.CreateFromActivity: %w", err)
	}
	doc := docstore.Document{Data: data, Keys: map[string][]string{keyTrip: {tripID}}}
	if _, err := r.store.Put(ctx, ref, doc); err != nil {
		return "", fmt.Errorf("repo.ExpenseRepo.CreateFromActivity: %w", err)
	}
	return e.ID, nil
}

// ListByTrip returns the trip's entries ordered by creation time.
func (r *docExpenseRepo) ListByTrip(ctx context.Context, tripID string) ([]domain.Expense, error) {
	docs, err := r.store.Find(ctx, docstore.Where(ExpensesCollection, docstore.Has(keyTrip, tripID)))
	if err != nil {
		return nil, fmt.Errorf("repo.ExpenseRepo.ListByTrip: %w", err)
	}
	out := make([]domain.Expense, 0, len(docs))
	for _, d := range docs {
		e, err := decodeExpense(d)
		if err != nil {
			return nil, fmt.Errorf("repo.ExpenseRepo.ListByTrip: %w", err)
		}
		out = append(out, e)
	}
	sortExpenses(out)
	return out, nil
}

func decodeExpense(d docstore.Document) (domain.Expense, error) {
	var e domain.Expense
	if err := json.Unmarshal(d.Data, &e); err != nil {
		return domain.Expense{}, fmt.Errorf("decode expense %s: %w", d.ID, err)
	}
	return e, nil
}

func sortExpenses(es []domain.Expense) {
	slices.SortStableFunc(es, func(a, b domain.Expense) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
