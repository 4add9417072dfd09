package service

import (
	"context"
	"fmt"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/repo"
)

// ExportService assembles a flat itinerary export of one trip and its
// expense ledger.
type ExportService struct {
	trips    repo.TripRepo
	expenses repo.ExpenseRepo
}

// NewExportService constructs an ExportService backed by the provided repos.
func NewExportService(trips repo.TripRepo, expenses repo.ExpenseRepo) *ExportService {
	return &ExportService{trips: trips, expenses: expenses}
}

// Export returns one ExportRow per activity of the trip, in chronological
// order. A trip with no activities yields one row with empty activity fields.
func (s *ExportService) Export(ctx context.Context, userID, tripID string) ([]domain.ExportRow, error) {
	rec, err := s.visible(ctx, userID, tripID)
	if err != nil {
		return nil, fmt.Errorf("service.ExportService.Export: %w", err)
	}
	return domain.ExportRows(rec.Trip), nil
}

// Expenses returns the ledger entries recorded for the trip.
func (s *ExportService) Expenses(ctx context.Context, userID, tripID string) ([]domain.Expense, error) {
	rec, err := s.visible(ctx, userID, tripID)
	if err != nil {
		return nil, fmt.Errorf("service.ExportService.Expenses: %w", err)
	}
	out, err := s.expenses.ListByTrip(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("service.ExportService.Expenses: %w", err)
	}
	return out, nil
}

func (s *ExportService) visible(ctx context.Context, userID, tripID string) (domain.TripRecord, error) {
	rec, err := s.trips.Locate(ctx, userID, tripID)
	if err != nil {
		return domain.TripRecord{}, err
	}
	if !domain.CanView(rec.Trip, userID) {
		return domain.TripRecord{}, domain.ErrPermission
	}
	return rec, nil
}
