package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/set-night/billingd/internal/config"
	"github.com/set-night/billingd/internal/domain"
)

type PendingQueries interface {
	CreatePendingsForDeliveredServices(ctx context.Context) ([]domain.BillingPending, error)
	ListOpenPendings(ctx context.Context) ([]domain.OpenPending, error)
}

type PendingService struct {
	queries PendingQueries
	logger  *slog.Logger
}

func NewPendingService(queries PendingQueries, logger *slog.Logger) *PendingService {
	return &PendingService{queries: queries, logger: logger}
}

// GeneratePendings creates a pending for every delivered service that does
// not have one yet. Running it again without new deliveries creates nothing.
func (s *PendingService) GeneratePendings(ctx context.Context) (domain.GenerateResult, error) {
	created, err := s.queries.CreatePendingsForDeliveredServices(ctx)
	if err != nil {
		return domain.GenerateResult{}, fmt.Errorf("create pendings: %w", err)
	}

	if len(created) == 0 {
		return domain.GenerateResult{Message: "No new services to process", Count: 0}, nil
	}

	s.logger.Info("billing pendings generated", "count", len(created))

	sample := make([]int64, 0, config.PendingSampleSize)
	for _, p := range created[:min(len(created), config.PendingSampleSize)] {
		sample = append(sample, p.ID)
	}

	return domain.GenerateResult{
		Message:   "Pendings generated successfully",
		Count:     len(created),
		SampleIDs: sample,
	}, nil
}

func (s *PendingService) ListPending(ctx context.Context) ([]domain.OpenPending, error) {
	items, err := s.queries.ListOpenPendings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pendings: %w", err)
	}
	if items == nil {
		items = []domain.OpenPending{}
	}
	return items, nil
}
