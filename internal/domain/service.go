package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ServiceStatus string

const (
	ServiceStatusPending   ServiceStatus = "PENDING"
	ServiceStatusInTransit ServiceStatus = "IN_TRANSIT"
	ServiceStatusDelivered ServiceStatus = "DELIVERED"
	ServiceStatusCancelled ServiceStatus = "CANCELLED"
)

// Service is a logistics delivery. Only delivered services can be billed.
type Service struct {
	ID          int64
	ServiceDate Date
	CustomerID  int64
	Amount      decimal.Decimal
	Status      ServiceStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Service) IsBillable() bool {
	return s.Status == ServiceStatusDelivered
}
