package service

import (
	"context"
	"time"

	"heizbox/internal/models"
	"heizbox/internal/repository"
)

// HeatCycles persists completed heat cycles behind the durable duplicate window.
type HeatCycles interface {
	Record(ctx context.Context, duration float64, cycle int) (models.HeatCycle, error)
}

// Sessions computes the current session view.
type Sessions interface {
	CurrentSessionData(ctx context.Context) (models.SessionData, error)
}

// Service aggregates the domain services.
type Service struct {
	HeatCycles
	Sessions
}

// NewService wires the repository layer into concrete services.
func NewService(repos *repository.Repository, duplicateWindow time.Duration, sess SessionOptions) *Service {
	return &Service{
		HeatCycles: NewHeatCycleService(repos.HeatCycles, duplicateWindow),
		Sessions:   NewSessionService(repos.HeatCycles, sess),
	}
}
