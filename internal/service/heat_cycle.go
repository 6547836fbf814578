package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"heizbox/internal/models"
	"heizbox/internal/repository"

	"github.com/google/uuid"
)

var (
	// ErrInvalidHeatCycle marks a duration/cycle pair rejected before any store access.
	ErrInvalidHeatCycle = errors.New("invalid heat cycle")
	// ErrDuplicateHeatCycle marks a submission matching a row inside the duplicate window.
	ErrDuplicateHeatCycle = errors.New("duplicate heat cycle")
)

const DefaultDuplicateWindow = 30 * time.Second

// ValidateHeatCycle requires a finite positive duration and a cycle of at least 1.
func ValidateHeatCycle(duration float64, cycle int) error {
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return fmt.Errorf("%w: duration must be a positive number, got %v", ErrInvalidHeatCycle, duration)
	}
	if cycle < 1 {
		return fmt.Errorf("%w: cycle must be >= 1, got %d", ErrInvalidHeatCycle, cycle)
	}
	return nil
}

type HeatCycleService struct {
	repo   repository.HeatCycleRepo
	window time.Duration
	now    func() time.Time
}

func NewHeatCycleService(repo repository.HeatCycleRepo, window time.Duration) *HeatCycleService {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	return &HeatCycleService{repo: repo, window: window, now: time.Now}
}

// Record validates, checks the durable duplicate window and inserts a new row.
func (s *HeatCycleService) Record(ctx context.Context, duration float64, cycle int) (models.HeatCycle, error) {
	if err := ValidateHeatCycle(duration, cycle); err != nil {
		return models.HeatCycle{}, err
	}

	now := s.now()
	since := now.Add(-s.window).Unix()
	n, err := s.repo.CountSince(ctx, duration, cycle, since)
	if err != nil {
		return models.HeatCycle{}, err
	}
	if n > 0 {
		return models.HeatCycle{}, ErrDuplicateHeatCycle
	}

	rec := models.HeatCycle{
		ID:        uuid.NewString(),
		CreatedAt: now.Unix(),
		Duration:  duration,
		Cycle:     cycle,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return models.HeatCycle{}, err
	}
	return rec, nil
}
