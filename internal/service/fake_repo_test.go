package service

import (
	"context"
	"sync"

	"heizbox/internal/models"
)

// fakeHeatCycleRepo is an in-memory repository.HeatCycleRepo.
type fakeHeatCycleRepo struct {
	mu   sync.Mutex
	rows []models.HeatCycle

	createErr error
	countErr  error
	listErr   error

	creates    int
	sinceArg   int64
	rangeStart int64
	rangeEnd   int64
}

func (f *fakeHeatCycleRepo) Create(ctx context.Context, c models.HeatCycle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	f.rows = append(f.rows, c)
	return nil
}

func (f *fakeHeatCycleRepo) CountSince(ctx context.Context, duration float64, cycle int, sinceUnix int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, r := range f.rows {
		if r.Duration == duration && r.Cycle == cycle && r.CreatedAt > sinceUnix {
			n++
		}
	}
	return n, nil
}

func (f *fakeHeatCycleRepo) ListSince(ctx context.Context, sinceUnix int64) ([]models.HeatCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceArg = sinceUnix
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.HeatCycle
	for _, r := range f.rows {
		if r.CreatedAt >= sinceUnix {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeHeatCycleRepo) ListRange(ctx context.Context, startUnix, endUnix int64) ([]models.HeatCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeStart, f.rangeEnd = startUnix, endUnix
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.HeatCycle
	for _, r := range f.rows {
		if r.CreatedAt >= startUnix && r.CreatedAt < endUnix {
			out = append(out, r)
		}
	}
	return out, nil
}
