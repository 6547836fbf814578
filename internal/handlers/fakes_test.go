package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"heizbox/internal/coordinator"
	"heizbox/internal/logger"
	"heizbox/internal/models"
	"heizbox/internal/repository"
	"heizbox/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// fakeCycles is an in-memory service.HeatCycles.
type fakeCycles struct {
	mu      sync.Mutex
	records []models.HeatCycle
	err     error
}

func (f *fakeCycles) Record(ctx context.Context, duration float64, cycle int) (models.HeatCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.HeatCycle{}, f.err
	}
	if err := service.ValidateHeatCycle(duration, cycle); err != nil {
		return models.HeatCycle{}, err
	}
	rec := models.HeatCycle{ID: uuid.NewString(), CreatedAt: time.Now().Unix(), Duration: duration, Cycle: cycle}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeCycles) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeCycles) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeSessions reports every recorded cycle as one group.
type fakeSessions struct {
	cycles *fakeCycles
}

func (f *fakeSessions) CurrentSessionData(ctx context.Context) (models.SessionData, error) {
	f.cycles.mu.Lock()
	rows := append([]models.HeatCycle(nil), f.cycles.records...)
	f.cycles.mu.Unlock()

	data := models.SessionData{HeatCycles: [][]models.HeatCycle{}}
	data.Clicks = len(rows)
	if len(rows) > 0 {
		data.HeatCycles = [][]models.HeatCycle{rows}
		last := rows[len(rows)-1].CreatedAt
		data.LastClick = &last
	}
	for _, r := range rows {
		if r.Cycle == 1 {
			data.Caps++
		}
	}
	return data, nil
}

type testEnv struct {
	cycles   *fakeCycles
	registry *coordinator.Registry
	router   *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cycles := &fakeCycles{}
	reg := coordinator.NewRegistry(coordinator.Dependencies{
		Store:      repository.NewStateMemory(),
		HeatCycles: cycles,
		Sessions:   &fakeSessions{cycles: cycles},
		Log:        logger.Nop(),
	}, coordinator.Options{OfflineThreshold: time.Hour})
	t.Cleanup(reg.Close)

	h := NewHandler(reg, logger.Nop())
	return &testEnv{cycles: cycles, registry: reg, router: h.InitRoutes()}
}
