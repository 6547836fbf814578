package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"heizbox/internal/models"
)

// Keys persisted in a device's durable storage.
const (
	KeyIsOn                    = "isOn"
	KeyIsHeating               = "isHeating"
	KeyLastSeen                = "lastSeen"
	KeyCurrentSessionClicks    = "currentSessionClicks"
	KeyCurrentSessionLastClick = "currentSessionLastClick"
	KeyCurrentSessionStart     = "currentSessionStart"
)

// ErrStoreClosed is returned by state stores after Close.
var ErrStoreClosed = errors.New("state store closed")

// HeatCycleRepo is the relational history of completed heat cycles.
type HeatCycleRepo interface {
	Create(ctx context.Context, c models.HeatCycle) error
	// CountSince counts rows with the same duration and cycle created strictly after sinceUnix.
	CountSince(ctx context.Context, duration float64, cycle int, sinceUnix int64) (int, error)
	ListSince(ctx context.Context, sinceUnix int64) ([]models.HeatCycle, error)
	ListRange(ctx context.Context, startUnix, endUnix int64) ([]models.HeatCycle, error)
}

// DeviceStorage is the durable key/value space of one device plus its single alarm slot.
type DeviceStorage interface {
	// Get decodes the value stored under key into dst and reports whether it existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Put(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error

	GetAlarm(ctx context.Context) (time.Time, bool, error)
	SetAlarm(ctx context.Context, at time.Time) error
	DeleteAlarm(ctx context.Context) error
}

// StateStore hands out per-device storages.
type StateStore interface {
	ForDevice(deviceID string) DeviceStorage
	// DevicesWithAlarms lists devices that have a scheduled alarm.
	DevicesWithAlarms(ctx context.Context) ([]string, error)
	Close() error
}

type Repository struct {
	HeatCycles HeatCycleRepo
	State      StateStore
}

func NewRepository(db *sql.DB, state StateStore) *Repository {
	return &Repository{
		HeatCycles: NewHeatCycleSQLite(db),
		State:      state,
	}
}
