package repository

import (
	"context"
	"database/sql"
	"fmt"

	"heizbox/internal/models"
)

type HeatCycleSQLite struct {
	db *sql.DB
}

func NewHeatCycleSQLite(db *sql.DB) *HeatCycleSQLite { return &HeatCycleSQLite{db: db} }

const (
	listSinceLimit = 500
	listRangeLimit = 1000

	insertHeatCycleSQL = `INSERT INTO heat_cycles (id, created_at, duration, cycle) VALUES (?, ?, ?, ?)`

	countDuplicatesSQL = `SELECT COUNT(*) FROM heat_cycles WHERE duration = ? AND cycle = ? AND created_at > ?`

	selectSinceSQL = `SELECT id, created_at, duration, cycle FROM heat_cycles WHERE created_at >= ? ORDER BY created_at ASC LIMIT ?`

	selectRangeSQL = `SELECT id, created_at, duration, cycle FROM heat_cycles WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC LIMIT ?`
)

// Create inserts c as is; id and created_at are the caller's responsibility.
func (r *HeatCycleSQLite) Create(ctx context.Context, c models.HeatCycle) error {
	if _, err := r.db.ExecContext(ctx, insertHeatCycleSQL, c.ID, c.CreatedAt, c.Duration, c.Cycle); err != nil {
		return fmt.Errorf("insert heat cycle %q: %w", c.ID, err)
	}
	return nil
}

func (r *HeatCycleSQLite) CountSince(ctx context.Context, duration float64, cycle int, sinceUnix int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countDuplicatesSQL, duration, cycle, sinceUnix).Scan(&n); err != nil {
		return 0, fmt.Errorf("count heat cycles: %w", err)
	}
	return n, nil
}

// ListSince returns rows created at or after sinceUnix, oldest first.
func (r *HeatCycleSQLite) ListSince(ctx context.Context, sinceUnix int64) ([]models.HeatCycle, error) {
	return r.query(ctx, selectSinceSQL, sinceUnix, listSinceLimit)
}

// ListRange returns rows in [startUnix, endUnix), oldest first.
func (r *HeatCycleSQLite) ListRange(ctx context.Context, startUnix, endUnix int64) ([]models.HeatCycle, error) {
	return r.query(ctx, selectRangeSQL, startUnix, endUnix, listRangeLimit)
}

func (r *HeatCycleSQLite) query(ctx context.Context, q string, args ...any) ([]models.HeatCycle, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query heat cycles: %w", err)
	}
	defer rows.Close()

	out := make([]models.HeatCycle, 0, 64)
	for rows.Next() {
		var c models.HeatCycle
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.Duration, &c.Cycle); err != nil {
			return nil, fmt.Errorf("scan heat cycle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
