package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"heizbox/internal/models"
	"heizbox/internal/repository"
)

// SessionOptions tunes the session aggregation.
type SessionOptions struct {
	Lookback            time.Duration
	GroupInterval       time.Duration
	ConsumptionPerCycle float64
	Location            *time.Location
	DayStartHour        int
}

// DefaultSessionOptions: two hour lookback, 60 minute grouping, 0.05 per cap, Berlin day from 09:00.
func DefaultSessionOptions() SessionOptions {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		loc = time.UTC
	}
	return SessionOptions{
		Lookback:            2 * time.Hour,
		GroupInterval:       60 * time.Minute,
		ConsumptionPerCycle: 0.05,
		Location:            loc,
		DayStartHour:        9,
	}
}

type SessionService struct {
	repo repository.HeatCycleRepo
	opts SessionOptions
	now  func() time.Time
}

func NewSessionService(repo repository.HeatCycleRepo, opts SessionOptions) *SessionService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &SessionService{repo: repo, opts: opts, now: time.Now}
}

// CurrentSessionData aggregates the recent heat cycles and today's consumption.
func (s *SessionService) CurrentSessionData(ctx context.Context) (models.SessionData, error) {
	now := s.now()

	recent, err := s.repo.ListSince(ctx, now.Add(-s.opts.Lookback).Unix())
	if err != nil {
		return models.SessionData{}, fmt.Errorf("load recent session: %w", err)
	}
	start, end := DayRange(now, s.opts.Location, s.opts.DayStartHour)
	today, err := s.repo.ListRange(ctx, start.Unix(), end.Unix())
	if err != nil {
		return models.SessionData{}, fmt.Errorf("load today's cycles: %w", err)
	}

	caps := countCaps(recent)
	data := models.SessionData{
		SessionCounters: models.SessionCounters{
			Clicks:           len(recent),
			Caps:             caps,
			Consumption:      CalculateConsumption(caps, s.opts.ConsumptionPerCycle),
			ConsumptionTotal: CalculateConsumption(countCaps(today), s.opts.ConsumptionPerCycle),
		},
		HeatCycles: GroupSessions(recent, s.opts.GroupInterval),
	}
	if len(recent) > 0 {
		last := recent[len(recent)-1].CreatedAt
		data.LastClick = &last
	}
	return data, nil
}

func countCaps(rows []models.HeatCycle) int {
	n := 0
	for _, r := range rows {
		if r.Cycle == 1 {
			n++
		}
	}
	return n
}

// GroupSessions splits rows (oldest first) wherever two neighbours are at least
// interval apart and returns the groups newest first.
func GroupSessions(rows []models.HeatCycle, interval time.Duration) [][]models.HeatCycle {
	if len(rows) == 0 {
		return [][]models.HeatCycle{}
	}
	gap := int64(interval / time.Second)

	groups := make([][]models.HeatCycle, 0, 4)
	current := []models.HeatCycle{rows[0]}
	for i := 1; i < len(rows); i++ {
		if rows[i].CreatedAt-rows[i-1].CreatedAt >= gap {
			groups = append(groups, current)
			current = []models.HeatCycle{rows[i]}
			continue
		}
		current = append(current, rows[i])
	}
	groups = append(groups, current)

	for i, j := 0, len(groups)-1; i < j; i, j = i+1, j-1 {
		groups[i], groups[j] = groups[j], groups[i]
	}
	return groups
}

// CalculateConsumption is count*perCycle rounded to two decimals.
func CalculateConsumption(count int, perCycle float64) float64 {
	return math.Round(float64(count)*perCycle*100) / 100
}

// DayRange returns the local "day" containing now: it starts at startHour and
// lasts 24h, so times before startHour belong to the previous day.
func DayRange(now time.Time, loc *time.Location, startHour int) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), startHour, 0, 0, 0, loc)
	if local.Hour() < startHour {
		start = start.AddDate(0, 0, -1)
	}
	return start, start.AddDate(0, 0, 1)
}
