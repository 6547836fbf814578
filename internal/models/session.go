package models

// SessionCounters is the lightweight view of the current session.
type SessionCounters struct {
	Clicks           int     `json:"clicks"`
	Caps             int     `json:"caps"`
	LastClick        *int64  `json:"lastClick"`
	Consumption      float64 `json:"consumption"`
	ConsumptionTotal float64 `json:"consumptionTotal"`
}

// SessionData is the aggregated session view including grouped history, newest group first.
type SessionData struct {
	SessionCounters
	HeatCycles [][]HeatCycle `json:"heat_cycles"`
}

// Counters drops the history.
func (d SessionData) Counters() SessionCounters {
	return d.SessionCounters
}
