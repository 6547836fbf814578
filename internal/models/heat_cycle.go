package models

// HeatCycle is one completed heating cycle as stored in heat_cycles.
// CreatedAt is unix seconds.
type HeatCycle struct {
	ID        string  `json:"id" example:"5b1c7f0e-3a0e-4bb4-9f55-0c3f0c7b8c11"`
	CreatedAt int64   `json:"created_at" example:"1760680800"`
	Duration  float64 `json:"duration" example:"15"`
	Cycle     int     `json:"cycle" example:"1"`
}
