// README: Master reference data: warehouses, ship types, lead times, round times.
package master

type Warehouse struct {
	Code   string `json:"warehouse_code"`
	Name   string `json:"warehouse_name"`
	Active bool   `json:"is_active"`
}

type ShipType struct {
	Cartype    string `json:"cartype"`
	Cartypedes string `json:"cartypedes"`
	Active     bool   `json:"is_active"`
}

// Leadtime is the route master row; Days drives how long a truck stays
// blocked after an appointment.
type Leadtime struct {
	Route    string  `json:"route"`
	Routedes string  `json:"routedes"`
	Zone     string  `json:"zone"`
	Zonedes  string  `json:"zonedes"`
	Days     float64 `json:"leadtime"`
}

// MasterRound is a canonical round time a dispatcher can pick from.
type MasterRound struct {
	ID        int64  `json:"id"`
	RoundTime string `json:"round_time"`
	RoundName string `json:"round_name"`
	Active    bool   `json:"is_active"`
}
