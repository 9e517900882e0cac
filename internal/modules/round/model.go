// README: Booking rounds: a per-warehouse departure slot grouping shipments.
package round

import (
	"time"

	"dispatch/internal/modules/shipment"
	"dispatch/internal/types"
)

type Status string

const (
	// StatusPending: created, shipments collected, allocator not run yet.
	StatusPending Status = "pending"
	// StatusAllocated: allocator distributed the shipments to vendors.
	StatusAllocated Status = "allocated"
	// StatusConfirmed: dispatcher finalized every confirmed shipment.
	StatusConfirmed Status = "confirmed"
)

type Round struct {
	ID            int64
	RoundName     string
	RoundDate     types.Date
	RoundTime     string // HH:MM
	WarehouseCode string
	Volume        *float64
	Status        Status
	CreatedAt     time.Time

	Shipments []shipment.Shipment
}
