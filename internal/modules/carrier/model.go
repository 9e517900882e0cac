// README: Vendor and car master data; grade ordering.
package carrier

import (
	"time"

	"dispatch/internal/types"
)

// Grade is the vendor tier, A highest priority.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// GradeOrder is the assignment priority, best first.
var GradeOrder = []Grade{GradeA, GradeB, GradeC, GradeD}

// Rank returns the sort position of a grade; unknown grades sort last.
func (g Grade) Rank() int {
	for i, o := range GradeOrder {
		if g == o {
			return i
		}
	}
	return len(GradeOrder)
}

func (g Grade) Valid() bool {
	return g.Rank() < len(GradeOrder)
}

type Vendor struct {
	Vencode        string
	Venname        string
	Grade          Grade
	Score          *float64
	Perallocate    *float64
	Active         bool
	LastAssignedAt *time.Time
}

type Car struct {
	Carlicense        string
	Vencode           string
	Venname           string
	Conid             string
	Cartype           string
	Cartypedes        string
	Remark            *string
	Active            bool
	WillBeAvailableAt *types.Date
}

// UsableOn reports whether the car can take a job departing on the given day.
func (c Car) UsableOn(required types.Date) bool {
	if !c.Active {
		return false
	}
	return c.WillBeAvailableAt == nil || !c.WillBeAvailableAt.After(required.Time)
}

// Capacity is a vendor together with the car types it can currently serve.
// The allocator works entirely off this snapshot.
type Capacity struct {
	Vendor   Vendor
	CarTypes map[string]bool
	Cars     []Car
}
