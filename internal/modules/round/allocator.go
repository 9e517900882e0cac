// README: Quota-based allocation of a round's shipments across vendor grades.
package round

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"dispatch/internal/config"
	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/shipment"
)

// Assignment is one allocator decision: which vendor gets which shipment,
// and the virtual assignment instant used for round-robin fairness.
type Assignment struct {
	Shipid     string
	Vencode    string
	Grade      carrier.Grade
	AssignedAt time.Time
}

// Plan is the allocator's full decision for one round.
type Plan struct {
	Assignments []Assignment
	Held        []string // shipids with no taker
	Quotas      map[carrier.Grade]int
}

// GradeQuotas splits n shipments across grades: floors of the configured
// shares for A, B and C; D absorbs the remainder.
func GradeQuotas(n int, cfg config.DispatchConfig) map[carrier.Grade]int {
	qa := int(math.Floor(cfg.QuotaA * float64(n)))
	qb := int(math.Floor(cfg.QuotaB * float64(n)))
	qc := int(math.Floor(cfg.QuotaC * float64(n)))
	return map[carrier.Grade]int{
		carrier.GradeA: qa,
		carrier.GradeB: qb,
		carrier.GradeC: qc,
		carrier.GradeD: n - qa - qb - qc,
	}
}

type candidate struct {
	capacity     carrier.Capacity
	lastAssigned *time.Time
}

// PlanAllocation distributes the shipments over the vendor capacities.
// Pure: the decision depends only on the inputs, so the same round and the
// same capacity snapshot always produce the same plan.
//
// Per shipment, in input order: rank eligible vendors by grade, then
// last_assigned_at ascending (never-assigned first), then vencode; take the
// first whose grade still has quota. A vendor that wins goes to the back of
// its grade's rotation. Shipments nobody can take are held.
func PlanAllocation(shipments []shipment.Shipment, caps []carrier.Capacity, cfg config.DispatchConfig, now time.Time) Plan {
	plan := Plan{Quotas: GradeQuotas(len(shipments), cfg)}
	allocated := map[carrier.Grade]int{}

	candidates := lo.Map(caps, func(c carrier.Capacity, _ int) *candidate {
		return &candidate{capacity: c, lastAssigned: c.Vendor.LastAssignedAt}
	})

	seq := 0
	for _, sh := range shipments {
		eligible := lo.Filter(candidates, func(c *candidate, _ int) bool {
			return c.capacity.Vendor.Active &&
				sh.Cartype != nil && c.capacity.CarTypes[*sh.Cartype]
		})
		sort.SliceStable(eligible, func(i, j int) bool {
			vi, vj := eligible[i], eligible[j]
			ri, rj := vi.capacity.Vendor.Grade.Rank(), vj.capacity.Vendor.Grade.Rank()
			if ri != rj {
				return ri < rj
			}
			if !sameInstant(vi.lastAssigned, vj.lastAssigned) {
				return beforeNilFirst(vi.lastAssigned, vj.lastAssigned)
			}
			return vi.capacity.Vendor.Vencode < vj.capacity.Vendor.Vencode
		})

		winner := (*candidate)(nil)
		for _, c := range eligible {
			g := c.capacity.Vendor.Grade
			if allocated[g] < plan.Quotas[g] {
				winner = c
				break
			}
		}
		if winner == nil {
			plan.Held = append(plan.Held, sh.Shipid)
			continue
		}

		g := winner.capacity.Vendor.Grade
		allocated[g]++
		// Strictly increasing virtual instants keep the rotation moving even
		// within a single run.
		at := now.Add(time.Duration(seq) * time.Millisecond)
		seq++
		winner.lastAssigned = &at
		plan.Assignments = append(plan.Assignments, Assignment{
			Shipid:     sh.Shipid,
			Vencode:    winner.capacity.Vendor.Vencode,
			Grade:      g,
			AssignedAt: at,
		})
	}
	return plan
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// beforeNilFirst orders timestamps ascending with nil sorting before
// everything.
func beforeNilFirst(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}
