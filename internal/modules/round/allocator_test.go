// README: Allocator tests: quota math, ranking, round-robin, hold fallback.
package round

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/shipment"
)

func testCfg() config.DispatchConfig {
	return config.DispatchConfig{QuotaA: 0.40, QuotaB: 0.30, QuotaC: 0.20}
}

func capOf(vencode string, grade carrier.Grade, cartypes ...string) carrier.Capacity {
	types := map[string]bool{}
	for _, t := range cartypes {
		types[t] = true
	}
	return carrier.Capacity{
		Vendor:   carrier.Vendor{Vencode: vencode, Venname: vencode, Grade: grade, Active: true},
		CarTypes: types,
	}
}

func shipmentsOfType(n int, cartype string) []shipment.Shipment {
	out := make([]shipment.Shipment, n)
	for i := range out {
		ct := cartype
		out[i] = shipment.Shipment{
			Shipid:  fmt.Sprintf("SH%03d", i+1),
			Docstat: shipment.StatWaitingRound,
			Cartype: &ct,
		}
	}
	return out
}

func TestGradeQuotas(t *testing.T) {
	cases := []struct {
		n          int
		a, b, c, d int
	}{
		{0, 0, 0, 0, 0},
		{1, 0, 0, 0, 1},
		{7, 2, 2, 1, 2},
		{10, 4, 3, 2, 1},
		{100, 40, 30, 20, 10},
	}
	for _, tc := range cases {
		q := GradeQuotas(tc.n, testCfg())
		if q[carrier.GradeA] != tc.a || q[carrier.GradeB] != tc.b ||
			q[carrier.GradeC] != tc.c || q[carrier.GradeD] != tc.d {
			t.Errorf("n=%d: got %v", tc.n, q)
		}
		total := q[carrier.GradeA] + q[carrier.GradeB] + q[carrier.GradeC] + q[carrier.GradeD]
		if total != tc.n {
			t.Errorf("n=%d: quotas sum to %d", tc.n, total)
		}
	}
}

func TestPlanAllocation_FullGradeSpread(t *testing.T) {
	caps := []carrier.Capacity{
		capOf("V_A_1", carrier.GradeA, "10"),
		capOf("V_A_2", carrier.GradeA, "10"),
		capOf("V_A_3", carrier.GradeA, "10"),
		capOf("V_B_1", carrier.GradeB, "10"),
		capOf("V_C_1", carrier.GradeC, "10"),
		capOf("V_D_1", carrier.GradeD, "10"),
	}
	plan := PlanAllocation(shipmentsOfType(10, "10"), caps, testCfg(), time.Now())

	if len(plan.Held) != 0 {
		t.Fatalf("expected no holds, got %v", plan.Held)
	}
	if len(plan.Assignments) != 10 {
		t.Fatalf("expected 10 assignments, got %d", len(plan.Assignments))
	}

	perGrade := map[carrier.Grade]int{}
	perVendor := map[string]int{}
	for _, a := range plan.Assignments {
		perGrade[a.Grade]++
		perVendor[a.Vencode]++
	}
	want := map[carrier.Grade]int{
		carrier.GradeA: 4, carrier.GradeB: 3, carrier.GradeC: 2, carrier.GradeD: 1,
	}
	if !reflect.DeepEqual(perGrade, want) {
		t.Errorf("grade spread: got %v, want %v", perGrade, want)
	}
	// Grade A round-robins: 4 jobs over 3 vendors means nobody gets 3.
	for _, v := range []string{"V_A_1", "V_A_2", "V_A_3"} {
		if perVendor[v] < 1 || perVendor[v] > 2 {
			t.Errorf("vendor %s got %d assignments, expected 1 or 2", v, perVendor[v])
		}
	}
}

func TestPlanAllocation_SingleEligibleVendor(t *testing.T) {
	caps := []carrier.Capacity{
		capOf("V_A_1", carrier.GradeA, "10"),
		capOf("V_A_2", carrier.GradeA, "20"),
		capOf("V_B_1", carrier.GradeB, "20"),
		capOf("V_C_1", carrier.GradeC, "20"),
		capOf("V_D_1", carrier.GradeD, "20"),
	}
	plan := PlanAllocation(shipmentsOfType(10, "10"), caps, testCfg(), time.Now())

	if len(plan.Assignments) != 4 {
		t.Fatalf("expected quota-capped 4 assignments, got %d", len(plan.Assignments))
	}
	for _, a := range plan.Assignments {
		if a.Vencode != "V_A_1" {
			t.Errorf("expected everything on V_A_1, got %s", a.Vencode)
		}
	}
	if len(plan.Held) != 6 {
		t.Errorf("expected 6 held, got %d", len(plan.Held))
	}
}

func TestPlanAllocation_Deterministic(t *testing.T) {
	caps := []carrier.Capacity{
		capOf("V_A_1", carrier.GradeA, "10"),
		capOf("V_A_2", carrier.GradeA, "10"),
		capOf("V_B_1", carrier.GradeB, "10"),
	}
	now := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)
	first := PlanAllocation(shipmentsOfType(6, "10"), caps, testCfg(), now)
	second := PlanAllocation(shipmentsOfType(6, "10"), caps, testCfg(), now)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same input produced different plans:\n%+v\n%+v", first, second)
	}
}

func TestPlanAllocation_LastAssignedOrdering(t *testing.T) {
	older := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-time.Minute)
	rested := capOf("V_A_2", carrier.GradeA, "10")
	rested.Vendor.LastAssignedAt = &older
	busy := capOf("V_A_1", carrier.GradeA, "10")
	busy.Vendor.LastAssignedAt = &newer

	plan := PlanAllocation(shipmentsOfType(1, "10"), []carrier.Capacity{busy, rested}, testCfg(), time.Now())
	// With n=1 the floor quotas leave everything on grade D, and no D vendor
	// exists, so the shipment is held.
	if len(plan.Assignments) != 0 || len(plan.Held) != 1 {
		t.Fatalf("expected hold with n=1 and no grade D vendor, got %+v", plan)
	}

	plan = PlanAllocation(shipmentsOfType(3, "10"), []carrier.Capacity{busy, rested}, testCfg(), time.Now())
	if len(plan.Assignments) != 1 {
		t.Fatalf("expected a single grade A assignment, got %d", len(plan.Assignments))
	}
	if plan.Assignments[0].Vencode != "V_A_2" {
		t.Errorf("expected the longer-rested vendor first, got %s", plan.Assignments[0].Vencode)
	}
}

func TestPlanAllocation_IneligibleShipments(t *testing.T) {
	caps := []carrier.Capacity{capOf("V_A_1", carrier.GradeA, "10")}

	noType := shipment.Shipment{Shipid: "SH900", Docstat: shipment.StatWaitingRound}
	wrongType := shipmentsOfType(1, "40")[0]
	wrongType.Shipid = "SH901"

	plan := PlanAllocation([]shipment.Shipment{noType, wrongType}, caps, testCfg(), time.Now())
	if len(plan.Assignments) != 0 {
		t.Fatalf("expected no assignments, got %+v", plan.Assignments)
	}
	if len(plan.Held) != 2 {
		t.Errorf("expected both shipments held, got %v", plan.Held)
	}
}

func TestPlanAllocation_InactiveVendorExcluded(t *testing.T) {
	inactive := capOf("V_A_1", carrier.GradeA, "10")
	inactive.Vendor.Active = false
	caps := []carrier.Capacity{inactive, capOf("V_B_1", carrier.GradeB, "10")}

	plan := PlanAllocation(shipmentsOfType(4, "10"), caps, testCfg(), time.Now())
	for _, a := range plan.Assignments {
		if a.Vencode == "V_A_1" {
			t.Errorf("inactive vendor must never win")
		}
	}
}
