// README: DB-backed round tests (needs DISPATCH_TEST_DSN).
package round

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"dispatch/internal/config"
	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/master"
	"dispatch/internal/modules/notify"
	"dispatch/internal/modules/shipment"
	"dispatch/internal/modules/user"
	"dispatch/internal/types"
)

type nopNotifier struct{}

func (nopNotifier) Push(_, _, _ string, _ map[string]string) {}

func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DISPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("DISPATCH_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx,
		"TRUNCATE TABLE doh, shipment, booking_round, system_users, mcar, mvendor, mleadtime, mwarehouse, mshiptype, mbooking_round CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	for i := 0; i < 6; i++ {
		if _, statErr := os.Stat(filepath.Join(dir, "go.mod")); statErr == nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	content, err := os.ReadFile(filepath.Join(dir, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	var cleaned strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		cleaned.WriteString(scanner.Text())
		cleaned.WriteString("\n")
	}
	for _, stmt := range strings.Split(cleaned.String(), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			if _, err := db.Exec(ctx, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func seedVendors(t *testing.T, db *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	stmts := []string{
		`INSERT INTO mvendor (vencode, venname, grade, active) VALUES
			('V_A_1', 'Alpha Freight', 'A', TRUE),
			('V_B_1', 'Beta Freight', 'B', TRUE)`,
		`INSERT INTO mcar (carlicense, vencode, cartype, active) VALUES
			('CAR-1', 'V_A_1', '10', TRUE),
			('CAR-2', 'V_B_1', '10', TRUE)`,
		`INSERT INTO system_users (username, role, is_active, vencode_ref) VALUES
			('disp1', 'dispatcher', TRUE, NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func newServices(db *pgxpool.Pool) (*Service, *shipment.Service) {
	log := zap.NewNop()
	fanout := notify.NewFanout(nopNotifier{}, nil, log)
	users := user.NewStore(db)
	cfg := config.DispatchConfig{QuotaA: 0.40, QuotaB: 0.30, QuotaC: 0.20}
	return NewService(db, users, fanout, cfg, log),
		shipment.NewService(db, users, master.NewStore(db), fanout, log)
}

func createShipment(t *testing.T, svc *shipment.Service, shipid, shippoint string) {
	t.Helper()
	createShipmentAt(t, svc, shipid, shippoint, time.Now().UTC().Add(48*time.Hour))
}

func createShipmentAt(t *testing.T, svc *shipment.Service, shipid, shippoint string, apmdate time.Time) {
	t.Helper()
	cartype := "10"
	_, err := svc.Create(context.Background(), shipment.CreateCommand{
		Shipid:    shipid,
		Shippoint: shippoint,
		Cartype:   &cartype,
		Apmdate:   &apmdate,
		Actor:     "disp1",
	})
	if err != nil {
		t.Fatalf("create shipment %s: %v", shipid, err)
	}
}

// Round creation releases every held shipment, even at other warehouses.
// Source behavior, kept on purpose.
func TestCreateRound_ReleasesHeldShipmentsEverywhere(t *testing.T) {
	ctx := context.Background()
	db := setupTestPool(t)
	seedVendors(t, db)
	rounds, shipments := newServices(db)

	createShipment(t, shipments, "SH-FREE", "WH1")
	createShipment(t, shipments, "SH-HELD-SAME", "WH1")
	createShipment(t, shipments, "SH-HELD-OTHER", "WH2")
	for _, id := range []string{"SH-HELD-SAME", "SH-HELD-OTHER"} {
		if _, err := shipments.Hold(ctx, id, true, "disp1"); err != nil {
			t.Fatalf("hold %s: %v", id, err)
		}
	}

	r, err := rounds.CreateRound(ctx, CreateRoundCommand{
		RoundName:     "Morning",
		RoundDate:     types.DateOf(time.Now().UTC()),
		RoundTime:     "08:00",
		WarehouseCode: "WH1",
		ShipmentIDs:   []string{"SH-FREE", "SH-HELD-SAME"},
		Actor:         "disp1",
	})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}

	if len(r.Shipments) != 1 || r.Shipments[0].Shipid != "SH-FREE" {
		t.Fatalf("expected only the free shipment in the round, got %+v", r.Shipments)
	}
	for _, id := range []string{"SH-HELD-SAME", "SH-HELD-OTHER"} {
		sh, err := shipments.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if sh.IsOnHold {
			t.Errorf("%s: expected hold released", id)
		}
		if sh.Docstat != shipment.StatWaitingRound {
			t.Errorf("%s: expected restore to 01, got %s", id, sh.Docstat)
		}
		if sh.BookingRoundID != nil {
			t.Errorf("%s: released shipment must not join the round", id)
		}
	}
}

func TestAllocate_QuotaSpreadAndHold(t *testing.T) {
	ctx := context.Background()
	db := setupTestPool(t)
	seedVendors(t, db)
	rounds, shipments := newServices(db)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = fmt.Sprintf("SH-AL-%d", i+1)
		createShipment(t, shipments, ids[i], "WH1")
	}

	r, err := rounds.CreateRound(ctx, CreateRoundCommand{
		RoundName:     "Noon",
		RoundDate:     types.DateOf(time.Now().UTC()),
		RoundTime:     "12:00",
		WarehouseCode: "WH1",
		ShipmentIDs:   ids,
		Actor:         "disp1",
	})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}

	plan, err := rounds.Allocate(ctx, r.ID, "disp1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	// n=5 with only A and B vendors: quotas (2,1,1,1), the C and D slots
	// have no takers.
	if len(plan.Assignments) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(plan.Assignments))
	}
	if len(plan.Held) != 2 {
		t.Fatalf("expected 2 held, got %d", len(plan.Held))
	}

	perVendor := map[string]int{}
	for _, a := range plan.Assignments {
		perVendor[a.Vencode]++
		sh, err := shipments.Get(ctx, a.Shipid)
		if err != nil {
			t.Fatalf("get %s: %v", a.Shipid, err)
		}
		if sh.Docstat != shipment.StatWaitingVendor {
			t.Errorf("%s: expected docstat 02, got %s", a.Shipid, sh.Docstat)
		}
		if sh.Vencode == nil || *sh.Vencode != a.Vencode {
			t.Errorf("%s: expected vencode %s persisted", a.Shipid, a.Vencode)
		}
	}
	if perVendor["V_A_1"] != 2 || perVendor["V_B_1"] != 1 {
		t.Errorf("unexpected spread: %v", perVendor)
	}

	for _, id := range plan.Held {
		sh, err := shipments.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if sh.Docstat != shipment.StatOnHold {
			t.Errorf("%s: expected docstat HD, got %s", id, sh.Docstat)
		}
	}
}

// confirmAssignments plays the vendor side: each allocated shipment is
// confirmed with the next free car of the winning vendor.
func confirmAssignments(t *testing.T, shipments *shipment.Service, assignments []Assignment, carQueue map[string][]string) {
	t.Helper()
	ctx := context.Background()
	for _, a := range assignments {
		cars := carQueue[a.Vencode]
		if len(cars) == 0 {
			t.Fatalf("no car left for %s", a.Vencode)
		}
		carQueue[a.Vencode] = cars[1:]
		if _, err := shipments.VendorConfirm(ctx, shipment.ConfirmCommand{
			Shipid: a.Shipid, Vencode: a.Vencode, Grade: a.Grade,
			Carlicense: cars[0], Actor: "ven-" + a.Vencode,
		}); err != nil {
			t.Fatalf("vendor confirm %s: %v", a.Shipid, err)
		}
	}
}

func TestSyncDay_DetachesShipments(t *testing.T) {
	ctx := context.Background()
	db := setupTestPool(t)
	seedVendors(t, db)
	rounds, shipments := newServices(db)

	createShipment(t, shipments, "SH-SYNC-1", "WH1")
	day := types.DateOf(time.Now().UTC())
	r, err := rounds.CreateRound(ctx, CreateRoundCommand{
		RoundName:     "Morning",
		RoundDate:     day,
		RoundTime:     "08:00",
		WarehouseCode: "WH1",
		ShipmentIDs:   []string{"SH-SYNC-1"},
		Actor:         "disp1",
	})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}

	replaced, err := rounds.SyncDay(ctx, day, "WH1", []NewRoundInput{
		{RoundName: "Late morning", RoundTime: "10:30"},
		{RoundName: "Broken", RoundTime: "9am"},
	})
	if err != nil {
		t.Fatalf("sync day: %v", err)
	}
	if len(replaced) != 1 || replaced[0].RoundTime != "10:30" {
		t.Fatalf("expected the one valid round to survive, got %+v", replaced)
	}

	if _, err := rounds.GetRound(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected old round deleted, got %v", err)
	}
	sh, err := shipments.Get(ctx, "SH-SYNC-1")
	if err != nil {
		t.Fatalf("get shipment: %v", err)
	}
	if sh.BookingRoundID != nil {
		t.Errorf("expected shipment detached from the deleted round")
	}
	if sh.Docstat != shipment.StatWaitingRound {
		t.Errorf("detach must not touch docstat, got %s", sh.Docstat)
	}
}

func TestListPendingConfirmation(t *testing.T) {
	ctx := context.Background()
	db := setupTestPool(t)
	seedVendors(t, db)
	rounds, shipments := newServices(db)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = fmt.Sprintf("SH-PC-%d", i+1)
		createShipment(t, shipments, ids[i], "WH1")
	}
	day := types.DateOf(time.Now().UTC())
	r, err := rounds.CreateRound(ctx, CreateRoundCommand{
		RoundName: "Noon", RoundDate: day, RoundTime: "12:00",
		WarehouseCode: "WH1", ShipmentIDs: ids, Actor: "disp1",
	})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	if _, err := rounds.CreateRound(ctx, CreateRoundCommand{
		RoundName: "Evening", RoundDate: day, RoundTime: "18:00",
		WarehouseCode: "WH1", Actor: "disp1",
	}); err != nil {
		t.Fatalf("create empty round: %v", err)
	}

	plan, err := rounds.Allocate(ctx, r.ID, "disp1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(plan.Assignments) == 0 {
		t.Fatal("expected at least one assignment")
	}
	confirmAssignments(t, shipments, plan.Assignments[:1],
		map[string][]string{"V_A_1": {"CAR-1"}, "V_B_1": {"CAR-2"}})

	pending, err := rounds.ListPendingConfirmation(ctx)
	if err != nil {
		t.Fatalf("list pending confirmation: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != r.ID {
		t.Fatalf("expected only the round with a confirmed shipment, got %+v", pending)
	}

	if _, err := rounds.ConfirmRound(ctx, r.ID, "disp1"); err != nil {
		t.Fatalf("confirm round: %v", err)
	}
	pending, err = rounds.ListPendingConfirmation(ctx)
	if err != nil {
		t.Fatalf("list pending confirmation: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending rounds after confirmation, got %+v", pending)
	}
}

func TestConfirmRound_FinalizesAndBlocksCars(t *testing.T) {
	ctx := context.Background()
	db := setupTestPool(t)
	seedVendors(t, db)
	if _, err := db.Exec(ctx,
		`INSERT INTO mcar (carlicense, vencode, cartype, active) VALUES ('CAR-4', 'V_A_1', '10', TRUE)`); err != nil {
		t.Fatalf("seed extra car: %v", err)
	}
	rounds, shipments := newServices(db)

	apmdate := time.Now().UTC().Add(48 * time.Hour)
	ids := make([]string, 5)
	for i := range ids {
		ids[i] = fmt.Sprintf("SH-CF-%d", i+1)
		createShipmentAt(t, shipments, ids[i], "WH1", apmdate)
	}
	r, err := rounds.CreateRound(ctx, CreateRoundCommand{
		RoundName: "Noon", RoundDate: types.DateOf(time.Now().UTC()), RoundTime: "12:00",
		WarehouseCode: "WH1", ShipmentIDs: ids, Actor: "disp1",
	})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	plan, err := rounds.Allocate(ctx, r.ID, "disp1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	carQueue := map[string][]string{"V_A_1": {"CAR-1", "CAR-4"}, "V_B_1": {"CAR-2"}}
	confirmAssignments(t, shipments, plan.Assignments, carQueue)

	// Vendor confirm already booked each car; the dispatcher pass re-commits
	// the same bookings and must not trip on them.
	confirmed, err := rounds.ConfirmRound(ctx, r.ID, "disp1")
	if err != nil {
		t.Fatalf("confirm round: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("expected round status confirmed, got %s", confirmed.Status)
	}

	carStore := carrier.NewStore(db)
	wantAvail := types.DateOf(apmdate)
	for _, a := range plan.Assignments {
		sh, err := shipments.Get(ctx, a.Shipid)
		if err != nil {
			t.Fatalf("get %s: %v", a.Shipid, err)
		}
		if sh.Docstat != shipment.StatDispatcherAssigned {
			t.Errorf("%s: expected docstat 04, got %s", a.Shipid, sh.Docstat)
		}
		car, err := carStore.GetCar(ctx, *sh.Carlicense)
		if err != nil {
			t.Fatalf("get car %s: %v", *sh.Carlicense, err)
		}
		if car.Active {
			t.Errorf("%s: expected car blocked", car.Carlicense)
		}
		// Default 1-day lead time frees the truck right after the apmdate.
		if car.WillBeAvailableAt == nil || !car.WillBeAvailableAt.Equal(wantAvail.Time) {
			t.Errorf("%s: expected available %s, got %v", car.Carlicense, wantAvail, car.WillBeAvailableAt)
		}
	}
	for _, id := range plan.Held {
		sh, err := shipments.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if sh.Docstat != shipment.StatOnHold {
			t.Errorf("%s: confirm must leave held shipments alone, got %s", id, sh.Docstat)
		}
	}
}
