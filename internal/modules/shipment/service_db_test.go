// README: DB-backed dispatch tests (run with -race, needs DISPATCH_TEST_DSN).
package shipment

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/master"
	"dispatch/internal/modules/notify"
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
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func seedBase(t *testing.T, db *pgxpool.Pool) {
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
			('disp1', 'dispatcher', TRUE, NULL),
			('vena1', 'vendor', TRUE, 'V_A_1'),
			('venb1', 'vendor', TRUE, 'V_B_1')`,
		`INSERT INTO mleadtime (route, leadtime) VALUES ('R1', 2)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func newTestService(db *pgxpool.Pool) *Service {
	log := zap.NewNop()
	fanout := notify.NewFanout(nopNotifier{}, nil, log)
	return NewService(db, user.NewStore(db), master.NewStore(db), fanout, log)
}

func insertTestShipment(t *testing.T, svc *Service, shipid string, apmdate time.Time) {
	t.Helper()
	route := "R1"
	cartype := "10"
	_, err := svc.Create(context.Background(), CreateCommand{
		Shipid:    shipid,
		Shippoint: "WH1",
		Route:     &route,
		Cartype:   &cartype,
		Apmdate:   &apmdate,
		Actor:     "disp1",
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
}

func TestRequestBookingThenVendorConfirm(t *testing.T) {
	ctx := context.Background()
	db := setupTestPool(t)
	seedBase(t, db)
	svc := newTestService(db)

	apmdate := time.Now().UTC().Add(48 * time.Hour)
	insertTestShipment(t, svc, "SH-FLOW-1", apmdate)

	sh, err := svc.RequestBooking(ctx, "SH-FLOW-1", "disp1")
	if err != nil {
		t.Fatalf("request booking: %v", err)
	}
	if sh.Docstat != StatWaitingVendor {
		t.Fatalf("expected docstat 02, got %s", sh.Docstat)
	}
	if sh.CurrentGradeToAssign == nil || *sh.CurrentGradeToAssign != carrier.GradeA {
		t.Fatalf("expected grade A offer")
	}

	// Wrong grade is refused before any car work happens.
	_, err = svc.VendorConfirm(ctx, ConfirmCommand{
		Shipid: "SH-FLOW-1", Vencode: "V_B_1", Grade: carrier.GradeB,
		Carlicense: "CAR-2", Actor: "venb1",
	})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for grade B, got %v", err)
	}

	sh, err = svc.VendorConfirm(ctx, ConfirmCommand{
		Shipid: "SH-FLOW-1", Vencode: "V_A_1", Grade: carrier.GradeA,
		Carlicense: "CAR-1", Actor: "vena1",
	})
	if err != nil {
		t.Fatalf("vendor confirm: %v", err)
	}
	if sh.Docstat != StatVendorConfirmed {
		t.Errorf("expected docstat 03, got %s", sh.Docstat)
	}

	// Lead time 2 days blocks the truck through apmdate + 1.
	car, err := carrier.NewStore(db).GetCar(ctx, "CAR-1")
	if err != nil {
		t.Fatalf("get car: %v", err)
	}
	if car.Active {
		t.Errorf("expected car reserved")
	}
	wantAvail := types.DateOf(apmdate).AddDays(1)
	if car.WillBeAvailableAt == nil || !car.WillBeAvailableAt.Equal(wantAvail.Time) {
		t.Errorf("expected available %s, got %v", wantAvail, car.WillBeAvailableAt)
	}
}

func TestVendorReject_RemovesFromRejectersWorkList(t *testing.T) {
	ctx := context.Background()
	db := setupTestPool(t)
	seedBase(t, db)
	svc := newTestService(db)

	apmdate := time.Now().UTC().Add(48 * time.Hour)
	insertTestShipment(t, svc, "SH-REJ-1", apmdate)
	if _, err := svc.RequestBooking(ctx, "SH-REJ-1", "disp1"); err != nil {
		t.Fatalf("request booking: %v", err)
	}

	sh, err := svc.VendorReject(ctx, RejectCommand{
		Shipid: "SH-REJ-1", Vencode: "V_A_1", Grade: carrier.GradeA,
		Reason: "no capacity", Actor: "vena1",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if sh.Docstat != StatBroadcast {
		t.Fatalf("expected docstat BC, got %s", sh.Docstat)
	}

	rejecter, err := svc.WorkList(ctx, carrier.GradeA, "V_A_1")
	if err != nil {
		t.Fatalf("work list: %v", err)
	}
	for _, got := range rejecter {
		if got.Shipid == "SH-REJ-1" {
			t.Errorf("rejecting vendor must not see the broadcast")
		}
	}

	other, err := svc.WorkList(ctx, carrier.GradeB, "V_B_1")
	if err != nil {
		t.Fatalf("work list: %v", err)
	}
	found := false
	for _, got := range other {
		if got.Shipid == "SH-REJ-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("other vendors must see the broadcast")
	}
}

func TestConcurrentVendorConfirm_ExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	db := setupTestPool(t)
	seedBase(t, db)
	svc := newTestService(db)

	apmdate := time.Now().UTC().Add(48 * time.Hour)
	insertTestShipment(t, svc, "SH-RACE-1", apmdate)
	if _, err := svc.RequestBooking(ctx, "SH-RACE-1", "disp1"); err != nil {
		t.Fatalf("request booking: %v", err)
	}
	if _, err := svc.VendorReject(ctx, RejectCommand{
		Shipid: "SH-RACE-1", Vencode: "V_A_1", Grade: carrier.GradeA, Actor: "vena1",
	}); err != nil {
		t.Fatalf("open broadcast: %v", err)
	}

	// V_A_1 already rejected, so race V_B_1 against a second grade-B style
	// taker is not possible with two vendors; race two confirms from V_B_1
	// with different cars instead.
	if _, err := db.Exec(ctx,
		`INSERT INTO mcar (carlicense, vencode, cartype, active) VALUES ('CAR-3', 'V_B_1', '10', TRUE)`); err != nil {
		t.Fatalf("seed extra car: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, car := range []string{"CAR-2", "CAR-3"} {
		wg.Add(1)
		go func(carlicense string) {
			defer wg.Done()
			_, err := svc.VendorConfirm(ctx, ConfirmCommand{
				Shipid: "SH-RACE-1", Vencode: "V_B_1", Grade: carrier.GradeB,
				Carlicense: carlicense, Actor: "venb1",
			})
			errs <- err
		}(car)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrStateConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 successful confirm, got %d", success)
	}

	sh, err := svc.Get(ctx, "SH-RACE-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sh.Docstat != StatVendorConfirmed {
		t.Errorf("expected docstat 03, got %s", sh.Docstat)
	}
}

func TestHoldUnhold_Persisted(t *testing.T) {
	ctx := context.Background()
	db := setupTestPool(t)
	seedBase(t, db)
	svc := newTestService(db)

	apmdate := time.Now().UTC().Add(48 * time.Hour)
	insertTestShipment(t, svc, "SH-HOLD-1", apmdate)

	sh, err := svc.Hold(ctx, "SH-HOLD-1", true, "disp1")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if sh.Docstat != StatOnHold || !sh.IsOnHold {
		t.Fatalf("expected held, got %s hold=%v", sh.Docstat, sh.IsOnHold)
	}

	sh, err = svc.Hold(ctx, "SH-HOLD-1", false, "disp1")
	if err != nil {
		t.Fatalf("unhold: %v", err)
	}
	if sh.Docstat != StatWaitingRound || sh.IsOnHold {
		t.Errorf("expected restored to 01, got %s hold=%v", sh.Docstat, sh.IsOnHold)
	}
}
