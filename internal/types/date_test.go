// README: Calendar-day value tests.
package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDateOf_TruncatesToUTCDay(t *testing.T) {
	at := time.Date(2026, 3, 5, 23, 45, 0, 0, time.UTC)
	d := DateOf(at)
	if d.String() != "2026-03-05" {
		t.Errorf("got %s", d.String())
	}
}

func TestAddDays_LeadtimeArithmetic(t *testing.T) {
	apmdate := NewDate(2026, 1, 30)
	// A 3-day lead time blocks the truck through apmdate + 2.
	if got := apmdate.AddDays(3 - 1).String(); got != "2026-02-01" {
		t.Errorf("got %s", got)
	}
	if got := apmdate.AddDays(0); !got.Equal(apmdate.Time) {
		t.Errorf("zero days must be identity, got %s", got)
	}
}

func TestDate_JSON(t *testing.T) {
	d := NewDate(2026, 8, 24)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2026-08-24"` {
		t.Errorf("got %s", b)
	}
	var back Date
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Equal(d.Time) {
		t.Errorf("round trip mismatch: %s", back)
	}
	if err := json.Unmarshal([]byte(`"24/08/2026"`), &back); err == nil {
		t.Error("expected error for non-ISO date")
	}
}

func TestDate_Scan(t *testing.T) {
	var d Date
	if err := d.Scan(time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if d.String() != "2026-08-24" {
		t.Errorf("got %s", d.String())
	}
	if err := d.Scan(nil); err != nil {
		t.Fatal(err)
	}
	if !d.IsZero() {
		t.Errorf("expected zero date after NULL scan")
	}
}
