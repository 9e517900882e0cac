// README: Vendor/car store backed by PostgreSQL.
package carrier

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dispatch/internal/types"
)

var (
	ErrVendorNotFound = errors.New("vendor not found")
	ErrCarNotFound    = errors.New("car not found")
	ErrCarBusy        = errors.New("car not available for the required date")
	ErrWrongOwner     = errors.New("car does not belong to this vendor")
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so the same store code
// serves plain reads and lock-holding transactional flows.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const vendorCols = `vencode, venname, grade, score, perallocate, active, last_assigned_at`

func scanVendor(row pgx.Row) (*Vendor, error) {
	var v Vendor
	err := row.Scan(&v.Vencode, &v.Venname, &v.Grade, &v.Score, &v.Perallocate, &v.Active, &v.LastAssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVendorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) GetVendor(ctx context.Context, vencode string) (*Vendor, error) {
	return scanVendor(s.db.QueryRow(ctx,
		`SELECT `+vendorCols+` FROM mvendor WHERE vencode = $1`, vencode))
}

// FirstByGrade returns the lowest-vencode vendor of a grade. The timeout
// worker uses it to attribute an unanswered offer; the ordering makes the
// blame deterministic.
func (s *Store) FirstByGrade(ctx context.Context, grade Grade) (*Vendor, error) {
	return scanVendor(s.db.QueryRow(ctx,
		`SELECT `+vendorCols+` FROM mvendor
		 WHERE grade = $1 AND active = TRUE
		 ORDER BY vencode
		 LIMIT 1`, string(grade)))
}

const carCols = `carlicense, vencode, venname, conid, cartype, cartypedes, remark, active, will_be_available_at`

func scanCar(row pgx.Row) (*Car, error) {
	var c Car
	var avail *time.Time
	err := row.Scan(&c.Carlicense, &c.Vencode, &c.Venname, &c.Conid, &c.Cartype, &c.Cartypedes, &c.Remark, &c.Active, &avail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCarNotFound
	}
	if err != nil {
		return nil, err
	}
	if avail != nil {
		d := types.DateOf(*avail)
		c.WillBeAvailableAt = &d
	}
	return &c, nil
}

func (s *Store) GetCar(ctx context.Context, carlicense string) (*Car, error) {
	return scanCar(s.db.QueryRow(ctx,
		`SELECT `+carCols+` FROM mcar WHERE carlicense = $1`, carlicense))
}

// GetCarForUpdate locks the car row until the surrounding transaction ends.
// Concurrent confirms for the same car serialize here; the loser re-reads
// an already reserved car and gets ErrCarBusy from TryReserve.
func (s *Store) GetCarForUpdate(ctx context.Context, carlicense string) (*Car, error) {
	return scanCar(s.db.QueryRow(ctx,
		`SELECT `+carCols+` FROM mcar WHERE carlicense = $1 FOR UPDATE`, carlicense))
}

// ListCapacities returns every active vendor with the car types of its
// active cars. Vendors without any active car are excluded.
func (s *Store) ListCapacities(ctx context.Context) ([]Capacity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT v.vencode, v.venname, v.grade, v.score, v.perallocate, v.active, v.last_assigned_at, c.cartype
		FROM mvendor v
		JOIN mcar c ON c.vencode = v.vencode
		WHERE v.active = TRUE AND c.active = TRUE
		ORDER BY v.vencode`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byVencode := map[string]*Capacity{}
	var order []string
	for rows.Next() {
		var v Vendor
		var cartype string
		if err := rows.Scan(&v.Vencode, &v.Venname, &v.Grade, &v.Score, &v.Perallocate, &v.Active, &v.LastAssignedAt, &cartype); err != nil {
			return nil, err
		}
		cap, ok := byVencode[v.Vencode]
		if !ok {
			cap = &Capacity{Vendor: v, CarTypes: map[string]bool{}}
			byVencode[v.Vencode] = cap
			order = append(order, v.Vencode)
		}
		cap.CarTypes[cartype] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Capacity, 0, len(order))
	for _, code := range order {
		out = append(out, *byVencode[code])
	}
	return out, nil
}

// ListProfiles returns all vendors with their cars attached, ordered by
// grade then name, for the dispatcher's directory view.
func (s *Store) ListProfiles(ctx context.Context) ([]Capacity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+vendorCols+` FROM mvendor ORDER BY grade, venname`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []Capacity
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, Capacity{Vendor: *v, CarTypes: map[string]bool{}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range profiles {
		cars, err := s.listCarsByVendor(ctx, profiles[i].Vendor.Vencode)
		if err != nil {
			return nil, err
		}
		profiles[i].Cars = cars
		for _, c := range cars {
			profiles[i].CarTypes[c.Cartype] = true
		}
	}
	return profiles, nil
}

func (s *Store) listCarsByVendor(ctx context.Context, vencode string) ([]Car, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+carCols+` FROM mcar WHERE vencode = $1 ORDER BY carlicense`, vencode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cars []Car
	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, err
		}
		cars = append(cars, *c)
	}
	return cars, rows.Err()
}

func (s *Store) UpdateLastAssigned(ctx context.Context, vencode string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE mvendor SET last_assigned_at = $1 WHERE vencode = $2`, at, vencode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVendorNotFound
	}
	return nil
}

func (s *Store) setCarReserved(ctx context.Context, carlicense string, availableAt types.Date) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE mcar
		SET active = FALSE, will_be_available_at = $1
		WHERE carlicense = $2`, availableAt.Time, carlicense)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCarNotFound
	}
	return nil
}
