// README: Master data store backed by PostgreSQL (read-mostly).
package master

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrLeadtimeNotFound = errors.New("lead time not found for route")

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

func (s *Store) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := s.db.Query(ctx,
		`SELECT warehouse_code, warehouse_name, is_active FROM mwarehouse WHERE is_active = TRUE ORDER BY warehouse_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.Code, &w.Name, &w.Active); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ListShipTypes(ctx context.Context) ([]ShipType, error) {
	rows, err := s.db.Query(ctx,
		`SELECT cartype, cartypedes, active FROM mshiptype WHERE active = TRUE ORDER BY cartype`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ShipType
	for rows.Next() {
		var t ShipType
		if err := rows.Scan(&t.Cartype, &t.Cartypedes, &t.Active); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListMasterRounds(ctx context.Context) ([]MasterRound, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, to_char(round_time, 'HH24:MI'), COALESCE(round_name, ''), is_active
		 FROM mbooking_round WHERE is_active = TRUE ORDER BY round_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MasterRound
	for rows.Next() {
		var m MasterRound
		if err := rows.Scan(&m.ID, &m.RoundTime, &m.RoundName, &m.Active); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LeadtimeDays returns the whole-day lead time for a route. Fractions in
// the master table round down, matching the source system.
func (s *Store) LeadtimeDays(ctx context.Context, route string) (int, error) {
	var days float64
	err := s.db.QueryRow(ctx,
		`SELECT leadtime FROM mleadtime WHERE route = $1`, route).Scan(&days)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrLeadtimeNotFound
	}
	if err != nil {
		return 0, err
	}
	return int(days), nil
}
