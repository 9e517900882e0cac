// README: Booking-round store backed by PostgreSQL.
package round

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dispatch/internal/types"
)

var ErrNotFound = errors.New("round not found")

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

const roundCols = `
	id, round_name, round_date, to_char(round_time, 'HH24:MI'),
	warehouse_code, volume, status, created_at`

func scanRound(row pgx.Row) (*Round, error) {
	var r Round
	err := row.Scan(&r.ID, &r.RoundName, &r.RoundDate, &r.RoundTime,
		&r.WarehouseCode, &r.Volume, &r.Status, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Round, error) {
	return scanRound(s.db.QueryRow(ctx,
		`SELECT `+roundCols+` FROM booking_round WHERE id = $1`, id))
}

// GetForUpdate locks the round row. The documented lock order is round
// first, then its shipments by shipid, so every round-level mutation
// starts here.
func (s *Store) GetForUpdate(ctx context.Context, id int64) (*Round, error) {
	return scanRound(s.db.QueryRow(ctx,
		`SELECT `+roundCols+` FROM booking_round WHERE id = $1 FOR UPDATE`, id))
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Round, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListByDay returns one day's rounds for a warehouse, earliest departure
// first.
func (s *Store) ListByDay(ctx context.Context, date types.Date, warehouseCode string) ([]Round, error) {
	return s.list(ctx, `
		SELECT `+roundCols+` FROM booking_round
		WHERE round_date = $1 AND warehouse_code = $2
		ORDER BY round_time`, date.Time, warehouseCode)
}

// ListPendingConfirmation returns rounds that have at least one
// vendor-confirmed shipment waiting for the dispatcher. DISTINCT requires
// ordering by select-list entries, so the positions name round_date and the
// formatted round_time (which sorts like the time itself).
func (s *Store) ListPendingConfirmation(ctx context.Context) ([]Round, error) {
	return s.list(ctx, `
		SELECT DISTINCT `+roundCols+` FROM booking_round
		JOIN shipment ON shipment.booking_round_id = booking_round.id
		WHERE shipment.docstat = '03' AND booking_round.status <> 'confirmed'
		ORDER BY 3, 4`)
}

func (s *Store) Create(ctx context.Context, r *Round) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO booking_round (round_name, round_date, round_time, warehouse_code, volume, status, created_at)
		VALUES ($1, $2, $3::time, $4, $5, $6, $7)
		RETURNING id`,
		r.RoundName, r.RoundDate.Time, r.RoundTime, r.WarehouseCode, r.Volume, r.Status, r.CreatedAt,
	).Scan(&r.ID)
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE booking_round SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIDsByDay returns the ids of one day's rounds, locked, for sync_day's
// delete-and-replace.
func (s *Store) ListIDsByDayForUpdate(ctx context.Context, date types.Date, warehouseCode string) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM booking_round
		WHERE round_date = $1 AND warehouse_code = $2
		ORDER BY id
		FOR UPDATE`, date.Time, warehouseCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `DELETE FROM booking_round WHERE id = ANY($1)`, ids)
	return err
}
