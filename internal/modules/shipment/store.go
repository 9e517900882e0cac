// README: Shipment store backed by PostgreSQL: row locks, work lists, rejection set.
package shipment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dispatch/internal/modules/carrier"
	"dispatch/internal/types"
)

var (
	ErrNotFound      = errors.New("shipment not found")
	ErrAlreadyExists = errors.New("shipment already exists")
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx. Stores constructed over a
// transaction keep their FOR UPDATE locks until the caller commits.
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

const shipmentCols = `
	shipid, customer_name, doctype, shippoint, province, route, cartype,
	vencode, carlicense, carnote, dockno, quantity, volume_cbm, apmdate,
	cruser, crdate, chuser, chdate, docstat, booking_round_id, is_on_hold,
	docstat_before_hold, current_grade_to_assign, confirmed_by_grade,
	assigned_at, rejected_by_vencodes`

func scanShipment(row pgx.Row) (*Shipment, error) {
	var s Shipment
	var rejected []byte
	err := row.Scan(
		&s.Shipid, &s.CustomerName, &s.Doctype, &s.Shippoint, &s.Province, &s.Route, &s.Cartype,
		&s.Vencode, &s.Carlicense, &s.Carnote, &s.Dockno, &s.Quantity, &s.VolumeCBM, &s.Apmdate,
		&s.Cruser, &s.Crdate, &s.Chuser, &s.Chdate, &s.Docstat, &s.BookingRoundID, &s.IsOnHold,
		&s.DocstatBeforeHold, &s.CurrentGradeToAssign, &s.ConfirmedByGrade,
		&s.AssignedAt, &rejected,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(rejected) > 0 {
		if err := json.Unmarshal(rejected, &s.RejectedByVencodes); err != nil {
			return nil, fmt.Errorf("decode rejected_by_vencodes for %s: %w", s.Shipid, err)
		}
	}
	return &s, nil
}

func encodeRejected(vencodes []string) (any, error) {
	if vencodes == nil {
		return nil, nil
	}
	return json.Marshal(vencodes)
}

func (s *Store) Get(ctx context.Context, shipid string) (*Shipment, error) {
	return scanShipment(s.db.QueryRow(ctx,
		`SELECT `+shipmentCols+` FROM shipment WHERE shipid = $1`, shipid))
}

// GetForUpdate locks the shipment row until transaction end. All mutating
// actions go through this so concurrent dispatcher/vendor operations
// serialize per shipment.
func (s *Store) GetForUpdate(ctx context.Context, shipid string) (*Shipment, error) {
	return scanShipment(s.db.QueryRow(ctx,
		`SELECT `+shipmentCols+` FROM shipment WHERE shipid = $1 FOR UPDATE`, shipid))
}

func (s *Store) Create(ctx context.Context, sh *Shipment) error {
	rejected, err := encodeRejected(sh.RejectedByVencodes)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO shipment (
			shipid, customer_name, doctype, shippoint, province, route, cartype,
			vencode, carlicense, carnote, dockno, quantity, volume_cbm, apmdate,
			cruser, crdate, chuser, chdate, docstat, booking_round_id, is_on_hold,
			docstat_before_hold, current_grade_to_assign, confirmed_by_grade,
			assigned_at, rejected_by_vencodes
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21,
			$22, $23, $24, $25, $26
		)`,
		sh.Shipid, sh.CustomerName, sh.Doctype, sh.Shippoint, sh.Province, sh.Route, sh.Cartype,
		sh.Vencode, sh.Carlicense, sh.Carnote, sh.Dockno, sh.Quantity, sh.VolumeCBM, sh.Apmdate,
		sh.Cruser, sh.Crdate, sh.Chuser, sh.Chdate, sh.Docstat, sh.BookingRoundID, sh.IsOnHold,
		sh.DocstatBeforeHold, sh.CurrentGradeToAssign, sh.ConfirmedByGrade,
		sh.AssignedAt, rejected,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

// UpdateDispatch persists the dispatch-relevant columns after an FSM
// transition was applied in memory.
func (s *Store) UpdateDispatch(ctx context.Context, sh *Shipment) error {
	rejected, err := encodeRejected(sh.RejectedByVencodes)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE shipment SET
			docstat = $1,
			vencode = $2,
			carlicense = $3,
			carnote = $4,
			confirmed_by_grade = $5,
			current_grade_to_assign = $6,
			assigned_at = $7,
			booking_round_id = $8,
			is_on_hold = $9,
			docstat_before_hold = $10,
			rejected_by_vencodes = $11,
			chuser = $12,
			chdate = $13
		WHERE shipid = $14`,
		sh.Docstat, sh.Vencode, sh.Carlicense, sh.Carnote,
		sh.ConfirmedByGrade, sh.CurrentGradeToAssign, sh.AssignedAt,
		sh.BookingRoundID, sh.IsOnHold, sh.DocstatBeforeHold, rejected,
		sh.Chuser, sh.Chdate, sh.Shipid,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Shipment, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sh)
	}
	return out, rows.Err()
}

// ListUnassigned returns round-less, un-held shipments departing shippoint
// on the given appointment day, ordered by shipid.
func (s *Store) ListUnassigned(ctx context.Context, apmdate types.Date, shippoint string) ([]Shipment, error) {
	return s.list(ctx, `
		SELECT `+shipmentCols+` FROM shipment
		WHERE booking_round_id IS NULL
		  AND is_on_hold = FALSE
		  AND shippoint = $1
		  AND apmdate::date = $2
		ORDER BY shipid`, shippoint, apmdate.Time)
}

type HeldFilter struct {
	Shippoint   *string
	ApmdateFrom *time.Time
	ApmdateTo   *time.Time
}

func (s *Store) ListHeld(ctx context.Context, f HeldFilter) ([]Shipment, error) {
	query := `SELECT ` + shipmentCols + ` FROM shipment WHERE is_on_hold = TRUE`
	var args []any
	if f.Shippoint != nil {
		args = append(args, *f.Shippoint)
		query += fmt.Sprintf(" AND shippoint = $%d", len(args))
	}
	if f.ApmdateFrom != nil {
		args = append(args, *f.ApmdateFrom)
		query += fmt.Sprintf(" AND apmdate >= $%d", len(args))
	}
	if f.ApmdateTo != nil {
		args = append(args, *f.ApmdateTo)
		query += fmt.Sprintf(" AND apmdate <= $%d", len(args))
	}
	query += " ORDER BY apmdate DESC"
	shipments, err := s.list(ctx, query, args...)
	return s.loadDetails(ctx, shipments, err)
}

type Filter struct {
	Docstat     *DocStat
	Vencode     *string
	ApmdateFrom *time.Time
	ApmdateTo   *time.Time
	IsOnHold    *bool
}

// ListFiltered is the dispatcher's general listing.
func (s *Store) ListFiltered(ctx context.Context, f Filter) ([]Shipment, error) {
	query := `SELECT ` + shipmentCols + ` FROM shipment WHERE TRUE`
	var args []any
	if f.Docstat != nil {
		args = append(args, *f.Docstat)
		query += fmt.Sprintf(" AND docstat = $%d", len(args))
	}
	if f.Vencode != nil {
		args = append(args, *f.Vencode)
		query += fmt.Sprintf(" AND vencode = $%d", len(args))
	}
	if f.ApmdateFrom != nil {
		args = append(args, *f.ApmdateFrom)
		query += fmt.Sprintf(" AND apmdate >= $%d", len(args))
	}
	if f.ApmdateTo != nil {
		args = append(args, *f.ApmdateTo)
		query += fmt.Sprintf(" AND apmdate <= $%d", len(args))
	}
	if f.IsOnHold != nil {
		args = append(args, *f.IsOnHold)
		query += fmt.Sprintf(" AND is_on_hold = $%d", len(args))
	}
	query += " ORDER BY apmdate DESC"
	shipments, err := s.list(ctx, query, args...)
	return s.loadDetails(ctx, shipments, err)
}

// ListForVendor returns the work a vendor can act on: shipments offered to
// its grade, plus open broadcasts it has not rejected.
func (s *Store) ListForVendor(ctx context.Context, grade carrier.Grade, vencode string) ([]Shipment, error) {
	shipments, err := s.list(ctx, `
		SELECT `+shipmentCols+` FROM shipment
		WHERE (docstat = '02' AND current_grade_to_assign = $1)
		   OR (docstat = 'BC' AND (rejected_by_vencodes IS NULL OR NOT rejected_by_vencodes ? $2))
		ORDER BY apmdate DESC`, string(grade), vencode)
	return s.loadDetails(ctx, shipments, err)
}

// ListOngoing returns confirmed and dispatcher-assigned shipments; with a
// vencode only that vendor's.
func (s *Store) ListOngoing(ctx context.Context, vencode *string) ([]Shipment, error) {
	query := `SELECT ` + shipmentCols + ` FROM shipment WHERE docstat IN ('03', '04')`
	var args []any
	if vencode != nil {
		args = append(args, *vencode)
		query += fmt.Sprintf(" AND vencode = $%d", len(args))
	}
	query += " ORDER BY apmdate ASC"
	shipments, err := s.list(ctx, query, args...)
	return s.loadDetails(ctx, shipments, err)
}

type HistoryFilter struct {
	Shipid      *string
	Route       *string
	ApmdateFrom *time.Time
	ApmdateTo   *time.Time
}

// ListPast returns terminal shipments (canceled or rejected by all),
// newest change first, capped at 200 rows.
func (s *Store) ListPast(ctx context.Context, vencode *string, f HistoryFilter) ([]Shipment, error) {
	query := `SELECT DISTINCT ` + shipmentCols + ` FROM shipment`
	if f.Route != nil {
		query += ` JOIN doh ON doh.shipid = shipment.shipid`
	}
	query += ` WHERE docstat IN ('06', 'RJ')`
	var args []any
	if vencode != nil {
		args = append(args, *vencode)
		query += fmt.Sprintf(" AND vencode = $%d", len(args))
	}
	if f.Shipid != nil {
		args = append(args, "%"+*f.Shipid+"%")
		query += fmt.Sprintf(" AND shipment.shipid LIKE $%d", len(args))
	}
	if f.Route != nil {
		args = append(args, *f.Route)
		query += fmt.Sprintf(" AND doh.route = $%d", len(args))
	}
	if f.ApmdateFrom != nil {
		args = append(args, *f.ApmdateFrom)
		query += fmt.Sprintf(" AND apmdate >= $%d", len(args))
	}
	if f.ApmdateTo != nil {
		// inclusive end day
		args = append(args, f.ApmdateTo.AddDate(0, 0, 1))
		query += fmt.Sprintf(" AND apmdate < $%d", len(args))
	}
	query += " ORDER BY chdate DESC LIMIT 200"
	shipments, err := s.list(ctx, query, args...)
	return s.loadDetails(ctx, shipments, err)
}

// ListExpired returns shipments of one docstat whose offer clock ran out,
// row-locked for the worker's transaction. SKIP LOCKED leaves rows being
// confirmed or rejected right now to the next tick.
func (s *Store) ListExpired(ctx context.Context, stat DocStat, cutoff time.Time) ([]Shipment, error) {
	return s.list(ctx, `
		SELECT `+shipmentCols+` FROM shipment
		WHERE docstat = $1 AND assigned_at IS NOT NULL AND assigned_at <= $2
		ORDER BY shipid
		FOR UPDATE SKIP LOCKED`, stat, cutoff)
}

// ListByRoundForUpdate locks and returns a round's shipments ordered by
// shipid, the documented lock order for multi-shipment mutations.
func (s *Store) ListByRoundForUpdate(ctx context.Context, roundID int64) ([]Shipment, error) {
	return s.list(ctx, `
		SELECT `+shipmentCols+` FROM shipment
		WHERE booking_round_id = $1
		ORDER BY shipid
		FOR UPDATE`, roundID)
}

func (s *Store) ListByRound(ctx context.Context, roundID int64) ([]Shipment, error) {
	shipments, err := s.list(ctx, `
		SELECT `+shipmentCols+` FROM shipment
		WHERE booking_round_id = $1
		ORDER BY shipid`, roundID)
	return s.loadDetails(ctx, shipments, err)
}

// AssignToRound moves the listed shipments into a round, skipping any that
// are already in a round or on hold. Entering a round starts a fresh
// booking cycle, so docstat resets to 01 and the rejection set clears.
// Returns the shipids actually moved.
func (s *Store) AssignToRound(ctx context.Context, shipids []string, roundID int64) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE shipment
		SET booking_round_id = $1, docstat = '01', rejected_by_vencodes = NULL
		WHERE shipid = ANY($2)
		  AND booking_round_id IS NULL
		  AND is_on_hold = FALSE
		RETURNING shipid`, roundID, shipids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moved []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		moved = append(moved, id)
	}
	return moved, rows.Err()
}

// AssignReadyToRound moves every free shipment created on crdate at
// shippoint into the round.
func (s *Store) AssignReadyToRound(ctx context.Context, roundID int64, crdate types.Date, shippoint string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE shipment
		SET booking_round_id = $1, docstat = '01', rejected_by_vencodes = NULL
		WHERE booking_round_id IS NULL
		  AND is_on_hold = FALSE
		  AND shippoint = $2
		  AND crdate::date = $3
		RETURNING shipid`, roundID, shippoint, crdate.Time)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moved []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		moved = append(moved, id)
	}
	return moved, rows.Err()
}

// UnholdAll releases held shipments back to their pre-hold state. With a
// nil shippoint it applies across all warehouses (source behavior on round
// creation).
func (s *Store) UnholdAll(ctx context.Context, shippoint *string) (int64, error) {
	query := `
		UPDATE shipment
		SET is_on_hold = FALSE,
		    docstat = COALESCE(docstat_before_hold, '01'),
		    docstat_before_hold = NULL
		WHERE is_on_hold = TRUE`
	var args []any
	if shippoint != nil {
		args = append(args, *shippoint)
		query += " AND shippoint = $1"
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DetachFromRounds clears round membership for the given rounds before
// they are deleted. Docstat is left untouched.
func (s *Store) DetachFromRounds(ctx context.Context, roundIDs []int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE shipment SET booking_round_id = NULL
		WHERE booking_round_id = ANY($1)`, roundIDs)
	return err
}

// InsertDetails writes the DOH lines of a new shipment.
func (s *Store) InsertDetails(ctx context.Context, details []Detail) error {
	for _, d := range details {
		_, err := s.db.Exec(ctx, `
			INSERT INTO doh (doid, shipid, dlvdate, cusid, cusname, route, routedes, province, volumn)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			d.Doid, d.Shipid, d.Dlvdate, d.Cusid, d.Cusname, d.Route, d.Routedes, d.Province, d.Volume)
		if err != nil {
			return err
		}
	}
	return nil
}

// loadDetails attaches DOH lines to a listing in one extra query.
func (s *Store) loadDetails(ctx context.Context, shipments []Shipment, listErr error) ([]Shipment, error) {
	if listErr != nil || len(shipments) == 0 {
		return shipments, listErr
	}
	ids := make([]string, len(shipments))
	index := make(map[string]int, len(shipments))
	for i, sh := range shipments {
		ids[i] = sh.Shipid
		index[sh.Shipid] = i
	}
	rows, err := s.db.Query(ctx, `
		SELECT doid, shipid, dlvdate, cusid, cusname, route, routedes, province, volumn
		FROM doh WHERE shipid = ANY($1) ORDER BY doid`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var d Detail
		if err := rows.Scan(&d.Doid, &d.Shipid, &d.Dlvdate, &d.Cusid, &d.Cusname, &d.Route, &d.Routedes, &d.Province, &d.Volume); err != nil {
			return nil, err
		}
		if i, ok := index[d.Shipid]; ok {
			shipments[i].Details = append(shipments[i].Details, d)
		}
	}
	return shipments, rows.Err()
}

// LoadDetails attaches DOH lines to a single shipment.
func (s *Store) LoadDetails(ctx context.Context, sh *Shipment) error {
	list, err := s.loadDetails(ctx, []Shipment{*sh}, nil)
	if err != nil {
		return err
	}
	sh.Details = list[0].Details
	return nil
}
