// README: Dispatch actions: transactional shipment transitions plus notification fan-out.
package shipment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/master"
	"dispatch/internal/modules/notify"
	"dispatch/internal/modules/user"
	"dispatch/internal/types"
)

var ErrNoApmdate = errors.New("shipment has no appointment date")

// Service runs the externally triggered shipment transitions. Every
// mutation opens one transaction, locks the shipment row, applies the FSM
// transition in memory and writes it back; pushes go out only after commit.
type Service struct {
	pool   *pgxpool.Pool
	users  *user.Store
	master *master.Store
	fanout *notify.Fanout
	log    *zap.Logger
}

func NewService(pool *pgxpool.Pool, users *user.Store, ms *master.Store, fanout *notify.Fanout, log *zap.Logger) *Service {
	return &Service{pool: pool, users: users, master: ms, fanout: fanout, log: log}
}

func (s *Service) touch(sh *Shipment, actor string, now time.Time) {
	sh.Chuser = &actor
	sh.Chdate = &now
}

// mutate is the shared lock-apply-write cycle of all single-shipment
// transitions.
func (s *Service) mutate(ctx context.Context, shipid, actor string, apply func(*Shipment) error) (*Shipment, error) {
	var out *Shipment
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		sh, err := store.GetForUpdate(ctx, shipid)
		if err != nil {
			return err
		}
		if err := apply(sh); err != nil {
			return err
		}
		s.touch(sh, actor, time.Now().UTC())
		if err := store.UpdateDispatch(ctx, sh); err != nil {
			return err
		}
		out = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type CreateCommand struct {
	Shipid       string
	CustomerName *string
	Doctype      *string
	Shippoint    string
	Province     *int
	Route        *string
	Cartype      *string
	Dockno       *string
	Quantity     *int
	VolumeCBM    *float64
	Apmdate      *time.Time
	Details      []Detail
	Actor        string
}

// Create registers a new shipment waiting for a round, with its delivery
// lines.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Shipment, error) {
	now := time.Now().UTC()
	sh := &Shipment{
		Shipid:       cmd.Shipid,
		CustomerName: cmd.CustomerName,
		Doctype:      cmd.Doctype,
		Shippoint:    cmd.Shippoint,
		Province:     cmd.Province,
		Route:        cmd.Route,
		Cartype:      cmd.Cartype,
		Dockno:       cmd.Dockno,
		Quantity:     cmd.Quantity,
		VolumeCBM:    cmd.VolumeCBM,
		Apmdate:      cmd.Apmdate,
		Cruser:       &cmd.Actor,
		Crdate:       now,
		Docstat:      StatWaitingRound,
	}
	for i := range cmd.Details {
		cmd.Details[i].Shipid = cmd.Shipid
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		if err := store.Create(ctx, sh); err != nil {
			return err
		}
		return store.InsertDetails(ctx, cmd.Details)
	})
	if err != nil {
		return nil, err
	}
	sh.Details = cmd.Details
	s.log.Info("shipment created", zap.String("shipid", sh.Shipid), zap.String("actor", cmd.Actor))
	return sh, nil
}

// RequestBooking re-opens a shipment and offers it to grade A vendors.
func (s *Service) RequestBooking(ctx context.Context, shipid, actor string) (*Shipment, error) {
	now := time.Now().UTC()
	sh, err := s.mutate(ctx, shipid, actor, func(sh *Shipment) error {
		return ApplyRequestBooking(sh, now)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("booking requested", zap.String("shipid", shipid), zap.String("actor", actor))

	if vendors, err := s.users.ListVendorsByGrade(ctx, carrier.GradeOrder[0]); err == nil {
		s.fanout.Send(ctx, vendors, "New shipment available",
			fmt.Sprintf("Shipment %s is waiting for your confirmation", shipid),
			map[string]string{"shipment_id": shipid, "type": "request_booking"})
	} else {
		s.log.Warn("vendor lookup for fan-out failed", zap.Error(err))
	}
	return sh, nil
}

type ConfirmCommand struct {
	Shipid     string
	Vencode    string
	Grade      carrier.Grade
	Carlicense string
	Carnote    *string
	Actor      string
}

// VendorConfirm accepts a shipment with a specific truck. The car row is
// locked after the shipment row and validated for the appointment day; the
// lead-time block is applied later, when the dispatcher confirms the round.
func (s *Service) VendorConfirm(ctx context.Context, cmd ConfirmCommand) (*Shipment, error) {
	var out *Shipment
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		book := carrier.NewCarBook(carrier.NewStore(tx))

		sh, err := store.GetForUpdate(ctx, cmd.Shipid)
		if err != nil {
			return err
		}
		if sh.Apmdate == nil {
			return ErrNoApmdate
		}
		apmdate := types.DateOf(*sh.Apmdate)
		if _, err := book.TryReserve(ctx, cmd.Carlicense, cmd.Vencode, apmdate); err != nil {
			return err
		}
		if err := ApplyVendorConfirm(sh, cmd.Vencode, cmd.Grade, cmd.Carlicense, cmd.Carnote); err != nil {
			return err
		}
		if _, err := book.CommitAssignment(ctx, cmd.Carlicense, apmdate, s.leadtime(ctx, tx, sh.Route)); err != nil {
			return err
		}
		s.touch(sh, cmd.Actor, time.Now().UTC())
		if err := store.UpdateDispatch(ctx, sh); err != nil {
			return err
		}
		out = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("vendor confirmed",
		zap.String("shipid", cmd.Shipid),
		zap.String("vencode", cmd.Vencode),
		zap.String("carlicense", cmd.Carlicense))

	if dispatchers, err := s.users.ListDispatchers(ctx); err == nil {
		s.fanout.Send(ctx, dispatchers, "Shipment confirmed",
			fmt.Sprintf("Vendor %s confirmed shipment %s", cmd.Vencode, cmd.Shipid),
			map[string]string{"shipment_id": cmd.Shipid, "type": "vendor_confirm"})
	} else {
		s.log.Warn("dispatcher lookup for fan-out failed", zap.Error(err))
	}
	return out, nil
}

// leadtime resolves the route's whole-day lead time, defaulting to a single
// day when the route is unset or unmapped.
func (s *Service) leadtime(ctx context.Context, tx pgx.Tx, route *string) int {
	if route == nil {
		return 1
	}
	days, err := master.NewStore(tx).LeadtimeDays(ctx, *route)
	if err != nil {
		if !errors.Is(err, master.ErrLeadtimeNotFound) {
			s.log.Warn("lead time lookup failed", zap.String("route", *route), zap.Error(err))
		}
		return 1
	}
	if days < 1 {
		return 1
	}
	return days
}

type RejectCommand struct {
	Shipid  string
	Vencode string
	Grade   carrier.Grade
	Reason  string
	Actor   string
}

// VendorReject declines an offered shipment and opens it to every vendor
// that has not rejected it yet.
func (s *Service) VendorReject(ctx context.Context, cmd RejectCommand) (*Shipment, error) {
	now := time.Now().UTC()
	sh, err := s.mutate(ctx, cmd.Shipid, cmd.Actor, func(sh *Shipment) error {
		return ApplyVendorReject(sh, cmd.Vencode, cmd.Grade, now)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("vendor rejected",
		zap.String("shipid", cmd.Shipid),
		zap.String("vencode", cmd.Vencode),
		zap.String("reason", cmd.Reason))

	s.notifyBroadcast(ctx, sh)
	return sh, nil
}

// notifyBroadcast fans out an open-offer push to every vendor still allowed
// to take the shipment.
func (s *Service) notifyBroadcast(ctx context.Context, sh *Shipment) {
	vendors, err := s.users.ListVendors(ctx)
	if err != nil {
		s.log.Warn("vendor lookup for fan-out failed", zap.Error(err))
		return
	}
	eligible := vendors[:0]
	for _, v := range vendors {
		if v.VencodeRef != nil && sh.HasRejected(*v.VencodeRef) {
			continue
		}
		eligible = append(eligible, v)
	}
	s.fanout.Send(ctx, eligible, "Shipment open for booking",
		fmt.Sprintf("Shipment %s is open, first come first served", sh.Shipid),
		map[string]string{"shipment_id": sh.Shipid, "type": "broadcast"})
}

// Hold parks a shipment; Unhold releases it back to its previous state.
func (s *Service) Hold(ctx context.Context, shipid string, hold bool, actor string) (*Shipment, error) {
	sh, err := s.mutate(ctx, shipid, actor, func(sh *Shipment) error {
		if hold {
			return ApplyHold(sh)
		}
		return ApplyUnhold(sh)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("hold toggled", zap.String("shipid", shipid), zap.Bool("hold", hold), zap.String("actor", actor))
	return sh, nil
}

type ManualAssignCommand struct {
	Shipid  string
	Vencode string
	Actor   string
}

// ManualAssign hands a stuck shipment directly to a chosen vendor,
// bypassing the allocator.
func (s *Service) ManualAssign(ctx context.Context, cmd ManualAssignCommand) (*Shipment, error) {
	now := time.Now().UTC()
	var out *Shipment
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		vendor, err := carrier.NewStore(tx).GetVendor(ctx, cmd.Vencode)
		if err != nil {
			return err
		}
		sh, err := store.GetForUpdate(ctx, cmd.Shipid)
		if err != nil {
			return err
		}
		if err := ApplyManualAssign(sh, vendor.Vencode, vendor.Grade, now); err != nil {
			return err
		}
		s.touch(sh, cmd.Actor, now)
		if err := store.UpdateDispatch(ctx, sh); err != nil {
			return err
		}
		out = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("manual assignment",
		zap.String("shipid", cmd.Shipid),
		zap.String("vencode", cmd.Vencode),
		zap.String("actor", cmd.Actor))

	if u, err := s.users.GetByVencode(ctx, cmd.Vencode); err == nil {
		s.fanout.Send(ctx, []user.SystemUser{*u}, "Shipment assigned to you",
			fmt.Sprintf("Shipment %s was assigned to you by the dispatcher", cmd.Shipid),
			map[string]string{"shipment_id": cmd.Shipid, "type": "manual_assign"})
	}
	return out, nil
}

// Cancel voids a confirmed or finalized shipment before its appointment
// time. The truck's availability window is left as committed.
func (s *Service) Cancel(ctx context.Context, shipid, actor string) (*Shipment, error) {
	now := time.Now().UTC()
	var prevVencode *string
	sh, err := s.mutate(ctx, shipid, actor, func(sh *Shipment) error {
		prevVencode = sh.Vencode
		return ApplyCancel(sh, now)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("shipment canceled", zap.String("shipid", shipid), zap.String("actor", actor))

	if prevVencode != nil {
		if u, err := s.users.GetByVencode(ctx, *prevVencode); err == nil {
			s.fanout.Send(ctx, []user.SystemUser{*u}, "Shipment canceled",
				fmt.Sprintf("Shipment %s was canceled by the dispatcher", shipid),
				map[string]string{"shipment_id": shipid, "type": "cancel"})
		}
	}
	return sh, nil
}

// Get returns one shipment with its delivery lines.
func (s *Service) Get(ctx context.Context, shipid string) (*Shipment, error) {
	store := NewStore(s.pool)
	sh, err := store.Get(ctx, shipid)
	if err != nil {
		return nil, err
	}
	if err := store.LoadDetails(ctx, sh); err != nil {
		return nil, err
	}
	return sh, nil
}

func (s *Service) ListUnassigned(ctx context.Context, apmdate types.Date, shippoint string) ([]Shipment, error) {
	return NewStore(s.pool).ListUnassigned(ctx, apmdate, shippoint)
}

func (s *Service) ListHeld(ctx context.Context, f HeldFilter) ([]Shipment, error) {
	return NewStore(s.pool).ListHeld(ctx, f)
}

func (s *Service) ListFiltered(ctx context.Context, f Filter) ([]Shipment, error) {
	return NewStore(s.pool).ListFiltered(ctx, f)
}

// WorkList returns what a vendor user can currently act on.
func (s *Service) WorkList(ctx context.Context, grade carrier.Grade, vencode string) ([]Shipment, error) {
	return NewStore(s.pool).ListForVendor(ctx, grade, vencode)
}

// Ongoing lists confirmed and finalized shipments, scoped to one vendor
// when vencode is set.
func (s *Service) Ongoing(ctx context.Context, vencode *string) ([]Shipment, error) {
	return NewStore(s.pool).ListOngoing(ctx, vencode)
}

// History lists terminal shipments, newest first.
func (s *Service) History(ctx context.Context, vencode *string, f HistoryFilter) ([]Shipment, error) {
	return NewStore(s.pool).ListPast(ctx, vencode, f)
}
