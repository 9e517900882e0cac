// README: Round lifecycle: day sync, round creation, allocation, dispatcher confirmation.
package round

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"dispatch/internal/config"
	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/master"
	"dispatch/internal/modules/notify"
	"dispatch/internal/modules/shipment"
	"dispatch/internal/modules/user"
	"dispatch/internal/types"
)

var ErrShipmentIncomplete = errors.New("confirmed shipment is missing car or appointment date")

type Service struct {
	pool   *pgxpool.Pool
	users  *user.Store
	fanout *notify.Fanout
	cfg    config.DispatchConfig
	log    *zap.Logger
}

func NewService(pool *pgxpool.Pool, users *user.Store, fanout *notify.Fanout, cfg config.DispatchConfig, log *zap.Logger) *Service {
	return &Service{pool: pool, users: users, fanout: fanout, cfg: cfg, log: log}
}

// GetRounds returns one day's rounds for a warehouse with shipments
// attached, earliest departure first.
func (s *Service) GetRounds(ctx context.Context, date types.Date, warehouseCode string) ([]Round, error) {
	rounds, err := NewStore(s.pool).ListByDay(ctx, date, warehouseCode)
	if err != nil {
		return nil, err
	}
	return s.attachShipments(ctx, rounds)
}

func (s *Service) GetRound(ctx context.Context, id int64) (*Round, error) {
	r, err := NewStore(s.pool).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	shipments, err := shipment.NewStore(s.pool).ListByRound(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Shipments = shipments
	return r, nil
}

// ListPendingConfirmation returns rounds holding vendor-confirmed shipments
// that still need the dispatcher's sign-off.
func (s *Service) ListPendingConfirmation(ctx context.Context) ([]Round, error) {
	rounds, err := NewStore(s.pool).ListPendingConfirmation(ctx)
	if err != nil {
		return nil, err
	}
	return s.attachShipments(ctx, rounds)
}

func (s *Service) attachShipments(ctx context.Context, rounds []Round) ([]Round, error) {
	shipStore := shipment.NewStore(s.pool)
	for i := range rounds {
		shipments, err := shipStore.ListByRound(ctx, rounds[i].ID)
		if err != nil {
			return nil, err
		}
		rounds[i].Shipments = shipments
	}
	return rounds, nil
}

// NewRoundInput is one departure slot in a day plan.
type NewRoundInput struct {
	RoundName string
	RoundTime string // HH:MM
	Volume    *float64
}

func validRoundTime(t string) bool {
	_, err := time.Parse("15:04", t)
	return err == nil
}

// SyncDay replaces a day's rounds for one warehouse in a single
// transaction: shipments are detached from the old rounds (docstat
// untouched), the rounds deleted, and the new plan inserted. Entries with
// an unparseable time are skipped and logged.
func (s *Service) SyncDay(ctx context.Context, date types.Date, warehouseCode string, inputs []NewRoundInput) ([]Round, error) {
	var out []Round
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		oldIDs, err := store.ListIDsByDayForUpdate(ctx, date, warehouseCode)
		if err != nil {
			return err
		}
		if len(oldIDs) > 0 {
			if err := shipment.NewStore(tx).DetachFromRounds(ctx, oldIDs); err != nil {
				return err
			}
			if err := store.Delete(ctx, oldIDs); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		for _, in := range inputs {
			if !validRoundTime(in.RoundTime) {
				s.log.Warn("skipping round with bad time",
					zap.String("round_time", in.RoundTime), zap.String("warehouse", warehouseCode))
				continue
			}
			r := Round{
				RoundName:     in.RoundName,
				RoundDate:     date,
				RoundTime:     in.RoundTime,
				WarehouseCode: warehouseCode,
				Volume:        in.Volume,
				Status:        StatusPending,
				CreatedAt:     now,
			}
			if err := store.Create(ctx, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("day plan replaced",
		zap.String("date", date.String()),
		zap.String("warehouse", warehouseCode),
		zap.Int("rounds", len(out)))
	return out, nil
}

type CreateRoundCommand struct {
	RoundName     string
	RoundDate     types.Date
	RoundTime     string
	WarehouseCode string
	ShipmentIDs   []string
	Volume        *float64
	Actor         string
}

// CreateRound creates a pending round and pulls the listed free shipments
// into it; ones already in a round or on hold are silently skipped. As in
// the source system, every held shipment across all warehouses is released
// back to its pre-hold state as a side effect.
func (s *Service) CreateRound(ctx context.Context, cmd CreateRoundCommand) (*Round, error) {
	if !validRoundTime(cmd.RoundTime) {
		return nil, fmt.Errorf("invalid round time %q", cmd.RoundTime)
	}
	var out *Round
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		r := Round{
			RoundName:     cmd.RoundName,
			RoundDate:     cmd.RoundDate,
			RoundTime:     cmd.RoundTime,
			WarehouseCode: cmd.WarehouseCode,
			Volume:        cmd.Volume,
			Status:        StatusPending,
			CreatedAt:     time.Now().UTC(),
		}
		store := NewStore(tx)
		if err := store.Create(ctx, &r); err != nil {
			return err
		}
		shipStore := shipment.NewStore(tx)
		moved, err := shipStore.AssignToRound(ctx, cmd.ShipmentIDs, r.ID)
		if err != nil {
			return err
		}
		released, err := shipStore.UnholdAll(ctx, nil)
		if err != nil {
			return err
		}
		s.log.Info("round created",
			zap.Int64("round_id", r.ID),
			zap.String("warehouse", cmd.WarehouseCode),
			zap.Int("moved", len(moved)),
			zap.Int64("unheld", released),
			zap.String("actor", cmd.Actor))
		out = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetRound(ctx, out.ID)
}

// AssignAllReady pulls every free shipment created on crdate at the
// warehouse into the round, then releases held shipments the same way
// CreateRound does.
func (s *Service) AssignAllReady(ctx context.Context, roundID int64, crdate types.Date, shippoint string) ([]string, error) {
	var moved []string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := NewStore(tx).GetForUpdate(ctx, roundID); err != nil {
			return err
		}
		shipStore := shipment.NewStore(tx)
		var err error
		moved, err = shipStore.AssignReadyToRound(ctx, roundID, crdate, shippoint)
		if err != nil {
			return err
		}
		_, err = shipStore.UnholdAll(ctx, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("ready shipments assigned",
		zap.Int64("round_id", roundID),
		zap.String("shippoint", shippoint),
		zap.Int("moved", len(moved)))
	return moved, nil
}

// Allocate runs the quota allocator over a round's waiting shipments and
// persists the plan: winners go to their vendors, shipments with no taker
// go on hold. One transaction; the round row is locked first, then the
// shipments in shipid order.
func (s *Service) Allocate(ctx context.Context, roundID int64, actor string) (*Plan, error) {
	var plan Plan
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		if _, err := store.GetForUpdate(ctx, roundID); err != nil {
			return err
		}
		shipStore := shipment.NewStore(tx)
		all, err := shipStore.ListByRoundForUpdate(ctx, roundID)
		if err != nil {
			return err
		}
		waiting := lo.Filter(all, func(sh shipment.Shipment, _ int) bool {
			return sh.Docstat == shipment.StatWaitingRound
		})
		carriers := carrier.NewStore(tx)
		caps, err := carriers.ListCapacities(ctx)
		if err != nil {
			return err
		}

		plan = PlanAllocation(waiting, caps, s.cfg, time.Now().UTC())

		byID := map[string]*shipment.Shipment{}
		for i := range waiting {
			byID[waiting[i].Shipid] = &waiting[i]
		}
		for _, a := range plan.Assignments {
			sh := byID[a.Shipid]
			if err := shipment.ApplyAllocatorAssign(sh, a.Vencode, a.Grade, a.AssignedAt); err != nil {
				return err
			}
			actorCopy := actor
			sh.Chuser = &actorCopy
			sh.Chdate = &a.AssignedAt
			if err := shipStore.UpdateDispatch(ctx, sh); err != nil {
				return err
			}
			if err := carriers.UpdateLastAssigned(ctx, a.Vencode, a.AssignedAt); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		for _, shipid := range plan.Held {
			sh := byID[shipid]
			if err := shipment.ApplyAllocatorHold(sh); err != nil {
				return err
			}
			actorCopy := actor
			sh.Chuser = &actorCopy
			sh.Chdate = &now
			if err := shipStore.UpdateDispatch(ctx, sh); err != nil {
				return err
			}
		}
		return store.UpdateStatus(ctx, roundID, StatusAllocated)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("round allocated",
		zap.Int64("round_id", roundID),
		zap.Int("assigned", len(plan.Assignments)),
		zap.Int("held", len(plan.Held)))

	s.notifyAssignments(ctx, roundID, plan.Assignments)
	return &plan, nil
}

func (s *Service) notifyAssignments(ctx context.Context, roundID int64, assignments []Assignment) {
	for _, a := range assignments {
		u, err := s.users.GetByVencode(ctx, a.Vencode)
		if err != nil {
			continue
		}
		s.fanout.Send(ctx, []user.SystemUser{*u}, "New shipment assigned",
			fmt.Sprintf("Shipment %s is waiting for your confirmation", a.Shipid),
			map[string]string{
				"shipment_id": a.Shipid,
				"round_id":    strconv.FormatInt(roundID, 10),
				"type":        "allocator_assign",
			})
	}
}

// ConfirmRound finalizes every vendor-confirmed shipment in the round: the
// truck's lead-time block is committed and the shipment moves to its
// terminal assigned state. All or nothing. Lock order is round, then
// shipments by shipid, then cars by carlicense.
func (s *Service) ConfirmRound(ctx context.Context, roundID int64, dispatcher string) (*Round, error) {
	var finalized []shipment.Shipment
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		if _, err := store.GetForUpdate(ctx, roundID); err != nil {
			return err
		}
		shipStore := shipment.NewStore(tx)
		all, err := shipStore.ListByRoundForUpdate(ctx, roundID)
		if err != nil {
			return err
		}
		confirmed := lo.Filter(all, func(sh shipment.Shipment, _ int) bool {
			return sh.Docstat == shipment.StatVendorConfirmed
		})

		now := time.Now().UTC()
		for i := range confirmed {
			sh := &confirmed[i]
			if sh.Carlicense == nil || sh.Apmdate == nil {
				return fmt.Errorf("%w: %s", ErrShipmentIncomplete, sh.Shipid)
			}
			if err := shipment.ApplyDispatcherConfirm(sh); err != nil {
				return err
			}
			dispatcherCopy := dispatcher
			sh.Chuser = &dispatcherCopy
			sh.Chdate = &now
			if err := shipStore.UpdateDispatch(ctx, sh); err != nil {
				return err
			}
		}

		// Car rows last, in carlicense order.
		book := carrier.NewCarBook(carrier.NewStore(tx))
		masters := master.NewStore(tx)
		byCar := make([]*shipment.Shipment, len(confirmed))
		for i := range confirmed {
			byCar[i] = &confirmed[i]
		}
		sort.Slice(byCar, func(i, j int) bool {
			return *byCar[i].Carlicense < *byCar[j].Carlicense
		})
		for _, sh := range byCar {
			days := 1
			if sh.Route != nil {
				if d, err := masters.LeadtimeDays(ctx, *sh.Route); err == nil && d > 0 {
					days = d
				} else if err != nil && !errors.Is(err, master.ErrLeadtimeNotFound) {
					return err
				}
			}
			if _, err := book.CommitAssignment(ctx, *sh.Carlicense, types.DateOf(*sh.Apmdate), days); err != nil {
				return err
			}
		}

		if err := store.UpdateStatus(ctx, roundID, StatusConfirmed); err != nil {
			return err
		}
		finalized = confirmed
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("round confirmed",
		zap.Int64("round_id", roundID),
		zap.Int("finalized", len(finalized)),
		zap.String("dispatcher", dispatcher))

	for _, sh := range finalized {
		if sh.Vencode == nil {
			continue
		}
		if u, err := s.users.GetByVencode(ctx, *sh.Vencode); err == nil {
			s.fanout.Send(ctx, []user.SystemUser{*u}, "Shipment finalized",
				fmt.Sprintf("Shipment %s is confirmed for dispatch", sh.Shipid),
				map[string]string{
					"shipment_id": sh.Shipid,
					"round_id":    strconv.FormatInt(roundID, 10),
					"type":        "dispatcher_confirm",
				})
		}
	}
	return s.GetRound(ctx, roundID)
}
