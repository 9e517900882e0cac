// README: Background worker that expires unanswered offers and stale broadcasts.
package shipment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dispatch/internal/config"
	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/notify"
	"dispatch/internal/modules/user"
)

// TimeoutStore is the slice of the shipment store the sweep needs.
type TimeoutStore interface {
	ListExpired(ctx context.Context, stat DocStat, cutoff time.Time) ([]Shipment, error)
	UpdateDispatch(ctx context.Context, sh *Shipment) error
}

// GradeResolver attributes an unanswered grade offer to a concrete vendor.
type GradeResolver interface {
	FirstByGrade(ctx context.Context, grade carrier.Grade) (*carrier.Vendor, error)
}

// ExpiredOffer is a grade offer that lapsed into broadcast, remembering
// which grade let it lapse so the fan-out can skip that grade.
type ExpiredOffer struct {
	Shipment Shipment
	Grade    *carrier.Grade
}

// SweepResult reports what one sweep changed, for post-commit fan-out.
type SweepResult struct {
	Broadcasted []ExpiredOffer // 02 offers that expired into BC
	Held        []Shipment     // BC offers that expired into HD
}

const workerUser = "timeout-worker"

// Sweep moves every expired offer one step: unanswered grade offers open to
// broadcast with the silent vendor recorded as a rejection, and unclaimed
// broadcasts park for dispatcher attention. Rows locked by an in-flight
// confirm or reject are skipped and picked up next tick.
func Sweep(ctx context.Context, store TimeoutStore, carriers GradeResolver, now time.Time, timeout time.Duration, log *zap.Logger) (SweepResult, error) {
	var res SweepResult
	cutoff := now.Add(-timeout)

	waiting, err := store.ListExpired(ctx, StatWaitingVendor, cutoff)
	if err != nil {
		return res, fmt.Errorf("scan expired offers: %w", err)
	}
	for i := range waiting {
		sh := &waiting[i]
		lapsedGrade := sh.CurrentGradeToAssign
		blame, err := blameVencode(ctx, carriers, sh)
		if err != nil {
			log.Warn("cannot attribute expired offer", zap.String("shipid", sh.Shipid), zap.Error(err))
		}
		if err := ApplyWaitingTimeout(sh, blame, now); err != nil {
			log.Warn("skipping expired offer", zap.String("shipid", sh.Shipid), zap.Error(err))
			continue
		}
		actor := workerUser
		sh.Chuser = &actor
		sh.Chdate = &now
		if err := store.UpdateDispatch(ctx, sh); err != nil {
			return res, err
		}
		res.Broadcasted = append(res.Broadcasted, ExpiredOffer{Shipment: *sh, Grade: lapsedGrade})
	}

	broadcast, err := store.ListExpired(ctx, StatBroadcast, cutoff)
	if err != nil {
		return res, fmt.Errorf("scan expired broadcasts: %w", err)
	}
	for i := range broadcast {
		sh := &broadcast[i]
		if err := ApplyBroadcastTimeout(sh); err != nil {
			log.Warn("skipping expired broadcast", zap.String("shipid", sh.Shipid), zap.Error(err))
			continue
		}
		actor := workerUser
		sh.Chuser = &actor
		sh.Chdate = &now
		if err := store.UpdateDispatch(ctx, sh); err != nil {
			return res, err
		}
		res.Held = append(res.Held, *sh)
	}
	return res, nil
}

// blameVencode picks who to charge for the silence: the specific vendor the
// offer targeted, else the lowest-vencode active vendor of the offered
// grade so the attribution is deterministic.
func blameVencode(ctx context.Context, carriers GradeResolver, sh *Shipment) (string, error) {
	if sh.Vencode != nil {
		return *sh.Vencode, nil
	}
	if sh.CurrentGradeToAssign == nil {
		return "", errors.New("offer has neither vendor nor grade")
	}
	v, err := carriers.FirstByGrade(ctx, *sh.CurrentGradeToAssign)
	if err != nil {
		return "", err
	}
	return v.Vencode, nil
}

// userDirectory is the slice of the user store the worker fans out with.
type userDirectory interface {
	ListVendors(ctx context.Context) ([]user.SystemUser, error)
	ListDispatchers(ctx context.Context) ([]user.SystemUser, error)
}

// Worker drives Sweep on a ticker. With a redis client it takes a leader
// lock per tick, so multiple instances can run the worker without sweeping
// twice.
type Worker struct {
	pool   *pgxpool.Pool
	rdb    *redis.Client
	users  userDirectory
	fanout *notify.Fanout
	cfg    config.DispatchConfig
	log    *zap.Logger
}

func NewWorker(pool *pgxpool.Pool, rdb *redis.Client, users userDirectory, fanout *notify.Fanout, cfg config.DispatchConfig, log *zap.Logger) *Worker {
	return &Worker{pool: pool, rdb: rdb, users: users, fanout: fanout, cfg: cfg, log: log}
}

const leaderKey = "dispatch:timeout-worker:leader"

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WorkerTick)
	defer ticker.Stop()

	w.log.Info("timeout worker started",
		zap.Duration("tick", w.cfg.WorkerTick),
		zap.Duration("response_timeout", w.cfg.ResponseTimeout))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("timeout worker stopped")
			return
		case <-ticker.C:
			if !w.isLeader(ctx) {
				continue
			}
			if err := w.Tick(ctx, time.Now().UTC()); err != nil {
				w.log.Error("timeout sweep failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) isLeader(ctx context.Context) bool {
	if w.rdb == nil {
		return true
	}
	host, _ := os.Hostname()
	ok, err := w.rdb.SetNX(ctx, leaderKey, host, w.cfg.WorkerTick).Result()
	if err != nil {
		w.log.Warn("leader lock unavailable, sweeping anyway", zap.Error(err))
		return true
	}
	return ok
}

// Tick runs one sweep in a single transaction and fans out notifications
// after it commits.
func (w *Worker) Tick(ctx context.Context, now time.Time) error {
	var res SweepResult
	err := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		var err error
		res, err = Sweep(ctx, NewStore(tx), carrier.NewStore(tx), now, w.cfg.ResponseTimeout, w.log)
		return err
	})
	if err != nil {
		return err
	}

	if len(res.Broadcasted) > 0 || len(res.Held) > 0 {
		w.log.Info("timeout sweep",
			zap.Int("broadcasted", len(res.Broadcasted)),
			zap.Int("held", len(res.Held)))
	}
	w.notify(ctx, res)
	return nil
}

func (w *Worker) notify(ctx context.Context, res SweepResult) {
	if len(res.Broadcasted) > 0 {
		vendors, err := w.users.ListVendors(ctx)
		if err != nil {
			w.log.Warn("vendor lookup for fan-out failed", zap.Error(err))
		} else {
			for _, offer := range res.Broadcasted {
				sh := offer.Shipment
				var eligible []user.SystemUser
				for _, v := range vendors {
					if offer.Grade != nil && v.Grade != nil && *v.Grade == *offer.Grade {
						continue
					}
					if v.VencodeRef != nil && sh.HasRejected(*v.VencodeRef) {
						continue
					}
					eligible = append(eligible, v)
				}
				w.fanout.Send(ctx, eligible, "Shipment open for booking",
					fmt.Sprintf("Shipment %s is open, first come first served", sh.Shipid),
					map[string]string{"shipment_id": sh.Shipid, "type": "broadcast"})
			}
		}
	}
	if len(res.Held) > 0 {
		dispatchers, err := w.users.ListDispatchers(ctx)
		if err != nil {
			w.log.Warn("dispatcher lookup for fan-out failed", zap.Error(err))
			return
		}
		for _, sh := range res.Held {
			w.fanout.Send(ctx, dispatchers, "Shipment needs attention",
				fmt.Sprintf("No vendor took shipment %s, it is now on hold", sh.Shipid),
				map[string]string{"shipment_id": sh.Shipid, "type": "timeout_hold"})
		}
	}
}
