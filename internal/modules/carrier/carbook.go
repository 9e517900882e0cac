// README: Car reservation and lead-time blocking coupled to the shipment lifecycle.
package carrier

import (
	"context"

	"dispatch/internal/types"
)

// CarBook handles truck reservation and release-date bookkeeping. All
// methods expect to run inside the caller's transaction: the store must be
// constructed over a pgx.Tx so the FOR UPDATE lock taken by TryReserve
// survives until commit.
type CarBook struct {
	store *Store
}

func NewCarBook(store *Store) *CarBook {
	return &CarBook{store: store}
}

// TryReserve locks the car row and verifies it can take a job departing on
// requiredDate. It returns ErrCarNotFound, ErrWrongOwner or ErrCarBusy; on
// nil the lock is held and the caller may confirm the shipment against it.
func (b *CarBook) TryReserve(ctx context.Context, carlicense, ownerVencode string, requiredDate types.Date) (*Car, error) {
	car, err := b.store.GetCarForUpdate(ctx, carlicense)
	if err != nil {
		return nil, err
	}
	if car.Vencode != ownerVencode {
		return nil, ErrWrongOwner
	}
	if !car.UsableOn(requiredDate) {
		return nil, ErrCarBusy
	}
	return car, nil
}

// CommitAssignment blocks the car for the shipment's lead time: the truck
// is marked inactive and becomes available again on
// apmdate + (leadtimeDays - 1). Setting the same values twice is a no-op,
// which makes the call idempotent per (shipment, car).
func (b *CarBook) CommitAssignment(ctx context.Context, carlicense string, apmdate types.Date, leadtimeDays int) (types.Date, error) {
	if leadtimeDays < 1 {
		leadtimeDays = 1
	}
	availableAt := apmdate.AddDays(leadtimeDays - 1)
	if err := b.store.setCarReserved(ctx, carlicense, availableAt); err != nil {
		return types.Date{}, err
	}
	return availableAt, nil
}
