// README: Seat ledger guard; every reservation and release goes through the ride version CAS.
package ride

import (
	"context"
	"errors"
	"fmt"

	"ridepool/internal/types"
)

type SeatAllocator struct {
	store Store
}

func NewSeatAllocator(store Store) *SeatAllocator {
	return &SeatAllocator{store: store}
}

// CheckCapacity validates a requested seat count against the ledger as read.
// It does not hold anything; Apply re-checks under the version CAS.
func (a *SeatAllocator) CheckCapacity(r *Ride, seats int) error {
	if seats < 1 {
		return fmt.Errorf("%w: seats must be at least 1", ErrBadRequest)
	}
	if seats > r.AvailableSeats {
		return fmt.Errorf("%w: requested %d, available %d on ride %s", ErrCapacityExceeded, seats, r.AvailableSeats, r.ID)
	}
	return nil
}

// Reserve debits seats from an ACTIVE ride. Version races are retried; a
// ride that ran out of seats mid-retry fails with ErrCapacityExceeded.
func (a *SeatAllocator) Reserve(ctx context.Context, rideID types.ID, seats int) (*Ride, error) {
	if seats < 1 {
		return nil, fmt.Errorf("%w: seats must be at least 1", ErrBadRequest)
	}
	for i := 0; i < applyRetries; i++ {
		r, err := a.store.GetRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		if r.Status != RideStatusActive {
			return nil, ErrRideNotActive
		}
		if err := a.CheckCapacity(r, seats); err != nil {
			return nil, err
		}
		err = a.store.Apply(ctx, Change{RideID: rideID, FromVersion: r.Version, SeatDelta: -seats})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}
		r.AvailableSeats -= seats
		r.Version++
		return r, nil
	}
	return nil, ErrConflict
}

// Release credits seats back to the ledger. There is no status guard: a
// hold on a ride that got cancelled mid-handoff must still be returnable.
func (a *SeatAllocator) Release(ctx context.Context, rideID types.ID, seats int) error {
	if seats < 1 {
		return fmt.Errorf("%w: seats must be at least 1", ErrBadRequest)
	}
	for i := 0; i < applyRetries; i++ {
		r, err := a.store.GetRide(ctx, rideID)
		if err != nil {
			return err
		}
		err = a.store.Apply(ctx, Change{RideID: rideID, FromVersion: r.Version, SeatDelta: seats})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		return err
	}
	return ErrConflict
}
