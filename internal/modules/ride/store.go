// README: Storage contract for the ride aggregate; Apply is an optimistic per-ride CAS.
package ride

import (
	"context"
	"time"

	"ridepool/internal/types"
)

// applyRetries bounds the service-level retry loops around Store.Apply.
const applyRetries = 5

// Change is one atomic mutation of a ride aggregate: the ride row, a seat
// delta, booking upserts, and state-event appends. It applies only if the
// ride's version still equals FromVersion, then bumps it; otherwise Apply
// returns ErrStaleRide and nothing is written.
type Change struct {
	RideID      types.ID
	FromVersion int64
	// RideStatus, when set, moves the ride's status.
	RideStatus *RideStatus
	// SeatDelta adjusts AvailableSeats: negative reserves, positive releases.
	// The result must stay within [0, TotalSeats].
	SeatDelta int
	Bookings  []*Booking
	Events    []BookingEvent
}

// View is a consistent snapshot of a ride and its bookings. Any concurrent
// aggregate mutation bumps the ride version, so a stale view is caught by the
// next Apply.
type View struct {
	Ride     *Ride
	Bookings []*Booking
}

// SearchQuery filters rides for the marketplace and for reassignment
// candidates. Geo filtering happens in the callers; the store filters on
// status, departure window, and seat floor.
type SearchQuery struct {
	Status        RideStatus
	DepartureFrom time.Time
	DepartureTo   time.Time
	MinSeats      int
	ExcludeRide   types.ID
	ExcludeDriver types.ID
}

type Store interface {
	CreateRide(ctx context.Context, r *Ride) error
	GetRide(ctx context.Context, id types.ID) (*Ride, error)
	Snapshot(ctx context.Context, rideID types.ID) (*View, error)
	Apply(ctx context.Context, ch Change) error
	AppendEvents(ctx context.Context, evs []BookingEvent) error
	GetBooking(ctx context.Context, id types.ID) (*Booking, error)
	FindBookingByKey(ctx context.Context, key string) (*Booking, error)
	ListBookingsByPassenger(ctx context.Context, passengerID types.ID) ([]*Booking, error)
	SearchRides(ctx context.Context, q SearchQuery) ([]*Ride, error)
	ListRidesByDriver(ctx context.Context, driverID types.ID) ([]*Ride, error)
}
