// README: In-memory store implementation; the default for tests and single-node dev runs.
package ride

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ridepool/internal/types"
)

// MemStore keeps the whole aggregate space under one mutex. Apply performs
// the version check and the write set in a single critical section, which
// gives it the same atomicity the Postgres store gets from a transaction.
type MemStore struct {
	mu          sync.Mutex
	rides       map[types.ID]*Ride
	bookings    map[types.ID]*Booking
	byKey       map[string]types.ID
	events      []BookingEvent
	nextEventID int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		rides:       make(map[types.ID]*Ride),
		bookings:    make(map[types.ID]*Booking),
		byKey:       make(map[string]types.ID),
		nextEventID: 1,
	}
}

func (s *MemStore) CreateRide(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return fmt.Errorf("ride %s already exists", r.ID)
	}
	s.rides[r.ID] = copyRide(r)
	return nil
}

func (s *MemStore) GetRide(_ context.Context, id types.ID) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRide(r), nil
}

func (s *MemStore) Snapshot(_ context.Context, rideID types.ID) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	view := &View{Ride: copyRide(r)}
	for _, b := range s.bookings {
		if b.RideID == rideID {
			view.Bookings = append(view.Bookings, copyBooking(b))
		}
	}
	sortBookings(view.Bookings)
	return view, nil
}

func (s *MemStore) Apply(_ context.Context, ch Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[ch.RideID]
	if !ok {
		return ErrNotFound
	}
	if r.Version != ch.FromVersion {
		return ErrStaleRide
	}

	seats := r.AvailableSeats + ch.SeatDelta
	if seats < 0 || seats > r.TotalSeats {
		return fmt.Errorf("seat ledger violation on ride %s: %d not in [0,%d]", r.ID, seats, r.TotalSeats)
	}

	// A new booking whose idempotency key already belongs to another booking
	// lost a creation race; report it like a version miss so the caller
	// re-reads and resolves to the winner.
	for _, b := range ch.Bookings {
		if b.IdempotencyKey == "" {
			continue
		}
		if owner, exists := s.byKey[b.IdempotencyKey]; exists && owner != b.ID {
			return ErrStaleRide
		}
	}

	now := time.Now().UTC()
	r.AvailableSeats = seats
	if ch.RideStatus != nil {
		r.Status = *ch.RideStatus
	}
	r.Version++
	r.UpdatedAt = now

	for _, b := range ch.Bookings {
		cp := copyBooking(b)
		cp.UpdatedAt = now
		s.bookings[cp.ID] = cp
		if cp.IdempotencyKey != "" {
			s.byKey[cp.IdempotencyKey] = cp.ID
		}
	}
	for _, ev := range ch.Events {
		ev.ID = s.nextEventID
		s.nextEventID++
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		s.events = append(s.events, ev)
	}
	return nil
}

func (s *MemStore) AppendEvents(_ context.Context, evs []BookingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, ev := range evs {
		ev.ID = s.nextEventID
		s.nextEventID++
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		s.events = append(s.events, ev)
	}
	return nil
}

func (s *MemStore) GetBooking(_ context.Context, id types.ID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBooking(b), nil
}

func (s *MemStore) FindBookingByKey(_ context.Context, key string) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBooking(b), nil
}

func (s *MemStore) ListBookingsByPassenger(_ context.Context, passengerID types.ID) ([]*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Booking
	for _, b := range s.bookings {
		if b.PassengerID == passengerID {
			out = append(out, copyBooking(b))
		}
	}
	sortBookings(out)
	return out, nil
}

func (s *MemStore) SearchRides(_ context.Context, q SearchQuery) ([]*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Ride
	for _, r := range s.rides {
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		if !q.DepartureFrom.IsZero() && r.DepartureAt.Before(q.DepartureFrom) {
			continue
		}
		if !q.DepartureTo.IsZero() && r.DepartureAt.After(q.DepartureTo) {
			continue
		}
		if r.AvailableSeats < q.MinSeats {
			continue
		}
		if q.ExcludeRide != "" && r.ID == q.ExcludeRide {
			continue
		}
		if q.ExcludeDriver != "" && r.DriverID == q.ExcludeDriver {
			continue
		}
		out = append(out, copyRide(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DepartureAt.Equal(out[j].DepartureAt) {
			return out[i].DepartureAt.Before(out[j].DepartureAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) ListRidesByDriver(_ context.Context, driverID types.ID) ([]*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Ride
	for _, r := range s.rides {
		if r.DriverID == driverID {
			out = append(out, copyRide(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.After(out[j].DepartureAt) })
	return out, nil
}

func copyRide(r *Ride) *Ride {
	cp := *r
	if r.Stops != nil {
		cp.Stops = append([]types.Point(nil), r.Stops...)
	}
	return &cp
}

func copyBooking(b *Booking) *Booking {
	cp := *b
	if b.PickupVerifiedAt != nil {
		t := *b.PickupVerifiedAt
		cp.PickupVerifiedAt = &t
	}
	if b.DropoffVerifiedAt != nil {
		t := *b.DropoffVerifiedAt
		cp.DropoffVerifiedAt = &t
	}
	return &cp
}

func sortBookings(bs []*Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.Before(bs[j].CreatedAt)
		}
		return bs[i].ID < bs[j].ID
	})
}
