// README: Ride lifecycle service; publication, departure, completion, and cancellation.
package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ridepool/internal/events"
	"ridepool/internal/maps"
	"ridepool/internal/modules/otp"
	"ridepool/internal/types"
)

const defaultSearchRadiusKm = 10.0

const maxTotalSeats = 8

// Reassigner relocates the bookings stranded by a ride cancellation.
type Reassigner interface {
	RideCancelled(ctx context.Context, rideID types.ID, reason string) error
}

type RideService struct {
	store     Store
	codes     CodeService
	bus       Notifier
	estimator maps.RouteEstimator
	reassign  Reassigner
	log       *logrus.Logger
}

func NewRideService(store Store, codes CodeService, bus Notifier, estimator maps.RouteEstimator, reassign Reassigner, log *logrus.Logger) *RideService {
	return &RideService{store: store, codes: codes, bus: bus, estimator: estimator, reassign: reassign, log: log}
}

func (s *RideService) emit(e events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(e)
}

type PublishCommand struct {
	DriverID     types.ID      `json:"driver_id"`
	Origin       types.Point   `json:"origin"`
	Destination  types.Point   `json:"destination"`
	Stops        []types.Point `json:"stops"`
	DepartureAt  time.Time     `json:"departure_at"`
	PricePerSeat types.Money   `json:"price_per_seat"`
	TotalSeats   int           `json:"total_seats"`
	InstantBook  bool          `json:"instant_book"`
}

// Publish opens a new ride for booking. The route estimate is best-effort;
// a failed estimator call publishes the ride without distance figures.
func (s *RideService) Publish(ctx context.Context, cmd PublishCommand) (*Ride, error) {
	if cmd.DriverID == "" {
		return nil, fmt.Errorf("%w: driver_id is required", ErrBadRequest)
	}
	if cmd.Origin.Zero() || cmd.Destination.Zero() {
		return nil, fmt.Errorf("%w: origin and destination are required", ErrBadRequest)
	}
	if cmd.TotalSeats < 1 || cmd.TotalSeats > maxTotalSeats {
		return nil, fmt.Errorf("%w: total_seats must be between 1 and %d", ErrBadRequest, maxTotalSeats)
	}
	if !cmd.DepartureAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: departure_at must be in the future", ErrBadRequest)
	}
	if cmd.PricePerSeat.Amount < 0 {
		return nil, fmt.Errorf("%w: price_per_seat cannot be negative", ErrBadRequest)
	}
	if cmd.PricePerSeat.Currency == "" {
		cmd.PricePerSeat.Currency = "USD"
	}

	now := time.Now().UTC()
	r := &Ride{
		ID:             newID(),
		DriverID:       cmd.DriverID,
		Origin:         cmd.Origin,
		Destination:    cmd.Destination,
		Stops:          cmd.Stops,
		DepartureAt:    cmd.DepartureAt,
		PricePerSeat:   cmd.PricePerSeat,
		TotalSeats:     cmd.TotalSeats,
		AvailableSeats: cmd.TotalSeats,
		InstantBook:    cmd.InstantBook,
		Status:         RideStatusActive,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if s.estimator != nil {
		route, err := s.estimator.Estimate(ctx, cmd.Origin, cmd.Destination, cmd.Stops)
		if err != nil {
			s.log.WithError(err).WithField("driver_id", cmd.DriverID).Warn("route estimate failed")
		} else {
			r.DistanceKm = route.DistanceKm
			r.DurationMin = route.DurationMin
		}
	}

	if err := s.store.CreateRide(ctx, r); err != nil {
		return nil, err
	}
	_ = s.store.AppendEvents(ctx, []BookingEvent{{
		RideID:    r.ID,
		ToStatus:  string(RideStatusActive),
		Actor:     ActorDriver,
		CreatedAt: now,
	}})

	s.emit(events.Event{
		Kind:     events.KindRideStatusUpdated,
		RideID:   r.ID,
		DriverID: r.DriverID,
		Payload:  map[string]any{"status": r.Status},
	})
	s.log.WithFields(logrus.Fields{
		"ride_id":     r.ID,
		"driver_id":   r.DriverID,
		"total_seats": r.TotalSeats,
		"departs_at":  r.DepartureAt,
	}).Info("ride published")
	return r, nil
}

// Start departs the ride. Confirmed passengers get their pickup codes and
// move to PICKUP_PENDING; requests still pending are cancelled and their
// seats returned.
func (s *RideService) Start(ctx context.Context, rideID, driverID types.ID) (*Ride, error) {
	for i := 0; i < applyRetries; i++ {
		view, err := s.store.Snapshot(ctx, rideID)
		if err != nil {
			return nil, err
		}
		r := view.Ride
		if driverID != "" && r.DriverID != driverID {
			return nil, ErrForbidden
		}
		if !CanTransitionRide(r.Status, RideStatusInProgress) {
			return nil, fmt.Errorf("%w: ride %s is %s", ErrInvalidTransition, r.ID, r.Status)
		}

		var confirmed, pending []*Booking
		for _, b := range view.Bookings {
			switch b.Status {
			case BookingStatusConfirmed:
				confirmed = append(confirmed, b)
			case BookingStatusPending:
				pending = append(pending, b)
			}
		}
		if len(confirmed) == 0 {
			return nil, fmt.Errorf("%w: ride %s has no confirmed bookings to depart with", ErrInvalidTransition, r.ID)
		}

		now := time.Now().UTC()
		var changed []*Booking
		var evs []BookingEvent
		for _, b := range confirmed {
			code, err := s.codes.Issue(ctx, b.ID, otp.PhasePickup)
			if err != nil {
				return nil, fmt.Errorf("issue pickup code for booking %s: %w", b.ID, err)
			}
			from := b.Status
			b.Status = BookingStatusPickupPending
			b.PickupCode = code
			b.UpdatedAt = now
			changed = append(changed, b)
			evs = append(evs, BookingEvent{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorDriver, CreatedAt: now})
		}
		released := 0
		for _, b := range pending {
			from := b.Status
			b.Status = BookingStatusCancelled
			b.CancelReason = "ride_departed"
			b.UpdatedAt = now
			if b.PaymentStatus == PaymentPaid {
				b.PaymentStatus = PaymentRefunded
				b.RefundAmount = b.TotalPrice
			}
			released += b.SeatsBooked
			changed = append(changed, b)
			evs = append(evs, BookingEvent{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorSystem, Reason: "ride_departed", CreatedAt: now})
		}

		status := RideStatusInProgress
		evs = append(evs, BookingEvent{RideID: r.ID, FromStatus: string(r.Status), ToStatus: string(status), Actor: ActorDriver, CreatedAt: now})
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			RideStatus:  &status,
			SeatDelta:   released,
			Bookings:    changed,
			Events:      evs,
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.emit(events.Event{
			Kind:     events.KindRideStatusUpdated,
			RideID:   r.ID,
			DriverID: r.DriverID,
			Payload:  map[string]any{"status": status},
		})
		for _, b := range confirmed {
			s.emit(events.Event{
				Kind:        events.KindRideStatusUpdated,
				RideID:      r.ID,
				BookingID:   b.ID,
				PassengerID: b.PassengerID,
				Payload:     map[string]any{"status": status, "booking_status": b.Status},
			})
		}
		for _, b := range pending {
			s.emit(events.Event{
				Kind:        events.KindBookingCancelled,
				RideID:      r.ID,
				BookingID:   b.ID,
				PassengerID: b.PassengerID,
				DriverID:    r.DriverID,
				Payload:     map[string]any{"by": ActorSystem, "reason": "ride_departed", "refunded": b.PaymentStatus == PaymentRefunded},
			})
		}
		s.log.WithFields(logrus.Fields{
			"ride_id":    r.ID,
			"picking_up": len(confirmed),
			"expired":    len(pending),
		}).Info("ride started")

		r.Status = status
		r.AvailableSeats += released
		r.Version++
		r.UpdatedAt = now
		return r, nil
	}
	return nil, ErrConflict
}

// Complete closes out the ride. It refuses while any passenger is still
// between pickup and dropoff; delivered passengers are finalized.
func (s *RideService) Complete(ctx context.Context, rideID, driverID types.ID) (*Ride, error) {
	for i := 0; i < applyRetries; i++ {
		view, err := s.store.Snapshot(ctx, rideID)
		if err != nil {
			return nil, err
		}
		r := view.Ride
		if driverID != "" && r.DriverID != driverID {
			return nil, ErrForbidden
		}
		if !CanTransitionRide(r.Status, RideStatusCompleted) {
			return nil, fmt.Errorf("%w: ride %s is %s", ErrInvalidTransition, r.ID, r.Status)
		}

		var delivered []*Booking
		for _, b := range view.Bookings {
			if b.Status.SeatHolding() {
				return nil, fmt.Errorf("%w: ride %s still has booking %s in %s", ErrInvalidTransition, r.ID, b.ID, b.Status)
			}
			if b.Status == BookingStatusDroppedOff {
				delivered = append(delivered, b)
			}
		}

		now := time.Now().UTC()
		var evs []BookingEvent
		for _, b := range delivered {
			from := b.Status
			b.Status = BookingStatusCompleted
			b.UpdatedAt = now
			evs = append(evs, BookingEvent{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorSystem, Reason: "ride_completed", CreatedAt: now})
		}
		status := RideStatusCompleted
		evs = append(evs, BookingEvent{RideID: r.ID, FromStatus: string(r.Status), ToStatus: string(status), Actor: ActorDriver, CreatedAt: now})
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			RideStatus:  &status,
			Bookings:    delivered,
			Events:      evs,
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.emit(events.Event{
			Kind:     events.KindRideStatusUpdated,
			RideID:   r.ID,
			DriverID: r.DriverID,
			Payload:  map[string]any{"status": status},
		})
		for _, b := range delivered {
			s.emit(events.Event{
				Kind:        events.KindRideStatusUpdated,
				RideID:      r.ID,
				BookingID:   b.ID,
				PassengerID: b.PassengerID,
				Payload:     map[string]any{"status": status, "booking_status": b.Status},
			})
		}
		s.log.WithFields(logrus.Fields{"ride_id": r.ID, "delivered": len(delivered)}).Info("ride completed")

		r.Status = status
		r.Version++
		r.UpdatedAt = now
		return r, nil
	}
	return nil, ErrConflict
}

// Cancel terminates the ride and hands its bookings to the reassignment
// coordinator. Relocation runs in-line so the caller's response reflects the
// final outcome of every displaced passenger.
func (s *RideService) Cancel(ctx context.Context, rideID, driverID types.ID, reason string) (*Ride, error) {
	actor := ActorDriver
	if driverID == "" {
		actor = ActorSystem
	}

	var r *Ride
	for i := 0; ; i++ {
		if i == applyRetries {
			return nil, ErrConflict
		}
		var err error
		r, err = s.store.GetRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		if driverID != "" && r.DriverID != driverID {
			return nil, ErrForbidden
		}
		if !CanTransitionRide(r.Status, RideStatusCancelled) {
			return nil, fmt.Errorf("%w: ride %s is %s", ErrInvalidTransition, r.ID, r.Status)
		}

		now := time.Now().UTC()
		status := RideStatusCancelled
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			RideStatus:  &status,
			Events:      []BookingEvent{{RideID: r.ID, FromStatus: string(r.Status), ToStatus: string(status), Actor: actor, Reason: reason, CreatedAt: now}},
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}
		r.Status = status
		r.Version++
		r.UpdatedAt = now
		break
	}

	s.emit(events.Event{
		Kind:     events.KindRideStatusUpdated,
		RideID:   r.ID,
		DriverID: r.DriverID,
		Payload:  map[string]any{"status": r.Status, "reason": reason},
	})
	s.log.WithFields(logrus.Fields{"ride_id": r.ID, "reason": reason}).Info("ride cancelled")

	if s.reassign != nil {
		if err := s.reassign.RideCancelled(ctx, r.ID, reason); err != nil {
			s.log.WithError(err).WithField("ride_id", r.ID).Error("reassignment after ride cancel failed")
		}
	}
	return r, nil
}

type SearchCommand struct {
	Origin        types.Point
	Destination   types.Point
	DepartureFrom time.Time
	DepartureTo   time.Time
	Seats         int
	RadiusKm      float64
}

// Search lists ACTIVE rides with enough free seats, filtered and ranked by
// endpoint proximity when the caller supplies coordinates.
func (s *RideService) Search(ctx context.Context, cmd SearchCommand) ([]*Ride, error) {
	seats := cmd.Seats
	if seats < 1 {
		seats = 1
	}
	rides, err := s.store.SearchRides(ctx, SearchQuery{
		Status:        RideStatusActive,
		DepartureFrom: cmd.DepartureFrom,
		DepartureTo:   cmd.DepartureTo,
		MinSeats:      seats,
	})
	if err != nil {
		return nil, err
	}
	if cmd.Origin.Zero() && cmd.Destination.Zero() {
		return rides, nil
	}

	radius := cmd.RadiusKm
	if radius <= 0 {
		radius = defaultSearchRadiusKm
	}
	out := rides[:0]
	for _, r := range rides {
		if !cmd.Origin.Zero() && maps.HaversineKm(cmd.Origin, r.Origin) > radius {
			continue
		}
		if !cmd.Destination.Zero() && maps.HaversineKm(cmd.Destination, r.Destination) > radius {
			continue
		}
		out = append(out, r)
	}
	maps.SortByDistance(out, func(r *Ride) float64 {
		var d float64
		if !cmd.Origin.Zero() {
			d += maps.HaversineKm(cmd.Origin, r.Origin)
		}
		if !cmd.Destination.Zero() {
			d += maps.HaversineKm(cmd.Destination, r.Destination)
		}
		return d
	})
	return out, nil
}

func (s *RideService) Get(ctx context.Context, rideID types.ID) (*Ride, error) {
	return s.store.GetRide(ctx, rideID)
}

// Detail returns the ride together with every booking on it.
func (s *RideService) Detail(ctx context.Context, rideID types.ID) (*View, error) {
	return s.store.Snapshot(ctx, rideID)
}

func (s *RideService) ListByDriver(ctx context.Context, driverID types.ID) ([]*Ride, error) {
	return s.store.ListRidesByDriver(ctx, driverID)
}
