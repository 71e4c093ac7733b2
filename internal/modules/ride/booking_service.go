// README: Booking lifecycle service; seat reservation, driver decisions, and the OTP handoff protocol.
package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ridepool/internal/events"
	"ridepool/internal/modules/otp"
	"ridepool/internal/types"
)

// CodeService is the slice of the OTP module the handoff protocol needs.
type CodeService interface {
	Issue(ctx context.Context, bookingID types.ID, phase otp.Phase) (string, error)
	Verify(ctx context.Context, bookingID types.ID, phase otp.Phase, submitted string) error
	Invalidate(ctx context.Context, bookingID types.ID, phase otp.Phase) error
}

// Notifier fans lifecycle events out to connected clients and sinks.
type Notifier interface {
	Publish(e events.Event) events.Event
}

type BookingService struct {
	store Store
	alloc *SeatAllocator
	codes CodeService
	bus   Notifier
	log   *logrus.Logger
}

func NewBookingService(store Store, alloc *SeatAllocator, codes CodeService, bus Notifier, log *logrus.Logger) *BookingService {
	return &BookingService{store: store, alloc: alloc, codes: codes, bus: bus, log: log}
}

func (s *BookingService) emit(e events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(e)
}

type CreateCommand struct {
	RideID         types.ID    `json:"ride_id"`
	PassengerID    types.ID    `json:"passenger_id"`
	SeatsBooked    int         `json:"seats_booked"`
	PickupPoint    types.Point `json:"pickup_point"`
	DropoffPoint   types.Point `json:"dropoff_point"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// Create reserves seats and opens a booking in one aggregate write. Replays
// of the same idempotency key return the original booking; the same key with
// a different payload is rejected.
func (s *BookingService) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	if cmd.RideID == "" || cmd.PassengerID == "" {
		return nil, fmt.Errorf("%w: ride_id and passenger_id are required", ErrBadRequest)
	}
	if cmd.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency_key is required", ErrBadRequest)
	}
	if cmd.SeatsBooked < 1 {
		return nil, fmt.Errorf("%w: seats_booked must be at least 1", ErrBadRequest)
	}

	for i := 0; i < applyRetries; i++ {
		existing, err := s.store.FindBookingByKey(ctx, cmd.IdempotencyKey)
		if err == nil {
			if existing.RideID == cmd.RideID && existing.PassengerID == cmd.PassengerID && existing.SeatsBooked == cmd.SeatsBooked {
				return existing, nil
			}
			return nil, fmt.Errorf("%w: key %q", ErrDuplicateRequest, cmd.IdempotencyKey)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		r, err := s.store.GetRide(ctx, cmd.RideID)
		if err != nil {
			return nil, err
		}
		if r.Status != RideStatusActive {
			return nil, ErrRideNotActive
		}
		if r.DriverID == cmd.PassengerID {
			return nil, fmt.Errorf("%w: drivers cannot book their own ride", ErrBadRequest)
		}
		if err := s.alloc.CheckCapacity(r, cmd.SeatsBooked); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		b := &Booking{
			ID:             newID(),
			RideID:         r.ID,
			PassengerID:    cmd.PassengerID,
			SeatsBooked:    cmd.SeatsBooked,
			Status:         BookingStatusPending,
			PickupPoint:    cmd.PickupPoint,
			DropoffPoint:   cmd.DropoffPoint,
			TotalPrice:     r.PricePerSeat.MulSeats(cmd.SeatsBooked),
			PaymentStatus:  PaymentUnpaid,
			IdempotencyKey: cmd.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if b.PickupPoint.Zero() {
			b.PickupPoint = r.Origin
		}
		if b.DropoffPoint.Zero() {
			b.DropoffPoint = r.Destination
		}

		evs := []BookingEvent{{
			RideID:     r.ID,
			BookingID:  b.ID,
			FromStatus: string(BookingStatusNone),
			ToStatus:   string(BookingStatusPending),
			Actor:      ActorPassenger,
			CreatedAt:  now,
		}}
		if r.InstantBook {
			b.Status = BookingStatusConfirmed
			evs = append(evs, BookingEvent{
				RideID:     r.ID,
				BookingID:  b.ID,
				FromStatus: string(BookingStatusPending),
				ToStatus:   string(BookingStatusConfirmed),
				Actor:      ActorSystem,
				Reason:     "instant_book",
				CreatedAt:  now,
			})
		}

		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			SeatDelta:   -cmd.SeatsBooked,
			Bookings:    []*Booking{b},
			Events:      evs,
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.emit(events.Event{
			Kind:        events.KindNewBookingRequest,
			RideID:      r.ID,
			BookingID:   b.ID,
			PassengerID: b.PassengerID,
			DriverID:    r.DriverID,
			Payload: map[string]any{
				"seats_booked": b.SeatsBooked,
				"total_price":  b.TotalPrice,
				"status":       b.Status,
			},
		})
		if b.Status == BookingStatusConfirmed {
			s.emit(events.Event{
				Kind:        events.KindBookingConfirmed,
				RideID:      r.ID,
				BookingID:   b.ID,
				PassengerID: b.PassengerID,
				DriverID:    r.DriverID,
			})
		}
		s.log.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"ride_id":    r.ID,
			"seats":      b.SeatsBooked,
			"status":     b.Status,
		}).Info("booking created")
		return b, nil
	}
	return nil, ErrConflict
}

// Accept moves a pending booking to CONFIRMED. Seats were already debited at
// creation, so this is a pure status write.
func (s *BookingService) Accept(ctx context.Context, bookingID, driverID types.ID) (*Booking, error) {
	for i := 0; i < applyRetries; i++ {
		b, r, err := s.bookingAndRide(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if driverID != "" && r.DriverID != driverID {
			return nil, ErrForbidden
		}
		if r.Status != RideStatusActive {
			return nil, ErrRideNotActive
		}
		if !CanTransition(b.Status, BookingStatusConfirmed) {
			return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
		}

		now := time.Now().UTC()
		from := b.Status
		b.Status = BookingStatusConfirmed
		b.UpdatedAt = now
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			Bookings:    []*Booking{b},
			Events:      []BookingEvent{{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorDriver, CreatedAt: now}},
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.emit(events.Event{
			Kind:        events.KindBookingConfirmed,
			RideID:      r.ID,
			BookingID:   b.ID,
			PassengerID: b.PassengerID,
			DriverID:    r.DriverID,
		})
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "ride_id": r.ID}).Info("booking accepted")
		return b, nil
	}
	return nil, ErrConflict
}

// Reject declines a pending booking and returns its seats to the ledger.
func (s *BookingService) Reject(ctx context.Context, bookingID, driverID types.ID, reason string) (*Booking, error) {
	for i := 0; i < applyRetries; i++ {
		b, r, err := s.bookingAndRide(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if driverID != "" && r.DriverID != driverID {
			return nil, ErrForbidden
		}
		if !CanTransition(b.Status, BookingStatusRejected) {
			return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
		}

		now := time.Now().UTC()
		from := b.Status
		b.Status = BookingStatusRejected
		b.CancelReason = reason
		b.UpdatedAt = now
		refunded := s.refundIfPaid(b)
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			SeatDelta:   b.SeatsBooked,
			Bookings:    []*Booking{b},
			Events:      []BookingEvent{{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorDriver, Reason: reason, CreatedAt: now}},
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.emit(events.Event{
			Kind:        events.KindBookingCancelled,
			RideID:      r.ID,
			BookingID:   b.ID,
			PassengerID: b.PassengerID,
			DriverID:    r.DriverID,
			Payload:     map[string]any{"by": ActorDriver, "reason": reason, "refunded": refunded},
		})
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "ride_id": r.ID, "reason": reason}).Info("booking rejected")
		return b, nil
	}
	return nil, ErrConflict
}

// Cancel is the passenger-initiated cancellation. It is only allowed before
// the handoff starts; once the booking is PICKUP_PENDING the passenger goes
// through the driver or support.
func (s *BookingService) Cancel(ctx context.Context, bookingID, passengerID types.ID, reason string) (*Booking, error) {
	for i := 0; i < applyRetries; i++ {
		b, r, err := s.bookingAndRide(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if passengerID != "" && b.PassengerID != passengerID {
			return nil, ErrForbidden
		}
		if b.Status != BookingStatusPending && b.Status != BookingStatusConfirmed {
			return nil, fmt.Errorf("%w: booking %s is %s, passengers may cancel only pending or confirmed bookings", ErrInvalidTransition, b.ID, b.Status)
		}

		now := time.Now().UTC()
		from := b.Status
		b.Status = BookingStatusCancelled
		b.CancelReason = reason
		b.UpdatedAt = now
		refunded := s.refundIfPaid(b)
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			SeatDelta:   b.SeatsBooked,
			Bookings:    []*Booking{b},
			Events:      []BookingEvent{{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorPassenger, Reason: reason, CreatedAt: now}},
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.emit(events.Event{
			Kind:        events.KindBookingCancelled,
			RideID:      r.ID,
			BookingID:   b.ID,
			PassengerID: b.PassengerID,
			DriverID:    r.DriverID,
			Payload:     map[string]any{"by": ActorPassenger, "reason": reason, "refunded": refunded},
		})
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "ride_id": r.ID, "reason": reason}).Info("booking cancelled by passenger")
		return b, nil
	}
	return nil, ErrConflict
}

// ConfirmPickup verifies the passenger's pickup code and advances the booking
// to PICKED_UP. A wrong code leaves the booking untouched; a consumed code
// cannot be replayed.
func (s *BookingService) ConfirmPickup(ctx context.Context, bookingID, driverID types.ID, code string) (*Booking, error) {
	b, r, err := s.bookingAndRide(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if driverID != "" && r.DriverID != driverID {
		return nil, ErrForbidden
	}
	if b.Status != BookingStatusPickupPending {
		return nil, fmt.Errorf("%w: booking %s is %s, pickup confirmation requires %s", ErrInvalidTransition, b.ID, b.Status, BookingStatusPickupPending)
	}
	if err := s.codes.Verify(ctx, b.ID, otp.PhasePickup, code); err != nil {
		return nil, err
	}

	// The code is consumed; from here the CAS only races on the ride version.
	for i := 0; i < applyRetries; i++ {
		now := time.Now().UTC()
		from := b.Status
		b.Status = BookingStatusPickedUp
		b.PickupVerifiedAt = &now
		b.UpdatedAt = now
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			Bookings:    []*Booking{b},
			Events:      []BookingEvent{{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorDriver, CreatedAt: now}},
		})
		if errors.Is(err, ErrStaleRide) {
			b, r, err = s.bookingAndRide(ctx, bookingID)
			if err != nil {
				return nil, err
			}
			if b.Status != BookingStatusPickupPending {
				return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		s.emit(events.Event{
			Kind:        events.KindPickupConfirmed,
			RideID:      r.ID,
			BookingID:   b.ID,
			PassengerID: b.PassengerID,
			DriverID:    r.DriverID,
		})
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "ride_id": r.ID}).Info("pickup confirmed")
		return b, nil
	}
	return nil, ErrConflict
}

// StartTransit marks a picked-up passenger as riding. Audit-only; no
// notification goes out.
func (s *BookingService) StartTransit(ctx context.Context, bookingID, driverID types.ID) (*Booking, error) {
	for i := 0; i < applyRetries; i++ {
		b, r, err := s.bookingAndRide(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if driverID != "" && r.DriverID != driverID {
			return nil, ErrForbidden
		}
		if b.Status != BookingStatusPickedUp {
			return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
		}

		now := time.Now().UTC()
		from := b.Status
		b.Status = BookingStatusInTransit
		b.UpdatedAt = now
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			Bookings:    []*Booking{b},
			Events:      []BookingEvent{{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorDriver, CreatedAt: now}},
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, ErrConflict
}

// BeginDropoff issues the dropoff code and parks the booking in
// DROPOFF_PENDING until the driver confirms it at the destination.
func (s *BookingService) BeginDropoff(ctx context.Context, bookingID, driverID types.ID) (*Booking, error) {
	b, r, err := s.bookingAndRide(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if driverID != "" && r.DriverID != driverID {
		return nil, ErrForbidden
	}
	if b.Status != BookingStatusPickedUp && b.Status != BookingStatusInTransit {
		return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
	}
	code, err := s.codes.Issue(ctx, b.ID, otp.PhaseDropoff)
	if err != nil {
		return nil, err
	}

	for i := 0; i < applyRetries; i++ {
		now := time.Now().UTC()
		from := b.Status
		b.Status = BookingStatusDropoffPending
		b.DropoffCode = code
		b.UpdatedAt = now
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			Bookings:    []*Booking{b},
			Events:      []BookingEvent{{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorDriver, CreatedAt: now}},
		})
		if errors.Is(err, ErrStaleRide) {
			b, r, err = s.bookingAndRide(ctx, bookingID)
			if err != nil {
				return nil, err
			}
			if b.Status != BookingStatusPickedUp && b.Status != BookingStatusInTransit {
				return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "ride_id": r.ID}).Info("dropoff pending")
		return b, nil
	}
	return nil, ErrConflict
}

// ConfirmDropoff verifies the dropoff code, marks the passenger delivered,
// and returns their seats to the ledger.
func (s *BookingService) ConfirmDropoff(ctx context.Context, bookingID, driverID types.ID, code string) (*Booking, error) {
	b, r, err := s.bookingAndRide(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if driverID != "" && r.DriverID != driverID {
		return nil, ErrForbidden
	}
	if b.Status != BookingStatusDropoffPending {
		return nil, fmt.Errorf("%w: booking %s is %s, dropoff confirmation requires %s", ErrInvalidTransition, b.ID, b.Status, BookingStatusDropoffPending)
	}
	if err := s.codes.Verify(ctx, b.ID, otp.PhaseDropoff, code); err != nil {
		return nil, err
	}

	for i := 0; i < applyRetries; i++ {
		now := time.Now().UTC()
		from := b.Status
		b.Status = BookingStatusDroppedOff
		b.DropoffVerifiedAt = &now
		b.UpdatedAt = now
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			SeatDelta:   b.SeatsBooked,
			Bookings:    []*Booking{b},
			Events:      []BookingEvent{{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorDriver, CreatedAt: now}},
		})
		if errors.Is(err, ErrStaleRide) {
			b, r, err = s.bookingAndRide(ctx, bookingID)
			if err != nil {
				return nil, err
			}
			if b.Status != BookingStatusDropoffPending {
				return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		s.emit(events.Event{
			Kind:        events.KindDropoffConfirmed,
			RideID:      r.ID,
			BookingID:   b.ID,
			PassengerID: b.PassengerID,
			DriverID:    r.DriverID,
		})
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "ride_id": r.ID}).Info("dropoff confirmed")
		return b, nil
	}
	return nil, ErrConflict
}

// ReissueCode regenerates the code for the current handoff phase. The
// previous code stops working.
func (s *BookingService) ReissueCode(ctx context.Context, bookingID, passengerID types.ID) (*Booking, error) {
	b, r, err := s.bookingAndRide(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if passengerID != "" && b.PassengerID != passengerID {
		return nil, ErrForbidden
	}

	var phase otp.Phase
	switch b.Status {
	case BookingStatusPickupPending:
		phase = otp.PhasePickup
	case BookingStatusDropoffPending:
		phase = otp.PhaseDropoff
	default:
		return nil, fmt.Errorf("%w: booking %s is %s, no code to reissue", ErrInvalidTransition, b.ID, b.Status)
	}
	prev := b.PickupCode
	if phase == otp.PhaseDropoff {
		prev = b.DropoffCode
	}
	code, err := s.codes.Issue(ctx, b.ID, phase)
	if err != nil {
		return nil, err
	}
	// A reissue must rotate: regenerate on the rare collision with the
	// previous code, otherwise that code would keep verifying.
	for code == prev {
		if code, err = s.codes.Issue(ctx, b.ID, phase); err != nil {
			return nil, err
		}
	}

	for i := 0; i < applyRetries; i++ {
		if phase == otp.PhasePickup {
			b.PickupCode = code
		} else {
			b.DropoffCode = code
		}
		b.UpdatedAt = time.Now().UTC()
		err = s.store.Apply(ctx, Change{RideID: r.ID, FromVersion: r.Version, Bookings: []*Booking{b}})
		if errors.Is(err, ErrStaleRide) {
			b, r, err = s.bookingAndRide(ctx, bookingID)
			if err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, ErrConflict
}

// CancelDisplaced terminates a booking stranded by a ride cancellation. It
// tolerates races: a booking that reached a terminal state in the meantime
// is returned as-is. Notification is the coordinator's job.
func (s *BookingService) CancelDisplaced(ctx context.Context, bookingID types.ID, reason string, refund bool) (*Booking, error) {
	for i := 0; i < applyRetries; i++ {
		b, r, err := s.bookingAndRide(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if b.Status.Terminal() {
			return b, nil
		}
		if !CanTransition(b.Status, BookingStatusCancelled) {
			return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
		}

		delta := 0
		if b.Status.SeatHolding() {
			delta = b.SeatsBooked
		}
		now := time.Now().UTC()
		from := b.Status
		b.Status = BookingStatusCancelled
		b.CancelReason = reason
		b.UpdatedAt = now
		if refund {
			s.refundIfPaid(b)
		}
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			SeatDelta:   delta,
			Bookings:    []*Booking{b},
			Events:      []BookingEvent{{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorSystem, Reason: reason, CreatedAt: now}},
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, ErrConflict
}

// CreateReplacement materializes the relocated booking on the candidate ride.
// The coordinator already debited the seats, so the write carries no seat
// delta. Restarts are idempotent through the derived key.
func (s *BookingService) CreateReplacement(ctx context.Context, original *Booking, candidateID types.ID) (*Booking, error) {
	key := "reassign-" + string(original.ID)
	for i := 0; i < applyRetries; i++ {
		existing, err := s.store.FindBookingByKey(ctx, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		r, err := s.store.GetRide(ctx, candidateID)
		if err != nil {
			return nil, err
		}
		if r.Status != RideStatusActive {
			return nil, ErrRideNotActive
		}

		now := time.Now().UTC()
		b := &Booking{
			ID:                newID(),
			RideID:            r.ID,
			PassengerID:       original.PassengerID,
			SeatsBooked:       original.SeatsBooked,
			Status:            BookingStatusConfirmed,
			PickupPoint:       original.PickupPoint,
			DropoffPoint:      original.DropoffPoint,
			TotalPrice:        r.PricePerSeat.MulSeats(original.SeatsBooked),
			PaymentStatus:     original.PaymentStatus,
			IdempotencyKey:    key,
			IsReassignment:    true,
			OriginalBookingID: original.ID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			Bookings:    []*Booking{b},
			Events: []BookingEvent{{
				RideID:     r.ID,
				BookingID:  b.ID,
				FromStatus: string(BookingStatusNone),
				ToStatus:   string(BookingStatusConfirmed),
				Actor:      ActorSystem,
				Reason:     "reassigned from " + string(original.ID),
				CreatedAt:  now,
			}},
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{
			"booking_id":  b.ID,
			"ride_id":     r.ID,
			"original_id": original.ID,
		}).Info("replacement booking created")
		return b, nil
	}
	return nil, ErrConflict
}

// FinalizeDelivered closes out a DROPPED_OFF booking as COMPLETED.
func (s *BookingService) FinalizeDelivered(ctx context.Context, bookingID types.ID, reason string) (*Booking, error) {
	for i := 0; i < applyRetries; i++ {
		b, r, err := s.bookingAndRide(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if b.Status == BookingStatusCompleted {
			return b, nil
		}
		if !CanTransition(b.Status, BookingStatusCompleted) {
			return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
		}

		now := time.Now().UTC()
		from := b.Status
		b.Status = BookingStatusCompleted
		b.UpdatedAt = now
		err = s.store.Apply(ctx, Change{
			RideID:      r.ID,
			FromVersion: r.Version,
			Bookings:    []*Booking{b},
			Events:      []BookingEvent{{RideID: r.ID, BookingID: b.ID, FromStatus: string(from), ToStatus: string(b.Status), Actor: ActorSystem, Reason: reason, CreatedAt: now}},
		})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, ErrConflict
}

// MarkPaid records an external payment capture against the booking.
func (s *BookingService) MarkPaid(ctx context.Context, bookingID types.ID) (*Booking, error) {
	for i := 0; i < applyRetries; i++ {
		b, r, err := s.bookingAndRide(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if b.PaymentStatus == PaymentPaid {
			return b, nil
		}
		if b.PaymentStatus == PaymentRefunded {
			return nil, fmt.Errorf("%w: booking %s was already refunded", ErrConflict, b.ID)
		}
		if b.Status.Terminal() {
			return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
		}
		b.PaymentStatus = PaymentPaid
		b.UpdatedAt = time.Now().UTC()
		err = s.store.Apply(ctx, Change{RideID: r.ID, FromVersion: r.Version, Bookings: []*Booking{b}})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, ErrConflict
}

// MarkRefund flags a paid booking as refunded in full. Used by the
// coordinator when compensation fails mid-reassignment.
func (s *BookingService) MarkRefund(ctx context.Context, bookingID types.ID) (*Booking, error) {
	for i := 0; i < applyRetries; i++ {
		b, r, err := s.bookingAndRide(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if b.PaymentStatus != PaymentPaid {
			return b, nil
		}
		s.refundIfPaid(b)
		b.UpdatedAt = time.Now().UTC()
		err = s.store.Apply(ctx, Change{RideID: r.ID, FromVersion: r.Version, Bookings: []*Booking{b}})
		if errors.Is(err, ErrStaleRide) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, ErrConflict
}

func (s *BookingService) Get(ctx context.Context, bookingID types.ID) (*Booking, error) {
	return s.store.GetBooking(ctx, bookingID)
}

func (s *BookingService) ListForRide(ctx context.Context, rideID types.ID) ([]*Booking, error) {
	view, err := s.store.Snapshot(ctx, rideID)
	if err != nil {
		return nil, err
	}
	return view.Bookings, nil
}

func (s *BookingService) ListForPassenger(ctx context.Context, passengerID types.ID) ([]*Booking, error) {
	return s.store.ListBookingsByPassenger(ctx, passengerID)
}

func (s *BookingService) bookingAndRide(ctx context.Context, bookingID types.ID) (*Booking, *Ride, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.store.GetRide(ctx, b.RideID)
	if err != nil {
		return nil, nil, err
	}
	return b, r, nil
}

// refundIfPaid reports whether a refund was recorded.
func (s *BookingService) refundIfPaid(b *Booking) bool {
	if b.PaymentStatus != PaymentPaid {
		return false
	}
	b.PaymentStatus = PaymentRefunded
	b.RefundAmount = b.TotalPrice
	return true
}
