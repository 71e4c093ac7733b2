// README: Reassignment coordinator: drives every booking of a cancelled ride to a terminal outcome.
package reassign

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"ridepool/internal/config"
	"ridepool/internal/events"
	"ridepool/internal/maps"
	"ridepool/internal/modules/ride"
	"ridepool/internal/types"
)

// Coordinator relocates displaced passengers onto comparable rides. A
// passenger who cannot be relocated is cancelled with a full refund; one who
// was already delivered is finalized. Either way no booking of a cancelled
// ride stays in a live status.
type Coordinator struct {
	store    ride.Store
	bookings *ride.BookingService
	alloc    *ride.SeatAllocator
	bus      ride.Notifier
	cfg      config.ReassignConfig
	log      *logrus.Logger
}

func NewCoordinator(store ride.Store, bookings *ride.BookingService, alloc *ride.SeatAllocator, bus ride.Notifier, cfg config.ReassignConfig, log *logrus.Logger) *Coordinator {
	return &Coordinator{store: store, bookings: bookings, alloc: alloc, bus: bus, cfg: cfg, log: log}
}

func (c *Coordinator) emit(e events.Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(e)
}

// RideCancelled processes every non-terminal booking of the ride. Failures
// on one booking do not stop the others; the first error comes back to the
// caller after the sweep.
func (c *Coordinator) RideCancelled(ctx context.Context, rideID types.ID, reason string) error {
	view, err := c.store.Snapshot(ctx, rideID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, b := range view.Bookings {
		if b.Status.Terminal() {
			continue
		}
		if err := c.relocate(ctx, view.Ride, b, reason); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"ride_id":    rideID,
				"booking_id": b.ID,
			}).Error("relocation failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Coordinator) relocate(ctx context.Context, cancelled *ride.Ride, b *ride.Booking, reason string) error {
	switch b.Status {
	case ride.BookingStatusDroppedOff:
		// Delivered; only the paperwork is open.
		_, err := c.bookings.FinalizeDelivered(ctx, b.ID, reason)
		return err
	case ride.BookingStatusPending, ride.BookingStatusConfirmed, ride.BookingStatusPickupPending:
		// Not yet aboard; a comparable ride can still take them.
	default:
		// Aboard the cancelled ride. No other driver can pick them up
		// mid-trip, so close out with a refund.
		return c.cancelWithRefund(ctx, cancelled, b, reason)
	}

	candidate, err := c.secureCandidate(ctx, cancelled, b)
	if err != nil {
		return err
	}
	if candidate == nil {
		return c.cancelWithRefund(ctx, cancelled, b, reason)
	}

	// Terminate the displaced booking before the replacement exists so the
	// passenger never holds two live bookings.
	if _, err := c.bookings.CancelDisplaced(ctx, b.ID, reason, false); err != nil {
		if rerr := c.alloc.Release(ctx, candidate.ID, b.SeatsBooked); rerr != nil {
			c.log.WithError(rerr).WithField("ride_id", candidate.ID).Error("seat release after failed displacement")
		}
		return err
	}

	repl, err := c.bookings.CreateReplacement(ctx, b, candidate.ID)
	if err != nil {
		// The candidate went away between the hold and the write. The
		// original is already cancelled, so fall back to the refund path.
		c.log.WithError(err).WithFields(logrus.Fields{
			"booking_id":   b.ID,
			"candidate_id": candidate.ID,
		}).Error("replacement write failed, refunding")
		if rerr := c.alloc.Release(ctx, candidate.ID, b.SeatsBooked); rerr != nil {
			c.log.WithError(rerr).WithField("ride_id", candidate.ID).Error("seat release after failed replacement")
		}
		refunded := false
		if got, merr := c.bookings.MarkRefund(ctx, b.ID); merr != nil {
			c.log.WithError(merr).WithField("booking_id", b.ID).Error("refund after failed replacement")
		} else {
			refunded = got.PaymentStatus == ride.PaymentRefunded
		}
		c.emit(events.Event{
			Kind:        events.KindRideCancelled,
			RideID:      cancelled.ID,
			BookingID:   b.ID,
			PassengerID: b.PassengerID,
			Payload:     map[string]any{"subtype": events.SubtypeNoAlternative, "reason": reason, "refunded": refunded},
		})
		return nil
	}

	c.emit(events.Event{
		Kind:        events.KindBookingReassigned,
		RideID:      repl.RideID,
		BookingID:   repl.ID,
		PassengerID: repl.PassengerID,
		DriverID:    candidate.DriverID,
		Payload: map[string]any{
			"original_booking_id": b.ID,
			"original_ride_id":    cancelled.ID,
			"status":              repl.Status,
			"departure_at":        candidate.DepartureAt,
		},
	})
	c.emit(events.Event{
		Kind:        events.KindNewBooking,
		RideID:      candidate.ID,
		BookingID:   repl.ID,
		PassengerID: repl.PassengerID,
		DriverID:    candidate.DriverID,
		Payload:     map[string]any{"seats_booked": repl.SeatsBooked, "reassigned": true},
	})
	c.emit(events.Event{
		Kind:        events.KindRideCancelled,
		RideID:      cancelled.ID,
		BookingID:   b.ID,
		PassengerID: b.PassengerID,
		Payload: map[string]any{
			"subtype":                events.SubtypeWithAlternative,
			"reason":                 reason,
			"replacement_booking_id": repl.ID,
			"replacement_ride_id":    candidate.ID,
		},
	})
	c.log.WithFields(logrus.Fields{
		"booking_id":     b.ID,
		"replacement_id": repl.ID,
		"ride_id":        cancelled.ID,
		"candidate_id":   candidate.ID,
	}).Info("booking reassigned")
	return nil
}

// secureCandidate searches for a comparable ride and holds the seats on it.
// A lost seat race triggers a rescan; nil means the marketplace has nothing
// suitable.
func (c *Coordinator) secureCandidate(ctx context.Context, cancelled *ride.Ride, b *ride.Booking) (*ride.Ride, error) {
	window := time.Duration(c.cfg.WindowMin) * time.Minute
	for attempt := 0; attempt < c.cfg.Attempts; attempt++ {
		rides, err := c.store.SearchRides(ctx, ride.SearchQuery{
			Status:        ride.RideStatusActive,
			DepartureFrom: cancelled.DepartureAt.Add(-window),
			DepartureTo:   cancelled.DepartureAt.Add(window),
			MinSeats:      b.SeatsBooked,
			ExcludeRide:   cancelled.ID,
			ExcludeDriver: cancelled.DriverID,
		})
		if err != nil {
			return nil, err
		}

		var near []*ride.Ride
		for _, r := range rides {
			if maps.HaversineKm(b.PickupPoint, r.Origin) > c.cfg.RadiusKm {
				continue
			}
			if maps.HaversineKm(b.DropoffPoint, r.Destination) > c.cfg.RadiusKm {
				continue
			}
			near = append(near, r)
		}
		if len(near) == 0 {
			return nil, nil
		}
		maps.SortByDistance(near, func(r *ride.Ride) float64 {
			return maps.HaversineKm(b.PickupPoint, r.Origin) + maps.HaversineKm(b.DropoffPoint, r.Destination)
		})

		best := near[0]
		_, err = c.alloc.Reserve(ctx, best.ID, b.SeatsBooked)
		if errors.Is(err, ride.ErrCapacityExceeded) || errors.Is(err, ride.ErrRideNotActive) || errors.Is(err, ride.ErrConflict) {
			c.log.WithFields(logrus.Fields{
				"candidate_id": best.ID,
				"attempt":      attempt + 1,
			}).Warn("lost candidate seats, rescanning")
			continue
		}
		if err != nil {
			return nil, err
		}
		return best, nil
	}
	return nil, nil
}

func (c *Coordinator) cancelWithRefund(ctx context.Context, cancelled *ride.Ride, b *ride.Booking, reason string) error {
	got, err := c.bookings.CancelDisplaced(ctx, b.ID, reason, true)
	if err != nil {
		return err
	}
	c.emit(events.Event{
		Kind:        events.KindRideCancelled,
		RideID:      cancelled.ID,
		BookingID:   b.ID,
		PassengerID: b.PassengerID,
		Payload: map[string]any{
			"subtype":  events.SubtypeNoAlternative,
			"reason":   reason,
			"refunded": got.PaymentStatus == ride.PaymentRefunded,
		},
	})
	c.log.WithFields(logrus.Fields{"booking_id": b.ID, "ride_id": cancelled.ID}).Info("booking cancelled, no alternative found")
	return nil
}
