// README: Lifecycle event contract shared by the bus, sinks, and socket gateway.
package events

import (
	"time"

	"github.com/google/uuid"

	"ridepool/internal/types"
)

type Kind string

const (
	KindNewBookingRequest Kind = "new-booking-request"
	KindBookingConfirmed  Kind = "booking-confirmed"
	KindBookingCancelled  Kind = "booking-cancelled"
	KindPickupConfirmed   Kind = "pickup-confirmed"
	KindDropoffConfirmed  Kind = "dropoff-confirmed"
	KindRideStatusUpdated Kind = "ride-status-updated"
	KindBookingReassigned Kind = "booking-reassigned"
	KindRideCancelled     Kind = "ride-cancelled"
	KindNewBooking        Kind = "new-booking"
)

// ride-cancelled payload subtypes.
const (
	SubtypeWithAlternative = "with_alternative"
	SubtypeNoAlternative   = "no_alternative"
)

// Event is one lifecycle transition. PassengerID and DriverID are recipient
// hints for per-user delivery; Payload carries kind-specific fields. Consumers
// dedupe on ID: delivery is at-least-once.
type Event struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	RideID      types.ID       `json:"ride_id,omitempty"`
	BookingID   types.ID       `json:"booking_id,omitempty"`
	PassengerID types.ID       `json:"passenger_id,omitempty"`
	DriverID    types.ID       `json:"driver_id,omitempty"`
	At          time.Time      `json:"at"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (e Event) withDefaults() Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}
