// README: Ride and Booking aggregates, status definitions, and transition tables.
package ride

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"ridepool/internal/types"
)

type RideStatus string

const (
	RideStatusActive     RideStatus = "ACTIVE"
	RideStatusInProgress RideStatus = "IN_PROGRESS"
	RideStatusCompleted  RideStatus = "COMPLETED"
	RideStatusCancelled  RideStatus = "CANCELLED"
)

type BookingStatus string

const (
	// BookingStatusNone is only used as the from-status of creation events.
	BookingStatusNone           BookingStatus = "NONE"
	BookingStatusPending        BookingStatus = "PENDING"
	BookingStatusConfirmed      BookingStatus = "CONFIRMED"
	BookingStatusPickupPending  BookingStatus = "PICKUP_PENDING"
	BookingStatusPickedUp       BookingStatus = "PICKED_UP"
	BookingStatusInTransit      BookingStatus = "IN_TRANSIT"
	BookingStatusDropoffPending BookingStatus = "DROPOFF_PENDING"
	BookingStatusDroppedOff     BookingStatus = "DROPPED_OFF"
	BookingStatusCompleted      BookingStatus = "COMPLETED"
	BookingStatusCancelled      BookingStatus = "CANCELLED"
	BookingStatusRejected       BookingStatus = "REJECTED"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Actor types recorded on state events.
const (
	ActorPassenger = "passenger"
	ActorDriver    = "driver"
	ActorSystem    = "system"
)

var (
	ErrCapacityExceeded  = errors.New("seat capacity exceeded")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDuplicateRequest  = errors.New("idempotency key reused with a different payload")
	ErrRideNotActive     = errors.New("ride is not accepting bookings")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("ride state conflict")
	ErrBadRequest        = errors.New("bad request")
	ErrForbidden         = errors.New("caller does not own this resource")
	// ErrStaleRide is returned by Store.Apply when the ride version moved;
	// services retry on it and surface ErrConflict only on exhaustion.
	ErrStaleRide = errors.New("ride version changed")
)

type Ride struct {
	ID             types.ID
	DriverID       types.ID
	Origin         types.Point
	Destination    types.Point
	Stops          []types.Point
	DistanceKm     float64
	DurationMin    int
	DepartureAt    time.Time
	PricePerSeat   types.Money
	TotalSeats     int
	AvailableSeats int
	InstantBook    bool
	Status         RideStatus
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Booking struct {
	ID                types.ID
	RideID            types.ID
	PassengerID       types.ID
	SeatsBooked       int
	Status            BookingStatus
	PickupPoint       types.Point
	DropoffPoint      types.Point
	PickupCode        string
	PickupVerifiedAt  *time.Time
	DropoffCode       string
	DropoffVerifiedAt *time.Time
	TotalPrice        types.Money
	PaymentStatus     PaymentStatus
	RefundAmount      types.Money
	IdempotencyKey    string
	IsReassignment    bool
	OriginalBookingID types.ID
	CancelReason      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BookingEvent is one row of the append-only state log. BookingID is empty
// for ride-level transitions.
type BookingEvent struct {
	ID         int64
	RideID     types.ID
	BookingID  types.ID
	FromStatus string
	ToStatus   string
	Actor      string
	Reason     string
	CreatedAt  time.Time
}

// AllowedTransitions represents the booking state flow as code. The
// CANCELLED edges out of in-progress statuses belong to the reassignment
// fan-out; the public cancel operation is limited to PENDING and CONFIRMED.
var AllowedTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:        {BookingStatusConfirmed, BookingStatusRejected, BookingStatusCancelled},
	BookingStatusConfirmed:      {BookingStatusPickupPending, BookingStatusCancelled},
	BookingStatusPickupPending:  {BookingStatusPickedUp, BookingStatusCancelled},
	BookingStatusPickedUp:       {BookingStatusInTransit, BookingStatusDropoffPending, BookingStatusCancelled},
	BookingStatusInTransit:      {BookingStatusDropoffPending, BookingStatusCancelled},
	BookingStatusDropoffPending: {BookingStatusDroppedOff, BookingStatusCancelled},
	BookingStatusDroppedOff:     {BookingStatusCompleted},
}

func CanTransition(from, to BookingStatus) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedRideTransitions represents the ride state flow as code.
var AllowedRideTransitions = map[RideStatus][]RideStatus{
	RideStatusActive:     {RideStatusInProgress, RideStatusCancelled},
	RideStatusInProgress: {RideStatusCompleted, RideStatusCancelled},
}

func CanTransitionRide(from, to RideStatus) bool {
	next, ok := AllowedRideTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

var seatHolding = map[BookingStatus]bool{
	BookingStatusPending:        true,
	BookingStatusConfirmed:      true,
	BookingStatusPickupPending:  true,
	BookingStatusPickedUp:       true,
	BookingStatusInTransit:      true,
	BookingStatusDropoffPending: true,
}

// SeatHolding reports whether a booking in this status still occupies ride
// capacity.
func (s BookingStatus) SeatHolding() bool { return seatHolding[s] }

// Terminal reports whether the booking can never transition again.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusCompleted || s == BookingStatusCancelled || s == BookingStatusRejected
}

// Terminal reports whether the ride can never transition again.
func (s RideStatus) Terminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// HeldSeats sums the seats of bookings still in a seat-holding status.
func HeldSeats(bookings []*Booking) int {
	var n int
	for _, b := range bookings {
		if b.Status.SeatHolding() {
			n += b.SeatsBooked
		}
	}
	return n
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}
