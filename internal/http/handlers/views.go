// README: Response shapes for rides and bookings.
package handlers

import (
	"time"

	"ridepool/internal/modules/ride"
	"ridepool/internal/types"
)

type rideView struct {
	ID             types.ID        `json:"ride_id"`
	DriverID       types.ID        `json:"driver_id"`
	Origin         types.Point     `json:"origin"`
	Destination    types.Point     `json:"destination"`
	Stops          []types.Point   `json:"stops,omitempty"`
	DistanceKm     float64         `json:"distance_km,omitempty"`
	DurationMin    int             `json:"duration_min,omitempty"`
	DepartureAt    time.Time       `json:"departure_at"`
	PricePerSeat   types.Money     `json:"price_per_seat"`
	TotalSeats     int             `json:"total_seats"`
	AvailableSeats int             `json:"available_seats"`
	InstantBook    bool            `json:"instant_book"`
	Status         ride.RideStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

func newRideView(r *ride.Ride) rideView {
	return rideView{
		ID:             r.ID,
		DriverID:       r.DriverID,
		Origin:         r.Origin,
		Destination:    r.Destination,
		Stops:          r.Stops,
		DistanceKm:     r.DistanceKm,
		DurationMin:    r.DurationMin,
		DepartureAt:    r.DepartureAt,
		PricePerSeat:   r.PricePerSeat,
		TotalSeats:     r.TotalSeats,
		AvailableSeats: r.AvailableSeats,
		InstantBook:    r.InstantBook,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
	}
}

func newRideViews(rs []*ride.Ride) []rideView {
	out := make([]rideView, 0, len(rs))
	for _, r := range rs {
		out = append(out, newRideView(r))
	}
	return out
}

type bookingView struct {
	ID                types.ID           `json:"booking_id"`
	RideID            types.ID           `json:"ride_id"`
	PassengerID       types.ID           `json:"passenger_id"`
	SeatsBooked       int                `json:"seats_booked"`
	Status            ride.BookingStatus `json:"status"`
	PickupPoint       types.Point        `json:"pickup_point"`
	DropoffPoint      types.Point        `json:"dropoff_point"`
	PickupCode        string             `json:"pickup_code,omitempty"`
	DropoffCode       string             `json:"dropoff_code,omitempty"`
	PickupVerifiedAt  *time.Time         `json:"pickup_verified_at,omitempty"`
	DropoffVerifiedAt *time.Time         `json:"dropoff_verified_at,omitempty"`
	TotalPrice        types.Money        `json:"total_price"`
	PaymentStatus     ride.PaymentStatus `json:"payment_status"`
	RefundAmount      *types.Money       `json:"refund_amount,omitempty"`
	IsReassignment    bool               `json:"is_reassignment,omitempty"`
	OriginalBookingID types.ID           `json:"original_booking_id,omitempty"`
	CancelReason      string             `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// newBookingView renders a booking. Handoff codes are shown only to the
// passenger who owns the booking; the driver verifies codes, never reads them.
func newBookingView(b *ride.Booking, withCodes bool) bookingView {
	v := bookingView{
		ID:                b.ID,
		RideID:            b.RideID,
		PassengerID:       b.PassengerID,
		SeatsBooked:       b.SeatsBooked,
		Status:            b.Status,
		PickupPoint:       b.PickupPoint,
		DropoffPoint:      b.DropoffPoint,
		PickupVerifiedAt:  b.PickupVerifiedAt,
		DropoffVerifiedAt: b.DropoffVerifiedAt,
		TotalPrice:        b.TotalPrice,
		PaymentStatus:     b.PaymentStatus,
		IsReassignment:    b.IsReassignment,
		OriginalBookingID: b.OriginalBookingID,
		CancelReason:      b.CancelReason,
		CreatedAt:         b.CreatedAt,
	}
	if withCodes {
		v.PickupCode = b.PickupCode
		v.DropoffCode = b.DropoffCode
	}
	if b.PaymentStatus == ride.PaymentRefunded {
		refund := b.RefundAmount
		v.RefundAmount = &refund
	}
	return v
}

func newBookingViews(bs []*ride.Booking, withCodes bool) []bookingView {
	out := make([]bookingView, 0, len(bs))
	for _, b := range bs {
		out = append(out, newBookingView(b, withCodes))
	}
	return out
}
