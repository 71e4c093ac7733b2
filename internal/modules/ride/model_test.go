package ride

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to BookingStatus
		want     bool
	}{
		{BookingStatusPending, BookingStatusConfirmed, true},
		{BookingStatusPending, BookingStatusRejected, true},
		{BookingStatusPending, BookingStatusCancelled, true},
		{BookingStatusConfirmed, BookingStatusPickupPending, true},
		{BookingStatusConfirmed, BookingStatusCancelled, true},
		{BookingStatusPickupPending, BookingStatusPickedUp, true},
		{BookingStatusPickupPending, BookingStatusCancelled, true},
		{BookingStatusPickedUp, BookingStatusInTransit, true},
		{BookingStatusPickedUp, BookingStatusDropoffPending, true},
		{BookingStatusInTransit, BookingStatusDropoffPending, true},
		{BookingStatusDropoffPending, BookingStatusDroppedOff, true},
		{BookingStatusDroppedOff, BookingStatusCompleted, true},

		{BookingStatusPending, BookingStatusPickedUp, false},
		{BookingStatusPending, BookingStatusPickupPending, false},
		{BookingStatusConfirmed, BookingStatusPending, false},
		{BookingStatusConfirmed, BookingStatusRejected, false},
		{BookingStatusPickedUp, BookingStatusConfirmed, false},
		{BookingStatusInTransit, BookingStatusPickedUp, false},
		{BookingStatusDroppedOff, BookingStatusCancelled, false},
		{BookingStatusCompleted, BookingStatusCancelled, false},
		{BookingStatusCancelled, BookingStatusConfirmed, false},
		{BookingStatusRejected, BookingStatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransitionRide(t *testing.T) {
	cases := []struct {
		from, to RideStatus
		want     bool
	}{
		{RideStatusActive, RideStatusInProgress, true},
		{RideStatusActive, RideStatusCancelled, true},
		{RideStatusInProgress, RideStatusCompleted, true},
		{RideStatusInProgress, RideStatusCancelled, true},

		{RideStatusActive, RideStatusCompleted, false},
		{RideStatusInProgress, RideStatusActive, false},
		{RideStatusCompleted, RideStatusActive, false},
		{RideStatusCompleted, RideStatusCancelled, false},
		{RideStatusCancelled, RideStatusActive, false},
	}
	for _, tc := range cases {
		if got := CanTransitionRide(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransitionRide(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSeatHolding(t *testing.T) {
	holding := []BookingStatus{
		BookingStatusPending, BookingStatusConfirmed, BookingStatusPickupPending,
		BookingStatusPickedUp, BookingStatusInTransit, BookingStatusDropoffPending,
	}
	for _, s := range holding {
		if !s.SeatHolding() {
			t.Errorf("%s should hold seats", s)
		}
	}
	released := []BookingStatus{
		BookingStatusDroppedOff, BookingStatusCompleted, BookingStatusCancelled, BookingStatusRejected,
	}
	for _, s := range released {
		if s.SeatHolding() {
			t.Errorf("%s should not hold seats", s)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []BookingStatus{BookingStatusCompleted, BookingStatusCancelled, BookingStatusRejected} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []BookingStatus{BookingStatusPending, BookingStatusDroppedOff, BookingStatusInTransit} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if !RideStatusCompleted.Terminal() || !RideStatusCancelled.Terminal() {
		t.Error("completed and cancelled rides are terminal")
	}
	if RideStatusActive.Terminal() || RideStatusInProgress.Terminal() {
		t.Error("active and in-progress rides are not terminal")
	}
}

func TestHeldSeats(t *testing.T) {
	bookings := []*Booking{
		{SeatsBooked: 2, Status: BookingStatusConfirmed},
		{SeatsBooked: 1, Status: BookingStatusPickedUp},
		{SeatsBooked: 3, Status: BookingStatusDroppedOff},
		{SeatsBooked: 2, Status: BookingStatusCancelled},
	}
	if got := HeldSeats(bookings); got != 3 {
		t.Errorf("HeldSeats = %d, want 3", got)
	}
}

func TestNewID(t *testing.T) {
	a, b := newID(), newID()
	if len(a) != 32 {
		t.Errorf("id length = %d, want 32", len(a))
	}
	if a == b {
		t.Error("ids should not collide")
	}
}
