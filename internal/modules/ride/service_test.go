package ride

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"ridepool/internal/events"
	"ridepool/internal/modules/otp"
	"ridepool/internal/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// captureBus records published events for assertions.
type captureBus struct {
	mu  sync.Mutex
	got []events.Event
}

func (c *captureBus) Publish(e events.Event) events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, e)
	return e
}

func (c *captureBus) kinds() map[events.Kind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[events.Kind]int{}
	for _, e := range c.got {
		out[e.Kind]++
	}
	return out
}

type fixture struct {
	store    *MemStore
	alloc    *SeatAllocator
	codes    *otp.Service
	bus      *captureBus
	bookings *BookingService
	rides    *RideService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testLogger()
	store := NewMemStore()
	alloc := NewSeatAllocator(store)
	codes := otp.NewService(otp.NewMemStore(), nil, log)
	bus := &captureBus{}
	bookings := NewBookingService(store, alloc, codes, bus, log)
	rides := NewRideService(store, codes, bus, nil, nil, log)
	return &fixture{store: store, alloc: alloc, codes: codes, bus: bus, bookings: bookings, rides: rides}
}

func (f *fixture) publish(t *testing.T, seats int, instant bool) *Ride {
	t.Helper()
	r, err := f.rides.Publish(context.Background(), PublishCommand{
		DriverID:     "driver-1",
		Origin:       types.Point{Lat: 37.7749, Lng: -122.4194},
		Destination:  types.Point{Lat: 37.3382, Lng: -121.8863},
		DepartureAt:  time.Now().Add(2 * time.Hour),
		PricePerSeat: types.Money{Amount: 1500, Currency: "USD"},
		TotalSeats:   seats,
		InstantBook:  instant,
	})
	if err != nil {
		t.Fatalf("publish ride: %v", err)
	}
	return r
}

func (f *fixture) book(t *testing.T, rideID types.ID, passenger string, seats int, key string) *Booking {
	t.Helper()
	b, err := f.bookings.Create(context.Background(), CreateCommand{
		RideID:         rideID,
		PassengerID:    types.ID(passenger),
		SeatsBooked:    seats,
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("create booking for %s: %v", passenger, err)
	}
	return b
}

func (f *fixture) ride(t *testing.T, id types.ID) *Ride {
	t.Helper()
	r, err := f.store.GetRide(context.Background(), id)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	return r
}

func (f *fixture) booking(t *testing.T, id types.ID) *Booking {
	t.Helper()
	b, err := f.store.GetBooking(context.Background(), id)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	return b
}

// pickUp drives a confirmed booking through ride start and pickup handoff.
func (f *fixture) pickUp(t *testing.T, rideID, bookingID types.ID) *Booking {
	t.Helper()
	ctx := context.Background()
	if _, err := f.rides.Start(ctx, rideID, "driver-1"); err != nil {
		t.Fatalf("start ride: %v", err)
	}
	b := f.booking(t, bookingID)
	got, err := f.bookings.ConfirmPickup(ctx, b.ID, "driver-1", b.PickupCode)
	if err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	return got
}

func TestPublish_EmitsStatusUpdate(t *testing.T) {
	f := newFixture(t)
	r := f.publish(t, 4, false)

	if r.Status != RideStatusActive || r.AvailableSeats != 4 {
		t.Fatalf("published ride = %s with %d seats", r.Status, r.AvailableSeats)
	}
	if got := f.bus.kinds()[events.KindRideStatusUpdated]; got != 1 {
		t.Fatalf("ride-status-updated events = %d, want 1", got)
	}
}

func TestCreateBooking_ReservesSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)

	a := f.book(t, r.ID, "passenger-a", 3, "key-a")
	if a.Status != BookingStatusPending {
		t.Fatalf("status = %s, want PENDING", a.Status)
	}
	if got := f.ride(t, r.ID).AvailableSeats; got != 1 {
		t.Fatalf("available seats = %d, want 1", got)
	}

	_, err := f.bookings.Create(ctx, CreateCommand{RideID: r.ID, PassengerID: "passenger-b", SeatsBooked: 2, IdempotencyKey: "key-b"})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	if got := f.ride(t, r.ID).AvailableSeats; got != 1 {
		t.Fatalf("available seats after failed booking = %d, want 1", got)
	}

	f.book(t, r.ID, "passenger-c", 1, "key-c")
	if got := f.ride(t, r.ID).AvailableSeats; got != 0 {
		t.Fatalf("available seats = %d, want 0", got)
	}
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)

	cases := []struct {
		name string
		cmd  CreateCommand
		want error
	}{
		{"missing key", CreateCommand{RideID: r.ID, PassengerID: "p", SeatsBooked: 1}, ErrBadRequest},
		{"zero seats", CreateCommand{RideID: r.ID, PassengerID: "p", SeatsBooked: 0, IdempotencyKey: "k"}, ErrBadRequest},
		{"missing passenger", CreateCommand{RideID: r.ID, SeatsBooked: 1, IdempotencyKey: "k"}, ErrBadRequest},
		{"unknown ride", CreateCommand{RideID: "missing", PassengerID: "p", SeatsBooked: 1, IdempotencyKey: "k"}, ErrNotFound},
		{"driver books own ride", CreateCommand{RideID: r.ID, PassengerID: "driver-1", SeatsBooked: 1, IdempotencyKey: "k"}, ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.bookings.Create(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCreateBooking_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)

	first := f.book(t, r.ID, "passenger-a", 2, "retry-key")
	second, err := f.bookings.Create(ctx, CreateCommand{
		RideID:         r.ID,
		PassengerID:    "passenger-a",
		SeatsBooked:    2,
		IdempotencyKey: "retry-key",
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned %s, want original %s", second.ID, first.ID)
	}
	if got := f.ride(t, r.ID).AvailableSeats; got != 2 {
		t.Fatalf("available seats = %d, want 2 (debited once)", got)
	}
}

func TestCreateBooking_DuplicateKeyDifferentPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)

	f.book(t, r.ID, "passenger-a", 2, "retry-key")
	_, err := f.bookings.Create(ctx, CreateCommand{
		RideID:         r.ID,
		PassengerID:    "passenger-a",
		SeatsBooked:    3,
		IdempotencyKey: "retry-key",
	})
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("err = %v, want ErrDuplicateRequest", err)
	}
}

func TestCreateBooking_InstantBook(t *testing.T) {
	f := newFixture(t)
	r := f.publish(t, 4, true)

	b := f.book(t, r.ID, "passenger-a", 2, "key-a")
	if b.Status != BookingStatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", b.Status)
	}
	if got := f.ride(t, r.ID).AvailableSeats; got != 2 {
		t.Fatalf("available seats = %d, want 2", got)
	}
	if f.bus.kinds()[events.KindBookingConfirmed] != 1 {
		t.Fatal("expected a booking-confirmed event")
	}
}

func TestAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)
	b := f.book(t, r.ID, "passenger-a", 2, "key-a")

	if _, err := f.bookings.Accept(ctx, b.ID, "driver-2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign driver err = %v, want ErrForbidden", err)
	}

	got, err := f.bookings.Accept(ctx, b.ID, "driver-1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != BookingStatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", got.Status)
	}

	if _, err := f.bookings.Accept(ctx, b.ID, "driver-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second accept err = %v, want ErrInvalidTransition", err)
	}
}

func TestReject_ReturnsSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)
	b := f.book(t, r.ID, "passenger-a", 3, "key-a")

	got, err := f.bookings.Reject(ctx, b.ID, "driver-1", "full car")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != BookingStatusRejected {
		t.Fatalf("status = %s, want REJECTED", got.Status)
	}
	if got.CancelReason != "full car" {
		t.Fatalf("cancel reason = %q", got.CancelReason)
	}
	if seats := f.ride(t, r.ID).AvailableSeats; seats != 4 {
		t.Fatalf("available seats = %d, want 4", seats)
	}
	if f.bus.kinds()[events.KindBookingCancelled] != 1 {
		t.Fatal("expected a booking-cancelled event")
	}
}

func TestPassengerCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)
	b := f.book(t, r.ID, "passenger-a", 2, "key-a")

	if _, err := f.bookings.Cancel(ctx, b.ID, "passenger-b", "changed plans"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign passenger err = %v, want ErrForbidden", err)
	}

	got, err := f.bookings.Cancel(ctx, b.ID, "passenger-a", "changed plans")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != BookingStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if seats := f.ride(t, r.ID).AvailableSeats; seats != 4 {
		t.Fatalf("available seats = %d, want 4", seats)
	}

	if _, err := f.bookings.Cancel(ctx, b.ID, "passenger-a", "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second cancel err = %v, want ErrInvalidTransition", err)
	}
}

func TestStartRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)
	confirmed := f.book(t, r.ID, "passenger-a", 2, "key-a")
	if _, err := f.bookings.Accept(ctx, confirmed.ID, "driver-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	stillPending := f.book(t, r.ID, "passenger-b", 1, "key-b")

	got, err := f.rides.Start(ctx, r.ID, "driver-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != RideStatusInProgress {
		t.Fatalf("ride status = %s, want IN_PROGRESS", got.Status)
	}

	a := f.booking(t, confirmed.ID)
	if a.Status != BookingStatusPickupPending {
		t.Fatalf("confirmed booking = %s, want PICKUP_PENDING", a.Status)
	}
	if len(a.PickupCode) != 4 {
		t.Fatalf("pickup code = %q, want 4 digits", a.PickupCode)
	}

	b := f.booking(t, stillPending.ID)
	if b.Status != BookingStatusCancelled {
		t.Fatalf("pending booking = %s, want CANCELLED", b.Status)
	}
	if b.CancelReason != "ride_departed" {
		t.Fatalf("cancel reason = %q, want ride_departed", b.CancelReason)
	}

	// 4 total, 2 held by the picked-up passenger, 1 returned by the expiry.
	if seats := f.ride(t, r.ID).AvailableSeats; seats != 2 {
		t.Fatalf("available seats = %d, want 2", seats)
	}
}

func TestStartRide_RequiresConfirmedBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)
	f.book(t, r.ID, "passenger-a", 1, "key-a")

	if _, err := f.rides.Start(ctx, r.ID, "driver-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if got := f.ride(t, r.ID).Status; got != RideStatusActive {
		t.Fatalf("ride status = %s, want ACTIVE", got)
	}
}

func TestConfirmPickup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)
	b := f.book(t, r.ID, "passenger-a", 2, "key-a")
	if _, err := f.bookings.Accept(ctx, b.ID, "driver-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.rides.Start(ctx, r.ID, "driver-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	b = f.booking(t, b.ID)

	// Wrong code: booking stays put.
	wrong := "0000"
	if wrong == b.PickupCode {
		wrong = "0001"
	}
	if _, err := f.bookings.ConfirmPickup(ctx, b.ID, "driver-1", wrong); !errors.Is(err, otp.ErrMismatch) {
		t.Fatalf("wrong code err = %v, want otp.ErrMismatch", err)
	}
	if got := f.booking(t, b.ID).Status; got != BookingStatusPickupPending {
		t.Fatalf("status after mismatch = %s, want PICKUP_PENDING", got)
	}

	got, err := f.bookings.ConfirmPickup(ctx, b.ID, "driver-1", b.PickupCode)
	if err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	if got.Status != BookingStatusPickedUp {
		t.Fatalf("status = %s, want PICKED_UP", got.Status)
	}
	if got.PickupVerifiedAt == nil {
		t.Fatal("pickup_verified_at not set")
	}

	// Replay: the handoff already happened.
	if _, err := f.bookings.ConfirmPickup(ctx, b.ID, "driver-1", b.PickupCode); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("replay err = %v, want ErrInvalidTransition", err)
	}
	if f.bus.kinds()[events.KindPickupConfirmed] != 1 {
		t.Fatal("expected exactly one pickup-confirmed event")
	}
}

func TestDropoffFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)
	b := f.book(t, r.ID, "passenger-a", 2, "key-a")
	if _, err := f.bookings.Accept(ctx, b.ID, "driver-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	b = f.pickUp(t, r.ID, b.ID)

	b, err := f.bookings.StartTransit(ctx, b.ID, "driver-1")
	if err != nil {
		t.Fatalf("start transit: %v", err)
	}
	if b.Status != BookingStatusInTransit {
		t.Fatalf("status = %s, want IN_TRANSIT", b.Status)
	}

	b, err = f.bookings.BeginDropoff(ctx, b.ID, "driver-1")
	if err != nil {
		t.Fatalf("begin dropoff: %v", err)
	}
	if b.Status != BookingStatusDropoffPending {
		t.Fatalf("status = %s, want DROPOFF_PENDING", b.Status)
	}
	if len(b.DropoffCode) != 4 {
		t.Fatalf("dropoff code = %q, want 4 digits", b.DropoffCode)
	}
	// Seats stay held until the dropoff is confirmed.
	if seats := f.ride(t, r.ID).AvailableSeats; seats != 2 {
		t.Fatalf("available seats = %d, want 2", seats)
	}

	wrong := "0000"
	if wrong == b.DropoffCode {
		wrong = "0001"
	}
	if _, err := f.bookings.ConfirmDropoff(ctx, b.ID, "driver-1", wrong); !errors.Is(err, otp.ErrMismatch) {
		t.Fatalf("wrong code err = %v, want otp.ErrMismatch", err)
	}

	b, err = f.bookings.ConfirmDropoff(ctx, b.ID, "driver-1", b.DropoffCode)
	if err != nil {
		t.Fatalf("confirm dropoff: %v", err)
	}
	if b.Status != BookingStatusDroppedOff {
		t.Fatalf("status = %s, want DROPPED_OFF", b.Status)
	}
	if b.DropoffVerifiedAt == nil {
		t.Fatal("dropoff_verified_at not set")
	}
	if seats := f.ride(t, r.ID).AvailableSeats; seats != 4 {
		t.Fatalf("available seats after dropoff = %d, want 4", seats)
	}
}

func TestCompleteRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)
	b := f.book(t, r.ID, "passenger-a", 2, "key-a")
	if _, err := f.bookings.Accept(ctx, b.ID, "driver-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	b = f.pickUp(t, r.ID, b.ID)

	// A passenger still aboard blocks completion.
	if _, err := f.rides.Complete(ctx, r.ID, "driver-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete with rider aboard err = %v, want ErrInvalidTransition", err)
	}

	if _, err := f.bookings.BeginDropoff(ctx, b.ID, "driver-1"); err != nil {
		t.Fatalf("begin dropoff: %v", err)
	}
	b = f.booking(t, b.ID)
	if _, err := f.bookings.ConfirmDropoff(ctx, b.ID, "driver-1", b.DropoffCode); err != nil {
		t.Fatalf("confirm dropoff: %v", err)
	}

	got, err := f.rides.Complete(ctx, r.ID, "driver-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != RideStatusCompleted {
		t.Fatalf("ride status = %s, want COMPLETED", got.Status)
	}
	if status := f.booking(t, b.ID).Status; status != BookingStatusCompleted {
		t.Fatalf("booking status = %s, want COMPLETED", status)
	}

	// No further transitions out of a completed ride.
	if _, err := f.rides.Start(ctx, r.ID, "driver-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start after complete err = %v, want ErrInvalidTransition", err)
	}
}

func TestReissueCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)
	b := f.book(t, r.ID, "passenger-a", 1, "key-a")
	if _, err := f.bookings.Accept(ctx, b.ID, "driver-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.rides.Start(ctx, r.ID, "driver-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	old := f.booking(t, b.ID).PickupCode

	reissued, err := f.bookings.ReissueCode(ctx, b.ID, "passenger-a")
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if reissued.PickupCode == old {
		t.Fatal("reissue should rotate the code")
	}

	// The old code is dead; the new one completes the handoff.
	if _, err := f.bookings.ConfirmPickup(ctx, b.ID, "driver-1", old); err == nil {
		t.Fatal("old code should not verify")
	}
	if _, err := f.bookings.ConfirmPickup(ctx, b.ID, "driver-1", reissued.PickupCode); err != nil {
		t.Fatalf("confirm with reissued code: %v", err)
	}
}

func TestRideCancel_WithoutCoordinator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)

	got, err := f.rides.Cancel(ctx, r.ID, "driver-1", "sick")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != RideStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}

	if _, err := f.rides.Cancel(ctx, r.ID, "driver-1", "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second cancel err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.bookings.Create(ctx, CreateCommand{RideID: r.ID, PassengerID: "p", SeatsBooked: 1, IdempotencyKey: "k"}); !errors.Is(err, ErrRideNotActive) {
		t.Fatalf("booking a cancelled ride err = %v, want ErrRideNotActive", err)
	}
}

func TestCancelDisplaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)
	b := f.book(t, r.ID, "passenger-a", 2, "key-a")
	if _, err := f.bookings.Accept(ctx, b.ID, "driver-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.bookings.MarkPaid(ctx, b.ID); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	got, err := f.bookings.CancelDisplaced(ctx, b.ID, "ride_cancelled", true)
	if err != nil {
		t.Fatalf("cancel displaced: %v", err)
	}
	if got.Status != BookingStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if got.PaymentStatus != PaymentRefunded {
		t.Fatalf("payment status = %s, want REFUNDED", got.PaymentStatus)
	}
	if got.RefundAmount != got.TotalPrice {
		t.Fatalf("refund = %+v, want %+v", got.RefundAmount, got.TotalPrice)
	}
	if seats := f.ride(t, r.ID).AvailableSeats; seats != 4 {
		t.Fatalf("available seats = %d, want 4", seats)
	}

	// Terminal bookings are returned as-is.
	again, err := f.bookings.CancelDisplaced(ctx, b.ID, "ride_cancelled", true)
	if err != nil {
		t.Fatalf("repeat cancel displaced: %v", err)
	}
	if again.Status != BookingStatusCancelled {
		t.Fatalf("status = %s", again.Status)
	}
}

func TestCreateReplacement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.publish(t, 4, false)
	original := f.book(t, r1.ID, "passenger-a", 2, "key-a")

	r2, err := f.rides.Publish(ctx, PublishCommand{
		DriverID:     "driver-2",
		Origin:       types.Point{Lat: 37.7755, Lng: -122.4190},
		Destination:  types.Point{Lat: 37.3390, Lng: -121.8860},
		DepartureAt:  time.Now().Add(2 * time.Hour),
		PricePerSeat: types.Money{Amount: 1800, Currency: "USD"},
		TotalSeats:   3,
	})
	if err != nil {
		t.Fatalf("publish candidate: %v", err)
	}
	if _, err := f.alloc.Reserve(ctx, r2.ID, original.SeatsBooked); err != nil {
		t.Fatalf("reserve on candidate: %v", err)
	}

	repl, err := f.bookings.CreateReplacement(ctx, original, r2.ID)
	if err != nil {
		t.Fatalf("create replacement: %v", err)
	}
	// The candidate is not instant-book, yet the replacement lands CONFIRMED:
	// seats are already held, and a displaced passenger never waits on a
	// second driver decision.
	if repl.RideID != r2.ID || repl.Status != BookingStatusConfirmed {
		t.Fatalf("replacement = %s on %s, want CONFIRMED on %s", repl.Status, repl.RideID, r2.ID)
	}
	if !repl.IsReassignment || repl.OriginalBookingID != original.ID {
		t.Fatalf("replacement lineage = %v/%s", repl.IsReassignment, repl.OriginalBookingID)
	}
	if repl.TotalPrice.Amount != 3600 {
		t.Fatalf("replacement price = %d, want candidate pricing 3600", repl.TotalPrice.Amount)
	}
	// No extra seats move: the coordinator's hold already paid for them.
	if seats := f.ride(t, r2.ID).AvailableSeats; seats != 1 {
		t.Fatalf("candidate seats = %d, want 1", seats)
	}

	// Idempotent under coordinator restarts.
	again, err := f.bookings.CreateReplacement(ctx, original, r2.ID)
	if err != nil {
		t.Fatalf("repeat create replacement: %v", err)
	}
	if again.ID != repl.ID {
		t.Fatalf("second replacement %s, want %s", again.ID, repl.ID)
	}
}

func TestAllocator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 3, false)

	if _, err := f.alloc.Reserve(ctx, r.ID, 5); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("over-reserve err = %v, want ErrCapacityExceeded", err)
	}
	if _, err := f.alloc.Reserve(ctx, r.ID, 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if seats := f.ride(t, r.ID).AvailableSeats; seats != 1 {
		t.Fatalf("available = %d, want 1", seats)
	}
	if err := f.alloc.Release(ctx, r.ID, 2); err != nil {
		t.Fatalf("release: %v", err)
	}
	if seats := f.ride(t, r.ID).AvailableSeats; seats != 3 {
		t.Fatalf("available = %d, want 3", seats)
	}

	if _, err := f.rides.Cancel(ctx, r.ID, "driver-1", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.alloc.Reserve(ctx, r.ID, 1); !errors.Is(err, ErrRideNotActive) {
		t.Fatalf("reserve on cancelled ride err = %v, want ErrRideNotActive", err)
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	near := f.publish(t, 4, false)
	if _, err := f.rides.Publish(ctx, PublishCommand{
		DriverID:     "driver-3",
		Origin:       types.Point{Lat: 40.7128, Lng: -74.0060},
		Destination:  types.Point{Lat: 42.3601, Lng: -71.0589},
		DepartureAt:  time.Now().Add(2 * time.Hour),
		PricePerSeat: types.Money{Amount: 4000, Currency: "USD"},
		TotalSeats:   4,
	}); err != nil {
		t.Fatalf("publish far ride: %v", err)
	}

	got, err := f.rides.Search(ctx, SearchCommand{
		Origin:      types.Point{Lat: 37.7750, Lng: -122.4195},
		Destination: types.Point{Lat: 37.3380, Lng: -121.8860},
		Seats:       2,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != near.ID {
		t.Fatalf("search returned %d rides, want the nearby one", len(got))
	}

	// Without coordinates every active ride with seats comes back.
	all, err := f.rides.Search(ctx, SearchCommand{Seats: 2})
	if err != nil {
		t.Fatalf("search all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered search returned %d rides, want 2", len(all))
	}
}
