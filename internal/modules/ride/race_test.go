package ride

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ridepool/internal/modules/otp"
	"ridepool/internal/types"
)

// Two passengers race for the last seats. Exactly one wins; the other gets
// a capacity error, never a double-debit.
func TestConcurrentCreate_LastSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 2, false)

	start := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			<-start
			_, err := f.bookings.Create(ctx, CreateCommand{
				RideID:         r.ID,
				PassengerID:    types.ID(fmt.Sprintf("passenger-%d", i)),
				SeatsBooked:    2,
				IdempotencyKey: fmt.Sprintf("key-%d", i),
			})
			results <- err
		}(i)
	}
	close(start)

	var won, capacity int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			won++
		case errors.Is(err, ErrCapacityExceeded):
			capacity++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || capacity != 1 {
		t.Fatalf("won=%d capacity=%d, want exactly one of each", won, capacity)
	}
	if seats := f.ride(t, r.ID).AvailableSeats; seats != 0 {
		t.Fatalf("available seats = %d, want 0", seats)
	}
}

// A client retry storm on one idempotency key yields one booking.
func TestConcurrentCreate_SameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)

	const n = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	ids := make(chan types.ID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			b, err := f.bookings.Create(ctx, CreateCommand{
				RideID:         r.ID,
				PassengerID:    "passenger-a",
				SeatsBooked:    2,
				IdempotencyKey: "shared-key",
			})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- b.ID
		}()
	}
	close(start)
	wg.Wait()
	close(ids)

	seen := map[types.ID]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("got %d distinct bookings, want 1", len(seen))
	}
	if seats := f.ride(t, r.ID).AvailableSeats; seats != 2 {
		t.Fatalf("available seats = %d, want 2 (debited once)", seats)
	}
	got, err := f.bookings.ListForPassenger(ctx, "passenger-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("passenger has %d bookings, want 1", len(got))
	}
}

// A correct code entered twice concurrently confirms the pickup once.
func TestConcurrentPickupConfirm(t *testing.T) {
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
	code := f.booking(t, b.ID).PickupCode

	start := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, err := f.bookings.ConfirmPickup(ctx, b.ID, "driver-1", code)
			results <- err
		}()
	}
	close(start)

	var won int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			won++
		case errors.Is(err, otp.ErrConsumed) || errors.Is(err, ErrInvalidTransition):
			// Loser saw either the consumed code or the already-advanced booking.
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("won=%d, want exactly 1", won)
	}
	if got := f.booking(t, b.ID).Status; got != BookingStatusPickedUp {
		t.Fatalf("status = %s, want PICKED_UP", got)
	}
}

// Concurrent releases and reserves keep the ledger inside [0, total].
func TestConcurrentSeatChurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.publish(t, 4, false)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.alloc.Reserve(ctx, r.ID, 1); err != nil {
				if !errors.Is(err, ErrCapacityExceeded) && !errors.Is(err, ErrConflict) {
					t.Errorf("reserve: %v", err)
				}
				return
			}
			if err := f.alloc.Release(ctx, r.ID, 1); err != nil && !errors.Is(err, ErrConflict) {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()

	got := f.ride(t, r.ID)
	if got.AvailableSeats < 0 || got.AvailableSeats > got.TotalSeats {
		t.Fatalf("ledger out of range: %d of %d", got.AvailableSeats, got.TotalSeats)
	}
}
