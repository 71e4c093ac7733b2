// README: Shared fixture for handler tests; wires real services over the in-memory store.
package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ridepool/internal/auth"
	httptransport "ridepool/internal/http"
	"ridepool/internal/modules/otp"
	"ridepool/internal/modules/ride"
	"ridepool/internal/ws"
)

type env struct {
	router   http.Handler
	tokens   *auth.Manager
	rides    *ride.RideService
	bookings *ride.BookingService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := ride.NewMemStore()
	alloc := ride.NewSeatAllocator(store)
	codes := otp.NewService(otp.NewMemStore(), nil, log)
	bookings := ride.NewBookingService(store, alloc, codes, nil, log)
	rides := ride.NewRideService(store, codes, nil, nil, nil, log)
	tokens := auth.NewManager("handler-test-secret")

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Rides:    rides,
		Bookings: bookings,
		Tokens:   tokens,
		Hub:      ws.NewHub(log),
		Log:      log,
	})
	return &env{router: router, tokens: tokens, rides: rides, bookings: bookings}
}

func (e *env) token(t *testing.T, uid, role string) string {
	t.Helper()
	tok, err := e.tokens.Generate(uid, role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func (e *env) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// Response shapes covering only the fields the tests assert on.

type rideResp struct {
	RideID         string `json:"ride_id"`
	DriverID       string `json:"driver_id"`
	Status         string `json:"status"`
	TotalSeats     int    `json:"total_seats"`
	AvailableSeats int    `json:"available_seats"`
	InstantBook    bool   `json:"instant_book"`
}

type bookingResp struct {
	BookingID     string `json:"booking_id"`
	RideID        string `json:"ride_id"`
	PassengerID   string `json:"passenger_id"`
	SeatsBooked   int    `json:"seats_booked"`
	Status        string `json:"status"`
	PickupCode    string `json:"pickup_code"`
	DropoffCode   string `json:"dropoff_code"`
	PaymentStatus string `json:"payment_status"`
}

type rideListResp struct {
	Rides []rideResp `json:"rides"`
}

func futureDeparture() string {
	return time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
}

func publishBody(instant bool, seats int) map[string]any {
	return map[string]any{
		"origin":         map[string]float64{"lat": 37.7749, "lng": -122.4194},
		"destination":    map[string]float64{"lat": 37.3382, "lng": -121.8863},
		"departure_at":   futureDeparture(),
		"price_per_seat": map[string]any{"amount": 1500, "currency": "USD"},
		"total_seats":    seats,
		"instant_book":   instant,
	}
}

// publishRide creates a ride over HTTP as the given driver and fails the test
// on anything but a 201.
func (e *env) publishRide(t *testing.T, driverTok string, instant bool, seats int) rideResp {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/rides", publishBody(instant, seats), driverTok)
	if w.Code != http.StatusCreated {
		t.Fatalf("publish ride: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var r rideResp
	decode(t, w, &r)
	return r
}

// createBooking books seats over HTTP as the given passenger.
func (e *env) createBooking(t *testing.T, passengerTok, rideID string, seats int, key string) bookingResp {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/bookings", map[string]any{
		"ride_id":         rideID,
		"seats_booked":    seats,
		"idempotency_key": key,
	}, passengerTok)
	if w.Code != http.StatusCreated {
		t.Fatalf("create booking: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var b bookingResp
	decode(t, w, &b)
	return b
}

// getBooking fetches a booking as the given caller.
func (e *env) getBooking(t *testing.T, tok, bookingID string) bookingResp {
	t.Helper()
	w := e.do(t, http.MethodGet, "/api/bookings/"+bookingID, nil, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("get booking: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var b bookingResp
	decode(t, w, &b)
	return b
}
