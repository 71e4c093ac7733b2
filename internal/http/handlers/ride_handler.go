// README: Ride handlers (publish, search, start, complete, cancel, listings).
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridepool/internal/auth"
	"ridepool/internal/modules/ride"
	"ridepool/internal/types"
)

type RideHandler struct {
	rides *ride.RideService
}

func NewRideHandler(svc *ride.RideService) *RideHandler {
	return &RideHandler{rides: svc}
}

type publishRideReq struct {
	Origin       types.Point   `json:"origin"`
	Destination  types.Point   `json:"destination"`
	Stops        []types.Point `json:"stops"`
	DepartureAt  time.Time     `json:"departure_at"`
	PricePerSeat types.Money   `json:"price_per_seat"`
	TotalSeats   int           `json:"total_seats"`
	InstantBook  bool          `json:"instant_book"`
}

func (h *RideHandler) Publish(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	var req publishRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.rides.Publish(c.Request.Context(), ride.PublishCommand{
		DriverID:     callerID(c),
		Origin:       req.Origin,
		Destination:  req.Destination,
		Stops:        req.Stops,
		DepartureAt:  req.DepartureAt,
		PricePerSeat: req.PricePerSeat,
		TotalSeats:   req.TotalSeats,
		InstantBook:  req.InstantBook,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, newRideView(r))
}

func (h *RideHandler) Search(c *gin.Context) {
	cmd := ride.SearchCommand{
		Origin: types.Point{
			Lat: queryFloat(c, "origin_lat"),
			Lng: queryFloat(c, "origin_lng"),
		},
		Destination: types.Point{
			Lat: queryFloat(c, "dest_lat"),
			Lng: queryFloat(c, "dest_lng"),
		},
		Seats:    queryInt(c, "seats"),
		RadiusKm: queryFloat(c, "radius_km"),
	}
	var ok bool
	if cmd.DepartureFrom, ok = queryTime(c, "from"); !ok {
		writeError(c, http.StatusBadRequest, "from must be RFC3339")
		return
	}
	if cmd.DepartureTo, ok = queryTime(c, "to"); !ok {
		writeError(c, http.StatusBadRequest, "to must be RFC3339")
		return
	}
	rides, err := h.rides.Search(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"rides": newRideViews(rides)})
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newRideView(r))
}

// ListBookings returns the ride with every booking on it. Only the ride's
// driver may read the full roster, and handoff codes stay hidden from them.
func (h *RideHandler) ListBookings(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	v, err := h.rides.Detail(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if v.Ride.DriverID != callerID(c) {
		writeError(c, http.StatusForbidden, "forbidden: not the ride driver")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"ride":     newRideView(v.Ride),
		"bookings": newBookingViews(v.Bookings, false),
	})
}

func (h *RideHandler) ListMine(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	rides, err := h.rides.ListByDriver(c.Request.Context(), callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"rides": newRideViews(rides)})
}

func (h *RideHandler) Start(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.rides.Start(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newRideView(r))
}

func (h *RideHandler) Complete(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.rides.Complete(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newRideView(r))
}

type cancelRideReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	if !requireRole(c, auth.RoleDriver) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelRideReq
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "driver_cancelled"
	}
	r, err := h.rides.Cancel(c.Request.Context(), id, callerID(c), req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newRideView(r))
}

func queryFloat(c *gin.Context, key string) float64 {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	if err != nil {
		return 0
	}
	return v
}

func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
